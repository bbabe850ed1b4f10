package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orders-ms/internal/service/grpc"
)

type fakeOrderClient struct {
	mu        sync.Mutex
	createErr error
	keys      []string
	finds     int
	cancels   int
}

func (f *fakeOrderClient) CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, _ ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		f.keys = append(f.keys, md.Get(idempotencyHeader)...)
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	resp := &grpcsvc.CreateOrderResponse{}
	resp.Order.ID = "order-" + time.Now().Format("150405.000000000")
	resp.Order.TotalItems = len(in.Items)
	return resp, nil
}

func (f *fakeOrderClient) FindOneOrder(context.Context, *grpcsvc.FindOneOrderRequest, ...grpc.CallOption) (*domain.OrderWithProducts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	return &domain.OrderWithProducts{}, nil
}

func (f *fakeOrderClient) ChangeOrderStatus(_ context.Context, in *grpcsvc.ChangeOrderStatusRequest, _ ...grpc.CallOption) (*domain.OrderWithProducts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Status != string(domain.OrderStatusCancelled) {
		return nil, status.Error(codes.InvalidArgument, "unexpected status")
	}
	f.cancels++
	return &domain.OrderWithProducts{}, nil
}

var _ orderClient = (*grpcsvc.OrderServiceClient)(nil)

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-mode=create-cancel", "-cancel-rate=50", "-products=3, 4", "-total=10"})
	require.NoError(t, err)
	assert.Equal(t, modeCreateCancel, cfg.mode)
	assert.Equal(t, 50, cfg.cancelRate)
	assert.Equal(t, []int{3, 4}, cfg.productIDs)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, 10, cfg.total)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string][]string{
		"mode":        {"-mode=pay"},
		"products":    {"-products=abc"},
		"no products": {"-products= , "},
		"concurrency": {"-concurrency=0"},
		"cancel rate": {"-cancel-rate=101"},
		"total":       {"-total=0"},
		"flag":        {"-nope"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args)
			require.Error(t, err)
		})
	}
}

func TestRunLoad_CreateFind(t *testing.T) {
	client := &fakeOrderClient{}
	cfg, err := parseConfig([]string{"-mode=create-find", "-total=20", "-concurrency=4"})
	require.NoError(t, err)

	result := runLoad(context.Background(), cfg, []orderClient{client})
	assert.EqualValues(t, 20, result.TotalScenarios)
	assert.EqualValues(t, 0, result.FailedScenarios)
	assert.Equal(t, 20, client.finds)
	assert.Len(t, client.keys, 20)
	assert.EqualValues(t, 20, result.Methods["CreateOrder"].Calls)
	assert.EqualValues(t, 20, result.Methods["FindOneOrder"].Calls)
}

func TestRunLoad_CreateCancelRate(t *testing.T) {
	client := &fakeOrderClient{}
	cfg, err := parseConfig([]string{"-mode=create-cancel", "-cancel-rate=25", "-total=100", "-concurrency=8"})
	require.NoError(t, err)

	result := runLoad(context.Background(), cfg, []orderClient{client})
	assert.EqualValues(t, 100, result.SuccessScenarios)
	assert.Equal(t, 25, client.cancels)
}

func TestRunLoad_FailuresAreCounted(t *testing.T) {
	client := &fakeOrderClient{createErr: status.Error(codes.Unavailable, "down")}
	cfg, err := parseConfig([]string{"-total=5", "-concurrency=2"})
	require.NoError(t, err)

	result := runLoad(context.Background(), cfg, []orderClient{client})
	assert.EqualValues(t, 5, result.FailedScenarios)
	assert.Equal(t, 1.0, result.ErrorRate)
	assert.EqualValues(t, 5, result.Methods["CreateOrder"].Codes[codes.Unavailable.String()])
}

func TestRunLoad_Duration(t *testing.T) {
	client := &fakeOrderClient{}
	cfg, err := parseConfig([]string{"-duration=50ms", "-concurrency=2"})
	require.NoError(t, err)

	result := runLoad(context.Background(), cfg, []orderClient{client})
	assert.Positive(t, result.TotalScenarios)
	assert.Zero(t, result.FailedScenarios)
}

func TestPercentileAndSummary(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 4.0, summary.Max)
	assert.Equal(t, 2.5, summary.Avg)
	assert.Zero(t, ratio(1, 0))
	assert.True(t, shouldCancelScenario(5, 100))
	assert.False(t, shouldCancelScenario(5, 0))
	assert.True(t, shouldCancelScenario(104, 5))
}

func TestWriteAndPrintReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMethod, 2*time.Millisecond, codes.OK)
	col.record("CreateOrder", time.Millisecond, codes.OK)
	result := col.buildReport(time.Now(), time.Second)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", result))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 1, decoded.TotalScenarios)

	require.Error(t, writeJSONReport("../escape.json", result))
	require.Error(t, writeJSONReport(".", result))

	var out bytes.Buffer
	printReport(&out, result, config{mode: modeCreate, total: 1})
	assert.Contains(t, out.String(), "mode=create run=count:1 scenarios=1 failed=0")
	assert.Contains(t, out.String(), "METHOD")
	assert.Regexp(t, `CreateOrder\s+1\s+0`, out.String())
}
