package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orders-ms/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders-ms/internal/storage/memory"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"
	require.Error(t, Run(context.Background(), cfg))
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = freeAddr(t)
	cfg.MetricsAddr = freeAddr(t)
	cfg.OutboxPollInterval = 20 * time.Millisecond
	cfg.PaymentDedup = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/livez", cfg.MetricsAddr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpcsvc.NewOrderServiceClient(conn)

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	created, err := client.CreateOrder(callCtx, &grpcsvc.CreateOrderRequest{
		Items: []domain.ItemInput{{ProductID: 2, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, created.Order.Status)
	assert.NotEmpty(t, created.PaymentSession)

	found, err := client.FindOneOrder(callCtx, &grpcsvc.FindOneOrderRequest{ID: created.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, created.Order.ID, found.ID)

	readyResp, err := http.Get(fmt.Sprintf("http://%s/readyz", cfg.MetricsAddr))
	require.NoError(t, err)
	_ = readyResp.Body.Close()
	assert.Equal(t, http.StatusOK, readyResp.StatusCode)

	metricsResp, err := http.Get(fmt.Sprintf("http://%s/metrics", cfg.MetricsAddr))
	require.NoError(t, err)
	body, err := io.ReadAll(metricsResp.Body)
	_ = metricsResp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "grpc_server_handled_total")

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}

func TestNewGRPCServerExportsHandledMetrics(t *testing.T) {
	deps := &runtimeDependencies{
		repo:         memory.NewOrderRepository(),
		timelineRepo: memory.NewTimelineRepository(),
	}
	server, _ := newGRPCServer(nil, deps, log.WithField("test", "grpc-metrics"))
	defer server.Stop()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "grpc_server_handled_total")
	assert.Contains(t, names, "grpc_server_started_total")
}
