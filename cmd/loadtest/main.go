// Команда loadtest прогоняет сценарии заказов через gRPC API сервиса заказов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orders-ms/internal/service/grpc"
)

const idempotencyHeader = "idempotency-key"

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateFind   loadMode = "create-find"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productIDs  []int
	quantity    int
	outputPath  string
}

// orderClient — методы gRPC-клиента, которые использует нагрузка.
type orderClient interface {
	CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error)
	FindOneOrder(ctx context.Context, in *grpcsvc.FindOneOrderRequest, opts ...grpc.CallOption) (*domain.OrderWithProducts, error)
	ChangeOrderStatus(ctx context.Context, in *grpcsvc.ChangeOrderStatusRequest, opts ...grpc.CallOption) (*domain.OrderWithProducts, error)
}

func parseConfig(args []string) (config, error) {
	var (
		cfg        config
		modeValue  string
		productIDs string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with -duration only used when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-find | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "percent of scenarios cancelled in create-cancel mode (0..100)")
	fs.StringVar(&productIDs, "products", "1,2", "comma-separated catalog product ids")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order item")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.productIDs, err = parseProductIDs(productIDs); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

// validate сообщает обо всех нарушениях сразу.
func (c config) validate() error {
	rules := []struct {
		broken bool
		msg    string
	}{
		{c.duration < 0, "duration must be >= 0"},
		{c.duration == 0 && c.total <= 0, "total must be > 0 when duration is not set"},
		{c.duration > 0 && c.totalSet && c.total <= 0, "total must be > 0 when explicitly set with duration"},
		{c.concurrency <= 0, "concurrency must be > 0"},
		{c.connections <= 0, "connections must be > 0"},
		{c.timeout <= 0, "timeout must be > 0"},
		{c.quantity <= 0, "quantity must be > 0"},
		{c.cancelRate < 0 || c.cancelRate > 100, "cancel-rate must be between 0 and 100"},
	}
	var errs []error
	for _, rule := range rules {
		if rule.broken {
			errs = append(errs, errors.New(rule.msg))
		}
	}
	return errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateFind, modeCreateCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func parseProductIDs(raw string) ([]int, error) {
	var ids []int
	for chunk := range strings.SplitSeq(raw, ",") {
		if chunk = strings.TrimSpace(chunk); chunk == "" {
			continue
		}
		id, err := strconv.Atoi(chunk)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", chunk)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one product id is required")
	}
	return ids, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	clients := make([]orderClient, 0, cfg.connections)
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	for range cfg.connections {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	result := runLoad(context.Background(), cfg, clients)
	for _, conn := range conns {
		_ = conn.Close()
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии не более чем cfg.concurrency воркерам одновременно.
func runLoad(ctx context.Context, cfg config, clients []orderClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			break
		}
		if cfg.duration > 0 && ctx.Err() != nil {
			break
		}
		client := clients[i%len(clients)]
		g.Go(func() error {
			_ = runScenario(client, cfg, i, runID, col)
			return nil
		})
	}
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func runScenario(client orderClient, cfg config, index int, runID string, col *collector) error {
	started := time.Now()
	code := codes.OK
	defer func() { col.record(scenarioMethod, time.Since(started), code) }()

	items := make([]domain.ItemInput, 0, len(cfg.productIDs))
	for _, id := range cfg.productIDs {
		items = append(items, domain.ItemInput{ProductID: id, Quantity: cfg.quantity})
	}

	var created *grpcsvc.CreateOrderResponse
	err := call(col, "CreateOrder", cfg.timeout, fmt.Sprintf("lt-create-%s-%d", runID, index), func(ctx context.Context) error {
		var err error
		created, err = client.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{Items: items})
		return err
	})
	if err != nil {
		code = grpcCode(err)
		return err
	}
	orderID := created.Order.ID
	if orderID == "" {
		code = codes.Internal
		return errors.New("create response returned empty order id")
	}

	switch {
	case cfg.mode == modeCreateFind:
		err = call(col, "FindOneOrder", cfg.timeout, "", func(ctx context.Context) error {
			_, err := client.FindOneOrder(ctx, &grpcsvc.FindOneOrderRequest{ID: orderID})
			return err
		})
	case cfg.mode == modeCreateCancel && shouldCancelScenario(index, cfg.cancelRate):
		err = call(col, "ChangeOrderStatus", cfg.timeout, "", func(ctx context.Context) error {
			_, err := client.ChangeOrderStatus(ctx, &grpcsvc.ChangeOrderStatusRequest{
				ID:     orderID,
				Status: string(domain.OrderStatusCancelled),
			})
			return err
		})
	}
	if err != nil {
		code = grpcCode(err)
	}
	return err
}

// call выполняет один RPC с таймаутом и записывает его результат.
func call(col *collector, method string, timeout time.Duration, key string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	}

	start := time.Now()
	err := fn(ctx)
	col.record(method, time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldCancelScenario(index, cancelRate int) bool {
	switch {
	case cancelRate <= 0:
		return false
	case cancelRate >= 100:
		return true
	}
	return index%100 < cancelRate
}
