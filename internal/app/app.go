// Package app собирает сервис заказов из конфигурации: хранилища, шину, gRPC, HTTP и воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orders-ms/internal/health"
	"github.com/vladislavdragonenkov/orders-ms/internal/metrics"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/orders-ms/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/orders"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/payment"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/rpc"
	"github.com/vladislavdragonenkov/orders-ms/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	tr, err := initTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.close(); err != nil {
			logger.WithError(err).Warn("failed to close transport")
		}
	}()

	orderService := newOrderService(cfg, deps, tr, metrics.NewOrderMetrics(), logger)
	rpc.NewHandlers(orderService, logger.WithField("layer", "bus")).Register(tr.router)
	if err := tr.start(ctx); err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for _, checkers := range []map[string]healthcheck.Checker{deps.checkers, tr.checkers} {
		for name, checker := range checkers {
			healthHandler.RegisterChecker(name, checker)
		}
	}

	grpcServer, grpcHealth := newGRPCServer(orderService, deps, logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}

	outboxWorker := outbox.NewWorker(deps.outboxRepo, tr.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)),
		outbox.WithDeadLetters(tr.deadLetters),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return nil
	})
	g.Go(func() error {
		return serveHTTP(gctx, httpLis, newHTTPMux(healthHandler), logger)
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	if deps.expiredDeleter != nil {
		cleanup := idempotency.NewCleanupWorker(deps.expiredDeleter,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithMetrics(metrics.NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		g.Go(func() error {
			cleanup.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info("получен сигнал остановки, сервис остановлен")
		return ctxErr
	}
	return err
}

// newOrderService собирает сервис заказов поверх выбранной шины и хранилищ.
func newOrderService(cfg Config, deps *runtimeDependencies, tr *transport, m *metrics.OrderMetrics, logger *log.Entry) orders.Service {
	options := []orders.Option{
		orders.WithLogger(logger.WithField("component", "orders")),
		orders.WithMetrics(m),
		orders.WithTimeline(deps.timelineRepo),
		orders.WithOutbox(deps.outboxRepo),
	}
	if cfg.PaymentDedup {
		options = append(options, orders.WithPaymentDedup(deps.idempotencyRepo, cfg.IdempotencyTTL))
	}
	return orders.NewService(
		deps.repo,
		catalog.NewClient(tr.requester),
		payment.NewClient(tr.requester),
		options...,
	)
}

func newGRPCServer(svc orders.Service, deps *runtimeDependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	// Пакет регистрирует DefaultServerMetrics в default registry при импорте.
	grpcMetrics := promgrpc.DefaultServerMetrics

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(
		svc,
		deps.timelineRepo,
		deps.idempotencyRepo,
		logger.WithField("layer", "grpc"),
	))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
