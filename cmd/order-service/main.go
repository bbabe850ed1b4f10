package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/app"
	"github.com/vladislavdragonenkov/orders-ms/internal/version"
)

// loadConfig читает окружение и настраивает логирование.
func loadConfig(lookup func(string) (string, bool)) (app.Config, error) {
	cfg, err := app.ConfigFromLookup(lookup)
	if err != nil {
		return app.Config{}, err
	}
	if err := app.SetupLogging(cfg); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        cfg.KafkaEnabled(),
	}).Info("запускаем orders-ms")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("orders-ms остановлен")
}
