// Команда dlq-reprocess возвращает записи из orders.dlq в исходные топики.
// По умолчанию работает как dry-run; отправка включается флагом -execute.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	r, err := newReplayer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("dlq replay failed")
	}
	_, runErr := r.Run(ctx)
	if err := r.Close(); err != nil {
		logger.WithError(err).Warn("close kafka clients")
	}
	if runErr != nil {
		logger.WithError(runErr).Fatal("dlq replay failed")
	}
}
