package main

import (
	"errors"
	"flag"
	"io"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	// fallback — куда отправлять запись без original_topic.
	fallback    string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// parseConfig: -brokers важнее KAFKA_BROKERS из lookup.
func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		cfg     config
		brokers string
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	fs.StringVar(&cfg.fallback, "target-topic", kafka.TopicOrderEvents, "target topic when DLQ message has no original topic")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokers)
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(len(c.brokers) > 0, "kafka brokers are required (-brokers or KAFKA_BROKERS)")
	check(strings.TrimSpace(c.sourceTopic) != "", "source-topic is required")
	check(strings.TrimSpace(c.fallback) != "", "target-topic is required")
	check(c.limit > 0, "limit must be > 0")
	check(c.idleTimeout > 0, "idle-timeout must be > 0")
	return errors.Join(errs...)
}

func parseBrokers(raw string) []string {
	brokers := []string{}
	for chunk := range strings.SplitSeq(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
