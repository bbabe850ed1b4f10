package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Ping подключается к кластеру и проверяет, что известен хотя бы один брокер.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("kafka brokers are not configured")
	}

	config := sarama.NewConfig()
	config.Net.DialTimeout = 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < config.Net.DialTimeout {
			config.Net.DialTimeout = d
		}
	}
	config.Metadata.Retry.Max = 0

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return fmt.Errorf("connect to kafka: %w", err)
	}
	defer client.Close()

	if len(client.Brokers()) == 0 {
		return errors.New("kafka cluster has no brokers")
	}
	return nil
}
