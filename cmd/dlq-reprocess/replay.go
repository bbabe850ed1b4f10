package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/kafka"
)

// Служебные заголовки DLQ. В повторно отправленное сообщение они не попадают,
// поэтому бюджет повторов у consumer начинается заново.
var dlqOnlyHeaders = []string{
	kafka.HeaderRetryCount,
	kafka.HeaderOriginalTopic,
	kafka.HeaderErrorMessage,
	kafka.HeaderFailedAt,
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

// replayer читает DLQ напрямую по партициям, без consumer group:
// повторный запуск видит те же записи.
type replayer struct {
	cfg      config
	client   offsetClient
	consumer sarama.Consumer
	producer *kafka.Producer
	logger   *log.Entry
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// newReplayer: producer нужен только при -execute.
func newReplayer(cfg config, logger *log.Entry) (*replayer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	r := &replayer{cfg: cfg, client: client, consumer: consumer, logger: logger}

	if cfg.execute {
		if r.producer, err = kafka.NewProducer(cfg.brokers); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *replayer) Close() error {
	var errs []error
	if r.producer != nil {
		errs = append(errs, r.producer.Close())
	}
	if r.consumer != nil {
		errs = append(errs, r.consumer.Close())
	}
	if r.client != nil {
		errs = append(errs, r.client.Close())
	}
	return errors.Join(errs...)
}

// Run проходит партиции по возрастанию номера, пока не наберёт cfg.limit записей.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.cfg.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}

	for _, partition := range slices.Sorted(slices.Values(partitions)) {
		if total.processed >= r.cfg.limit {
			break
		}
		err := r.replayPartition(ctx, partition, r.cfg.limit-total.processed, &total)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":   r.cfg.execute,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// replayPartition читает до limit записей из окна [oldest, newest), зафиксированного на старте.
func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int, stats *replayStats) error {
	oldest, newest, err := r.window(partition)
	if err != nil || newest <= oldest {
		return err
	}
	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for read := 0; read < limit; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)
			read++
			if err := r.replayOne(msg, stats); err != nil {
				return err
			}
			if msg.Offset+1 >= newest {
				return nil
			}
		}
	}
	return nil
}

func (r *replayer) window(partition int32) (oldest, newest int64, err error) {
	if oldest, err = r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest); err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	if newest, err = r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest); err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	return oldest, newest, nil
}

// replayOne пропускает нераспознанную запись, но останавливается на ошибке отправки.
func (r *replayer) replayOne(msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.processed++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := extractReplayMessage(msg, r.cfg.fallback)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip unsupported dlq message")
		return nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": replay.topic, "key": replay.key})
	if !r.cfg.execute {
		stats.replayed++
		entry.Info("dlq replay candidate")
		return nil
	}
	if err := r.producer.PublishRaw(replay.topic, replay.key, replay.value, replay.headers); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.replayed++
	entry.Debug("dlq message replayed")
	return nil
}

// extractReplayMessage восстанавливает исходное сообщение из записи DLQ.
func extractReplayMessage(msg *sarama.ConsumerMessage, fallbackTopic string) (replayMessage, error) {
	var dlq kafka.DLQMessage
	if err := json.Unmarshal(msg.Value, &dlq); err != nil {
		return replayMessage{}, fmt.Errorf("decode dlq message: %w", err)
	}
	if dlq.OriginalValue == "" {
		return replayMessage{}, errors.New("dlq message has no original value")
	}

	topic := strings.TrimSpace(dlq.OriginalTopic)
	if topic == "" || topic == kafka.TopicDeadLetterQueue {
		topic = fallbackTopic
	}
	headers := maps.Clone(dlq.OriginalHeaders)
	maps.DeleteFunc(headers, func(key, _ string) bool { return slices.Contains(dlqOnlyHeaders, key) })

	return replayMessage{
		topic:   topic,
		key:     dlq.OriginalKey,
		value:   []byte(dlq.OriginalValue),
		headers: headers,
	}, nil
}
