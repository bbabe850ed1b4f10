package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/kafka"
)

type fakeOffsets struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
	err        error
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) {
	return f.partitions, f.err
}

func (f *fakeOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

func (f *fakeOffsets) Close() error { return nil }

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "test")
}

func dlqValue(t *testing.T, msg kafka.DLQMessage) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"localhost:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		fallback:    kafka.TopicOrderEvents,
		limit:       10,
		execute:     execute,
		idleTimeout: time.Second,
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-limit=5", "-execute"}, func(key string) (string, bool) {
		if key == "KAFKA_BROKERS" {
			return " kafka-1:9092, ,kafka-2:9092 ", true
		}
		return "", false
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.fallback)
	assert.Equal(t, 5, cfg.limit)
	assert.True(t, cfg.execute)
	assert.False(t, cfg.fromNewest)
}

func TestParseConfig_Errors(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }

	_, err := parseConfig(nil, noEnv)
	require.ErrorContains(t, err, "kafka brokers are required")

	_, err = parseConfig([]string{"-brokers=k:9092", "-limit=0", "-idle-timeout=0s"}, noEnv)
	require.ErrorContains(t, err, "limit must be > 0")
	require.ErrorContains(t, err, "idle-timeout must be > 0")

	_, err = parseConfig([]string{"-unknown"}, noEnv)
	require.Error(t, err)
}

func TestExtractReplayMessage(t *testing.T) {
	value := dlqValue(t, kafka.DLQMessage{
		OriginalTopic: "createOrder",
		OriginalKey:   "corr-1",
		OriginalValue: `{"items":[]}`,
		OriginalHeaders: map[string]string{
			kafka.HeaderCorrelationID: "corr-1",
			kafka.HeaderReplyTo:       kafka.TopicReplies,
			kafka.HeaderRetryCount:    "3",
		},
		ErrorMessage: "boom",
	})

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, kafka.TopicOrderEvents)
	require.NoError(t, err)
	assert.Equal(t, "createOrder", got.topic)
	assert.Equal(t, "corr-1", got.key)
	assert.JSONEq(t, `{"items":[]}`, string(got.value))
	assert.Equal(t, map[string]string{
		kafka.HeaderCorrelationID: "corr-1",
		kafka.HeaderReplyTo:       kafka.TopicReplies,
	}, got.headers)
}

func TestExtractReplayMessage_FallbackTopic(t *testing.T) {
	value := dlqValue(t, kafka.DLQMessage{OriginalKey: "order-1", OriginalValue: `{"id":"evt"}`})

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, kafka.TopicOrderEvents)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicOrderEvents, got.topic)
	assert.Empty(t, got.headers)
}

func TestExtractReplayMessage_Invalid(t *testing.T) {
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte("not-json")}, kafka.TopicOrderEvents)
	require.Error(t, err)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(`{"original_topic":"x"}`)}, kafka.TopicOrderEvents)
	require.ErrorContains(t, err, "no original value")
}

func TestReplayer_DryRun(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(kafka.TopicDeadLetterQueue, 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: dlqValue(t, kafka.DLQMessage{
		OriginalTopic: kafka.TopicOrderEvents, OriginalKey: "order-1", OriginalValue: `{"id":"1"}`,
	})})
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 1, Value: []byte("garbage")})

	r := &replayer{
		cfg: testConfig(false),
		client: &fakeOffsets{
			partitions: []int32{0},
			oldest:     map[int32]int64{0: 0},
			newest:     map[int32]int64{0: 2},
		},
		consumer: consumer,
		logger:   quietLogger(),
	}

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_Execute(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(kafka.TopicDeadLetterQueue, 0, 0)
	pc.YieldMessage(&sarama.ConsumerMessage{Offset: 0, Value: dlqValue(t, kafka.DLQMessage{
		OriginalTopic:   "payment.succeeded",
		OriginalKey:     "order-1",
		OriginalValue:   `{"orderId":"order-1"}`,
		OriginalHeaders: map[string]string{kafka.HeaderRetryCount: "3", "x-trace": "t-1"},
	})})

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "payment.succeeded" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		for _, header := range msg.Headers {
			if string(header.Key) == kafka.HeaderRetryCount {
				return errors.New("retry count must be reset")
			}
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "x-trace" {
			return errors.New("trace header must be kept")
		}
		return nil
	})

	r := &replayer{
		cfg: testConfig(true),
		client: &fakeOffsets{
			partitions: []int32{0},
			oldest:     map[int32]int64{0: 0},
			newest:     map[int32]int64{0: 1},
		},
		consumer: consumer,
		producer: kafka.NewProducerWithSync(producer, quietLogger()),
		logger:   quietLogger(),
	}

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 1, replayed: 1}, stats)
	require.NoError(t, producer.Close())
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	r := &replayer{cfg: testConfig(true), client: &fakeOffsets{}, logger: quietLogger()}
	_, err := r.Run(context.Background())
	require.ErrorContains(t, err, "producer is required")
}

func TestReplayer_EmptyAndFailingTopics(t *testing.T) {
	r := &replayer{cfg: testConfig(false), client: &fakeOffsets{}, logger: quietLogger()}
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats)

	r.client = &fakeOffsets{err: errors.New("metadata unavailable")}
	_, err = r.Run(context.Background())
	require.ErrorContains(t, err, "get partitions")
}

func TestReplayer_SkipsEmptyPartition(t *testing.T) {
	r := &replayer{
		cfg: testConfig(false),
		client: &fakeOffsets{
			partitions: []int32{0},
			oldest:     map[int32]int64{0: 5},
			newest:     map[int32]int64{0: 5},
		},
		consumer: mocks.NewConsumer(t, nil),
		logger:   quietLogger(),
	}
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats)
}
