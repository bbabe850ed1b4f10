package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders-ms/internal/health"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders-ms/internal/service/payment"
)

// transport объединяет шину запросов, регистрацию обработчиков и публикацию outbox.
type transport struct {
	requester   bus.Requester
	router      bus.Router
	publisher   domain.OutboxPublisher
	deadLetters outbox.DeadLetterPublisher
	checkers    map[string]healthcheck.Checker

	cfg       Config
	logger    *log.Entry
	producer  *kafka.Producer
	rpcClient *kafka.RPCClient
	rpcServer *kafka.RPCServer
	consumers []*kafka.Consumer
}

// initTransport без брокеров поднимает in-process шину с mock-сервисами каталога и оплаты.
func initTransport(cfg Config, logger *log.Entry) (*transport, error) {
	t := &transport{
		cfg:      cfg,
		logger:   logger,
		checkers: make(map[string]healthcheck.Checker),
	}

	if !cfg.KafkaEnabled() {
		local := bus.NewLocal(logger.WithField("component", "local-bus"))
		catalog.NewMockService(catalog.DefaultProducts()...).Register(local)
		payment.NewMockService().Register(local)

		t.requester = local
		t.router = local
		t.publisher = logPublisher{logger: logger.WithField("component", "outbox-log-publisher")}
		logger.Info("kafka is not configured, running with in-process bus and mock services")
		return t, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, err
	}
	t.producer = producer
	t.rpcClient = kafka.NewRPCClient(producer, cfg.KafkaReplyTopic, cfg.RPCTimeout, logger.WithField("component", "kafka-rpc-client"))
	t.rpcServer = kafka.NewRPCServer(producer, logger.WithField("component", "kafka-rpc-server"))

	outboxPublisher := kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents)
	t.requester = t.rpcClient
	t.router = t.rpcServer
	t.publisher = outboxPublisher
	t.deadLetters = outboxPublisher

	brokers := cfg.KafkaBrokers
	t.checkers["kafka"] = healthcheck.NewPingChecker("kafka", func(ctx context.Context) error {
		return kafka.Ping(ctx, brokers)
	})

	logger.WithField("brokers", brokers).Info("kafka transport initialized")
	return t, nil
}

// start подписывается на топики запросов и ответов. Вызывается после регистрации обработчиков.
func (t *transport) start(ctx context.Context) error {
	if t.producer == nil {
		return nil
	}

	requests, err := kafka.NewConsumer(
		t.cfg.KafkaBrokers,
		t.cfg.KafkaGroupID,
		t.rpcServer.Topics(),
		t.rpcServer.HandleMessage,
		kafka.WithConsumerLogger(t.logger.WithField("component", "kafka-request-consumer")),
		kafka.WithDLQ(t.producer),
	)
	if err != nil {
		return err
	}
	t.consumers = append(t.consumers, requests)

	// Ответы нужны каждому экземпляру, поэтому у каждого своя группа.
	replies, err := kafka.NewConsumer(
		t.cfg.KafkaBrokers,
		fmt.Sprintf("%s-replies-%s", t.cfg.KafkaGroupID, uuid.NewString()[:8]),
		[]string{t.rpcClient.ReplyTopic()},
		t.rpcClient.HandleReply,
		kafka.WithConsumerLogger(t.logger.WithField("component", "kafka-reply-consumer")),
		kafka.WithRetries(0, 0),
		kafka.WithInitialOffset(sarama.OffsetNewest),
	)
	if err != nil {
		_ = requests.Stop()
		t.consumers = nil
		return err
	}
	t.consumers = append(t.consumers, replies)

	for _, consumer := range t.consumers {
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close останавливает consumers и закрывает producer.
func (t *transport) close() error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, consumer := range t.consumers {
		if err := consumer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	t.consumers = nil
	if t.producer != nil {
		if err := t.producer.Close(); err != nil {
			errs = append(errs, err)
		} else {
			t.logger.Info("kafka producer closed")
		}
		t.producer = nil
	}
	return errors.Join(errs...)
}

// logPublisher пишет события outbox в лог, когда брокера нет.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	}).Debug("outbox event")
	return nil
}
