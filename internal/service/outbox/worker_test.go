package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/metrics"
	"github.com/vladislavdragonenkov/orders-ms/internal/storage/memory"
)

func enqueue(t *testing.T, repo *memory.OutboxRepository, orderID, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-1", domain.EventOrderCreated)
	enqueue(t, repo, "order-1", domain.EventOrderPaid)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithRetryBaseDelay(0),
		WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	require.Equal(t, 2, worker.ProcessOnce(context.Background()))
	require.Equal(t, 2, publisher.calls())
	require.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderPaid}, publisher.eventTypes())
	require.Empty(t, repo.AllPending())

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-2", domain.EventOrderStatusChanged)
	publisher := &stubPublisher{err: errors.New("broker down")}
	deadLetters := &stubDeadLetters{}

	worker := NewWorker(repo, publisher,
		WithDeadLetters(deadLetters),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	require.Zero(t, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())

	require.Len(t, deadLetters.events, 1)
	require.Equal(t, msg.ID, deadLetters.events[0].ID)
	require.Equal(t, 3, deadLetters.attempts)
	require.ErrorIs(t, deadLetters.cause, domain.ErrOutboxPublish)
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-3", domain.EventOrderPaid)
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Millisecond), WithMaxAttempts(3))

	require.Equal(t, 1, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_CanceledDuringBackoffKeepsPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-4", domain.EventOrderCreated)

	ctx, cancel := context.WithCancel(context.Background())
	publisher := &stubPublisher{onPublish: cancel, err: errors.New("broker down")}
	deadLetters := &stubDeadLetters{}

	worker := NewWorker(repo, publisher, WithDeadLetters(deadLetters), WithRetryBaseDelay(time.Hour))

	require.Zero(t, worker.ProcessOnce(ctx))
	require.Len(t, repo.AllPending(), 1)
	require.Empty(t, deadLetters.events)
}

func TestWorker_RetryBackoff(t *testing.T) {
	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))

	worker = NewWorker(nil, nil, WithRetryBaseDelay(20*time.Second))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(2))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(64))

	require.Zero(t, NewWorker(nil, nil, WithRetryBaseDelay(-time.Second)).retryBackoff(3))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	worker := NewWorker(memory.NewOutboxRepository(), nil)
	worker.Run(context.Background())
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	onPublish      func()
	published      []domain.OutboxMessage
	callCount      int
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.onPublish != nil {
		s.onPublish()
	}
	err := s.err
	if len(s.sequenceErrors) > 0 {
		err = s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
	}
	if err == nil {
		s.published = append(s.published, event)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.published))
	for _, event := range s.published {
		types = append(types, event.EventType)
	}
	return types
}

type stubDeadLetters struct {
	events   []domain.OutboxMessage
	cause    error
	attempts int
}

func (s *stubDeadLetters) PublishDeadLetter(event domain.OutboxMessage, cause error, attempts int) error {
	s.events = append(s.events, event)
	s.cause = cause
	s.attempts = attempts
	return nil
}

var (
	_ domain.OutboxPublisher = (*stubPublisher)(nil)
	_ DeadLetterPublisher    = (*stubDeadLetters)(nil)
)
