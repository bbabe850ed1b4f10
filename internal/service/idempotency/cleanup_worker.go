// Package idempotency удаляет просроченные ключи дедупликации платежей и gRPC-запросов.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-ms/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// ExpiredDeleter удаляет не больше limit ключей с TTL не позже before.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Option настраивает CleanupWorker.
type Option func(*CleanupWorker)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithMetrics включает метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) Option {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize задаёт размер одного DELETE.
func WithBatchSize(size int) Option {
	return func(w *CleanupWorker) { w.batchSize = size }
}

// WithClock подменяет часы, от которых считается истечение.
func WithClock(clock func() time.Time) Option {
	return func(w *CleanupWorker) { w.now = clock }
}

// CleanupWorker периодически вычищает истёкшие ключи из хранилища.
type CleanupWorker struct {
	repo      ExpiredDeleter
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер; некорректные опции заменяются значениями по умолчанию.
func NewCleanupWorker(repo ExpiredDeleter, options ...Option) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	return w
}

// Run делает первый проход сразу, следующие каждые interval, до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) pass(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordRun(false, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordRun(true, deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет истёкшие к before ключи порциями, пока порция заполняется целиком.
// Нулевой before означает текущее время.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for ctx.Err() == nil {
		n, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.metrics.RecordDeleted(n)
		if n < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
