package memory

import (
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

type timelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository держит историю заказов в памяти процесса.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	// Вставка после всех событий не позже event: при равном времени порядок записи сохраняется.
	at := len(history)
	for at > 0 && history[at-1].Occurred.After(event.Occurred) {
		at--
	}
	r.byOrder[event.OrderID] = slices.Insert(history, at, event)
	return nil
}

func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.byOrder[orderID]
	if history == nil {
		return []domain.TimelineEvent{}, nil
	}
	return slices.Clone(history), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
