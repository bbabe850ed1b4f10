package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/storage/memory"
)

func TestTimelineRepository_AppendAndList(t *testing.T) {
	repo := memory.NewTimelineRepository()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderPaid, Occurred: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderCreated, Occurred: base}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-1", Type: domain.EventOrderStatusChanged, Occurred: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: "o-2", Type: domain.EventOrderCreated, Occurred: base}))

	events, err := repo.List("o-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventOrderPaid, events[1].Type)
	require.Equal(t, domain.EventOrderStatusChanged, events[2].Type)

	empty, err := repo.List("missing")
	require.NoError(t, err)
	require.Empty(t, empty)

	require.ErrorIs(t, repo.Append(domain.TimelineEvent{Type: domain.EventOrderCreated}), domain.ErrOrderIDRequired)
}
