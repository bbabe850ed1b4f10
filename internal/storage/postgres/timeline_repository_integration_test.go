package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := migratedStore(t)
	repo := NewTimelineRepository(store)

	orderID := uuid.NewString()
	at := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: orderID, Type: domain.EventOrderStatusChanged, Reason: "PENDING -> DELIVERED", Occurred: at.Add(time.Minute)}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: orderID, Type: domain.EventOrderCreated, Occurred: at}))
	require.NoError(t, repo.Append(domain.TimelineEvent{OrderID: orderID, Type: domain.EventOrderPaid, Occurred: at.Add(time.Minute)}))

	events, err := repo.List(orderID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventOrderCreated, events[0].Type)
	require.Equal(t, domain.EventOrderStatusChanged, events[1].Type)
	require.Equal(t, "PENDING -> DELIVERED", events[1].Reason)
	require.Equal(t, domain.EventOrderPaid, events[2].Type)

	require.ErrorIs(t, repo.Append(domain.TimelineEvent{Type: domain.EventOrderCreated}), domain.ErrOrderIDRequired)

	empty, err := repo.List(uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, empty)
}
