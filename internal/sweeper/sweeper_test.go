package sweeper

import (
	"context"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/service"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, ttl time.Duration) (*service.ReservationManager, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	manager := service.NewReservationManager(mem, service.NewInventory(mem, nil), nil, ttl, 10*time.Minute)
	require.NoError(t, mem.UpsertInventory(context.Background(), "sku-a", 5))
	return manager, mem
}

func availableQty(t *testing.T, mem *store.MemoryStore) int {
	t.Helper()
	inv, err := mem.GetInventory(context.Background(), "sku-a")
	require.NoError(t, err)
	return inv.Available()
}

func TestSweepReclaimsExpiredSessions(t *testing.T) {
	manager, mem := setup(t, 30*time.Millisecond)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, availableQty(t, mem))

	time.Sleep(50 * time.Millisecond)

	sw := New(mem, manager, time.Minute)
	sw.Sweep(ctx)

	assert.Equal(t, 5, availableQty(t, mem))

	reservations, err := mem.SessionReservations(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusReleased, reservations[0].Status)
}

func TestSweepLeavesLiveSessionsAlone(t *testing.T) {
	manager, mem := setup(t, time.Minute)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	sw := New(mem, manager, time.Minute)
	sw.Sweep(ctx)

	assert.Equal(t, 3, availableQty(t, mem))

	reservations, err := mem.SessionReservations(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusActive, reservations[0].Status)
}

func TestSweepSparesSessionExtendedAfterScan(t *testing.T) {
	// A shopper may use their extension between the sweep's scan and its
	// release. The release rechecks the deadline under lock, so the
	// extended session keeps its holds.
	manager, mem := setup(t, 30*time.Millisecond)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	ids, err := mem.ExpiredSessionIDs(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, []string{session.SessionID}, ids)

	newExpiry, err := manager.ExtendSession(ctx, session.SessionID)
	require.NoError(t, err)
	require.True(t, newExpiry.After(time.Now()))

	for _, id := range ids {
		require.NoError(t, manager.ReleaseExpiredSession(ctx, id))
	}

	reservations, err := mem.SessionReservations(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusActive, reservations[0].Status)
	assert.Equal(t, 3, availableQty(t, mem))
}

func TestSweepIsSafeToRepeat(t *testing.T) {
	manager, mem := setup(t, 20*time.Millisecond)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	sw := New(mem, manager, time.Minute)
	sw.Sweep(ctx)
	sw.Sweep(ctx)
	sw.Sweep(ctx)

	// Repeat passes change nothing; no double free of stock.
	assert.Equal(t, 5, availableQty(t, mem))
}

func TestSweeperLoopBound(t *testing.T) {
	// A reservation expiring at t must be gone by t + interval + scheduling
	// slack. The loop interval here is 10ms; 150ms is comfortably past the
	// documented bound.
	manager, mem := setup(t, 30*time.Millisecond)
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	sw := New(mem, manager, 10*time.Millisecond)
	go sw.Start(ctx)
	defer sw.Stop()

	assert.Eventually(t, func() bool {
		inv, err := mem.GetInventory(ctx, "sku-a")
		return err == nil && inv.Available() == 5
	}, 150*time.Millisecond, 5*time.Millisecond)
}
