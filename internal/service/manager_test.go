package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records published events for assertions
type captureSink struct {
	mu        sync.Mutex
	started   []*models.SessionStartedEvent
	created   []*models.ReservationCreatedEvent
	extended  []*models.SessionExtendedEvent
	committed []*models.SessionCommittedEvent
	released  []*models.SessionReleasedEvent
}

func (c *captureSink) PublishSessionStarted(_ context.Context, e *models.SessionStartedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, e)
	return nil
}

func (c *captureSink) PublishReservationCreated(_ context.Context, e *models.ReservationCreatedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, e)
	return nil
}

func (c *captureSink) PublishSessionExtended(_ context.Context, e *models.SessionExtendedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extended = append(c.extended, e)
	return nil
}

func (c *captureSink) PublishSessionCommitted(_ context.Context, e *models.SessionCommittedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, e)
	return nil
}

func (c *captureSink) PublishSessionReleased(_ context.Context, e *models.SessionReleasedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, e)
	return nil
}

func newTestManager(ttl time.Duration) (*ReservationManager, *store.MemoryStore, *captureSink) {
	mem := store.NewMemoryStore()
	sink := &captureSink{}
	manager := NewReservationManager(mem, NewInventory(mem, nil), sink, ttl, 10*time.Minute)
	return manager, mem, sink
}

func available(t *testing.T, mem *store.MemoryStore, skuID string) int {
	t.Helper()
	inv, err := mem.GetInventory(context.Background(), skuID)
	require.NoError(t, err)
	return inv.Available()
}

func TestReserveCommitReserveAgain(t *testing.T) {
	// Two shoppers contend for SKU a with 5 on hand: the first holds 3,
	// the second cannot hold 3, the first buys, the second then holds 2.
	manager, mem, sink := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))

	s1, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	s2, err := manager.StartSession(ctx, "shopper-2")
	require.NoError(t, err)

	res, err := manager.Reserve(ctx, s1.SessionID, "sku-a", 3)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusActive, res.Status)
	assert.Equal(t, s1.ExpiresAt, res.ExpiresAt)
	assert.Equal(t, 2, available(t, mem, "sku-a"))

	_, err = manager.Reserve(ctx, s2.SessionID, "sku-a", 3)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	result, err := manager.CommitSession(ctx, s1.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderRef)

	inv, err := mem.GetInventory(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.OnHandQty)
	assert.Equal(t, 0, inv.ReservedQty)

	_, err = manager.Reserve(ctx, s2.SessionID, "sku-a", 2)
	require.NoError(t, err)

	assert.Len(t, sink.created, 2)
	assert.Len(t, sink.committed, 1)
}

func TestReserveInvalidInput(t *testing.T) {
	manager, mem, _ := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)

	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = manager.Reserve(ctx, "missing", "sku-a", 1)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = manager.Reserve(ctx, session.SessionID, "missing", 1)
	assert.ErrorIs(t, err, store.ErrSkuNotFound)
}

func TestNoOversellUnderConcurrency(t *testing.T) {
	// 20 shoppers race for 5 units; exactly 5 single-unit holds may win.
	manager, mem, _ := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-hot", 5))

	const shoppers = 20
	var wg sync.WaitGroup
	granted := make(chan struct{}, shoppers)

	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := manager.StartSession(ctx, "shopper")
			if err != nil {
				return
			}
			if _, err := manager.Reserve(ctx, session.SessionID, "sku-hot", 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Equal(t, 5, len(granted))

	inv, err := mem.GetInventory(ctx, "sku-hot")
	require.NoError(t, err)
	assert.Equal(t, 5, inv.ReservedQty)
	assert.Equal(t, 5, inv.OnHandQty)
	assert.GreaterOrEqual(t, inv.Available(), 0)
}

func TestExtendSessionOnlyOnce(t *testing.T) {
	manager, mem, sink := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 1)
	require.NoError(t, err)

	newExpiry, err := manager.ExtendSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.True(t, newExpiry.After(session.ExpiresAt))

	// The reservation deadline moves with the session.
	_, reservations, err := manager.GetSessionState(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, newExpiry, reservations[0].ExpiresAt)

	_, err = manager.ExtendSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, store.ErrAlreadyExtended)

	after, _, err := manager.GetSessionState(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, newExpiry, after.ExpiresAt)

	_, err = manager.ExtendSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	assert.Len(t, sink.extended, 1)
}

func TestCommitExpiredSessionReleasesEverything(t *testing.T) {
	manager, mem, sink := newTestManager(40 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	require.NoError(t, mem.UpsertInventory(ctx, "sku-b", 5))

	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-b", 1)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = manager.CommitSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	assert.Equal(t, 5, available(t, mem, "sku-a"))
	assert.Equal(t, 5, available(t, mem, "sku-b"))

	_, reservations, err := manager.GetSessionState(ctx, session.SessionID)
	require.NoError(t, err)
	for _, r := range reservations {
		assert.Equal(t, models.ReservationStatusReleased, r.Status)
	}

	require.Len(t, sink.released, 1)
	assert.Equal(t, models.ReleaseReasonExpired, sink.released[0].Reason)
}

func TestReleaseSessionIdempotent(t *testing.T) {
	manager, mem, sink := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	require.NoError(t, manager.ReleaseSession(ctx, session.SessionID, models.ReleaseReasonAbandoned))
	assert.Equal(t, 5, available(t, mem, "sku-a"))

	// Repeat releases are no-ops; counters and events stay put.
	require.NoError(t, manager.ReleaseSession(ctx, session.SessionID, models.ReleaseReasonAbandoned))
	require.NoError(t, manager.ReleaseSession(ctx, session.SessionID, models.ReleaseReasonExpired))
	assert.Equal(t, 5, available(t, mem, "sku-a"))
	assert.Len(t, sink.released, 1)
}

func TestReleaseThenCommitDoesNotSell(t *testing.T) {
	// A sweep and a commit racing the same session: release lands first,
	// so the commit must not produce a sale.
	manager, mem, sink := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	session, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, session.SessionID, "sku-a", 2)
	require.NoError(t, err)

	require.NoError(t, manager.ReleaseSession(ctx, session.SessionID, models.ReleaseReasonExpired))

	_, err = manager.CommitSession(ctx, session.SessionID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	inv, err := mem.GetInventory(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 5, inv.OnHandQty)
	assert.Equal(t, 0, inv.ReservedQty)

	// The losing commit released nothing itself, so only the original
	// release is announced.
	assert.Len(t, sink.released, 1)
}

func TestReserveIntoClosedSession(t *testing.T) {
	manager, mem, _ := newTestManager(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))

	committed, err := manager.StartSession(ctx, "shopper-1")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, committed.SessionID, "sku-a", 1)
	require.NoError(t, err)
	_, err = manager.CommitSession(ctx, committed.SessionID)
	require.NoError(t, err)

	// The session bought its holds; new reserves must not attach to it.
	_, err = manager.Reserve(ctx, committed.SessionID, "sku-a", 1)
	assert.ErrorIs(t, err, ErrSessionClosed)

	released, err := manager.StartSession(ctx, "shopper-2")
	require.NoError(t, err)
	_, err = manager.Reserve(ctx, released.SessionID, "sku-a", 1)
	require.NoError(t, err)
	require.NoError(t, manager.ReleaseSession(ctx, released.SessionID, models.ReleaseReasonAbandoned))

	_, err = manager.Reserve(ctx, released.SessionID, "sku-a", 1)
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.Equal(t, 4, available(t, mem, "sku-a"))
}
