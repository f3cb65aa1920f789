package service

import (
	"context"
	"testing"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCheckout(ttl time.Duration) (*CheckoutService, *store.MemoryStore, *captureSink) {
	manager, mem, sink := newTestManager(ttl)
	return NewCheckoutService(manager, sink), mem, sink
}

func TestBeginCheckoutHoldsAllItems(t *testing.T) {
	checkout, mem, sink := newTestCheckout(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	require.NoError(t, mem.UpsertInventory(ctx, "sku-b", 3))

	session, reservations, err := checkout.BeginCheckout(ctx, &BeginCheckoutRequest{
		OwnerID: "shopper-1",
		Items: []CheckoutItem{
			{SkuID: "sku-a", Qty: 2},
			{SkuID: "sku-b", Qty: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, reservations, 2)

	// One shared deadline across the batch.
	for _, r := range reservations {
		assert.Equal(t, session.ExpiresAt, r.ExpiresAt)
		assert.Equal(t, session.SessionID, r.SessionID)
	}

	assert.Equal(t, 3, available(t, mem, "sku-a"))
	assert.Equal(t, 2, available(t, mem, "sku-b"))

	require.Len(t, sink.started, 1)
	assert.Len(t, sink.started[0].Items, 2)
}

func TestBeginCheckoutRollsBackPartialHolds(t *testing.T) {
	checkout, mem, _ := newTestCheckout(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))
	require.NoError(t, mem.UpsertInventory(ctx, "sku-b", 1))

	_, _, err := checkout.BeginCheckout(ctx, &BeginCheckoutRequest{
		OwnerID: "shopper-1",
		Items: []CheckoutItem{
			{SkuID: "sku-a", Qty: 2},
			{SkuID: "sku-b", Qty: 4}, // more than on hand
		},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	// The hold on sku-a must not survive the failed begin.
	assert.Equal(t, 5, available(t, mem, "sku-a"))
	assert.Equal(t, 1, available(t, mem, "sku-b"))
}

func TestBeginCheckoutEmpty(t *testing.T) {
	checkout, _, _ := newTestCheckout(time.Minute)

	_, _, err := checkout.BeginCheckout(context.Background(), &BeginCheckoutRequest{
		OwnerID: "shopper-1",
	})
	assert.ErrorIs(t, err, ErrEmptyCheckout)
}

func TestAbandonReturnsStock(t *testing.T) {
	checkout, mem, sink := newTestCheckout(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))

	session, _, err := checkout.BeginCheckout(ctx, &BeginCheckoutRequest{
		OwnerID: "shopper-1",
		Items:   []CheckoutItem{{SkuID: "sku-a", Qty: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, available(t, mem, "sku-a"))

	require.NoError(t, checkout.Abandon(ctx, session.SessionID))
	assert.Equal(t, 5, available(t, mem, "sku-a"))

	require.Len(t, sink.released, 1)
	assert.Equal(t, models.ReleaseReasonAbandoned, sink.released[0].Reason)
}

func TestCommitDelegates(t *testing.T) {
	checkout, mem, _ := newTestCheckout(time.Minute)
	ctx := context.Background()

	require.NoError(t, mem.UpsertInventory(ctx, "sku-a", 5))

	session, _, err := checkout.BeginCheckout(ctx, &BeginCheckoutRequest{
		OwnerID: "shopper-1",
		Items:   []CheckoutItem{{SkuID: "sku-a", Qty: 2}},
	})
	require.NoError(t, err)

	result, err := checkout.Commit(ctx, session.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderRef)

	inv, err := mem.GetInventory(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 3, inv.OnHandQty)
	assert.Equal(t, 0, inv.ReservedQty)
}
