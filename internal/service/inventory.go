package service

import (
	"context"
	"fmt"

	"reservation-service/internal/models"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"go.uber.org/zap"
)

// Inventory fronts the authoritative stock counters. Every admission
// decision goes through the store's atomic conditional update; the Redis
// mirror only serves display reads and is updated best-effort after the
// authoritative write lands, never the other way around.
type Inventory struct {
	store  store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewInventory creates the inventory front. redis may be nil, in which
// case all reads come from the store.
func NewInventory(st store.Store, redis *redisclient.Client) *Inventory {
	return &Inventory{
		store:  st,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// TryReserve atomically holds qty units of a SKU
func (inv *Inventory) TryReserve(ctx context.Context, skuID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "Inventory.TryReserve")
	defer span.End()

	if err := inv.store.TryReserve(ctx, skuID, qty); err != nil {
		return err
	}

	if inv.redis != nil {
		if err := inv.redis.MirrorReserve(ctx, skuID, qty); err != nil {
			inv.logger.Warn("Failed to mirror reservation to Redis",
				zap.String("sku_id", skuID),
				zap.Error(err))
		}
	}
	return nil
}

// Release returns qty held units of a SKU to the pool
func (inv *Inventory) Release(ctx context.Context, skuID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "Inventory.Release")
	defer span.End()

	if err := inv.store.ReleaseStock(ctx, skuID, qty); err != nil {
		return err
	}
	inv.mirrorRelease(ctx, skuID, qty)
	return nil
}

// MirrorReleased propagates already-persisted releases to the Redis mirror
func (inv *Inventory) MirrorReleased(ctx context.Context, released []models.Reservation) {
	for _, r := range released {
		inv.mirrorRelease(ctx, r.SkuID, r.Qty)
	}
}

// MirrorCommitted propagates already-persisted commits to the Redis mirror
func (inv *Inventory) MirrorCommitted(ctx context.Context, committed []models.Reservation) {
	if inv.redis == nil {
		return
	}
	for _, r := range committed {
		if err := inv.redis.MirrorCommit(ctx, r.SkuID, r.Qty); err != nil {
			inv.logger.Warn("Failed to mirror commit to Redis",
				zap.String("sku_id", r.SkuID),
				zap.Error(err))
		}
	}
}

func (inv *Inventory) mirrorRelease(ctx context.Context, skuID string, qty int) {
	if inv.redis == nil {
		return
	}
	if err := inv.redis.MirrorRelease(ctx, skuID, qty); err != nil {
		inv.logger.Warn("Failed to mirror release to Redis",
			zap.String("sku_id", skuID),
			zap.Error(err))
	}
}

// GetAvailable returns the displayable available quantity, served from
// the Redis mirror when warm. Display only; never a reservation decision.
func (inv *Inventory) GetAvailable(ctx context.Context, skuID string) (int, error) {
	if inv.redis != nil {
		if available, err := inv.redis.GetAvailable(ctx, skuID); err == nil {
			return available, nil
		}
	}

	row, err := inv.store.GetInventory(ctx, skuID)
	if err != nil {
		return 0, err
	}
	return row.Available(), nil
}

// SetStock sets the on-hand quantity for a SKU (restock/publish path)
// and refreshes the mirror.
func (inv *Inventory) SetStock(ctx context.Context, skuID string, onHandQty int) error {
	if onHandQty < 0 {
		return ErrInvalidQuantity
	}
	if err := inv.store.UpsertInventory(ctx, skuID, onHandQty); err != nil {
		return err
	}

	if inv.redis != nil {
		row, err := inv.store.GetInventory(ctx, skuID)
		if err != nil {
			return err
		}
		if err := inv.redis.InitInventory(ctx, skuID, row.OnHandQty, row.ReservedQty); err != nil {
			inv.logger.Warn("Failed to refresh Redis mirror",
				zap.String("sku_id", skuID),
				zap.Error(err))
		}
	}
	return nil
}

// SyncToRedis seeds the mirror from the authoritative counters on startup
func (inv *Inventory) SyncToRedis(ctx context.Context) error {
	if inv.redis == nil {
		return nil
	}
	inv.logger.Info("Starting inventory sync to Redis")

	rows, err := inv.store.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}

	for _, row := range rows {
		if err := inv.redis.InitInventory(ctx, row.SkuID, row.OnHandQty, row.ReservedQty); err != nil {
			inv.logger.Error("Failed to init Redis inventory",
				zap.String("sku_id", row.SkuID),
				zap.Error(err))
		}
	}

	inv.logger.Info("Inventory sync completed", zap.Int("count", len(rows)))
	return nil
}
