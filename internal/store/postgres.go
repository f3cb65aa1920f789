package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore is the authoritative Store backed by Postgres.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore connects to the database and verifies the connection
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, logger: util.GetLogger()}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// UpsertInventory sets on-hand stock for a SKU (restock/publish path)
func (s *PostgresStore) UpsertInventory(ctx context.Context, skuID string, onHandQty int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sku_inventory (sku_id, on_hand_qty, reserved_qty, version)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (sku_id) DO UPDATE
		SET on_hand_qty = $2, version = sku_inventory.version + 1, updated_at = NOW()`,
		skuID, onHandQty)
	return err
}

// GetInventory retrieves counters for a SKU
func (s *PostgresStore) GetInventory(ctx context.Context, skuID string) (*models.SkuInventory, error) {
	var inv models.SkuInventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM sku_inventory WHERE sku_id = $1", skuID)
	if err == sql.ErrNoRows {
		return nil, ErrSkuNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListInventory retrieves counters for all SKUs
func (s *PostgresStore) ListInventory(ctx context.Context) ([]models.SkuInventory, error) {
	var invs []models.SkuInventory
	err := s.db.SelectContext(ctx, &invs, "SELECT * FROM sku_inventory ORDER BY sku_id")
	return invs, err
}

// TryReserve admits or rejects a hold in a single guarded UPDATE. The
// row lock taken by the UPDATE itself linearizes concurrent reservers;
// there is no separate read round-trip to lose updates across.
func (s *PostgresStore) TryReserve(ctx context.Context, skuID string, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sku_inventory
		SET reserved_qty = reserved_qty + $2, version = version + 1, updated_at = NOW()
		WHERE sku_id = $1 AND on_hand_qty - reserved_qty >= $2`,
		skuID, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetInventory(ctx, skuID); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}

// ReleaseStock returns reserved units to the available pool
func (s *PostgresStore) ReleaseStock(ctx context.Context, skuID string, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sku_inventory
		SET reserved_qty = reserved_qty - $2, version = version + 1, updated_at = NOW()
		WHERE sku_id = $1 AND reserved_qty >= $2`,
		skuID, qty)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetInventory(ctx, skuID); err != nil {
			return err
		}
		// A release that would drive reserved_qty negative is a caller bug.
		// Clamp to zero and alert rather than corrupting the counter.
		s.logger.Error("Release would drive reserved_qty negative, clamping",
			zap.String("sku_id", skuID),
			zap.Int("qty", qty))
		util.InvariantViolationsTotal.WithLabelValues("release_negative").Inc()

		_, err = s.db.ExecContext(ctx, `
			UPDATE sku_inventory
			SET reserved_qty = 0, version = version + 1, updated_at = NOW()
			WHERE sku_id = $1`,
			skuID)
		return err
	}
	return nil
}
