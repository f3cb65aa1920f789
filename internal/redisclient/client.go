package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/commit_stock.lua
var commitStockScript string

// Client mirrors the inventory counters in Redis for fast display reads.
// The database row stays authoritative for admission; the mirror is
// updated best-effort after the authoritative write succeeds.
type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(skuID string) string {
	return fmt.Sprintf("inventory:%s", skuID)
}

// MirrorReserve applies a reservation to the mirror
func (c *Client) MirrorReserve(ctx context.Context, skuID string, qty int) error {
	_, err := c.reserveScript.Run(ctx, c.rdb, []string{inventoryKey(skuID)}, qty).Result()
	if err != nil {
		return fmt.Errorf("reserve stock script failed: %w", err)
	}
	return nil
}

// MirrorRelease applies a release to the mirror
func (c *Client) MirrorRelease(ctx context.Context, skuID string, qty int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{inventoryKey(skuID)}, qty).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	return nil
}

// MirrorCommit applies a permanent deduction to the mirror
func (c *Client) MirrorCommit(ctx context.Context, skuID string, qty int) error {
	_, err := c.commitScript.Run(ctx, c.rdb, []string{inventoryKey(skuID)}, qty).Result()
	if err != nil {
		return fmt.Errorf("commit stock script failed: %w", err)
	}
	return nil
}

// InitInventory seeds the mirror for one SKU
func (c *Client) InitInventory(ctx context.Context, skuID string, onHand, reserved int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, inventoryKey(skuID), "on_hand", onHand)
	pipe.HSet(ctx, inventoryKey(skuID), "reserved", reserved)

	_, err := pipe.Exec(ctx)
	return err
}

// GetAvailable reads the mirrored available quantity. Display only;
// admission decisions never come from here.
func (c *Client) GetAvailable(ctx context.Context, skuID string) (int, error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(skuID)).Result()
	if err != nil {
		return 0, err
	}
	if len(result) == 0 {
		return 0, fmt.Errorf("inventory not mirrored for sku %s", skuID)
	}

	var onHand, reserved int
	fmt.Sscanf(result["on_hand"], "%d", &onHand)
	fmt.Sscanf(result["reserved"], "%d", &reserved)

	return onHand - reserved, nil
}
