package qr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	qrcode "github.com/skip2/go-qrcode"
)

const keyPrefix = "qr:token:"

// Cache maps QR tokens to reservation ids in Redis with a short TTL so
// check-in resolves in O(1). The token also lives on the Reservation
// record, so every cache failure is recoverable.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a token cache on the given Redis client.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Set stores the token → reservation mapping.
func (c *Cache) Set(ctx context.Context, token string, reservationID int64) error {
	if err := c.rdb.Set(ctx, keyPrefix+token, reservationID, c.ttl).Err(); err != nil {
		return fmt.Errorf("qr cache set: %w", err)
	}
	return nil
}

// Lookup resolves a token. The second return is false on a clean miss.
func (c *Cache) Lookup(ctx context.Context, token string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("qr cache lookup: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("qr cache holds malformed id %q: %w", val, err)
	}
	return id, true, nil
}

// Invalidate removes a consumed or revoked token.
func (c *Cache) Invalidate(ctx context.Context, token string) error {
	if err := c.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("qr cache invalidate: %w", err)
	}
	return nil
}

// RenderPNG encodes a token as a QR code PNG for display at the door
// reader.
func RenderPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}
