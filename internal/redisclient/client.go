package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"village-store/internal/models"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrCacheMiss is returned when a key is not cached
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleCart is returned when the cart was invalidated after the caller read its version
	ErrStaleCart = errors.New("cart cache version changed")
)

// IdempotencyPending is stored under an idempotency key while its checkout is in flight
const IdempotencyPending = "pending"

const (
	cartTTL        = 15 * time.Minute
	cartVersionTTL = 24 * time.Hour
	catalogTTL     = 5 * time.Minute
	catalogPattern = "catalog:*"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
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

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetCart returns the cached cart view for a user
func (c *Client) GetCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := c.getJSON(ctx, cartKey(userID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CartVersion returns the invalidation counter for a user's cart; a missing counter reads as zero
func (c *Client) CartVersion(ctx context.Context, userID string) (int64, error) {
	version, err := c.rdb.Get(ctx, cartVersionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return version, nil
}

// SetCart caches the cart view for a user if no invalidation happened since version was read.
// The TTL carries jitter so entries written together do not expire together.
func (c *Client) SetCart(ctx context.Context, userID string, version int64, items []models.CartItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	versionKey := cartVersionKey(userID)

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get failed: %w", err)
		}
		if current != version {
			return ErrStaleCart
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cartKey(userID), data, cartTTL+jitter)
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleCart
	}
	if err != nil && !errors.Is(err, ErrStaleCart) {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return err
}

// InvalidateCart drops the cached cart view for a user and bumps its version
func (c *Client) InvalidateCart(ctx context.Context, userID string) error {
	versionKey := cartVersionKey(userID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, cartVersionTTL)
		pipe.Del(ctx, cartKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// GetInStockProducts returns a cached in-stock product sample of the given size
func (c *Client) GetInStockProducts(ctx context.Context, limit int) ([]models.Product, error) {
	var products []models.Product
	if err := c.getJSON(ctx, catalogKey(limit), &products); err != nil {
		return nil, err
	}
	return products, nil
}

// SetInStockProducts caches an in-stock product sample
func (c *Client) SetInStockProducts(ctx context.Context, limit int, products []models.Product) error {
	return c.setJSON(ctx, catalogKey(limit), products, catalogTTL)
}

// InvalidateCatalog drops every cached product sample and returns how many keys were removed
func (c *Client) InvalidateCatalog(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, catalogPattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis delete failed: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// ReserveIdempotencyKey claims a key for an in-flight checkout. It reports false when the key is already taken.
func (c *Client) ReserveIdempotencyKey(ctx context.Context, userID, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, idempotencyKey(userID, key), IdempotencyPending, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseIdempotencyKey drops a reservation that never produced an order
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, userID, key string) error {
	k := idempotencyKey(userID, key)
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if val != IdempotencyPending {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

// SetIdempotencyKey maps a client idempotency key to the order it produced
func (c *Client) SetIdempotencyKey(ctx context.Context, userID, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(userID, key), orderID, ttl).Err()
}

// GetIdempotencyKey returns the order id recorded for a key, IdempotencyPending while it is reserved, or ErrCacheMiss
func (c *Client) GetIdempotencyKey(ctx context.Context, userID, key string) (string, error) {
	orderID, err := c.rdb.Get(ctx, idempotencyKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return orderID, nil
}

func (c *Client) getJSON(ctx context.Context, key string, dst interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (c *Client) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func cartVersionKey(userID string) string {
	return fmt.Sprintf("cart_version:%s", userID)
}

func catalogKey(limit int) string {
	return fmt.Sprintf("catalog:in_stock:%d", limit)
}

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", userID, key)
}
