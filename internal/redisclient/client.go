package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps the shared Redis connection. All keys are namespaced by
// school id so one instance serves every tenant without leakage.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(schoolID, userID string) string {
	return fmt.Sprintf("cart:%s:%s", schoolID, userID)
}

// GetCart returns the serialized cart for a user, or "" if absent
func (c *Client) GetCart(ctx context.Context, schoolID, userID string) (string, error) {
	val, err := c.rdb.Get(ctx, cartKey(schoolID, userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// SetCart stores the serialized cart for a user
func (c *Client) SetCart(ctx context.Context, schoolID, userID, payload string) error {
	return c.rdb.Set(ctx, cartKey(schoolID, userID), payload, 0).Err()
}

// DeleteCart removes a user's cart
func (c *Client) DeleteCart(ctx context.Context, schoolID, userID string) error {
	return c.rdb.Del(ctx, cartKey(schoolID, userID)).Err()
}

func checkoutKey(intentID string) string {
	return fmt.Sprintf("pendingcheckout:%s", intentID)
}

// StagePendingCheckout stores a card checkout awaiting the gateway
// redirect, expiring after ttl so abandoned payments leave no state.
func (c *Client) StagePendingCheckout(ctx context.Context, intentID, payload string, ttl time.Duration) error {
	return c.rdb.Set(ctx, checkoutKey(intentID), payload, ttl).Err()
}

// TakePendingCheckout atomically fetches and removes a staged checkout.
// Returns "" if the stage expired or was never created.
func (c *Client) TakePendingCheckout(ctx context.Context, intentID string) (string, error) {
	val, err := c.rdb.GetDel(ctx, checkoutKey(intentID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func resetKey(token string) string {
	return fmt.Sprintf("pwreset:%s", token)
}

// StageResetToken parks a one-time password reset token against the
// account it was issued for, expiring after ttl.
func (c *Client) StageResetToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, resetKey(token), userID, ttl).Err()
}

// TakeResetToken atomically consumes a reset token and returns the
// account id it belongs to, or "" when the token expired, was already
// used, or never existed.
func (c *Client) TakeResetToken(ctx context.Context, token string) (string, error) {
	val, err := c.rdb.GetDel(ctx, resetKey(token)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func revokedKey(jti string) string {
	return fmt.Sprintf("revoked:%s", jti)
}

// RevokeToken denylists a token id until its natural expiry. Used for
// sign-out and for school switches, which must invalidate the session
// before any further backend call.
func (c *Client) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

// IsTokenRevoked checks the denylist for a token id
func (c *Client) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
