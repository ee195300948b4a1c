// Package cache provides an optional Redis-backed snapshot cache.
//
// A restarted process can serve channels from the cache before its first
// upstream fetch, and the web and bot processes can share one parsed playlist.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nybots/iptv-hub/internal/constants"
	"github.com/nybots/iptv-hub/internal/playlist"
)

// snapshotKey is where the JSON-encoded snapshot lives in Redis.
const snapshotKey = "iptv-hub:snapshot"

// ErrMiss is returned when no valid snapshot is cached.
var ErrMiss = errors.New("snapshot not in cache")

// Config holds the configuration for connecting to Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// redisCmdable is the slice of the go-redis client the cache uses. It exists
// so tests can inject a fake without a running Redis.
type redisCmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis caches playlist snapshots with a TTL.
type Redis struct {
	client redisCmdable
	ttl    time.Duration
}

type options struct {
	client redisCmdable
	ttl    time.Duration
}

// Options represents an optional function to override Redis cache default values.
type Options func(*options)

// WithClient injects a pre-built client. Used in tests.
func WithClient(client redisCmdable) Options {
	return func(o *options) {
		o.client = client
	}
}

// WithTTL overrides the snapshot expiry.
func WithTTL(ttl time.Duration) Options {
	return func(o *options) {
		o.ttl = ttl
	}
}

// New creates a snapshot cache and validates the connection with a ping.
func New(ctx context.Context, cfg Config, args ...Options) (*Redis, error) {
	opts := options{
		ttl: constants.DefaultCacheTTL,
	}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		opts.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if val, err := opts.client.Ping(pingCtx).Result(); err != nil {
		opts.client.Close()
		return nil, fmt.Errorf("unable to ping Redis: %v", err)
	} else if val != "PONG" {
		opts.client.Close()
		return nil, fmt.Errorf("unexpected PING response: %q", val)
	}

	slog.Info("Successfully pinged Redis", "addr", cfg.Addr)
	return &Redis{client: opts.client, ttl: opts.ttl}, nil
}

// Save stores the snapshot under the snapshot key with the configured TTL.
func (c *Redis) Save(ctx context.Context, snapshot *playlist.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %v", err)
	}

	if err := c.client.Set(ctx, snapshotKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %v", err)
	}
	return nil
}

// Load returns the cached snapshot, or ErrMiss when none is stored.
func (c *Redis) Load(ctx context.Context) (*playlist.Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached snapshot: %v", err)
	}

	var snapshot playlist.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %v", err)
	}
	return &snapshot, nil
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
