// Package redisstore implements lease.Store on Redis so that observers on
// different hosts can share one lease namespace.
package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/store"
)

// scanCount is the COUNT hint passed to SCAN during GetAll.
const scanCount = 256

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int

	// KeyTTL, when positive, expires every written key after this long so
	// that leases of crashed processes do not linger. It must exceed the
	// longest lease TTL in use.
	KeyTTL time.Duration

	Logger *slog.Logger
}

// Store is a lease.Store backed by Redis strings.
type Store struct {
	client redis.UniversalClient
	keyTTL time.Duration
	logger *slog.Logger
	owned  bool
}

var _ lease.Store = (*Store)(nil)

// New connects to Redis and returns a store that owns the client.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := NewFromClient(client, opts)
	s.owned = true
	return s
}

// NewFromClient wraps an existing client. Close leaves the client open.
func NewFromClient(client redis.UniversalClient, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		keyTTL: opts.KeyTTL,
		logger: logger,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.NewError(store.OpPing, "", err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Get implements lease.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, store.NewError(store.OpGet, key, err)
	}
	return v, true, nil
}

// Set implements lease.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, s.keyTTL).Err(); err != nil {
		return store.NewError(store.OpSet, key, err)
	}
	return nil
}

// Remove implements lease.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return store.NewError(store.OpRemove, key, err)
	}
	return nil
}

// GetAll implements lease.Store. Keys are discovered with SCAN and read
// with MGET; a key deleted between the two is skipped.
func (s *Store) GetAll(ctx context.Context, prefix string) (map[string]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, store.NewError(store.OpGetAll, prefix, err)
	}

	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.NewError(store.OpGetAll, prefix, err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = str
	}
	s.logger.Debug("redis lease namespace read", "prefix", prefix, "keys", len(out))
	return out, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
