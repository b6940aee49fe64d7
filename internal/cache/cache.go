// Package cache stores computed site views keyed by site, view and telemetry fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/resident-x/go-solarsight/internal/domain"
)

// KeyPrefix namespaces every key written by the service.
const KeyPrefix = "solarsight"

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Cache is a byte-oriented result cache.
type Cache interface {
	// Get returns the stored value and whether it was found
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value for the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key
	Delete(ctx context.Context, key string) error

	// Clear removes every key written under KeyPrefix
	Clear(ctx context.Context) error

	// Close releases backend resources
	Close() error
}

// Observer is notified of cache hits and misses.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Options selects and configures a cache backend.
type Options struct {
	Backend   string
	RedisAddr string
	RedisDB   int
	Observer  Observer
}

// New builds the cache for the configured backend.
func New(ctx context.Context, opts Options) (Cache, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryCache(opts.Observer), nil
	case BackendRedis:
		return NewRedisCache(ctx, opts.RedisAddr, opts.RedisDB, opts.Observer)
	case BackendNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", opts.Backend)
	}
}

// Key builds solarsight:<site>:<view>:<fingerprint>.
func Key(siteID string, view domain.View, fingerprint string) string {
	return strings.Join([]string{KeyPrefix, siteID, string(view), fingerprint}, ":")
}

// Fingerprint identifies a telemetry window. Two windows with the same samples share a fingerprint.
func Fingerprint(samples []domain.TelemetrySample) string {
	h := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}

	put(uint64(len(samples)))
	for _, s := range samples {
		put(uint64(s.Timestamp.UnixNano()))
		put(math.Float64bits(s.IrradianceWm2))
		put(math.Float64bits(s.ACOutputKW))
		put(math.Float64bits(s.CellTempC))
		put(math.Float64bits(s.AmbientTempC))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// GetJSON loads a cached value into dest. It reports whether the key was present.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error                     { return nil }
func (Noop) Clear(context.Context) error                              { return nil }
func (Noop) Close() error                                             { return nil }
