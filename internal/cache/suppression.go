package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signal-engine/internal/logging"
)

// RedisConfig holds Redis connection settings for the suppression cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// SuppressionEntry records the last alert sent for a key so repeats within
// the validity window can be deduplicated.
type SuppressionEntry struct {
	Grade     string    `json:"grade"`
	Direction string    `json:"direction"`
	SentAt    time.Time `json:"sent_at"`
}

// SuppressionCache is the alert send-suppression store keyed
// "alert:<symbol>:<strategyID>:<direction>". Redis is preferred so
// suppression survives restarts; when Redis is unavailable or disabled the
// cache degrades to an in-memory map and keeps working.
type SuppressionCache struct {
	client *redis.Client
	log    zerolog.Logger

	mu       sync.Mutex
	healthy  bool
	failures int
	local    map[string]localEntry
}

type localEntry struct {
	val       SuppressionEntry
	expiresAt time.Time
}

const suppressionMaxFailures = 3

// NewSuppressionCache connects to Redis when enabled; a failed initial ping
// leaves the cache in degraded (in-memory) mode rather than erroring.
func NewSuppressionCache(cfg RedisConfig) *SuppressionCache {
	sc := &SuppressionCache{
		log:   logging.Component("suppression-cache"),
		local: make(map[string]localEntry),
	}
	if !cfg.Enabled {
		return sc
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 5
	}
	sc.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.client.Ping(ctx).Err(); err != nil {
		sc.log.Warn().Err(err).Msg("redis unavailable, suppression cache degraded to memory")
		return sc
	}
	sc.healthy = true
	sc.log.Info().Str("addr", cfg.Address).Msg("redis connected")
	return sc
}

// SuppressionKey builds the cache key for a (symbol, strategy, direction).
func SuppressionKey(symbol, strategyID, direction string) string {
	return fmt.Sprintf("alert:%s:%s:%s", symbol, strategyID, direction)
}

// Get returns the active suppression entry for a key, if any.
func (sc *SuppressionCache) Get(ctx context.Context, key string) (*SuppressionEntry, bool) {
	if sc.useRedis() {
		var e SuppressionEntry
		err := sc.client.Get(ctx, key).Scan(&scanWrapper{&e})
		if err == nil {
			sc.recordSuccess()
			return &e, true
		}
		if err == redis.Nil {
			sc.recordSuccess()
			return nil, false
		}
		sc.recordFailure(err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	le, ok := sc.local[key]
	if !ok || time.Now().After(le.expiresAt) {
		delete(sc.local, key)
		return nil, false
	}
	return &le.val, true
}

// Set stores a suppression entry with the given TTL. The in-memory map is
// always written so a Redis outage mid-run does not drop dedup state.
func (sc *SuppressionCache) Set(ctx context.Context, key string, e SuppressionEntry, ttl time.Duration) {
	sc.mu.Lock()
	sc.local[key] = localEntry{val: e, expiresAt: time.Now().Add(ttl)}
	sc.mu.Unlock()

	if sc.useRedis() {
		if err := sc.client.Set(ctx, key, &scanWrapper{&e}, ttl).Err(); err != nil {
			sc.recordFailure(err)
		} else {
			sc.recordSuccess()
		}
	}
}

// Healthy reports whether the Redis backend is currently in use.
func (sc *SuppressionCache) Healthy() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.healthy
}

// Close releases the Redis connection.
func (sc *SuppressionCache) Close() error {
	if sc.client != nil {
		return sc.client.Close()
	}
	return nil
}

func (sc *SuppressionCache) useRedis() bool {
	if sc.client == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.healthy
}

func (sc *SuppressionCache) recordFailure(err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.failures++
	if sc.failures >= suppressionMaxFailures && sc.healthy {
		sc.healthy = false
		sc.log.Warn().Err(err).Msg("redis marked unhealthy, falling back to memory")
	}
}

func (sc *SuppressionCache) recordSuccess() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.failures = 0
	sc.healthy = sc.client != nil
}

// scanWrapper adapts SuppressionEntry to the redis client's binary
// marshalling hooks via JSON.
type scanWrapper struct {
	e *SuppressionEntry
}

func (w *scanWrapper) MarshalBinary() ([]byte, error) {
	return json.Marshal(w.e)
}

func (w *scanWrapper) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, w.e)
}
