// Package claim records which poller owns a batch so a batch the queue hands
// out twice is executed once.
package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/config"
)

const (
	defaultPrefix = "taskingbot:batch"
	defaultTTL    = 10 * time.Minute
)

// Store claims batch ids for an owner.
type Store interface {
	// Claim returns false when another owner, or an earlier claim by the same
	// owner, already holds batchID.
	Claim(ctx context.Context, batchID, owner string, ttl time.Duration) (bool, error)
	// Release drops a claim held by owner. Releasing an absent claim is a no-op.
	Release(ctx context.Context, batchID, owner string) error
}

func validate(batchID, owner string) (string, string, error) {
	batchID = strings.TrimSpace(batchID)
	owner = strings.TrimSpace(owner)
	if batchID == "" {
		return "", "", errors.New("batch id is required")
	}
	if owner == "" {
		return "", "", errors.New("owner is required")
	}
	return batchID, owner, nil
}

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// Memory is a process-local store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Claim(_ context.Context, batchID, owner string, ttl time.Duration) (bool, error) {
	batchID, owner, err := validate(batchID, owner)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	if _, held := m.entries[batchID]; held {
		return false, nil
	}
	m.entries[batchID] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memory) Release(_ context.Context, batchID, owner string) error {
	batchID, owner, err := validate(batchID, owner)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[batchID]; ok && e.owner == owner {
		delete(m.entries, batchID)
	}
	return nil
}

// Redis shares claims between bridge instances.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = defaultPrefix
	}
	return &Redis{client: client, prefix: normalized}
}

func (r *Redis) Claim(ctx context.Context, batchID, owner string, ttl time.Duration) (bool, error) {
	batchID, owner, err := validate(batchID, owner)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	ok, err := r.client.SetNX(ctx, r.key(batchID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, batchID, owner string) error {
	batchID, owner, err := validate(batchID, owner)
	if err != nil {
		return err
	}
	_, err = releaseScript.Run(ctx, r.client, []string{r.key(batchID)}, owner).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("claim release: %w", err)
	}
	return nil
}

func (r *Redis) key(batchID string) string {
	return r.prefix + ":claim:" + batchID
}

var releaseScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if not existing then
  return 0
end
if existing == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// FromConfig opens the configured backend. The returned close function
// releases any connection.
func FromConfig(ctx context.Context, cfg config.ClaimsConfig, logger *zap.Logger) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("claims.redis_addr is required for the redis backend")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		if logger != nil {
			logger.Info("batch claims backed by redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		}
		return NewRedis(client, cfg.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown claims backend %q", cfg.Backend)
	}
}
