package staging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
)

// SessionStore holds at most one staging batch per session. Put replaces any
// existing batch; Get returns nil when the session has none or it expired.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.StagingBatch, error)
	Put(ctx context.Context, sessionID string, batch *models.StagingBatch) error
	Delete(ctx context.Context, sessionID string) error
}

// DefaultTTL is how long a staged batch survives without confirmation.
const DefaultTTL = 30 * time.Minute

type memoryEntry struct {
	batch   *models.StagingBatch
	expires time.Time
}

// MemoryStore keeps batches in process memory, evicting them lazily once
// their TTL passes.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns a copy of the session's batch.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*models.StagingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sessionID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, sessionID)
		return nil, nil
	}
	return e.batch.Clone(), nil
}

// Put stores a copy of batch for the session.
func (m *MemoryStore) Put(_ context.Context, sessionID string, batch *models.StagingBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	m.entries[sessionID] = memoryEntry{batch: batch.Clone(), expires: m.now().Add(m.ttl)}
	return nil
}

// Delete drops the session's batch.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of unexpired batches.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.entries)
}

func (m *MemoryStore) sweepLocked() {
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}
}

// RedisStore keeps batches in Redis as JSON with a key TTL, so staged uploads
// survive a dashboard restart.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, prefix: "ibkr-dashboard:staging:"}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrapf(err, "failed to connect to Redis at %s", addr)
	}
	return NewRedisStore(client, ttl), nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

// Get loads and decodes the session's batch.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*models.StagingBatch, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get staging batch")
	}

	var batch models.StagingBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, apperrors.Wrap(err, "invalid staging batch")
	}
	return &batch, nil
}

// Put encodes the batch and stores it with the configured TTL.
func (r *RedisStore) Put(ctx context.Context, sessionID string, batch *models.StagingBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode staging batch")
	}
	if err := r.client.Set(ctx, r.key(sessionID), data, r.ttl).Err(); err != nil {
		return apperrors.Wrap(err, "failed to store staging batch")
	}
	return nil
}

// Delete removes the session's batch.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return apperrors.Wrap(err, "failed to delete staging batch")
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
