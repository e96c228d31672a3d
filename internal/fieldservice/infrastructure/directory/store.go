package directory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists the last good directory snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

const (
	defaultSnapshotKey = "fieldsync:directory:snapshot"
	defaultSnapshotTTL = 24 * time.Hour
)

// RedisSnapshotStore keeps the snapshot as one JSON value in Redis.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a Redis-backed store.
func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, key: defaultSnapshotKey, ttl: defaultSnapshotTTL}
}

// WithKey overrides the Redis key.
func (s *RedisSnapshotStore) WithKey(key string) *RedisSnapshotStore {
	if key != "" {
		s.key = key
	}
	return s
}

// Load returns the stored snapshot, or nil if there is none.
func (s *RedisSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get directory snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, errors.Wrap(err, "decode directory snapshot")
	}
	return &snap, nil
}

// Save overwrites the stored snapshot.
func (s *RedisSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode directory snapshot")
	}
	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

// MemorySnapshotStore is an in-process store for tests and local mode.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

// Load returns a copy of the stored snapshot.
func (s *MemorySnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	return &cp, nil
}

// Save stores a copy of snap.
func (s *MemorySnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snap = &cp
	return nil
}
