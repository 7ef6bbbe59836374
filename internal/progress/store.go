package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// SNAPSHOT STORE (Redis with in-memory fallback)
// =============================================================================
// The latest event of each task is kept as a snapshot so status polls and
// late-attaching subscribers can see where a task stands without replaying
// the stream. Works with or without Redis; falls back to an in-memory map.

const (
	snapshotTTL       = 24 * time.Hour
	snapshotKeyPrefix = "extract:progress:"
)

// Store persists the most recent event per task.
type Store struct {
	redis *redis.Client // optional

	mu    sync.RWMutex
	local map[string]Event
}

// NewStore creates a snapshot store. client may be nil.
func NewStore(client *redis.Client) *Store {
	return &Store{
		redis: client,
		local: make(map[string]Event),
	}
}

func (s *Store) hasRedis() bool {
	return s.redis != nil
}

func (s *Store) key(taskID string) string {
	return snapshotKeyPrefix + taskID
}

// Save records evt as the task's latest snapshot.
func (s *Store) Save(ctx context.Context, evt Event) {
	if s.hasRedis() {
		data, _ := json.Marshal(evt)
		s.redis.Set(ctx, s.key(evt.TaskID), data, snapshotTTL)
	}
	s.mu.Lock()
	s.local[evt.TaskID] = evt
	s.mu.Unlock()
}

// Load returns the task's latest snapshot, nil when none was recorded.
func (s *Store) Load(ctx context.Context, taskID string) *Event {
	if s.hasRedis() {
		data, err := s.redis.Get(ctx, s.key(taskID)).Bytes()
		if err == nil {
			var evt Event
			if json.Unmarshal(data, &evt) == nil {
				return &evt
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if evt, ok := s.local[taskID]; ok {
		return &evt
	}
	return nil
}

// Delete removes the task's snapshot.
func (s *Store) Delete(ctx context.Context, taskID string) {
	if s.hasRedis() {
		s.redis.Del(ctx, s.key(taskID))
	}
	s.mu.Lock()
	delete(s.local, taskID)
	s.mu.Unlock()
}
