package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/pixelpress/pixelpress/domain/ratelimit"
	"github.com/pixelpress/pixelpress/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu    sync.RWMutex
	state map[string]ratelimit.WindowState
}

// RateLimitStore is a sharded in-memory rate limit store. Sharding keeps
// lock contention low when many credentials hit the gateway at once.
type RateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// RateLimitStoreConfig configures the store.
type RateLimitStoreConfig struct {
	NumShards       int           // default 32
	CleanupInterval time.Duration // default 5m
}

// NewRateLimitStore creates a new sharded in-memory rate limit store.
func NewRateLimitStore(cfg RateLimitStoreConfig) *RateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &RateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &rateLimitShard{state: make(map[string]ratelimit.WindowState)}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

func (s *RateLimitStore) getShard(keyID string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(keyID))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves current rate limit state for a credential.
func (s *RateLimitStore) Get(ctx context.Context, keyID string) (ratelimit.WindowState, error) {
	shard := s.getShard(keyID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.state[keyID], nil
}

// Set updates rate limit state for a credential.
func (s *RateLimitStore) Set(ctx context.Context, keyID string, state ratelimit.WindowState) error {
	shard := s.getShard(keyID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.state[keyID] = state
	return nil
}

// cleanupLoop drops windows that ended in the past.
func (s *RateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			now := time.Now()
			for _, shard := range s.shards {
				shard.mu.Lock()
				for k, st := range shard.state {
					if now.After(st.WindowEnd) {
						delete(shard.state, k)
					}
				}
				shard.mu.Unlock()
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the background cleanup.
func (s *RateLimitStore) Close() {
	s.closeOnce.Do(func() {
		s.cleanup.Stop()
		close(s.done)
	})
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)
