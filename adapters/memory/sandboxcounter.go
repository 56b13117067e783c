package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pixelpress/pixelpress/ports"
)

// SandboxCounter is a size-bounded in-memory counter for sandbox traffic,
// keyed by credential prefix or client IP per UTC day. It is intentionally
// non-persistent: sandbox accounting resets on restart and never touches
// the real ledger.
type SandboxCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	day     string // UTC day the counts belong to
	maxKeys int
}

// SandboxCounterConfig configures the counter.
type SandboxCounterConfig struct {
	MaxKeys int // size bound; default 10000
}

// NewSandboxCounter creates a new sandbox counter.
func NewSandboxCounter(cfg SandboxCounterConfig) *SandboxCounter {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &SandboxCounter{
		counts:  make(map[string]int64),
		maxKeys: cfg.MaxKeys,
	}
}

// TryIncrement counts one sandbox request for the key and reports whether
// the daily limit still admits it. Counts roll over at UTC midnight. When
// the key table is full, new keys are admitted without counting; the bound
// protects memory, not billing, since sandbox traffic is free either way.
func (s *SandboxCounter) TryIncrement(ctx context.Context, key string, limit int64, now time.Time) (bool, error) {
	day := now.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.day != day {
		s.counts = make(map[string]int64)
		s.day = day
	}

	count, ok := s.counts[key]
	if !ok && len(s.counts) >= s.maxKeys {
		return true, nil
	}

	if limit > 0 && count >= limit {
		return false, nil
	}

	s.counts[key] = count + 1
	return true, nil
}

// Len returns the number of tracked keys (tests).
func (s *SandboxCounter) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}

// Ensure interface compliance.
var _ ports.SandboxCounter = (*SandboxCounter)(nil)
