package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pixelpress/pixelpress/domain/usage"
	"github.com/pixelpress/pixelpress/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu     sync.RWMutex
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// RecordBatch stores multiple usage events.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// GetSummary returns aggregated usage for a period.
func (s *UsageStore) GetSummary(ctx context.Context, tenantID string, start, end time.Time) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			matched = append(matched, e)
		}
	}
	return usage.Aggregate(matched, start, end), nil
}

// GetRecentRequests returns the most recent events for a tenant.
func (s *UsageStore) GetRecentRequests(ctx context.Context, tenantID string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []usage.Event
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if s.events[i].TenantID == tenantID {
			result = append(result, s.events[i])
		}
	}
	return result, nil
}

// Len returns the number of stored events (tests).
func (s *UsageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
