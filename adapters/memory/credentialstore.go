// Package memory provides in-memory implementations of storage ports,
// used for tests and single-process development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = ports.ErrNotFound

// CredentialStore is an in-memory implementation of ports.CredentialStore.
// A single mutex serializes the balance mutations, which gives the
// per-credential linearizability the port requires.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]credential.Credential // by ID
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]credential.Credential),
	}
}

// Get retrieves a credential by ID.
func (s *CredentialStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[id]
	if !ok {
		return credential.Credential{}, ErrNotFound
	}
	return c, nil
}

// GetByPrefix retrieves credentials matching a lookup prefix.
func (s *CredentialStore) GetByPrefix(ctx context.Context, prefix string) ([]credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []credential.Credential
	for _, c := range s.creds {
		if c.Prefix == prefix {
			result = append(result, c)
		}
	}
	return result, nil
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[c.ID] = c
	return nil
}

// SetActive enables or disables a credential.
func (s *CredentialStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.Active = active
	s.creds[id] = c
	return nil
}

// List returns all credentials.
func (s *CredentialStore) List(ctx context.Context) ([]credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]credential.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		result = append(result, c)
	}
	return result, nil
}

// UpdateLastUsed updates the last-used timestamp.
func (s *CredentialStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.LastUsedAt = &at
	s.creds[id] = c
	return nil
}

// ConsumeMonthly atomically takes one unit from the monthly allowance.
func (s *CredentialStore) ConsumeMonthly(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.MonthlyLimit >= 0 && c.MonthlyUsed >= c.MonthlyLimit {
		return false, nil
	}
	c.MonthlyUsed++
	s.creds[id] = c
	return true, nil
}

// ConsumePurchased atomically takes one unit from the purchased balance.
func (s *CredentialStore) ConsumePurchased(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.PurchasedCredits <= 0 {
		return false, nil
	}
	c.PurchasedCredits--
	s.creds[id] = c
	return true, nil
}

// Refund returns one unit to the given pool.
func (s *CredentialStore) Refund(ctx context.Context, id string, pool quota.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	switch pool {
	case quota.PoolMonthly:
		if c.MonthlyUsed > 0 {
			c.MonthlyUsed--
		}
	case quota.PoolPurchased:
		c.PurchasedCredits++
	}
	s.creds[id] = c
	return nil
}

// IncrementUsed unconditionally increments the monthly used count.
func (s *CredentialStore) IncrementUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.MonthlyUsed++
	s.creds[id] = c
	return nil
}

// AddPurchasedCredits tops up the purchased balance.
func (s *CredentialStore) AddPurchasedCredits(ctx context.Context, id string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.PurchasedCredits += amount
	s.creds[id] = c
	return nil
}

// ResetCycle zeroes the monthly used count and advances the reset
// timestamp. Purchased credits are untouched.
func (s *CredentialStore) ResetCycle(ctx context.Context, id string, nextReset time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.MonthlyUsed = 0
	c.ResetAt = nextReset
	s.creds[id] = c
	return nil
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)
