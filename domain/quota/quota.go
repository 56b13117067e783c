// Package quota provides pure functions for quota accounting.
// The ledger draws the monthly allowance down first; purchased credits are
// a buffer consumed only once the allowance is exhausted. All functions are
// deterministic with no side effects; atomic application of the numbers
// computed here is the store's job.
package quota

import (
	"sync/atomic"
	"time"
)

// EnforceMode determines how an exhausted quota is handled.
type EnforceMode string

const (
	// EnforceHard rejects requests once all pools are exhausted.
	EnforceHard EnforceMode = "hard"
	// EnforceSoft always admits but flags over-limit tenants for telemetry.
	// Used during a migration/rollout period.
	EnforceSoft EnforceMode = "soft"
)

// Valid reports whether the mode is a known enforcement mode.
func (m EnforceMode) Valid() bool {
	return m == EnforceHard || m == EnforceSoft
}

// Pool identifies which balance a unit is charged against.
type Pool string

const (
	PoolMonthly   Pool = "monthly"
	PoolPurchased Pool = "purchased"
	PoolSandbox   Pool = "sandbox"
)

// State is a tenant's quota position at a point in time (value type).
type State struct {
	MonthlyLimit     int64 // -1 = unlimited
	MonthlyUsed      int64
	PurchasedCredits int64
	ResetAt          time.Time
}

// Remaining returns the total billable units still available:
// (allowance - used) + purchased credits. Negative allowance balance (soft
// mode overshoot) eats into the purchased buffer. Unlimited plans report -1.
func Remaining(s State) int64 {
	if s.MonthlyLimit < 0 {
		return -1
	}
	return (s.MonthlyLimit - s.MonthlyUsed) + s.PurchasedCredits
}

// SelectPool chooses the pool the next unit should be charged to, applying
// the monthly-allowance-first policy. ok is false when every pool is empty.
func SelectPool(s State) (pool Pool, ok bool) {
	if s.MonthlyLimit < 0 || s.MonthlyUsed < s.MonthlyLimit {
		return PoolMonthly, true
	}
	if s.PurchasedCredits > 0 {
		return PoolPurchased, true
	}
	return "", false
}

// SoftResult is the outcome of a soft-mode check. Allowed is always true;
// WouldBlock flags tenants that hard mode would have rejected.
type SoftResult struct {
	Allowed    bool
	WouldBlock bool
	Used       int64
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
}

// CheckSoft evaluates a tenant's position without mutating anything.
func CheckSoft(s State) SoftResult {
	remaining := Remaining(s)
	return SoftResult{
		Allowed:    true,
		WouldBlock: s.MonthlyLimit >= 0 && remaining <= 0,
		Used:       s.MonthlyUsed,
		Limit:      s.MonthlyLimit,
		Remaining:  remaining,
		ResetAt:    s.ResetAt,
	}
}

// NeedsRollover reports whether the billing cycle has elapsed.
func NeedsRollover(s State, now time.Time) bool {
	return !s.ResetAt.IsZero() && !now.Before(s.ResetAt)
}

// NextReset returns the start of the next billing period: midnight UTC on
// the first of the following month.
func NextReset(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// RetryAfter returns how long until the quota resets, never negative.
func RetryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot is the usage summary included in success responses.
type Snapshot struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// Reservation is an in-flight claim on one quota unit. It exists only for
// the duration of a request and must be resolved exactly once, by commit or
// by release.
type Reservation struct {
	ID        string
	KeyID     string
	TenantID  string
	RequestID string
	Pool      Pool
	Amount    int64
	TakenAt   time.Time

	resolved atomic.Bool
}

// Resolve marks the reservation as settled. The first call returns true;
// every subsequent call returns false, which makes commit and release
// idempotent and mutually exclusive.
func (r *Reservation) Resolve() bool {
	return r.resolved.CompareAndSwap(false, true)
}

// Resolved reports whether the reservation has been committed or released.
func (r *Reservation) Resolved() bool {
	return r.resolved.Load()
}
