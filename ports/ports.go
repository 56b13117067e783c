// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/domain/ratelimit"
	"github.com/pixelpress/pixelpress/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// CredentialStore persists tenant credentials and their quota counters.
// Every mutation of a credential's balances goes through the atomic
// operations below; callers never read-then-write a balance themselves.
// All operations are required to be linearizable per credential.
type CredentialStore interface {
	// Get retrieves a credential by ID.
	Get(ctx context.Context, id string) (credential.Credential, error)

	// GetByPrefix retrieves credentials matching a lookup prefix.
	GetByPrefix(ctx context.Context, prefix string) ([]credential.Credential, error)

	// Create stores a new credential.
	Create(ctx context.Context, c credential.Credential) error

	// SetActive enables or disables a credential.
	SetActive(ctx context.Context, id string, active bool) error

	// List returns all credentials (management CLI).
	List(ctx context.Context) ([]credential.Credential, error)

	// UpdateLastUsed updates the last-used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error

	// ConsumeMonthly atomically increments the monthly used count if and
	// only if the allowance is not exhausted (check-and-decrement, not
	// check-then-decrement). Returns false without mutating when the
	// allowance is used up.
	ConsumeMonthly(ctx context.Context, id string) (bool, error)

	// ConsumePurchased atomically decrements the purchased credit balance
	// if and only if it is positive. Returns false without mutating when
	// the balance is zero.
	ConsumePurchased(ctx context.Context, id string) (bool, error)

	// Refund returns one previously consumed unit to the given pool.
	Refund(ctx context.Context, id string, pool quota.Pool) error

	// IncrementUsed unconditionally increments the monthly used count.
	// Soft enforcement only: the count may exceed the allowance.
	IncrementUsed(ctx context.Context, id string) error

	// AddPurchasedCredits tops up the purchased credit balance.
	AddPurchasedCredits(ctx context.Context, id string, amount int64) error

	// ResetCycle zeroes the monthly used count and advances the reset
	// timestamp. The purchased balance is untouched.
	ResetCycle(ctx context.Context, id string, nextReset time.Time) error
}

// UsageStore persists usage events and summaries.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// GetSummary returns aggregated usage for a period.
	GetSummary(ctx context.Context, tenantID string, start, end time.Time) (usage.Summary, error)

	// GetRecentRequests returns recent request logs.
	GetRecentRequests(ctx context.Context, tenantID string, limit int) ([]usage.Event, error)
}

// RateLimitStore persists rate limit window state.
type RateLimitStore interface {
	// Get retrieves current rate limit state for a credential.
	Get(ctx context.Context, keyID string) (ratelimit.WindowState, error)

	// Set updates rate limit state for a credential.
	Set(ctx context.Context, keyID string, state ratelimit.WindowState) error
}

// -----------------------------------------------------------------------------
// Concurrency Ports
// -----------------------------------------------------------------------------

// Gate bounds how many processing jobs run simultaneously process-wide.
// Created once at startup and shared by every request path.
type Gate interface {
	// Acquire blocks until a slot is free, serving waiters in strict FIFO
	// order. It returns the context's error if the caller is cancelled
	// while waiting; a cancelled waiter never consumes a slot.
	Acquire(ctx context.Context) error

	// Release returns a slot, waking the longest-waiting caller if any.
	// Must be called exactly once per successful Acquire.
	Release()

	// Capacity returns the configured maximum number of slots.
	Capacity() int64

	// InUse returns the number of slots currently held.
	InUse() int64
}

// SandboxCounter tracks sandbox traffic against a per-key daily cap. It is
// isolated from the ledger: incrementing it never touches real pools.
type SandboxCounter interface {
	// TryIncrement counts one sandbox request for the key and reports
	// whether the daily limit still admits it.
	TryIncrement(ctx context.Context, key string, limit int64, now time.Time) (bool, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// Processor is the external image-processing collaborator. It consumes a
// raw buffer plus the requested operations and returns the transformed
// buffer with its metadata.
type Processor interface {
	// Probe returns image metadata from a cheap header-only decode,
	// without decoding pixel data.
	Probe(data []byte) (job.ImageMeta, error)

	// Process applies the requested operations. Failures are corrupted-
	// input or unsupported-operation errors from domain/apierror.
	Process(ctx context.Context, data []byte, params job.Params) ([]byte, job.ImageMeta, error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing. Non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}
