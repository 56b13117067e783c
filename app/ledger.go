// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pixelpress/pixelpress/adapters/metrics"
	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/ports"
)

// LedgerService owns the reserve/commit/release lifecycle of quota units.
// A unit is taken from a pool at reserve time through an atomic conditional
// update in the store, so no two concurrent reservations can both win the
// last unit. Commit finalizes; release refunds. Both resolve the
// reservation exactly once.
type LedgerService struct {
	creds   ports.CredentialStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	metrics *metrics.Collector
	log     zerolog.Logger
}

// NewLedgerService creates a ledger service.
func NewLedgerService(creds ports.CredentialStore, clock ports.Clock, idGen ports.IDGenerator, m *metrics.Collector, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		creds:   creds,
		clock:   clock,
		idGen:   idGen,
		metrics: m,
		log:     log.With().Str("component", "ledger").Logger(),
	}
}

// state projects a credential's quota counters into the pure domain type.
func state(c credential.Credential) quota.State {
	return quota.State{
		MonthlyLimit:     c.MonthlyLimit,
		MonthlyUsed:      c.MonthlyUsed,
		PurchasedCredits: c.PurchasedCredits,
		ResetAt:          c.ResetAt,
	}
}

// Rollover lazily resets the monthly cycle when the stored reset time has
// passed, and returns the credential as it stands afterwards. Purchased
// credits survive the rollover untouched.
func (s *LedgerService) Rollover(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	now := s.clock.Now()
	if !quota.NeedsRollover(state(c), now) {
		return c, nil
	}

	next := quota.NextReset(now)
	if err := s.creds.ResetCycle(ctx, c.ID, next); err != nil {
		return c, fmt.Errorf("reset cycle for %s: %w", c.ID, err)
	}

	s.log.Info().
		Str("credential_id", c.ID).
		Time("next_reset", next).
		Msg("monthly cycle rolled over")

	// Re-read so the caller sees the post-rollover counters. ResetCycle
	// is conditional in the store, so a concurrent rollover is harmless.
	fresh, err := s.creds.Get(ctx, c.ID)
	if err != nil {
		return c, fmt.Errorf("reload after rollover: %w", err)
	}
	return fresh, nil
}

// Reserve claims one unit for the request under hard enforcement. The
// monthly allowance is drawn down first; purchased credits only once the
// allowance is gone. When every pool is empty it returns a quota-exceeded
// error carrying the reset time, and no state is mutated.
func (s *LedgerService) Reserve(ctx context.Context, c credential.Credential, requestID string) (*quota.Reservation, *apierror.Error) {
	now := s.clock.Now()

	ok, err := s.creds.ConsumeMonthly(ctx, c.ID)
	if err != nil {
		s.log.Error().Err(err).Str("credential_id", c.ID).Msg("monthly consume failed")
		return nil, apierror.Internal()
	}
	pool := quota.PoolMonthly

	if !ok {
		ok, err = s.creds.ConsumePurchased(ctx, c.ID)
		if err != nil {
			s.log.Error().Err(err).Str("credential_id", c.ID).Msg("purchased consume failed")
			return nil, apierror.Internal()
		}
		pool = quota.PoolPurchased
	}

	if !ok {
		s.metrics.QuotaRejections.WithLabelValues(c.PlanTier).Inc()
		s.log.Info().
			Str("credential_id", c.ID).
			Str("plan", c.PlanTier).
			Int64("used", c.MonthlyUsed).
			Int64("limit", c.MonthlyLimit).
			Msg("quota exhausted")
		return nil, apierror.QuotaExceeded(c.MonthlyUsed, c.MonthlyLimit, c.ResetAt, now)
	}

	s.metrics.ReservationsOpen.Inc()
	return &quota.Reservation{
		ID:        s.idGen.New(),
		KeyID:     c.ID,
		TenantID:  c.TenantID,
		RequestID: requestID,
		Pool:      pool,
		Amount:    1,
		TakenAt:   now,
	}, nil
}

// CheckSoft evaluates the tenant's position under soft enforcement without
// reserving. Over-limit tenants are admitted and flagged; the unit is
// applied at commit time instead.
func (s *LedgerService) CheckSoft(c credential.Credential) quota.SoftResult {
	res := quota.CheckSoft(state(c))
	if res.WouldBlock {
		s.metrics.SoftOverages.Inc()
		s.log.Warn().
			Str("credential_id", c.ID).
			Str("plan", c.PlanTier).
			Int64("used", res.Used).
			Int64("limit", res.Limit).
			Msg("soft quota exceeded, admitting anyway")
	}
	return res
}

// Commit finalizes a reservation after successful processing. It is
// idempotent: repeated commits of the same reservation are no-ops, and a
// commit after a release is also a no-op.
func (s *LedgerService) Commit(ctx context.Context, r *quota.Reservation) {
	if r == nil || !r.Resolve() {
		return
	}
	s.metrics.ReservationsOpen.Dec()
	s.metrics.CommitsTotal.WithLabelValues(string(r.Pool)).Inc()
}

// CommitSoft applies the deferred unit for a soft-mode request. The counter
// may exceed the limit; that overshoot is the point of soft mode.
func (s *LedgerService) CommitSoft(ctx context.Context, c credential.Credential) {
	if err := s.creds.IncrementUsed(ctx, c.ID); err != nil {
		s.log.Error().Err(err).Str("credential_id", c.ID).Msg("soft increment failed")
		return
	}
	s.metrics.CommitsTotal.WithLabelValues(string(quota.PoolMonthly)).Inc()
}

// Release refunds a reservation whose request failed after admission. Like
// Commit it resolves the reservation at most once.
func (s *LedgerService) Release(ctx context.Context, r *quota.Reservation) {
	if r == nil || !r.Resolve() {
		return
	}
	s.metrics.ReservationsOpen.Dec()

	if err := s.creds.Refund(ctx, r.KeyID, r.Pool); err != nil {
		// The unit is lost to the tenant until the next cycle. Worth a
		// loud log line but not a request failure.
		s.log.Error().Err(err).
			Str("reservation_id", r.ID).
			Str("pool", string(r.Pool)).
			Msg("refund failed")
		return
	}
	s.metrics.ReleasesTotal.Inc()
}

// Snapshot reads the tenant's current position for response headers and
// the usage endpoint.
func (s *LedgerService) Snapshot(ctx context.Context, credentialID string) (quota.Snapshot, error) {
	c, err := s.creds.Get(ctx, credentialID)
	if err != nil {
		return quota.Snapshot{}, fmt.Errorf("load credential %s: %w", credentialID, err)
	}
	st := state(c)
	return quota.Snapshot{
		Used:      st.MonthlyUsed,
		Limit:     st.MonthlyLimit,
		Remaining: quota.Remaining(st),
	}, nil
}
