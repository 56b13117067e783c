package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelpress/pixelpress/adapters/metrics"
	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/job"
	"github.com/pixelpress/pixelpress/domain/plan"
	"github.com/pixelpress/pixelpress/domain/quota"
	"github.com/pixelpress/pixelpress/domain/ratelimit"
	"github.com/pixelpress/pixelpress/domain/sandbox"
	"github.com/pixelpress/pixelpress/domain/usage"
	"github.com/pixelpress/pixelpress/ports"
)

// AdmissionService runs the per-request pipeline: authenticate, classify,
// validate, reserve a quota unit, wait for a processing slot, process, then
// settle the reservation. Each stage either advances the request or
// rejects it with a typed error; there are no other exits.
type AdmissionService struct {
	creds     ports.CredentialStore
	ledger    *LedgerService
	gate      ports.Gate
	processor ports.Processor
	rateLimit ports.RateLimitStore
	sandboxes ports.SandboxCounter
	usage     ports.UsageRecorder
	clock     ports.Clock
	idGen     ports.IDGenerator
	metrics   *metrics.Collector
	log       zerolog.Logger

	// Dynamic configuration (hot-reloadable)
	dynamicCfg atomic.Pointer[DynamicConfig]
}

// DynamicConfig contains hot-reloadable configuration.
type DynamicConfig struct {
	Catalog       *plan.Catalog
	Mode          quota.EnforceMode
	SandboxLimits sandbox.Limits
	RateWindow    time.Duration
}

// AdmissionDeps contains dependencies for AdmissionService.
type AdmissionDeps struct {
	Creds     ports.CredentialStore
	Ledger    *LedgerService
	Gate      ports.Gate
	Processor ports.Processor
	RateLimit ports.RateLimitStore
	Sandboxes ports.SandboxCounter
	Usage     ports.UsageRecorder
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Metrics   *metrics.Collector
	Log       zerolog.Logger
}

// NewAdmissionService creates an admission service with its initial
// dynamic configuration.
func NewAdmissionService(deps AdmissionDeps, cfg DynamicConfig) *AdmissionService {
	s := &AdmissionService{
		creds:     deps.Creds,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		processor: deps.Processor,
		rateLimit: deps.RateLimit,
		sandboxes: deps.Sandboxes,
		usage:     deps.Usage,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		metrics:   deps.Metrics,
		log:       deps.Log.With().Str("component", "admission").Logger(),
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps the hot-reloadable configuration. Safe to call while
// requests are in flight; each request reads the pointer once at entry.
func (s *AdmissionService) UpdateConfig(cfg DynamicConfig) {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	s.dynamicCfg.Store(&cfg)
}

func (s *AdmissionService) getDynamicConfig() *DynamicConfig {
	return s.dynamicCfg.Load()
}

// Admit runs one request through the full pipeline.
func (s *AdmissionService) Admit(ctx context.Context, req job.Request) (job.Result, *apierror.Error) {
	start := s.clock.Now()
	dynCfg := s.getDynamicConfig()

	// 1. Input present (PURE)
	if len(req.Data) == 0 {
		return job.Result{}, apierror.Validation(
			apierror.CodeNoImage, "No image file provided", 400, nil)
	}

	// 2. Sandbox classification (PURE)
	sbCtx := sandbox.Classify(sandbox.Metadata{
		ModeHeader: req.ModeHeader,
		ModeQuery:  req.ModeQuery,
		RawKey:     req.APIKey,
	}, dynCfg.SandboxLimits)

	// 3. Authenticate (I/O + bcrypt). Sandbox traffic may be anonymous;
	// everything else needs a valid key.
	var cred credential.Credential
	authenticated := false
	if req.APIKey != "" {
		c, apiErr := s.authenticate(ctx, req.APIKey, start)
		if apiErr != nil {
			s.reject(req, sbCtx, apiErr, start)
			return job.Result{}, apiErr
		}
		cred = c
		authenticated = true
	} else if !sbCtx.Sandbox {
		s.metrics.AuthFailures.WithLabelValues(credential.ReasonNotFound).Inc()
		apiErr := apierror.InvalidKey()
		s.reject(req, sbCtx, apiErr, start)
		return job.Result{}, apiErr
	}

	// 4. Resolve plan limits (PURE) - sandbox limits override the plan.
	limits := sbCtx.Limits
	if !sbCtx.Sandbox {
		var err error
		limits, err = dynCfg.Catalog.LimitsFor(cred.PlanTier)
		if err != nil {
			apiErr := apierror.From(err)
			s.log.Error().Str("plan", cred.PlanTier).Msg("credential references unknown plan")
			s.reject(req, sbCtx, apiErr, start)
			return job.Result{}, apiErr
		}
	}

	// 5. Rate limit (PURE + I/O for window state), production keys only.
	if authenticated && !sbCtx.Sandbox && limits.RateLimit > 0 {
		rlCfg := ratelimit.Config{Limit: limits.RateLimit, Window: dynCfg.RateWindow}
		if limits.RateWindow > 0 {
			rlCfg.Window = limits.RateWindow
		}
		rlState, _ := s.rateLimit.Get(ctx, cred.ID)
		rlResult, newState := ratelimit.Check(rlState, rlCfg, start)
		s.rateLimit.Set(ctx, cred.ID, newState)
		if !rlResult.Allowed {
			apiErr := apierror.RateLimited(rlCfg.Limit, rlCfg.Window, rlResult.RetryAfter)
			s.reject(req, sbCtx, apiErr, start)
			return job.Result{}, apiErr
		}
	}

	// 6. Sandbox daily cap (I/O). Counted against the key when there is
	// one, otherwise against the caller's address.
	if sbCtx.Sandbox {
		s.metrics.SandboxRequests.Inc()
		counterKey := "ip:" + req.RemoteIP
		if authenticated {
			counterKey = cred.ID
		}
		allowed, err := s.sandboxes.TryIncrement(ctx, counterKey, dynCfg.SandboxLimits.DailyLimit, start)
		if err != nil {
			s.log.Error().Err(err).Msg("sandbox counter failed")
			allowed = false
		}
		if !allowed {
			s.metrics.SandboxRejections.Inc()
			apiErr := apierror.SandboxLimit(dynCfg.SandboxLimits.DailyLimit)
			s.reject(req, sbCtx, apiErr, start)
			return job.Result{}, apiErr
		}
	}

	// 7. Probe the image header (cheap decode, no pixel data).
	meta, err := s.processor.Probe(req.Data)
	if err != nil {
		apiErr := apierror.From(err)
		s.reject(req, sbCtx, apiErr, start)
		return job.Result{}, apiErr
	}
	meta.Size = int64(len(req.Data))

	// 8. Validate against plan limits (PURE, deterministic order).
	if apiErr := job.Validate(req.Params, int64(len(req.Data)), meta, limits); apiErr != nil {
		s.reject(req, sbCtx, apiErr, start)
		return job.Result{}, apiErr
	}

	// 9. Claim a quota unit. Sandbox traffic never touches real pools;
	// soft mode defers the charge to the commit step.
	var reservation *quota.Reservation
	softMode := dynCfg.Mode == quota.EnforceSoft
	if !sbCtx.Sandbox {
		c, err := s.ledger.Rollover(ctx, cred)
		if err != nil {
			s.log.Error().Err(err).Msg("cycle rollover failed")
			apiErr := apierror.Internal()
			s.reject(req, sbCtx, apiErr, start)
			return job.Result{}, apiErr
		}
		cred = c

		if softMode {
			s.ledger.CheckSoft(cred)
		} else {
			var apiErr *apierror.Error
			reservation, apiErr = s.ledger.Reserve(ctx, cred, req.RequestID)
			if apiErr != nil {
				s.reject(req, sbCtx, apiErr, start)
				return job.Result{}, apiErr
			}
		}
	}

	// 10. Wait for a processing slot. A cancelled waiter releases its
	// reservation and never consumes a slot.
	waitStart := s.clock.Now()
	if err := s.gate.Acquire(ctx); err != nil {
		s.metrics.GateCancelledTotal.Inc()
		s.ledger.Release(ctx, reservation)
		apiErr := apierror.Timeout()
		s.recordOutcome(req, sbCtx, cred, usage.OutcomeReleased, apiErr.Code, nil, meta, job.ImageMeta{}, start)
		return job.Result{}, apiErr
	}
	s.metrics.GateAcquireTotal.Inc()
	s.metrics.GateWaitDuration.Observe(s.clock.Now().Sub(waitStart).Seconds())

	// 11. Process while holding the slot.
	out, outMeta, procErr := s.process(ctx, req.Data, req.Params)

	if procErr != nil {
		apiErr := apierror.From(procErr)
		if ctx.Err() != nil {
			apiErr = apierror.Timeout()
		}
		s.ledger.Release(ctx, reservation)
		s.metrics.ProcessErrors.WithLabelValues(apiErr.Kind.String()).Inc()
		s.recordOutcome(req, sbCtx, cred, usage.OutcomeReleased, apiErr.Code, nil, meta, job.ImageMeta{}, start)
		return job.Result{}, apiErr
	}

	// 12. Settle the ledger and build the success result.
	outcome := usage.OutcomeSandbox
	var pool quota.Pool
	if !sbCtx.Sandbox {
		outcome = usage.OutcomeCommitted
		if softMode {
			s.ledger.CommitSoft(ctx, cred)
			pool = quota.PoolMonthly
		} else {
			pool = reservation.Pool
			s.ledger.Commit(ctx, reservation)
		}
	} else {
		pool = quota.PoolSandbox
	}

	var snapshot quota.Snapshot
	if authenticated && !sbCtx.Sandbox {
		snap, err := s.ledger.Snapshot(ctx, cred.ID)
		if err != nil {
			s.log.Error().Err(err).Msg("usage snapshot failed")
		} else {
			snapshot = snap
		}
		// Last-used is advisory; never on the request path.
		go func(id string, at time.Time) {
			bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.creds.UpdateLastUsed(bg, id, at); err != nil {
				s.log.Debug().Err(err).Msg("last-used update failed")
			}
		}(cred.ID, start)
	}

	elapsed := s.clock.Now().Sub(start)
	result := job.Result{
		Data:       out,
		Original:   meta,
		Optimized:  outMeta,
		Savings:    job.ComputeSavings(meta.Size, outMeta.Size),
		Operations: job.OperationBreakdown(req.Params),
		Usage:      snapshot,
		Sandbox:    sbCtx.Sandbox,
		Duration:   elapsed,
	}

	s.recordOutcome(req, sbCtx, cred, outcome, "", &pool, meta, outMeta, start)
	s.metrics.RequestsTotal.WithLabelValues(string(outcome), planLabel(cred, sbCtx), sandboxLabel(sbCtx)).Inc()
	s.metrics.RequestDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	s.metrics.BytesSaved.Add(float64(result.Savings.Bytes))

	s.log.Info().
		Str("request_id", req.RequestID).
		Str("outcome", string(outcome)).
		Int64("original_bytes", meta.Size).
		Int64("optimized_bytes", outMeta.Size).
		Dur("elapsed", elapsed).
		Bool("sandbox", sbCtx.Sandbox).
		Msg("request admitted")

	return result, nil
}

// process runs the processor with the gate slot held, releasing the slot
// exactly once on every path.
func (s *AdmissionService) process(ctx context.Context, data []byte, params job.Params) ([]byte, job.ImageMeta, error) {
	defer s.gate.Release()
	procStart := s.clock.Now()
	out, outMeta, err := s.processor.Process(ctx, data, params)
	s.metrics.ProcessDuration.Observe(s.clock.Now().Sub(procStart).Seconds())
	if err != nil {
		return nil, job.ImageMeta{}, err
	}
	outMeta.Size = int64(len(out))
	return out, outMeta, nil
}

// authenticate resolves a raw API key to an active credential.
func (s *AdmissionService) authenticate(ctx context.Context, rawKey string, now time.Time) (credential.Credential, *apierror.Error) {
	prefix, valid := credential.ValidateFormat(rawKey)
	if !valid {
		s.metrics.AuthFailures.WithLabelValues(credential.ReasonBadFormat).Inc()
		return credential.Credential{}, apierror.InvalidKey()
	}

	candidates, err := s.creds.GetByPrefix(ctx, prefix)
	if err != nil || len(candidates) == 0 {
		s.metrics.AuthFailures.WithLabelValues(credential.ReasonNotFound).Inc()
		return credential.Credential{}, apierror.InvalidKey()
	}

	var matched credential.Credential
	found := false
	for _, c := range candidates {
		if c.Matches(rawKey) {
			matched = c
			found = true
			break
		}
	}
	if !found {
		s.metrics.AuthFailures.WithLabelValues(credential.ReasonNotFound).Inc()
		return credential.Credential{}, apierror.InvalidKey()
	}

	validation := credential.Validate(matched, now)
	if !validation.Valid {
		s.metrics.AuthFailures.WithLabelValues(validation.Reason).Inc()
		if validation.Reason == credential.ReasonSuspended {
			return credential.Credential{}, apierror.Suspended()
		}
		return credential.Credential{}, apierror.InvalidKey()
	}

	return matched, nil
}

// Status returns the tenant's current quota position for the usage
// endpoint, applying a lazy cycle rollover on read.
func (s *AdmissionService) Status(ctx context.Context, rawKey string) (quota.Snapshot, credential.Credential, *apierror.Error) {
	now := s.clock.Now()
	cred, apiErr := s.authenticate(ctx, rawKey, now)
	if apiErr != nil {
		return quota.Snapshot{}, credential.Credential{}, apiErr
	}

	cred, err := s.ledger.Rollover(ctx, cred)
	if err != nil {
		s.log.Error().Err(err).Msg("cycle rollover failed")
		return quota.Snapshot{}, credential.Credential{}, apierror.Internal()
	}

	snap, err := s.ledger.Snapshot(ctx, cred.ID)
	if err != nil {
		return quota.Snapshot{}, credential.Credential{}, apierror.Internal()
	}
	return snap, cred, nil
}

// reject records a pre-reservation rejection: telemetry only, no pools
// were touched.
func (s *AdmissionService) reject(req job.Request, sbCtx sandbox.Context, apiErr *apierror.Error, start time.Time) {
	elapsed := s.clock.Now().Sub(start)
	s.metrics.RequestsTotal.WithLabelValues(string(usage.OutcomeRejected), "", sandboxLabel(sbCtx)).Inc()
	s.metrics.RequestDuration.WithLabelValues(string(usage.OutcomeRejected)).Observe(elapsed.Seconds())

	s.usage.Record(usage.Event{
		ID:            s.idGen.New(),
		RequestID:     req.RequestID,
		Outcome:       usage.OutcomeRejected,
		ErrorCode:     apiErr.Code,
		OriginalBytes: int64(len(req.Data)),
		LatencyMs:     elapsed.Milliseconds(),
		Sandbox:       sbCtx.Sandbox,
		IPAddress:     req.RemoteIP,
		UserAgent:     req.UserAgent,
		Timestamp:     start,
	})

	s.log.Info().
		Str("request_id", req.RequestID).
		Str("code", apiErr.Code).
		Int("status", apiErr.Status).
		Bool("sandbox", sbCtx.Sandbox).
		Msg("request rejected")
}

// recordOutcome emits the usage event for a request that got past
// admission checks.
func (s *AdmissionService) recordOutcome(req job.Request, sbCtx sandbox.Context, cred credential.Credential, outcome usage.Outcome, errorCode string, pool *quota.Pool, original, optimized job.ImageMeta, start time.Time) {
	e := usage.Event{
		ID:             s.idGen.New(),
		KeyID:          cred.ID,
		TenantID:       cred.TenantID,
		RequestID:      req.RequestID,
		Outcome:        outcome,
		ErrorCode:      errorCode,
		Operations:     job.OperationBreakdown(req.Params),
		OriginalBytes:  original.Size,
		OptimizedBytes: optimized.Size,
		LatencyMs:      s.clock.Now().Sub(start).Milliseconds(),
		Sandbox:        sbCtx.Sandbox,
		IPAddress:      req.RemoteIP,
		UserAgent:      req.UserAgent,
		Timestamp:      start,
	}
	if pool != nil {
		e.Pool = *pool
	}
	s.usage.Record(e)
}

func planLabel(cred credential.Credential, sbCtx sandbox.Context) string {
	if sbCtx.Sandbox {
		return "sandbox"
	}
	return cred.PlanTier
}

func sandboxLabel(sbCtx sandbox.Context) string {
	if sbCtx.Sandbox {
		return "true"
	}
	return "false"
}
