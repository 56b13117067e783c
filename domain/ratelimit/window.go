// Package ratelimit provides a pure fixed-window rate limiter.
// The admission pipeline checks it per credential before any quota work, so
// a single noisy key cannot monopolize validation and ledger round-trips.
package ratelimit

import "time"

// Config holds the per-plan rate limit (value type).
type Config struct {
	Limit  int           // requests per window; 0 disables the check
	Window time.Duration // window duration
}

// WindowState is the current window for a credential (value type).
type WindowState struct {
	Count     int
	WindowEnd time.Time
}

// Result is the outcome of a rate limit check (value type).
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Check performs a rate limit check. Deterministic: same state, config and
// clock always produce the same result. The caller persists newState.
func Check(state WindowState, cfg Config, now time.Time) (Result, WindowState) {
	if cfg.Limit <= 0 {
		return Result{Allowed: true, Remaining: -1}, state
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	if state.WindowEnd.IsZero() || now.After(state.WindowEnd) {
		state = WindowState{WindowEnd: now.Truncate(window).Add(window)}
	}

	if state.Count < cfg.Limit {
		state.Count++
		return Result{
			Allowed:   true,
			Remaining: cfg.Limit - state.Count,
			ResetAt:   state.WindowEnd,
		}, state
	}

	retryAfter := state.WindowEnd.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    state.WindowEnd,
		RetryAfter: retryAfter,
	}, state
}
