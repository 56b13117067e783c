// Package usage provides usage event types and aggregation functions.
// Events double as the reservation audit trail: every reservation outcome
// (committed, released, soft overage) is recorded as an event.
package usage

import (
	"time"

	"github.com/pixelpress/pixelpress/domain/quota"
)

// Outcome classifies how a job finished.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed" // billable, unit consumed
	OutcomeReleased  Outcome = "released"  // reservation refunded
	OutcomeRejected  Outcome = "rejected"  // failed before a reservation
	OutcomeSandbox   Outcome = "sandbox"   // isolated pool, never billed
)

// Event represents a single processed request (immutable value type).
type Event struct {
	ID             string
	KeyID          string
	TenantID       string
	RequestID      string
	Outcome        Outcome
	ErrorCode      string // empty on success
	Pool           quota.Pool
	Operations     []string
	OriginalBytes  int64
	OptimizedBytes int64
	LatencyMs      int64
	Sandbox        bool
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// Billable reports whether the event consumed a quota unit.
func (e Event) Billable() bool {
	return e.Outcome == OutcomeCommitted
}

// Summary aggregates events over a period (value type).
type Summary struct {
	TenantID       string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	RequestCount   int64
	BillableCount  int64
	SandboxCount   int64
	ErrorCount     int64
	BytesIn        int64
	BytesOut       int64
	BytesSaved     int64
	AvgLatencyMs   int64
	MonthlyUnits   int64
	PurchasedUnits int64
}

// Aggregate combines events into a summary. This is a pure function.
func Aggregate(events []Event, periodStart, periodEnd time.Time) Summary {
	s := Summary{PeriodStart: periodStart, PeriodEnd: periodEnd}
	if len(events) == 0 {
		return s
	}

	var totalLatency int64
	for _, e := range events {
		if s.TenantID == "" {
			s.TenantID = e.TenantID
		}

		s.RequestCount++
		s.BytesIn += e.OriginalBytes
		s.BytesOut += e.OptimizedBytes
		totalLatency += e.LatencyMs

		switch {
		case e.Billable():
			s.BillableCount++
			s.BytesSaved += e.OriginalBytes - e.OptimizedBytes
			switch e.Pool {
			case quota.PoolMonthly:
				s.MonthlyUnits++
			case quota.PoolPurchased:
				s.PurchasedUnits++
			}
		case e.Sandbox:
			s.SandboxCount++
		}

		if e.ErrorCode != "" {
			s.ErrorCount++
		}
	}

	s.AvgLatencyMs = totalLatency / s.RequestCount
	return s
}
