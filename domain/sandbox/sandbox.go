// Package sandbox provides pure classification of test traffic.
// Sandbox requests run under stricter limits and are accounted against an
// isolated counter, never against a tenant's real pools.
package sandbox

import (
	"github.com/pixelpress/pixelpress/domain/credential"
	"github.com/pixelpress/pixelpress/domain/plan"
)

// ModeHeader and ModeQuery are the request fields that opt into sandbox mode.
const (
	ModeHeader = "X-Mode"
	ModeQuery  = "mode"
	ModeValue  = "sandbox"
)

// Limits is the sandbox limit set, stricter than any production plan.
type Limits struct {
	MaxFileSize    int64
	MaxPixels      int64
	MaxOperations  int
	DailyLimit     int64 // requests per key or IP per day
	AllowedFormats []string
}

// DefaultLimits returns the stock sandbox limits: 1MB files, 4MP images,
// 2 operations, 100 requests per day.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:    1 << 20,
		MaxPixels:      4_000_000,
		MaxOperations:  2,
		DailyLimit:     100,
		AllowedFormats: []string{"jpg", "jpeg", "png"},
	}
}

// PlanLimits adapts the sandbox limit set to the plan shape so validation
// runs identically for sandbox and production traffic.
func (l Limits) PlanLimits() plan.Limits {
	return plan.Limits{
		Tier:           "sandbox",
		MaxFileSize:    l.MaxFileSize,
		MaxPixels:      l.MaxPixels,
		MaxOperations:  l.MaxOperations,
		MonthlyLimit:   0,
		AllowedFormats: l.AllowedFormats,
	}
}

// Metadata is the subset of request metadata classification looks at.
type Metadata struct {
	ModeHeader string // value of the X-Mode header
	ModeQuery  string // value of the mode query parameter
	RawKey     string // the raw API key, if any
}

// Context is the classification outcome, attached to the request for the
// rest of the pipeline.
type Context struct {
	Sandbox bool
	Limits  plan.Limits
}

// Classify determines whether a request is sandbox traffic. Evaluated once
// per request; the result is threaded explicitly through the pipeline.
// This is a pure function.
func Classify(meta Metadata, limits Limits) Context {
	isSandbox := meta.ModeHeader == ModeValue ||
		meta.ModeQuery == ModeValue ||
		credential.IsSandboxKey(meta.RawKey)

	if !isSandbox {
		return Context{}
	}
	return Context{Sandbox: true, Limits: limits.PlanLimits()}
}
