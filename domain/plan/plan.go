// Package plan provides plan limit value types and the plan catalog.
// Limits are immutable at request time; the catalog is rebuilt wholesale on
// a configuration reload and swapped atomically by the caller.
package plan

import (
	"strings"
	"time"

	"github.com/pixelpress/pixelpress/domain/apierror"
)

// Limits describes what a plan tier permits (immutable value type).
type Limits struct {
	Tier           string
	MaxFileSize    int64 // bytes
	MaxPixels      int64 // width * height
	MaxOperations  int   // per request; compression always counts as 1
	MonthlyLimit   int64 // billable units per billing period, -1 = unlimited
	RateLimit      int   // requests per window, 0 = default
	RateWindow     time.Duration
	AllowedFormats []string // lowercase extensions without dot
}

// IsUnlimited reports whether the plan has no monthly cap.
func IsUnlimited(l Limits) bool {
	return l.MonthlyLimit < 0
}

// AllowsFormat reports whether a format is permitted on this plan.
// Comparison is case-insensitive; "jpg" and "jpeg" are equivalent.
func (l Limits) AllowsFormat(format string) bool {
	f := Normalize(format)
	for _, allowed := range l.AllowedFormats {
		if Normalize(allowed) == f {
			return true
		}
	}
	return false
}

// Normalize lowercases a format name and folds jpeg to jpg.
func Normalize(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	if f == "jpeg" {
		return "jpg"
	}
	return f
}

// Catalog maps plan tiers to their limits. Safe for concurrent reads from
// any number of callers; never mutated after construction.
type Catalog struct {
	limits map[string]Limits
}

// NewCatalog builds a catalog from a list of plan limits.
func NewCatalog(plans []Limits) *Catalog {
	m := make(map[string]Limits, len(plans))
	for _, p := range plans {
		m[p.Tier] = p
	}
	return &Catalog{limits: m}
}

// LimitsFor returns the limits for a plan tier. An unregistered tier is a
// configuration defect, reported as an unknown-plan error.
func (c *Catalog) LimitsFor(tier string) (Limits, error) {
	l, ok := c.limits[tier]
	if !ok {
		return Limits{}, apierror.UnknownPlan(tier)
	}
	return l, nil
}

// Tiers returns the registered tier names.
func (c *Catalog) Tiers() []string {
	tiers := make([]string, 0, len(c.limits))
	for t := range c.limits {
		tiers = append(tiers, t)
	}
	return tiers
}

// Len returns the number of registered plans.
func (c *Catalog) Len() int {
	return len(c.limits)
}
