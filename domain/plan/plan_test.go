package plan_test

import (
	"errors"
	"testing"

	"github.com/pixelpress/pixelpress/domain/apierror"
	"github.com/pixelpress/pixelpress/domain/plan"
)

func testCatalog() *plan.Catalog {
	return plan.NewCatalog([]plan.Limits{
		{Tier: "free", MaxFileSize: 5 << 20, MaxOperations: 1, MonthlyLimit: 500, AllowedFormats: []string{"jpg", "png"}},
		{Tier: "pro", MaxFileSize: 25 << 20, MaxOperations: 3, MonthlyLimit: 10000, AllowedFormats: []string{"jpg", "png", "webp"}},
	})
}

func TestCatalog_LimitsFor(t *testing.T) {
	c := testCatalog()

	limits, err := c.LimitsFor("pro")
	if err != nil {
		t.Fatalf("LimitsFor(pro) error: %v", err)
	}
	if limits.MaxOperations != 3 {
		t.Errorf("MaxOperations = %d, want 3", limits.MaxOperations)
	}
}

func TestCatalog_UnknownTier(t *testing.T) {
	c := testCatalog()

	_, err := c.LimitsFor("enterprise")
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}

	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *apierror.Error", err)
	}
	if apiErr.Kind != apierror.KindUnknownPlan {
		t.Errorf("kind = %v, want KindUnknownPlan", apiErr.Kind)
	}
	if apiErr.Status != 500 {
		t.Errorf("status = %d, want 500", apiErr.Status)
	}
}

func TestCatalog_Tiers(t *testing.T) {
	c := testCatalog()
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if len(c.Tiers()) != 2 {
		t.Errorf("Tiers() = %v, want 2 entries", c.Tiers())
	}
}

func TestAllowsFormat(t *testing.T) {
	l := plan.Limits{AllowedFormats: []string{"jpg", "png", "webp"}}

	tests := []struct {
		format string
		want   bool
	}{
		{"jpg", true},
		{"JPG", true},
		{"jpeg", true}, // alias of jpg
		{"png", true},
		{"webp", true},
		{"avif", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := l.AllowsFormat(tt.format); got != tt.want {
			t.Errorf("AllowsFormat(%q) = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"JPEG", "jpg"},
		{"jpeg", "jpg"},
		{"jpg", "jpg"},
		{"PNG", "png"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := plan.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
