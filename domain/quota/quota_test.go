package quota_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pixelpress/pixelpress/domain/quota"
)

var baseTime = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestRemaining(t *testing.T) {
	tests := []struct {
		name  string
		state quota.State
		want  int64
	}{
		{"fresh allowance", quota.State{MonthlyLimit: 100, MonthlyUsed: 0}, 100},
		{"partially used", quota.State{MonthlyLimit: 100, MonthlyUsed: 40}, 60},
		{"exhausted", quota.State{MonthlyLimit: 100, MonthlyUsed: 100}, 0},
		{"purchased buffer", quota.State{MonthlyLimit: 100, MonthlyUsed: 100, PurchasedCredits: 25}, 25},
		{"soft overshoot eats buffer", quota.State{MonthlyLimit: 100, MonthlyUsed: 110, PurchasedCredits: 25}, 15},
		{"unlimited", quota.State{MonthlyLimit: -1, MonthlyUsed: 99999}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := quota.Remaining(tt.state); got != tt.want {
				t.Errorf("Remaining() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelectPool_MonthlyFirst(t *testing.T) {
	s := quota.State{MonthlyLimit: 100, MonthlyUsed: 50, PurchasedCredits: 10}

	pool, ok := quota.SelectPool(s)
	if !ok {
		t.Fatal("expected a pool to be selected")
	}
	if pool != quota.PoolMonthly {
		t.Errorf("pool = %q, want %q", pool, quota.PoolMonthly)
	}
}

func TestSelectPool_PurchasedAfterAllowance(t *testing.T) {
	s := quota.State{MonthlyLimit: 100, MonthlyUsed: 100, PurchasedCredits: 10}

	pool, ok := quota.SelectPool(s)
	if !ok {
		t.Fatal("expected a pool to be selected")
	}
	if pool != quota.PoolPurchased {
		t.Errorf("pool = %q, want %q", pool, quota.PoolPurchased)
	}
}

func TestSelectPool_Empty(t *testing.T) {
	s := quota.State{MonthlyLimit: 100, MonthlyUsed: 100, PurchasedCredits: 0}

	if _, ok := quota.SelectPool(s); ok {
		t.Error("expected no pool when everything is exhausted")
	}
}

func TestSelectPool_Unlimited(t *testing.T) {
	s := quota.State{MonthlyLimit: -1, MonthlyUsed: 123456}

	pool, ok := quota.SelectPool(s)
	if !ok || pool != quota.PoolMonthly {
		t.Errorf("SelectPool() = (%q, %v), want (monthly, true)", pool, ok)
	}
}

func TestCheckSoft_AlwaysAllows(t *testing.T) {
	s := quota.State{MonthlyLimit: 100, MonthlyUsed: 100}

	res := quota.CheckSoft(s)
	if !res.Allowed {
		t.Error("soft check must always allow")
	}
	if !res.WouldBlock {
		t.Error("expected WouldBlock at the limit")
	}
}

func TestCheckSoft_Overshoot(t *testing.T) {
	s := quota.State{MonthlyLimit: 100, MonthlyUsed: 130}

	res := quota.CheckSoft(s)
	if !res.Allowed || !res.WouldBlock {
		t.Errorf("CheckSoft() = %+v, want allowed and flagged", res)
	}
}

func TestCheckSoft_Unlimited(t *testing.T) {
	s := quota.State{MonthlyLimit: -1, MonthlyUsed: 100}

	if res := quota.CheckSoft(s); res.WouldBlock {
		t.Error("unlimited plan must never flag WouldBlock")
	}
}

func TestNeedsRollover(t *testing.T) {
	tests := []struct {
		name    string
		resetAt time.Time
		want    bool
	}{
		{"future reset", baseTime.Add(time.Hour), false},
		{"elapsed reset", baseTime.Add(-time.Hour), true},
		{"exactly at reset", baseTime, true},
		{"zero reset never rolls", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := quota.State{MonthlyLimit: 100, ResetAt: tt.resetAt}
			if got := quota.NeedsRollover(s, baseTime); got != tt.want {
				t.Errorf("NeedsRollover() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextReset_FirstOfNextMonth(t *testing.T) {
	got := quota.NextReset(baseTime)
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextReset() = %v, want %v", got, want)
	}
}

func TestNextReset_DecemberWraps(t *testing.T) {
	got := quota.NextReset(time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC))
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextReset() = %v, want %v", got, want)
	}
}

func TestRetryAfter_NeverNegative(t *testing.T) {
	if d := quota.RetryAfter(baseTime.Add(-time.Hour), baseTime); d != 0 {
		t.Errorf("RetryAfter() = %v, want 0", d)
	}
	if d := quota.RetryAfter(baseTime.Add(time.Hour), baseTime); d != time.Hour {
		t.Errorf("RetryAfter() = %v, want 1h", d)
	}
}

func TestReservation_ResolveOnce(t *testing.T) {
	r := &quota.Reservation{ID: "res_1"}

	if !r.Resolve() {
		t.Fatal("first resolve must succeed")
	}
	if r.Resolve() {
		t.Error("second resolve must be a no-op")
	}
	if !r.Resolved() {
		t.Error("reservation should report resolved")
	}
}

func TestReservation_ConcurrentResolveSingleWinner(t *testing.T) {
	r := &quota.Reservation{ID: "res_2"}

	const goroutines = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if r.Resolve() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
