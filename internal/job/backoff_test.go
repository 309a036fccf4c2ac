package job

import (
	"testing"
	"time"
)

func TestBackoffFirstDelayIsInitial(t *testing.T) {
	b := DefaultBudget().Backoff
	if got := b.Delay(0); got != 500*time.Millisecond {
		t.Fatalf("Delay(0)=%s want 500ms", got)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	b := DefaultBudget().Backoff
	delays := b.Schedule(60)
	if len(delays) != 60 {
		t.Fatalf("schedule length %d", len(delays))
	}
	for i, d := range delays {
		if d > b.Max {
			t.Fatalf("delay[%d]=%s exceeds max %s", i, d, b.Max)
		}
		if i > 0 && d < delays[i-1] {
			t.Fatalf("delay[%d]=%s < delay[%d]=%s", i, d, i-1, delays[i-1])
		}
	}
	if delays[59] != b.Max {
		t.Fatalf("schedule never saturated: last=%s", delays[59])
	}
}

func TestBackoffKnownValues(t *testing.T) {
	b := DefaultBudget().Backoff
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 600 * time.Millisecond},
		{2, 720 * time.Millisecond},
		{3, 864 * time.Millisecond},
		{8, 2 * time.Second}, // 500*1.2^8 = 2149.9ms, capped
		{1000, 2 * time.Second},
	}
	for _, c := range cases {
		got := b.Delay(c.attempt)
		diff := got - c.want
		if diff < 0 {
			diff = -diff
		}
		if diff > time.Microsecond {
			t.Fatalf("Delay(%d)=%s want %s", c.attempt, got, c.want)
		}
	}
}

// With the defaults the first eight waits sum to ~8.25s and the remaining 52
// are capped at 2s, so a job that never finishes times out after ~112.25s.
func TestBackoffTotalDefaultBudget(t *testing.T) {
	budget := DefaultBudget()
	total := budget.Backoff.Total(budget.MaxAttempts)
	want := 112249 * time.Millisecond
	if total < want || total > want+time.Millisecond {
		t.Fatalf("total=%s want ~%s", total, want)
	}
	if ceiling := time.Duration(budget.MaxAttempts) * budget.Backoff.Max; total >= ceiling {
		t.Fatalf("total %s not below %s", total, ceiling)
	}
}

func TestBudgetValidate(t *testing.T) {
	if err := DefaultBudget().Validate(); err != nil {
		t.Fatalf("default budget invalid: %v", err)
	}
	bad := []Budget{
		{MaxAttempts: 0, Backoff: DefaultBudget().Backoff},
		{MaxAttempts: 1, Backoff: Backoff{Initial: 0, Factor: 1.2, Max: time.Second}},
		{MaxAttempts: 1, Backoff: Backoff{Initial: time.Second, Factor: 1.2, Max: time.Millisecond}},
		{MaxAttempts: 1, Backoff: Backoff{Initial: time.Second, Factor: 0.5, Max: 2 * time.Second}},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, b)
		}
	}
}
