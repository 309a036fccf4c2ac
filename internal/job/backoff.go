package job

import (
	"math"
	"time"
)

// Backoff is a bounded exponential schedule: the wait before the query that
// follows attempt n is min(Initial*Factor^n, Max).
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// Delay returns the wait after attempt completed queries.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return min(b.Initial, b.Max)
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Schedule returns the first n delays.
func (b Backoff) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, b.Delay(i))
	}
	return out
}

// Total is the wall time spent waiting across n attempts.
func (b Backoff) Total(n int) time.Duration {
	var sum time.Duration
	for _, d := range b.Schedule(n) {
		sum += d
	}
	return sum
}
