// Package cost implements the per-call token/USD accounting with daily caps
// and threshold triggers. It is the backpressure source consulted by
// the router's remaining-budget filter and the executor's
// BudgetExceeded failure path.
//
// Grounded on goa-ai's model/middleware.AdaptiveRateLimiter for the
// mutex-guarded, atomically-updated counter shape, adapted from a
// tokens-per-minute limiter to a daily USD cap with threshold callbacks.
package cost

import (
	"sync"
	"time"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Call is one accounted completion call.
type Call struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	At           time.Time
}

// Tracker accounts USD spend against a rolling daily limit and fires
// Threshold once per day when cumulative spend first crosses
// ThresholdRatio*DailyLimitUSD.
type Tracker struct {
	mu sync.Mutex

	dailyLimitUSD  float64
	thresholdRatio float64

	day            string
	spentUSD       float64
	calls          int
	thresholdFired bool

	onThreshold func(spentUSD, limitUSD float64)
	now         func() time.Time
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithThresholdCallback registers a callback invoked the first time, on a
// given day, cumulative spend crosses ThresholdRatio*DailyLimitUSD.
func WithThresholdCallback(fn func(spentUSD, limitUSD float64)) Option {
	return func(t *Tracker) { t.onThreshold = fn }
}

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New returns a Tracker with the given daily USD limit and threshold ratio
// (e.g. 0.8 fires the callback at 80% of the daily limit).
func New(dailyLimitUSD, thresholdRatio float64, opts ...Option) *Tracker {
	t := &Tracker{
		dailyLimitUSD:  dailyLimitUSD,
		thresholdRatio: thresholdRatio,
		now:            time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	t.day = t.dayKey()
	return t
}

func (t *Tracker) dayKey() string {
	return t.now().UTC().Format("2006-01-02")
}

// rollIfNewDay resets the counters when the wall-clock day has advanced.
// Caller must hold t.mu.
func (t *Tracker) rollIfNewDay() {
	day := t.dayKey()
	if day != t.day {
		t.day = day
		t.spentUSD = 0
		t.calls = 0
		t.thresholdFired = false
	}
}

// Remaining returns the USD still available today.
func (t *Tracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNewDay()
	r := t.dailyLimitUSD - t.spentUSD
	if r < 0 {
		return 0
	}
	return r
}

// DailyLimitUSD returns the configured daily cap.
func (t *Tracker) DailyLimitUSD() float64 { return t.dailyLimitUSD }

// CheckBudget returns BudgetExceeded if projectedCostUSD would push today's
// spend past the daily limit, without recording anything.
func (t *Tracker) CheckBudget(projectedCostUSD float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNewDay()
	if t.spentUSD+projectedCostUSD > t.dailyLimitUSD {
		return demerr.New(demerr.BudgetExceeded, "cost.CheckBudget", "projected call exceeds daily budget")
	}
	return nil
}

// Record atomically accounts a completed call's actual cost. It fires the threshold callback at
// most once per day.
func (t *Tracker) Record(c Call) {
	t.mu.Lock()
	t.rollIfNewDay()
	t.spentUSD += c.CostUSD
	t.calls++
	crossed := !t.thresholdFired && t.dailyLimitUSD > 0 &&
		t.spentUSD >= t.thresholdRatio*t.dailyLimitUSD
	if crossed {
		t.thresholdFired = true
	}
	spent, limit, cb := t.spentUSD, t.dailyLimitUSD, t.onThreshold
	t.mu.Unlock()

	if crossed && cb != nil {
		cb(spent, limit)
	}
}

// Stats is a point-in-time snapshot of today's accounting.
type Stats struct {
	Day            string
	SpentUSD       float64
	Calls          int
	DailyLimitUSD  float64
	ThresholdFired bool
}

// Snapshot returns today's accounting state.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollIfNewDay()
	return Stats{
		Day:            t.day,
		SpentUSD:       t.spentUSD,
		Calls:          t.calls,
		DailyLimitUSD:  t.dailyLimitUSD,
		ThresholdFired: t.thresholdFired,
	}
}

// EstimateCostUSD prices a projected call against per-token rates (USD per
// 1K tokens), matching the pricing fields carried on router.ModelCandidate.
func EstimateCostUSD(inputTokens, outputTokens int, inputPricePer1K, outputPricePer1K float64) float64 {
	return float64(inputTokens)/1000*inputPricePer1K + float64(outputTokens)/1000*outputPricePer1K
}
