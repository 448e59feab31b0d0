package cost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// TestBudgetStop: with a $0.001 daily limit, the first $0.0008 call
// records and the second is refused before any work happens.
func TestBudgetStop(t *testing.T) {
	tr := New(0.001, 0.8)

	require.NoError(t, tr.CheckBudget(0.0008))
	tr.Record(Call{Model: "m", InputTokens: 100, OutputTokens: 50, CostUSD: 0.0008})

	err := tr.CheckBudget(0.0008)
	require.Error(t, err)
	assert.True(t, demerr.Of(err, demerr.BudgetExceeded))

	s := tr.Snapshot()
	assert.Equal(t, 1, s.Calls)
	assert.InDelta(t, 0.0008, s.SpentUSD, 1e-12)
}

func TestThresholdFiresOncePerDay(t *testing.T) {
	fired := 0
	tr := New(1.0, 0.8, WithThresholdCallback(func(spent, limit float64) { fired++ }))

	tr.Record(Call{CostUSD: 0.5})
	assert.Equal(t, 0, fired)
	tr.Record(Call{CostUSD: 0.31})
	assert.Equal(t, 1, fired)
	tr.Record(Call{CostUSD: 0.1})
	assert.Equal(t, 1, fired)
}

func TestDailyRollResetsCounters(t *testing.T) {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(1.0, 0.8, WithClock(func() time.Time { return day }))

	tr.Record(Call{CostUSD: 0.9})
	assert.InDelta(t, 0.1, tr.Remaining(), 1e-9)

	day = day.Add(24 * time.Hour)
	assert.InDelta(t, 1.0, tr.Remaining(), 1e-9)
	assert.Equal(t, 0, tr.Snapshot().Calls)
	require.NoError(t, tr.CheckBudget(0.9))
}

func TestRemainingNeverNegative(t *testing.T) {
	tr := New(0.01, 0.8)
	tr.Record(Call{CostUSD: 0.05})
	assert.Equal(t, 0.0, tr.Remaining())
}

func TestEstimateCostUSD(t *testing.T) {
	// 1000 input at $3/1K plus 500 output at $15/1K.
	assert.InDelta(t, 3.0+7.5, EstimateCostUSD(1000, 500, 3, 15), 1e-9)
}
