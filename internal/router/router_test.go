package router

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

func twoCandidates() []ModelCandidate {
	return []ModelCandidate{
		{ModelID: "haiku", InputPricePer1K: 0.25, OutputPricePer1K: 1.25, ContextWindow: 200000, QualityTier: 2, SpeedTier: 5},
		{ModelID: "sonnet", InputPricePer1K: 3, OutputPricePer1K: 15, ContextWindow: 200000, SupportsComplexReasoning: true, QualityTier: 4, SpeedTier: 3},
	}
}

func simpleTask() TaskContext {
	return TaskContext{AgentKind: agent.Coder, Complexity: Simple, EstimatedInputTokens: 1000, Preference: Balanced}
}

// TestFilterAdmissibility checks that every surviving candidate fits
// the context window and the max-cost bound.
func TestFilterAdmissibility(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("survivors satisfy window and cost bounds", prop.ForAll(
		func(inputTokens int, maxCostMilli int) bool {
			r := New(DefaultConfig(twoCandidates()), nil)
			maxCost := float64(maxCostMilli) / 1000
			task := TaskContext{
				AgentKind:            agent.Coder,
				Complexity:           Simple,
				EstimatedInputTokens: inputTokens,
				MaxCostUSD:           &maxCost,
			}
			for _, c := range r.Filter(task, nil) {
				if c.ContextWindow < 2*inputTokens {
					return false
				}
				if c.EstimatedCostUSD(inputTokens, inputTokens) > maxCost {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 500000),
		gen.IntRange(0, 2000),
	))
	props.TestingRun(t)
}

func TestFilterRequiresReasoningForComplexAccurateTasks(t *testing.T) {
	r := New(DefaultConfig(twoCandidates()), nil)
	task := TaskContext{
		AgentKind:            agent.Coder,
		Complexity:           Expert,
		EstimatedInputTokens: 1000,
		RequiresAccuracy:     true,
	}
	survivors := r.Filter(task, nil)
	require.Len(t, survivors, 1)
	assert.Equal(t, "sonnet", survivors[0].ModelID)
}

func TestFilterTightensUnderLowBudget(t *testing.T) {
	r := New(DefaultConfig(twoCandidates()), nil)
	tracker := cost.New(1.0, 0.8)
	// Burn nearly the whole budget: remaining ≈ $0.04, below the 5%
	// threshold, so only models projecting under half the remainder survive.
	tracker.Record(cost.Call{CostUSD: 0.96})

	task := simpleTask()
	task.EstimatedInputTokens = 10
	survivors := r.Filter(task, tracker)
	require.Len(t, survivors, 1)
	assert.Equal(t, "haiku", survivors[0].ModelID)
}

func TestFilterExhaustedBudgetKeepsCheapestOnly(t *testing.T) {
	r := New(DefaultConfig(twoCandidates()), nil)
	tracker := cost.New(1.0, 0.8)
	tracker.Record(cost.Call{CostUSD: 1.0})

	survivors := r.Filter(simpleTask(), tracker)
	require.Len(t, survivors, 1)
	assert.Equal(t, "haiku", survivors[0].ModelID)
}

// TestRouterConverges feeds 50 high-scoring rewards (scalar 0.85) for haiku
// and 50 low-scoring rewards (scalar 0.15) for sonnet; haiku's posterior
// mean then dominates and Balanced selection prefers it.
func TestRouterConverges(t *testing.T) {
	r := New(DefaultConfig(twoCandidates()), nil)
	task := simpleTask()
	key := task.RoutingKey()
	require.Equal(t, "coder:simple", key)

	for i := 0; i < 50; i++ {
		r.Update(key, "haiku", RoutingReward{Success: true, Quality: ptr(1.0), ActualCostUSD: 0.001, LatencyMS: 100, ExpectedCostUSD: 0.001, ExpectedLatency: 100})
		r.Update(key, "sonnet", RoutingReward{Success: false, Quality: ptr(0.0), ActualCostUSD: 0.01, LatencyMS: 100, ExpectedCostUSD: 0.0, ExpectedLatency: 0})
	}

	haiku, ok := r.Stats(key, "haiku")
	require.True(t, ok)
	sonnet, ok := r.Stats(key, "sonnet")
	require.True(t, ok)
	assert.Greater(t, haiku.Mean(), sonnet.Mean())

	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		d, err := r.Select(task, nil)
		require.NoError(t, err)
		counts[d.ModelID]++
	}
	assert.Greater(t, counts["haiku"], counts["sonnet"])
}

func ptr(v float64) *float64 { return &v }

func TestRewardScalarBounds(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("scalar reward stays in [0,1]", prop.ForAll(
		func(success bool, quality, actualCost, latency float64) bool {
			rw := RoutingReward{
				Success:         success,
				Quality:         &quality,
				ActualCostUSD:   actualCost,
				LatencyMS:       latency,
				ExpectedCostUSD: 0.01,
				ExpectedLatency: 500,
			}
			s := rw.Scalar()
			return s >= 0 && s <= 1
		},
		gen.Bool(),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 10),
		gen.Float64Range(0, 100000),
	))
	props.TestingRun(t)
}

func TestFallbackOrder(t *testing.T) {
	cfg := DefaultConfig(twoCandidates())
	cfg.DefaultModel = "sonnet"
	cfg.FallbackOrder = []string{"haiku"}
	r := New(cfg, nil)

	// Nothing survives a window filter this tight.
	task := TaskContext{AgentKind: agent.Coder, Complexity: Simple, EstimatedInputTokens: 10_000_000}
	d, err := r.Select(task, nil)
	require.NoError(t, err)
	assert.Equal(t, "sonnet", d.ModelID)
	assert.Equal(t, "default_fallback", d.Reason)

	// Without a default, the configured fallback order applies.
	cfg.DefaultModel = ""
	r = New(cfg, nil)
	d, err = r.Select(task, nil)
	require.NoError(t, err)
	assert.Equal(t, "haiku", d.ModelID)
	assert.Equal(t, "configured_fallback", d.Reason)

	// With neither, NoSuitableModel.
	cfg.FallbackOrder = nil
	r = New(cfg, nil)
	_, err = r.Select(task, nil)
	assert.True(t, demerr.Of(err, demerr.NoSuitableModel))
}

func TestInformedPriorFromQualityTier(t *testing.T) {
	cfg := DefaultConfig(twoCandidates())
	cfg.UseInformedPrior = true
	r := New(cfg, nil)

	r.Update("coder:simple", "sonnet", RoutingReward{Success: true, ActualCostUSD: 0.01, LatencyMS: 100, ExpectedCostUSD: 0.01, ExpectedLatency: 100})
	stats, ok := r.Stats("coder:simple", "sonnet")
	require.True(t, ok)
	// Prior for quality tier 4: alpha=1+0.8*5=5, beta=1+0.2*5=2, plus one
	// reward with scalar 0.7.
	assert.Greater(t, stats.Alpha, 5.0)
	assert.Less(t, stats.Beta, 3.0)
}

func TestUpdateTracksOnlineMeans(t *testing.T) {
	r := New(DefaultConfig(twoCandidates()), nil)
	r.Update("k", "haiku", RoutingReward{Success: true, ActualCostUSD: 0.01, LatencyMS: 100, ExpectedCostUSD: 0.01, ExpectedLatency: 100})
	r.Update("k", "haiku", RoutingReward{Success: true, ActualCostUSD: 0.03, LatencyMS: 300, ExpectedCostUSD: 0.03, ExpectedLatency: 300})

	stats, ok := r.Stats("k", "haiku")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Uses)
	assert.InDelta(t, 0.02, stats.MeanCostUSD, 1e-9)
	assert.InDelta(t, 200, stats.MeanLatencyMS, 1e-9)
}
