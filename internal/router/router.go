// Package router implements the model router: candidate filtering,
// Thompson-sampling selection among admissible models, and posterior
// updates from observed rewards.
//
// Grounded on goa-ai's model/middleware.AdaptiveRateLimiter for the
// mutex-guarded mutable-state shape and builder-style Config construction
// used across the codebase, adapted here from a single adaptive limiter
// to a per-(routing_key, model_id) posterior table.
package router

import (
	"math"
	"sort"
	"sync"

	"github.com/strataga/demiarch-sub000/internal/agent"
	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Complexity is the closed set of task-complexity tiers used both for
// filtering (accuracy-requiring complex/expert tasks) and for the routing
// key.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
	Expert   Complexity = "expert"
)

// Preference is the closed set of selection tilts applied to a drawn Beta
// sample.
type Preference string

const (
	Balanced Preference = "balanced"
	Fast     Preference = "fast"
	Quality  Preference = "quality"
	Cost     Preference = "cost"
)

// TaskContext describes one routing decision request.
type TaskContext struct {
	AgentKind             agent.Kind
	Complexity            Complexity
	EstimatedInputTokens  int
	PrioritizeSpeed       bool
	RequiresAccuracy      bool
	MaxCostUSD            *float64
	Preference            Preference
}

// RoutingKey is the "{agent_kind}:{complexity}" key under which model
// statistics accumulate.
func (t TaskContext) RoutingKey() string {
	return string(t.AgentKind) + ":" + string(t.Complexity)
}

// ModelCandidate is one entry of the (construction-time replaceable)
// model registry.
type ModelCandidate struct {
	ModelID                  string
	InputPricePer1K          float64
	OutputPricePer1K         float64
	ContextWindow            int
	SupportsComplexReasoning bool
	OptimizedForCode         bool
	QualityTier              int // 1..5
	SpeedTier                int // 1..5
}

// EstimatedCostUSD prices inputTokens and outputTokens at this candidate's
// rates. The router's filters and the executor pass the input estimate as
// the output size, a conservative projection.
func (m ModelCandidate) EstimatedCostUSD(inputTokens, outputTokens int) float64 {
	return cost.EstimateCostUSD(inputTokens, outputTokens, m.InputPricePer1K, m.OutputPricePer1K)
}

// RoutingDecision is the router's answer for one TaskContext.
type RoutingDecision struct {
	ModelID       string
	IsExploration bool
	Reason        string
}

// RoutingReward is the observed outcome of one completion call, folded into
// the routing key's posterior by Update.
type RoutingReward struct {
	Success         bool
	ActualCostUSD   float64
	LatencyMS       float64
	Quality         *float64
	TokenEfficiency float64

	ExpectedCostUSD float64
	ExpectedLatency float64
}

// Scalar computes the reward formula:
// reward = 0.4*success + 0.3*quality(0.5 default)
//
//	+ 0.2*clip(expected_cost/actual_cost, 0..2)/2
//	+ 0.1*clip(expected_latency/actual_latency, 0..2)/2
func (r RoutingReward) Scalar() float64 {
	successTerm := 0.0
	if r.Success {
		successTerm = 1.0
	}
	quality := 0.5
	if r.Quality != nil {
		quality = *r.Quality
	}
	costRatio := safeRatio(r.ExpectedCostUSD, r.ActualCostUSD)
	latencyRatio := safeRatio(r.ExpectedLatency, r.LatencyMS)
	return 0.4*successTerm + 0.3*quality + 0.2*clip(costRatio, 0, 2)/2 + 0.1*clip(latencyRatio, 0, 2)/2
}

func safeRatio(expected, actual float64) float64 {
	if actual <= 0 {
		return 1
	}
	if expected <= 0 {
		return 1
	}
	return expected / actual
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ModelStats is the Beta(alpha, beta) posterior plus online cost/latency
// statistics tracked per (routing_key, model_id).
type ModelStats struct {
	Alpha float64
	Beta  float64

	Uses      int64
	Successes int64
	Failures  int64

	MeanCostUSD   float64
	MeanLatencyMS float64

	MeanReward float64
	M2Reward   float64 // sum of squared deviations, Welford's algorithm
}

// Mean is the posterior expected success probability E[Beta(alpha,beta)].
func (s ModelStats) Mean() float64 {
	if s.Alpha+s.Beta <= 0 {
		return 0.5
	}
	return s.Alpha / (s.Alpha + s.Beta)
}

// StdDev is the posterior standard deviation, used to flag exploration.
func (s ModelStats) StdDev() float64 {
	a, b := s.Alpha, s.Beta
	total := a + b
	if total <= 0 {
		return 0.5
	}
	variance := (a * b) / (total * total * (total + 1))
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// informedPrior derives the opening (alpha, beta) from a candidate's
// quality_tier when no persisted stats exist yet.
func informedPrior(candidate ModelCandidate, useInformedPrior bool) (alpha, beta float64) {
	if !useInformedPrior {
		return 1, 1
	}
	q := clip(float64(candidate.QualityTier)/5.0, 0, 1)
	return 1 + q*5, 1 + (1-q)*5
}

// StatsStore persists/reads ModelStats, allowing the router to flush to a
// repository between calls. Implementations must be
// safe for concurrent use.
type StatsStore interface {
	Load(routingKey, modelID string) (ModelStats, bool)
	Save(routingKey, modelID string, stats ModelStats)
}

// MemoryStatsStore is an in-process StatsStore, the default when no durable
// backend is configured.
type MemoryStatsStore struct {
	mu    sync.RWMutex
	stats map[string]ModelStats
}

// NewMemoryStatsStore returns an empty MemoryStatsStore.
func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{stats: make(map[string]ModelStats)}
}

func statsKey(routingKey, modelID string) string { return routingKey + "\x00" + modelID }

// Load implements StatsStore.
func (m *MemoryStatsStore) Load(routingKey, modelID string) (ModelStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[statsKey(routingKey, modelID)]
	return s, ok
}

// Save implements StatsStore.
func (m *MemoryStatsStore) Save(routingKey, modelID string, stats ModelStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[statsKey(routingKey, modelID)] = stats
}

// Config configures a Router at construction (builder-style, no global
// state).
type Config struct {
	Candidates       []ModelCandidate
	DefaultModel     string
	FallbackOrder    []string
	UseInformedPrior bool
	BudgetThreshold  float64 // fraction of the daily limit; remaining budget below it triggers the tight filter
	Sampler          func(alpha, beta float64) float64
}

// DefaultConfig returns a Config with the standard defaults: no informed
// prior unless requested, and a 5% low-budget threshold for the tight
// filter ("essentially zero" remaining budget is a separate check).
func DefaultConfig(candidates []ModelCandidate) Config {
	return Config{
		Candidates:      candidates,
		BudgetThreshold: 0.05,
		Sampler:         sampleBeta,
	}
}

// Router selects a model per TaskContext, learns from RoutingReward
// outcomes, and honors the cost tracker's remaining budget.
type Router struct {
	cfg   Config
	store StatsStore
	rng   func() float64
}

// New constructs a Router. store defaults to an in-memory MemoryStatsStore
// when nil.
func New(cfg Config, store StatsStore) *Router {
	if store == nil {
		store = NewMemoryStatsStore()
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sampleBeta
	}
	return &Router{cfg: cfg, store: store}
}

// Filter applies the admissibility rules in order: context window,
// max cost, complex/accuracy reasoning support, remaining-budget tightening.
func (r *Router) Filter(task TaskContext, tracker *cost.Tracker) []ModelCandidate {
	var out []ModelCandidate
	for _, c := range r.cfg.Candidates {
		if c.ContextWindow < 2*task.EstimatedInputTokens {
			continue
		}
		if task.MaxCostUSD != nil {
			est := c.EstimatedCostUSD(task.EstimatedInputTokens, task.EstimatedInputTokens)
			if est > *task.MaxCostUSD {
				continue
			}
		}
		if (task.Complexity == Complex || task.Complexity == Expert) && task.RequiresAccuracy && !c.SupportsComplexReasoning {
			continue
		}
		out = append(out, c)
	}

	if tracker == nil {
		return out
	}
	remaining := tracker.Remaining()
	threshold := r.cfg.BudgetThreshold * tracker.DailyLimitUSD()
	if remaining <= 1e-9 {
		out = lowestInputPrice(out)
	} else if remaining < threshold {
		out = cheaperThanHalf(out, remaining, task.EstimatedInputTokens)
	}
	return out
}

func cheaperThanHalf(cands []ModelCandidate, remaining float64, inputTokens int) []ModelCandidate {
	var out []ModelCandidate
	for _, c := range cands {
		if c.EstimatedCostUSD(inputTokens, inputTokens) < 0.5*remaining {
			out = append(out, c)
		}
	}
	return out
}

func lowestInputPrice(cands []ModelCandidate) []ModelCandidate {
	if len(cands) == 0 {
		return cands
	}
	sorted := append([]ModelCandidate{}, cands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InputPricePer1K < sorted[j].InputPricePer1K })
	return sorted[:1]
}

// Select runs filtering then Thompson-sampling selection, falling back to
// DefaultModel and the configured FallbackOrder when no candidate survives
// filtering.
func (r *Router) Select(task TaskContext, tracker *cost.Tracker) (RoutingDecision, error) {
	candidates := r.Filter(task, tracker)
	if len(candidates) == 0 {
		return r.fallback(task)
	}

	routingKey := task.RoutingKey()
	type scored struct {
		candidate ModelCandidate
		sample    float64
		stats     ModelStats
	}
	var scoredCandidates []scored
	for _, c := range candidates {
		stats, ok := r.store.Load(routingKey, c.ModelID)
		if !ok {
			a, b := informedPrior(c, r.cfg.UseInformedPrior)
			stats = ModelStats{Alpha: a, Beta: b}
		}
		sample := r.cfg.Sampler(stats.Alpha, stats.Beta)
		sample = tilt(sample, task.Preference, c)
		scoredCandidates = append(scoredCandidates, scored{candidate: c, sample: sample, stats: stats})
	}

	best := scoredCandidates[0]
	for _, s := range scoredCandidates[1:] {
		if s.sample > best.sample {
			best = s
		}
	}

	isExploration := best.stats.StdDev() > 0.15

	return RoutingDecision{
		ModelID:       best.candidate.ModelID,
		IsExploration: isExploration,
		Reason:        "thompson_sample",
	}, nil
}

func tilt(sample float64, pref Preference, c ModelCandidate) float64 {
	switch pref {
	case Fast:
		return sample * float64(c.SpeedTier) / 5.0
	case Quality:
		return sample * float64(c.QualityTier) / 5.0
	case Cost:
		normalizedPrice := clip(c.InputPricePer1K/maxInputPrice, 0, 1)
		return sample * (1 - normalizedPrice)
	default:
		return sample
	}
}

// maxInputPrice is a fixed normalization ceiling for the Cost preference
// tilt; candidates priced above it are treated as maximally expensive.
const maxInputPrice = 30.0

func (r *Router) fallback(task TaskContext) (RoutingDecision, error) {
	if r.cfg.DefaultModel != "" {
		if r.candidateByID(r.cfg.DefaultModel) != nil {
			return RoutingDecision{ModelID: r.cfg.DefaultModel, Reason: "default_fallback"}, nil
		}
	}
	for _, id := range r.cfg.FallbackOrder {
		if r.candidateByID(id) != nil {
			return RoutingDecision{ModelID: id, Reason: "configured_fallback"}, nil
		}
	}
	return RoutingDecision{}, demerr.New(demerr.NoSuitableModel, "router.Select", "no candidate survived filtering and no fallback is configured")
}

// Candidate returns the configured candidate for modelID, if any — used by
// callers (e.g. the executor) that need a model's pricing to project a
// call's cost ahead of issuing it.
func (r *Router) Candidate(modelID string) (ModelCandidate, bool) {
	c := r.candidateByID(modelID)
	if c == nil {
		return ModelCandidate{}, false
	}
	return *c, true
}

func (r *Router) candidateByID(id string) *ModelCandidate {
	for i := range r.cfg.Candidates {
		if r.cfg.Candidates[i].ModelID == id {
			return &r.cfg.Candidates[i]
		}
	}
	return nil
}

// Update folds an observed RoutingReward into the posterior for
// (routingKey, modelID) by the posterior update rule.
func (r *Router) Update(routingKey, modelID string, reward RoutingReward) {
	stats, ok := r.store.Load(routingKey, modelID)
	if !ok {
		c := r.candidateByID(modelID)
		a, b := 1.0, 1.0
		if c != nil {
			a, b = informedPrior(*c, r.cfg.UseInformedPrior)
		}
		stats = ModelStats{Alpha: a, Beta: b}
	}

	scalar := reward.Scalar()
	stats.Alpha += scalar
	stats.Beta += 1 - scalar
	stats.Uses++
	if reward.Success {
		stats.Successes++
	} else {
		stats.Failures++
	}

	n := float64(stats.Uses)
	stats.MeanCostUSD += (reward.ActualCostUSD - stats.MeanCostUSD) / n
	stats.MeanLatencyMS += (reward.LatencyMS - stats.MeanLatencyMS) / n

	delta := scalar - stats.MeanReward
	stats.MeanReward += delta / n
	delta2 := scalar - stats.MeanReward
	stats.M2Reward += delta * delta2

	r.store.Save(routingKey, modelID, stats)
}

// Stats exposes the current posterior for a (routingKey, modelID) pair,
// mainly for tests and observability.
func (r *Router) Stats(routingKey, modelID string) (ModelStats, bool) {
	return r.store.Load(routingKey, modelID)
}
