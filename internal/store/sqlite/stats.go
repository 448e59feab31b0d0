package sqlite

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/router"
)

// StatsStore implements router.StatsStore over the model_stats table so
// the Beta posterior survives process restarts.
// router.StatsStore is deliberately error-free (the router treats a
// missing row as "use the prior"); storage failures are logged and
// reported as absent/ignored.
type StatsStore struct {
	db  *DB
	log zerolog.Logger
}

// NewStatsStore constructs a StatsStore.
func NewStatsStore(db *DB, log zerolog.Logger) *StatsStore {
	return &StatsStore{db: db, log: log}
}

// Load implements router.StatsStore.
func (s *StatsStore) Load(routingKey, modelID string) (router.ModelStats, bool) {
	row := s.db.sql.QueryRow(`
		SELECT alpha, beta, uses, successes, failures, mean_cost_usd, mean_latency_ms, mean_reward, m2_reward
		FROM model_stats WHERE routing_key = ? AND model_id = ?`, routingKey, modelID)
	var st router.ModelStats
	err := row.Scan(&st.Alpha, &st.Beta, &st.Uses, &st.Successes, &st.Failures,
		&st.MeanCostUSD, &st.MeanLatencyMS, &st.MeanReward, &st.M2Reward)
	if err == sql.ErrNoRows {
		return router.ModelStats{}, false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("routing_key", routingKey).Str("model_id", modelID).Msg("load model stats")
		return router.ModelStats{}, false
	}
	return st, true
}

// Save implements router.StatsStore.
func (s *StatsStore) Save(routingKey, modelID string, st router.ModelStats) {
	_, err := s.db.sql.Exec(`
		INSERT INTO model_stats (routing_key, model_id, alpha, beta, uses, successes,
			failures, mean_cost_usd, mean_latency_ms, mean_reward, m2_reward)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (routing_key, model_id) DO UPDATE SET
			alpha = excluded.alpha, beta = excluded.beta, uses = excluded.uses,
			successes = excluded.successes, failures = excluded.failures,
			mean_cost_usd = excluded.mean_cost_usd, mean_latency_ms = excluded.mean_latency_ms,
			mean_reward = excluded.mean_reward, m2_reward = excluded.m2_reward`,
		routingKey, modelID, st.Alpha, st.Beta, st.Uses, st.Successes, st.Failures,
		st.MeanCostUSD, st.MeanLatencyMS, st.MeanReward, st.M2Reward)
	if err != nil {
		s.log.Warn().Err(err).Str("routing_key", routingKey).Str("model_id", modelID).Msg("save model stats")
	}
}
