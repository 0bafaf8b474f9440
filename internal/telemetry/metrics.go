package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pickpool"

var (
	// SubmittedAnswers counts submission candidates by outcome (accepted, rejected_locked, dropped_unknown).
	SubmittedAnswers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submitted_answers_total",
		Help:      "Answer candidates received, by outcome.",
	}, []string{"outcome"})

	// RescoredAnswers counts answers whose correctness was recomputed, by action.
	RescoredAnswers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rescored_answers_total",
		Help:      "Answers recomputed by the scoring engine, by action.",
	}, []string{"action"})

	LeaderboardCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_cache_requests_total",
		Help:      "Leaderboard cache lookups, by result.",
	}, []string{"result"})
)
