package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// 1) Solve volume
	SolveRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "solve_requests_total",
		Help: "Total number of solve requests received.",
	})

	// 2) Concurrency (in flight)
	ActiveSolves = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_solves",
		Help: "Current number of in-flight solve requests.",
	})

	// 3) End-to-end solve latency
	SolveDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "solve_duration_seconds",
		Help:    "End-to-end handler duration for solve requests.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90, 120},
	})

	// 4) Model latency
	LLMDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_duration_seconds",
		Help:    "Duration of the Gemini call within a solve request.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
	})

	// 5) Output volume
	AnswerCharsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "answer_chars_total",
		Help: "Total characters of answer text returned across all solves.",
	})

	// 6) DB write latency
	DBWriteDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_write_duration_seconds",
		Help:    "Duration of INSERT into the solves table.",
		Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5},
	})

	// 7) Daily quota refusals
	QuotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quota_denied_total",
		Help: "Solve requests refused because the daily free quota was exhausted.",
	})

	// 8) Burst limiter drops
	RateLimitDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_dropped_total",
		Help: "Requests rejected by the per-user burst limiter.",
	})

	// 9) Model failures
	LLMErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llm_errors_total",
		Help: "Gemini calls that ended in an error.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SolveRequestsTotal,
		ActiveSolves,
		SolveDurationSeconds,
		LLMDurationSeconds,
		AnswerCharsTotal,
		DBWriteDurationSeconds,
		QuotaDeniedTotal,
		RateLimitDroppedTotal,
		LLMErrorsTotal,
	)
}
