package accounting

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(
		PromTrafficBytes,
		PromScoreAwarded,
		PromCompletions,
	)
}

var (
	// PromTrafficBytes counts the bytes accounted to users, by direction and
	// by whether sale multipliers were applied.
	PromTrafficBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pttracker_accounting_traffic_bytes_total",
		Help: "The number of bytes accounted to users",
	}, []string{"direction", "kind"})

	// PromScoreAwarded counts the score credited to users by award.
	PromScoreAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pttracker_accounting_score_awarded_total",
		Help: "The amount of score credited to users",
	}, []string{"award"})

	// PromCompletions counts the recorded download completions.
	PromCompletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pttracker_accounting_completions_total",
		Help: "The number of completed downloads recorded",
	})
)

func recordTraffic(t Result) {
	PromTrafficBytes.WithLabelValues("up", "true").Add(float64(t.TrueUploaded))
	PromTrafficBytes.WithLabelValues("down", "true").Add(float64(t.TrueDownloaded))
	PromTrafficBytes.WithLabelValues("up", "credited").Add(float64(t.Uploaded))
	PromTrafficBytes.WithLabelValues("down", "credited").Add(float64(t.Downloaded))
}
