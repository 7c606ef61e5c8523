package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialbench",
		Subsystem: "pipeline",
		Name:      "generation_tasks_total",
		Help:      "Generation tasks by outcome",
	}, []string{"mode", "status"})

	scoringRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialbench",
		Subsystem: "pipeline",
		Name:      "scoring_rounds_total",
		Help:      "Scoring rounds by outcome",
	}, []string{"mode", "status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dialbench",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of pipeline stages",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)
