package build

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBuildsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      "builds_started_total",
		Help:      "Number of build runs started, by provisioner.",
	}, []string{"provisioner"})
	metricBuildsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      "builds_succeeded_total",
		Help:      "Number of build runs that produced their artifact, by provisioner.",
	}, []string{"provisioner"})
	metricStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      "build_step_failures_total",
		Help:      "Number of build runs aborted, by the step that failed.",
	}, []string{"step"})
	metricBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "boxes",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock duration of build runs.",
		Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200},
	}, []string{"provisioner", "outcome"})
	metricToolLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxes",
		Name:      "tool_output_lines_total",
		Help:      "Lines of build tool output consumed, by stream.",
	}, []string{"stream"})
)

func recordBuildStart(provisioner string) {
	metricBuildsStarted.WithLabelValues(provisioner).Inc()
}

func recordBuildEnd(provisioner string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	} else {
		metricBuildsSucceeded.WithLabelValues(provisioner).Inc()
	}
	metricBuildDuration.WithLabelValues(provisioner, outcome).Observe(seconds)
}

func recordStepFailure(step string) {
	metricStepFailures.WithLabelValues(step).Inc()
}

func recordToolLine(stream Stream) {
	metricToolLines.WithLabelValues(string(stream)).Inc()
}
