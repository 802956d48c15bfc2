// Package metrics provides Prometheus instrumentation for ceremony steps and
// key-share node fan-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all coordinator metrics
	Namespace = "tss_coordinator"

	LabelCeremony = "ceremony"
	LabelStep     = "step"
	LabelCode     = "code"
	LabelOp       = "op"
	LabelNode     = "node"
	LabelStatus   = "status"

	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// StepsTotal counts step requests by ceremony, step and resulting code ("OK" on success).
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "steps_total",
			Help:      "Ceremony step requests by ceremony, step and result code",
		},
		[]string{LabelCeremony, LabelStep, LabelCode},
	)

	// StepDuration tracks step latency including engine and storage time.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of ceremony steps in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelCeremony, LabelStep},
	)

	// NodeRequestsTotal counts key-share node calls by operation, node and status.
	NodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "keyshare",
			Name:      "node_requests_total",
			Help:      "Key-share node requests by operation, node and status",
		},
		[]string{LabelOp, LabelNode, LabelStatus},
	)
)

// RecordStep records the outcome of one ceremony step.
func RecordStep(ceremony, step, code string, started time.Time) {
	StepsTotal.WithLabelValues(ceremony, step, code).Inc()
	StepDuration.WithLabelValues(ceremony, step).Observe(time.Since(started).Seconds())
}

// RecordNodeRequest records one key-share node call.
func RecordNodeRequest(op, node string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	NodeRequestsTotal.WithLabelValues(op, node, status).Inc()
}
