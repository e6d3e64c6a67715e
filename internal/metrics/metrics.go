package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	BranchDatabase = "database"
	BranchChat     = "chat"

	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// WorkflowInvocations counts chat node runs by branch taken and outcome.
	WorkflowInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "userchat",
			Subsystem: "workflow",
			Name:      "invocations_total",
			Help:      "Total workflow node invocations",
		},
		[]string{"branch", "status"},
	)

	// CompletionDuration observes the single chat-completion call per turn.
	// Unlabelled: the model name comes from request input.
	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "userchat",
			Name:      "completion_duration_seconds",
			Help:      "Chat completion call duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	StoreQueryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "userchat",
			Subsystem: "store",
			Name:      "query_errors_total",
			Help:      "SQL statements that failed and were reported as an error row",
		},
	)

	SessionTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "userchat",
			Subsystem: "worker",
			Name:      "turns_total",
			Help:      "Session turns processed by the worker manager",
		},
		[]string{"status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
