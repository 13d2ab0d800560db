package services

import "github.com/prometheus/client_golang/prometheus"

// Execution-lifecycle collectors. Labels stay low-cardinality: statuses and
// failure classes only, never IDs.
var (
	execTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gift_execution_transitions_total",
			Help: "Execution status transitions, labeled by from/to status.",
		},
		[]string{"from", "to"},
	)

	ordersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gift_orders_placed_total",
			Help: "Successfully placed gift orders.",
		},
	)

	placementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gift_placement_failures_total",
			Help: "Order placement failures by classification.",
		},
		[]string{"class"},
	)

	retriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gift_retries_scheduled_total",
			Help: "Placement retries scheduled after a failure.",
		},
	)

	triggersFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gift_triggers_fired_total",
			Help: "Executions created by the trigger evaluator.",
		},
	)
)

func init() {
	prometheus.MustRegister(execTransitions, ordersPlaced, placementFailures, retriesScheduled, triggersFired)
}
