// Package services – domain metrics
//
// Prometheus collectors for ordering decisions and balance-affecting writes.
// Label values come from closed sets (outcome, deny reason, mutation kind) so
// cardinality stays bounded.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// orderDecisions counts eligibility verdicts and commit outcomes.
	orderDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_order_decisions_total",
			Help: "Ordering decisions by outcome (allow|deny) and deny reason.",
		},
		[]string{"outcome", "reason"},
	)

	// balanceMutations counts committed writes that change a balance.
	balanceMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_balance_mutations_total",
			Help: "Committed balance-affecting writes by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(orderDecisions, balanceMutations)
}

func observeDecision(reason DenyReason) {
	if reason == ReasonNone {
		orderDecisions.WithLabelValues("allow", "").Inc()
		return
	}
	orderDecisions.WithLabelValues("deny", string(reason)).Inc()
}

func observeMutation(kind string) {
	balanceMutations.WithLabelValues(kind).Inc()
}
