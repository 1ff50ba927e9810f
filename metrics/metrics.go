package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EffectFailures counts best-effort side effects (history, notify, broadcast)
// that failed. These never fail the triggering operation, so the counter is
// the only place the failures surface besides the log.
var EffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "incubator",
	Subsystem: "outbox",
	Name:      "effect_failures_total",
	Help:      "Best-effort side effects that failed to dispatch, by kind.",
}, []string{"kind"})

// FulfillmentOutcomes counts per-item fulfillment results.
var FulfillmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "incubator",
	Subsystem: "fulfillment",
	Name:      "item_outcomes_total",
	Help:      "Fulfillment item outcomes, by resulting item status.",
}, []string{"status"})

// LedgerShortages counts reservations the ledger could not satisfy in full.
var LedgerShortages = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "incubator",
	Subsystem: "ledger",
	Name:      "shortages_total",
	Help:      "Reservations that hit insufficient available quantity.",
})
