package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger operations partitioned by kind and outcome
	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of wallet ledger operations",
		},
		[]string{"kind", "outcome"},
	)

	// Debits or releases that found less held balance than requested. Any increase is a bug.
	ledgerInsufficientHeldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_insufficient_held_total",
			Help: "Number of debit/release attempts rejected because held balance was too low",
		},
	)

	// Campaign transitions partitioned by target status
	campaignTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_transitions_total",
			Help: "Total number of campaign state transitions",
		},
		[]string{"to"},
	)

	// Webhook events partitioned by source and result
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events handled",
		},
		[]string{"source", "result"},
	)
)
