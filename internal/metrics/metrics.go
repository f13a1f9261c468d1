// Package metrics exposes the prometheus collectors shared across the
// simulator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedChargePoints tracks how many simulated charge points
	// currently hold an open transport connection to a CSMS.
	ConnectedChargePoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpsim_connected_charge_points",
		Help: "Number of charge points with an open transport connection.",
	})

	// MessagesSent counts outgoing Call frames, labeled by OCPP action;
	// CallResult and CallError replies are not counted.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpsim_messages_sent_total",
		Help: "Total number of OCPP messages sent, by action.",
	}, []string{"action"})

	// MessagesReceived counts incoming Call frames, labeled by OCPP
	// action; CallResult and CallError replies are not counted.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpsim_messages_received_total",
		Help: "Total number of OCPP messages received, by action.",
	}, []string{"action"})

	// PendingCalls tracks the number of outstanding calls awaiting a
	// CallResult/CallError across all charge points.
	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpsim_pending_calls",
		Help: "Number of calls sent but not yet resolved.",
	})

	// ActiveTransactions tracks in-flight transactions across the fleet.
	ActiveTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpsim_active_transactions",
		Help: "Number of connectors currently in a transaction.",
	})

	// ConnectorTransitions counts connector status transitions, labeled
	// by the resulting status.
	ConnectorTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpsim_connector_status_transitions_total",
		Help: "Total number of connector status transitions, by resulting status.",
	}, []string{"status"})

	// ScenarioRuns counts scenario executions, labeled by scenario id and
	// run mode (oneshot/loop).
	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpsim_scenario_runs_total",
		Help: "Total number of scenario runs, by scenario id and run mode.",
	}, []string{"scenarioId", "mode"})

	// EventsPublished counts events mirrored to the optional Kafka sink.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpsim_events_published_total",
		Help: "Total number of events published to the optional event sink.",
	}, []string{"event_type"})
)
