// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks live practice sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicelink_sessions_active",
		Help: "Number of practice sessions currently connected.",
	})

	// SessionsStarted counts sessions that connected successfully.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicelink_sessions_started_total",
		Help: "Practice sessions that connected successfully.",
	})

	// StartFailures counts refused or failed session starts by stage.
	StartFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicelink_start_failures_total",
		Help: "Session starts that never connected, labeled by stage.",
	}, []string{"stage"})

	// QuotaExhaustions counts sessions ended by the daily budget.
	QuotaExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicelink_quota_exhaustions_total",
		Help: "Sessions terminated because the daily budget ran out.",
	})

	// AgentEvents counts decoded inbound agent events by type.
	AgentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicelink_agent_events_total",
		Help: "Inbound agent events, labeled by event type.",
	}, []string{"type"})
)
