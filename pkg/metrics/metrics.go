/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics owns the prometheus collectors shared across the control
// plane. Components record through the exported collectors; the operator
// serves the registry on the metrics port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "falconmind"

var (
	Registry = prometheus.NewRegistry()

	MissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "missions_total",
		Help:      "Mission state transitions by resulting state.",
	}, []string{"state"})

	DispatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "dispatch_attempts_total",
		Help:      "Dispatch attempts by outcome.",
	}, []string{"outcome"})

	PendingMissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "pending_missions",
		Help:      "Missions currently waiting for dispatch.",
	})

	UAVsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "fleet",
		Name:      "uavs",
		Help:      "Registered UAVs by status.",
	}, []string{"status"})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Outbound RPC calls by peer, verb and outcome.",
	}, []string{"peer", "verb", "outcome"})

	RaftTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "raft",
		Name:      "current_term",
		Help:      "Current raft term of this node.",
	})

	RaftCommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "raft",
		Name:      "commit_index",
		Help:      "Highest committed log index on this node.",
	})

	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "broadcast",
		Name:      "dropped_messages_total",
		Help:      "Viewer messages dropped because the outbound queue was full.",
	})

	BroadcastSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Connected viewer subscribers.",
	})

	TelemetryAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "telemetry",
		Name:      "messages_total",
		Help:      "Ingress telemetry messages by outcome.",
	}, []string{"outcome"})

	SyncStaleRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "datasync",
		Name:      "stale_operations_total",
		Help:      "Sync operations rejected as stale by version comparison.",
	})

	RegionSyncLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "region",
		Name:      "sync_latency_seconds",
		Help:      "Cross-region sync latency per peer region.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"region"})

	ConflictsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "coordinator",
		Name:      "conflicts_total",
		Help:      "Coordination conflicts detected by type.",
	}, []string{"type"})

	AlertsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "alerting",
		Name:      "active_alerts",
		Help:      "Alert rules currently in the active state.",
	})
)

func init() {
	Registry.MustRegister(
		MissionsTotal,
		DispatchAttempts,
		PendingMissions,
		UAVsByStatus,
		RPCRequests,
		RaftTerm,
		RaftCommitIndex,
		BroadcastDropped,
		BroadcastSubscribers,
		TelemetryAccepted,
		SyncStaleRejected,
		RegionSyncLatency,
		ConflictsDetected,
		AlertsActive,
	)
}
