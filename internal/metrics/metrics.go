// Package metrics defines and registers all custom Prometheus metrics for
// tiersync. It is the single source of truth for metric names, labels, and
// help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation (promauto) and exposed by the ops server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tiersync"

// ── Reconciliation metrics ────────────────────────────────────────────────────

// ReconciliationsTotal counts single-member reconciliation outcomes that
// mutated roles or failed. No-ops are not counted.
// Labels:
//   - tier: "pending" or "entitlement"
//   - kind: outcome kind (e.g. "success", "role_hierarchy", "capability_denied")
var ReconciliationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Total number of member reconciliations that mutated roles or failed.",
	},
	[]string{"tier", "kind"},
)

// RoleMutationsTotal counts role add/remove calls issued to the directory.
// Labels:
//   - op: "add" or "remove"
//   - result: "ok" or "error"
var RoleMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_mutations_total",
		Help:      "Total number of role mutations issued, by operation and result.",
	},
	[]string{"op", "result"},
)

// ── Sweep metrics ─────────────────────────────────────────────────────────────

// SweepRunsTotal counts sweep executions.
// Labels:
//   - sweep: "pending" or "entitlement"
//   - result: "completed", "failed" or "skipped" (previous run still active)
var SweepRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_runs_total",
		Help:      "Total number of sweep runs, by sweep and result.",
	},
	[]string{"sweep", "result"},
)

// SweepDuration measures how long a full-population sweep takes.
var SweepDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a full-population sweep.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"sweep"},
)

// SweepMembers records how many members the last sweep looked at.
var SweepMembers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sweep_members",
		Help:      "Number of members processed by the most recent sweep.",
	},
	[]string{"sweep"},
)

// ── Verification metrics ──────────────────────────────────────────────────────

// VerificationsTotal counts verify commands by terminal state.
// Label:
//   - outcome: "not_needed", "succeeded" or "failed"
var VerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Total number of verify commands handled, by outcome.",
	},
	[]string{"outcome"},
)

// CleanupFailuresTotal counts artifact deletions that did not succeed.
// Label:
//   - kind: "message_too_old", "capability_denied", "transient_io", ...
var CleanupFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_failures_total",
		Help:      "Total number of verification artifact deletions that failed.",
	},
	[]string{"kind"},
)

// ── Delivery metrics ──────────────────────────────────────────────────────────

// DispatchQueueDepth tracks the number of member events waiting in each
// dispatcher worker channel.
var DispatchQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Current number of member events pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// LogChannelPostsTotal counts log-channel deliveries.
// Label:
//   - result: "ok" or "error"
var LogChannelPostsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_channel_posts_total",
		Help:      "Total number of outcome lines posted to the log channel.",
	},
	[]string{"result"},
)
