// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics registers the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts sync calls by result: ok, conflict, auth_expired, error.
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_runs_total",
			Help: "Mailbox sync runs by result",
		},
		[]string{"provider", "result"},
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_ingested_total",
			Help: "Messages persisted by sync, split into new and duplicate",
		},
		[]string{"provider", "outcome"},
	)

	// GatewayCalls counts gateway invocations by template and outcome:
	// ok, retried_ok, fallback.
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_generation_calls_total",
			Help: "Generation gateway calls by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	GatewayAttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_generation_attempt_seconds",
			Help:    "Latency of individual generation attempts",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"template", "status"},
	)

	EnrichmentResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_enrichment_results_total",
			Help: "Per-message enrichment results",
		},
		[]string{"stage", "status"}, // status: ok, degraded, failed
	)
)

// ObserveAttempt records one generation attempt.
func ObserveAttempt(template, status string, d time.Duration) {
	GatewayAttemptLatency.WithLabelValues(template, status).Observe(d.Seconds())
}
