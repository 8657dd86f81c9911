// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package metrics exposes the edge server's Prometheus surface (spec.md
// §4.8, §4.10). Metrics are global, registered once at init, no unbounded
// label cardinality.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunnel_connections_total",
		Help: "Total control channels accepted since start.",
	})
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tunnel_requests_total",
		Help: "Total public requests forwarded through a tunnel.",
	})
	activeSubdomains = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tunnel_active_subdomains",
		Help: "Number of subdomains currently bound to at least one control channel.",
	})
	uptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tunnel_uptime_seconds",
		Help: "Seconds since the edge server started.",
	})

	// requestBodyBytes and responseBodyBytes are not named in the core spec
	// but give operators visibility into payload sizes without needing to
	// sample individual requests.
	requestBodyBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tunnel_request_body_bytes",
		Help:    "Size in bytes of forwarded request bodies.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10),
	})
	responseBodyBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tunnel_response_body_bytes",
		Help:    "Size in bytes of tunnel response bodies.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		requestsTotal,
		activeSubdomains,
		uptimeSeconds,
		requestBodyBytes,
		responseBodyBytes,
	)
}

// ObserveConnection records a newly accepted control channel.
func ObserveConnection() { connectionsTotal.Inc() }

// ObserveRequest records one forwarded public request and its body sizes.
func ObserveRequest(requestBytes, responseBytes int) {
	requestsTotal.Inc()
	if requestBytes > 0 {
		requestBodyBytes.Observe(float64(requestBytes))
	}
	if responseBytes > 0 {
		responseBodyBytes.Observe(float64(responseBytes))
	}
}

// SetActiveSubdomains publishes the current count of bound subdomains.
func SetActiveSubdomains(n int) { activeSubdomains.Set(float64(n)) }

// SetUptimeSeconds publishes the current process uptime.
func SetUptimeSeconds(seconds float64) { uptimeSeconds.Set(seconds) }

// Handler returns the promhttp handler for mounting at /metrics and /_metrics.
func Handler() http.Handler { return promhttp.Handler() }
