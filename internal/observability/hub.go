// Copyright 2025 Esteban Alvarez. All Rights Reserved.
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

// Package observability keeps a bounded in-process history of finished
// requests and exports Prometheus metrics from it, following the
// global-counter-plus-ring-buffer split etalazz-vsa's churn package uses
// for its own KPIs.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record is one finished request's observable outcome, handed to the Hub
// once the response (buffered or streamed) has fully completed.
type Record struct {
	Backend      string
	Model        string
	Streaming    bool
	StatusCode   int
	BytesOut     int64
	Duration     time.Duration
	ThinkingHits int // thinking blocks filtered from this request's history
	TimedOut     bool
	Failed       bool
	At           time.Time
}

const defaultRingSize = 2048

// Hub aggregates finished-request records for both Prometheus scraping and
// the on-demand percentile queries an operator dashboard would want.
type Hub struct {
	mu   sync.Mutex
	ring []Record
	next int
	size int // number of valid entries, caps at len(ring)

	requestsTotal    *prometheus.CounterVec
	bytesOutTotal    *prometheus.CounterVec
	durationSeconds  *prometheus.HistogramVec
	thinkingFiltered prometheus.Counter
	activeStreams    prometheus.Gauge
}

// NewHub builds a Hub with a ring buffer of capacity entries, registered
// against reg. Pass prometheus.NewRegistry() in tests to avoid colliding
// with the global default registry across package-level test runs.
func NewHub(capacity int, reg prometheus.Registerer) *Hub {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	h := &Hub{
		ring: make([]Record, capacity),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_requests_total",
			Help: "Total proxied requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		bytesOutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_response_bytes_total",
			Help: "Total response bytes forwarded to clients, by backend.",
		}, []string{"backend"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaygate_request_duration_seconds",
			Help:    "End-to-end request duration by backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		thinkingFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaygate_thinking_blocks_filtered_total",
			Help: "Total thinking/redacted_thinking blocks removed from outgoing requests.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaygate_active_streams",
			Help: "Number of SSE responses currently being forwarded.",
		}),
	}
	reg.MustRegister(h.requestsTotal, h.bytesOutTotal, h.durationSeconds, h.thinkingFiltered, h.activeStreams)
	return h
}

// StreamStarted and StreamEnded track in-flight SSE responses for the
// activeStreams gauge; call StreamEnded exactly once per StreamStarted,
// typically from the observed stream's Finalizer.
func (h *Hub) StreamStarted() { h.activeStreams.Inc() }
func (h *Hub) StreamEnded()   { h.activeStreams.Dec() }

// Record appends rec to the ring buffer and updates the Prometheus series.
func (h *Hub) Record(rec Record) {
	outcome := "ok"
	switch {
	case rec.TimedOut:
		outcome = "timeout"
	case rec.Failed:
		outcome = "error"
	}
	h.requestsTotal.WithLabelValues(rec.Backend, outcome).Inc()
	h.bytesOutTotal.WithLabelValues(rec.Backend).Add(float64(rec.BytesOut))
	h.durationSeconds.WithLabelValues(rec.Backend).Observe(rec.Duration.Seconds())
	if rec.ThinkingHits > 0 {
		h.thinkingFiltered.Add(float64(rec.ThinkingHits))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = rec
	h.next = (h.next + 1) % len(h.ring)
	if h.size < len(h.ring) {
		h.size++
	}
}

// Snapshot returns a copy of the currently retained records, oldest first.
func (h *Hub) Snapshot() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, h.size)
	if h.size < len(h.ring) {
		copy(out, h.ring[:h.size])
		return out
	}
	// Ring is full: the oldest entry is at h.next (about to be overwritten).
	copy(out, h.ring[h.next:])
	copy(out[len(h.ring)-h.next:], h.ring[:h.next])
	return out
}

// Percentiles computes p50/p95/p99 request duration over the retained
// window for backend ("" matches all backends).
func (h *Hub) Percentiles(backend string) (p50, p95, p99 time.Duration) {
	records := h.Snapshot()
	durations := make([]time.Duration, 0, len(records))
	for _, r := range records {
		if backend != "" && r.Backend != backend {
			continue
		}
		durations = append(durations, r.Duration)
	}
	if len(durations) == 0 {
		return 0, 0, 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	return percentileOf(durations, 0.50), percentileOf(durations, 0.95), percentileOf(durations, 0.99)
}

// percentileOf assumes sorted is sorted ascending and non-empty.
func percentileOf(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// BackendAggregate summarizes one backend's retained-window behavior.
type BackendAggregate struct {
	Backend       string
	Count         int
	Errors        int
	Timeouts      int
	TotalBytes    int64
	P50, P95, P99 time.Duration
}

// Aggregates groups the retained window by backend.
func (h *Hub) Aggregates() []BackendAggregate {
	records := h.Snapshot()
	byBackend := map[string][]Record{}
	order := []string{}
	for _, r := range records {
		if _, ok := byBackend[r.Backend]; !ok {
			order = append(order, r.Backend)
		}
		byBackend[r.Backend] = append(byBackend[r.Backend], r)
	}
	sort.Strings(order)

	out := make([]BackendAggregate, 0, len(order))
	for _, backend := range order {
		recs := byBackend[backend]
		agg := BackendAggregate{Backend: backend, Count: len(recs)}
		durations := make([]time.Duration, 0, len(recs))
		for _, r := range recs {
			if r.Failed {
				agg.Errors++
			}
			if r.TimedOut {
				agg.Timeouts++
			}
			agg.TotalBytes += r.BytesOut
			durations = append(durations, r.Duration)
		}
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		agg.P50 = percentileOf(durations, 0.50)
		agg.P95 = percentileOf(durations, 0.95)
		agg.P99 = percentileOf(durations, 0.99)
		out = append(out, agg)
	}
	return out
}
