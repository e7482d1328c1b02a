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

package observability

import (
	"encoding/json"
	"net/http"
)

// aggregateView is the wire shape for SummaryHandler, with durations
// rendered as milliseconds instead of time.Duration's nanosecond default.
type aggregateView struct {
	Backend    string `json:"backend"`
	Count      int    `json:"count"`
	Errors     int    `json:"errors"`
	Timeouts   int    `json:"timeouts"`
	TotalBytes int64  `json:"total_bytes"`
	P50Ms      int64  `json:"p50_ms"`
	P95Ms      int64  `json:"p95_ms"`
	P99Ms      int64  `json:"p99_ms"`
}

// SummaryHandler serves a JSON snapshot of per-backend aggregates, for an
// operator dashboard that wants more than Prometheus's raw counters.
func (h *Hub) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aggs := h.Aggregates()
		views := make([]aggregateView, 0, len(aggs))
		for _, a := range aggs {
			views = append(views, aggregateView{
				Backend:    a.Backend,
				Count:      a.Count,
				Errors:     a.Errors,
				Timeouts:   a.Timeouts,
				TotalBytes: a.TotalBytes,
				P50Ms:      a.P50.Milliseconds(),
				P95Ms:      a.P95.Milliseconds(),
				P99Ms:      a.P99.Milliseconds(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}
