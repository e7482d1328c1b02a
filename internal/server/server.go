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

// Package server wires routing, backend state, the thinking registry,
// model map, upstream client, and observability hub into the HTTP handler
// described by the external interfaces: GET /health, GET /metrics, an
// optional mounted prefix sub-router, and a fallback proxy handler.
package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaygate/internal/backend"
	"relaygate/internal/observability"
	"relaygate/internal/routing"
	"relaygate/internal/thinking"
	"relaygate/internal/upstream"
)

// ServiceName is reported in the health check body.
const ServiceName = "relaygate"

// Server holds every long-lived component the proxy needs to serve a
// request; one Server is constructed at startup and shared across all
// connections.
type Server struct {
	Backends *backend.State
	Registry *thinking.Registry
	Client   *upstream.Client
	Hub      *observability.Hub

	// routes is held behind an atomic pointer, not a plain field, because
	// cmd/relay-proxy's SIGHUP handler replaces it concurrently with
	// request goroutines calling Routes().Resolve() — the same
	// reload-without-blocking-readers discipline backend.State already
	// applies to its own config via a mutex.
	routes atomic.Pointer[routing.Table]

	IdleTimeout time.Duration
	Logger      logr.Logger
}

// SetRoutes atomically installs a new routing table. Safe to call
// concurrently with in-flight requests resolving via Routes().
func (s *Server) SetRoutes(t *routing.Table) {
	s.routes.Store(t)
}

// Routes returns the currently active routing table, or an empty table if
// SetRoutes has never been called.
func (s *Server) Routes() *routing.Table {
	t := s.routes.Load()
	if t == nil {
		t = routing.NewTable()
	}
	return t
}

// Handler builds the top-level mux. Mounted ahead of the fallback handler
// so /health and /metrics are never shadowed by a routing rule that
// happens to match those paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/summary", s.Hub.SummaryHandler())
	mux.HandleFunc("/admin/backend", s.handleSwitchBackend)
	mux.HandleFunc("/", s.handleProxy)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}
