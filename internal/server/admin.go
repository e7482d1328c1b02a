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

package server

import (
	"encoding/json"
	"net/http"

	"relaygate/internal/proxyerr"
)

type switchBackendRequest struct {
	BackendID string `json:"backend_id"`
}

// handleSwitchBackend is the data-plane surface for the runtime backend
// hot-swap spec.md §1 describes as operator-driven: it switches the active
// backend and advances the thinking registry's session together, so the
// two can never observably disagree about which backend is current.
func (s *Server) handleSwitchBackend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req switchBackendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BackendID == "" {
		proxyerr.New(proxyerr.KindInvalidRequest, "request body must be {\"backend_id\":\"...\"}").WriteHTTP(w)
		return
	}

	if err := s.Backends.Switch(req.BackendID); err != nil {
		proxyerr.Wrap(proxyerr.KindBackendNotFound, err, "backend not found").WriteHTTP(w)
		return
	}
	s.Registry.OnBackendSwitch(req.BackendID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"active_backend": req.BackendID})
}
