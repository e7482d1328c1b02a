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

package backend

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ConfigSet is the root document's backend list plus which id is the
// configured default, as loaded from the config file.
type ConfigSet struct {
	Backends       []Config
	DefaultBackend string
}

func (cs ConfigSet) find(id string) (Config, bool) {
	for _, b := range cs.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return Config{}, false
}

// State is the thread-safe current-backend handle. Many concurrent readers
// via a reader-writer lock; writers only on Switch or UpdateConfig.
//
// Concurrency model: every accessor takes exactly a read lock and returns a
// value (never a pointer into internal state), so a reader's view can never
// be mutated out from under it mid-request. Switch and UpdateConfig take
// the write lock for the minimal span needed to validate and swap.
type State struct {
	mu  sync.RWMutex
	cfg ConfigSet
	// active is the current backend id.
	active string
	log    []SwitchLogEntry
	logger logr.Logger
}

// New constructs a State with the given initial config and active backend.
// active must be present in cfg.Backends, or New falls back to
// cfg.DefaultBackend, or the first backend if neither is present.
func New(cfg ConfigSet, logger logr.Logger) (*State, error) {
	if len(cfg.Backends) == 0 {
		return nil, errNoBackends()
	}
	active := cfg.DefaultBackend
	if _, ok := cfg.find(active); !ok {
		active = cfg.Backends[0].ID
	}
	return &State{cfg: cfg, active: active, logger: logger}, nil
}

// GetActive returns the current active backend id.
func (s *State) GetActive() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// GetActiveConfig returns the config of the currently active backend.
func (s *State) GetActiveConfig() (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cfg.find(s.active)
	if !ok {
		return Config{}, errNotFound(s.active)
	}
	return cfg, nil
}

// GetBackendConfig returns the config for a specific backend id, whether
// or not it is currently active.
func (s *State) GetBackendConfig(id string) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cfg.find(id)
	if !ok {
		return Config{}, errNotFound(id)
	}
	return cfg, nil
}

// GetConfigAndActive returns the active backend's config and the active id
// as one atomic snapshot under a single read lock, so a request taking this
// snapshot at entry cannot observe a config and an active id from two
// different points in time.
func (s *State) GetConfigAndActive() (Config, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cfg.find(s.active)
	if !ok {
		return Config{}, "", errNotFound(s.active)
	}
	return cfg, s.active, nil
}

// Switch changes the active backend. A no-op (not logged) if id already
// equals the active backend. Fails if id is not present in the current
// config.
func (s *State) Switch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.active {
		return nil
	}
	if _, ok := s.cfg.find(id); !ok {
		return errNotFound(id)
	}
	entry := SwitchLogEntry{From: s.active, To: id, At: time.Now()}
	s.log = append(s.log, entry)
	s.logger.Info("backend switch", "from", entry.From, "to", entry.To)
	s.active = id
	return nil
}

// UpdateConfig replaces the held config. Non-empty backend lists only.
// If the current active id is still present in newCfg, it is preserved;
// otherwise the state switches to newCfg.DefaultBackend (or the first
// backend) and records a log entry.
func (s *State) UpdateConfig(newCfg ConfigSet) error {
	if len(newCfg.Backends) == 0 {
		return errNoBackends()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevActive := s.active
	s.cfg = newCfg

	if _, ok := newCfg.find(prevActive); ok {
		return nil
	}

	next := newCfg.DefaultBackend
	if _, ok := newCfg.find(next); !ok {
		next = newCfg.Backends[0].ID
	}
	entry := SwitchLogEntry{From: prevActive, To: next, At: time.Now()}
	s.log = append(s.log, entry)
	s.logger.Info("backend switch on config reload", "from", entry.From, "to", entry.To)
	s.active = next
	return nil
}

// SwitchLog returns a copy of the append-only switch history.
func (s *State) SwitchLog() []SwitchLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SwitchLogEntry, len(s.log))
	copy(out, s.log)
	return out
}
