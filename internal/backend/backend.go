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

// Package backend holds the thread-safe current-backend handle: the
// active backend id, the config it was chosen from, and an append-only
// switch log, all behind one reader-writer lock.
package backend

import (
	"os"
	"time"
)

// AuthMode selects how the proxy authenticates to a backend.
type AuthMode string

const (
	AuthAPIKey      AuthMode = "api_key"
	AuthBearer      AuthMode = "bearer"
	AuthPassthrough AuthMode = "passthrough"
)

// ModelFamily is a client-visible model family slot.
type ModelFamily string

const (
	FamilyOpus   ModelFamily = "opus"
	FamilySonnet ModelFamily = "sonnet"
	FamilyHaiku  ModelFamily = "haiku"
)

// Config is one named upstream provider configuration. Immutable within a
// config version.
type Config struct {
	ID          string
	DisplayName string
	BaseURL     string
	AuthMode    AuthMode
	AuthEnvVar  string
	// ModelMap maps up to three family slots to this backend's own model
	// ids. A zero-value entry means that family is not mapped.
	ModelMap map[ModelFamily]string
	// BudgetTokens, if non-zero, is this backend's configured
	// thinking-budget override (spec.md §4.6 beta normalization).
	BudgetTokens int
}

// IsConfigured reports whether the backend's credentials are available.
// Passthrough backends are always configured.
func (c Config) IsConfigured() bool {
	if c.AuthMode == AuthPassthrough {
		return true
	}
	v, ok := os.LookupEnv(c.AuthEnvVar)
	return ok && v != ""
}

// ResolveModel returns the backend model id for a client-visible family
// name, if this backend declares a mapping for it.
func (c Config) ResolveModel(family ModelFamily) (string, bool) {
	m, ok := c.ModelMap[family]
	return m, ok && m != ""
}

// SwitchLogEntry records one backend transition.
type SwitchLogEntry struct {
	From string
	To   string
	At   time.Time
}

// Error is the backend package's own error kind, independent of the HTTP
// taxonomy in proxyerr; callers map it at the boundary.
type Error struct {
	Op      string
	Backend string
}

func (e *Error) Error() string {
	if e.Backend == "" {
		return e.Op
	}
	return e.Op + ": " + e.Backend
}

func errNotFound(id string) error { return &Error{Op: "backend not found", Backend: id} }
func errNoBackends() error        { return &Error{Op: "no backends configured"} }
