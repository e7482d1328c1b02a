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

// Package config loads the proxy's YAML configuration document and holds
// it behind an atomic pointer so a reload never interleaves with an
// in-flight request reading a half-applied Document.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"relaygate/internal/backend"
	"relaygate/internal/upstream"
)

// BackendDoc is one backend entry as written in the YAML document.
type BackendDoc struct {
	ID           string            `yaml:"id"`
	DisplayName  string            `yaml:"display_name"`
	BaseURL      string            `yaml:"base_url"`
	AuthMode     string            `yaml:"auth_mode"`
	AuthEnvVar   string            `yaml:"auth_env_var"`
	ModelMap     map[string]string `yaml:"model_map"`
	BudgetTokens int               `yaml:"budget_tokens"`
}

// RouteDoc is one routing rule entry.
type RouteDoc struct {
	Prefix  string `yaml:"prefix"`
	Backend string `yaml:"backend"`
}

// Document is the root of the YAML configuration file.
type Document struct {
	ListenAddr          string        `yaml:"listen_addr"`
	DefaultBackend      string        `yaml:"default_backend"`
	Backends            []BackendDoc  `yaml:"backends"`
	Routes              []RouteDoc    `yaml:"routes"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	PoolIdleTimeout     time.Duration `yaml:"pool_idle_timeout"`
	PoolMaxIdlePerHost  int           `yaml:"pool_max_idle_per_host"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryBackoffBase    time.Duration `yaml:"retry_backoff_base"`
	OrphanThreshold     time.Duration `yaml:"orphan_threshold"`
	MetricsRingCapacity int           `yaml:"metrics_ring_capacity"`
}

// Load reads and parses the YAML document at path, applying defaults for
// any zero-valued duration/count field (the same defaults as
// upstream.DefaultTimeoutConfig/DefaultPoolConfig).
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	applyDefaults(&doc)
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return &doc, nil
}

func applyDefaults(doc *Document) {
	timeouts := upstream.DefaultTimeoutConfig()
	pool := upstream.DefaultPoolConfig()

	if doc.ListenAddr == "" {
		doc.ListenAddr = ":8089"
	}
	if doc.ConnectTimeout <= 0 {
		doc.ConnectTimeout = timeouts.Connect
	}
	if doc.RequestTimeout <= 0 {
		doc.RequestTimeout = timeouts.Request
	}
	if doc.IdleTimeout <= 0 {
		doc.IdleTimeout = timeouts.Idle
	}
	if doc.PoolIdleTimeout <= 0 {
		doc.PoolIdleTimeout = pool.PoolIdleTimeout
	}
	if doc.PoolMaxIdlePerHost <= 0 {
		doc.PoolMaxIdlePerHost = pool.PoolMaxIdlePerHost
	}
	if doc.MaxRetries <= 0 {
		doc.MaxRetries = pool.MaxRetries
	}
	if doc.RetryBackoffBase <= 0 {
		doc.RetryBackoffBase = pool.RetryBackoffBase
	}
	if doc.OrphanThreshold <= 0 {
		doc.OrphanThreshold = 5 * time.Minute
	}
	if doc.MetricsRingCapacity <= 0 {
		doc.MetricsRingCapacity = 2048
	}
}

// Validate reports structural problems Load's defaults cannot paper over:
// duplicate backend ids, a default_backend that names nothing, and a route
// pointing at an undeclared backend.
func (d *Document) Validate() error {
	if len(d.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	seen := make(map[string]bool, len(d.Backends))
	for _, b := range d.Backends {
		if b.ID == "" {
			return fmt.Errorf("config: backend entry missing id")
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
	}
	if d.DefaultBackend != "" && !seen[d.DefaultBackend] {
		return fmt.Errorf("config: default_backend %q is not a declared backend", d.DefaultBackend)
	}
	for _, r := range d.Routes {
		if !seen[r.Backend] {
			return fmt.Errorf("config: route prefix %q targets undeclared backend %q", r.Prefix, r.Backend)
		}
	}
	return nil
}

// ToBackendConfigSet converts the YAML backend entries into the backend
// package's runtime ConfigSet.
func (d *Document) ToBackendConfigSet() backend.ConfigSet {
	out := backend.ConfigSet{DefaultBackend: d.DefaultBackend}
	for _, b := range d.Backends {
		modelMap := make(map[backend.ModelFamily]string, len(b.ModelMap))
		for family, model := range b.ModelMap {
			modelMap[backend.ModelFamily(family)] = model
		}
		out.Backends = append(out.Backends, backend.Config{
			ID:           b.ID,
			DisplayName:  b.DisplayName,
			BaseURL:      b.BaseURL,
			AuthMode:     backend.AuthMode(b.AuthMode),
			AuthEnvVar:   b.AuthEnvVar,
			ModelMap:     modelMap,
			BudgetTokens: b.BudgetTokens,
		})
	}
	return out
}

// TimeoutConfig extracts the upstream.TimeoutConfig implied by this document.
func (d *Document) TimeoutConfig() upstream.TimeoutConfig {
	return upstream.TimeoutConfig{
		Connect: d.ConnectTimeout,
		Request: d.RequestTimeout,
		Idle:    d.IdleTimeout,
	}
}

// PoolConfig extracts the upstream.PoolConfig implied by this document.
func (d *Document) PoolConfig() upstream.PoolConfig {
	return upstream.PoolConfig{
		PoolIdleTimeout:    d.PoolIdleTimeout,
		PoolMaxIdlePerHost: d.PoolMaxIdlePerHost,
		MaxRetries:         d.MaxRetries,
		RetryBackoffBase:   d.RetryBackoffBase,
	}
}
