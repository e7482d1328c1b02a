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

// Package routing evaluates an ordered set of path-prefix rules before
// backend-state resolution. Rules form a small, finite, closed set —
// path-prefix is the canonical (and currently only) variant — evaluated
// in order, first match wins.
package routing

import "strings"

// Action is what a matching rule does to a request: force a backend and
// optionally strip a path prefix before the upstream client sees it.
type Action struct {
	BackendID   string
	StripPrefix string
}

// Rule is one routing predicate. PrefixRule is the canonical implementation;
// the interface exists so the set stays open to a second variant without
// disturbing Table's evaluation order contract.
type Rule interface {
	// Match returns the action to take and true if this rule applies to
	// path, or a zero Action and false otherwise.
	Match(path string) (Action, bool)
}

// PrefixRule routes any request whose path equals prefix exactly, or
// begins with prefix+"/", to BackendID, stripping prefix from the path.
// Partial-segment matches (prefix "/teammate" against path "/teammates")
// do not match.
type PrefixRule struct {
	Prefix    string
	BackendID string
}

func (p PrefixRule) Match(path string) (Action, bool) {
	if path == p.Prefix {
		return Action{BackendID: p.BackendID, StripPrefix: p.Prefix}, true
	}
	if strings.HasPrefix(path, p.Prefix+"/") {
		return Action{BackendID: p.BackendID, StripPrefix: p.Prefix}, true
	}
	return Action{}, false
}

// Table is an ordered list of rules. Resolve returns the first match, or
// false if nothing matches (the caller falls through to the backend
// state's active backend).
type Table struct {
	rules []Rule
}

func NewTable(rules ...Rule) *Table {
	return &Table{rules: rules}
}

func (t *Table) Resolve(path string) (Action, bool) {
	for _, r := range t.rules {
		if action, ok := r.Match(path); ok {
			return action, true
		}
	}
	return Action{}, false
}

// StripPrefix removes action.StripPrefix from path, leaving a leading "/".
// Used by the upstream client to build the URI it forwards.
func StripPrefix(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return "/"
	}
	return rest
}
