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

package config

import (
	"sync/atomic"

	"relaygate/internal/routing"
)

// Store holds the current Document behind an atomic pointer, so a SIGHUP
// reload can swap in a freshly validated Document without a request ever
// observing a half-updated one.
type Store struct {
	ptr  atomic.Pointer[Document]
	path string
}

// NewStore loads path and returns a Store seeded with the result.
func NewStore(path string) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.ptr.Store(doc)
	return s, nil
}

// Get returns the currently active Document. Safe for concurrent use.
func (s *Store) Get() *Document {
	return s.ptr.Load()
}

// Reload re-reads the store's path and swaps in the new Document only if
// it parses and validates cleanly; the previous Document remains active on
// failure.
func (s *Store) Reload() error {
	doc, err := Load(s.path)
	if err != nil {
		return err
	}
	s.ptr.Store(doc)
	return nil
}

// RoutingTable builds a routing.Table from the document's route entries,
// preserving declaration order (first match wins, per routing.Table).
func (d *Document) RoutingTable() *routing.Table {
	rules := make([]routing.Rule, 0, len(d.Routes))
	for _, r := range d.Routes {
		rules = append(rules, routing.PrefixRule{Prefix: r.Prefix, BackendID: r.Backend})
	}
	return routing.NewTable(rules...)
}
