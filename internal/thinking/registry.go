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

// Package thinking tracks, per session, which chain-of-thought blocks
// produced by an upstream are still valid to echo back to it. When the
// active backend switches mid-conversation, blocks produced by the
// previous backend carry opaque provider signatures the new backend will
// reject; Registry strips those from outbound requests while preserving
// blocks that remain valid in the current session.
package thinking

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"relaygate/internal/contenthash"
	"relaygate/internal/sse"
)

// DefaultOrphanThreshold is how long an unconfirmed block may sit before a
// history-bearing request without it evicts it as orphaned.
const DefaultOrphanThreshold = 5 * time.Minute

// blockInfo is the registry's per-fingerprint bookkeeping.
type blockInfo struct {
	session      uint64
	confirmed    bool
	registeredAt time.Time
}

// Registry is the per-session cache of valid thinking blocks. All state
// lives behind one mutex; filterRequest holds it across its whole
// transaction (extract, confirm, cleanup, filter) since the operation is
// bounded by the handful of thinking blocks in one request and does no I/O.
type Registry struct {
	mu sync.Mutex

	currentSession uint64
	currentBackend string
	blocks         map[uint64]*blockInfo
	orphanThreshold time.Duration

	logger logr.Logger
	now    func() time.Time
}

// New constructs an empty Registry for the given initial backend id.
func New(initialBackend string, logger logr.Logger) *Registry {
	return &Registry{
		currentBackend:  initialBackend,
		blocks:          make(map[uint64]*blockInfo),
		orphanThreshold: DefaultOrphanThreshold,
		logger:          logger,
		now:             time.Now,
	}
}

// CurrentSession returns the session id blocks must match to remain valid.
func (r *Registry) CurrentSession() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSession
}

// Len reports how many blocks are cached, for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

// OnBackendSwitch increments the current session exactly when newBackend
// differs from the backend the registry last observed.
func (r *Registry) OnBackendSwitch(newBackend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if newBackend == r.currentBackend {
		return
	}
	r.currentSession++
	r.currentBackend = newBackend
	r.logger.Info("thinking registry session advanced", "backend", newBackend, "session", r.currentSession)
}

// anthropicBody is the minimal request/response shape the registry reads.
type anthropicBody struct {
	Messages []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// RegisterFromResponse scans a non-streaming JSON response body for
// thinking / redacted_thinking content blocks and registers each under
// sessionID — the value captured at request start, not re-read now, to
// avoid a race with a concurrent backend switch.
func (r *Registry) RegisterFromResponse(body []byte, sessionID uint64) {
	var data struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return
	}
	for _, block := range data.Content {
		var text string
		switch block.Type {
		case "thinking":
			text = block.Thinking
		case "redacted_thinking":
			text = block.Data
		default:
			continue
		}
		r.register(text, sessionID)
	}
}

// RegisterFromSSEStream replays a parsed SSE event sequence, accumulating
// thinking_delta text per block index and registering each completed
// block (on its content_block_stop, or at end of stream for a truncated
// one) under sessionID.
func (r *Registry) RegisterFromSSEStream(events []sse.Event, sessionID uint64) {
	type accum struct {
		text string
	}
	accumulators := make(map[float64]*accum)

	flush := func(idx float64) {
		if a, ok := accumulators[idx]; ok && a.text != "" {
			r.register(a.text, sessionID)
		}
		delete(accumulators, idx)
	}

	for _, e := range events {
		switch e.Type {
		case "content_block_start":
			index, hasIndex := e.Data["index"].(float64)
			block, _ := e.Data["content_block"].(map[string]any)
			blockType, _ := block["type"].(string)

			switch blockType {
			case "thinking":
				if !hasIndex {
					continue
				}
				preloaded, _ := block["thinking"].(string)
				accumulators[index] = &accum{text: preloaded}
			case "redacted_thinking":
				data, _ := block["data"].(string)
				if data != "" {
					r.register(data, sessionID)
				}
			}
		case "content_block_delta":
			index, hasIndex := e.Data["index"].(float64)
			if !hasIndex {
				continue
			}
			delta, _ := e.Data["delta"].(map[string]any)
			deltaType, _ := delta["type"].(string)
			if deltaType != "thinking_delta" {
				continue
			}
			if a, ok := accumulators[index]; ok {
				text, _ := delta["thinking"].(string)
				a.text += text
			}
		case "content_block_stop":
			if index, ok := e.Data["index"].(float64); ok {
				flush(index)
			}
		}
	}

	// Truncated stream: register whatever accumulated text remains.
	for idx := range accumulators {
		flush(idx)
	}
}

func (r *Registry) register(text string, sessionID uint64) {
	if text == "" {
		return
	}
	fp := contenthash.Fingerprint(text)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.blocks[fp]; ok && existing.session == sessionID {
		return
	}
	r.blocks[fp] = &blockInfo{session: sessionID, confirmed: false, registeredAt: r.now()}
}

// hasAssistantHistory reports whether body contains any message with role
// "assistant" — the registry's definition of "this request carries
// conversation history."
func hasAssistantHistory(body anthropicBody) bool {
	for _, m := range body.Messages {
		if m.Role == "assistant" {
			return true
		}
	}
	return false
}

// extractFingerprints walks messages[].content[] and returns the set of
// thinking-block fingerprints present in body.
func extractFingerprints(body anthropicBody) map[uint64]bool {
	set := make(map[uint64]bool)
	for _, m := range body.Messages {
		var blocks []contentBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			continue // non-array content (e.g. a plain string) carries no thinking blocks
		}
		for _, b := range blocks {
			var text string
			switch b.Type {
			case "thinking":
				text = b.Thinking
			case "redacted_thinking":
				text = b.Data
			default:
				continue
			}
			if text != "" {
				set[contenthash.Fingerprint(text)] = true
			}
		}
	}
	return set
}

// FilterRequest is the per-request entry point: extract, confirm, cleanup,
// filter, as one transaction under the registry's lock. It returns the
// (possibly rewritten) body and the count of thinking/redacted_thinking
// elements removed.
//
// The body is decoded twice: once into anthropicBody to walk messages[] and
// their content blocks, and once into a generic map so every sibling field
// at the top level (model, stream, max_tokens, system, tools, ...) survives
// the round trip untouched — the same map[string]any discipline ForwardRequestModel
// and ReverseJSON use, since only "messages" is ever meant to change here.
func (r *Registry) FilterRequest(body []byte) ([]byte, int) {
	var parsed anthropicBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body, 0
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return body, 0
	}

	present := extractFingerprints(parsed)
	history := hasAssistantHistory(parsed)

	r.mu.Lock()
	session := r.currentSession

	// Phase 2: confirm.
	for fp := range present {
		if b, ok := r.blocks[fp]; ok && b.session == session && !b.confirmed {
			b.confirmed = true
		}
	}

	// Phase 3: cleanup.
	applyEvictionRules := history && len(present) > 0
	now := r.now()
	for fp, b := range r.blocks {
		if b.session != session {
			delete(r.blocks, fp) // Rule 1: always.
			continue
		}
		if !applyEvictionRules {
			continue
		}
		if present[fp] {
			continue
		}
		if b.confirmed {
			delete(r.blocks, fp) // Rule 2.
			continue
		}
		if now.Sub(b.registeredAt) > r.orphanThreshold {
			delete(r.blocks, fp) // Rule 3.
		}
	}

	// Snapshot the surviving cache under the same lock for phase 4, so the
	// filter below sees exactly what cleanup left behind.
	valid := make(map[uint64]bool, len(r.blocks))
	for fp, b := range r.blocks {
		if b.session == session {
			valid[fp] = true
		}
	}
	r.mu.Unlock()

	// Phase 4: filter.
	removed := 0
	for i, m := range parsed.Messages {
		var blocks []json.RawMessage
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			continue
		}
		kept := blocks[:0]
		for _, raw := range blocks {
			var b contentBlock
			if err := json.Unmarshal(raw, &b); err != nil {
				kept = append(kept, raw)
				continue
			}
			var text string
			switch b.Type {
			case "thinking":
				text = b.Thinking
			case "redacted_thinking":
				text = b.Data
			default:
				kept = append(kept, raw)
				continue
			}
			if text != "" && valid[contenthash.Fingerprint(text)] {
				kept = append(kept, raw)
			} else {
				removed++
			}
		}
		newContent, err := json.Marshal(kept)
		if err != nil {
			continue
		}
		parsed.Messages[i].Content = newContent
	}

	if removed == 0 {
		return body, 0
	}
	raw["messages"] = parsed.Messages
	out, err := json.Marshal(raw)
	if err != nil {
		return body, 0
	}
	return out, removed
}
