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

// Package modelmap rewrites the "model" field between the client's
// vocabulary and each backend's vocabulary: forward on the request path,
// reverse on the JSON and SSE response paths. A single Mapping is computed
// once per request and reused for both directions.
package modelmap

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-logr/logr"
)

// Mapping is the frozen (backend_model, client_model) pair for one request.
type Mapping struct {
	Backend  string // model id sent to the backend
	Original string // model id the client originally sent
}

// ChunkRewriter transforms one SSE chunk. It is stateful: construct a fresh
// one per request via NewReverseSSERewriter.
type ChunkRewriter struct {
	mapping Mapping
	logger  logr.Logger
	done    bool
}

// NewReverseSSERewriter returns a rewriter that replaces message.model in
// the message_start SSE event back to the client's original model name.
//
// Lifecycle:
//
//	Waiting --chunk without message_start--> Waiting (pass through)
//	Waiting --chunk with message_start-----> Done    (rewrite attempted)
//	Done    --any chunk--------------------> Done    (pass through)
//
// After the first chunk containing message_start is processed, the
// rewriter becomes a zero-cost no-op for all subsequent chunks —
// message_start appears at most once per response.
func NewReverseSSERewriter(mapping Mapping, logger logr.Logger) *ChunkRewriter {
	return &ChunkRewriter{mapping: mapping, logger: logger}
}

// Transform applies the rewrite to one chunk, returning the (possibly
// unmodified) bytes to forward to the client.
func (r *ChunkRewriter) Transform(chunk []byte) []byte {
	if r.done {
		return chunk
	}

	// Fast path: skip chunks that don't contain message_start, using a
	// byte-level check instead of a full SSE parse.
	if !bytes.Contains(chunk, []byte(`"message_start"`)) {
		return chunk
	}
	r.done = true

	text := string(chunk)
	lines := strings.Split(text, "\n")
	var result strings.Builder
	rewritten := false

	for i, line := range lines {
		if i > 0 {
			result.WriteByte('\n')
		}

		trimmed := strings.TrimSpace(line)
		payload, isData := strings.CutPrefix(trimmed, "data:")
		if isData {
			payload = strings.TrimPrefix(payload, " ")
			var data map[string]any
			if err := json.Unmarshal([]byte(payload), &data); err == nil {
				if typ, _ := data["type"].(string); typ == "message_start" {
					if rewroteLine := r.rewriteMessageStart(data); rewroteLine != "" {
						result.WriteString(rewroteLine)
						rewritten = true
						continue
					}
					result.WriteString(line)
					continue
				}
			}
		}
		result.WriteString(line)
	}

	if !rewritten {
		return chunk
	}
	r.logger.V(1).Info("reverse mapped model in message_start", "backend", r.mapping.Backend, "original", r.mapping.Original)
	return []byte(result.String())
}

// rewriteMessageStart mutates data's nested message.model field and
// re-serializes the event line, returning "" if no rewrite was applied
// (model absent or mismatched — the caller then passes the line through
// unchanged).
func (r *ChunkRewriter) rewriteMessageStart(data map[string]any) string {
	msg, ok := data["message"].(map[string]any)
	if !ok {
		return ""
	}
	model, ok := msg["model"].(string)
	if !ok {
		return ""
	}
	if model != r.mapping.Backend {
		r.logger.V(1).Info("reverse mapping skipped: model mismatch", "expected", r.mapping.Backend, "found", model)
		return ""
	}
	msg["model"] = r.mapping.Original

	out, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return "data: " + string(out)
}

// ReverseJSON rewrites $.model in a non-streaming JSON response body back
// to the client's original model name. Returns body unchanged (the same
// slice) if the body doesn't parse as JSON, has no "model" field, or the
// field doesn't match mapping.Backend.
func ReverseJSON(body []byte, mapping Mapping, logger logr.Logger) []byte {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}
	model, ok := data["model"].(string)
	if !ok {
		return body
	}
	if model != mapping.Backend {
		logger.V(1).Info("reverse mapping skipped in response: model mismatch", "expected", mapping.Backend, "found", model)
		return body
	}
	data["model"] = mapping.Original

	out, err := json.Marshal(data)
	if err != nil {
		return body
	}
	logger.V(1).Info("reverse mapped model in response", "backend", mapping.Backend, "original", mapping.Original)
	return out
}

// ForwardRequestModel rewrites $.model in a request body from the client's
// family name to the backend's own model id, returning the rewritten body
// and the frozen Mapping for this request. ok is false if the body has no
// recognizable model field to rewrite (body is returned unchanged).
func ForwardRequestModel(body []byte, resolve func(clientModel string) (backendModel string, matched bool)) (rewritten []byte, mapping Mapping, ok bool) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body, Mapping{}, false
	}
	clientModel, has := data["model"].(string)
	if !has {
		return body, Mapping{}, false
	}
	backendModel, matched := resolve(clientModel)
	if !matched {
		return body, Mapping{}, false
	}
	data["model"] = backendModel
	out, err := json.Marshal(data)
	if err != nil {
		return body, Mapping{}, false
	}
	return out, Mapping{Backend: backendModel, Original: clientModel}, true
}
