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

// Package sse parses and classifies server-sent-event streams carrying
// Anthropic-shaped message events. It provides a single robust line parser
// used across the proxy, tolerant of the compact (data:{...}) and spaced
// (data: {...}) forms providers emit.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one parsed SSE event.
type Event struct {
	// Type is the JSON "type" field.
	Type string
	// Data is the full parsed JSON payload.
	Data map[string]any
}

// IsThinkingEvent reports whether e is thinking-related, statelessly.
//
// content_block_stop cannot be classified here: it only carries an index,
// no block type. Use AnalyzeThinkingStream for full stateful analysis
// including stop events.
func (e Event) IsThinkingEvent() bool {
	switch e.Type {
	case "content_block_start":
		blockType, _ := nestedString(e.Data, "content_block", "type")
		return blockType == "thinking" || blockType == "redacted_thinking"
	case "content_block_delta":
		deltaType, _ := nestedString(e.Data, "delta", "type")
		return deltaType == "thinking_delta" || deltaType == "signature_delta"
	default:
		return false
	}
}

// CountThinkingEvents counts thinking-related events in a raw byte stream.
func CountThinkingEvents(b []byte) int {
	n := 0
	for _, e := range ParseEvents(b) {
		if e.IsThinkingEvent() {
			n++
		}
	}
	return n
}

// Stats is the result of a full stateful pass over an event stream.
type Stats struct {
	ThinkingBlocks  int
	RedactedBlocks  int
	ThinkingDeltas  int
	SignatureDeltas int
	ThinkingStops   int
	HasSignatures   bool
}

// Total is the sum of all thinking-related event counts.
func (s Stats) Total() int {
	return s.ThinkingBlocks + s.RedactedBlocks + s.ThinkingDeltas + s.SignatureDeltas + s.ThinkingStops
}

func (s Stats) String() string {
	sig := "none"
	if s.HasSignatures {
		sig = "found"
	}
	return fmt.Sprintf(
		"%d blocks (%d redacted), %d deltas, %d sig_deltas, %d stops, signatures: %s",
		s.ThinkingBlocks, s.RedactedBlocks, s.ThinkingDeltas, s.SignatureDeltas, s.ThinkingStops, sig,
	)
}

// AnalyzeThinkingStream tracks block indices across the event sequence so
// that content_block_stop events for thinking blocks are attributed
// correctly, and detects whether any non-empty signature was observed
// (either inline at content_block_start, GLM-style, or via signature_delta).
func AnalyzeThinkingStream(events []Event) Stats {
	var stats Stats
	thinkingIndices := make(map[float64]bool)

	for _, e := range events {
		switch e.Type {
		case "content_block_start":
			blockType, _ := nestedString(e.Data, "content_block", "type")
			index, hasIndex := e.Data["index"].(float64)

			switch blockType {
			case "thinking":
				stats.ThinkingBlocks++
				if hasIndex {
					thinkingIndices[index] = true
				}
				if sig, _ := nestedString(e.Data, "content_block", "signature"); sig != "" {
					stats.HasSignatures = true
				}
			case "redacted_thinking":
				stats.RedactedBlocks++
				if hasIndex {
					thinkingIndices[index] = true
				}
			}
		case "content_block_delta":
			deltaType, _ := nestedString(e.Data, "delta", "type")
			switch deltaType {
			case "thinking_delta":
				stats.ThinkingDeltas++
			case "signature_delta":
				stats.SignatureDeltas++
				if sig, _ := nestedString(e.Data, "delta", "signature"); sig != "" {
					stats.HasSignatures = true
				}
			}
		case "content_block_stop":
			if index, ok := e.Data["index"].(float64); ok && thinkingIndices[index] {
				stats.ThinkingStops++
			}
		}
	}

	return stats
}

// ParseEvents parses SSE stream bytes into structured events. Empty lines,
// comment lines (":"-prefixed), event:/id:-prefixed lines, and non-JSON
// lines (including the literal "[DONE]" marker) are skipped.
func ParseEvents(b []byte) []Event {
	var events []Event
	for _, line := range strings.Split(string(b), "\n") {
		if e, ok := ParseLine(line); ok {
			events = append(events, e)
		}
	}
	return events
}

// ParseLine extracts one event from a single line of text, trying the line
// as raw JSON first, then stripping an "data:" prefix (with an optional
// single leading space) and parsing the remainder.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	payload := line
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		payload = strings.TrimPrefix(rest, " ")
	} else if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") {
		return Event{}, false
	}

	if payload == "[DONE]" {
		return Event{}, false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return Event{}, false
	}
	typ, _ := data["type"].(string)
	if typ == "" {
		return Event{}, false
	}
	return Event{Type: typ, Data: data}, true
}

func nestedString(data map[string]any, outer, inner string) (string, bool) {
	o, ok := data[outer].(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := o[inner].(string)
	return s, ok
}
