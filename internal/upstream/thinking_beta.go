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

package upstream

import (
	"encoding/json"
	"strings"
)

const interleavedThinkingBetaToken = "interleaved-thinking-2025-05-14"

const fallbackBudgetTokens = 10000

// NormalizeAdaptiveThinking converts a non-standard "thinking.type":
// "adaptive" field to "enabled" with a derived budget_tokens, and patches
// betaHeader so any "adaptive-thinking-*" token is replaced by the
// interleaved-thinking beta token (deduplicated if already present).
//
// budget_tokens is derived in order: backendBudget (a configured per-backend
// override, 0 if unset), request max_tokens - 1, or fallbackBudgetTokens.
//
// Returns the (possibly rewritten) body, the (possibly patched) beta
// header value, and whether a rewrite occurred.
func NormalizeAdaptiveThinking(body []byte, betaHeader string, backendBudget int) ([]byte, string, bool) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return body, betaHeader, false
	}

	thinking, ok := data["thinking"].(map[string]any)
	if !ok {
		return body, betaHeader, false
	}
	if typ, _ := thinking["type"].(string); typ != "adaptive" {
		return body, betaHeader, false
	}

	budget := fallbackBudgetTokens
	switch {
	case backendBudget > 0:
		budget = backendBudget
	case hasPositiveMaxTokens(data):
		budget = int(data["max_tokens"].(float64)) - 1
	}

	thinking["type"] = "enabled"
	thinking["budget_tokens"] = budget
	data["thinking"] = thinking

	out, err := json.Marshal(data)
	if err != nil {
		return body, betaHeader, false
	}
	return out, patchBetaHeader(betaHeader), true
}

func hasPositiveMaxTokens(data map[string]any) bool {
	v, ok := data["max_tokens"].(float64)
	return ok && v > 1
}

// patchBetaHeader replaces any "adaptive-thinking-*" token in a
// comma-separated beta-header value with the interleaved-thinking token,
// deduplicating if the token is already present.
func patchBetaHeader(betaHeader string) string {
	var tokens []string
	seenInterleaved := false

	for _, raw := range strings.Split(betaHeader, ",") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "adaptive-thinking-") {
			tok = interleavedThinkingBetaToken
		}
		if tok == interleavedThinkingBetaToken {
			if seenInterleaved {
				continue
			}
			seenInterleaved = true
		}
		tokens = append(tokens, tok)
	}

	if !seenInterleaved {
		tokens = append(tokens, interleavedThinkingBetaToken)
	}
	return strings.Join(tokens, ",")
}
