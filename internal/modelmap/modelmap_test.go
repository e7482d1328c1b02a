package modelmap

import (
	"strings"
	"testing"

	"github.com/go-logr/logr"
)

func TestForwardRequestModel(t *testing.T) {
	body := []byte(`{"model":"claude-opus-4-6","stream":false}`)
	resolve := func(m string) (string, bool) {
		if m == "claude-opus-4-6" {
			return "glm-5", true
		}
		return "", false
	}
	out, mapping, ok := ForwardRequestModel(body, resolve)
	if !ok {
		t.Fatal("expected a match")
	}
	if mapping.Backend != "glm-5" || mapping.Original != "claude-opus-4-6" {
		t.Errorf("unexpected mapping: %+v", mapping)
	}
	if !strings.Contains(string(out), `"glm-5"`) {
		t.Errorf("rewritten body missing glm-5: %s", out)
	}
}

func TestForwardRequestModelNoMatchReturnsUnchanged(t *testing.T) {
	body := []byte(`{"model":"claude-opus-4-6"}`)
	_, _, ok := ForwardRequestModel(body, func(string) (string, bool) { return "", false })
	if ok {
		t.Fatal("expected no match")
	}
}

func TestReverseJSONRoundTrip(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	body := []byte(`{"id":"msg_01","model":"glm-5","content":[{"type":"text","text":"Hello"}]}`)
	out := ReverseJSON(body, mapping, logr.Discard())
	if !strings.Contains(string(out), `"claude-opus-4-6"`) {
		t.Errorf("expected reversed model in output: %s", out)
	}
	if strings.Contains(string(out), `"glm-5"`) {
		t.Errorf("backend model leaked into client response: %s", out)
	}
}

func TestReverseJSONMismatchPassesThrough(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	body := []byte(`{"model":"some-other-model"}`)
	out := ReverseJSON(body, mapping, logr.Discard())
	if string(out) != string(body) {
		t.Errorf("expected passthrough on mismatch, got %s", out)
	}
}

func TestSSERewriterLatchesAfterFirstMessageStart(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	r := NewReverseSSERewriter(mapping, logr.Discard())

	chunk1 := []byte("data: {\"type\":\"message_start\",\"message\":{\"model\":\"glm-5\",\"role\":\"assistant\"}}\n\n")
	out1 := r.Transform(chunk1)
	if !strings.Contains(string(out1), "claude-opus-4-6") {
		t.Fatalf("expected rewritten model in first chunk: %s", out1)
	}
	if strings.Contains(string(out1), "\"glm-5\"") {
		t.Fatalf("backend model leaked in first chunk: %s", out1)
	}

	// Second chunk also happens to contain the literal substring — must be
	// a no-op pass-through since the rewriter has already latched.
	chunk2 := []byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"message_start again\"}}\n\n")
	out2 := r.Transform(chunk2)
	if string(out2) != string(chunk2) {
		t.Errorf("expected latched pass-through, got %s", out2)
	}
}

func TestSSERewriterIdempotentOnNonMatchingChunks(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	r := NewReverseSSERewriter(mapping, logr.Discard())

	chunk := []byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
	out := r.Transform(chunk)
	if string(out) != string(chunk) {
		t.Errorf("chunk without message_start must pass through unchanged")
	}
}

func TestSSERewriterPreservesOtherEvents(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	r := NewReverseSSERewriter(mapping, logr.Discard())

	chunk := []byte("data: {\"type\":\"message_start\",\"message\":{\"model\":\"glm-5\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n")
	out := r.Transform(chunk)
	if !strings.Contains(string(out), "message_stop") {
		t.Errorf("message_stop event dropped: %s", out)
	}
	if !strings.Contains(string(out), "Hello") {
		t.Errorf("content delta dropped: %s", out)
	}
}

func TestSSERewriterMismatchSkipsRewrite(t *testing.T) {
	mapping := Mapping{Backend: "glm-5", Original: "claude-opus-4-6"}
	r := NewReverseSSERewriter(mapping, logr.Discard())

	chunk := []byte("data: {\"type\":\"message_start\",\"message\":{\"model\":\"unexpected-model\"}}\n\n")
	out := r.Transform(chunk)
	if !strings.Contains(string(out), "unexpected-model") {
		t.Errorf("expected unrewritten model to pass through: %s", out)
	}
}
