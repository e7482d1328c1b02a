package upstream

import (
	"os"
	"testing"

	"relaygate/internal/backend"
)

func TestBuildAuthHeaderAPIKey(t *testing.T) {
	t.Setenv("TEST_API_KEY", "secret-value")
	h := BuildAuthHeader(backend.Config{AuthMode: backend.AuthAPIKey, AuthEnvVar: "TEST_API_KEY"})
	if h.Name != "x-api-key" || h.Value != "secret-value" {
		t.Errorf("unexpected header: %+v", h)
	}
}

func TestBuildAuthHeaderBearer(t *testing.T) {
	t.Setenv("TEST_BEARER_KEY", "secret-value")
	h := BuildAuthHeader(backend.Config{AuthMode: backend.AuthBearer, AuthEnvVar: "TEST_BEARER_KEY"})
	if h.Name != "Authorization" || h.Value != "Bearer secret-value" {
		t.Errorf("unexpected header: %+v", h)
	}
}

func TestBuildAuthHeaderPassthrough(t *testing.T) {
	h := BuildAuthHeader(backend.Config{AuthMode: backend.AuthPassthrough})
	if h.Name != "" {
		t.Errorf("expected no header for passthrough, got %+v", h)
	}
}

func TestIsConfiguredReadsEnvLazily(t *testing.T) {
	cfg := backend.Config{AuthMode: backend.AuthAPIKey, AuthEnvVar: "TEST_LAZY_KEY_XYZ"}
	os.Unsetenv("TEST_LAZY_KEY_XYZ")
	if cfg.IsConfigured() {
		t.Fatal("expected not configured before env var is set")
	}
	t.Setenv("TEST_LAZY_KEY_XYZ", "now-present")
	if !cfg.IsConfigured() {
		t.Fatal("expected configured once env var is set")
	}
}
