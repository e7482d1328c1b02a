package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
listen_addr: ":9091"
default_backend: anthropic
backends:
  - id: anthropic
    display_name: Anthropic
    base_url: https://api.anthropic.com
    auth_mode: api_key
    auth_env_var: ANTHROPIC_API_KEY
    model_map:
      opus: claude-opus-4
      sonnet: claude-sonnet-4
  - id: glm
    display_name: GLM
    base_url: https://open.bigmodel.cn/api/anthropic
    auth_mode: bearer
    auth_env_var: GLM_API_KEY
    budget_tokens: 4096
routes:
  - prefix: /glm
    backend: glm
max_retries: 5
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relaygate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesAndAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ListenAddr != ":9091" {
		t.Errorf("ListenAddr = %q", doc.ListenAddr)
	}
	if len(doc.Backends) != 2 {
		t.Fatalf("Backends = %d, want 2", len(doc.Backends))
	}
	if doc.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 (explicit)", doc.MaxRetries)
	}
	if doc.RequestTimeout <= 0 {
		t.Error("expected RequestTimeout to receive a default")
	}
	if doc.OrphanThreshold != 5*time.Minute {
		t.Errorf("OrphanThreshold = %v, want default 5m", doc.OrphanThreshold)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsDuplicateBackendID(t *testing.T) {
	bad := `
backends:
  - id: dup
    base_url: https://a
  - id: dup
    base_url: https://b
`
	path := writeTempConfig(t, bad)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate backend id")
	}
}

func TestLoadRejectsUnknownDefaultBackend(t *testing.T) {
	bad := `
default_backend: ghost
backends:
  - id: real
    base_url: https://a
`
	path := writeTempConfig(t, bad)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown default_backend")
	}
}

func TestLoadRejectsRouteToUndeclaredBackend(t *testing.T) {
	bad := `
backends:
  - id: real
    base_url: https://a
routes:
  - prefix: /x
    backend: ghost
`
	path := writeTempConfig(t, bad)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for route targeting undeclared backend")
	}
}

func TestLoadRejectsNoBackends(t *testing.T) {
	path := writeTempConfig(t, "listen_addr: \":9091\"\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error when no backends are declared")
	}
}

func TestToBackendConfigSetTranslatesModelMap(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	set := doc.ToBackendConfigSet()
	if set.DefaultBackend != "anthropic" {
		t.Errorf("DefaultBackend = %q", set.DefaultBackend)
	}
	var opusModel string
	for i := range set.Backends {
		if set.Backends[i].ID == "anthropic" {
			opusModel = set.Backends[i].ModelMap["opus"]
		}
	}
	if opusModel != "claude-opus-4" {
		t.Errorf("expected opus model mapped to claude-opus-4, got %q", opusModel)
	}
}

func TestRoutingTablePreservesOrderAndStripsPrefix(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	table := doc.RoutingTable()
	action, ok := table.Resolve("/glm/v1/messages")
	if !ok {
		t.Fatal("expected /glm prefix to match")
	}
	if action.BackendID != "glm" {
		t.Errorf("BackendID = %q, want glm", action.BackendID)
	}
}

func TestStoreReloadSwapsOnlyOnSuccess(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if store.Get().MaxRetries != 5 {
		t.Fatalf("initial MaxRetries = %d, want 5", store.Get().MaxRetries)
	}

	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload to fail on invalid yaml")
	}
	if store.Get().MaxRetries != 5 {
		t.Error("store should retain previous Document after a failed reload")
	}

	updated := sampleYAML + "\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("expected reload to succeed, got %v", err)
	}
}
