package backend

import (
	"testing"

	"github.com/go-logr/logr"
)

func testConfigSet() ConfigSet {
	return ConfigSet{
		Backends: []Config{
			{ID: "anthropic", DisplayName: "Anthropic", BaseURL: "https://api.anthropic.com", AuthMode: AuthAPIKey, AuthEnvVar: "ANTHROPIC_API_KEY"},
			{ID: "glm", DisplayName: "GLM", BaseURL: "https://glm.example.com", AuthMode: AuthBearer, AuthEnvVar: "GLM_API_KEY",
				ModelMap: map[ModelFamily]string{FamilyOpus: "glm-5"}},
		},
		DefaultBackend: "anthropic",
	}
}

func TestNewFallsBackToDefault(t *testing.T) {
	s, err := New(testConfigSet(), logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if s.GetActive() != "anthropic" {
		t.Errorf("active = %q, want anthropic", s.GetActive())
	}
}

func TestNewNoBackends(t *testing.T) {
	_, err := New(ConfigSet{}, logr.Discard())
	if err == nil {
		t.Fatal("expected error for empty backend list")
	}
}

func TestSwitchIsAtomicAndLogged(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	if err := s.Switch("glm"); err != nil {
		t.Fatal(err)
	}
	if s.GetActive() != "glm" {
		t.Errorf("active = %q, want glm", s.GetActive())
	}
	log := s.SwitchLog()
	if len(log) != 1 || log[0].From != "anthropic" || log[0].To != "glm" {
		t.Errorf("unexpected switch log: %+v", log)
	}
}

func TestSwitchNoOpWhenUnchanged(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	if err := s.Switch("anthropic"); err != nil {
		t.Fatal(err)
	}
	if len(s.SwitchLog()) != 0 {
		t.Errorf("expected no log entry for a no-op switch")
	}
}

func TestSwitchUnknownBackend(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	if err := s.Switch("nonexistent"); err == nil {
		t.Fatal("expected error")
	}
	if s.GetActive() != "anthropic" {
		t.Errorf("active changed despite failed switch")
	}
}

func TestGetConfigAndActiveConsistentSnapshot(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	cfg, active, err := s.GetConfigAndActive()
	if err != nil {
		t.Fatal(err)
	}
	if active != "anthropic" || cfg.ID != "anthropic" {
		t.Errorf("snapshot mismatch: cfg=%+v active=%q", cfg, active)
	}
}

func TestUpdateConfigPreservesActiveWhenStillPresent(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	_ = s.Switch("glm")

	newCfg := testConfigSet() // still contains "glm"
	if err := s.UpdateConfig(newCfg); err != nil {
		t.Fatal(err)
	}
	if s.GetActive() != "glm" {
		t.Errorf("active = %q, want glm preserved across reload", s.GetActive())
	}
}

func TestUpdateConfigSwitchesWhenActiveRemoved(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	_ = s.Switch("glm")

	newCfg := ConfigSet{
		Backends:       []Config{{ID: "anthropic", AuthMode: AuthPassthrough}},
		DefaultBackend: "anthropic",
	}
	if err := s.UpdateConfig(newCfg); err != nil {
		t.Fatal(err)
	}
	if s.GetActive() != "anthropic" {
		t.Errorf("active = %q, want anthropic after forced switch", s.GetActive())
	}
	log := s.SwitchLog()
	if len(log) != 2 {
		t.Fatalf("expected 2 log entries (manual switch + reload switch), got %d", len(log))
	}
}

func TestUpdateConfigRejectsEmpty(t *testing.T) {
	s, _ := New(testConfigSet(), logr.Discard())
	if err := s.UpdateConfig(ConfigSet{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestResolveModel(t *testing.T) {
	cfg := testConfigSet().Backends[1] // glm
	model, ok := cfg.ResolveModel(FamilyOpus)
	if !ok || model != "glm-5" {
		t.Errorf("ResolveModel(opus) = (%q, %v), want (glm-5, true)", model, ok)
	}
	if _, ok := cfg.ResolveModel(FamilySonnet); ok {
		t.Errorf("ResolveModel(sonnet) should not be mapped")
	}
}

func TestIsConfiguredPassthroughAlwaysTrue(t *testing.T) {
	cfg := Config{AuthMode: AuthPassthrough}
	if !cfg.IsConfigured() {
		t.Error("passthrough backend should always be configured")
	}
}
