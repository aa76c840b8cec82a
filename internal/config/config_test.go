package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: anthropic
sandbox:
  policy: workspace_write
  workspace: /workspace
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Turn.MaxTurns != 100 {
		t.Fatalf("expected default max_turns 100, got %d", cfg.Turn.MaxTurns)
	}
	if cfg.Turn.MaxTokens != 8192 {
		t.Fatalf("expected default max_tokens 8192, got %d", cfg.Turn.MaxTokens)
	}
	if cfg.Context.CompactionThreshold != 0.8 {
		t.Fatalf("expected default compaction_threshold 0.8, got %v", cfg.Context.CompactionThreshold)
	}
	if cfg.Context.ProtectedTokens != 40000 {
		t.Fatalf("expected default protected_tokens 40000, got %d", cfg.Context.ProtectedTokens)
	}
	if cfg.Limits.MaxConcurrentTools != 10 {
		t.Fatalf("expected default max_concurrent_tools 10, got %d", cfg.Limits.MaxConcurrentTools)
	}
	if cfg.Limits.MaxSpawnedAgents != 5 {
		t.Fatalf("expected default max_spawned_agents 5, got %d", cfg.Limits.MaxSpawnedAgents)
	}
	if cfg.Provider.TimeoutSecs != 120 {
		t.Fatalf("expected default provider timeout 120, got %d", cfg.Provider.TimeoutSecs)
	}
	if cfg.Approval.RequireForWrites == nil || !*cfg.Approval.RequireForWrites {
		t.Fatal("expected require_for_writes to default true")
	}
	if cfg.Approval.RequireForCommands == nil || !*cfg.Approval.RequireForCommands {
		t.Fatal("expected require_for_commands to default true")
	}
	if cfg.Tracing.ServiceName != "nexus-core" {
		t.Fatalf("expected default tracing service_name nexus-core, got %q", cfg.Tracing.ServiceName)
	}
	if cfg.Tracing.Endpoint != "" {
		t.Fatalf("expected tracing disabled (empty endpoint) by default, got %q", cfg.Tracing.Endpoint)
	}
}

func TestLoadOTLPEndpointEnvOverride(t *testing.T) {
	t.Setenv("NEXUS_CORE_OTLP_ENDPOINT", "collector:4317")
	path := writeConfig(t, `
provider:
  name: anthropic
sandbox:
  workspace: /workspace
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("expected env override to set tracing.endpoint, got %q", cfg.Tracing.Endpoint)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: anthropic
  extra_unknown_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for unknown config field")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_NEXUS_API_KEY", "secret-123")
	path := writeConfig(t, `
provider:
  name: anthropic
  api_key: "${TEST_NEXUS_API_KEY}"
sandbox:
  workspace: /workspace
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "secret-123" {
		t.Fatalf("expected expanded api_key, got %q", cfg.Provider.APIKey)
	}
}

func TestLoadRejectsInvalidTruncationPolicy(t *testing.T) {
	path := writeConfig(t, `
context:
  truncation_policy: bogus
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for invalid truncation_policy")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	found := false
	for _, issue := range ve.Issues {
		if strings.Contains(issue, "truncation_policy") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an issue mentioning truncation_policy, got %v", ve.Issues)
	}
}

func TestLoadRejectsWorkspaceWriteWithoutWorkspace(t *testing.T) {
	path := writeConfig(t, `
sandbox:
  policy: workspace_write
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error when workspace_write has no workspace path")
	}
}

func TestDefaultProducesFullAutoFalseByDefault(t *testing.T) {
	cfg := Default()
	if cfg.Approval.FullAuto() {
		t.Fatal("expected default config to require approval (not full_auto)")
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}
