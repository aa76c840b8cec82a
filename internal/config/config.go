// Package config loads the top-level configuration surface (spec.md
// §6.5): turn/tool/context limits, sandbox and truncation policy
// selection, and provider/logging/tracing settings, from a YAML file
// with environment variable expansion and override, following the
// teacher's internal/config.Load shape (file read -> env expand ->
// strict decode -> env overrides -> defaults -> validate).
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Turn     TurnConfig     `yaml:"turn"`
	Context  ContextConfig  `yaml:"context"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Approval ApprovalConfig `yaml:"approval"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Session  SessionConfig  `yaml:"session"`
}

// SessionConfig selects the SQL backend for the session index (C7).
// Driver is one of "sqlite3" (mattn/go-sqlite3, cgo), "sqlite"
// (modernc.org/sqlite, pure Go), or "postgres" (lib/pq). DSN defaults
// to a local sqlite3 file under the workspace's state directory when
// empty and Driver is sqlite-based.
type SessionConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProviderConfig selects and configures the model provider (C2).
type ProviderConfig struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Timeout returns TimeoutSecs as a time.Duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TurnConfig configures the turn engine (C6).
type TurnConfig struct {
	MaxTurns   int `yaml:"max_turns"`
	MaxTokens  int `yaml:"max_tokens"`
	MaxRetries int `yaml:"max_retries"`
}

// ContextConfig configures the context manager (C3).
type ContextConfig struct {
	TruncationPolicy    string  `yaml:"truncation_policy"`
	CompactionThreshold float64 `yaml:"compaction_threshold"`
	ProtectedTokens     int     `yaml:"protected_tokens"`
	KeepRecentCount     int     `yaml:"keep_recent_count"`
}

// SandboxConfig configures the sandbox policy (C4).
type SandboxConfig struct {
	Policy    string   `yaml:"policy"`
	Workspace string   `yaml:"workspace"`
	Protected []string `yaml:"protected"`
}

// ApprovalConfig configures the toolrouter approval gate (C5). When
// both requirements are false, the session runs full_auto per
// spec.md §6.5.
type ApprovalConfig struct {
	RequireForWrites   *bool `yaml:"require_for_writes"`
	RequireForCommands *bool `yaml:"require_for_commands"`
	AllowEscalation    bool  `yaml:"allow_escalation"`
}

// FullAuto reports whether both approval requirements are disabled.
func (c ApprovalConfig) FullAuto() bool {
	return !boolOrDefault(c.RequireForWrites, true) && !boolOrDefault(c.RequireForCommands, true)
}

func boolOrDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// LimitsConfig holds session-wide concurrency limits (spec.md §5). Load
// defaults and validates them; nothing outside this package reads them,
// so they do not change the orchestrator's concurrency bound.
type LimitsConfig struct {
	MaxConcurrentTools int `yaml:"max_concurrent_tools"`
	MaxSpawnedAgents   int `yaml:"max_spawned_agents"`
}

// LoggingConfig holds the logging level and format, matching the
// teacher's LoggingConfig shape. Load defaults and validates them;
// nothing outside this package reads them.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OpenTelemetry OTLP/gRPC exporter. An
// empty Endpoint disables tracing entirely.
type TracingConfig struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads path, expands environment variables, decodes strict YAML
// (unknown fields rejected), applies env overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every default applied and no file
// backing it, for callers (tests, embedded use) that skip the YAML
// file entirely.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.TimeoutSecs == 0 {
		cfg.Provider.TimeoutSecs = 120
	}

	if cfg.Turn.MaxTurns == 0 {
		cfg.Turn.MaxTurns = 100
	}
	if cfg.Turn.MaxTokens == 0 {
		cfg.Turn.MaxTokens = 8192
	}
	if cfg.Turn.MaxRetries == 0 {
		cfg.Turn.MaxRetries = 3
	}

	if cfg.Context.TruncationPolicy == "" {
		cfg.Context.TruncationPolicy = "fifo"
	}
	if cfg.Context.CompactionThreshold == 0 {
		cfg.Context.CompactionThreshold = 0.8
	}
	if cfg.Context.ProtectedTokens == 0 {
		cfg.Context.ProtectedTokens = 40000
	}

	if cfg.Sandbox.Policy == "" {
		cfg.Sandbox.Policy = "workspace_write"
	}

	if cfg.Approval.RequireForWrites == nil {
		t := true
		cfg.Approval.RequireForWrites = &t
	}
	if cfg.Approval.RequireForCommands == nil {
		t := true
		cfg.Approval.RequireForCommands = &t
	}

	if cfg.Limits.MaxConcurrentTools == 0 {
		cfg.Limits.MaxConcurrentTools = 10
	}
	if cfg.Limits.MaxSpawnedAgents == 0 {
		cfg.Limits.MaxSpawnedAgents = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "nexus-core"
	}

	if cfg.Session.Driver == "" {
		cfg.Session.Driver = "sqlite3"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("NEXUS_CORE_PROVIDER")); value != "" {
		cfg.Provider.Name = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_CORE_MODEL")); value != "" {
		cfg.Provider.Model = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_CORE_API_KEY")); value != "" {
		cfg.Provider.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_CORE_MAX_TURNS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Turn.MaxTurns = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("NEXUS_CORE_OTLP_ENDPOINT")); value != "" {
		cfg.Tracing.Endpoint = value
	}
}

// ValidationError reports every config problem found at once, in the
// teacher's accumulate-then-report style.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Turn.MaxTurns <= 0 {
		issues = append(issues, "turn.max_turns must be > 0")
	}
	if cfg.Turn.MaxTokens < 0 {
		issues = append(issues, "turn.max_tokens must be >= 0")
	}
	switch cfg.Context.TruncationPolicy {
	case "fifo", "keep_recent", "summarize", "error":
	default:
		issues = append(issues, `context.truncation_policy must be "fifo", "keep_recent", "summarize", or "error"`)
	}
	if cfg.Context.CompactionThreshold <= 0 || cfg.Context.CompactionThreshold > 1 {
		issues = append(issues, "context.compaction_threshold must be in (0, 1]")
	}
	if cfg.Context.ProtectedTokens < 0 {
		issues = append(issues, "context.protected_tokens must be >= 0")
	}
	switch cfg.Sandbox.Policy {
	case "read_only", "workspace_write", "full_access":
	default:
		issues = append(issues, `sandbox.policy must be "read_only", "workspace_write", or "full_access"`)
	}
	if cfg.Sandbox.Policy == "workspace_write" && strings.TrimSpace(cfg.Sandbox.Workspace) == "" {
		issues = append(issues, "sandbox.workspace is required when sandbox.policy is workspace_write")
	}
	if cfg.Limits.MaxConcurrentTools <= 0 {
		issues = append(issues, "limits.max_concurrent_tools must be > 0")
	}
	if cfg.Limits.MaxSpawnedAgents <= 0 {
		issues = append(issues, "limits.max_spawned_agents must be > 0")
	}
	if cfg.Provider.TimeoutSecs <= 0 {
		issues = append(issues, "provider.timeout_secs must be > 0")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}
	switch cfg.Session.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		issues = append(issues, `session.driver must be "sqlite3", "sqlite", or "postgres"`)
	}
	if cfg.Session.Driver == "postgres" && strings.TrimSpace(cfg.Session.DSN) == "" {
		issues = append(issues, "session.dsn is required when session.driver is postgres")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
