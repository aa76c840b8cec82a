package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"           // registers the "postgres" database/sql driver
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" (cgo) database/sql driver
	_ "modernc.org/sqlite"          // registers the "sqlite" (pure Go) database/sql driver

	"github.com/nexuscore/agent/internal/builtintools"
	"github.com/nexuscore/agent/internal/config"
	"github.com/nexuscore/agent/internal/contextmgr"
	"github.com/nexuscore/agent/internal/observability"
	"github.com/nexuscore/agent/internal/provider"
	"github.com/nexuscore/agent/internal/sandbox"
	"github.com/nexuscore/agent/internal/session"
	"github.com/nexuscore/agent/internal/toolrouter"
	"github.com/nexuscore/agent/internal/turnengine"
)

// harness bundles the collaborators loaded from a Config, shared by the
// chat/run/sessions commands.
type harness struct {
	cfg             *config.Config
	sandbox         *sandbox.Manager
	router          *toolrouter.Router
	index           *session.SQLIndex
	bus             *session.BroadcastBus
	shutdownTracing func(context.Context) error
}

// newHarness loads configPath and constructs every C1-C7 collaborator
// that doesn't vary per-session (sandbox, tool router, SQL index,
// broadcast bus). The provider and the per-session state
// (contextmgr.Manager, toolrouter.Orchestrator, turnengine.Engine,
// RolloutRecorder) are built fresh by newSession for each session.
func newHarness(configPath string) (*harness, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TraceConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	sb, err := buildSandbox(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	router := toolrouter.NewRouter()
	workspace := cfg.Sandbox.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	for _, t := range []toolrouter.Tool{
		builtintools.NewReadTool(workspace, sb),
		builtintools.NewWriteTool(workspace, sb),
		builtintools.NewBashTool(workspace, sb),
	} {
		if err := router.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	stateDir := filepath.Join(workspace, ".nexus-core")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := cfg.Session.DSN
	if dsn == "" {
		dsn = filepath.Join(stateDir, "sessions.db")
	}
	index, err := session.OpenSQLIndex(cfg.Session.Driver, dsn, session.DefaultSQLIndexConfig())
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	return &harness{
		cfg:             cfg,
		sandbox:         sb,
		router:          router,
		index:           index,
		bus:             session.NewBroadcastBus(session.DefaultBusCapacity),
		shutdownTracing: shutdownTracing,
	}, nil
}

func (h *harness) Close() error {
	if h.shutdownTracing != nil {
		_ = h.shutdownTracing(context.Background())
	}
	return h.index.DB().Close()
}

func buildSandbox(cfg config.SandboxConfig) (*sandbox.Manager, error) {
	switch cfg.Policy {
	case "read_only":
		return sandbox.NewManager(sandbox.ReadOnly()), nil
	case "full_access":
		return sandbox.NewManager(sandbox.FullAccess()), nil
	case "workspace_write", "":
		return sandbox.NewManager(sandbox.WorkspaceWrite(cfg.Workspace, cfg.Protected...)), nil
	default:
		return nil, fmt.Errorf("unknown sandbox policy %q", cfg.Policy)
	}
}

func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Name {
	case "", "anthropic":
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:           cfg.APIKey,
			BaseURL:          cfg.BaseURL,
			Model:            cfg.Model,
			DefaultMaxTokens: 0,
			RequestTimeout:   cfg.Timeout(),
		})
	case "openai":
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:           cfg.APIKey,
			BaseURL:          cfg.BaseURL,
			Model:            cfg.Model,
			DefaultMaxTokens: 0,
			RequestTimeout:   cfg.Timeout(),
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// newSession builds a fresh session.Session from the harness's shared
// collaborators plus per-session state (context manager, orchestrator,
// turn engine, rollout recorder).
func (h *harness) newSession(sessionID, agentID, key string) (*session.Session, error) {
	p, err := buildProvider(h.cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}

	ctxOpts := contextmgr.DefaultOptions()
	ctxOpts.Policy = contextmgr.Policy(h.cfg.Context.TruncationPolicy)
	ctxOpts.KeepRecentN = h.cfg.Context.KeepRecentCount
	ctxOpts.MaxTokens = h.cfg.Turn.MaxTokens
	ctxOpts.CompactionThreshold = h.cfg.Context.CompactionThreshold
	ctxOpts.ProtectedTokens = h.cfg.Context.ProtectedTokens

	policy := toolrouter.DefaultPolicy()
	policy.FullAuto = h.cfg.Approval.FullAuto()
	policy.RequireApprovalForWrites = boolOrDefault(h.cfg.Approval.RequireForWrites, true)
	policy.RequireApprovalForCommands = boolOrDefault(h.cfg.Approval.RequireForCommands, true)
	policy.AllowEscalation = h.cfg.Approval.AllowEscalation

	rolloutDir := filepath.Join(stateDirFor(h.cfg), "rollouts", sessionID)
	if err := os.MkdirAll(rolloutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create rollout dir: %w", err)
	}
	roll, err := session.NewRolloutRecorder(rolloutDir, session.SessionMeta{
		ID:       sessionID,
		AgentID:  agentID,
		Cwd:      h.cfg.Sandbox.Workspace,
		Config:   h.cfg,
		Model:    h.cfg.Provider.Model,
		Provider: h.cfg.Provider.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("open rollout recorder: %w", err)
	}

	return session.New(sessionID, agentID, key, session.Deps{
		Provider:    p,
		ContextOpts: ctxOpts,
		Router:      h.router,
		Policy:      policy,
		Approvals:   toolrouter.NewMemoryApprovalStore(),
		Sandbox:     h.sandbox,
		EngineConf: turnengine.Config{
			MaxTurns:    h.cfg.Turn.MaxTurns,
			MaxRetries:  h.cfg.Turn.MaxRetries,
			ToolContext: toolrouter.ToolContext{Cwd: h.cfg.Sandbox.Workspace, SessionID: sessionID, FullAuto: policy.FullAuto},
		},
		Bus:     h.bus,
		Rollout: roll,
	}), nil
}

func boolOrDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stateDirFor(cfg *config.Config) string {
	workspace := cfg.Sandbox.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	return filepath.Join(workspace, ".nexus-core")
}
