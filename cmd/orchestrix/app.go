package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ifBars/orchestrix/internal/compaction"
	"github.com/ifBars/orchestrix/internal/delegation"
	"github.com/ifBars/orchestrix/internal/eventbus"
	"github.com/ifBars/orchestrix/internal/mcp"
	"github.com/ifBars/orchestrix/internal/modelresolve"
	"github.com/ifBars/orchestrix/internal/orchestrator"
	"github.com/ifBars/orchestrix/internal/planner"
	"github.com/ifBars/orchestrix/internal/presets"
	"github.com/ifBars/orchestrix/internal/skills"
	"github.com/ifBars/orchestrix/internal/store"
	"github.com/ifBars/orchestrix/internal/telemetry"
	"github.com/ifBars/orchestrix/internal/toolgate"
	"github.com/ifBars/orchestrix/internal/toolserver"
	"github.com/ifBars/orchestrix/internal/worktree"
)

// app bundles every handle a CLI command might need, built fresh per
// invocation (spec.md §4.3's explicit-handles idiom extends to process
// lifetime too: orchestrix is a short-lived CLI, not a daemon, so
// there's no benefit to a singleton).
type app struct {
	cfg   *Config
	store *store.Store
	bus   *eventbus.Bus

	orchestrator *orchestrator.Orchestrator
	skills       *skills.Manager
	presets      *presets.Manager
	gate         *toolgate.Gate
	worktrees    *worktree.Manager

	mcpManager *mcp.Manager

	tracerShutdown func(context.Context) error
}

// openApp wires every component for cfg, discovering skills/presets and
// connecting any configured MCP tool servers. Callers must call
// app.Close when done.
func openApp(ctx context.Context, cfg *Config) (*app, error) {
	s, err := store.Open(store.Config{Path: cfg.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger := slog.Default()
	bus := eventbus.New(s, logger)
	registry := toolgate.NewRegistry()

	metrics := telemetry.NewMetrics(nil)
	tracer, tracerShutdown := telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName: "orchestrix",
		Endpoint:    cfg.OTLPEndpoint,
	})

	mcpManager := mcp.NewManager(&cfg.MCP, logger)
	if cfg.MCP.Enabled {
		if err := mcpManager.Start(ctx); err != nil {
			logger.Warn("mcp: some servers failed to start", "error", err)
		}
		toolserver.NewCatalog(mcpManager, logger, metrics).RegisterInto(registry)
	}

	gate := toolgate.New(registry, s, bus)
	workspaceRoot := func() string { return cfg.Workspace }
	worktrees := worktree.New(s, bus, workspaceRoot)
	pl := planner.New(s, bus, workspaceRoot)
	delegateMgr := delegation.New(s, bus, worktrees, nil, 4)
	compactEngine := compaction.New(s, bus)

	skillsMgr := skills.New(cfg.Workspace, cfg.SkillsGlobalDir, skillsStateDir(cfg), logger)
	if err := skillsMgr.Discover(ctx); err != nil {
		logger.Warn("skills: discovery failed", "error", err)
	}
	presetsMgr := presets.New(cfg.Workspace, cfg.PresetsGlobalDir, logger)
	if err := presetsMgr.Scan(); err != nil {
		logger.Warn("presets: scan failed", "error", err)
	}

	resolver := modelresolve.New(modelresolve.Config{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		DefaultProvider: cfg.DefaultProvider,
		DefaultModel:    cfg.DefaultModel,
	}, logger)

	orch := orchestrator.New(s, bus, registry, gate, worktrees, pl, delegateMgr, compactEngine, skillsMgr, presetsMgr, resolver, cfg.Workspace, metrics, tracer)
	if raw, err := s.GetSetting(ctx, settingWorkspaceRoot); err == nil {
		var path string
		if err := json.Unmarshal([]byte(raw), &path); err == nil && path != "" {
			orch.SetWorkspaceRoot(path)
		}
	}

	return &app{
		cfg: cfg, store: s, bus: bus,
		orchestrator: orch, skills: skillsMgr, presets: presetsMgr, gate: gate, worktrees: worktrees,
		mcpManager:     mcpManager,
		tracerShutdown: tracerShutdown,
	}, nil
}

func skillsStateDir(cfg *Config) string {
	return cfg.Workspace + "/.agents"
}

// settingWorkspaceRoot is the process-settings key set_workspace_root
// persists to, so the change survives this short-lived CLI process
// exiting (spec.md §6: "set_workspace_root(path) — affects new runs
// only").
const settingWorkspaceRoot = "workspace_root"

func (a *app) Close() {
	if a.mcpManager != nil {
		a.mcpManager.Stop()
	}
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(context.Background())
	}
	_ = a.store.Close()
}
