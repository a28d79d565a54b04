package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ifBars/orchestrix/internal/domain"
	"github.com/ifBars/orchestrix/internal/mcp"
	"github.com/ifBars/orchestrix/internal/telemetry"
	"github.com/ifBars/orchestrix/internal/toolgate"
)

// ServerPolicy pairs one registered external tool-server with the
// filter/approval configuration spec.md §4.10 scopes per server.
type ServerPolicy struct {
	Filter   *ToolFilter
	Approval *ToolApprovalPolicy
}

// CatalogEntry is one discovered tool annotated for the UI and the
// approval gate (spec.md §4.10's discovery cache row).
type CatalogEntry struct {
	ServerID        string
	ServerName      string
	ToolName        string
	InputSchema     json.RawMessage
	ReadOnlyHint    *bool
	RequiresApproval bool
}

// Catalog discovers tools across every connected external tool-server,
// applies each server's ToolFilter/ToolApprovalPolicy, and exposes the
// survivors as toolgate.Tool adapters namespaced "<server_id>:<tool>".
type Catalog struct {
	manager *mcp.Manager
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu        sync.RWMutex
	policies  map[string]*ServerPolicy
	entries   []*CatalogEntry
	updatedAt time.Time
}

// NewCatalog creates a Catalog backed by an already-configured
// mcp.Manager. metrics may be nil, in which case Refresh records
// nothing.
func NewCatalog(manager *mcp.Manager, logger *slog.Logger, metrics *telemetry.Metrics) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		manager:  manager,
		logger:   logger.With("component", "toolserver"),
		metrics:  metrics,
		policies: make(map[string]*ServerPolicy),
	}
}

// SetServerPolicy configures the filter/approval policy for a server id.
func (c *Catalog) SetServerPolicy(serverID string, policy *ServerPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[serverID] = policy
}

// Refresh re-runs tools/list against every connected server and rebuilds
// the annotated cache (spec.md §4.10 "Discovery").
func (c *Catalog) Refresh(ctx context.Context) error {
	started := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CatalogRefreshDuration.Observe(time.Since(started).Seconds())
		}
	}()

	clients := c.manager.Clients()

	var entries []*CatalogEntry
	for serverID, client := range clients {
		if err := client.RefreshCapabilities(ctx); err != nil {
			c.logger.Warn("refresh capabilities failed", "server", serverID, "error", err)
			continue
		}

		c.mu.RLock()
		policy := c.policies[serverID]
		c.mu.RUnlock()

		for _, tool := range client.Tools() {
			var hint *bool
			// MCPTool carries no read_only_hint field in the base protocol
			// type; servers that advertise it do so via description
			// conventions the filter does not depend on, so hint stays nil
			// unless a future protocol revision adds it.
			if policy != nil && policy.Filter != nil && !policy.Filter.Allows(tool.Name, hint) {
				continue
			}
			requiresApproval := true
			if policy != nil && policy.Approval != nil {
				requiresApproval = policy.Approval.RequiresApproval(tool.Name, hint)
			}
			entries = append(entries, &CatalogEntry{
				ServerID:        serverID,
				ServerName:      client.ServerInfo().Name,
				ToolName:        tool.Name,
				InputSchema:     tool.InputSchema,
				ReadOnlyHint:    hint,
				RequiresApproval: requiresApproval,
			})
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.updatedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Entries returns a snapshot of the discovery cache.
func (c *Catalog) Entries() ([]*CatalogEntry, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out, c.updatedAt
}

// RegisterInto adapts every cached entry into the tool registry so the
// worker loop can dispatch external tool calls the same way it dispatches
// local ones.
func (c *Catalog) RegisterInto(registry *toolgate.Registry) {
	entries, _ := c.Entries()
	for _, e := range entries {
		registry.Register(&remoteTool{catalog: c, entry: e})
	}
}

// remoteTool adapts one CatalogEntry into toolgate.Tool, classifying
// itself as domain.ToolExternal so the approval gate's default path still
// applies unless the entry's own RequiresApproval says otherwise — callers
// that need the finer per-server policy should consult Entries directly
// before invoking mutating external tools.
type remoteTool struct {
	catalog *Catalog
	entry   *CatalogEntry
}

func (t *remoteTool) Name() string {
	return t.entry.ServerID + ":" + t.entry.ToolName
}

func (t *remoteTool) Classification() domain.ToolClassification {
	if !t.entry.RequiresApproval {
		return domain.ToolReadOnly
	}
	return domain.ToolExternal
}

func (t *remoteTool) InputSchema() json.RawMessage {
	return t.entry.InputSchema
}

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage) (*toolgate.Result, error) {
	client, ok := t.catalog.manager.Client(t.entry.ServerID)
	if !ok {
		return &toolgate.Result{Output: fmt.Sprintf("server %q not connected", t.entry.ServerID), IsError: true}, nil
	}

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return &toolgate.Result{Output: "invalid input: " + err.Error(), IsError: true}, nil
		}
	}

	res, err := client.CallTool(ctx, t.entry.ToolName, args)
	if err != nil {
		return nil, err
	}

	var text string
	for _, c := range res.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return &toolgate.Result{Output: text, IsError: res.IsError}, nil
}
