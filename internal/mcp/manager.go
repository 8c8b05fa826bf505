package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clio-agent/clio/internal/observability"
	"github.com/clio-agent/clio/internal/retry"
	"github.com/clio-agent/clio/pkg/models"
)

// Manager owns every configured MCP server: it checks availability,
// connects the available ones, namespaces their tools as {server}_{tool},
// and dispatches qualified calls to the owning client. A server that
// fails records its reason without blocking the others.
type Manager struct {
	config *Config
	logger *slog.Logger
	tracer *observability.Tracer

	mu      sync.RWMutex
	clients map[string]*Client
	status  map[string]ServerStatus
}

// Config holds the MCP manager configuration.
type Config struct {
	Enabled bool            `json:"enabled"`
	Servers []*ServerConfig `json:"servers"`
}

// ServerStatus is the manager's view of one configured server.
type ServerStatus struct {
	ID     string                 `json:"id"`
	Status models.MCPServerStatus `json:"status"`
	Reason string                 `json:"reason,omitempty"`
	Tools  int                    `json:"tools,omitempty"`
}

// unsafeNameChars is replaced with "_" in namespaced tool names.
var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// NewManager creates a new MCP manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  cfg,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
		status:  make(map[string]ServerStatus),
	}
}

// SetTracer attaches a tracer handed down to every client it connects.
func (m *Manager) SetTracer(t *observability.Tracer) {
	m.tracer = t
}

// Start connects to every enabled, available server. Per-server failures
// are recorded; Start itself only fails on context cancellation.
func (m *Manager) Start(ctx context.Context) error {
	if m.config == nil || !m.config.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}

	for _, serverCfg := range m.config.Servers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if serverCfg.Disabled {
			m.setStatus(serverCfg.ID, models.MCPServerDisabled, "")
			continue
		}
		if err := m.Connect(ctx, serverCfg.ID); err != nil {
			m.logger.Error("failed to connect to MCP server",
				"server", serverCfg.ID,
				"error", err)
			// Continue with other servers
		}
	}

	return nil
}

// Stop disconnects from all MCP servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client",
				"server", id,
				"error", err)
		}
		delete(m.clients, id)
	}

	return nil
}

// Connect connects to a specific MCP server by ID.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	serverCfg := m.findConfig(serverID)
	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	m.mu.RLock()
	if _, exists := m.clients[serverID]; exists {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	if err := m.checkAvailable(serverCfg); err != nil {
		m.setStatus(serverID, models.MCPServerFailed, err.Error())
		return err
	}

	// Remote servers behind OAuth get their bearer token before connect;
	// the token is cached for the process lifetime.
	if serverCfg.OAuth != nil {
		token, err := bearerToken(ctx, serverCfg)
		if err != nil {
			m.setStatus(serverID, models.MCPServerFailed, fmt.Sprintf("oauth: %v", err))
			return fmt.Errorf("oauth token for %s: %w", serverID, err)
		}
		if serverCfg.Headers == nil {
			serverCfg.Headers = map[string]string{}
		}
		serverCfg.Headers["Authorization"] = "Bearer " + token
	}

	client := NewClient(serverCfg, m.logger)
	client.SetTracer(m.tracer)
	res := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond}, func() error {
		return client.Connect(ctx)
	})
	if res.Err != nil {
		m.setStatus(serverID, models.MCPServerFailed, res.Err.Error())
		return res.Err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	m.mu.Unlock()
	m.setStatusTools(serverID, models.MCPServerConnected, "", len(client.Tools()))

	m.logger.Info("connected to MCP server",
		"server", serverID,
		"name", client.ServerInfo().Name)

	return nil
}

// checkAvailable verifies the server's runtime requirements: a stdio
// command must be on PATH, an HTTP url must parse.
func (m *Manager) checkAvailable(cfg *ServerConfig) error {
	switch cfg.Transport {
	case TransportHTTP:
		u, err := url.Parse(cfg.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid url: %q", cfg.URL)
		}
	default:
		if _, err := exec.LookPath(cfg.Command); err != nil {
			return fmt.Errorf("command not found: %s", cfg.Command)
		}
	}
	return nil
}

// Disconnect disconnects from a specific MCP server.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	client, exists := m.clients[serverID]
	if exists {
		delete(m.clients, serverID)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	m.setStatus(serverID, models.MCPServerDisabled, "")
	m.logger.Info("disconnected from MCP server", "server", serverID)
	return client.Close()
}

// Client returns a client for a specific server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// Statuses returns the per-server connection state, sorted by id.
func (m *Manager) Statuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.status))
	for _, s := range m.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tools lists every connected server's tools under namespaced names,
// sorted by server for stable schema order. It implements the tool
// registry's Source interface; a failed server's tools are simply absent.
func (m *Manager) Tools() []models.ToolDef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var defs []models.ToolDef
	for _, id := range ids {
		client := m.clients[id]
		for _, tool := range client.Tools() {
			defs = append(defs, models.ToolDef{
				Name:        QualifiedName(id, tool.Name),
				Description: fmt.Sprintf("[%s] %s", id, tool.Description),
				Schema:      tool.InputSchema,
			})
		}
	}
	return defs
}

// CallTool dispatches a namespaced tool call to its owning server. An
// unknown name or transport failure comes back as an error result, never
// an error return, so the model can recover.
func (m *Manager) CallTool(ctx context.Context, qualified string, args map[string]any) (*models.ToolResult, error) {
	client, toolName, err := m.resolve(qualified)
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("MCP call failed: %v", err), IsError: true}, nil
	}
	return &models.ToolResult{Content: result.Flatten(), IsError: result.IsError}, nil
}

// resolve finds the client owning a qualified tool name.
func (m *Manager) resolve(qualified string) (*Client, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, client := range m.clients {
		prefix := sanitizeName(id) + "_"
		if !strings.HasPrefix(qualified, prefix) {
			continue
		}
		for _, tool := range client.Tools() {
			if QualifiedName(id, tool.Name) == qualified {
				return client, tool.Name, nil
			}
		}
	}
	return nil, "", fmt.Errorf("MCP tool not found: %s", qualified)
}

// QualifiedName namespaces a server's tool as {server}_{tool} with
// unsafe characters replaced.
func QualifiedName(serverID, toolName string) string {
	return sanitizeName(serverID) + "_" + sanitizeName(toolName)
}

func sanitizeName(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "_")
}

func (m *Manager) findConfig(serverID string) *ServerConfig {
	if m.config == nil {
		return nil
	}
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			return cfg
		}
	}
	return nil
}

func (m *Manager) setStatus(id string, status models.MCPServerStatus, reason string) {
	m.setStatusTools(id, status, reason, 0)
}

func (m *Manager) setStatusTools(id string, status models.MCPServerStatus, reason string, tools int) {
	m.mu.Lock()
	m.status[id] = ServerStatus{ID: id, Status: status, Reason: reason, Tools: tools}
	m.mu.Unlock()
}
