// Package toolexec defines the tool contract, the registry of built-in
// and MCP-exported tools, and the executor that guards every invocation:
// argument repair and validation, sandbox checks, timeouts, panic
// recovery, redaction, and large-result spilling.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/vault"
	"github.com/clio-agent/clio/pkg/models"
)

// SessionCtx carries the per-call session environment into a tool.
type SessionCtx struct {
	SessionID  string
	WorkingDir string

	// TurnID is the open FileVault turn; mutating tools record backups
	// under it before touching the filesystem.
	TurnID string

	Authorizer *vault.Authorizer
	Vault      *vault.FileVault

	// STM is the calling session's short-term memory ring.
	STM *session.STM
}

// Tool is one invocable capability.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Kind() models.ToolKind
	Execute(ctx context.Context, sctx *SessionCtx, args map[string]any) (*models.ToolResult, error)
}

// Source contributes externally-defined tools (the MCP manager).
type Source interface {
	// Tools lists the currently available external tool definitions.
	Tools() []models.ToolDef

	// CallTool dispatches a namespaced external tool.
	CallTool(ctx context.Context, name string, args map[string]any) (*models.ToolResult, error)
}

// Registry enumerates the built-in tools plus any external sources.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	sources []Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a built-in tool. Re-registering a name replaces it.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// AddSource attaches an external tool source.
func (r *Registry) AddSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, s)
}

// Get looks up a built-in tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Resolve finds who owns a tool name: a built-in tool, or the source
// advertising it.
func (r *Registry) Resolve(name string) (Tool, Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t, nil, true
	}
	for _, s := range r.sources {
		for _, def := range s.Tools() {
			if def.Name == name {
				return nil, s, true
			}
		}
	}
	return nil, nil, false
}

// Definitions returns every tool definition, built-ins sorted by name
// first, then each source's tools in source order.
func (r *Registry) Definitions() []models.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]models.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, models.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	for _, s := range r.sources {
		defs = append(defs, s.Tools()...)
	}
	return defs
}

// SchemaFor returns the schema for any known tool name.
func (r *Registry) SchemaFor(name string) (json.RawMessage, error) {
	if t, ok := r.Get(name); ok {
		return t.Schema(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sources {
		for _, def := range s.Tools() {
			if def.Name == name {
				return def.Schema, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}
