package mcp

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/clio-agent/clio/pkg/models"
)

func TestNewManager(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Servers: []*ServerConfig{
			{ID: "server1", Name: "Server 1", Transport: TransportStdio, Command: "echo"},
		},
	}

	mgr := NewManager(cfg, nil)
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
}

func TestNewManagerNilConfig(t *testing.T) {
	mgr := NewManager(nil, nil)
	if mgr == nil {
		t.Fatal("expected non-nil manager even with nil config")
	}
}

func TestManagerStartDisabled(t *testing.T) {
	cfg := &Config{Enabled: false}
	mgr := NewManager(cfg, slog.Default())

	err := mgr.Start(context.Background())
	if err != nil {
		t.Errorf("Start() error = %v, expected nil for disabled manager", err)
	}
}

func TestManagerStop(t *testing.T) {
	cfg := &Config{Enabled: true}
	mgr := NewManager(cfg, slog.Default())

	err := mgr.Stop()
	if err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestManagerConnectServerNotFound(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Servers: []*ServerConfig{},
	}
	mgr := NewManager(cfg, slog.Default())

	err := mgr.Connect(context.Background(), "nonexistent")
	if err == nil {
		t.Error("expected error for nonexistent server")
	}
}

func TestManagerStart_CommandNotFound(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Servers: []*ServerConfig{
			{ID: "ghost", Transport: TransportStdio, Command: "definitely-not-a-real-binary-xyz"},
			{ID: "off", Transport: TransportStdio, Command: "echo", Disabled: true},
		},
	}
	mgr := NewManager(cfg, slog.Default())

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v; per-server failures must not fail Start", err)
	}

	statuses := mgr.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	byID := map[string]ServerStatus{}
	for _, s := range statuses {
		byID[s.ID] = s
	}
	if byID["ghost"].Status != models.MCPServerFailed {
		t.Errorf("ghost status = %+v", byID["ghost"])
	}
	if !strings.Contains(byID["ghost"].Reason, "not found") {
		t.Errorf("ghost reason = %q", byID["ghost"].Reason)
	}
	if byID["off"].Status != models.MCPServerDisabled {
		t.Errorf("off status = %+v", byID["off"])
	}

	// The failed server's tools are simply absent.
	if tools := mgr.Tools(); len(tools) != 0 {
		t.Errorf("tools = %+v", tools)
	}
}

func TestManagerDisconnectNotConnected(t *testing.T) {
	cfg := &Config{Enabled: true}
	mgr := NewManager(cfg, slog.Default())

	// Disconnecting a non-connected server should be a no-op
	err := mgr.Disconnect("server1")
	if err != nil {
		t.Errorf("Disconnect() error = %v, expected nil", err)
	}
}

func TestManagerClientNotFound(t *testing.T) {
	cfg := &Config{Enabled: true}
	mgr := NewManager(cfg, slog.Default())

	client, exists := mgr.Client("nonexistent")
	if exists {
		t.Error("expected exists to be false")
	}
	if client != nil {
		t.Error("expected client to be nil")
	}
}

func TestManagerCallTool_UnknownTool(t *testing.T) {
	cfg := &Config{Enabled: true}
	mgr := NewManager(cfg, slog.Default())

	res, err := mgr.CallTool(context.Background(), "server1_tool1", nil)
	if err != nil {
		t.Fatalf("CallTool must not return an error: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "MCP tool not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		server, tool, want string
	}{
		{"files", "read", "files_read"},
		{"my-server", "do.thing", "my_server_do_thing"},
		{"a b", "c/d", "a_b_c_d"},
	}
	for _, tt := range tests {
		if got := QualifiedName(tt.server, tt.tool); got != tt.want {
			t.Errorf("QualifiedName(%q, %q) = %q, want %q", tt.server, tt.tool, got, tt.want)
		}
	}
}

func TestToolCallResult_Flatten(t *testing.T) {
	res := &ToolCallResult{
		Content: []ToolResultContent{
			{Type: "text", Text: "line one"},
			{Type: "image", MimeType: "image/png", Data: "aGVsbG8="},
			{Type: "resource", Text: "resource text"},
		},
	}
	flat := res.Flatten()
	if !strings.Contains(flat, "line one") {
		t.Errorf("missing text: %q", flat)
	}
	if !strings.Contains(flat, "image/png") {
		t.Errorf("missing image descriptor: %q", flat)
	}
	if !strings.Contains(flat, "resource text") {
		t.Errorf("missing resource text: %q", flat)
	}
}
