package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clio-agent/clio/internal/budget"
	"github.com/clio-agent/clio/internal/orchestrator"
	"github.com/clio-agent/clio/internal/providers"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/tokens"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/vault"
)

// scriptedProvider replays one chunk sequence per Complete call.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]*providers.CompletionChunk
	call    int
}

func (s *scriptedProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	s.mu.Lock()
	var script []*providers.CompletionChunk
	if s.call < len(s.scripts) {
		script = s.scripts[s.call]
	}
	s.call++
	s.mu.Unlock()

	out := make(chan *providers.CompletionChunk, len(script))
	go func() {
		defer close(out)
		for _, c := range script {
			out <- c
		}
	}()
	return out, nil
}

func (s *scriptedProvider) Name() string              { return "scripted" }
func (s *scriptedProvider) Models() []providers.Model { return nil }
func (s *scriptedProvider) SupportsTools() bool       { return true }

// client is the test half of the wire: it writes requests into the
// agent's stdin and scans responses/notifications from its stdout.
type client struct {
	t      *testing.T
	in     io.Writer
	out    *bufio.Scanner
	nextID int
}

func newClientAgent(t *testing.T, scripts [][]*providers.CompletionChunk) (*client, func()) {
	t.Helper()

	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions"), 20)
	if err != nil {
		t.Fatal(err)
	}
	ltm, err := session.OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	if err != nil {
		t.Fatal(err)
	}
	registry := toolexec.NewRegistry()
	executor := toolexec.NewExecutor(registry, toolexec.DefaultConfig(), nil, nil)
	bm := budget.NewManager(tokens.NewEstimator(), budget.Config{MaxContextTokens: 200000})
	orch := orchestrator.New(&scriptedProvider{scripts: scripts}, bm, registry, executor,
		vault.NewFileVault(t.TempDir()), ltm, nil, nil, orchestrator.Config{Model: "m"})

	clientToAgent, agentStdin := io.Pipe()
	agentStdout, agentToClient := io.Pipe()

	transport := NewTransport(clientToAgent, agentToClient, nil)
	agent := NewAgent(transport, orch, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		agent.Run(ctx)
	}()

	scanner := bufio.NewScanner(agentStdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	c := &client{t: t, in: agentStdin, out: scanner}
	cleanup := func() {
		cancel()
		agentStdin.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	return c, cleanup
}

func (c *client) send(raw string) {
	c.t.Helper()
	if _, err := io.WriteString(c.in, raw+"\n"); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) request(method string, params any) int {
	c.t.Helper()
	c.nextID++
	data, _ := json.Marshal(params)
	c.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, c.nextID, method, data))
	return c.nextID
}

// next reads one outbound message.
func (c *client) next() Message {
	c.t.Helper()
	if !c.out.Scan() {
		c.t.Fatalf("agent stream closed: %v", c.out.Err())
	}
	var msg Message
	if err := json.Unmarshal(c.out.Bytes(), &msg); err != nil {
		c.t.Fatalf("invalid JSON on wire: %q", c.out.Text())
	}
	return msg
}

// waitResponse skips notifications, collecting them, until the response
// for id arrives.
func (c *client) waitResponse(id int) (Message, []Message) {
	c.t.Helper()
	var notes []Message
	for {
		msg := c.next()
		if msg.IsResponse() {
			var gotID int
			json.Unmarshal(*msg.ID, &gotID)
			if gotID == id {
				return msg, notes
			}
			continue
		}
		notes = append(notes, msg)
	}
}

func (c *client) initialize() {
	c.t.Helper()
	id := c.request("initialize", InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      ImplementationInfo{Name: "test", Version: "0"},
	})
	resp, _ := c.waitResponse(id)
	if resp.Error != nil {
		c.t.Fatalf("initialize failed: %v", resp.Error)
	}
}

func (c *client) newSession(cwd string) string {
	c.t.Helper()
	id := c.request("session/new", SessionNewParams{CWD: cwd})
	resp, _ := c.waitResponse(id)
	if resp.Error != nil {
		c.t.Fatalf("session/new failed: %v", resp.Error)
	}
	var result SessionNewResult
	json.Unmarshal(resp.Result, &result)
	return result.SessionID
}

func TestAgent_RequiresInitializeFirst(t *testing.T) {
	c, cleanup := newClientAgent(t, nil)
	defer cleanup()

	id := c.request("session/new", SessionNewParams{CWD: t.TempDir()})
	resp, _ := c.waitResponse(id)
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("want -32600 before initialize, got %+v", resp.Error)
	}
}

func TestAgent_UnknownMethod(t *testing.T) {
	c, cleanup := newClientAgent(t, nil)
	defer cleanup()
	c.initialize()

	id := c.request("session/fly", map[string]any{})
	resp, _ := c.waitResponse(id)
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("want -32601, got %+v", resp.Error)
	}
}

func TestAgent_ParseErrorGetsNullID(t *testing.T) {
	c, cleanup := newClientAgent(t, nil)
	defer cleanup()

	c.send(`{this is not json`)
	msg := c.next()
	if msg.Error == nil || msg.Error.Code != ErrCodeParseError {
		t.Fatalf("want -32700, got %+v", msg)
	}
	if msg.ID == nil || string(*msg.ID) != "null" {
		t.Errorf("parse error id = %v, want null", msg.ID)
	}
}

func TestAgent_Initialize_Capabilities(t *testing.T) {
	c, cleanup := newClientAgent(t, nil)
	defer cleanup()

	id := c.request("initialize", InitializeParams{ProtocolVersion: 1})
	resp, _ := c.waitResponse(id)
	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.AgentCapabilities.LoadSession {
		t.Error("loadSession capability missing")
	}
	if result.AgentCapabilities.PromptCapabilities == nil || !result.AgentCapabilities.PromptCapabilities.EmbeddedContext {
		t.Error("embeddedContext capability missing")
	}
	if result.AgentCapabilities.MCPCapabilities == nil || result.AgentCapabilities.MCPCapabilities.HTTP {
		t.Error("mcp capabilities should advertise http:false")
	}
}

func TestAgent_PromptStreamsAndResponds(t *testing.T) {
	c, cleanup := newClientAgent(t, [][]*providers.CompletionChunk{{
		{Text: "Hi!"},
		{Done: true, StopReason: "end_turn"},
	}})
	defer cleanup()
	c.initialize()
	sessionID := c.newSession(t.TempDir())

	id := c.request("session/prompt", SessionPromptParams{
		SessionID: sessionID,
		Prompt:    []ContentBlock{{Type: "text", Text: "hello"}},
	})
	resp, notes := c.waitResponse(id)
	if resp.Error != nil {
		t.Fatalf("prompt failed: %v", resp.Error)
	}
	var result SessionPromptResult
	json.Unmarshal(resp.Result, &result)
	if result.StopReason != "end_turn" {
		t.Errorf("stopReason = %q", result.StopReason)
	}

	var sawChunk bool
	for _, n := range notes {
		if n.Method != "session/update" {
			continue
		}
		var params SessionUpdateParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			t.Fatalf("bad update params: %v", err)
		}
		if params.SessionID != sessionID {
			t.Errorf("update for wrong session: %s", params.SessionID)
		}
		if params.Update.Type == UpdateAgentMessageChunk && params.Update.MessageContent.Text == "Hi!" {
			sawChunk = true
		}
	}
	if !sawChunk {
		t.Error("agent_message_chunk not observed before the response")
	}
}

func TestAgent_SessionLoadReplaysThread(t *testing.T) {
	scripts := [][]*providers.CompletionChunk{{
		{Text: "First answer."},
		{Done: true, StopReason: "end_turn"},
	}}
	c, cleanup := newClientAgent(t, scripts)
	defer cleanup()
	c.initialize()
	sessionID := c.newSession(t.TempDir())

	id := c.request("session/prompt", SessionPromptParams{
		SessionID: sessionID,
		Prompt:    []ContentBlock{{Type: "text", Text: "first question"}},
	})
	c.waitResponse(id)

	id = c.request("session/load", SessionLoadParams{SessionID: sessionID})
	resp, notes := c.waitResponse(id)
	if resp.Error != nil {
		t.Fatalf("session/load: %v", resp.Error)
	}

	var texts []string
	for _, n := range notes {
		if n.Method != "session/update" {
			continue
		}
		var params SessionUpdateParams
		json.Unmarshal(n.Params, &params)
		if params.Update.MessageContent != nil {
			texts = append(texts, params.Update.MessageContent.Text)
		}
	}
	if len(texts) < 2 || texts[0] != "first question" || texts[1] != "First answer." {
		t.Errorf("replay = %v", texts)
	}
}

func TestSessionUpdate_JSONRoundTrip(t *testing.T) {
	update := SessionUpdate{
		Type:           UpdateAgentMessageChunk,
		MessageContent: &ContentBlock{Type: "text", Text: "chunk"},
	}
	data, err := json.Marshal(update)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if raw["sessionUpdate"] != "agent_message_chunk" {
		t.Errorf("discriminator = %v", raw["sessionUpdate"])
	}
	content, ok := raw["content"].(map[string]any)
	if !ok || content["text"] != "chunk" {
		t.Errorf("content = %v", raw["content"])
	}

	var decoded SessionUpdate
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.MessageContent == nil || decoded.MessageContent.Text != "chunk" {
		t.Errorf("decoded = %+v", decoded)
	}

	tool := SessionUpdate{
		Type:       UpdateToolCallUpdate,
		ToolCallID: "c1",
		Status:     "completed",
		ToolContent: []ToolCallContent{{
			Type:    "content",
			Content: &ContentBlock{Type: "text", Text: "output"},
		}},
	}
	data, _ = json.Marshal(tool)
	var decodedTool SessionUpdate
	if err := json.Unmarshal(data, &decodedTool); err != nil {
		t.Fatal(err)
	}
	if len(decodedTool.ToolContent) != 1 || decodedTool.ToolContent[0].Content.Text != "output" {
		t.Errorf("tool content = %+v", decodedTool.ToolContent)
	}
}
