package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clio-agent/clio/internal/budget"
	"github.com/clio-agent/clio/internal/observability"
	"github.com/clio-agent/clio/internal/providers"
	"github.com/clio-agent/clio/internal/resultstore"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/tokens"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/vault"
	"github.com/clio-agent/clio/pkg/models"
)

// scriptedProvider yields one scripted chunk sequence per Complete call.
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
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}

func (s *scriptedProvider) Name() string { return "scripted" }
func (s *scriptedProvider) Models() []providers.Model { return nil }
func (s *scriptedProvider) SupportsTools() bool { return true }

type collectSink struct {
	mu     sync.Mutex
	events []models.AgentEvent
}

func (c *collectSink) Emit(e models.AgentEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collectSink) all() []models.AgentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.AgentEvent(nil), c.events...)
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echo text back" }
func (echoTool) Kind() models.ToolKind   { return models.ToolKindOther }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(_ context.Context, _ *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	text, _ := args["text"].(string)
	return &models.ToolResult{Content: "echo: " + text}, nil
}

func newHarness(t *testing.T, scripts [][]*providers.CompletionChunk) (*Orchestrator, *session.Session, *collectSink) {
	t.Helper()

	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions"), 20)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := store.Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Cleanup() })

	ltm, err := session.OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	if err != nil {
		t.Fatal(err)
	}
	results, _ := resultstore.NewStore(t.TempDir())

	registry := toolexec.NewRegistry()
	registry.Register(echoTool{})
	executor := toolexec.NewExecutor(registry, toolexec.DefaultConfig(), results, nil)

	bm := budget.NewManager(tokens.NewEstimator(), budget.Config{MaxContextTokens: 200000})
	fv := vault.NewFileVault(t.TempDir())

	o := New(&scriptedProvider{scripts: scripts}, bm, registry, executor, fv, ltm, nil, nil,
		Config{Model: "test-model"})
	return o, sess, &collectSink{}
}

func textBlocks(text string) []PromptBlock {
	return []PromptBlock{{Type: "text", Text: text}}
}

func TestProcessPrompt_SimpleTurn(t *testing.T) {
	o, sess, sink := newHarness(t, [][]*providers.CompletionChunk{{
		{Text: "Hi!"},
		{Done: true, StopReason: "end_turn", InputTokens: 10, OutputTokens: 2},
	}})

	stop, err := o.ProcessPrompt(context.Background(), sess, textBlocks("hello"), "req-1", sink)
	if err != nil {
		t.Fatalf("ProcessPrompt: %v", err)
	}
	if stop != models.StopEndTurn {
		t.Errorf("stop = %s", stop)
	}

	hist := sess.History()
	if len(hist) != 2 || hist[0].Content != "hello" || hist[1].Content != "Hi!" {
		t.Errorf("history = %+v", hist)
	}
	if hist[0].Role != models.RoleUser || hist[1].Role != models.RoleAssistant {
		t.Errorf("roles = %s %s", hist[0].Role, hist[1].Role)
	}
	if sess.Usage().TotalTokens != 12 {
		t.Errorf("usage = %+v", sess.Usage())
	}

	var sawChunk bool
	for _, e := range sink.all() {
		if e.Type == models.AgentEventAgentChunk && e.Chunk.Text == "Hi!" {
			sawChunk = true
		}
	}
	if !sawChunk {
		t.Error("agent chunk not emitted")
	}
}

func TestProcessPrompt_ToolTurn(t *testing.T) {
	o, sess, sink := newHarness(t, [][]*providers.CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"ping"}`)}},
			{Done: true, StopReason: "tool_use"},
		},
		{
			{Text: "It said ping."},
			{Done: true, StopReason: "end_turn"},
		},
	})

	stop, err := o.ProcessPrompt(context.Background(), sess, textBlocks("run echo"), "req-1", sink)
	if err != nil {
		t.Fatalf("ProcessPrompt: %v", err)
	}
	if stop != models.StopEndTurn {
		t.Errorf("stop = %s", stop)
	}

	hist := sess.History()
	// user, assistant(tool_calls), tool, assistant
	if len(hist) != 4 {
		t.Fatalf("history = %d messages: %+v", len(hist), hist)
	}
	if len(hist[1].ToolCalls) != 1 || hist[1].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant tool calls = %+v", hist[1].ToolCalls)
	}
	if hist[2].Role != models.RoleTool || hist[2].ToolCallID != "c1" || hist[2].Content != "echo: ping" {
		t.Errorf("tool message = %+v", hist[2])
	}
	if hist[3].Content != "It said ping." {
		t.Errorf("final = %+v", hist[3])
	}

	// Event order: tool_call(pending) then updates ending completed,
	// then the text chunk, all monotonic in sequence.
	var statuses []models.ToolCallStatus
	var lastSeq uint64
	chunkAfterTool := false
	for _, e := range sink.all() {
		if e.Sequence <= lastSeq {
			t.Fatalf("sequence not monotonic: %d after %d", e.Sequence, lastSeq)
		}
		lastSeq = e.Sequence
		if e.Tool != nil {
			statuses = append(statuses, e.Tool.Status)
		}
		if e.Type == models.AgentEventAgentChunk && len(statuses) > 0 {
			chunkAfterTool = true
		}
	}
	want := []models.ToolCallStatus{models.ToolCallPending, models.ToolCallInProgress, models.ToolCallCompleted}
	if len(statuses) != 3 {
		t.Fatalf("tool statuses = %v", statuses)
	}
	for i, s := range want {
		if statuses[i] != s {
			t.Errorf("status[%d] = %s, want %s", i, statuses[i], s)
		}
	}
	if !chunkAfterTool {
		t.Error("final text should stream after tool updates")
	}
}

func TestProcessPrompt_RejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingProvider{release: release, started: make(chan struct{})}

	store, _ := session.NewStore(filepath.Join(t.TempDir(), "sessions"), 20)
	sess, _ := store.Create(t.TempDir())
	defer sess.Cleanup()
	ltm, _ := session.OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	registry := toolexec.NewRegistry()
	executor := toolexec.NewExecutor(registry, toolexec.DefaultConfig(), nil, nil)
	bm := budget.NewManager(tokens.NewEstimator(), budget.Config{MaxContextTokens: 200000})
	o := New(blocking, bm, registry, executor, vault.NewFileVault(t.TempDir()), ltm, nil, nil, Config{Model: "m"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.ProcessPrompt(context.Background(), sess, textBlocks("first"), "req-1", &collectSink{})
	}()

	<-blocking.started
	if _, err := o.ProcessPrompt(context.Background(), sess, textBlocks("second"), "req-2", &collectSink{}); err != ErrTurnInFlight {
		t.Errorf("second prompt: err = %v, want ErrTurnInFlight", err)
	}
	close(release)
	<-done
}

type blockingProvider struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	out := make(chan *providers.CompletionChunk, 1)
	go func() {
		defer close(out)
		b.once.Do(func() { close(b.started) })
		<-b.release
		out <- &providers.CompletionChunk{Done: true, StopReason: "end_turn"}
	}()
	return out, nil
}

func (b *blockingProvider) Name() string { return "blocking" }
func (b *blockingProvider) Models() []providers.Model { return nil }
func (b *blockingProvider) SupportsTools() bool { return true }

func TestProcessPrompt_Cancellation(t *testing.T) {
	o, sess, sink := newHarness(t, [][]*providers.CompletionChunk{{
		{Text: "one"},
		{Text: "two"},
		{Text: "three"},
		{Done: true, StopReason: "end_turn"},
	}})

	// Cancel after the first chunk arrives.
	wrapped := EventSinkFunc(func(e models.AgentEvent) {
		if e.Type == models.AgentEventAgentChunk {
			sess.Cancel()
		}
		sink.Emit(e)
	})

	stop, err := o.ProcessPrompt(context.Background(), sess, textBlocks("go"), "req-1", wrapped)
	if err != nil {
		t.Fatalf("ProcessPrompt: %v", err)
	}
	if stop != models.StopCancelled {
		t.Errorf("stop = %s, want cancelled", stop)
	}
}

func TestProcessPrompt_ProviderFailure(t *testing.T) {
	// Empty script: channel closes with no Done and no chunks; treat as a
	// normal end. A transport error is the real failure path:
	o, sess, _ := newHarness(t, nil)
	o.provider = &failingProvider{}

	sink := &collectSink{}
	stop, err := o.ProcessPrompt(context.Background(), sess, textBlocks("hi"), "req-1", sink)
	if err != nil {
		t.Fatalf("ProcessPrompt must not error: %v", err)
	}
	if stop != models.StopEndTurn {
		t.Errorf("stop = %s", stop)
	}

	hist := sess.History()
	last := hist[len(hist)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "provider error") {
		t.Errorf("apology message missing: %+v", last)
	}
	var sawError bool
	for _, e := range sink.all() {
		if e.Type == models.AgentEventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("error event not emitted")
	}
}

type failingProvider struct{}

func (failingProvider) Complete(context.Context, *providers.CompletionRequest) (<-chan *providers.CompletionChunk, error) {
	return nil, context.DeadlineExceeded
}
func (failingProvider) Name() string { return "failing" }
func (failingProvider) Models() []providers.Model { return nil }
func (failingProvider) SupportsTools() bool { return true }

func TestProcessPrompt_MalformedToolArgs(t *testing.T) {
	o, sess, sink := newHarness(t, [][]*providers.CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "reader", Arguments: json.RawMessage(`{"path": , "operation":"read"}`)}},
			{Done: true, StopReason: "tool_use"},
		},
		{
			{Text: "Sorry, let me fix the call."},
			{Done: true, StopReason: "end_turn"},
		},
	})

	stop, err := o.ProcessPrompt(context.Background(), sess, textBlocks("read it"), "req-1", sink)
	if err != nil || stop != models.StopEndTurn {
		t.Fatalf("stop=%s err=%v", stop, err)
	}

	hist := sess.History()
	if len(hist) != 4 {
		t.Fatalf("history = %+v", hist)
	}
	toolMsg := hist[2]
	if !toolMsg.IsError || !strings.Contains(toolMsg.Content, "tool not found") {
		// "reader" is not registered; the structured error flows back.
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestProcessPrompt_RecordsTimeline(t *testing.T) {
	o, sess, sink := newHarness(t, [][]*providers.CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}},
			{Done: true, StopReason: "tool_use"},
		},
		{
			{Text: "done"},
			{Done: true, StopReason: "end_turn"},
		},
	})

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "clio"})
	defer shutdown(context.Background())
	o.SetTracer(tracer)

	store := observability.NewMemoryEventStore(100)
	o.SetRecorder(observability.NewEventRecorder(store, nil))

	if _, err := o.ProcessPrompt(context.Background(), sess, textBlocks("run echo"), "req-1", sink); err != nil {
		t.Fatalf("ProcessPrompt: %v", err)
	}

	events, err := store.GetBySessionID(sess.ID())
	if err != nil {
		t.Fatalf("GetBySessionID: %v", err)
	}
	byType := map[observability.EventType]int{}
	for _, e := range events {
		byType[e.Type]++
		if e.RunID == "" {
			t.Errorf("event %s missing run id", e.Type)
		}
	}
	if byType[observability.EventTypeRunStart] != 1 || byType[observability.EventTypeRunEnd] != 1 {
		t.Errorf("run events = %v", byType)
	}
	if byType[observability.EventTypeToolStart] != 1 || byType[observability.EventTypeToolEnd] != 1 {
		t.Errorf("tool events = %v", byType)
	}
	if byType[observability.EventTypeLLMRequest] != 2 || byType[observability.EventTypeLLMResponse] != 2 {
		t.Errorf("llm events = %v", byType)
	}
}
