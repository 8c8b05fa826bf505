package acp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clio-agent/clio/internal/jsonrpc"
)

// Transport frames JSON-RPC 2.0 messages over newline-delimited streams.
// Writes are serialized and unbuffered; reads deliver one parsed line at
// a time. Stderr is never touched here, it belongs to logging.
type Transport struct {
	reader *bufio.Scanner
	writer io.Writer
	logger *slog.Logger

	writeMu sync.Mutex

	// nextID numbers agent→client requests; responses come back through
	// the pending map.
	nextID  atomic.Int64
	pending sync.Map // id (string) -> chan *Message
}

// NewTransport wraps the given streams. For production these are stdin
// and stdout; tests pass pipes.
func NewTransport(r io.Reader, w io.Writer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Transport{
		reader: scanner,
		writer: w,
		logger: logger,
	}
}

// Read returns the next inbound message. A malformed line yields a
// non-nil parse error the caller reports as code -32700 with a null id;
// io.EOF ends the loop.
func (t *Transport) Read() (*Message, error) {
	for t.reader.Scan() {
		line := strings.TrimSpace(t.reader.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := jsonrpc.Decode([]byte(line), &msg); err != nil {
			return nil, &Error{Code: ErrCodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
		}
		if msg.IsResponse() {
			t.dispatchResponse(&msg)
			continue
		}
		return &msg, nil
	}
	if err := t.reader.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Write sends one message as a single line. Embedded newlines cannot
// occur: encoding/json escapes them inside strings, and the encoder
// itself emits none.
func (t *Transport) Write(msg *Message) error {
	msg.JSONRPC = "2.0"
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Respond sends a result for a request id.
func (t *Transport) Respond(id *json.RawMessage, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return t.RespondError(id, ErrCodeInternal, fmt.Sprintf("encode result: %v", err))
	}
	return t.Write(&Message{ID: id, Result: data})
}

// RespondError sends an error response; a nil id becomes JSON null per
// the parse-error contract.
func (t *Transport) RespondError(id *json.RawMessage, code int, message string) error {
	if id == nil {
		null := json.RawMessage("null")
		id = &null
	}
	return t.Write(&Message{ID: id, Error: &Error{Code: code, Message: message}})
}

// Notify sends a notification (no id, no response).
func (t *Transport) Notify(method string, params any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return t.Write(&Message{Method: method, Params: data})
}

// Request sends an agent→client request and returns a channel the
// response arrives on. Ids are monotonic per transport.
func (t *Transport) Request(method string, params any) (<-chan *Message, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	id := t.nextID.Add(1)
	idRaw := json.RawMessage(fmt.Sprintf("%d", id))

	ch := make(chan *Message, 1)
	t.pending.Store(fmt.Sprint(id), ch)

	if err := t.Write(&Message{ID: &idRaw, Method: method, Params: data}); err != nil {
		t.pending.Delete(fmt.Sprint(id))
		return nil, err
	}
	return ch, nil
}

func (t *Transport) dispatchResponse(msg *Message) {
	var key string
	if msg.ID != nil {
		var id any
		if err := json.Unmarshal(*msg.ID, &id); err == nil {
			key = fmt.Sprint(id)
		}
	}
	if v, ok := t.pending.LoadAndDelete(key); ok {
		ch := v.(chan *Message)
		ch <- msg
		close(ch)
		return
	}
	t.logger.Warn("response for unknown request id", "id", key)
}
