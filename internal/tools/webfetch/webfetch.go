// Package webfetch implements the web_fetch tool: a bounded HTTP GET with
// SSRF protection, shared client, and size-capped body reads.
package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clio-agent/clio/internal/net/ssrf"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/pkg/models"
)

// DefaultMaxBodyBytes caps the response body read.
const DefaultMaxBodyBytes = 512 << 10

// Tool is the web_fetch tool.
type Tool struct {
	client   *http.Client
	maxBytes int
}

// New creates the tool. client may be nil for a default 30s-timeout client.
func New(client *http.Client, maxBytes int) *Tool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &Tool{client: client, maxBytes: maxBytes}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "web_fetch" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Fetch a public HTTP(S) URL and return its body text, capped at a fixed size."
}

// Kind classifies the tool for display.
func (t *Tool) Kind() models.ToolKind { return models.ToolKindFetch }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute http(s) URL to fetch.",
			},
			"headers": map[string]interface{}{
				"type":        "object",
				"description": "Extra request headers (string values).",
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute fetches the URL.
func (t *Tool) Execute(ctx context.Context, _ *toolexec.SessionCtx, args map[string]any) (*models.ToolResult, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &models.ToolResult{Content: fmt.Sprintf("invalid url: %q", rawURL), IsError: true}, nil
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("denied: %v", err), IsError: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return &models.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	req.Header.Set("User-Agent", "clio-agent/1.0")
	if hdrs, ok := args["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("fetch failed: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)+1))
	if err != nil {
		return &models.ToolResult{Content: fmt.Sprintf("read body: %v", err), IsError: true}, nil
	}
	truncated := false
	if len(body) > t.maxBytes {
		body = body[:t.maxBytes]
		truncated = true
	}

	content := fmt.Sprintf("HTTP %d %s\n\n%s", resp.StatusCode, resp.Header.Get("Content-Type"), body)
	return &models.ToolResult{
		Content:   content,
		IsError:   resp.StatusCode >= 400,
		Truncated: truncated,
	}, nil
}
