package webfetch

import (
	"context"
	"strings"
	"testing"
)

func TestWebFetch_RejectsBadURL(t *testing.T) {
	tool := New(nil, 0)
	tests := []string{
		"",
		"not a url",
		"ftp://example.com/file",
		"file:///etc/passwd",
	}
	for _, u := range tests {
		res, err := tool.Execute(context.Background(), nil, map[string]any{"url": u})
		if err != nil {
			t.Fatalf("Execute(%q): %v", u, err)
		}
		if !res.IsError {
			t.Errorf("url %q should be rejected", u)
		}
	}
}

func TestWebFetch_BlocksInternalHosts(t *testing.T) {
	tool := New(nil, 0)
	tests := []string{
		"http://localhost:8080/admin",
		"http://127.0.0.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://service.internal/secrets",
	}
	for _, u := range tests {
		res, err := tool.Execute(context.Background(), nil, map[string]any{"url": u})
		if err != nil {
			t.Fatalf("Execute(%q): %v", u, err)
		}
		if !res.IsError || !strings.Contains(res.Content, "denied") {
			t.Errorf("url %q should be denied, got %+v", u, res)
		}
	}
}
