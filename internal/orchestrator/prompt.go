package orchestrator

import (
	"fmt"
	"strings"
)

// PromptBlock is one piece of an incoming prompt: plain text, an
// embedded resource (content inlined by the client), or a resource link
// (recorded by URI only).
type PromptBlock struct {
	Type string // "text", "resource", "resource_link"

	Text string

	// URI identifies a resource or link block.
	URI string

	// Content is the embedded resource body for resource blocks.
	Content string

	MimeType string
}

// assembleUserMessage renders prompt blocks into the user message
// content. Embedded resources are inlined verbatim with a header naming
// their URI; links contribute only the URI.
func assembleUserMessage(blocks []PromptBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		switch block.Type {
		case "text":
			b.WriteString(block.Text)
		case "resource":
			fmt.Fprintf(&b, "\n<resource uri=%q>\n%s\n</resource>\n", block.URI, block.Content)
		case "resource_link":
			fmt.Fprintf(&b, "\n[linked resource: %s]\n", block.URI)
		}
	}
	return strings.TrimSpace(b.String())
}
