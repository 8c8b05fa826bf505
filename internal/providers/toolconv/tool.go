// Package toolconv converts CLIO tool definitions into each provider
// SDK's native tool schema format.
package toolconv

import "encoding/json"

// Tool is the minimal surface a tool definition must expose to be
// advertised to a provider. Generic signatures accept any implementation
// without coupling this package to its callers.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}
