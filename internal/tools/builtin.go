// Package tools assembles the built-in tool set for a session.
package tools

import (
	"net/http"
	"time"

	"github.com/clio-agent/clio/internal/resultstore"
	"github.com/clio-agent/clio/internal/session"
	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/tools/coderef"
	toolsexec "github.com/clio-agent/clio/internal/tools/exec"
	"github.com/clio-agent/clio/internal/tools/files"
	"github.com/clio-agent/clio/internal/tools/memory"
	"github.com/clio-agent/clio/internal/tools/resultread"
	"github.com/clio-agent/clio/internal/tools/todo"
	"github.com/clio-agent/clio/internal/tools/vcs"
	"github.com/clio-agent/clio/internal/tools/webfetch"
)

// Deps carries everything the built-in tools need at construction.
type Deps struct {
	STM     *session.STM
	LTM     *session.LTM
	Results *resultstore.Store

	// HTTPClient is shared with the rest of the process; nil gets a
	// default client.
	HTTPClient *http.Client

	ExecTimeout        time.Duration
	ExecMaxOutputBytes int
	MaxReadBytes       int
}

// NewRegistry builds a registry with every built-in tool registered.
// MCP-exported tools are attached separately as a Source.
func NewRegistry(deps Deps) *toolexec.Registry {
	runner := toolsexec.Runner{
		Timeout:        deps.ExecTimeout,
		MaxOutputBytes: deps.ExecMaxOutputBytes,
	}

	reg := toolexec.NewRegistry()
	reg.Register(files.New(files.Config{MaxReadBytes: deps.MaxReadBytes}))
	reg.Register(toolsexec.New(runner))
	reg.Register(vcs.New(runner))
	reg.Register(memory.New(deps.STM, deps.LTM))
	reg.Register(todo.New())
	reg.Register(webfetch.New(deps.HTTPClient, 0))
	reg.Register(coderef.New())
	reg.Register(resultread.New(deps.Results))
	return reg
}
