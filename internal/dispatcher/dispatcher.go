// Package dispatcher maintains the fixed MCP tool catalogue and routes
// tools/call invocations to the LSP client session, enforcing the
// document-open preconditions and wrapping results in the MCP content
// envelope mcp-go defines.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nullframe/lspmcp/internal/domain"
	"github.com/nullframe/lspmcp/internal/session"
)

// Dispatcher owns the tool catalogue and borrows the Session to execute it.
type Dispatcher struct {
	sess      *session.Session
	mcpServer *mcpserver.MCPServer
}

// New builds a Dispatcher with the full tool catalogue registered against sess.
func New(sess *session.Session, name, version string) *Dispatcher {
	d := &Dispatcher{
		sess:      sess,
		mcpServer: mcpserver.NewMCPServer(name, version),
	}
	d.registerTools()
	return d
}

// Tools returns the registered catalogue, keyed by tool name.
func (d *Dispatcher) Tools() map[string]mcpserver.ServerTool {
	return d.mcpServer.ListTools()
}

// Call invokes the named tool with the given arguments, returning the
// wrapped content result. An unknown tool name is reported as a protocol
// error via the returned error, not as a tool-level error result, so the
// caller (the Server Loop) can distinguish "no such tool" (method/tool
// not found) from "tool ran and failed" (a normal error result).
func (d *Dispatcher) Call(ctx context.Context, name string, arguments map[string]any) (*mcplib.CallToolResult, error) {
	tool, ok := d.Tools()[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrValidation, name)
	}
	req := mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: arguments},
	}
	return tool.Handler(ctx, req)
}

func (d *Dispatcher) registerTools() {
	d.mcpServer.AddTools(
		d.hoverTool(),
		d.definitionTool(),
		d.referencesTool(),
		d.completionTool(),
		d.symbolsTool(),
		d.formatTool(),
		d.codeActionsTool(),
		d.setWorkspaceTool(),
		d.diagnosticsTool(),
		d.workspaceDiagnosticsTool(),
	)
}

// errorResult turns an error returned from a session operation into the
// appropriately shaped tool error result, per spec §7's propagation
// policy: errors inside one tool call never tear down the server loop.
func errorResult(label string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return mcplib.NewToolResultErrorFromErr(label+": timed out", err)
	case errors.Is(err, domain.ErrSessionClosed):
		return mcplib.NewToolResultErrorFromErr(label+": session is not ready", err)
	case errors.Is(err, domain.ErrValidation):
		return mcplib.NewToolResultErrorFromErr(label+": invalid arguments", err)
	default:
		return mcplib.NewToolResultErrorFromErr(label, err)
	}
}
