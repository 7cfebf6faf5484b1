package dispatcher

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func uriParam() mcplib.ToolOption {
	return mcplib.WithString("uri", mcplib.Required(), mcplib.Description("file:// URI of the source document"))
}

func positionParams() []mcplib.ToolOption {
	return []mcplib.ToolOption{
		mcplib.WithNumber("line", mcplib.Required(), mcplib.Description("zero-based line number")),
		mcplib.WithNumber("character", mcplib.Required(), mcplib.Description("zero-based character offset")),
	}
}

func (d *Dispatcher) hoverTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Hover information for a position in a document"),
		uriParam(),
	}, positionParams()...)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool("hover", opts...),
		Handler: d.handleHover,
	}
}

func (d *Dispatcher) handleHover(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	pos, ok := positionArgs(args)
	if !ok {
		return mcplib.NewToolResultError("line and character are required"), nil
	}
	result, err := d.sess.Hover(ctx, uri, pos)
	if err != nil {
		return errorResult("hover", err), nil
	}
	return resultJSON(result)
}

func (d *Dispatcher) definitionTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Go-to-definition locations for a position in a document"),
		uriParam(),
	}, positionParams()...)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool("definition", opts...),
		Handler: d.handleDefinition,
	}
}

func (d *Dispatcher) handleDefinition(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	pos, ok := positionArgs(args)
	if !ok {
		return mcplib.NewToolResultError("line and character are required"), nil
	}
	result, err := d.sess.Definition(ctx, uri, pos)
	if err != nil {
		return errorResult("definition", err), nil
	}
	return resultJSON(result)
}

func (d *Dispatcher) referencesTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("All reference locations for a position in a document"),
		uriParam(),
	}, positionParams()...)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool("references", opts...),
		Handler: d.handleReferences,
	}
}

func (d *Dispatcher) handleReferences(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	pos, ok := positionArgs(args)
	if !ok {
		return mcplib.NewToolResultError("line and character are required"), nil
	}
	result, err := d.sess.References(ctx, uri, pos)
	if err != nil {
		return errorResult("references", err), nil
	}
	return resultJSON(result)
}

func (d *Dispatcher) completionTool() mcpserver.ServerTool {
	opts := append([]mcplib.ToolOption{
		mcplib.WithDescription("Completion candidates for a position in a document"),
		uriParam(),
	}, positionParams()...)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool("completion", opts...),
		Handler: d.handleCompletion,
	}
}

func (d *Dispatcher) handleCompletion(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	pos, ok := positionArgs(args)
	if !ok {
		return mcplib.NewToolResultError("line and character are required"), nil
	}
	result, err := d.sess.Completion(ctx, uri, pos)
	if err != nil {
		return errorResult("completion", err), nil
	}
	return mcplib.NewToolResultText(string(result)), nil
}

func (d *Dispatcher) symbolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("symbols",
		mcplib.WithDescription("Document symbols for a URI, or workspace symbols when query is given"),
		mcplib.WithString("uri", mcplib.Description("file:// URI of the source document (ignored when query is set)")),
		mcplib.WithString("query", mcplib.Description("workspace/symbol query string; when non-empty, uri is ignored")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleSymbols}
}

func (d *Dispatcher) handleSymbols(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri := optionalString(args, "uri")
	query := optionalString(args, "query")
	if uri == "" && query == "" {
		return mcplib.NewToolResultError("either uri or query is required"), nil
	}
	result, err := d.sess.Symbols(ctx, uri, query)
	if err != nil {
		return errorResult("symbols", err), nil
	}
	return mcplib.NewToolResultText(string(result)), nil
}

func (d *Dispatcher) formatTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("format",
		mcplib.WithDescription("Formatting edits for a document"),
		uriParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleFormat}
}

func (d *Dispatcher) handleFormat(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	edits, err := d.sess.Format(ctx, uri)
	if err != nil {
		return errorResult("format", err), nil
	}
	return resultJSON(edits)
}

func (d *Dispatcher) codeActionsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("code_actions",
		mcplib.WithDescription("Available code actions for a range in a document"),
		uriParam(),
		mcplib.WithNumber("start_line", mcplib.Required()),
		mcplib.WithNumber("start_character", mcplib.Required()),
		mcplib.WithNumber("end_line", mcplib.Required()),
		mcplib.WithNumber("end_character", mcplib.Required()),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleCodeActions}
}

func (d *Dispatcher) handleCodeActions(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	rng, ok := rangeArgs(args)
	if !ok {
		return mcplib.NewToolResultError("start_line, start_character, end_line, end_character are required"), nil
	}
	result, err := d.sess.CodeActions(ctx, uri, rng)
	if err != nil {
		return errorResult("code_actions", err), nil
	}
	return mcplib.NewToolResultText(string(result)), nil
}

func (d *Dispatcher) setWorkspaceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("set_workspace",
		mcplib.WithDescription("Reset the session to a new workspace root, restarting the analyzer if needed"),
		mcplib.WithString("root", mcplib.Required(), mcplib.Description("absolute or relative path to the new workspace root")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleSetWorkspace}
}

func (d *Dispatcher) handleSetWorkspace(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	root, ok := requiredString(args, "root")
	if !ok {
		return mcplib.NewToolResultError("root is required"), nil
	}
	if err := d.sess.SetWorkspace(ctx, root); err != nil {
		return errorResult("set_workspace", err), nil
	}
	return resultJSON(map[string]string{
		"root":        d.sess.Root(),
		"instance_id": d.sess.InstanceID(),
	})
}

func (d *Dispatcher) diagnosticsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("diagnostics",
		mcplib.WithDescription("Current diagnostics for a single document, waiting briefly for a fresh push"),
		uriParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleDiagnostics}
}

func (d *Dispatcher) handleDiagnostics(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	args := req.GetArguments()
	uri, ok := requiredString(args, "uri")
	if !ok {
		return mcplib.NewToolResultError("uri is required"), nil
	}
	diags, err := d.sess.Diagnostics(ctx, uri)
	if err != nil {
		return errorResult("diagnostics", err), nil
	}
	return resultJSON(diags)
}

func (d *Dispatcher) workspaceDiagnosticsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("workspace_diagnostics",
		mcplib.WithDescription("Diagnostics for the whole workspace: {files, summary}"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: d.handleWorkspaceDiagnostics}
}

func (d *Dispatcher) handleWorkspaceDiagnostics(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // mcp-go handler signature
	result, err := d.sess.WorkspaceDiagnostics(ctx)
	if err != nil {
		return errorResult("workspace_diagnostics", err), nil
	}
	return resultJSON(result)
}
