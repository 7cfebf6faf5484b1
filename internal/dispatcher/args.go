package dispatcher

import (
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// resultJSON marshals v and wraps it as the single-text-element content
// array spec §6 requires: { content: [ { type: "text", text: <json> } ] }.
func resultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func requiredString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// requiredInt accepts a JSON number, which decodes through map[string]any
// as float64.
func requiredInt(args map[string]any, key string) (int, bool) {
	v, ok := args[key].(float64)
	return int(v), ok
}

func positionArgs(args map[string]any) (lspDomain.Position, bool) {
	line, ok := requiredInt(args, "line")
	if !ok {
		return lspDomain.Position{}, false
	}
	character, ok := requiredInt(args, "character")
	if !ok {
		return lspDomain.Position{}, false
	}
	return lspDomain.Position{Line: line, Character: character}, true
}

func rangeArgs(args map[string]any) (lspDomain.Range, bool) {
	startLine, ok := requiredInt(args, "start_line")
	if !ok {
		return lspDomain.Range{}, false
	}
	startChar, ok := requiredInt(args, "start_character")
	if !ok {
		return lspDomain.Range{}, false
	}
	endLine, ok := requiredInt(args, "end_line")
	if !ok {
		return lspDomain.Range{}, false
	}
	endChar, ok := requiredInt(args, "end_character")
	if !ok {
		return lspDomain.Range{}, false
	}
	return lspDomain.Range{
		Start: lspDomain.Position{Line: startLine, Character: startChar},
		End:   lspDomain.Position{Line: endLine, Character: endChar},
	}, true
}
