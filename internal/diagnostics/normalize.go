package diagnostics

import (
	"encoding/json"

	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// Summary holds the four always-present counters for a workspace_diagnostics result.
type Summary struct {
	TotalErrors      int `json:"total_errors"`
	TotalWarnings    int `json:"total_warnings"`
	TotalInformation int `json:"total_information"`
	TotalHints       int `json:"total_hints"`
}

// Result is the load-bearing {files, summary} shape returned by workspace_diagnostics.
type Result struct {
	Files   map[string][]lspDomain.Diagnostic `json:"files"`
	Summary Summary                           `json:"summary"`
}

// reportsShape is the "list of per-document reports" variant of
// workspace/diagnostic: {"items": [{"uri": "...", "items": [...]}]}.
type reportsShape struct {
	Items []struct {
		URI   string          `json:"uri"`
		Items json.RawMessage `json:"items"`
	} `json:"items"`
}

// NormalizeWorkspaceDiagnosticResponse accepts the raw workspace/diagnostic
// result and normalizes either documented shape (a list of per-document
// reports, or a mapping URI -> diagnostics) into uri -> []Diagnostic.
// An analyzer emitting a third, undocumented shape yields an empty map so
// the caller falls back to the mechanical sweep.
func NormalizeWorkspaceDiagnosticResponse(raw json.RawMessage) map[string][]lspDomain.Diagnostic {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string][]lspDomain.Diagnostic{}
	}

	var reports reportsShape
	if err := json.Unmarshal(raw, &reports); err == nil && reports.Items != nil {
		out := make(map[string][]lspDomain.Diagnostic, len(reports.Items))
		for _, item := range reports.Items {
			diags, err := NormalizeDiagnosticList(item.Items)
			if err != nil {
				continue
			}
			out[item.URI] = diags
		}
		return out
	}

	var byURI map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byURI); err == nil {
		out := make(map[string][]lspDomain.Diagnostic, len(byURI))
		for uri, diagsRaw := range byURI {
			diags, err := NormalizeDiagnosticList(diagsRaw)
			if err != nil {
				continue
			}
			out[uri] = diags
		}
		return out
	}

	return map[string][]lspDomain.Diagnostic{}
}

// BuildResult composes the final {files, summary} record from a
// uri -> diagnostics mapping, counting severities on the normalized
// integer scale.
func BuildResult(files map[string][]lspDomain.Diagnostic) Result {
	res := Result{Files: files}
	if res.Files == nil {
		res.Files = map[string][]lspDomain.Diagnostic{}
	}
	for _, diags := range files {
		for _, d := range diags {
			switch d.Severity {
			case lspDomain.SeverityError:
				res.Summary.TotalErrors++
			case lspDomain.SeverityWarning:
				res.Summary.TotalWarnings++
			case lspDomain.SeverityInfo:
				res.Summary.TotalInformation++
			case lspDomain.SeverityHint:
				res.Summary.TotalHints++
			}
		}
	}
	return res
}
