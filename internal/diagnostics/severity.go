// Package diagnostics normalizes analyzer diagnostics into a stable shape
// regardless of wire variations: severities arriving as either integers or
// strings, and workspace/diagnostic responses arriving in either of two
// documented shapes. It also implements the mechanical fallback sweep used
// when an analyzer does not support pull diagnostics.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"strings"

	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// NormalizeSeverity converts a raw JSON severity value — an LSP integer
// (1..4) or a string ("error", "warning", "information", "hint") — into
// the integer scale used throughout the bridge.
func NormalizeSeverity(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return lspDomain.SeverityHint, nil
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < lspDomain.SeverityError || n > lspDomain.SeverityHint {
			return 0, fmt.Errorf("severity %d out of range", n)
		}
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(s) {
		case "error":
			return lspDomain.SeverityError, nil
		case "warning", "warn":
			return lspDomain.SeverityWarning, nil
		case "information", "info":
			return lspDomain.SeverityInfo, nil
		case "hint":
			return lspDomain.SeverityHint, nil
		default:
			return 0, fmt.Errorf("unrecognized severity string %q", s)
		}
	}

	return 0, fmt.Errorf("severity is neither an integer nor a string: %s", raw)
}

// rawDiagnostic mirrors the wire shape of a single diagnostic, keeping
// Severity as raw JSON so it can hold either an int or a string before
// normalization.
type rawDiagnostic struct {
	Range    lspDomain.Range `json:"range"`
	Severity json.RawMessage `json:"severity,omitempty"`
	Source   string          `json:"source"`
	Message  string          `json:"message"`
	Code     json.RawMessage `json:"code,omitempty"`
}

func (d rawDiagnostic) normalize() (lspDomain.Diagnostic, error) {
	sev, err := NormalizeSeverity(d.Severity)
	if err != nil {
		sev = lspDomain.SeverityError // unrecognized severities are treated conservatively
	}
	code := ""
	if len(d.Code) > 0 && string(d.Code) != "null" {
		var s string
		if json.Unmarshal(d.Code, &s) == nil {
			code = s
		} else {
			code = string(d.Code)
		}
	}
	return lspDomain.Diagnostic{
		Range:    d.Range,
		Severity: sev,
		Source:   d.Source,
		Message:  d.Message,
		Code:     code,
	}, nil
}

// NormalizeDiagnosticList decodes a raw JSON array of diagnostics, applying
// severity normalization to each entry.
func NormalizeDiagnosticList(raw json.RawMessage) ([]lspDomain.Diagnostic, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rawList []rawDiagnostic
	if err := json.Unmarshal(raw, &rawList); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	out := make([]lspDomain.Diagnostic, 0, len(rawList))
	for _, rd := range rawList {
		d, _ := rd.normalize()
		out = append(out, d)
	}
	return out, nil
}
