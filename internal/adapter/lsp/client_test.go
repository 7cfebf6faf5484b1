package lsp

import (
	"encoding/json"
	"testing"
)

func TestExtractHoverContentsString(t *testing.T) {
	got := extractHoverContents(json.RawMessage(`"hello"`))
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractHoverContentsMarkupContent(t *testing.T) {
	got := extractHoverContents(json.RawMessage(`{"kind":"markdown","value":"**bold**"}`))
	if got != "**bold**" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractHoverContentsMarkedStringArray(t *testing.T) {
	got := extractHoverContents(json.RawMessage(`[{"language":"go","value":"func f()"}, "plain"]`))
	want := "```go\nfunc f()\n```\n\nplain"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseLocationsArray(t *testing.T) {
	locs, err := parseLocations(json.RawMessage(`[{"uri":"file:///a","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}]`))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///a" {
		t.Fatalf("locs = %+v", locs)
	}
}

func TestParseLocationsSingle(t *testing.T) {
	locs, err := parseLocations(json.RawMessage(`{"uri":"file:///b","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":3}}}`))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///b" {
		t.Fatalf("locs = %+v", locs)
	}
}

func TestParseLocationsNull(t *testing.T) {
	locs, err := parseLocations(json.RawMessage(`null`))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if locs != nil {
		t.Fatalf("locs = %+v, want nil", locs)
	}
}

func TestProbeWorkspaceDiagnosticsSupport(t *testing.T) {
	yes := probeWorkspaceDiagnosticsSupport(json.RawMessage(`{"capabilities":{"diagnosticProvider":{"interFileDependencies":true}}}`))
	if !yes {
		t.Fatal("want supported=true")
	}
	no := probeWorkspaceDiagnosticsSupport(json.RawMessage(`{"capabilities":{}}`))
	if no {
		t.Fatal("want supported=false")
	}
}
