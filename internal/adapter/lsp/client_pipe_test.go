package lsp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/nullframe/lspmcp/internal/config"
	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
	"github.com/nullframe/lspmcp/internal/domain/mcpproto"
)

// closablePipeRWC wraps one direction's *io.PipeReader/*io.PipeWriter pair
// so Close (unlike jsonrpc_test.go's pipeRWC, which is a no-op) actually
// unblocks a peer blocked in Read — needed here because Client.Stop waits
// on its read loop to observe the connection going away.
type closablePipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p closablePipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p closablePipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p closablePipeRWC) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// newPipeClient wires a Client to a fake analyzer over io.Pipe, mirroring
// jsonrpc_test.go's pipe harness but driving the Client end-to-end instead
// of a bare JSONRPCConn.
func newPipeClient(t *testing.T) (*Client, *JSONRPCConn) {
	t.Helper()

	clientRead, fakeWrite := io.Pipe()
	fakeRead, clientWrite := io.Pipe()

	lspCfg := &config.LSP{
		RequestTimeout:  2 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		MaxDiagnostics:  200,
	}

	client := NewClientWithConn(
		NewJSONRPCConn(closablePipeRWC{r: clientRead, w: clientWrite}),
		lspCfg, t.TempDir(), "test-instance",
	)
	fake := NewJSONRPCConn(closablePipeRWC{r: fakeRead, w: fakeWrite})

	t.Cleanup(func() { _ = fake.Close() })
	return client, fake
}

// writeRaw marshals and writes msg on conn using the same Content-Length
// framing JSONRPCConn uses for requests, so the fake side can answer with
// responses and notifications Send/Notify cannot build directly.
func writeRaw(t *testing.T, conn *JSONRPCConn, msg mcpproto.LSPMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.writeMessage(data); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	client, fake := newPipeClient(t)

	type outcome struct {
		res *lspDomain.HoverResult
		err error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		res, err := client.Hover(context.Background(), "file:///a.rs", lspDomain.Position{Line: 0, Character: 0})
		resultCh <- outcome{res: res, err: err}
	}()

	req, err := fake.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if req.Method != "textDocument/hover" {
		t.Fatalf("method = %q, want textDocument/hover", req.Method)
	}
	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  json.RawMessage(`{"contents":"hello"}`),
	})

	select {
	case out := <-resultCh:
		if out.err != nil {
			t.Fatalf("Hover: %v", out.err)
		}
		if out.res == nil || out.res.Contents != "hello" {
			t.Fatalf("res = %+v, want contents hello", out.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hover result")
	}
}

func TestClientCallPropagatesServerError(t *testing.T) {
	client, fake := newPipeClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Definition(context.Background(), "file:///a.rs", lspDomain.Position{Line: 0, Character: 0})
		errCh <- err
	}()

	req, err := fake.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &mcpproto.Error{Code: -32602, Message: "no definition"},
	})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from Definition")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error result")
	}
}

// TestClientPublishDiagnosticsStringSeverityNotDropped is the regression
// test for the push-diagnostics path: a notification whose severity field
// arrives as a string (e.g. "error" rather than 1) must be normalized and
// cached exactly like the pull path, never silently dropped.
func TestClientPublishDiagnosticsStringSeverityNotDropped(t *testing.T) {
	client, fake := newPipeClient(t)

	received := make(chan []lspDomain.Diagnostic, 1)
	client.SetDiagnosticCallback(func(_ string, diags []lspDomain.Diagnostic) {
		received <- diags
	})

	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params: json.RawMessage(`{
			"uri": "file:///a.rs",
			"diagnostics": [{
				"range": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 1}},
				"severity": "error",
				"message": "boom"
			}]
		}`),
	})

	select {
	case diags := <-received:
		if len(diags) != 1 {
			t.Fatalf("diags = %+v, want exactly 1 entry", diags)
		}
		if diags[0].Severity != lspDomain.SeverityError {
			t.Fatalf("severity = %d, want %d (SeverityError)", diags[0].Severity, lspDomain.SeverityError)
		}
		if diags[0].Message != "boom" {
			t.Fatalf("message = %q, want boom", diags[0].Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for diagnostics callback; string-severity notification was dropped")
	}

	if got := client.Diagnostics("file:///a.rs"); len(got) != 1 {
		t.Fatalf("cached diagnostics for uri = %+v, want exactly 1 entry", got)
	}
}

func TestClientPublishDiagnosticsIntSeverity(t *testing.T) {
	client, fake := newPipeClient(t)

	received := make(chan []lspDomain.Diagnostic, 1)
	client.SetDiagnosticCallback(func(_ string, diags []lspDomain.Diagnostic) {
		received <- diags
	})

	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params: json.RawMessage(`{
			"uri": "file:///b.rs",
			"diagnostics": [{
				"range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 1}},
				"severity": 2,
				"message": "unused import"
			}]
		}`),
	})

	select {
	case diags := <-received:
		if len(diags) != 1 || diags[0].Severity != lspDomain.SeverityWarning {
			t.Fatalf("diags = %+v, want 1 entry with SeverityWarning", diags)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for diagnostics callback")
	}
}

// TestClientPublishDiagnosticsClearOnEmpty exercises the clear-before-resend
// invariant: an empty diagnostics array removes the URI's cache entry
// rather than leaving stale results behind.
func TestClientPublishDiagnosticsClearOnEmpty(t *testing.T) {
	client, fake := newPipeClient(t)

	first := make(chan []lspDomain.Diagnostic, 1)
	client.SetDiagnosticCallback(func(_ string, diags []lspDomain.Diagnostic) {
		first <- diags
	})

	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params:  json.RawMessage(`{"uri": "file:///c.rs", "diagnostics": [{"range": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 1}}, "severity": 1, "message": "x"}]}`),
	})
	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first diagnostics callback")
	}
	if got := client.Diagnostics("file:///c.rs"); len(got) != 1 {
		t.Fatalf("diagnostics before clear = %+v, want 1 entry", got)
	}

	second := make(chan []lspDomain.Diagnostic, 1)
	client.SetDiagnosticCallback(func(_ string, diags []lspDomain.Diagnostic) {
		second <- diags
	})
	writeRaw(t, fake, mcpproto.LSPMessage{
		JSONRPC: "2.0",
		Method:  "textDocument/publishDiagnostics",
		Params:  json.RawMessage(`{"uri": "file:///c.rs", "diagnostics": []}`),
	})
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second diagnostics callback")
	}
	if got := client.Diagnostics("file:///c.rs"); len(got) != 0 {
		t.Fatalf("diagnostics after clear = %+v, want none cached", got)
	}
}

func TestClientStopClosesConnectionAndFailsPending(t *testing.T) {
	client, _ := newPipeClient(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Hover(context.Background(), "file:///a.rs", lspDomain.Position{})
		errCh <- err
	}()

	// Give the call a moment to register in the pending table before Stop
	// tears the connection down; Stop itself has no "call already sent"
	// synchronization point it needs to wait for from the test's side.
	time.Sleep(20 * time.Millisecond)

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected Hover to fail once the connection is closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending call to fail after Stop")
	}

	if got := client.Status(); got != lspDomain.ServerStatusClosed {
		t.Fatalf("status = %v, want closed", got)
	}
}
