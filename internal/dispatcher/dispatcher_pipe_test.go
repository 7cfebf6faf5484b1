package dispatcher_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lspadapter "github.com/nullframe/lspmcp/internal/adapter/lsp"
	"github.com/nullframe/lspmcp/internal/config"
	"github.com/nullframe/lspmcp/internal/dispatcher"
	"github.com/nullframe/lspmcp/internal/session"
)

// pipeRWC wires an io.PipeReader/io.PipeWriter pair into an
// io.ReadWriteCloser whose Close actually closes both ends.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p pipeRWC) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// fakeAnalyzer answers every request it receives with a canned result
// keyed by method, replying null for anything it has no entry for, and
// otherwise just draining notifications so the client's Notify calls
// never block on an unread pipe.
type fakeAnalyzer struct {
	conn    *lspadapter.JSONRPCConn
	results map[string]json.RawMessage
}

func newFakeAnalyzer(conn *lspadapter.JSONRPCConn, results map[string]json.RawMessage) *fakeAnalyzer {
	f := &fakeAnalyzer{conn: conn, results: results}
	go f.loop()
	return f
}

func (f *fakeAnalyzer) loop() {
	for {
		msg, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		if msg.ID == nil {
			continue
		}
		result, ok := f.results[msg.Method]
		if !ok {
			result = json.RawMessage(`null`)
		}
		if err := f.conn.Reply(msg.ID, result, nil); err != nil {
			return
		}
	}
}

func newPipeDispatcher(t *testing.T, results map[string]json.RawMessage) *dispatcher.Dispatcher {
	t.Helper()

	root := t.TempDir()
	clientRead, fakeWrite := io.Pipe()
	fakeRead, clientWrite := io.Pipe()

	cfg := config.Defaults()
	cfg.Workspace.Root = root
	client := lspadapter.NewClientWithConn(
		lspadapter.NewJSONRPCConn(pipeRWC{r: clientRead, w: clientWrite}),
		&cfg.LSP, root, "test-instance",
	)
	newFakeAnalyzer(lspadapter.NewJSONRPCConn(pipeRWC{r: fakeRead, w: fakeWrite}), results)

	sess, err := session.NewWithClient(&cfg, client, root, "test-instance")
	if err != nil {
		t.Fatalf("session.NewWithClient: %v", err)
	}
	t.Cleanup(func() { _ = sess.Shutdown(context.Background()) })
	return dispatcher.New(sess, "lspmcp", "test")
}

func TestHoverSuccessfulCallReturnsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.rs")
	if err := os.WriteFile(path, []byte("fn main() {}"), 0o644); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}

	d := newPipeDispatcher(t, map[string]json.RawMessage{
		"textDocument/hover": json.RawMessage(`{"contents":"fake hover"}`),
	})

	result, err := d.Call(context.Background(), "hover", map[string]any{
		"uri": "file://" + path, "line": 0.0, "character": 0.0,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.IsError {
		data, _ := json.Marshal(result)
		t.Fatalf("unexpected error result: %s", data)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if !strings.Contains(string(data), "fake hover") {
		t.Fatalf("result = %s, want it to contain %q", data, "fake hover")
	}
}
