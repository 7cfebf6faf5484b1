// Package lsp provides a client that spawns and supervises a single
// external analyzer process, communicating via JSON-RPC 2.0 over stdio.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nullframe/lspmcp/internal/config"
	"github.com/nullframe/lspmcp/internal/diagnostics"
	"github.com/nullframe/lspmcp/internal/domain"
	lspDomain "github.com/nullframe/lspmcp/internal/domain/lsp"
)

// stderrRingSize bounds how many trailing stderr lines the rolling log keeps.
const stderrRingSize = 200

// Client manages a single analyzer process and provides code intelligence operations.
// It owns the child process handle, the Pending Request Table, and the
// push-diagnostics cache for as long as the process is running.
type Client struct {
	command    []string
	env        map[string]string
	lspCfg     *config.LSP
	workspace  string
	instanceID string

	cmd    *exec.Cmd
	conn   *JSONRPCConn
	status lspDomain.ServerStatus
	mu     sync.Mutex

	nextID  atomic.Int64
	pending map[int]chan *pendingResult
	pendMu  sync.Mutex

	diagnostics map[string][]lspDomain.Diagnostic // URI -> diagnostics
	diagMu      sync.RWMutex

	onDiagnostic func(uri string, diags []lspDomain.Diagnostic)

	stderrMu   sync.Mutex
	stderrRing []string

	workspaceDiagnosticsSupported bool

	done chan struct{} // closed when readLoop exits
}

type pendingResult struct {
	result json.RawMessage
	err    *resultError
}

type resultError struct {
	Code    int
	Message string
}

func (e *resultError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// NewClient creates a new analyzer client for the given workspace.
func NewClient(analyzerCfg config.Analyzer, lspCfg *config.LSP, workspace, instanceID string) *Client {
	return &Client{
		command:     analyzerCfg.Command,
		env:         analyzerCfg.Env,
		lspCfg:      lspCfg,
		workspace:   workspace,
		instanceID:  instanceID,
		status:      lspDomain.ServerStatusUnstarted,
		pending:     make(map[int]chan *pendingResult),
		diagnostics: make(map[string][]lspDomain.Diagnostic),
		done:        make(chan struct{}),
	}
}

// NewClientWithConn builds a Client already wired to conn, skipping process
// spawn and the initialize handshake. Used by tests that drive the wire
// protocol against a fake analyzer without exec'ing a real one.
func NewClientWithConn(conn *JSONRPCConn, lspCfg *config.LSP, workspace, instanceID string) *Client {
	c := &Client{
		lspCfg:      lspCfg,
		workspace:   workspace,
		instanceID:  instanceID,
		status:      lspDomain.ServerStatusReady,
		pending:     make(map[int]chan *pendingResult),
		diagnostics: make(map[string][]lspDomain.Diagnostic),
		done:        make(chan struct{}),
		conn:        conn,
	}
	go c.readLoop()
	return c
}

// SetDiagnosticCallback sets a callback invoked whenever push diagnostics
// are received or cleared for a URI.
func (c *Client) SetDiagnosticCallback(fn func(uri string, diags []lspDomain.Diagnostic)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDiagnostic = fn
}

// Status returns the current lifecycle state.
func (c *Client) Status() lspDomain.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// WorkspaceDiagnosticsSupported reports the Capability Memo computed at initialize.
func (c *Client) WorkspaceDiagnosticsSupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspaceDiagnosticsSupported
}

// PID returns the process ID of the analyzer, or 0 if not running.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}

// StderrTail returns the most recent stderr lines drained from the child.
func (c *Client) StderrTail() []string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	out := make([]string, len(c.stderrRing))
	copy(out, c.stderrRing)
	return out
}

// DiagnosticCount returns the total number of cached diagnostics across all URIs.
func (c *Client) DiagnosticCount() int {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	count := 0
	for _, diags := range c.diagnostics {
		count += len(diags)
	}
	return count
}

// Start spawns the analyzer process and performs the LSP initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == lspDomain.ServerStatusReady || c.status == lspDomain.ServerStatusStarting {
		return nil
	}

	c.status = lspDomain.ServerStatusStarting

	if len(c.command) == 0 {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("no analyzer command configured")
	}

	if _, err := exec.LookPath(c.command[0]); err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("analyzer binary not found: %s", c.command[0])
	}

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = c.workspace
	if len(c.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.status = lspDomain.ServerStatusFailed
		return fmt.Errorf("start process: %w", err)
	}

	c.cmd = cmd
	c.conn = NewJSONRPCConn(stdioPipe{stdin: stdin, stdout: stdout})
	c.done = make(chan struct{})

	// Our own stdout carries the MCP protocol, so the child's stderr must
	// never be inherited directly; it is drained into a rolling log instead.
	go c.drainStderr(stderr)

	// Start the read loop before sending initialize.
	go c.readLoop()

	// call takes c.mu itself, so the lock is released for the handshake.
	c.mu.Unlock()
	err = c.initialize(ctx)
	c.mu.Lock()
	if err != nil {
		c.status = lspDomain.ServerStatusFailed
		_ = cmd.Process.Kill()
		return fmt.Errorf("initialize: %w", err)
	}

	c.status = lspDomain.ServerStatusReady
	slog.Info("analyzer started", "pid", cmd.Process.Pid, "workspace", c.workspace, "instance_id", c.instanceID)
	return nil
}

// Stop performs a graceful LSP shutdown (shutdown + exit) with timeout,
// killing the child if it has not exited by the deadline. The child is
// killed on every exit path; zombies are unacceptable.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == lspDomain.ServerStatusClosed || c.status == lspDomain.ServerStatusUnstarted {
		return nil
	}

	slog.Info("analyzer stopping", "instance_id", c.instanceID)

	shutdownCtx, cancel := context.WithTimeout(ctx, c.lspCfg.ShutdownTimeout)
	defer cancel()

	if conn := c.conn; conn != nil {
		// call takes c.mu itself, and a write to a child that stopped reading
		// blocks until the connection closes, so the handshake runs unlocked
		// and is abandoned at the deadline.
		c.mu.Unlock()
		handshake := make(chan struct{})
		go func() {
			defer close(handshake)
			if _, err := c.call(shutdownCtx, "shutdown", nil); err != nil {
				slog.Warn("lsp shutdown request failed", "error", err, "instance_id", c.instanceID)
			}
			_ = conn.Notify("exit", nil)
		}()
		select {
		case <-handshake:
		case <-shutdownCtx.Done():
		}
		_ = conn.Close()
		c.mu.Lock()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		waited := make(chan error, 1)
		go func() { waited <- c.cmd.Wait() }()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			slog.Warn("analyzer did not exit gracefully, killing", "instance_id", c.instanceID)
			_ = c.cmd.Process.Kill()
			<-waited
		}
	}

	c.status = lspDomain.ServerStatusClosed
	c.conn = nil
	c.cmd = nil

	<-c.done

	c.failPendingLocked(fmt.Errorf("session closed"))

	slog.Info("analyzer stopped", "instance_id", c.instanceID)
	return nil
}

// Kill forcibly terminates the child without attempting a graceful
// shutdown handshake. Used on panic propagation and workspace reset when
// the connection is already known to be unusable.
func (c *Client) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.status = lspDomain.ServerStatusClosed
}

// Hover issues textDocument/hover and returns its contents flattened to a
// markdown string, plus the optional range.
func (c *Client) Hover(ctx context.Context, uri string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	params := textDocumentPositionParams(uri, pos)
	result, err := c.call(ctx, "textDocument/hover", params)
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}

	var raw struct {
		Contents json.RawMessage  `json:"contents"`
		Range    *lspDomain.Range `json:"range,omitempty"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal hover: %w", err)
	}

	return &lspDomain.HoverResult{
		Contents: extractHoverContents(raw.Contents),
		Range:    raw.Range,
	}, nil
}

// Definition issues textDocument/definition and returns the normalized locations.
func (c *Client) Definition(ctx context.Context, uri string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	result, err := c.call(ctx, "textDocument/definition", textDocumentPositionParams(uri, pos))
	if err != nil {
		return nil, err
	}
	return parseLocations(result)
}

// References issues textDocument/references and returns the normalized locations.
func (c *Client) References(ctx context.Context, uri string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"position":     map[string]int{"line": pos.Line, "character": pos.Character},
		"context":      map[string]bool{"includeDeclaration": true},
	}
	result, err := c.call(ctx, "textDocument/references", params)
	if err != nil {
		return nil, err
	}
	return parseLocations(result)
}

// Completion issues textDocument/completion and returns the raw result.
func (c *Client) Completion(ctx context.Context, uri string, pos lspDomain.Position) (json.RawMessage, error) {
	return c.call(ctx, "textDocument/completion", textDocumentPositionParams(uri, pos))
}

// CodeActions issues textDocument/codeAction for a range and returns the raw result.
func (c *Client) CodeActions(ctx context.Context, uri string, rng lspDomain.Range) (json.RawMessage, error) {
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"range":        rng,
		"context":      map[string]any{"diagnostics": []any{}},
	}
	return c.call(ctx, "textDocument/codeAction", params)
}

// DocumentSymbols returns document symbols for a file.
func (c *Client) DocumentSymbols(ctx context.Context, uri string) ([]lspDomain.DocumentSymbol, error) {
	params := map[string]any{"textDocument": map[string]string{"uri": uri}}
	result, err := c.call(ctx, "textDocument/documentSymbol", params)
	if err != nil {
		return nil, err
	}
	var symbols []lspDomain.DocumentSymbol
	if result == nil || string(result) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(result, &symbols); err != nil {
		return nil, fmt.Errorf("unmarshal symbols: %w", err)
	}
	return symbols, nil
}

// WorkspaceSymbols issues workspace/symbol for a query string.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) (json.RawMessage, error) {
	return c.call(ctx, "workspace/symbol", map[string]any{"query": query})
}

// Format issues textDocument/formatting and returns the edit list.
func (c *Client) Format(ctx context.Context, uri string) ([]lspDomain.TextEdit, error) {
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"options":      map[string]any{"tabSize": 4, "insertSpaces": true},
	}
	result, err := c.call(ctx, "textDocument/formatting", params)
	if err != nil {
		return nil, err
	}
	if result == nil || string(result) == "null" {
		return nil, nil
	}
	var edits []lspDomain.TextEdit
	if err := json.Unmarshal(result, &edits); err != nil {
		return nil, fmt.Errorf("unmarshal edits: %w", err)
	}
	return edits, nil
}

// WorkspaceDiagnostic issues workspace/diagnostic and returns its raw result
// for the caller to normalize (its shape varies across analyzer versions).
func (c *Client) WorkspaceDiagnostic(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "workspace/diagnostic", map[string]any{})
}

// Diagnostics returns cached push diagnostics for a URI.
func (c *Client) Diagnostics(uri string) []lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	return c.diagnostics[uri]
}

// AllDiagnostics returns a copy of the full diagnostics map (URI -> diagnostics).
func (c *Client) AllDiagnostics() map[string][]lspDomain.Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	result := make(map[string][]lspDomain.Diagnostic, len(c.diagnostics))
	for k, v := range c.diagnostics {
		cp := make([]lspDomain.Diagnostic, len(v))
		copy(cp, v)
		result[k] = cp
	}
	return result
}

// ClearDiagnostics removes the cache entry for a URI. Called before a
// didChange is sent so a later poll cannot observe diagnostics tagged to
// the URI's previous content.
func (c *Client) ClearDiagnostics(uri string) {
	c.diagMu.Lock()
	delete(c.diagnostics, uri)
	c.diagMu.Unlock()
}

// OpenFile sends textDocument/didOpen.
func (c *Client) OpenFile(uri, languageID, content string, version int) error {
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID,
			"version":    version,
			"text":       content,
		},
	}
	return c.conn.Notify("textDocument/didOpen", params)
}

// ChangeFile sends a full-document textDocument/didChange.
func (c *Client) ChangeFile(uri, content string, version int) error {
	params := map[string]any{
		"textDocument":   map[string]any{"uri": uri, "version": version},
		"contentChanges": []any{map[string]any{"text": content}},
	}
	return c.conn.Notify("textDocument/didChange", params)
}

// SaveFile sends textDocument/didSave.
func (c *Client) SaveFile(uri, content string) error {
	params := map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"text":         content,
	}
	return c.conn.Notify("textDocument/didSave", params)
}

// --- Internal methods ---

func (c *Client) initialize(ctx context.Context) error {
	workspaceURI := "file://" + c.workspace
	params := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   workspaceURI,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"publishDiagnostics": map[string]any{},
				"definition":         map[string]any{},
				"references":         map[string]any{},
				"documentSymbol":     map[string]any{},
				"hover":              map[string]any{},
				"completion":         map[string]any{},
				"codeAction":         map[string]any{},
				"formatting":         map[string]any{},
			},
			"workspace": map[string]any{
				"symbol":     map[string]any{},
				"diagnostic": map[string]any{"dynamicRegistration": false},
			},
		},
	}

	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	c.workspaceDiagnosticsSupported = probeWorkspaceDiagnosticsSupport(result)

	if err := c.conn.Notify("initialized", map[string]any{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// probeWorkspaceDiagnosticsSupport reads the Capability Memo's one field
// from the initialize result's serverCapabilities.diagnosticProvider.
func probeWorkspaceDiagnosticsSupport(result json.RawMessage) bool {
	var parsed struct {
		Capabilities struct {
			DiagnosticProvider json.RawMessage `json:"diagnosticProvider"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return false
	}
	return len(parsed.Capabilities.DiagnosticProvider) > 0 && string(parsed.Capabilities.DiagnosticProvider) != "null"
}

// call sends a JSON-RPC request and waits for the response, honoring the
// configured request timeout and the caller's context.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("session not started")
	}

	id := int(c.nextID.Add(1))
	ch := make(chan *pendingResult, 1)

	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	if err := conn.Send(id, method, params); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timeoutCtx := ctx
	var cancel context.CancelFunc
	if c.lspCfg.RequestTimeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, c.lspCfg.RequestTimeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("request %s timed out: %w: %w", method, domain.ErrTimeout, timeoutCtx.Err())
		}
		return nil, fmt.Errorf("request %s timed out: %w", method, timeoutCtx.Err())
	case <-done:
		return nil, fmt.Errorf("connection closed: %w", domain.ErrSessionClosed)
	}
}

// failPendingLocked delivers an error to every still-registered waiter.
// Called with c.mu held, on teardown, so the Pending Request Table is
// guaranteed empty once the session reaches Closed.
func (c *Client) failPendingLocked(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		ch <- &pendingResult{err: &resultError{Code: -32000, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// readLoop continuously reads messages from the analyzer.
// Responses are dispatched to pending callers; diagnostics notifications
// update the cache; everything else is accepted and discarded.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if msg.IsResponse() {
			c.pendMu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.pendMu.Unlock()
			if ok {
				if msg.Error != nil {
					ch <- &pendingResult{err: &resultError{Code: msg.Error.Code, Message: msg.Error.Message}}
				} else {
					ch <- &pendingResult{result: msg.Result}
				}
			}
			continue
		}

		switch msg.Method {
		case "textDocument/publishDiagnostics":
			c.handlePublishDiagnostics(msg.Params)
		default:
			slog.Debug("lsp notification ignored", "method", msg.Method)
		}
	}
}

func (c *Client) handlePublishDiagnostics(raw json.RawMessage) {
	var params struct {
		URI         string          `json:"uri"`
		Diagnostics json.RawMessage `json:"diagnostics"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		slog.Warn("failed to unmarshal diagnostics", "error", err)
		return
	}

	diags, err := diagnostics.NormalizeDiagnosticList(params.Diagnostics)
	if err != nil {
		slog.Warn("failed to normalize diagnostics", "error", err, "uri", params.URI)
		return
	}
	if c.lspCfg.MaxDiagnostics > 0 && len(diags) > c.lspCfg.MaxDiagnostics {
		diags = diags[:c.lspCfg.MaxDiagnostics]
	}

	c.diagMu.Lock()
	if len(diags) == 0 {
		delete(c.diagnostics, params.URI)
	} else {
		c.diagnostics[params.URI] = diags
	}
	c.diagMu.Unlock()

	c.mu.Lock()
	fn := c.onDiagnostic
	c.mu.Unlock()
	if fn != nil {
		fn(params.URI, diags)
	}
}

// drainStderr reads the child's stderr line by line into a bounded rolling
// log; its content never affects correctness, only observability.
func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		slog.Debug("analyzer stderr", "line", line, "instance_id", c.instanceID)

		c.stderrMu.Lock()
		c.stderrRing = append(c.stderrRing, line)
		if len(c.stderrRing) > stderrRingSize {
			c.stderrRing = c.stderrRing[len(c.stderrRing)-stderrRingSize:]
		}
		c.stderrMu.Unlock()
	}
}

// --- Helpers ---

func textDocumentPositionParams(uri string, pos lspDomain.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"position":     map[string]int{"line": pos.Line, "character": pos.Character},
	}
}

func parseLocations(raw json.RawMessage) ([]lspDomain.Location, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}

	var locs []lspDomain.Location
	if err := json.Unmarshal(raw, &locs); err == nil {
		return locs, nil
	}

	var loc lspDomain.Location
	if err := json.Unmarshal(raw, &loc); err == nil {
		return []lspDomain.Location{loc}, nil
	}

	return nil, fmt.Errorf("unexpected definition result format")
}

// extractHoverContents normalizes the hover contents field (string |
// MarkupContent | MarkedString[]) to a markdown string.
func extractHoverContents(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var mc struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &mc); err == nil && mc.Value != "" {
		return mc.Value
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		var parts []string
		for _, item := range arr {
			var str string
			if err := json.Unmarshal(item, &str); err == nil {
				parts = append(parts, str)
				continue
			}
			var ms struct {
				Language string `json:"language"`
				Value    string `json:"value"`
			}
			if err := json.Unmarshal(item, &ms); err == nil {
				if ms.Language != "" {
					parts = append(parts, fmt.Sprintf("```%s\n%s\n```", ms.Language, ms.Value))
				} else {
					parts = append(parts, ms.Value)
				}
			}
		}
		return strings.Join(parts, "\n\n")
	}

	return string(raw)
}

// stdioPipe combines a stdin (writer) and stdout (reader) into an io.ReadWriteCloser.
type stdioPipe struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p stdioPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p stdioPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p stdioPipe) Close() error {
	_ = p.stdin.Close()
	return p.stdout.Close()
}
