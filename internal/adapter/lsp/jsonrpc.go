package lsp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nullframe/lspmcp/internal/domain/mcpproto"
)

// JSONRPCConn wraps an io.ReadWriteCloser (the analyzer child's stdin/stdout)
// and implements JSON-RPC 2.0 over Content-Length-framed stdio, which is
// the only framing the child speaks.
type JSONRPCConn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex // protects writes
}

// NewJSONRPCConn creates a new JSON-RPC connection over the given stream.
func NewJSONRPCConn(rwc io.ReadWriteCloser) *JSONRPCConn {
	return &JSONRPCConn{
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, 64*1024),
	}
}

// Send sends a JSON-RPC request with the given id, method and params.
func (c *JSONRPCConn) Send(id int, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	msg := mcpproto.LSPMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeMessage(data)
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (c *JSONRPCConn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	msg := mcpproto.LSPMessage{JSONRPC: "2.0", Method: method, Params: raw}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeMessage(data)
}

// Reply sends a JSON-RPC response for id, with exactly one of result or
// rpcErr set. Exported for fake-analyzer test harnesses in other packages
// that need to answer a captured request's id directly, since Send always
// builds a request envelope instead.
func (c *JSONRPCConn) Reply(id *int, result json.RawMessage, rpcErr *mcpproto.Error) error {
	msg := mcpproto.LSPMessage{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.writeMessage(data)
}

// ReadMessage reads one JSON-RPC message from the connection, blocking
// until a full message is available or the connection is closed.
func (c *JSONRPCConn) ReadMessage() (*mcpproto.LSPMessage, error) {
	data, err := c.readMessage()
	if err != nil {
		return nil, err
	}

	var msg mcpproto.LSPMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}

// Close closes the underlying connection.
func (c *JSONRPCConn) Close() error {
	return c.rwc.Close()
}

// writeMessage writes a JSON-RPC message with Content-Length header framing.
func (c *JSONRPCConn) writeMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(c.rwc, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.rwc.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readMessage reads one Content-Length-framed message from the connection.
func (c *JSONRPCConn) readMessage() ([]byte, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			val := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("parse Content-Length %q: %w", val, err)
			}
			contentLength = n
		}
		// Content-Type and any other header is accepted and ignored.
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body (%d bytes): %w", contentLength, err)
	}
	return body, nil
}
