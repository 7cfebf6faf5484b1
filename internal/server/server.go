// Package server implements the Server Loop: it reads MCP frames from the
// Framed Transport, classifies each as a request or a notification by the
// presence of an id, routes requests to the fixed built-in methods or the
// Tool Dispatcher, and writes every response back using the same framing
// tag the eliciting request arrived in.
//
// Grounded on mark3labs/mcp-go's stdio server's own request/notification
// split and write-back loop, adapted to read/write through the Framed
// Transport instead of a bare line scanner so both NDJSON and
// Content-Length framed clients are served over the same connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nullframe/lspmcp/internal/dispatcher"
	"github.com/nullframe/lspmcp/internal/domain/mcpproto"
	"github.com/nullframe/lspmcp/internal/logger"
	"github.com/nullframe/lspmcp/internal/transport"
)

// Server runs the read-classify-dispatch-write loop for one connection.
type Server struct {
	transport *transport.Transport
	dispatch  *dispatcher.Dispatcher
	name      string
	version   string
	log       *slog.Logger
}

// New builds a Server reading/writing frames over t. A nil log falls back
// to slog.Default().
func New(t *transport.Transport, disp *dispatcher.Dispatcher, name, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{transport: t, dispatch: disp, name: name, version: version, log: log}
}

// Run processes frames until the input stream ends or ctx is canceled. A
// clean EOF on the transport returns nil, per spec §6's exit-code-0
// contract for clean shutdown on stdin EOF. Per-frame transport errors
// (malformed or truncated frames) are logged and the frame is skipped;
// they never terminate the loop.
func (s *Server) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, err := s.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, transport.ErrTruncated) {
				s.log.Warn("skipping malformed frame", "error", err)
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}

		s.handleFrame(ctx, frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, frame transport.Frame) {
	var msg mcpproto.Message
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		s.log.Warn("dropping unparseable message", "error", err)
		return
	}

	if msg.IsNotification() {
		s.handleNotification(ctx, &msg)
		return
	}

	resp := s.route(ctx, &msg)
	s.write(resp, frame.Framing)
}

// handleNotification dispatches side effects only; the server MUST emit
// zero outbound bytes for it, successful or not.
func (s *Server) handleNotification(_ context.Context, msg *mcpproto.Message) {
	switch msg.Method {
	case "notifications/initialized":
		s.log.Debug("client initialized")
	default:
		s.log.Debug("ignoring unknown notification", "method", msg.Method)
	}
}

func (s *Server) route(ctx context.Context, msg *mcpproto.Message) *mcpproto.Message {
	ctx = logger.WithRequestID(ctx, string(msg.ID))
	s.log.DebugContext(ctx, "handling request", "method", msg.Method, "request_id", logger.RequestID(ctx))

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "ping":
		return mcpproto.NewResult(msg.ID, json.RawMessage(`{}`))
	case "tools/list":
		return s.handleToolsList(msg)
	case "tools/call":
		return s.handleToolsCall(ctx, msg)
	default:
		return mcpproto.NewError(msg.ID, mcpproto.CodeMethodNotFound, "method not found: "+msg.Method)
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

func (s *Server) handleInitialize(msg *mcpproto.Message) *mcpproto.Message {
	var params initializeParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &params)
	}
	result := initializeResult{
		ProtocolVersion: params.ProtocolVersion,
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcpproto.NewError(msg.ID, mcpproto.CodeInternalError, "failed to build initialize result")
	}
	return mcpproto.NewResult(msg.ID, data)
}

type toolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleToolsList(msg *mcpproto.Message) *mcpproto.Message {
	tools := s.dispatch.Tools()
	catalogue := make([]toolDescriptor, 0, len(tools))
	for name, tool := range tools {
		catalogue = append(catalogue, toolDescriptor{Name: name, Description: tool.Tool.Description})
	}
	data, err := json.Marshal(map[string]any{"tools": catalogue})
	if err != nil {
		return mcpproto.NewError(msg.ID, mcpproto.CodeInternalError, "failed to build tool catalogue")
	}
	return mcpproto.NewResult(msg.ID, data)
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, msg *mcpproto.Message) *mcpproto.Message {
	var params toolsCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return mcpproto.NewError(msg.ID, mcpproto.CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	result, err := s.dispatch.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return mcpproto.NewError(msg.ID, mcpproto.CodeInvalidParams, err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcpproto.NewError(msg.ID, mcpproto.CodeInternalError, "failed to marshal tool result")
	}
	return mcpproto.NewResult(msg.ID, data)
}

// write emits resp using framing, the same tag the eliciting request
// carried. A response with no eliciting request cannot occur via route()
// above (every branch is reached with a real inbound message), so NDJSON
// as a default only guards the theoretically unreachable case.
func (s *Server) write(resp *mcpproto.Message, framing transport.Framing) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}
	if err := s.transport.WriteFrame(data, framing); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
