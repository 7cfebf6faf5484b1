// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a well-framed but semantically invalid message.
var ErrValidation = errors.New("validation error")

// ErrSessionClosed indicates the LSP client session is not Ready: the
// analyzer failed to start, exited, or the handshake failed.
var ErrSessionClosed = errors.New("session closed")

// ErrTimeout indicates a pending request's deadline expired before a
// response arrived.
var ErrTimeout = errors.New("timeout")

// ErrTransport indicates a malformed or truncated frame on either the
// MCP or the LSP wire.
var ErrTransport = errors.New("transport error")
