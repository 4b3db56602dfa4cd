package mcp

import (
	"context"
	"errors"
	"fmt"

	cerrors "github.com/twilsonco/context-server/internal/errors"
)

// Custom MCP error codes for context-server.
const (
	// ErrCodeIndexingActive indicates a bulk reindex is running.
	ErrCodeIndexingActive = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeBackendUnavailable indicates a model backend is down.
	ErrCodeBackendUnavailable = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with a JSON-RPC code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error with a
// custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// MapError converts pipeline errors into MCP protocol errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ce *cerrors.ContextError
	if errors.As(err, &ce) {
		return mapContextError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// mapContextError picks the MCP code for a coded pipeline error. The
// suggestion rides along in the message so clients can surface it.
func mapContextError(ce *cerrors.ContextError) *MCPError {
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
	}

	switch ce.Code {
	case cerrors.ErrCodeQueryEmpty,
		cerrors.ErrCodeInvalidGranularity,
		cerrors.ErrCodeInvalidInput:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case cerrors.ErrCodeIndexingActive:
		return &MCPError{Code: ErrCodeIndexingActive, Message: message}
	case cerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case cerrors.ErrCodeBackendUnavailable,
		cerrors.ErrCodeRerankFailed,
		cerrors.ErrCodeRateLimited:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	case cerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
