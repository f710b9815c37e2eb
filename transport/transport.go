// Package transport abstracts the outbound call a queued request
// ultimately dispatches through, so the queue and breaker never import
// net/http directly.
package transport

import (
	"context"
	"time"
)

// HttpRequest is the wire-level request a Transport executes.
type HttpRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// HttpResponse is the wire-level result of a successful execute.
type HttpResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// ErrorKind classifies a TransportError for retry eligibility per the
// queue's retry classification.
type ErrorKind string

const (
	ErrTimeout        ErrorKind = "timeout"
	ErrConnectionLost ErrorKind = "connection_lost"
	ErrNotConnected   ErrorKind = "not_connected"
	ErrTerminal       ErrorKind = "terminal"
)

// Retryable reports whether this error kind should cause a re-enqueue.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrTimeout, ErrConnectionLost, ErrNotConnected:
		return true
	default:
		return false
	}
}

// TransportError wraps a dispatch failure with its retry classification.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport executes one outbound call against a single target.
type Transport interface {
	Execute(ctx context.Context, req HttpRequest) (HttpResponse, time.Duration, error)
}
