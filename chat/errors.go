package chat

import (
	"context"
	"errors"

	"github.com/onnwee/banter/irc"
	"github.com/onnwee/banter/oauth"
)

// Session errors. These end a session; the Supervisor retries them.
var (
	ErrTransport   = errors.New("chat: transport failure")
	ErrIdleTimeout = errors.New("chat: no data within idle timeout")
	ErrConnClosed  = errors.New("chat: connection closed")
	ErrAuthFailed  = errors.New("chat: login authentication failed")
)

// Caller-facing command errors.
var (
	ErrAlreadyConnected = errors.New("chat: already connected")
	ErrNotConnected     = errors.New("chat: not connected")
	ErrInvalidChannel   = errors.New("chat: invalid channel name")
	ErrEmptyMessage     = errors.New("chat: empty message")

	ErrNoSession         = oauth.ErrNoSession
	ErrMissingIdentity   = oauth.ErrMissingIdentity
	ErrMalformedIdentity = oauth.ErrMalformedIdentity
)

// Outbound queue errors.
var (
	ErrOutboundFull   = errors.New("chat: outbound queue full")
	ErrOutboundClosed = errors.New("chat: outbound queue closed")
)

// ErrorClass represents whether an error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable errors end a session and are retried by the reconnect loop.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal errors are returned to the caller and never retried.
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify sorts err into retryable session failures and fatal caller errors.
// A malformed line is fatal for that line only: it is dropped, never retried.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClassUnknown
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrIdleTimeout),
		errors.Is(err, ErrConnClosed),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrOutboundFull):
		return ErrorClassRetryable
	case errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrInvalidChannel),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrNoSession),
		errors.Is(err, ErrMissingIdentity),
		errors.Is(err, ErrMalformedIdentity),
		errors.Is(err, ErrOutboundClosed),
		errors.Is(err, irc.ErrMalformedLine):
		return ErrorClassFatal
	default:
		return ErrorClassUnknown
	}
}

// endReason is the metrics label for how a session ended.
func endReason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrIdleTimeout):
		return "idle_timeout"
	case errors.Is(err, ErrConnClosed):
		return "conn_closed"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
