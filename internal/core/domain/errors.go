package domain

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrorKind classifies a failure for callers that need to decide on retries or status codes.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindBackendRejected    ErrorKind = "backend_rejected"
	KindTimeout            ErrorKind = "timeout"
	KindTransport          ErrorKind = "transport"
	KindExtractionDegraded ErrorKind = "extraction_degraded"
	KindCanceled           ErrorKind = "canceled"
	KindNotFound           ErrorKind = "not_found"
	KindInternal           ErrorKind = "internal"
)

var (
	ErrValidation         = errors.New("invalid input")
	ErrBackendUnavailable = errors.New("image backend unavailable")
	ErrBackendRejected    = errors.New("image backend rejected job")
	ErrTimeout            = errors.New("generation timed out")
	ErrTransport          = errors.New("transport error")
	ErrExtractionDegraded = errors.New("attribute extraction degraded")
	ErrInvalidGraph       = errors.New("invalid job graph")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidTransition  = errors.New("invalid session status transition")
)

// MaxDiagnosticLength bounds backend diagnostic text carried in errors.
const MaxDiagnosticLength = 500

// KindOf maps an error chain onto its ErrorKind. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrBackendRejected), errors.Is(err, ErrInvalidGraph):
		return KindBackendRejected
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrExtractionDegraded):
		return KindExtractionDegraded
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Truncate shortens backend diagnostics to at most MaxDiagnosticLength bytes, cutting on
// a rune boundary.
func Truncate(s string) string {
	if len(s) <= MaxDiagnosticLength {
		return s
	}
	cut := MaxDiagnosticLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
