package crm

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies CRM failures by how callers should react to them.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindRateLimited
	KindPermissionDenied
	KindNetwork
)

// String returns the label used in logs, metrics and bulk-refresh results.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limit"
	case KindPermissionDenied:
		return "permission"
	case KindNetwork:
		return "network"
	default:
		return "other"
	}
}

// Error is the tagged error returned by Client implementations.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when known, else 0
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("crm %s (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("crm %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error of the given kind.
func NewError(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

// KindForStatus maps an HTTP status code from the CRM to a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindPermissionDenied
	default:
		return KindOther
	}
}

// Classify returns the Kind of err. Typed errors are classified by tag;
// anything else falls back to inspecting the message, which is how
// untyped errors from older integrations are recognized.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "403"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "unauthorized"):
		return KindPermissionDenied
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"):
		return KindRateLimited
	case strings.Contains(msg, "not found"),
		strings.Contains(msg, "404"):
		return KindNotFound
	case strings.Contains(msg, "network"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "econnrefused"):
		return KindNetwork
	}
	return KindOther
}

// IsNotFound reports whether err classifies as KindNotFound.
func IsNotFound(err error) bool { return err != nil && Classify(err) == KindNotFound }
