package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a transport-level failure.
type Kind string

const (
	KindConnectionFailed Kind = "connection-failed"
	KindTimeout          Kind = "timeout"
	KindHTTPStatus       Kind = "http-status"
	KindOther            Kind = "other"
)

// ErrResponseTooLarge marks a 2xx response whose body exceeded the client's limit.
var ErrResponseTooLarge = errors.New("response too large")

// Error is returned by Client for any request that did not produce a 2xx
// response. StatusLine and Body are only set for KindHTTPStatus.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	StatusLine string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("GET %s: %s", e.URL, e.StatusLine)
	}
	return fmt.Sprintf("GET %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an arbitrary error from a network call onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindConnectionFailed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionFailed
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "server rejected connection"):
		return KindConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnectionFailed
	}
	return KindOther
}

// Friendly maps a technical error to a message suitable for an operator.
// The original error is logged.
func Friendly(target, action string, err error) string {
	msg := err.Error()
	friendly := msg

	var te *Error
	switch {
	case errors.As(err, &te) && te.Kind == KindHTTPStatus:
		friendly = fmt.Sprintf("%s answered %s.", target, te.StatusLine)
	case Classify(err) == KindTimeout:
		friendly = fmt.Sprintf("Connection to %s timed out.", target)
	case strings.Contains(msg, "connection refused"):
		friendly = fmt.Sprintf("%s server refused the connection.", target)
	case strings.Contains(msg, "no such host"):
		friendly = fmt.Sprintf("Could not resolve hostname for %s.", target)
	case strings.Contains(msg, "server rejected connection"):
		friendly = fmt.Sprintf("%s rejected the connection (invalid credentials/options).", target)
	case strings.Contains(msg, "reset by peer"):
		friendly = fmt.Sprintf("%s closed the connection unexpectedly.", target)
	}

	slog.Error("remote call failed", "target", target, "action", action, "original_error", err)
	return friendly
}
