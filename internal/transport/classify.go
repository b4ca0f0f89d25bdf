package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
)

// DeclineError carries a gateway-level business rejection. Terminal, never
// retried.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// Classify maps a raw transport error into the domain taxonomy:
// decline (terminal), network (retryable, drives the capture_pending path),
// or device (escalates the reader health gate). Anything else is internal.
func Classify(err error) *pkgerrors.Error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}

	var decline *DeclineError
	if errors.As(err, &decline) {
		return pkgerrors.Wrap(pkgerrors.CodeDeclined, err, decline.Reason)
	}
	if isNetworkError(err) {
		return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "transport unreachable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "transport error")
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	// Some drivers flatten the cause into the message.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "timeout", "no such host", "network is unreachable", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
