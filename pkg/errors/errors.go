package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	// CodeDeclined is a gateway-level business rejection. Terminal, never retried.
	CodeDeclined Code = "PAYMENT_DECLINED"
	// CodeNetwork covers timeouts, refused connections, and unreachable hosts.
	CodeNetwork Code = "NETWORK_ERROR"
	// CodeDevice marks a physical reader fault, including pad-reset failures.
	CodeDevice Code = "DEVICE_ERROR"
	// CodeReaderDegraded rejects new charges against a degraded reader.
	CodeReaderDegraded Code = "READER_DEGRADED"
	// CodeStateConflict rejects a disallowed intent status transition.
	CodeStateConflict Code = "STATE_CONFLICT"
	// CodeSyncConflict is a single-row replication failure.
	CodeSyncConflict Code = "SYNC_CONFLICT"
	// CodeRetryExhausted signals the reconciliation retry budget ran out.
	CodeRetryExhausted Code = "RETRY_EXHAUSTED"
	CodeInternal       Code = "INTERNAL_ERROR"
)

type Metadata struct {
	// Retryable errors may drive the capture_pending / backoff path.
	Retryable bool
	// Terminal errors end an intent's lifecycle; the intent is never re-authorized.
	Terminal      bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "validation failed",
	},
	CodeNotFound: {
		Retryable:     false,
		PublicMessage: "resource not found",
	},
	CodeDeclined: {
		Retryable:     false,
		Terminal:      true,
		PublicMessage: "payment declined",
	},
	CodeNetwork: {
		Retryable:     true,
		PublicMessage: "network unavailable",
	},
	CodeDevice: {
		Retryable:     false,
		PublicMessage: "payment device error",
	},
	CodeReaderDegraded: {
		Retryable:     false,
		PublicMessage: "reader requires manual reset",
	},
	CodeStateConflict: {
		Retryable:     false,
		PublicMessage: "state transition disallowed",
	},
	CodeSyncConflict: {
		Retryable:     false,
		PublicMessage: "row replication conflict",
	},
	CodeRetryExhausted: {
		Retryable:     false,
		Terminal:      true,
		PublicMessage: "retry budget exhausted",
	},
	CodeInternal: {
		Retryable:     false,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// IsRetryable reports whether the error (or its cause chain) carries a
// retryable code. Unclassified errors are not retried.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Retryable
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
