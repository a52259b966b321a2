package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a send failure for callers deciding on retry,
// fallback or rejection.
type ErrorKind string

const (
	KindConfig      ErrorKind = "config"
	KindPolicy      ErrorKind = "policy"
	KindSecurity    ErrorKind = "security"
	KindCompose     ErrorKind = "compose"
	KindTransport   ErrorKind = "transport"
	KindProviderAPI ErrorKind = "provider_api"
	KindUnknown     ErrorKind = "unknown"
)

// SendError is the failure type returned by the delivery engine. Retryable
// reports whether a later attempt could plausibly succeed.
type SendError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func sendErr(kind ErrorKind, retryable bool, err error) *SendError {
	return &SendError{Kind: kind, Retryable: retryable, Err: err}
}

func sendErrf(kind ErrorKind, retryable bool, format string, args ...any) *SendError {
	return sendErr(kind, retryable, fmt.Errorf(format, args...))
}

// AsSendError extracts a SendError from an error chain. Unwrapped errors are
// treated as retryable unknowns.
func AsSendError(err error) *SendError {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	return &SendError{Kind: KindUnknown, Retryable: true, Err: err}
}
