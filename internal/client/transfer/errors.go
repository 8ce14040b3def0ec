package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gophupload/internal/netx"
)

type Kind int

const (
	KindNetwork Kind = iota + 1
	KindServerRejected
	KindCancelled
	KindTimeout
	// KindSource means the local payload could not be read.
	KindSource
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServerRejected:
		return "server_rejected"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindSource:
		return "source"
	default:
		return "unknown"
	}
}

// Error is the failure of a single transfer attempt.
type Error struct {
	Kind Kind

	// Status and Message are set for KindServerRejected.
	Status  int
	Message string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindServerRejected:
		if e.Message == "" {
			return fmt.Sprintf("server rejected upload: HTTP %d", e.Status)
		}
		return fmt.Sprintf("server rejected upload: HTTP %d: %s", e.Status, e.Message)
	case KindCancelled:
		return "upload cancelled"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed: network failures,
// timeouts and 5xx rejections.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindServerRejected:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}

func Rejected(status int, message string) *Error {
	return &Error{Kind: KindServerRejected, Status: status, Message: message}
}

func Cancelled(err error) *Error { return &Error{Kind: KindCancelled, Err: err} }

func SourceError(err error) *Error { return &Error{Kind: KindSource, Err: err} }

// Classify maps err to an *Error. Unknown failures are treated as network
// errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err)
	}
	if netx.IsTimeout(err) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var se *netx.StatusError
	if errors.As(err, &se) {
		return Rejected(se.StatusCode, se.Body)
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// KindOf returns the kind of err, or 0 when err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	return Classify(err).Kind
}
