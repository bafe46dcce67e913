// Package failure normalizes anything a remote call can fail with into a single
// Failure shape that the query and mutation hooks expose to the rendering layer.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies where a failure originated.
type Kind int

const (
	// KindUnexpected covers any failure that is neither a transport nor an application failure.
	KindUnexpected Kind = iota
	// KindNetwork means the call was rejected before a response arrived.
	KindNetwork
	// KindApplication means the remote side answered with a non-success status.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindApplication:
		return "application"
	default:
		return "unexpected"
	}
}

// Failure is the normalized error shape held in a hook's state.
// Code is zero when no status code is known.
type Failure struct {
	Message string
	Code    int
	Cause   error
	Kind    Kind
}

func (f *Failure) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("%s failure (%d): %s", f.Kind, f.Code, f.Message)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

// Unwrap exposes the original cause to errors.Is and errors.As.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// HasCode reports whether the failure carries a status code.
func (f *Failure) HasCode() bool {
	return f.Code != 0
}

// UserMessage returns text that is safe to show to an end user. It never
// includes the cause or any payload returned by the server.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case KindNetwork:
		return "Could not reach the server. Check your connection and try again."
	case KindApplication:
		switch f.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "You do not have permission to do that."
		case http.StatusNotFound:
			return "The record could not be found."
		case http.StatusConflict, http.StatusPreconditionFailed:
			return "The record was changed by someone else. Reload and try again."
		case http.StatusTooManyRequests:
			return "Too many requests. Wait a moment and try again."
		}
		if f.Code >= 500 {
			return "The server had a problem handling the request."
		}
		return fmt.Sprintf("The request was rejected (status %d).", f.Code)
	default:
		return "Something went wrong."
	}
}

// StatusError is returned by remote adapters when a response arrives with a
// non-success status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote call failed with status %d", e.Code)
	}
	return fmt.Sprintf("remote call failed with status %d: %s", e.Code, e.Message)
}

// ValueError carries a rejection value that was not an error, such as a
// recovered panic value.
type ValueError struct {
	Value any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// New creates an application failure for the given status code.
func New(code int, message string) *Failure {
	return &Failure{Message: message, Code: code, Kind: KindApplication}
}

// Normalize converts any rejection value into a Failure. It never panics and
// returns nil only for a nil input.
func Normalize(v any) *Failure {
	switch val := v.(type) {
	case nil:
		return nil
	case *Failure:
		return val
	case Failure:
		return &val
	case error:
		return fromError(val)
	case string:
		return &Failure{Message: val, Cause: &ValueError{Value: val}, Kind: KindUnexpected}
	default:
		ve := &ValueError{Value: val}
		return &Failure{Message: ve.Error(), Cause: ve, Kind: KindUnexpected}
	}
}

func fromError(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var se *StatusError
	if errors.As(err, &se) {
		msg := se.Message
		if msg == "" {
			msg = http.StatusText(se.Code)
		}
		return &Failure{Message: msg, Code: se.Code, Cause: err, Kind: KindApplication}
	}

	if errors.Is(err, context.Canceled) {
		return &Failure{Message: "request cancelled", Cause: err, Kind: KindNetwork}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Message: "request timed out", Cause: err, Kind: KindNetwork}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return &Failure{Message: st.Message(), Cause: err, Kind: KindNetwork}
		}
		return &Failure{Message: st.Message(), Code: httpCodeFor(st.Code()), Cause: err, Kind: KindApplication}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return &Failure{Message: err.Error(), Cause: err, Kind: KindNetwork}
	}

	return &Failure{Message: err.Error(), Cause: err, Kind: KindUnexpected}
}

var grpcToHTTP = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.Aborted:            http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.DataLoss:           http.StatusInternalServerError,
}

func httpCodeFor(c codes.Code) int {
	if code, ok := grpcToHTTP[c]; ok {
		return code
	}
	return http.StatusInternalServerError
}
