package contactor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// EmailTransport delivers one rendered message. A nil error means delivered.
// Implementations classify failures with NewTerminalError / NewRetryableError;
// unclassified errors are treated as retryable.
type EmailTransport interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportFunc adapts a function to EmailTransport.
type TransportFunc func(ctx context.Context, msg *Message) error

func (f TransportFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// DeliveryError carries the transport's verdict on whether a retry can help.
type DeliveryError struct {
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "terminal"
	if e.Temporary {
		kind = "retryable"
	}

	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery error (status %d): %v", kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s delivery error: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Cause() error {
	return e.Err
}

func NewTerminalError(err error) error {
	return &DeliveryError{Err: err}
}

func NewRetryableError(err error) error {
	return &DeliveryError{Temporary: true, Err: err}
}

// StatusError classifies an HTTP-style status code. Client errors are
// terminal apart from timeouts and throttling; everything else is retryable.
func StatusError(code int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(code))
	}

	temporary := true
	if code >= 400 && code < 500 {
		temporary = code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}

	return &DeliveryError{StatusCode: code, Temporary: temporary, Err: err}
}

// IsTerminal reports whether err was classified as not worth retrying.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	var de *DeliveryError
	if errors.As(err, &de) {
		return !de.Temporary
	}

	return false
}

// HTTPStatus maps a delivery error to the status the relay endpoint answers with.
func HTTPStatus(err error) int {
	var de *DeliveryError
	if errors.As(err, &de) {
		if de.StatusCode >= 400 && de.StatusCode < 600 {
			return de.StatusCode
		}

		if !de.Temporary {
			return http.StatusBadRequest
		}
	}

	return http.StatusBadGateway
}
