package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure taxonomy. Callers classify with
// errors.Is and wrap with context via the helpers below.
var (
	// ErrInvalidArgument marks a malformed or missing required input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an unknown session id or artifact route key.
	ErrNotFound = errors.New("not found")

	// ErrTimeout marks a bounded operation that exceeded its deadline.
	// The subprocess-side work is abandoned, never cancelled.
	ErrTimeout = errors.New("timeout")

	// ErrConstruction marks a kernel that failed to start or never
	// signaled readiness.
	ErrConstruction = errors.New("construction failure")

	// ErrProtocol marks a malformed or unexpected message from a kernel.
	// Protocol errors surface as error events on the session stream, not
	// as call rejections.
	ErrProtocol = errors.New("protocol error")
)

// InvalidArgumentf wraps ErrInvalidArgument with context.
func InvalidArgumentf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidArgument, args)...)
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// Timeoutf wraps ErrTimeout with context.
func Timeoutf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrTimeout, args)...)
}

// Constructionf wraps ErrConstruction with context.
func Constructionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrConstruction, args)...)
}

// Protocolf wraps ErrProtocol with context.
func Protocolf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrProtocol, args)...)
}

func prepend(err error, args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, err)
	return append(out, args...)
}

// HTTPStatus maps a taxonomy error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrConstruction), errors.Is(err, ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
