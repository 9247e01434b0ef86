package graphql

import (
	"errors"

	"github.com/dd0wney/roadnet/pkg/roadnet"
)

// codedError adds a machine readable code to resolver errors. graphql-go
// copies Extensions into the formatted error.
type codedError struct {
	err  error
	code string
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func (e *codedError) Extensions() map[string]any {
	return map[string]any{"code": e.code}
}

func wrapError(err error) error {
	return &codedError{err: err, code: ErrorCode(err)}
}

// ErrorCode maps an error to the code reported in the extensions of a
// GraphQL error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, roadnet.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, roadnet.ErrNetworkNotFound):
		return "NETWORK_NOT_FOUND"
	case errors.Is(err, roadnet.ErrNoEdgesAtInstant):
		return "NO_EDGES_AT_INSTANT"
	case errors.Is(err, roadnet.ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, roadnet.ErrReconciliationConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}
