package userdir

import (
	"errors"
	"net/http"

	dtypes "go.hackfix.me/tilde/directory/types"
)

var (
	// ErrPathRejected is returned for client paths that could escape the
	// content tree.
	ErrPathRejected = errors.New("path rejected")
	// ErrPathNotFound is returned when the requested path doesn't exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrPathAccess is returned for any other filesystem failure.
	ErrPathAccess = errors.New("path access failed")
	// ErrRender is returned when a directory listing can't be generated.
	ErrRender = errors.New("failed rendering directory listing")
)

// StatusCode returns the HTTP status code that err maps to. Rejected paths are
// reported as not found, so that clients can't probe the sandbox.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, dtypes.ErrIdentityNotFound),
		errors.Is(err, ErrPathNotFound),
		errors.Is(err, ErrPathRejected):
		return http.StatusNotFound
	case errors.Is(err, dtypes.ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
