package types

import (
	"context"
	"errors"
	"fmt"
)

// DirectoryType are the supported directory service implementations.
type DirectoryType string

// All supported directory service implementations.
const (
	DirectoryStatic DirectoryType = "static"
	DirectoryLDAP   DirectoryType = "ldap"
)

// DirectoryTypeFromString returns a valid DirectoryType for the given string,
// or an error if the value is invalid.
func DirectoryTypeFromString(val string) (DirectoryType, error) {
	switch DirectoryType(val) {
	case DirectoryStatic:
		return DirectoryStatic, nil
	case DirectoryLDAP:
		return DirectoryLDAP, nil
	}
	return "", fmt.Errorf("unsupported directory type '%s'", val)
}

// Resolver maps usernames to home directory paths.
type Resolver interface {
	// Resolve returns the absolute home directory path of the user. It returns
	// ErrIdentityNotFound if no single identity matches the username, and an
	// error matching ErrDirectoryUnavailable if the directory service can't be
	// reached.
	Resolve(ctx context.Context, username string) (string, error)

	// Close releases any resources held by the resolver.
	Close() error
}

var (
	// ErrIdentityNotFound is returned when zero or multiple identities match a
	// username. Both cases are indistinguishable to callers.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrDirectoryUnavailable is returned when the directory service can't be
	// discovered, connected to, or queried.
	ErrDirectoryUnavailable = errors.New("directory service unavailable")
)

// UnavailableError is a directory service failure with the operation that
// failed and its underlying cause. It matches ErrDirectoryUnavailable with
// errors.Is.
type UnavailableError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrDirectoryUnavailable, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", ErrDirectoryUnavailable, e.Op, e.Cause)
}

// Is allows errors.Is(err, ErrDirectoryUnavailable) to succeed.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrDirectoryUnavailable
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// NewUnavailableError returns an UnavailableError for the failed operation.
func NewUnavailableError(op string, cause error) *UnavailableError {
	return &UnavailableError{Op: op, Cause: cause}
}
