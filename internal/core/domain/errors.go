package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformed indicates the remote store rejected a request as malformed
	ErrMalformed = errors.New("malformed request")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrSyncInProgress indicates a sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrInvalidCredentials indicates wrong username/password combination
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrServiceUnavailable indicates the remote store could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUnknownRecordType indicates a record type is not registered
	ErrUnknownRecordType = errors.New("unknown record type")

	// ErrTaskNotPending indicates a task was already claimed or settled
	ErrTaskNotPending = errors.New("task is not pending")
)

// SchemaValidationError reports collection metadata that failed validation.
type SchemaValidationError struct {
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return "invalid collection metadata: " + e.Reason
}

func (e *SchemaValidationError) Unwrap() error { return ErrInvalidInput }

// UnexpectedKeyError reports a top-level metadata key outside the allow-list.
type UnexpectedKeyError struct {
	Key string
}

func (e *UnexpectedKeyError) Error() string {
	return fmt.Sprintf("unexpected metadata key '%s'", e.Key)
}

// Unwrap lets callers match both the typed error and a generic validation failure.
func (e *UnexpectedKeyError) Unwrap() []error {
	return []error{&SchemaValidationError{Reason: "unexpected key " + e.Key}, ErrInvalidInput}
}

// MissingFieldNameError reports a field spec without a name.
type MissingFieldNameError struct {
	Index int
}

func (e *MissingFieldNameError) Error() string {
	return fmt.Sprintf("field spec at position %d has no name", e.Index)
}

func (e *MissingFieldNameError) Unwrap() error { return ErrInvalidInput }

// InvalidServerConfigError reports an unusable server list.
type InvalidServerConfigError struct {
	Server string
	Reason string
}

func (e *InvalidServerConfigError) Error() string {
	if e.Server == "" {
		return "invalid server configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid server configuration %q: %s", e.Server, e.Reason)
}

func (e *InvalidServerConfigError) Unwrap() error { return ErrInvalidInput }

// CollectionNotFoundError reports a collection that neither static
// configuration nor the database could resolve.
type CollectionNotFoundError struct {
	Name string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection '%s' could not be found or created, maybe it is not enabled?", e.Name)
}

func (e *CollectionNotFoundError) Unwrap() error { return ErrNotFound }

// PersistenceError wraps a failed write of local state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
