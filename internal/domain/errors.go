package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors shared by the store, the session and the API.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("prompt not found")
	ErrPersistence      = errors.New("persistence failed")
	ErrRemoteOptimize   = errors.New("optimize request failed")
	ErrOptimizeInFlight = errors.New("optimization already in progress")
)

// ValidationError names the offending input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError reports a failed read or write against the KV substrate.
// The in-memory state stays authoritative when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsWarning reports whether err is a non-blocking persistence notice
func IsWarning(err error) bool {
	return err != nil && errors.Is(err, ErrPersistence)
}

// MapHTTPStatus maps domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOptimizeInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrRemoteOptimize):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
