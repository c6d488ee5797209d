package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests refused by the gate before anything was
	// stored.
	ErrValidation = errors.New("validation failed")
	// ErrParse marks files that were stored but could not be decoded.
	ErrParse = errors.New("parse failed")
	// ErrPersistence marks failures writing records or upload transitions.
	ErrPersistence = errors.New("persistence failed")
	// ErrInfrastructure marks blob store or database failures at the gate.
	ErrInfrastructure = errors.New("infrastructure unavailable")

	ErrNotFound       = errors.New("upload not found")
	ErrSearchDisabled = errors.New("record search is not enabled")
)

// ValidationError names the offending form field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
