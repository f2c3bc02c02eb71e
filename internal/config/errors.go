package config

import (
	"errors"
	"fmt"
)

// ErrInvalid marks configuration that must stop the process before any
// worker is created.
var ErrInvalid = errors.New("invalid configuration")

// InvalidError reports which field failed and why.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *InvalidError) Unwrap() error { return ErrInvalid }

// Invalidf builds an InvalidError for one field.
func Invalidf(field, format string, args ...any) error {
	return &InvalidError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalid reports whether err is a configuration validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
