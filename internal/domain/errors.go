package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by collectors, analyzer, store and orchestrator.
var (
	ErrSourceUnavailable   = errors.New("source unavailable")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	ErrTransientStage      = errors.New("transient stage failure")
	ErrTerminalStage       = errors.New("terminal stage failure")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
)

// ValidationError reports malformed configuration or input data.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError is a shorthand for building a *ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
