package orchestrator

import (
	"context"
	"errors"

	"PromptHarvester/internal/domain"
)

// StageKind enumerates the closed set of stage variants.
type StageKind string

const (
	KindScript   StageKind = "script"
	KindMusic    StageKind = "music"
	KindVideo    StageKind = "video"
	KindAssembly StageKind = "assembly"
)

// Valid reports whether k is a known stage variant.
func (k StageKind) Valid() bool {
	switch k {
	case KindScript, KindMusic, KindVideo, KindAssembly:
		return true
	default:
		return false
	}
}

// StageInput is what a stage receives for one attempt.
type StageInput struct {
	RunID    string
	Attempt  int
	Seed     domain.PromptRecord
	Upstream map[string]StageOutput
}

// StageOutput is what a successful attempt produces.
type StageOutput struct {
	Artifact string
	Metadata map[string]string
	CostUSD  float64
}

// Stage is one downstream generation step. Execute must be safe to retry.
type Stage interface {
	ID() string
	Kind() StageKind
	Execute(ctx context.Context, in StageInput) (StageOutput, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
