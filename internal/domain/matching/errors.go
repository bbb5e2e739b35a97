package matching

import (
	"errors"
	"fmt"
)

// Stage failure sentinels. Every pipeline error crosses the service boundary
// as a StageError wrapping exactly one of these, so callers can branch with
// errors.Is without knowing which adapter produced the failure.
var (
	ErrExtraction = errors.New("profile extraction failed")
	ErrRegistry   = errors.New("trial registry lookup failed")
	ErrEvaluation = errors.New("trial evaluation failed")
)

// ErrRunNotFound is returned for run ids the runner has never seen (or has
// already pruned).
var ErrRunNotFound = errors.New("match run not found")

// StageError ties a pipeline failure to the stage that produced it. Err
// wraps the stage's sentinel plus the underlying cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func failStage(stage Stage, sentinel, cause error) error {
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}
