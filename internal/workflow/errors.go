package workflow

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes run errors.
type ErrorCode string

const (
	// ErrCodeInit indicates a missing collaborator or alias configuration.
	// Fatal before any step executes; never auto-retried.
	ErrCodeInit ErrorCode = "INIT"

	// ErrCodeInvalidWorkflow indicates a malformed workflow (empty or
	// duplicate step name, unknown meta value, unknown start-at step).
	ErrCodeInvalidWorkflow ErrorCode = "INVALID_WORKFLOW"

	// ErrCodeStepFailed indicates the dispatcher returned an error that no
	// callback absorbed. Fatal to the run; triggers rollback when a
	// transaction is armed.
	ErrCodeStepFailed ErrorCode = "STEP_FAILED"

	// ErrCodeConnOpen indicates a failed open or begin on a storage alias.
	// Aborts the run and rolls back aliases already opened by the same run.
	ErrCodeConnOpen ErrorCode = "CONN_OPEN"

	// ErrCodeCommitFailed indicates one or more aliases failed to commit.
	// Cleanup of the remaining aliases still completes.
	ErrCodeCommitFailed ErrorCode = "COMMIT_FAILED"

	// ErrCodeCancelled indicates the run's context expired between steps.
	// Rollback and connection cleanup run before this surfaces.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// RunError is the terminal error of a workflow run. Step identifies the
// failing step for step-level failures; a failed transactional run
// additionally guarantees that none of its writes remain visible.
type RunError struct {
	Code     ErrorCode
	Message  string
	Step     string
	RunToken string
	Err      error
}

func (e *RunError) Error() string {
	switch {
	case e.Step != "" && e.Err != nil:
		return fmt.Sprintf("%s: step %q: %s: %v", e.Code, e.Step, e.Message, e.Err)
	case e.Step != "":
		return fmt.Sprintf("%s: step %q: %s", e.Code, e.Step, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the RunError code from an error chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsStepError reports whether err is an unabsorbed step failure.
func IsStepError(err error) bool {
	return CodeOf(err) == ErrCodeStepFailed
}

// FailingStep returns the name of the step a run error originated from.
func FailingStep(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.Step
	}
	return ""
}
