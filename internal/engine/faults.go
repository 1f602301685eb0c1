package engine

import "fmt"

// The engine's fault types. The API layer maps each to a status code; the
// CLI prints the message as-is. Plain errors from lower layers pass through
// untouched.

// DuplicateProofError rejects a submission whose proof is byte-identical to
// one already in the ledger, for any task or user.
type DuplicateProofError struct {
	ProofHash string
}

func (e DuplicateProofError) Error() string {
	return "identical proof has already been submitted"
}

// AttemptLimitError rejects a submission once the task's attempt cap is
// exhausted.
type AttemptLimitError struct {
	TaskID      string
	MaxAttempts int
}

func (e AttemptLimitError) Error() string {
	return fmt.Sprintf("attempt limit of %d reached for task %s", e.MaxAttempts, e.TaskID)
}

// PrevalidationError rejects unstructured proof that failed the pre-screen.
// The explanation carries the full detail.
type PrevalidationError struct {
	Reason string
}

func (e PrevalidationError) Error() string {
	return "submission rejected before review: " + e.Reason
}

// ImmutabilityError reports a write against a finalized ledger record. These
// indicate a caller bug, never user error.
type ImmutabilityError struct {
	Kind string
	ID   string
}

func (e ImmutabilityError) Error() string {
	return fmt.Sprintf("%s %s is final and cannot be modified", e.Kind, e.ID)
}

// AlreadyDecidedError reports a second decision on a closed review or an
// already-resolved remediation.
type AlreadyDecidedError struct {
	Kind string
	ID   string
}

func (e AlreadyDecidedError) Error() string {
	return fmt.Sprintf("%s %s has already been decided", e.Kind, e.ID)
}

// NoCompletedTasksError rejects resume compilation when nothing has passed.
type NoCompletedTasksError struct {
	RoadmapID string
}

func (e NoCompletedTasksError) Error() string {
	return "no completed tasks; complete at least one task before generating a resume"
}

// ExternalServiceError wraps repository host failures that prevented any
// validation verdict at all.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e ExternalServiceError) Unwrap() error { return e.Err }
