package engine

import "fmt"

// ForbiddenError indicates the actor may not perform the operation given the
// document's current state and the actor's role.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return e.Reason }

// InvalidActionError indicates an unrecognized lifecycle action string.
type InvalidActionError struct {
	Action string
}

func (e InvalidActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// InvalidTransitionError indicates a recognized action applied from a status
// that does not allow it.
type InvalidTransitionError struct {
	Action string
	Status string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s not allowed from status %s", e.Action, e.Status)
}

// ConflictError indicates a concurrent writer changed the form's status
// between the precondition read and the conditional write. Retryable.
type ConflictError struct {
	FormID   string
	Expected string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("form %s no longer in status %s; concurrent update", e.FormID, e.Expected)
}
