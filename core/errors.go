package core

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

var (
	// Validation: rejected before any state mutation.
	ErrInvalidInput       = errors.New("invalid input")
	ErrInsufficientAgents = errors.New("insufficient agents")
	ErrIndexOutOfRange    = errors.New("sub-goal index out of range")

	// Not found.
	ErrDecisionNotFound = errors.New("decision not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrUnknownOperation = errors.New("unknown operation")

	// Conflict: caller may retry with different input.
	ErrAgentNotAuthorized = errors.New("agent not authorized to vote on this decision")
	ErrDuplicateVote      = errors.New("agent has already voted")
	ErrDecisionExists     = errors.New("decision already exists")
	ErrNoAvailableWorker  = errors.New("no available worker")
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{ErrInvalidInput, ErrInsufficientAgents, ErrIndexOutOfRange}},
	{KindNotFound, []error{ErrDecisionNotFound, ErrTaskNotFound, ErrSessionNotFound, ErrDocumentNotFound, ErrNodeNotFound, ErrWorkerNotFound, ErrUnknownOperation}},
	{KindConflict, []error{ErrAgentNotAuthorized, ErrDuplicateVote, ErrDecisionExists, ErrNoAvailableWorker}},
}

// KindOf reports the Kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}

// Invalidf returns an ErrInvalidInput wrapped with a formatted message.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NewErrorBody converts err into a response error body.
func NewErrorBody(err error) *ErrorBody {
	return &ErrorBody{Kind: KindOf(err), Message: err.Error()}
}
