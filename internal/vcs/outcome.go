package vcs

import (
	"errors"
	"fmt"
)

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	// OutcomeOk means the call succeeded
	OutcomeOk OutcomeKind = iota

	// OutcomeConflict means the backend reported an unresolved conflict
	OutcomeConflict

	// OutcomeError means any other failure
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeConflict:
		return "conflict"
	default:
		return "error"
	}
}

// Outcome is the result of one backend step as seen by batch operations:
// Ok, Conflict(path, detail) or Error(cause).
type Outcome struct {
	Kind OutcomeKind

	// Path and Detail are set for conflicts
	Path   string
	Detail string

	// Err is the underlying error for conflicts and errors
	Err error
}

// Ok is the successful outcome
func Ok() Outcome {
	return Outcome{Kind: OutcomeOk}
}

// Conflict builds a conflict outcome
func Conflict(path, detail string) Outcome {
	return Outcome{
		Kind:   OutcomeConflict,
		Path:   path,
		Detail: detail,
		Err:    &ConflictError{Path: path, Detail: detail},
	}
}

// Failure builds an error outcome
func Failure(cause error) Outcome {
	return Outcome{Kind: OutcomeError, Err: cause}
}

// Classify turns an error returned by a connector into an Outcome.
// A nil error is Ok, a *ConflictError anywhere in the chain is a
// Conflict, anything else is an Error.
func Classify(err error) Outcome {
	if err == nil {
		return Ok()
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return Outcome{Kind: OutcomeConflict, Path: ce.Path, Detail: ce.Detail, Err: err}
	}
	return Failure(err)
}

// IsOk reports whether the outcome is Ok
func (o Outcome) IsOk() bool {
	return o.Kind == OutcomeOk
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeOk:
		return "ok"
	case OutcomeConflict:
		return fmt.Sprintf("conflict(%s)", o.Path)
	default:
		return fmt.Sprintf("error(%v)", o.Err)
	}
}
