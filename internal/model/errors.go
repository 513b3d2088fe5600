package model

import (
	"errors"
	"fmt"
)

// Fatal error kinds. Anything matching one of these ends the run.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrImageUnavailable    = errors.New("image unavailable")
	ErrCreation            = errors.New("container creation failed")
	ErrTimeout             = errors.New("execution timed out")
	ErrStream              = errors.New("stream error")
	ErrBusy                = errors.New("server busy")
	ErrCancelled           = errors.New("execution cancelled")
)

// Error ties a cause to the kind and step that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Wrap returns nil when err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fail builds an error of the given kind with no underlying cause.
func Fail(kind error, op string) error {
	return &Error{Kind: kind, Op: op}
}

var outcomes = []struct {
	kind    error
	outcome Outcome
}{
	{ErrUnsupportedLanguage, OutcomeUnsupportedLanguage},
	{ErrImageUnavailable, OutcomeImageUnavailable},
	{ErrCreation, OutcomeCreationFailed},
	{ErrTimeout, OutcomeTimedOut},
	{ErrStream, OutcomeStreamError},
	{ErrBusy, OutcomeServerBusy},
	{ErrCancelled, OutcomeCancelled},
}

// OutcomeOf maps err to the outcome reported to callers. Errors of no
// known kind are reported as stream errors since they surfaced while
// talking to the runtime.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}
	for _, o := range outcomes {
		if errors.Is(err, o.kind) {
			return o.outcome
		}
	}
	return OutcomeStreamError
}
