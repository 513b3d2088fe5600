package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapMatchesKind(t *testing.T) {
	cause := errors.New("no such image")
	err := Wrap(ErrImageUnavailable, "pull python:3.11-slim", cause)

	assert.ErrorIs(t, err, ErrImageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrCreation)
	assert.Equal(t, "pull python:3.11-slim: image unavailable: no such image", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ErrCreation, "create", nil))
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeCompleted},
		{Fail(ErrTimeout, "run"), OutcomeTimedOut},
		{fmt.Errorf("engine: %w", Fail(ErrBusy, "admit")), OutcomeServerBusy},
		{Wrap(ErrCreation, "create", errors.New("boom")), OutcomeCreationFailed},
		{Fail(ErrUnsupportedLanguage, "lookup"), OutcomeUnsupportedLanguage},
		{Fail(ErrCancelled, "run"), OutcomeCancelled},
		{ErrStream, OutcomeStreamError},
		{errors.New("unexpected"), OutcomeStreamError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutcomeOf(tt.err), "%v", tt.err)
	}
}

func TestReportSucceeded(t *testing.T) {
	r := Report{Outcome: OutcomeCompleted}
	assert.False(t, r.Succeeded())

	r.ExitCode = IntPtr(0)
	assert.True(t, r.Succeeded())

	r.ExitCode = IntPtr(1)
	assert.False(t, r.Succeeded())
}
