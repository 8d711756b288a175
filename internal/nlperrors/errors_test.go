package nlperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunFailedErrorUnwrapsToSentinel(t *testing.T) {
	err := &RunFailedError{WorkDir: "/tmp/run_001", Attempts: 3, Missing: []string{"out.dat"}}
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "/tmp/run_001")
	assert.Contains(t, err.Error(), "out.dat")
}

func TestRunFailedErrorReportsNoneWhenNothingMissing(t *testing.T) {
	err := &RunFailedError{WorkDir: "/tmp/run_002", Attempts: 1}
	assert.Contains(t, err.Error(), "(none)")
}

func TestSolverOutputErrUnwrapsToSentinel(t *testing.T) {
	inner := errors.New("label not found")
	err := &SolverOutputErr{Path: "out.dat", Err: inner}
	assert.ErrorIs(t, err, ErrSolverOutputError)
	assert.Contains(t, err.Error(), "out.dat")
}
