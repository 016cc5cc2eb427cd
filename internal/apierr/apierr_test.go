package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := ClusterUnreachablef(cause, "reaching cluster %s", "lab1")
	assert.Equal(t, "ClusterUnreachable: reaching cluster lab1: dial tcp: timeout", err.Error())
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	err := NotFoundf("class %d not found", 42)
	assert.Equal(t, "NotFound: class 42 not found", err.Error())
}

func TestAsExtractsTypedError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidInputf("bad vmid"))
	typed, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, InvalidInput, typed.Kind)
}

func TestKindOfDefaultsToIntegrityViolationForUntypedErrors(t *testing.T) {
	assert.Equal(t, IntegrityViolation, KindOf(errors.New("boom")))
	assert.Equal(t, NotFound, KindOf(NotFoundf("missing")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := CommandFailedf(cause, "running qm clone")
	assert.ErrorIs(t, err, cause)
}
