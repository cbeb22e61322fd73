package ocpperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRPCErrorFields(t *testing.T) {
	e := NewRPCError(CodePropertyConstraintViolation, "bad key", map[string]string{"key": "X"})
	assert.Equal(t, CodePropertyConstraintViolation, e.Code)
	assert.Equal(t, "bad key", e.Description)
	assert.Contains(t, e.Error(), CodePropertyConstraintViolation)
	assert.Contains(t, e.Error(), "bad key")
}

func TestErrorWithoutDescriptionOmitsColon(t *testing.T) {
	e := NewRPCError(CodeInternalError, "", nil)
	assert.Equal(t, "ocpp: rpc error InternalError", e.Error())
}

func TestIsMatchesByCodeOnly(t *testing.T) {
	e := NewRPCError(CodeGenericError, "timed out", nil)
	target := &RPCError{Code: CodeGenericError}
	assert.True(t, errors.Is(e, target))

	other := &RPCError{Code: CodeSecurityError}
	assert.False(t, errors.Is(e, other))
}

func TestIsWithEmptyCodeMatchesAny(t *testing.T) {
	e := NewRPCError(CodeFormationViolation, "", nil)
	assert.True(t, errors.Is(e, &RPCError{}))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrTimeout, ErrTransportTransient))
	assert.True(t, errors.Is(ErrTimeout, ErrTimeout))
}
