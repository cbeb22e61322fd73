package rpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
)

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	data, err := EncodeCall("abc-123", "Heartbeat", struct{}{})
	require.NoError(t, err)

	frame, id, err := Decode(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
	require.NotNil(t, frame.Call)
	assert.Equal(t, "Heartbeat", frame.Call.Action)
}

func TestDecodeCallResult(t *testing.T) {
	data, err := EncodeCallResult("id-1", map[string]string{"status": "Accepted"})
	require.NoError(t, err)

	frame, id, err := Decode(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	require.NotNil(t, frame.CallResult)
}

func TestDecodeCallError(t *testing.T) {
	data, err := EncodeCallError("id-2", "FormationViolation", "bad", nil)
	require.NoError(t, err)

	frame, id, err := Decode(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "id-2", id)
	require.NotNil(t, frame.CallError)
	assert.Equal(t, "FormationViolation", frame.CallError.Code)
}

func TestDecodeRejectsOversizedMessage(t *testing.T) {
	data, err := EncodeCall("id-3", "Heartbeat", struct{}{})
	require.NoError(t, err)

	_, id, err := Decode(data, 4)
	require.Error(t, err)
	assert.Equal(t, "id-3", id, "the id must still be recovered so a CallError can be correlated back")

	rpcErr, ok := err.(*ocpperr.RPCError)
	require.True(t, ok)
	details, ok := rpcErr.Details.(map[string]int)
	require.True(t, ok)
	assert.Equal(t, len(data), details["msg_length"])
	assert.Equal(t, 4, details["max_capacity"])
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	_, _, err := Decode([]byte(`not json`), 0)
	require.Error(t, err)
}

func TestDecodeRejectsOversizedID(t *testing.T) {
	longID := strings.Repeat("a", MaxIDLength+1)
	data, err := EncodeCall(longID, "Heartbeat", struct{}{})
	require.NoError(t, err)

	_, _, err = Decode(data, 0)
	require.Error(t, err)
}

func TestNewIDIsUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
}
