package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
)

func TestDeserializeUnregisteredActionReturnsNotImplemented(t *testing.T) {
	r := New()
	h, ok := r.Deserialize("UnknownAction")
	assert.False(t, ok)

	rpcErr := h.HandleCall(json.RawMessage(`{}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, ocpperr.CodeNotImplemented, rpcErr.Code)
}

func TestRegisterAndDeserializeRunsHandler(t *testing.T) {
	r := New()
	r.Register("Reset", func() Handler {
		return &SimpleHandler{Handle: func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return map[string]string{"status": "Accepted"}, nil
		}}
	})

	h, ok := r.Deserialize("Reset")
	require.True(t, ok)
	require.Nil(t, h.HandleCall(json.RawMessage(`{"type":"Hard"}`)))

	resp, pending, rpcErr := h.BuildConfirmation()
	assert.False(t, pending)
	assert.Nil(t, rpcErr)
	assert.Equal(t, map[string]string{"status": "Accepted"}, resp)
}

func TestLaterRegisterReplacesEarlierFactory(t *testing.T) {
	r := New()
	r.Register("Reset", func() Handler {
		return &SimpleHandler{Handle: func(json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return "first", nil
		}}
	})
	r.Register("Reset", func() Handler {
		return &SimpleHandler{Handle: func(json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return "second", nil
		}}
	})

	h, ok := r.Deserialize("Reset")
	require.True(t, ok)
	h.HandleCall(json.RawMessage(`{}`))
	resp, _, _ := h.BuildConfirmation()
	assert.Equal(t, "second", resp)
}

func TestRequestAndResponseHooksRun(t *testing.T) {
	r := New()
	var sawRequest, sawResponse json.RawMessage
	r.OnRequest("Heartbeat", func(p json.RawMessage) { sawRequest = p })
	r.OnResponse("Heartbeat", func(p json.RawMessage) { sawResponse = p })

	r.RunRequestHook("Heartbeat", json.RawMessage(`{"a":1}`))
	r.RunResponseHook("Heartbeat", json.RawMessage(`{"b":2}`))

	assert.JSONEq(t, `{"a":1}`, string(sawRequest))
	assert.JSONEq(t, `{"b":2}`, string(sawResponse))

	// Hooks for unregistered actions are simply no-ops.
	r.RunRequestHook("Other", json.RawMessage(`{}`))
}
