// Package rpc implements the JSON-RPC framing and correlation layer shared
// by OCPP 1.6-J and 2.0.1: encode/decode of Call/CallResult/CallError
// envelopes, id correlation, and the buffer-size/validation errors of spec
// section 4.1.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
)

// Message type discriminants (spec section 4.1).
const (
	TypeCall       = 2
	TypeCallResult = 3
	TypeCallError  = 4
)

// MaxIDLength is the maximum length of an inbound unique id (spec section
// 4.1: "ASCII, <= 36 chars").
const MaxIDLength = 36

// Call is a decoded or to-be-encoded [2, id, action, payload] frame.
type Call struct {
	ID      string
	Action  string
	Payload json.RawMessage
}

// CallResult is a decoded or to-be-encoded [3, id, payload] frame.
type CallResult struct {
	ID      string
	Payload json.RawMessage
}

// CallError is a decoded or to-be-encoded [4, id, code, description,
// details] frame.
type CallError struct {
	ID          string
	Code        string
	Description string
	Details     json.RawMessage
}

// NewID generates an outbound RPC id. Ids must be unique among in-flight
// outbound Calls (spec section 4.1); a UUIDv4 trivially satisfies that.
func NewID() string {
	return uuid.NewString()
}

// EncodeCall serializes a Call frame: [2, id, action, payload].
func EncodeCall(id, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([4]interface{}{TypeCall, id, action, payload})
}

// EncodeCallResult serializes a CallResult frame: [3, id, payload].
func EncodeCallResult(id string, payload interface{}) ([]byte, error) {
	return json.Marshal([3]interface{}{TypeCallResult, id, payload})
}

// EncodeCallError serializes a CallError frame: [4, id, code, desc, details].
func EncodeCallError(id, code, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	return json.Marshal([5]interface{}{TypeCallError, id, code, description, details})
}

// Frame is the result of decoding one inbound message: exactly one of
// Call, CallResult, CallError is non-nil. Decode reports failures through
// its error result instead of a Frame.
type Frame struct {
	Call       *Call
	CallResult *CallResult
	CallError  *CallError
}

// Decode parses a raw inbound message into a Frame, enforcing the maximum
// buffer size and the shape validations of spec section 4.1. On a
// formation violation or oversized message, Decode returns a non-nil
// *ocpperr.RPCError describing the CallError the caller must send back. The
// id is recovered from the envelope before the size check so a CallError
// can still be correlated back to the caller even when the message is
// rejected for being oversized (spec section 4.1's GenericError/msg_length
// testable property); it is empty only when the envelope itself could not
// be parsed far enough to find one.
func Decode(data []byte, maxBytes int) (*Frame, string, error) {
	var raw []json.RawMessage
	_ = json.Unmarshal(data, &raw)

	var id string
	var idOK bool
	if len(raw) >= 2 {
		if err := json.Unmarshal(raw[1], &id); err == nil && len(id) <= MaxIDLength {
			idOK = true
		}
	}
	if !idOK {
		id = ""
	}

	if maxBytes > 0 && len(data) > maxBytes {
		return nil, id, ocpperr.NewRPCError(ocpperr.CodeGenericError, "message exceeds buffer cap", map[string]int{
			"max_capacity": maxBytes,
			"msg_length":   len(data),
		})
	}

	if len(raw) < 3 {
		return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "malformed envelope", nil)
	}

	var msgType int
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "malformed message type", nil)
	}

	if !idOK {
		return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "malformed or oversized id", nil)
	}

	switch msgType {
	case TypeCall:
		if len(raw) != 4 {
			return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "Call requires 4 elements", nil)
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "malformed action", nil)
		}
		return &Frame{Call: &Call{ID: id, Action: action, Payload: raw[3]}}, id, nil

	case TypeCallResult:
		if len(raw) != 3 {
			return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "CallResult requires 3 elements", nil)
		}
		return &Frame{CallResult: &CallResult{ID: id, Payload: raw[2]}}, id, nil

	case TypeCallError:
		if len(raw) != 5 {
			return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "CallError requires 5 elements", nil)
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, "malformed error code", nil)
		}
		_ = json.Unmarshal(raw[3], &desc)
		return &Frame{CallError: &CallError{ID: id, Code: code, Description: desc, Details: raw[4]}}, id, nil

	default:
		return nil, id, ocpperr.NewRPCError(ocpperr.CodeFormationViolation, fmt.Sprintf("unknown frame kind %d", msgType), nil)
	}
}
