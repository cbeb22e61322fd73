// Package ocpperr defines the error taxonomy shared by every runtime package.
//
// Errors are plain values wrapped with %w so callers can use errors.Is/As to
// tell transport hiccups (recovered internally) apart from protocol errors
// (surfaced to the originating handler) per spec section 7.
package ocpperr

import "fmt"

// Sentinel errors for errors.Is matching. Each corresponds to one row of the
// error-kinds table.
var (
	// ErrTransportTransient marks a send/receive failure that should trigger
	// queue back-off rather than surface to the user.
	ErrTransportTransient = fmt.Errorf("ocpp: transport transient failure")

	// ErrTimeout marks a request that was not answered within its timeout
	// policy window.
	ErrTimeout = fmt.Errorf("ocpp: request timed out")

	// ErrHandlerValidation marks a handler that rejected an incoming Call;
	// it becomes an outbound CallError with the code the handler chose.
	ErrHandlerValidation = fmt.Errorf("ocpp: handler validation failed")

	// ErrPersistenceFailure marks a filesystem write rejection. It is
	// logged and the request is demoted to volatile; it never aborts a
	// request in flight.
	ErrPersistenceFailure = fmt.Errorf("ocpp: persistence failure")

	// ErrBootRejected marks a Rejected BootNotification registration
	// status. Traffic stays gated; visible via registration status.
	ErrBootRejected = fmt.Errorf("ocpp: boot rejected")
)

// RPC error codes as used by CallError (spec section 4.1, 6.2, 7).
const (
	CodeNotImplemented               = "NotImplemented"
	CodeFormationViolation           = "FormationViolation"
	CodePropertyConstraintViolation  = "PropertyConstraintViolation"
	CodeOccurenceConstraintViolation = "OccurenceConstraintViolation"
	CodeGenericError                 = "GenericError"
	CodeSecurityError                = "SecurityError"
	CodeInternalError                = "InternalError"
)

// RPCError wraps a CallError received from the CSMS (or constructed locally
// to send one). Code is one of the Code* constants above.
type RPCError struct {
	Code        string
	Description string
	Details     interface{}
}

func (e *RPCError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("ocpp: rpc error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("ocpp: rpc error %s", e.Code)
}

// Is allows errors.Is(err, &ocpperr.RPCError{Code: ...}) style comparisons by
// code only (Description/Details are informational).
func (e *RPCError) Is(target error) bool {
	other, ok := target.(*RPCError)
	if !ok {
		return false
	}
	return other.Code == "" || other.Code == e.Code
}

// NewRPCError builds an RPCError with the given code and description.
func NewRPCError(code, description string, details interface{}) *RPCError {
	return &RPCError{Code: code, Description: description, Details: details}
}
