// Package registry implements the operation registry of spec section 4.2:
// a name -> factory table for incoming Calls, replacing the source's deep
// inheritance of Operation subclasses with a tagged sum of action kinds
// (design note, spec section 9).
package registry

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
)

// Handler processes one inbound Call for a registered action. HandleCall is
// invoked exactly once with the decoded payload; BuildConfirmation is then
// polled once per loop tick until it reports pending=false, mirroring the
// PollResult<T> Ready/Await model the source expresses as nullptr-return
// coroutines (design note, spec section 9). Most handlers complete
// immediately — see SimpleHandler.
type Handler interface {
	HandleCall(payload json.RawMessage) *ocpperr.RPCError
	BuildConfirmation() (response interface{}, pending bool, rpcErr *ocpperr.RPCError)
}

// SimpleHandler adapts a single-shot (action, confirmation) function pair
// into a Handler that never defers, for the common case (design note's
// SimpleRequestFactory equivalent).
type SimpleHandler struct {
	Handle func(payload json.RawMessage) (response interface{}, rpcErr *ocpperr.RPCError)

	response interface{}
	rpcErr   *ocpperr.RPCError
}

func (h *SimpleHandler) HandleCall(payload json.RawMessage) *ocpperr.RPCError {
	h.response, h.rpcErr = h.Handle(payload)
	return h.rpcErr
}

func (h *SimpleHandler) BuildConfirmation() (interface{}, bool, *ocpperr.RPCError) {
	return h.response, false, h.rpcErr
}

// Factory constructs a fresh Handler for one inbound Call.
type Factory func() Handler

// Hook runs after a handler's own processing and before the reply is
// framed (spec section 4.2).
type Hook func(payload json.RawMessage)

// Registry is the name -> factory map. register replaces any existing
// entry for the same action (spec section 4.2).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	onRequest map[string]Hook
	onResp    map[string]Hook
	log       zerolog.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		onRequest: make(map[string]Hook),
		onResp:    make(map[string]Hook),
		log:       log.With().Str("component", "registry").Logger(),
	}
}

// Register installs (or replaces) the factory for action.
func (r *Registry) Register(action string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[action] = f
}

// OnRequest attaches a pre-reply hook invoked with the raw inbound payload.
func (r *Registry) OnRequest(action string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRequest[action] = h
}

// OnResponse attaches a pre-reply hook invoked with the raw outbound
// confirmation payload once it's ready.
func (r *Registry) OnResponse(action string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResp[action] = h
}

// Deserialize constructs a Handler for action. If the action was never
// registered, it returns a Handler pre-bound to a NotImplemented error
// (spec section 4.2), with ok=false.
func (r *Registry) Deserialize(action string) (h Handler, ok bool) {
	r.mu.RLock()
	f, found := r.factories[action]
	r.mu.RUnlock()

	if !found {
		r.log.Debug().Str("action", action).Msg("no handler registered")
		return &SimpleHandler{Handle: func(json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return nil, ocpperr.NewRPCError(ocpperr.CodeNotImplemented, "action not implemented: "+action, nil)
		}}, false
	}
	return f(), true
}

// RunRequestHook invokes the on_request hook for action, if any.
func (r *Registry) RunRequestHook(action string, payload json.RawMessage) {
	r.mu.RLock()
	h, ok := r.onRequest[action]
	r.mu.RUnlock()
	if ok {
		h(payload)
	}
}

// RunResponseHook invokes the on_response hook for action, if any.
func (r *Registry) RunResponseHook(action string, payload json.RawMessage) {
	r.mu.RLock()
	h, ok := r.onResp[action]
	r.mu.RUnlock()
	if ok {
		h(payload)
	}
}
