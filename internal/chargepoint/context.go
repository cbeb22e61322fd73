package chargepoint

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/registry"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/rpc"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/transport"
)

// Context owns Connection, Model, OperationRegistry, and RequestQueue; its
// Loop step is the sole scheduling entry (spec section 4.8): advance
// transport, advance pre-boot queue if present else main queue, advance
// model.
type Context struct {
	Conn     transport.Connection
	Registry *registry.Registry
	PreBoot  *reqqueue.Queue
	Main     *reqqueue.Queue
	Model    *Model
	Clock    *clock.Clock

	maxFrameBytes int

	deferredConfirmations []deferredConfirmation

	log zerolog.Logger
}

// New wires a Context. transport, registry and the two queues are
// constructed by the caller (they need the same Connection/Store
// instances the Model's emitters reference) and handed in fully formed.
func New(conn transport.Connection, reg *registry.Registry, preBoot, main *reqqueue.Queue, model *Model, clk *clock.Clock) *Context {
	return &Context{
		Conn:          conn,
		Registry:      reg,
		PreBoot:       preBoot,
		Main:          main,
		Model:         model,
		Clock:         clk,
		maxFrameBytes: 64 * 1024,
		log:           log.With().Str("component", "context").Logger(),
	}
}

// Loop advances one tick: transport, the active queue, then the model
// (spec section 4.8). It never blocks.
func (ctx *Context) Loop() {
	now := time.Now()

	ctx.Conn.Poll(ctx.handleFrame)
	ctx.pollDeferredConfirmations()

	if ctx.PreBootActive() && ctx.PreBoot != nil {
		ctx.PreBoot.Poll(now)
	} else {
		ctx.Main.Poll(now)
	}

	ctx.Model.Poll(now, ctx.Conn.LastRecvTickMs())
}

// PreBootActive reports whether pre-boot still gates outbound traffic
// (spec section 4.8: "pre-boot strictly precedes main").
func (ctx *Context) PreBootActive() bool {
	return ctx.Model.Boot != nil && !ctx.Model.Boot.Accepted()
}

// handleFrame decodes one inbound text frame and dispatches it to either
// the operation registry (Call) or the active queue's correlator
// (CallResult/CallError) — spec section 4.1's data-flow summary.
func (ctx *Context) handleFrame(data []byte) {
	frame, id, err := rpc.Decode(data, ctx.maxFrameBytes)
	if err != nil {
		if rpcErr, ok := err.(*ocpperr.RPCError); ok && id != "" {
			out, encErr := rpc.EncodeCallError(id, rpcErr.Code, rpcErr.Description, rpcErr.Details)
			if encErr == nil {
				ctx.Conn.SendText(out)
			}
		}
		ctx.log.Warn().Err(err).Msg("failed to decode inbound frame")
		return
	}

	switch {
	case frame.Call != nil:
		ctx.handleCall(frame.Call)
	case frame.CallResult != nil:
		ctx.routeReply(frame.CallResult.ID, frame.CallResult.Payload, nil)
	case frame.CallError != nil:
		rpcErr := ocpperr.NewRPCError(frame.CallError.Code, frame.CallError.Description, frame.CallError.Details)
		ctx.routeReply(frame.CallError.ID, nil, rpcErr)
	}
}

func (ctx *Context) routeReply(id string, payload []byte, rpcErr *ocpperr.RPCError) {
	if ctx.PreBoot != nil && ctx.PreBoot.HandleReply(id, payload, rpcErr) {
		return
	}
	if ctx.Main.HandleReply(id, payload, rpcErr) {
		return
	}
	ctx.log.Debug().Str("id", id).Msg("reply did not match any in-flight request")
}

func (ctx *Context) handleCall(call *rpc.Call) {
	h, _ := ctx.Registry.Deserialize(call.Action)
	rpcErr := h.HandleCall(call.Payload)
	ctx.Registry.RunRequestHook(call.Action, call.Payload)
	if rpcErr != nil {
		out, err := rpc.EncodeCallError(call.ID, rpcErr.Code, rpcErr.Description, rpcErr.Details)
		if err == nil {
			ctx.Conn.SendText(out)
		}
		return
	}
	ctx.pollConfirmation(call, h)
}

// pollConfirmation drains a Handler's BuildConfirmation once per Loop tick
// until it stops reporting pending, mirroring the source's nullptr-return
// coroutine model as a polled Pending variant (design note, spec section
// 9). Handlers that never defer resolve on the first call.
func (ctx *Context) pollConfirmation(call *rpc.Call, h registry.Handler) {
	resp, pending, rpcErr := h.BuildConfirmation()
	if pending {
		// Re-poll on the next Loop tick by appending to the Context's
		// deferredConfirmations list; simple handlers never hit
		// this path (SimpleHandler.BuildConfirmation always returns
		// pending=false), so this is wired for exactly the deferred case.
		ctx.deferredConfirmations = append(ctx.deferredConfirmations, deferredConfirmation{call: call, handler: h})
		return
	}
	ctx.sendConfirmation(call.ID, call.Action, resp, rpcErr)
}

type deferredConfirmation struct {
	call    *rpc.Call
	handler registry.Handler
}

// pollDeferredConfirmations retries every Handler that previously returned
// pending=true from BuildConfirmation, one poll per Loop tick (spec
// section 5's "Suspension points").
func (ctx *Context) pollDeferredConfirmations() {
	if len(ctx.deferredConfirmations) == 0 {
		return
	}
	remaining := ctx.deferredConfirmations[:0]
	for _, dc := range ctx.deferredConfirmations {
		resp, pending, rpcErr := dc.handler.BuildConfirmation()
		if pending {
			remaining = append(remaining, dc)
			continue
		}
		ctx.sendConfirmation(dc.call.ID, dc.call.Action, resp, rpcErr)
	}
	ctx.deferredConfirmations = remaining
}

func (ctx *Context) sendConfirmation(id, action string, resp interface{}, rpcErr *ocpperr.RPCError) {
	if rpcErr != nil {
		out, err := rpc.EncodeCallError(id, rpcErr.Code, rpcErr.Description, rpcErr.Details)
		if err == nil {
			ctx.Conn.SendText(out)
		}
		return
	}
	if payload, err := json.Marshal(resp); err == nil {
		ctx.Registry.RunResponseHook(action, payload)
	}
	out, err := rpc.EncodeCallResult(id, resp)
	if err != nil {
		ctx.log.Error().Err(err).Msg("failed to encode confirmation")
		return
	}
	ctx.Conn.SendText(out)
}
