// Package reqqueue implements the outgoing request queue of spec section
// 4.4: at-most-one-in-flight FIFO fed by round-robin emitters, exponential
// back-off on transport failure, fixed/offline-sensitive timeouts,
// pre-boot gating, and drop_if cancellation. It replaces the source's
// goroutine-per-call wait (one channel per uuid, blocking select) with a
// single poll-driven head slot, since the whole runtime is one cooperative
// loop (design note, spec section 9).
package reqqueue

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/rpc"
)

// TimeoutPolicy selects how a request's deadline accumulates (spec section
// 4.4 step 5).
type TimeoutPolicy int

const (
	// Fixed counts wall time since the first send attempt.
	Fixed TimeoutPolicy = iota
	// OfflineSensitive only accumulates while the transport is believed
	// healthy; it pauses across back-off.
	OfflineSensitive
)

const (
	// BackoffInitial is the starting back-off period on transport failure.
	BackoffInitial = 1 * time.Second
	// BackoffMax is the back-off ceiling; it doubles from Initial to Max
	// and resets on any successful send (spec section 4.4 step 3).
	BackoffMax = 5 * time.Minute

	defaultTimeout = 30 * time.Second
)

// Transport is the minimal send surface the queue needs; it is satisfied
// by internal/transport.Connection.
type Transport interface {
	SendText(data []byte) error
	Connected() bool
}

// PayloadResult is what an emitter's builder returns for one request
// attempt.
type PayloadResult struct {
	Payload interface{}
	Pending bool // true defers this tick; the queue retries next tick
}

// Request is one logical outbound Call (spec section 4.4's "Request"
// glossary entry). The queue owns it from Enqueue until its response or
// error callback has run.
type Request struct {
	Action  string
	Build   func() PayloadResult
	OnReply func(payload json.RawMessage)
	// OnError is invoked on CallError or timeout; returning true means
	// "abort" (advance store, drop), false means "retry" (re-enqueue at
	// head).
	OnError func(rpcErr *ocpperr.RPCError) (abort bool)

	Persistent      bool
	PreBootEligible bool
	Timeout         TimeoutPolicy
	TimeoutDuration time.Duration

	OpNr    reqstore.OpNr
	HasOpNr bool

	// DropPredicate, if set, is checked by drop_if sweeps; a request that
	// matches is removed unless it is already the head (spec section 4.4
	// "Cancellation").
	DropPredicate func() bool
}

// Emitter supplies Requests to the queue in OpNr order. The queue asks each
// emitter, round-robin, for its front OpNr (spec section 4.4 step 1).
type Emitter interface {
	Name() string
	// FrontOpNr returns the OpNr of the emitter's oldest pending request,
	// if any.
	FrontOpNr() (reqstore.OpNr, bool)
	// TakeFront removes and returns the emitter's oldest pending request.
	TakeFront() *Request
}

type headState struct {
	req        *Request
	id         string
	sentAt     time.Time
	deadline   time.Time
	accumAt    time.Time // offline-sensitive: last tick timeout counting resumed
	emitterIdx int
}

// Queue is one logical FIFO: either the pre-boot queue or the main queue
// (spec section 4.4, 4.6: "one is active at a time").
type Queue struct {
	name      string
	transport Transport
	store     *reqstore.Store
	emitters  []Emitter
	rrCursor  int

	head *headState

	backoffState *backoff.ExponentialBackOff
	inBackoff    bool
	backoffUntil time.Time

	gateOpen bool // true once pre-boot is no longer required (main queue only)
	isPreBoot bool

	volatileTail []*Request // non-persistent requests already built and queued

	log zerolog.Logger
}

// New creates a Queue. isPreBoot marks the pre-boot queue, which is always
// gate-open and so admits every request it is given.
func New(name string, transport Transport, store *reqstore.Store, isPreBoot bool) *Queue {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BackoffInitial
	b.MaxInterval = BackoffMax
	b.MaxElapsedTime = 0 // never stop retrying; the queue owns the policy
	b.Reset()
	return &Queue{
		name:         name,
		transport:    transport,
		store:        store,
		backoffState: b,
		gateOpen:     isPreBoot,
		isPreBoot:    isPreBoot,
		log:          log.With().Str("component", "reqqueue").Str("queue", name).Logger(),
	}
}

// AddEmitter registers an emitter in round-robin order.
func (q *Queue) AddEmitter(e Emitter) {
	q.emitters = append(q.emitters, e)
}

// OpenGate allows non-pre-boot-eligible requests to flow (spec section 4.4
// "Pre-boot gating": "The boot service flips the gate on Accepted").
func (q *Queue) OpenGate() {
	q.gateOpen = true
}

// EnqueueVolatile admits a non-persistent request directly, bypassing the
// emitter round-robin (used for direct user submissions, spec section
// 4.4's "Model").
func (q *Queue) EnqueueVolatile(r *Request) {
	q.volatileTail = append(q.volatileTail, r)
}

// DropIf removes tail requests matching pred from volatile submissions and
// asks every emitter nothing (emitters are responsible for their own
// drop_if if they hold persistent requests); dropping the head is deferred
// until it completes (spec section 4.4 "Cancellation").
func (q *Queue) DropIf(pred func(*Request) bool) {
	kept := q.volatileTail[:0]
	for _, r := range q.volatileTail {
		if pred(r) || (r.DropPredicate != nil && r.DropPredicate()) {
			continue
		}
		kept = append(kept, r)
	}
	q.volatileTail = kept
}

// Poll advances the queue by one tick (spec section 4.4's "Operation
// cycle"). It is driven by the Context's single loop() entry (spec
// section 4.6).
func (q *Queue) Poll(now time.Time) {
	if q.inBackoff {
		if now.Before(q.backoffUntil) {
			return
		}
		q.inBackoff = false
	}

	if q.head == nil {
		if !q.fillHead(now) {
			return
		}
	}

	h := q.head
	if h.req.Build == nil {
		q.sendHead(now)
		return
	}
	if h.id == "" {
		pr := h.req.Build()
		if pr.Pending {
			return // release the turn; retry next tick (spec step 2)
		}
		q.sendHeadWithPayload(now, pr.Payload)
		return
	}

	q.checkTimeout(now)
}

// fillHead picks the emitter whose front OpNr has the largest wrap-aware
// distance back from the store's opEnd, i.e. the oldest OpNr, taking the
// first in round-robin order on ties and skipping empty emitters (spec section 4.4
// step 1). Volatile (non-persistent, directly submitted) requests are
// tried first in FIFO order since they carry no OpNr to compare.
func (q *Queue) fillHead(now time.Time) bool {
	if len(q.volatileTail) > 0 {
		req := q.volatileTail[0]
		if q.admissible(req) {
			q.volatileTail = q.volatileTail[1:]
			q.head = &headState{req: req}
			return true
		}
	}

	if len(q.emitters) == 0 {
		return false
	}

	best := -1
	bestDist := -1
	bestOpNr := reqstore.OpNr(0)
	n := len(q.emitters)
	for i := 0; i < n; i++ {
		idx := (q.rrCursor + i) % n
		opNr, ok := q.emitters[idx].FrontOpNr()
		if !ok {
			continue
		}
		dist := reqstore.Distance(q.store.OpEnd(), opNr)
		if best == -1 || dist > bestDist {
			best = idx
			bestDist = dist
			bestOpNr = opNr
		}
	}
	_ = bestOpNr
	if best == -1 {
		return false
	}
	req := q.emitters[best].TakeFront()
	if req == nil || !q.admissible(req) {
		return false
	}
	q.rrCursor = (best + 1) % n
	q.head = &headState{req: req, emitterIdx: best}
	return true
}

// admissible applies pre-boot gating (spec section 4.4 "Pre-boot gating").
func (q *Queue) admissible(r *Request) bool {
	if q.gateOpen {
		return true
	}
	return r.PreBootEligible
}

func (q *Queue) sendHead(now time.Time) {
	q.sendHeadWithPayload(now, struct{}{})
}

func (q *Queue) sendHeadWithPayload(now time.Time, payload interface{}) {
	h := q.head
	id := rpc.NewID()
	data, err := rpc.EncodeCall(id, h.req.Action, payload)
	if err != nil {
		q.log.Error().Err(err).Str("action", h.req.Action).Msg("failed to encode call")
		q.completeHead(nil, ocpperr.NewRPCError(ocpperr.CodeInternalError, err.Error(), nil))
		return
	}
	if err := q.transport.SendText(data); err != nil {
		q.enterBackoff(now)
		return
	}
	q.backoffState.Reset()
	h.id = id
	h.sentAt = now
	timeout := h.req.TimeoutDuration
	if timeout == 0 {
		timeout = defaultTimeout
	}
	h.deadline = now.Add(timeout)
	h.accumAt = now
}

func (q *Queue) enterBackoff(now time.Time) {
	q.inBackoff = true
	q.backoffUntil = now.Add(q.backoffState.NextBackOff())
	q.log.Warn().Time("until", q.backoffUntil).Msg("transport send failed, entering back-off")
}

func (q *Queue) checkTimeout(now time.Time) {
	h := q.head
	if h.req.Timeout == OfflineSensitive && !q.transport.Connected() {
		// Paused: push the deadline forward by the elapsed gap so offline
		// time never counts (spec section 4.4 step 5).
		h.deadline = h.deadline.Add(now.Sub(h.accumAt))
		h.accumAt = now
		return
	}
	h.accumAt = now
	if now.Before(h.deadline) {
		return
	}
	q.completeHead(nil, ocpperr.NewRPCError(ocpperr.CodeGenericError, "request timed out", nil))
}

// HandleReply matches an inbound CallResult/CallError against the head by
// id (spec section 4.4 step 4). It returns true if the reply was
// consumed.
func (q *Queue) HandleReply(id string, result json.RawMessage, callErr *ocpperr.RPCError) bool {
	if q.head == nil || q.head.id == "" || q.head.id != id {
		return false
	}
	q.completeHead(result, callErr)
	return true
}

func (q *Queue) completeHead(result json.RawMessage, callErr *ocpperr.RPCError) {
	h := q.head
	if callErr != nil {
		abort := true
		if h.req.OnError != nil {
			abort = h.req.OnError(callErr)
		}
		if !abort {
			h.id = ""
			return // retry: keep head, re-send next tick
		}
	} else if h.req.OnReply != nil {
		h.req.OnReply(result)
	}

	if h.req.Persistent && h.req.HasOpNr {
		if err := q.store.Advance(h.req.OpNr); err != nil {
			q.log.Error().Err(err).Msg("failed to advance request store")
		}
	}
	q.head = nil
}

// HeadAction reports the action name of the in-flight request, for
// diagnostics and tests.
func (q *Queue) HeadAction() (string, bool) {
	if q.head == nil {
		return "", false
	}
	return q.head.req.Action, true
}

// Idle reports whether the queue has no head and nothing pending.
func (q *Queue) Idle() bool {
	if q.head != nil || len(q.volatileTail) > 0 {
		return false
	}
	for _, e := range q.emitters {
		if _, ok := e.FrontOpNr(); ok {
			return false
		}
	}
	return true
}
