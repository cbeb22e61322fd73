// Package heartbeat implements the idle-gap Heartbeat emitter: it
// generalizes the source's ticker-driven StartHeartbeatLoop
// (charger/heartbeat.go) into a poll-driven emitter that skips a
// heartbeat whenever any other traffic has been received recently enough
// to prove liveness (spec section 6.1: "last_recv_tick_ms — used by
// heartbeat to skip redundant pings").
package heartbeat

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
)

// Service submits Heartbeat at most once per interval, and only when
// nothing has been received more recently than the interval.
type Service struct {
	action     string
	intervalS  int
	queue      *reqqueue.Queue
	lastRecvMs func() uint64

	lastSent   time.Time
	inFlight   bool
	seenRecvMs uint64    // last value read from lastRecvMs
	lastRecvAt time.Time // when lastRecvMs was last seen to change

	onReply          func(currentTime string)
	parseCurrentTime func(json.RawMessage) (string, error)

	log zerolog.Logger
}

// New creates a Service with the given starting interval (overridden by
// SetIntervalS once BootNotification negotiates one).
func New(action string, intervalS int, queue *reqqueue.Queue, lastRecvMs func() uint64, onReply func(string)) *Service {
	return &Service{
		action:     action,
		intervalS:  intervalS,
		queue:      queue,
		lastRecvMs: lastRecvMs,
		onReply:    onReply,
		log:        log.With().Str("component", "heartbeat").Logger(),
	}
}

// SetIntervalS updates the cadence (spec section 4.7: "adopts the
// server-provided heartbeatInterval").
func (s *Service) SetIntervalS(intervalS int) {
	if intervalS > 0 {
		s.intervalS = intervalS
	}
}

// SetParser installs the version-specific currentTime decoder, supplied by
// the ocpp/v16 or ocpp/v201 wire-translation layer so this package stays
// protocol-version agnostic.
func (s *Service) SetParser(parseCurrentTime func(json.RawMessage) (string, error)) {
	s.parseCurrentTime = parseCurrentTime
}

// Poll submits a Heartbeat if due, decoding the confirmation's currentTime
// field (if a parser was installed via SetParser) for the clock to sync
// against.
func (s *Service) Poll(now time.Time, nowTickMs uint64) {
	if s.lastRecvMs != nil {
		if r := s.lastRecvMs(); r != s.seenRecvMs {
			s.seenRecvMs = r
			s.lastRecvAt = now
		}
	}
	if s.intervalS <= 0 || s.inFlight {
		return
	}
	last := s.lastSent
	if s.lastRecvAt.After(last) {
		last = s.lastRecvAt
	}
	if !last.IsZero() && now.Sub(last) < time.Duration(s.intervalS)*time.Second {
		return
	}

	s.inFlight = true
	s.lastSent = now

	s.queue.EnqueueVolatile(&reqqueue.Request{
		Action:  s.action,
		Timeout: reqqueue.OfflineSensitive,
		Build: func() reqqueue.PayloadResult {
			return reqqueue.PayloadResult{Payload: struct{}{}}
		},
		OnReply: func(payload json.RawMessage) {
			s.inFlight = false
			if s.parseCurrentTime == nil || s.onReply == nil {
				return
			}
			currentTime, err := s.parseCurrentTime(payload)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to parse Heartbeat response")
				return
			}
			s.onReply(currentTime)
		},
		OnError: func(rpcErr *ocpperr.RPCError) bool {
			s.inFlight = false
			s.log.Warn().Err(rpcErr).Msg("heartbeat failed")
			return true
		},
	})
}
