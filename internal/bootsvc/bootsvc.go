// Package bootsvc implements the boot sequence of spec section 4.7:
// submitting BootNotification through the pre-boot queue until Accepted,
// honoring the server-negotiated heartbeat interval, and flipping the
// queue's post-boot gate. It generalizes the source's one-shot
// bootNotificationV16/V201 call-and-start-heartbeat-goroutine pair
// (charger/boot.go) into a retryable, poll-driven service that can be
// Rejected/Pending without blocking the loop.
package bootsvc

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
)

// RegistrationStatus is the BootNotification.conf status (spec section 7,
// OCPP 1.6/2.0.1 BootNotificationResponse).
type RegistrationStatus string

const (
	StatusAccepted RegistrationStatus = "Accepted"
	StatusPending  RegistrationStatus = "Pending"
	StatusRejected RegistrationStatus = "Rejected"

	defaultIntervalS = 60
)

// Info is the identity the integrator supplies for BootNotification
// (vendor/model/serial/firmware — spec section 6.2's CiString caps apply
// to these fields).
type Info struct {
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
}

// BuildPayload constructs the version-specific BootNotification request
// body; supplied by the ocpp/v16 or ocpp/v201 wire-translation layer so
// this package stays protocol-version agnostic.
type BuildPayload func(Info) interface{}

// ParseResponse extracts (status, interval, currentTime) from a decoded
// BootNotification.conf payload.
type ParseResponse func(payload json.RawMessage) (status RegistrationStatus, intervalS int, currentTime string, err error)

// Service drives the boot sequence (spec section 4.7).
type Service struct {
	info    Info
	build   BuildPayload
	parse   ParseResponse
	queue   *reqqueue.Queue

	status        RegistrationStatus
	intervalS     int
	nextAttempt   time.Time
	inFlight      bool

	onAccepted func(heartbeatIntervalS int)

	log zerolog.Logger
}

// New creates a Service that submits through queue (the pre-boot queue,
// spec section 4.4). onAccepted is invoked once with the negotiated
// heartbeat interval when the registration status first becomes Accepted.
func New(info Info, build BuildPayload, parse ParseResponse, queue *reqqueue.Queue, onAccepted func(int)) *Service {
	return &Service{
		info:       info,
		build:      build,
		parse:      parse,
		queue:      queue,
		intervalS:  defaultIntervalS,
		onAccepted: onAccepted,
		log:        log.With().Str("component", "bootsvc").Logger(),
	}
}

// Status returns the current registration status (empty until the first
// reply arrives).
func (s *Service) Status() RegistrationStatus { return s.status }

// Accepted reports whether the charger has completed registration.
func (s *Service) Accepted() bool { return s.status == StatusAccepted }

// Poll submits BootNotification when due. Re-submission is spaced by the
// negotiated interval_s, honored even while Pending (spec section 4.7).
func (s *Service) Poll(now time.Time, action string) {
	if s.status == StatusAccepted {
		return
	}
	if s.inFlight {
		return
	}
	if !s.nextAttempt.IsZero() && now.Before(s.nextAttempt) {
		return
	}

	s.inFlight = true
	s.nextAttempt = now.Add(time.Duration(s.intervalS) * time.Second)

	s.queue.EnqueueVolatile(&reqqueue.Request{
		Action:          action,
		PreBootEligible: true,
		Timeout:         reqqueue.Fixed,
		Build: func() reqqueue.PayloadResult {
			return reqqueue.PayloadResult{Payload: s.build(s.info)}
		},
		OnReply: func(payload json.RawMessage) {
			s.inFlight = false
			status, intervalS, _, err := s.parse(payload)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to parse BootNotification response")
				return
			}
			s.status = status
			if intervalS > 0 {
				s.intervalS = intervalS
			}
			s.nextAttempt = now.Add(time.Duration(s.intervalS) * time.Second)
			s.log.Info().Str("status", string(status)).Int("interval", s.intervalS).Msg("boot registration status")
			if status == StatusAccepted {
				s.queue.OpenGate()
				if s.onAccepted != nil {
					s.onAccepted(s.intervalS)
				}
			}
		},
		OnError: func(rpcErr *ocpperr.RPCError) bool {
			s.inFlight = false
			s.log.Warn().Err(rpcErr).Msg("BootNotification failed, will retry")
			return true // abort this attempt; Poll re-submits on its own cadence
		},
	})
}

// HeartbeatIntervalS returns the currently negotiated interval.
func (s *Service) HeartbeatIntervalS() int { return s.intervalS }
