// Package connector implements the per-physical-connector state machine of
// spec section 4.5.1-4.5.2: availability/occupancy/charging states,
// authorization lifecycle, transaction enable/disable, and
// StatusNotification emission.
package connector

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

// Status is the OCPP 1.6 ChargePointStatus enum (spec section 3); OCPP
// 2.0.1 aggregates Preparing/Charging/SuspendedEV/SuspendedEVSE/Finishing
// into Occupied in cmd/chargepoint (mapConnectorStatusV201), not here.
type Status string

const (
	StatusAvailable     Status = "Available"
	StatusPreparing     Status = "Preparing"
	StatusCharging      Status = "Charging"
	StatusSuspendedEV   Status = "SuspendedEV"
	StatusSuspendedEVSE Status = "SuspendedEVSE"
	StatusFinishing     Status = "Finishing"
	StatusReserved      Status = "Reserved"
	StatusUnavailable   Status = "Unavailable"
	StatusFaulted       Status = "Faulted"
)

// Availability overlays Operative/Inoperative onto the occupancy state
// (spec section 3, 4.5.1: "orthogonal overlays").
type Availability int

const (
	Operative Availability = iota
	InoperativeScheduled    // Inoperative requested but a transaction is in progress
	Inoperative
)

// Reservation overlays a reserved slot onto an otherwise Available
// connector (spec section 3, "Reserved" overlay; supplemented from
// original_source/ReserveNow.h).
type Reservation struct {
	Active   bool
	IDTag    string
	ExpiryMonoMs uint64
}

// ErrorState carries the non-empty errorCode reported while Faulted (spec
// section 4.5.1: "Error transitions to Faulted are reported via
// StatusNotification with a non-empty errorCode").
type ErrorState struct {
	Code            string
	Info            string
	VendorID        string
	VendorErrorCode string
}

// SensorCallback lets the integrator supply live signals (plug state,
// EV/EVSE-ready, energy flow) without the connector depending on hardware
// details (spec section 3: "a list of sensor callbacks").
type SensorCallback func() bool

// Connector is one physical charging point (spec section 3).
type Connector struct {
	ID int

	status       Status
	lastReported Status
	reportedOnce bool

	availability Availability
	errs         []ErrorState
	reservation  Reservation

	// current transaction handle: the connector's strong reference while
	// the transaction is active (spec section 4.5, 5).
	tx *txstore.Transaction

	authorizing    bool
	authorizedTag  string
	pendingRemote  string // idTag pre-authorized by a RemoteStartTransaction, awaiting plug-in

	plugged      bool
	evReady      bool
	evseReady    bool

	triggerPending bool

	txStore *txstore.Store
	clk     *clock.Clock
	log     zerolog.Logger

	txNrSeq uint64

	// pendingNotifications receives StatusNotification emissions to be
	// picked up by the emitter wrapper (spec section 4.5.2).
	pendingNotifications []Notification
}

// Notification is a StatusNotification awaiting dispatch through the
// request queue.
type Notification struct {
	Status    Status
	Timestamp time.Time
	HasTime   bool // false until the clock is synchronized (spec section 4.5.2)
	MonoOffsetMs uint64
	ErrorCode string
}

// New creates a Connector in the Available state.
func New(id int, txStore *txstore.Store, clk *clock.Clock) *Connector {
	return &Connector{
		ID:      id,
		status:  StatusAvailable,
		txStore: txStore,
		clk:     clk,
		log:     log.With().Str("component", "connector").Int("connectorId", id).Logger(),
	}
}

// Restore reattaches a transaction loaded from disk after reboot (spec
// section 3, 4.5.3): tx becomes the connector's strong reference if it is
// still Active or its stop is not yet confirmed, and the connector's txNr
// sequence advances past it either way so a fresh transaction never reuses
// a txNr.
func (c *Connector) Restore(tx *txstore.Transaction) {
	if tx.TxNr >= c.txNrSeq {
		c.txNrSeq = tx.TxNr + 1
	}
	if tx.Active || !tx.StopConfirmed {
		c.tx = tx
		c.recompute()
	}
}

// Status returns the current ChargePointStatus.
func (c *Connector) Status() Status { return c.status }

// Transaction returns the currently active transaction, or nil.
func (c *Connector) Transaction() *txstore.Transaction { return c.tx }

// Available reports whether the overlay availability is Operative.
func (c *Connector) Available() bool { return c.availability == Operative }

// Faulted reports whether any error is currently reported.
func (c *Connector) Faulted() bool { return len(c.errs) > 0 }

// --- Inputs (spec section 4.5.1) ---

// PlugIn signals a vehicle connected.
func (c *Connector) PlugIn() {
	c.plugged = true
	c.recompute()
}

// PlugOut signals a vehicle disconnected; ends any active transaction.
func (c *Connector) PlugOut() {
	c.plugged = false
	c.evReady = false
	c.evseReady = false
	if c.tx != nil && c.tx.Active {
		c.endTransaction(txstore.StopReasonEVDisconnected, "")
	}
	c.recompute()
}

// Authorize records a local or remote authorization arriving for idTag.
func (c *Connector) Authorize(idTag string) {
	c.authorizedTag = idTag
	c.authorizing = true
	c.recompute()
}

// Deauthorize clears any authorization in progress and ends an active
// transaction.
func (c *Connector) Deauthorize() {
	c.authorizing = false
	c.authorizedTag = ""
	if c.tx != nil && c.tx.Active {
		c.tx.Deauthorized = true
		c.endTransaction(txstore.StopReasonDeAuthorized, "")
	}
	c.recompute()
}

// EVReady / EVSEReady / ReadyToCharge model the "both EV-ready and
// EVSE-ready" tx-begin driver (spec section 4.5.1).
func (c *Connector) EVReady(ready bool)   { c.evReady = ready; c.recompute() }
func (c *Connector) EVSEReady(ready bool) { c.evseReady = ready; c.recompute() }

// EnergyOffered / EnergyDrawn are power-flow indicators driving the
// Charging <-> SuspendedEV/SuspendedEVSE transitions.
func (c *Connector) EnergyOffered(offered bool) {
	if c.tx == nil || !c.tx.Active {
		return
	}
	if offered && c.status == StatusSuspendedEVSE {
		c.setStatus(StatusCharging)
	} else if !offered && c.status == StatusCharging {
		c.setStatus(StatusSuspendedEVSE)
	}
}

func (c *Connector) EnergyDrawn(drawn bool) {
	if c.tx == nil || !c.tx.Active {
		return
	}
	if drawn && c.status == StatusSuspendedEV {
		c.setStatus(StatusCharging)
	} else if !drawn && c.status == StatusCharging {
		c.setStatus(StatusSuspendedEV)
	}
}

// Stop is the local end-of-session driver.
func (c *Connector) Stop(reason txstore.StopReason) {
	if c.tx != nil && c.tx.Active {
		c.endTransaction(reason, "")
	}
	c.recompute()
}

// RemoteStop ends the transaction identified by txId if it is the active
// one; returns whether it matched.
func (c *Connector) RemoteStop(transactionID int) bool {
	if c.tx == nil || !c.tx.Active || !c.tx.HasTxID || c.tx.TransactionID != transactionID {
		return false
	}
	c.endTransaction(txstore.StopReasonRemote, "")
	c.recompute()
	return true
}

// RemoteStart pre-authorizes idTag; it takes effect immediately if a cable
// is already plugged in, otherwise it is held pending plug-in.
func (c *Connector) RemoteStart(idTag string) {
	c.pendingRemote = idTag
	if c.plugged {
		c.Authorize(idTag)
	}
}

// SetUnavailable requests the Inoperative overlay. If a transaction is
// active, it is held as InoperativeScheduled until the transaction ends.
func (c *Connector) SetUnavailable() {
	if c.tx != nil && c.tx.Active {
		c.availability = InoperativeScheduled
	} else {
		c.availability = Inoperative
	}
	c.recompute()
}

// SetAvailable clears the Inoperative overlay.
func (c *Connector) SetAvailable() {
	c.availability = Operative
	c.recompute()
}

// SetFault reports a non-empty errorCode, moving the connector to Faulted
// (spec section 4.5.1).
func (c *Connector) SetFault(es ErrorState) {
	c.errs = append(c.errs, es)
	if c.tx != nil && c.tx.Active {
		c.endTransaction(txstore.StopReasonEmergencyStop, "")
	}
	c.recompute()
}

// ClearFault removes a previously reported error; recovery requires all
// error inputs to clear (spec section 4.5.1).
func (c *Connector) ClearFault(code string) {
	out := c.errs[:0]
	for _, e := range c.errs {
		if e.Code != code {
			out = append(out, e)
		}
	}
	c.errs = out
	c.recompute()
}

// SetReservation overlays a reservation and records the given monotonic
// expiry tick (spec section 4.5.1's reservation_set driver). The expiry is
// stored but not checked; the reservation stays until CancelReservation.
func (c *Connector) SetReservation(idTag string, expiryMonoMs uint64) {
	c.reservation = Reservation{Active: true, IDTag: idTag, ExpiryMonoMs: expiryMonoMs}
	c.recompute()
}

// CancelReservation clears any reservation overlay.
func (c *Connector) CancelReservation() {
	c.reservation = Reservation{}
	c.recompute()
}

// TriggerStatusNotification forces re-emission even without a status
// change (spec section 4.5.2).
func (c *Connector) TriggerStatusNotification() {
	c.triggerPending = true
}

// --- Tx-begin / tx-end conditions (spec section 4.5.1) ---

func (c *Connector) txBeginCondition() bool {
	if c.tx != nil && c.tx.Active {
		return false
	}
	if !c.authorizing || !c.plugged || c.Faulted() {
		return false
	}
	if c.reservation.Active && c.reservation.IDTag != c.authorizedTag {
		return false
	}
	return true
}

// beginTransaction constructs the Transaction locally: assigns txNr,
// writes beginTimestamp/meterStart, commits, marks active (spec section
// 4.5.1). meterStart is supplied by the caller (the metering pipeline), as
// the connector has no meter reading of its own.
func (c *Connector) beginTransaction(meterStart int) *txstore.Transaction {
	c.txNrSeq++
	tx := c.txStore.Create(c.ID, c.txNrSeq, false)
	tx.IDTag = c.authorizedTag
	tx.Authorized = true
	tx.MeterStart = meterStart
	tx.Active = true
	tx.Running = true
	c.tx = tx
	c.pendingRemote = ""
	if err := c.txStore.Commit(tx); err != nil {
		c.log.Warn().Err(err).Uint64("txNr", tx.TxNr).Msg("failed to commit new transaction")
	}
	return tx
}

func (c *Connector) endTransaction(reason txstore.StopReason, stopIDTag string) {
	if c.tx == nil {
		return
	}
	c.tx.Active = false
	c.tx.Running = false
	c.tx.StopReason = reason
	c.tx.StopIDTag = stopIDTag
	if c.clk.Synced() {
		c.tx.StopTimestamp = c.clk.Now().Time()
	} else {
		c.tx.StopTimestamp = time.Time{}
	}
	if err := c.txStore.Commit(c.tx); err != nil {
		c.log.Warn().Err(err).Uint64("txNr", c.tx.TxNr).Msg("failed to commit ended transaction")
	}
}

// Poll advances the connector for one loop tick: it re-derives status from
// inputs, begins a transaction when the begin condition holds, and queues
// StatusNotification when the effective status changed. Transactions are
// ended through the connector's explicit stop entry points, not here. It
// returns the Transaction that just began, if any, so the caller (the
// Model) can feed it to the metering pipeline and request queue.
func (c *Connector) Poll() (began *txstore.Transaction) {
	if c.txBeginCondition() {
		// Poll has no meter reading, so the transaction starts with
		// meterStart 0; BeginWithMeterStart takes a real reading instead.
		began = c.beginTransaction(0)
		if c.status == StatusAvailable {
			c.setStatus(StatusPreparing)
		}
	}
	c.recompute()
	c.flushAvailabilityOverlay()
	return began
}

// BeginWithMeterStart begins a transaction with a caller-supplied meter
// reading when the begin condition holds, in place of Poll's
// began-transaction path for one tick. The Model only calls Poll, so
// transactions it begins start with meterStart 0.
func (c *Connector) BeginWithMeterStart(meterStart int) *txstore.Transaction {
	if !c.txBeginCondition() {
		return nil
	}
	tx := c.beginTransaction(meterStart)
	if c.status == StatusAvailable {
		c.setStatus(StatusPreparing)
	}
	c.recompute()
	return tx
}

func (c *Connector) flushAvailabilityOverlay() {
	if c.availability == InoperativeScheduled && (c.tx == nil || !c.tx.Active) {
		c.availability = Inoperative
		c.recompute()
	}
}

// recompute derives the intended status from current inputs and enqueues a
// StatusNotification if it differs from the last reported one, or if a
// trigger is pending (spec section 4.5.2).
func (c *Connector) recompute() {
	intended := c.deriveStatus()
	if intended != c.status {
		c.status = intended
	}
	if !c.reportedOnce || c.status != c.lastReported || c.triggerPending {
		c.emitNotification()
		c.lastReported = c.status
		c.reportedOnce = true
		c.triggerPending = false
	}
}

func (c *Connector) deriveStatus() Status {
	if c.Faulted() {
		return StatusFaulted
	}
	if c.availability == Inoperative {
		return StatusUnavailable
	}
	if c.reservation.Active && (c.tx == nil || !c.tx.Active) && !c.plugged {
		return StatusReserved
	}
	if c.tx != nil && c.tx.Active {
		// Charging/SuspendedEV/SuspendedEVSE transitions are driven
		// explicitly by EnergyOffered/EnergyDrawn; recompute preserves
		// whichever of those three the status is already in.
		switch c.status {
		case StatusCharging, StatusSuspendedEV, StatusSuspendedEVSE:
			return c.status
		default:
			return StatusCharging
		}
	}
	if c.tx != nil && !c.tx.Active && (c.tx.StartSent || c.tx.StopSent) && !c.tx.StopConfirmed {
		return StatusFinishing
	}
	if c.plugged {
		return StatusPreparing
	}
	return StatusAvailable
}

func (c *Connector) setStatus(s Status) {
	c.status = s
}

func (c *Connector) emitNotification() {
	n := Notification{Status: c.status}
	if c.Faulted() {
		n.ErrorCode = c.errs[len(c.errs)-1].Code
	} else {
		n.ErrorCode = "NoError"
	}
	if c.clk.Synced() {
		n.HasTime = true
		n.Timestamp = c.clk.Now().Time()
	} else {
		n.MonoOffsetMs = uint64(c.clk.MonotonicOffset().Milliseconds())
	}
	c.pendingNotifications = append(c.pendingNotifications, n)
	c.log.Debug().Str("status", string(c.status)).Msg("status notification queued")
}

// PendingNotifications drains and returns queued StatusNotification
// emissions for the caller to push into the request queue.
func (c *Connector) PendingNotifications() []Notification {
	out := c.pendingNotifications
	c.pendingNotifications = nil
	return out
}
