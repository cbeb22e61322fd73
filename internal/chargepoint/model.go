// Package chargepoint assembles the runtime components into the Context
// of spec section 4.8: Connection, operation Registry, pre-boot/main
// RequestQueue, and a Model that advances every connector, the metering
// pipeline, heartbeat and boot service each tick. It is the Go analogue
// of the source's Charger struct (charger/charger.go) generalized from a
// single hard-wired connector/goroutine-per-concern design into the
// spec's single-threaded, poll-driven, multi-connector runtime (design
// note, spec section 9).
package chargepoint

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/bootsvc"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/configuration"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/connector"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/heartbeat"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/metering"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

// Model owns the domain state: connectors, metering, heartbeat, boot
// service (spec section 4.8).
type Model struct {
	Connectors []*connector.Connector
	Metering   *metering.Builder
	Heartbeat  *heartbeat.Service
	Boot       *bootsvc.Service

	cfg     *configuration.Store
	txStore *txstore.Store
	fsa     fs.Adapter
	clk     *clock.Clock

	statusEmit func(connectorID int, n connector.Notification)
	meterEmit  func(pmv metering.PendingMeterValue)
	txBegin    func(connectorID int, tx *txstore.Transaction)
	txEnd      func(connectorID int, tx *txstore.Transaction)

	lastTx map[int]*txstore.Transaction

	log zerolog.Logger
}

// NewModel creates a Model with numConnectors connectors (1-indexed, spec
// section 3's ConnectorId convention; connector 0 reserved for the
// station-level EVSE is the integrator's concern, not modeled here).
func NewModel(numConnectors int, cfg *configuration.Store, txStore *txstore.Store, fsa fs.Adapter, clk *clock.Clock, meteringBuilder *metering.Builder) *Model {
	m := &Model{
		cfg:      cfg,
		txStore:  txStore,
		fsa:      fsa,
		clk:      clk,
		Metering: meteringBuilder,
		lastTx:   make(map[int]*txstore.Transaction),
		log:      log.With().Str("component", "model").Logger(),
	}
	for i := 1; i <= numConnectors; i++ {
		m.Connectors = append(m.Connectors, connector.New(i, txStore, clk))
	}
	return m
}

// OnStatusNotification registers the callback invoked for every queued
// StatusNotification (spec section 4.5.2).
func (m *Model) OnStatusNotification(cb func(connectorID int, n connector.Notification)) {
	m.statusEmit = cb
}

// OnMeterValue registers the callback invoked for every sampled batch
// ready for delivery (spec section 4.6).
func (m *Model) OnMeterValue(cb func(pmv metering.PendingMeterValue)) {
	m.meterEmit = cb
}

// OnTransactionBegin registers the callback invoked when a connector opens
// a new transaction (spec section 4.5.1).
func (m *Model) OnTransactionBegin(cb func(connectorID int, tx *txstore.Transaction)) {
	m.txBegin = cb
}

// OnTransactionEnd registers the callback invoked once a transaction has
// gone inactive and has not yet been marked StopSent (spec section 4.5.1,
// 4.5.3's StopTransaction submission).
func (m *Model) OnTransactionEnd(cb func(connectorID int, tx *txstore.Transaction)) {
	m.txEnd = cb
}

// ConfigurationStore exposes the runtime configuration key/value store for
// GetConfiguration/ChangeConfiguration handlers (spec section 6.4).
func (m *Model) ConfigurationStore() *configuration.Store { return m.cfg }

// CommitTransaction persists tx's current state to disk. Every mutation
// the wire-translation layer makes to a Transaction after it leaves the
// connector (StartSent, StartConfirmed, StopSent, StopConfirmed) must be
// committed before it is observed outside (spec section 5).
func (m *Model) CommitTransaction(tx *txstore.Transaction) error {
	return m.txStore.Commit(tx)
}

// clearCacheGlobs are the file patterns ClearCache deletes (spec section
// 6.3: "delete all files matching sd*, tx*, op*").
var clearCacheGlobs = []string{"sd*", "tx*", "op*"}

// ClearCache deletes every persisted transaction, meter-value batch, and
// Request record under the storage root (spec section 6.3). Configuration
// and the client-state cursor file survive, matching the spec's glob.
func (m *Model) ClearCache() error {
	if m.fsa == nil {
		return nil
	}
	for _, glob := range clearCacheGlobs {
		keys, err := m.fsa.Enumerate(glob)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := m.fsa.Remove(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Connector returns the connector by 1-based id, or nil.
func (m *Model) Connector(id int) *connector.Connector {
	for _, c := range m.Connectors {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Poll advances every connector, metering sample cadence, heartbeat and
// boot service by one tick (spec section 4.8's "advance model").
func (m *Model) Poll(now time.Time, nowTickMs uint64) {
	for _, c := range m.Connectors {
		prevTx := m.lastTx[c.ID]

		began := c.Poll()
		if began != nil && m.txBegin != nil {
			m.txBegin(c.ID, began)
		}

		if prevTx != nil && !prevTx.Active && !prevTx.StopSent && m.txEnd != nil {
			m.txEnd(c.ID, prevTx)
		}
		m.lastTx[c.ID] = c.Transaction()

		for _, n := range c.PendingNotifications() {
			if m.statusEmit != nil {
				m.statusEmit(c.ID, n)
			}
		}

		if m.Metering == nil {
			continue
		}
		tx := c.Transaction()
		inTx := tx != nil && tx.Active
		for _, batch := range m.Metering.PollConnector(c.ID, inTx) {
			if len(batch.Samples) == 0 {
				continue
			}
			if inTx {
				m.Metering.ForkIntoTransaction(tx, batch)
				if err := m.txStore.Commit(tx); err != nil {
					m.log.Warn().Err(err).Uint64("txNr", tx.TxNr).Msg("failed to commit forked meter data")
				}
			}
			if m.meterEmit != nil {
				pmv := metering.PendingMeterValue{ConnectorID: c.ID, Batch: batch}
				if inTx {
					pmv.TxNr = tx.TxNr
					pmv.HasTx = true
				}
				m.meterEmit(pmv)
			}
		}
	}

	if m.Boot != nil {
		m.Boot.Poll(now, bootAction())
	}
	if m.Heartbeat != nil && m.Boot != nil && m.Boot.Accepted() {
		m.Heartbeat.Poll(now, nowTickMs)
	}
}

// bootAction is overridden by the wire-translation layer via
// SetBootAction; it defaults to the OCPP action name shared by both
// protocol versions.
var currentBootAction = "BootNotification"

func bootAction() string { return currentBootAction }

// SetBootAction lets the integrator override the action name (both OCPP
// 1.6 and 2.0.1 use "BootNotification" so this is rarely needed).
func SetBootAction(action string) { currentBootAction = action }

// OpNrRequestEmitter adapts a slice of already-built persistent requests
// (e.g. pending reqstore.Record entries restored at boot) into a
// reqqueue.Emitter, fulfilling "Restores pending operations across
// reboot" (spec section 3, 4.3).
type OpNrRequestEmitter struct {
	name    string
	pending []*reqqueue.Request
}

// NewOpNrRequestEmitter creates an empty emitter; requests are added with
// Push and served in push order.
func NewOpNrRequestEmitter(name string) *OpNrRequestEmitter {
	return &OpNrRequestEmitter{name: name}
}

func (e *OpNrRequestEmitter) Name() string { return e.name }

func (e *OpNrRequestEmitter) FrontOpNr() (reqstore.OpNr, bool) {
	if len(e.pending) == 0 {
		return 0, false
	}
	return e.pending[0].OpNr, true
}

func (e *OpNrRequestEmitter) TakeFront() *reqqueue.Request {
	if len(e.pending) == 0 {
		return nil
	}
	r := e.pending[0]
	e.pending = e.pending[1:]
	return r
}

// Push appends a persistent request to the emitter's tail, in OpNr order.
func (e *OpNrRequestEmitter) Push(r *reqqueue.Request) {
	e.pending = append(e.pending, r)
}

// Len reports how many requests remain queued.
func (e *OpNrRequestEmitter) Len() int { return len(e.pending) }
