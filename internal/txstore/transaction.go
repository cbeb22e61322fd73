// Package txstore implements the append-only per-connector transaction
// store and the Transaction/MeterValue data model of spec section 3 and
// 4.5.3.
package txstore

import (
	"time"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
)

// StopReason enumerates why a transaction ended.
type StopReason string

const (
	StopReasonLocal           StopReason = "Local"
	StopReasonRemote          StopReason = "Remote"
	StopReasonEVDisconnected  StopReason = "EVDisconnected"
	StopReasonDeAuthorized    StopReason = "DeAuthorized"
	StopReasonEmergencyStop   StopReason = "EmergencyStop"
	StopReasonHardReset       StopReason = "HardReset"
	StopReasonSoftReset       StopReason = "SoftReset"
	StopReasonPowerLoss       StopReason = "PowerLoss"
	StopReasonReboot          StopReason = "Reboot"
	StopReasonUnlockCommand   StopReason = "UnlockCommand"
	StopReasonOther           StopReason = "Other"
)

// SampledValue is one measurement within a MeterValue (spec section 3).
type SampledValue struct {
	Measurand string
	Phase     string
	Location  string
	Unit      string
	Context   string
	Format    string
	Value     string
}

// MeterValue is a timestamped group of SampledValues (spec section 3).
type MeterValue struct {
	Timestamp time.Time
	Samples   []SampledValue
}

// Transaction is the per-connector record of spec section 3. It is owned
// exclusively by the connector while active (spec section 4.5, 5); the
// Model and the request callbacks read and update it through the same
// pointer.
type Transaction struct {
	// identity
	ConnectorID   int
	TxNr          uint64 // monotonic per connector
	TransactionID int    // server-assigned; 0 until StartTransaction accepted
	HasTxID       bool   // true once TransactionID is meaningfully set

	// authorization
	IDTag         string
	ParentIDTag   string
	Authorized    bool
	Deauthorized  bool

	// timestamps
	BeginTimestamp time.Time // when the session started locally
	StartTimestamp time.Time // when StartTransaction was sent
	StopTimestamp  time.Time

	// meter
	MeterStart int
	MeterStop  int

	// lifecycle flags (invariants: spec section 3)
	Active        bool
	Running       bool
	StartSent     bool
	StartConfirmed bool
	StopSent      bool
	StopConfirmed bool
	Silent        bool // bookkeeping-only; never emits Start/StopTransaction

	StopReason StopReason
	StopIDTag  string

	// MeterData is the ordered, persisted meter-value history accrued
	// while the transaction is open (spec section 3's TransactionMeterData).
	MeterData []MeterValue

	// StartOpNr/StopOpNr correlate this transaction to its persistent
	// StartTransaction/StopTransaction requests in the request store, so a
	// confirmed StartTransaction can back-fill TransactionID into a
	// StopTransaction that was queued before confirmation (spec section
	// 4.5.1).
	StartOpNr    reqstore.OpNr
	HasStartOpNr bool
	StopOpNr     reqstore.OpNr
	HasStopOpNr  bool
}

// SetTransactionID sets the server-assigned transaction id exactly once
// (invariant c, spec section 3).
func (t *Transaction) SetTransactionID(id int) {
	if t.HasTxID {
		return
	}
	t.TransactionID = id
	t.HasTxID = true
}

// Validate checks the invariants of spec section 3:
//   (a) start_confirmed => start_sent
//   (b) stop_confirmed => !active
//   (c) transactionId set exactly once (enforced by SetTransactionID)
//
// (a) does not also require active: active holds at the moment
// StartTransaction is confirmed, but a normally-stopped transaction commits
// with start_confirmed still true and active false.
func (t *Transaction) Validate() error {
	if t.StartConfirmed && !t.StartSent {
		return errInvariant("start_confirmed requires start_sent")
	}
	if t.StopConfirmed && t.Active {
		return errInvariant("stop_confirmed requires !active")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return "txstore: invariant violated: " + string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
