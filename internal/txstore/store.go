package txstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
)

// Store is the append-only, single-writer/many-reader per-connector
// transaction store of spec section 4.5.3. The connector holds the strong
// reference to an active Transaction; the Store holds every transaction
// (active or not) in memory, keyed by (connectorId, txNr). The Model and
// the request callbacks built in cmd/chargepoint hold *Transaction
// pointers directly rather than looking them up here.
type Store struct {
	mu   sync.Mutex
	fsa  fs.Adapter
	txs  map[key]*Transaction
	log  zerolog.Logger
}

type key struct {
	connectorID int
	txNr        uint64
}

// New creates an empty Store backed by fsa.
func New(fsa fs.Adapter) *Store {
	return &Store{
		fsa: fsa,
		txs: make(map[key]*Transaction),
		log: log.With().Str("component", "txstore").Logger(),
	}
}

func txFileKey(connectorID int, txNr uint64) string {
	return fmt.Sprintf("tx-%d-%d.jsn", connectorID, txNr)
}

// Create constructs and registers a new Transaction for connectorID/txNr.
// It does not commit to disk; callers must call Commit once the
// transaction has meaningful state.
func (s *Store) Create(connectorID int, txNr uint64, silent bool) *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Transaction{
		ConnectorID:    connectorID,
		TxNr:           txNr,
		BeginTimestamp: time.Now().UTC(),
		Silent:         silent,
	}
	s.txs[key{connectorID, txNr}] = tx
	return tx
}

// onDiskTransaction is the persisted wire form of a Transaction.
type onDiskTransaction struct {
	ConnectorID    int
	TxNr           uint64
	TransactionID  int
	HasTxID        bool
	IDTag          string
	ParentIDTag    string
	Authorized     bool
	Deauthorized   bool
	BeginTimestamp time.Time
	StartTimestamp time.Time
	StopTimestamp  time.Time
	MeterStart     int
	MeterStop      int
	Active         bool
	Running        bool
	StartSent      bool
	StartConfirmed bool
	StopSent       bool
	StopConfirmed  bool
	Silent         bool
	StopReason     StopReason
	StopIDTag      string
	MeterData      []MeterValue
	StartOpNr      uint16
	HasStartOpNr   bool
	StopOpNr       uint16
	HasStopOpNr    bool
}

func toDisk(t *Transaction) onDiskTransaction {
	return onDiskTransaction{
		ConnectorID: t.ConnectorID, TxNr: t.TxNr, TransactionID: t.TransactionID, HasTxID: t.HasTxID,
		IDTag: t.IDTag, ParentIDTag: t.ParentIDTag, Authorized: t.Authorized, Deauthorized: t.Deauthorized,
		BeginTimestamp: t.BeginTimestamp, StartTimestamp: t.StartTimestamp, StopTimestamp: t.StopTimestamp,
		MeterStart: t.MeterStart, MeterStop: t.MeterStop,
		Active: t.Active, Running: t.Running, StartSent: t.StartSent, StartConfirmed: t.StartConfirmed,
		StopSent: t.StopSent, StopConfirmed: t.StopConfirmed, Silent: t.Silent,
		StopReason: t.StopReason, StopIDTag: t.StopIDTag, MeterData: t.MeterData,
		StartOpNr: uint16(t.StartOpNr), HasStartOpNr: t.HasStartOpNr,
		StopOpNr: uint16(t.StopOpNr), HasStopOpNr: t.HasStopOpNr,
	}
}

func fromDisk(d onDiskTransaction) *Transaction {
	return &Transaction{
		ConnectorID: d.ConnectorID, TxNr: d.TxNr, TransactionID: d.TransactionID, HasTxID: d.HasTxID,
		IDTag: d.IDTag, ParentIDTag: d.ParentIDTag, Authorized: d.Authorized, Deauthorized: d.Deauthorized,
		BeginTimestamp: d.BeginTimestamp, StartTimestamp: d.StartTimestamp, StopTimestamp: d.StopTimestamp,
		MeterStart: d.MeterStart, MeterStop: d.MeterStop,
		Active: d.Active, Running: d.Running, StartSent: d.StartSent, StartConfirmed: d.StartConfirmed,
		StopSent: d.StopSent, StopConfirmed: d.StopConfirmed, Silent: d.Silent,
		StopReason: d.StopReason, StopIDTag: d.StopIDTag, MeterData: d.MeterData,
		StartOpNr: reqstore.OpNr(d.StartOpNr), HasStartOpNr: d.HasStartOpNr,
		StopOpNr: reqstore.OpNr(d.StopOpNr), HasStopOpNr: d.HasStopOpNr,
	}
}

// Commit atomically writes tx to disk (spec section 4.5.3, 5: "every
// mutation must be committed before it is observed outside").
func (s *Store) Commit(tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(toDisk(tx))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.txs[key{tx.ConnectorID, tx.TxNr}] = tx
	s.mu.Unlock()
	return s.fsa.Put(txFileKey(tx.ConnectorID, tx.TxNr), data)
}

// Get returns the transaction for connectorID/txNr, loading it from disk
// on first access after a reboot if it isn't already in memory.
func (s *Store) Get(connectorID int, txNr uint64) (*Transaction, error) {
	s.mu.Lock()
	if tx, ok := s.txs[key{connectorID, txNr}]; ok {
		s.mu.Unlock()
		return tx, nil
	}
	s.mu.Unlock()

	data, ok, err := s.fsa.Get(txFileKey(connectorID, txNr))
	if err != nil || !ok {
		return nil, err
	}
	var d onDiskTransaction
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("txstore: corrupt tx-%d-%d: %w", connectorID, txNr, err)
	}
	tx := fromDisk(d)
	s.mu.Lock()
	s.txs[key{connectorID, txNr}] = tx
	s.mu.Unlock()
	return tx, nil
}

// Remove deletes a transaction's on-disk record and drops it from memory.
// Only allowed after both start and stop are confirmed, or the transaction
// was silent / never sent (spec section 4.5.3).
func (s *Store) Remove(connectorID int, txNr uint64) error {
	tx, err := s.Get(connectorID, txNr)
	if err != nil {
		return err
	}
	if tx == nil {
		return nil
	}
	eligible := tx.Silent || (!tx.StartSent && !tx.StopSent) || (tx.StartConfirmed && tx.StopConfirmed)
	if !eligible {
		return fmt.Errorf("txstore: transaction %d/%d not eligible for removal", connectorID, txNr)
	}
	s.mu.Lock()
	delete(s.txs, key{connectorID, txNr})
	s.mu.Unlock()
	return s.fsa.Remove(txFileKey(connectorID, txNr))
}

// RestoreConnector loads every persisted transaction for connectorID by
// scanning the tx-<connectorID>-*.jsn namespace, for use at boot. It
// returns them ordered by TxNr ascending.
func (s *Store) RestoreConnector(connectorID int) ([]*Transaction, error) {
	names, err := s.fsa.Enumerate(fmt.Sprintf("tx-%d-*.jsn", connectorID))
	if err != nil {
		return nil, err
	}
	var out []*Transaction
	for _, name := range names {
		data, ok, err := s.fsa.Get(name)
		if err != nil || !ok {
			continue
		}
		var d onDiskTransaction
		if err := json.Unmarshal(data, &d); err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("skipping corrupt transaction record")
			continue
		}
		tx := fromDisk(d)
		s.mu.Lock()
		s.txs[key{tx.ConnectorID, tx.TxNr}] = tx
		s.mu.Unlock()
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxNr < out[j].TxNr })
	return out, nil
}
