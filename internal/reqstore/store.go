// Package reqstore assigns and persists monotonically increasing operation
// numbers (OpNr) and restores pending operations across reboot (spec
// section 2.6, 4.3).
package reqstore

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
)

// MaxOpNr is the OpNr modulus (spec section 3): OpNr wraps in [0, MaxOpNr).
const MaxOpNr = 10_000

// OpNr is an operation number in [0, MaxOpNr).
type OpNr uint16

// Distance returns the wrap-aware distance from a to the cursor end,
// (end - a) mod MaxOpNr. Ordering uses this distance: a precedes b iff
// Distance(end, a) > Distance(end, b) (spec section 3).
func Distance(end, a OpNr) int {
	d := (int(end) - int(a)) % MaxOpNr
	if d < 0 {
		d += MaxOpNr
	}
	return d
}

// Precedes reports whether a was assigned strictly before b, given the
// current end cursor.
func Precedes(end, a, b OpNr) bool {
	return Distance(end, a) > Distance(end, b)
}

func next(n OpNr) OpNr {
	return OpNr((int(n) + 1) % MaxOpNr)
}

func prev(n OpNr) OpNr {
	return OpNr((int(n) - 1 + MaxOpNr) % MaxOpNr)
}

// Record is the on-disk form of a persisted request (spec section 3):
// exists iff its OpNr is in [opBegin, opEnd).
type Record struct {
	OpNr    OpNr            `json:"opNr"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

const (
	clientStateFile = "client-state.jsn"
	keyOpBegin      = "opBegin"
	keyOpEnd        = "opEnd"
)

type clientState struct {
	OpBegin OpNr `json:"opBegin"`
	OpEnd   OpNr `json:"opEnd"`
}

// Store is the persistent OpNr allocator and Record store (spec section
// 4.3). opBegin/opEnd are themselves persisted alongside client-state.jsn.
type Store struct {
	fsa      fs.Adapter
	opBegin  OpNr
	opEnd    OpNr
	log      zerolog.Logger
}

// New creates a Store with opBegin = opEnd = 0. Call Restore to recover
// prior state (and repair an orphaned opEnd) before use.
func New(fsa fs.Adapter) *Store {
	return &Store{fsa: fsa, log: log.With().Str("component", "reqstore").Logger()}
}

func recordKey(opNr OpNr) string {
	return fmt.Sprintf("op-%d.jsn", opNr)
}

// Restore loads opBegin/opEnd from disk and repairs the orphan-opEnd case
// (spec section 4.3): if reserve_opnr persisted opEnd but commit never
// completed, opEnd is walked back until fetch(opEnd-1) is present or
// opEnd == opBegin.
func (s *Store) Restore() error {
	data, ok, err := s.fsa.Get(clientStateFile)
	if err != nil {
		return err
	}
	if ok {
		var cs clientState
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("reqstore: corrupt %s: %w", clientStateFile, err)
		}
		s.opBegin = cs.OpBegin
		s.opEnd = cs.OpEnd
	}

	for s.opEnd != s.opBegin {
		if _, present, err := s.fsa.Get(recordKey(prev(s.opEnd))); err != nil {
			return err
		} else if present {
			break
		}
		s.log.Warn().Uint16("opEnd", uint16(s.opEnd)).Msg("repairing orphan opEnd")
		s.opEnd = prev(s.opEnd)
	}
	return s.persistCursors()
}

func (s *Store) persistCursors() error {
	data, err := json.Marshal(clientState{OpBegin: s.opBegin, OpEnd: s.opEnd})
	if err != nil {
		return err
	}
	return s.fsa.Put(clientStateFile, data)
}

// ReserveOpNr returns the next OpNr (the current opEnd), advances opEnd
// modulo MaxOpNr, and persists the new cursor before the caller ever sees
// the value committed — so a crash between Reserve and Commit is the
// orphan-opEnd case Restore repairs.
func (s *Store) ReserveOpNr() (OpNr, error) {
	opNr := s.opEnd
	s.opEnd = next(s.opEnd)
	if err := s.persistCursors(); err != nil {
		// Roll back in memory; the reservation never happened as far as
		// any observer can tell.
		s.opEnd = opNr
		return 0, err
	}
	return opNr, nil
}

// Commit writes the Record for opNr to disk. After Commit returns nil, the
// record survives reboot (spec section 4.3).
func (s *Store) Commit(opNr OpNr, action string, payload json.RawMessage) error {
	rec := Record{OpNr: opNr, Action: action, Payload: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.fsa.Put(recordKey(opNr), data)
}

// Fetch loads the Record for opNr, if present.
func (s *Store) Fetch(opNr OpNr) (*Record, bool, error) {
	data, ok, err := s.fsa.Get(recordKey(opNr))
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("reqstore: corrupt record op-%d: %w", opNr, err)
	}
	return &rec, true, nil
}

// Advance removes the Record for opNr and, if opNr == opBegin, advances
// opBegin (persisted). Non-contiguous advances are allowed: the store
// tolerates gaps by scanning forward to the next present record (spec
// section 4.3).
func (s *Store) Advance(opNr OpNr) error {
	if err := s.fsa.Remove(recordKey(opNr)); err != nil {
		return err
	}
	if opNr != s.opBegin {
		return nil
	}
	s.opBegin = next(s.opBegin)
	// Scan forward over gaps left by earlier non-contiguous advances.
	for s.opBegin != s.opEnd {
		if _, present, err := s.fsa.Get(recordKey(s.opBegin)); err != nil {
			return err
		} else if present {
			break
		}
		s.opBegin = next(s.opBegin)
	}
	return s.persistCursors()
}

// OpBegin returns the current begin cursor (the oldest outstanding OpNr).
func (s *Store) OpBegin() OpNr { return s.opBegin }

// OpEnd returns the current end cursor (one past the newest outstanding
// OpNr); this is also the wrap-aware ordering reference point (spec
// section 3).
func (s *Store) OpEnd() OpNr { return s.opEnd }

// Pending returns every outstanding Record in OpNr order (oldest first),
// scanning [opBegin, opEnd). Used to restore the request queue on boot
// (spec section 3: "Restores pending operations across reboot").
func (s *Store) Pending() ([]Record, error) {
	var out []Record
	for n := s.opBegin; n != s.opEnd; n = next(n) {
		rec, ok, err := s.Fetch(n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}
