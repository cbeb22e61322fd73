// Package configuration implements the typed key/value registry described
// in spec section 3 and 4 (design note on replacing the source's template
// Configuration<T> with a runtime-tagged value): containers, persistence,
// mutability flags, and write-count tracking, consumed by most upper
// layers for tunables and small persistent state (spec section 6.4).
package configuration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
)

// Kind tags the runtime type carried by a Value. Mismatched access is a
// reported error, never undefined behavior (design note, spec section 9).
type Kind int

const (
	KindInt Kind = iota
	KindBool
	KindString
)

// Flags controls peer visibility, mutability, and reboot semantics for a
// single key (spec section 3).
type Flags struct {
	ReadableByPeer       bool
	WritableByPeer       bool
	RebootRequiredOnChange bool
	WritableLocally      bool
}

// Validator checks a candidate value before it is committed; returning an
// error rejects the write and leaves the stored value unchanged.
type Validator func(v interface{}) error

type entry struct {
	kind      Kind
	value     interface{}
	flags     Flags
	validator Validator
	writeCount uint64
}

// Store is the process-wide configuration registry (spec section 5:
// "Configuration is a single process-wide registry"). Its methods take a
// mutex, so it is safe for concurrent access, although the core's own call
// sites are single-threaded.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	fsa     fs.Adapter
	file    string
	log     zerolog.Logger
	dirty   bool
}

const defaultFile = "ocpp-config.jsn"

// New creates a Store persisting through fsa under the conventional
// ocpp-config.jsn file name (spec section 6.3).
func New(fsa fs.Adapter) *Store {
	return &Store{
		entries: make(map[string]*entry),
		fsa:     fsa,
		file:    defaultFile,
		log:     log.With().Str("component", "configuration").Logger(),
	}
}

// DeclareInt registers (or redeclares, preserving any persisted value) an
// Int key with a default, flags, and optional validator.
func (s *Store) DeclareInt(key string, def int, flags Flags, v Validator) {
	s.declare(key, KindInt, def, flags, v)
}

// DeclareBool registers a Bool key.
func (s *Store) DeclareBool(key string, def bool, flags Flags, v Validator) {
	s.declare(key, KindBool, def, flags, v)
}

// DeclareString registers a String key.
func (s *Store) DeclareString(key string, def string, flags Flags, v Validator) {
	s.declare(key, KindString, def, flags, v)
}

func (s *Store) declare(key string, kind Kind, def interface{}, flags Flags, v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.flags = flags
		e.validator = v
		return
	}
	s.entries[key] = &entry{kind: kind, value: def, flags: flags, validator: v}
}

// GetInt returns the current value of an Int key. ok is false if the key is
// undeclared or declared under a different Kind.
func (s *Store) GetInt(key string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.kind != KindInt {
		return 0, false
	}
	return e.value.(int), true
}

// GetBool returns the current value of a Bool key.
func (s *Store) GetBool(key string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.kind != KindBool {
		return false, false
	}
	return e.value.(bool), true
}

// GetString returns the current value of a String key.
func (s *Store) GetString(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.kind != KindString {
		return "", false
	}
	return e.value.(string), true
}

// Set stores a new value for key, bumping its write_count. It returns an
// error if the key is undeclared, the Kind doesn't match, the validator
// rejects it, or the key is not locally writable.
func (s *Store) Set(key string, value interface{}, fromPeer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("configuration: unknown key %q", key)
	}
	if fromPeer && !e.flags.WritableByPeer {
		return fmt.Errorf("configuration: key %q is not writable by peer", key)
	}
	if !fromPeer && !e.flags.WritableLocally {
		return fmt.Errorf("configuration: key %q is not writable locally", key)
	}
	if err := matchKind(e.kind, value); err != nil {
		return fmt.Errorf("configuration: key %q: %w", key, err)
	}
	if e.validator != nil {
		if err := e.validator(value); err != nil {
			return fmt.Errorf("configuration: key %q rejected: %w", key, err)
		}
	}
	e.value = value
	e.writeCount++
	s.dirty = true
	return nil
}

// SetString parses value against key's declared Kind and stores it,
// matching ChangeConfiguration's wire format (spec section 6.4: every
// configuration value crosses the wire as a string regardless of its
// runtime Kind).
func (s *Store) SetString(key string, value string, fromPeer bool) error {
	s.mu.RLock()
	e, ok := s.entries[key]
	var kind Kind
	if ok {
		kind = e.kind
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("configuration: unknown key %q", key)
	}

	switch kind {
	case KindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("configuration: key %q: %w", key, err)
		}
		return s.Set(key, n, fromPeer)
	case KindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("configuration: key %q: %w", key, err)
		}
		return s.Set(key, b, fromPeer)
	default:
		return s.Set(key, value, fromPeer)
	}
}

func matchKind(kind Kind, value interface{}) error {
	switch kind {
	case KindInt:
		if _, ok := value.(int); !ok {
			return fmt.Errorf("expected int value")
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool value")
		}
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string value")
		}
	}
	return nil
}

// WriteCount returns the monotonic write counter for key, used by
// containers to detect dirty state (spec section 5).
func (s *Store) WriteCount(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.writeCount, true
}

// Flags returns the declared flags for key.
func (s *Store) Flags(key string) (Flags, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Flags{}, false
	}
	return e.flags, true
}

// PeerReadable returns every key/value pair visible to GetConfiguration,
// used by the ocpp16/ocpp201 GetConfiguration handler.
func (s *Store) PeerReadable(keys []string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	iterate := keys
	if len(iterate) == 0 {
		for k := range s.entries {
			iterate = append(iterate, k)
		}
	}
	for _, k := range iterate {
		e, ok := s.entries[k]
		if !ok || !e.flags.ReadableByPeer {
			continue
		}
		out[k] = fmt.Sprintf("%v", e.value)
	}
	return out
}

// onDiskEntry is the persisted representation of one key.
type onDiskEntry struct {
	Kind  Kind        `json:"kind"`
	Value interface{} `json:"value"`
}

// Persist writes every entry to the backing store if the registry is dirty
// (spec section 5: containers "persist lazily"). It is idempotent.
func (s *Store) Persist() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	out := make(map[string]onDiskEntry, len(s.entries))
	for k, e := range s.entries {
		out[k] = onDiskEntry{Kind: e.kind, Value: e.value}
	}
	s.mu.Unlock()

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	if err := s.fsa.Put(s.file, data); err != nil {
		s.log.Warn().Err(err).Msg("persist failed")
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Restore loads persisted values on top of already-declared defaults. Keys
// present on disk but never declared are ignored; keys declared but absent
// on disk keep their default. Call after all Declare* calls.
func (s *Store) Restore() error {
	data, ok, err := s.fsa.Get(s.file)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var onDisk map[string]onDiskEntry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return fmt.Errorf("configuration: corrupt %s: %w", s.file, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, od := range onDisk {
		e, declared := s.entries[k]
		if !declared || e.kind != od.Kind {
			continue
		}
		switch od.Kind {
		case KindInt:
			if f, ok := od.Value.(float64); ok {
				e.value = int(f)
			}
		case KindBool:
			if b, ok := od.Value.(bool); ok {
				e.value = b
			}
		case KindString:
			if str, ok := od.Value.(string); ok {
				e.value = str
			}
		}
	}
	return nil
}
