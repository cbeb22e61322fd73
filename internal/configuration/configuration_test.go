package configuration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
)

func declareSample(s *Store) {
	s.DeclareInt("HeartbeatInterval", 300, Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareBool("MeterValuesInTxOnly", true, Flags{ReadableByPeer: true, WritableByPeer: true}, nil)
	s.DeclareString("MeterValuesSampledData", "Energy.Active.Import.Register", Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
}

func TestDeclareAndGetDefaults(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	declareSample(s)

	v, ok := s.GetInt("HeartbeatInterval")
	require.True(t, ok)
	assert.Equal(t, 300, v)

	b, ok := s.GetBool("MeterValuesInTxOnly")
	require.True(t, ok)
	assert.True(t, b)
}

func TestSetRejectsWrongKind(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	declareSample(s)
	err := s.Set("HeartbeatInterval", "not an int", false)
	assert.Error(t, err)
}

func TestSetRejectsPeerWriteWhenNotWritableByPeer(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	s.DeclareInt("ResetRetries", 3, Flags{ReadableByPeer: true, WritableLocally: true}, nil)
	err := s.Set("ResetRetries", 5, true)
	assert.Error(t, err)

	err = s.Set("ResetRetries", 5, false)
	assert.NoError(t, err)
	v, _ := s.GetInt("ResetRetries")
	assert.Equal(t, 5, v)
}

func TestSetStringParsesByKind(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	declareSample(s)

	require.NoError(t, s.SetString("HeartbeatInterval", "600", true))
	n, _ := s.GetInt("HeartbeatInterval")
	assert.Equal(t, 600, n)

	require.NoError(t, s.SetString("MeterValuesInTxOnly", "false", true))
	b, _ := s.GetBool("MeterValuesInTxOnly")
	assert.False(t, b)

	require.NoError(t, s.SetString("MeterValuesSampledData", "Power.Active.Import", true))
	str, _ := s.GetString("MeterValuesSampledData")
	assert.Equal(t, "Power.Active.Import", str)
}

func TestSetStringRejectsUnparsableValue(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	declareSample(s)
	err := s.SetString("HeartbeatInterval", "not-a-number", true)
	assert.Error(t, err)
}

func TestSetStringRejectsUnknownKey(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	err := s.SetString("Unknown", "1", true)
	assert.Error(t, err)
}

func TestValidatorRejectsValue(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	s.DeclareInt("HeartbeatInterval", 300, Flags{WritableLocally: true}, func(v interface{}) error {
		if n := v.(int); n <= 0 {
			return assert.AnError
		}
		return nil
	})
	assert.Error(t, s.Set("HeartbeatInterval", -1, false))
	assert.NoError(t, s.Set("HeartbeatInterval", 60, false))
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s := New(fsa)
	declareSample(s)
	require.NoError(t, s.Set("HeartbeatInterval", 120, false))
	require.NoError(t, s.Persist())

	s2 := New(fsa)
	declareSample(s2)
	require.NoError(t, s2.Restore())

	v, ok := s2.GetInt("HeartbeatInterval")
	require.True(t, ok)
	assert.Equal(t, 120, v)
}

func TestPeerReadableFiltersUnreadableKeys(t *testing.T) {
	s := New(fs.NewMemAdapter("state"))
	s.DeclareInt("Visible", 1, Flags{ReadableByPeer: true}, nil)
	s.DeclareInt("Hidden", 2, Flags{}, nil)

	out := s.PeerReadable(nil)
	_, visibleOK := out["Visible"]
	_, hiddenOK := out["Hidden"]
	assert.True(t, visibleOK)
	assert.False(t, hiddenOK)
}
