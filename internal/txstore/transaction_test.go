package txstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
)

func TestSetTransactionIDOnce(t *testing.T) {
	tx := &Transaction{}
	tx.SetTransactionID(42)
	tx.SetTransactionID(99)
	assert.Equal(t, 42, tx.TransactionID)
	assert.True(t, tx.HasTxID)
}

func TestValidateStartConfirmedRequiresSent(t *testing.T) {
	tx := &Transaction{StartConfirmed: true}
	assert.Error(t, tx.Validate())

	tx = &Transaction{StartConfirmed: true, Active: true, StartSent: true}
	assert.NoError(t, tx.Validate())

	// A normally-stopped transaction keeps StartConfirmed set with Active
	// false; that must remain valid so Commit can persist the stop.
	tx = &Transaction{StartConfirmed: true, StartSent: true, Active: false, StopConfirmed: true}
	assert.NoError(t, tx.Validate())
}

func TestValidateStopConfirmedRequiresInactive(t *testing.T) {
	tx := &Transaction{StopConfirmed: true, Active: true}
	assert.Error(t, tx.Validate())

	tx = &Transaction{StopConfirmed: true, Active: false}
	assert.NoError(t, tx.Validate())
}

func TestStoreCommitRejectsInvariantViolation(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s := New(fsa)
	tx := s.Create(1, 1, false)
	tx.StopConfirmed = true
	tx.Active = true

	err := s.Commit(tx)
	require.Error(t, err)
}

func TestStoreCommitGetRoundTrip(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s := New(fsa)
	tx := s.Create(1, 1, false)
	tx.IDTag = "ABC123"
	tx.Active = true
	tx.StartSent = true

	require.NoError(t, s.Commit(tx))

	loaded, err := s.Get(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", loaded.IDTag)
	assert.True(t, loaded.Active)
}

func TestStoreGetLoadsFromDiskAfterRestart(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s1 := New(fsa)
	tx := s1.Create(2, 7, false)
	tx.IDTag = "TAG"
	tx.Active = true
	tx.StartSent = true
	require.NoError(t, s1.Commit(tx))

	s2 := New(fsa)
	loaded, err := s2.Get(2, 7)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "TAG", loaded.IDTag)
}

func TestRestoreConnectorOrdersByTxNr(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s1 := New(fsa)
	for _, n := range []uint64{3, 1, 2} {
		tx := s1.Create(5, n, false)
		tx.Active = true
		tx.StartSent = true
		require.NoError(t, s1.Commit(tx))
	}

	s2 := New(fsa)
	txs, err := s2.RestoreConnector(5)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, uint64(1), txs[0].TxNr)
	assert.Equal(t, uint64(2), txs[1].TxNr)
	assert.Equal(t, uint64(3), txs[2].TxNr)
}

func TestRemoveRequiresEligibility(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	s := New(fsa)
	tx := s.Create(1, 1, false)
	tx.Active = true
	tx.StartSent = true
	require.NoError(t, s.Commit(tx))

	err := s.Remove(1, 1)
	assert.Error(t, err)

	tx.Active = false
	tx.StartConfirmed = true
	tx.StopConfirmed = true
	require.NoError(t, s.Commit(tx))
	assert.NoError(t, s.Remove(1, 1))
}
