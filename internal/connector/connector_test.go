package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

func newTestConnector(t *testing.T) (*Connector, *txstore.Store) {
	t.Helper()
	fsa := fs.NewMemAdapter("state")
	store := txstore.New(fsa)
	clk := clock.New()
	return New(1, store, clk), store
}

func TestNewConnectorStartsAvailable(t *testing.T) {
	c, _ := newTestConnector(t)
	assert.Equal(t, StatusAvailable, c.Status())
	assert.True(t, c.Available())
}

func TestPlugInMovesToPreparing(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	assert.Equal(t, StatusPreparing, c.Status())
}

func TestAuthorizeAndPlugBeginsTransaction(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	require.NotNil(t, began)
	assert.True(t, began.Active)
	assert.Equal(t, "TAG1", began.IDTag)
	assert.Equal(t, StatusCharging, c.Status())
}

func TestTxBeginConditionRespectsReservationMismatch(t *testing.T) {
	c, _ := newTestConnector(t)
	c.SetReservation("OTHER", 1000)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	assert.Nil(t, began)
}

func TestPlugOutEndsActiveTransaction(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	require.NotNil(t, began)

	c.PlugOut()
	assert.False(t, began.Active)
	assert.Equal(t, txstore.StopReasonEVDisconnected, began.StopReason)
}

func TestRemoteStopMatchesByTransactionID(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	require.NotNil(t, began)
	began.SetTransactionID(777)

	assert.False(t, c.RemoteStop(1))
	assert.True(t, began.Active)

	assert.True(t, c.RemoteStop(777))
	assert.False(t, began.Active)
	assert.Equal(t, txstore.StopReasonRemote, began.StopReason)
}

func TestSetUnavailableHeldPendingWhileTransactionActive(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	require.NotNil(t, began)

	c.SetUnavailable()
	assert.Equal(t, StatusCharging, c.Status(), "status held pending until transaction ends")

	c.Deauthorize()
	c.Poll()
	assert.False(t, c.Available())
	assert.Equal(t, StatusUnavailable, c.Status())
}

func TestSetFaultEndsActiveTransactionAndReportsFaulted(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	c.Authorize("TAG1")
	began := c.Poll()
	require.NotNil(t, began)

	c.SetFault(ErrorState{Code: "GroundFailure"})
	assert.True(t, c.Faulted())
	assert.Equal(t, StatusFaulted, c.Status())
	assert.False(t, began.Active)

	c.ClearFault("GroundFailure")
	assert.False(t, c.Faulted())
}

func TestRestoreReattachesOpenTransactionAndAdvancesTxNrSeq(t *testing.T) {
	c, store := newTestConnector(t)
	tx := store.Create(1, 5, false)
	tx.Active = true
	tx.StartSent = true
	tx.IDTag = "RESTORED"

	c.Restore(tx)
	assert.Equal(t, tx, c.Transaction())
	assert.Equal(t, StatusCharging, c.Status())

	// A subsequent transaction must not reuse txNr 5.
	c.Stop(txstore.StopReasonLocal)
	c.PlugIn()
	c.Authorize("NEXT")
	began := c.Poll()
	require.NotNil(t, began)
	assert.Equal(t, uint64(7), began.TxNr)
}

func TestRestoreDoesNotReattachClosedTransaction(t *testing.T) {
	c, store := newTestConnector(t)
	tx := store.Create(1, 3, false)
	tx.Active = false
	tx.StartSent = true
	tx.StartConfirmed = true
	tx.StopSent = true
	tx.StopConfirmed = true

	c.Restore(tx)
	assert.Nil(t, c.Transaction())
}

func TestPendingNotificationsDrain(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	notes := c.PendingNotifications()
	require.NotEmpty(t, notes)
	assert.Equal(t, StatusPreparing, notes[len(notes)-1].Status)

	assert.Empty(t, c.PendingNotifications())
}

func TestEmitNotificationUsesMonotonicOffsetBeforeSync(t *testing.T) {
	c, _ := newTestConnector(t)
	c.PlugIn()
	notes := c.PendingNotifications()
	require.NotEmpty(t, notes)
	assert.False(t, notes[len(notes)-1].HasTime)
}

func TestEmitNotificationUsesWallClockAfterSync(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	store := txstore.New(fsa)
	clk := clock.New()
	clk.Sync(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(1, store, clk)

	c.PlugIn()
	notes := c.PendingNotifications()
	require.NotEmpty(t, notes)
	assert.True(t, notes[len(notes)-1].HasTime)
}
