package chargepoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/configuration"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/connector"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/metering"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	fsa := fs.NewMemAdapter("state")
	cfg := configuration.New(fsa)
	cfg.DeclareString("MeterValuesSampledData", "", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareString("MeterValuesAlignedData", "", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareInt("MeterValueSampleInterval", 0, configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareInt("ClockAlignedDataInterval", 0, configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareBool("MeterValuesInTxOnly", true, configuration.Flags{WritableLocally: true}, nil)

	txStore := txstore.New(fsa)
	clk := clock.New()
	meteringBuilder := metering.NewBuilder(metering.NewRegistry(), cfg, clk)
	return NewModel(2, cfg, txStore, fsa, clk, meteringBuilder)
}

func TestNewModelCreatesOneConnectorPerSlot(t *testing.T) {
	m := newTestModel(t)
	require.Len(t, m.Connectors, 2)
	assert.Equal(t, 1, m.Connectors[0].ID)
	assert.Equal(t, 2, m.Connectors[1].ID)
	assert.NotNil(t, m.Connector(1))
	assert.Nil(t, m.Connector(99))
}

func TestConfigurationStoreReturnsSameInstance(t *testing.T) {
	m := newTestModel(t)
	require.NoError(t, m.ConfigurationStore().Set("MeterValueSampleInterval", 30, false))
	v, ok := m.ConfigurationStore().GetInt("MeterValueSampleInterval")
	require.True(t, ok)
	assert.Equal(t, 30, v)
}

func TestPollFiresTransactionBeginAndEndCallbacks(t *testing.T) {
	m := newTestModel(t)

	var began, ended *txstore.Transaction
	m.OnTransactionBegin(func(connectorID int, tx *txstore.Transaction) { began = tx })
	m.OnTransactionEnd(func(connectorID int, tx *txstore.Transaction) { ended = tx })

	c := m.Connector(1)
	c.PlugIn()
	c.Authorize("TAG1")

	now := time.Now()
	m.Poll(now, 0)
	require.NotNil(t, began)
	assert.True(t, began.Active)

	c.Stop(txstore.StopReasonLocal)
	m.Poll(now, 0)
	require.NotNil(t, ended)
	assert.False(t, ended.Active)
}

func TestPollEmitsStatusNotifications(t *testing.T) {
	m := newTestModel(t)
	var seen []connector.Notification
	m.OnStatusNotification(func(connectorID int, n connector.Notification) { seen = append(seen, n) })

	m.Connector(1).PlugIn()
	m.Poll(time.Now(), 0)
	assert.NotEmpty(t, seen)
}

func TestOpNrRequestEmitterServesInPushOrder(t *testing.T) {
	e := NewOpNrRequestEmitter("test")
	assert.Equal(t, 0, e.Len())
	_, ok := e.FrontOpNr()
	assert.False(t, ok)

	e.Push(&reqqueue.Request{Action: "A"})
	e.Push(&reqqueue.Request{Action: "B"})
	assert.Equal(t, 2, e.Len())

	first := e.TakeFront()
	require.NotNil(t, first)
	assert.Equal(t, "A", first.Action)
	assert.Equal(t, 1, e.Len())

	second := e.TakeFront()
	require.NotNil(t, second)
	assert.Equal(t, "B", second.Action)

	assert.Nil(t, e.TakeFront())
}

func TestClearCacheDeletesOnlyMatchingFiles(t *testing.T) {
	fsa := fs.NewMemAdapter("state")
	cfg := configuration.New(fsa)
	txStore := txstore.New(fsa)
	clk := clock.New()
	meteringBuilder := metering.NewBuilder(metering.NewRegistry(), cfg, clk)
	m := NewModel(1, cfg, txStore, fsa, clk, meteringBuilder)

	require.NoError(t, fsa.Put("tx-1-1.jsn", []byte("{}")))
	require.NoError(t, fsa.Put("op-7.jsn", []byte("{}")))
	require.NoError(t, fsa.Put("sd-1-1-0.jsn", []byte("{}")))
	require.NoError(t, fsa.Put("ocpp-config.jsn", []byte("{}")))
	require.NoError(t, fsa.Put("client-state.jsn", []byte("{}")))

	require.NoError(t, m.ClearCache())

	for _, key := range []string{"tx-1-1.jsn", "op-7.jsn", "sd-1-1-0.jsn"} {
		_, ok, err := fsa.Get(key)
		require.NoError(t, err)
		assert.False(t, ok, "%s should have been deleted", key)
	}
	for _, key := range []string{"ocpp-config.jsn", "client-state.jsn"} {
		_, ok, err := fsa.Get(key)
		require.NoError(t, err)
		assert.True(t, ok, "%s should have survived", key)
	}
}
