package metering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/configuration"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

func newTestBuilder(t *testing.T) (*Builder, *configuration.Store) {
	t.Helper()
	cfg := configuration.New(fs.NewMemAdapter("state"))
	cfg.DeclareString("MeterValuesSampledData", "Energy.Active.Import.Register,Power.Active.Import", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareString("MeterValuesAlignedData", "Energy.Active.Import.Register", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareString("StopTxnSampledData", "Energy.Active.Import.Register", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareString("StopTxnAlignedData", "", configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareBool("StopTxnDataCapturePeriodic", false, configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareInt("MeterValueSampleInterval", 0, configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareBool("MeterValuesInTxOnly", true, configuration.Flags{WritableLocally: true}, nil)
	cfg.DeclareInt("ClockAlignedDataInterval", 0, configuration.Flags{WritableLocally: true}, nil)

	reg := NewRegistry()
	reg.Register("Energy.Active.Import.Register", func() (string, string) { return "100", "Wh" })
	reg.Register("Power.Active.Import", func() (string, string) { return "7", "W" })

	clk := clock.New()
	return NewBuilder(reg, cfg, clk), cfg
}

func TestTriggeredSampleDedupesSampledAndAlignedKeys(t *testing.T) {
	b, _ := newTestBuilder(t)
	mv := b.TriggeredSample()
	// MeterValuesAlignedData repeats Energy.Active.Import.Register, which
	// also appears in MeterValuesSampledData: the triggered batch must not
	// duplicate it.
	var energyCount int
	for _, s := range mv.Samples {
		if s.Measurand == "Energy.Active.Import.Register" {
			energyCount++
		}
	}
	assert.Equal(t, 1, energyCount)
	assert.Len(t, mv.Samples, 2)
}

func TestOnEventSampleUsesContextTag(t *testing.T) {
	b, _ := newTestBuilder(t)
	mv := b.OnEventSample(ContextTransactionBegin)
	require.NotEmpty(t, mv.Samples)
	for _, s := range mv.Samples {
		assert.Equal(t, string(ContextTransactionBegin), s.Context)
	}
}

func TestUnregisteredMeasurandIsSkipped(t *testing.T) {
	cfg := configuration.New(fs.NewMemAdapter("state"))
	cfg.DeclareString("MeterValuesSampledData", "Energy.Active.Import.Register,SoC", configuration.Flags{WritableLocally: true}, nil)
	reg := NewRegistry()
	reg.Register("Energy.Active.Import.Register", func() (string, string) { return "5", "Wh" })
	b := NewBuilder(reg, cfg, clock.New())

	mv := b.OnEventSample(ContextTrigger)
	require.Len(t, mv.Samples, 1)
	assert.Equal(t, "Energy.Active.Import.Register", mv.Samples[0].Measurand)
}

func TestForkIntoTransactionSkipsPeriodicWhenCaptureDisabled(t *testing.T) {
	b, cfg := newTestBuilder(t)
	tx := &txstore.Transaction{}

	periodic := b.buildBatch(b.sampledKeys(), ContextSamplePeriodic, b.now())
	b.ForkIntoTransaction(tx, periodic)
	assert.Empty(t, tx.MeterData, "periodic samples must not accrue while capture is disabled")

	require.NoError(t, cfg.Set("StopTxnDataCapturePeriodic", true, false))
	b.ForkIntoTransaction(tx, periodic)
	assert.Len(t, tx.MeterData, 1)
}

func TestForkIntoTransactionAlwaysAccruesNonPeriodicContexts(t *testing.T) {
	b, _ := newTestBuilder(t)
	tx := &txstore.Transaction{}

	begin := b.buildBatch(b.sampledKeys(), ContextTransactionBegin, b.now())
	b.ForkIntoTransaction(tx, begin)
	assert.Len(t, tx.MeterData, 1)
}

func TestForkIntoTransactionIgnoresEmptyBatch(t *testing.T) {
	b, _ := newTestBuilder(t)
	tx := &txstore.Transaction{}
	b.ForkIntoTransaction(tx, txstore.MeterValue{})
	assert.Empty(t, tx.MeterData)
}

func TestStopTxnDataAppendsFinalReadingToBufferedHistory(t *testing.T) {
	b, _ := newTestBuilder(t)
	tx := &txstore.Transaction{
		MeterData: []txstore.MeterValue{
			{Samples: []txstore.SampledValue{{Measurand: "Energy.Active.Import.Register", Value: "50"}}},
		},
	}

	out := b.StopTxnData(tx)
	require.Len(t, out, 2)
	assert.Equal(t, "50", out[0].Samples[0].Value)
	assert.Equal(t, ContextTransactionEnd, ReadingContext(out[1].Samples[0].Context))
}

func TestPollConnectorSkipsPeriodicOutsideTransactionWhenInTxOnly(t *testing.T) {
	b, cfg := newTestBuilder(t)
	require.NoError(t, cfg.Set("MeterValueSampleInterval", 60, false))

	batches := b.PollConnector(1, false)
	assert.Empty(t, batches, "periodic sampling suppressed outside a transaction")

	batches = b.PollConnector(1, true)
	require.Len(t, batches, 1)
}

func TestDedupePreservesFirstOccurrenceOrder(t *testing.T) {
	out := dedupe([]string{"A", "B", "A", "C", "B"})
	assert.Equal(t, []string{"A", "B", "C"}, out)
}

func TestParseCSVTrimsAndDropsEmpty(t *testing.T) {
	out := parseCSV(" A , , B ,C")
	assert.Equal(t, []string{"A", "B", "C"}, out)
}
