// Package metering implements the MeterValueBuilder and sampling drivers
// of spec section 4.6: periodic, clock-aligned, triggered and on-event
// sampling, CSV-configured measurand selection, per-transaction
// transactionData forking, and the MeterValues request emitter contract.
// It generalizes the source's single hard-coded "energy/voltage/current/
// power/SoC" sample set (charger/meter.go) into a registry of named
// SampledValueSamplers the integrator supplies.
package metering

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/configuration"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
)

// ReadingContext labels why a sample was taken (spec section 4.6).
type ReadingContext string

const (
	ContextSamplePeriodic     ReadingContext = "Sample.Periodic"
	ContextSampleClock        ReadingContext = "Sample.Clock"
	ContextTrigger            ReadingContext = "Trigger"
	ContextTransactionBegin   ReadingContext = "Transaction.Begin"
	ContextTransactionEnd     ReadingContext = "Transaction.End"
	ContextInterruptionBegin  ReadingContext = "Interruption.Begin"
	ContextInterruptionEnd    ReadingContext = "Interruption.End"
)

// Sampler returns one measurement for a named measurand on demand. value
// and unit are copied into the resulting SampledValue.
type Sampler func() (value string, unit string)

// Registry maps measurand name -> Sampler, standing in for the source's
// single inline sample block.
type Registry struct {
	samplers map[string]Sampler
}

// NewRegistry creates an empty sampler Registry.
func NewRegistry() *Registry { return &Registry{samplers: make(map[string]Sampler)} }

// Register installs the sampler for measurand.
func (r *Registry) Register(measurand string, s Sampler) { r.samplers[measurand] = s }

func (r *Registry) sample(measurand string) (txstore.SampledValue, bool) {
	s, ok := r.samplers[measurand]
	if !ok {
		return txstore.SampledValue{}, false
	}
	value, unit := s()
	return txstore.SampledValue{Measurand: measurand, Value: value, Unit: unit}, true
}

// parseCSV splits a measurand selection string (spec section 6.4's
// MeterValuesSampledData/AlignedData/StopTxn… keys), trimming whitespace
// and dropping empties.
func parseCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Builder drives the sampling cadences and emits MeterValue batches (spec
// section 4.6). It does not talk to the request queue itself: the Model
// polls it and hands each batch to its OnMeterValue callback.
type Builder struct {
	registry *Registry
	cfg      *configuration.Store
	clk      *clock.Clock

	lastPeriodicTick     map[int]time.Time // per connector id
	lastClockAlignedDay  map[int]int64     // per connector id, ClockAlignedDataInterval bucket of last emission

	log zerolog.Logger
}

// NewBuilder creates a Builder reading measurand selection from cfg.
func NewBuilder(registry *Registry, cfg *configuration.Store, clk *clock.Clock) *Builder {
	return &Builder{
		registry:            registry,
		cfg:                 cfg,
		clk:                 clk,
		lastPeriodicTick:    make(map[int]time.Time),
		lastClockAlignedDay: make(map[int]int64),
		log:                 log.With().Str("component", "metering").Logger(),
	}
}

func (b *Builder) sampledKeys() []string {
	csv, _ := b.cfg.GetString("MeterValuesSampledData")
	return parseCSV(csv)
}

func (b *Builder) alignedKeys() []string {
	csv, _ := b.cfg.GetString("MeterValuesAlignedData")
	return parseCSV(csv)
}

func (b *Builder) stopTxnSampledKeys() []string {
	csv, _ := b.cfg.GetString("StopTxnSampledData")
	return parseCSV(csv)
}

func (b *Builder) stopTxnAlignedKeys() []string {
	csv, _ := b.cfg.GetString("StopTxnAlignedData")
	return parseCSV(csv)
}

// buildBatch samples every measurand key at the given context, skipping
// unregistered measurands.
func (b *Builder) buildBatch(keys []string, ctx ReadingContext, at time.Time) txstore.MeterValue {
	mv := txstore.MeterValue{Timestamp: at}
	for _, k := range keys {
		sv, ok := b.registry.sample(k)
		if !ok {
			continue
		}
		sv.Context = string(ctx)
		mv.Samples = append(mv.Samples, sv)
	}
	return mv
}

// TriggeredSample builds a batch for every sampled+aligned measurand, for
// a TriggerMessage(MeterValues) request (spec section 4.6's "triggered"
// driver).
func (b *Builder) TriggeredSample() txstore.MeterValue {
	keys := append(append([]string{}, b.sampledKeys()...), b.alignedKeys()...)
	return b.buildBatch(dedupe(keys), ContextTrigger, b.now())
}

// OnEventSample builds a start/stop/interruption batch.
func (b *Builder) OnEventSample(ctx ReadingContext) txstore.MeterValue {
	return b.buildBatch(b.sampledKeys(), ctx, b.now())
}

func (b *Builder) now() time.Time {
	if b.clk.Synced() {
		return b.clk.Now().Time()
	}
	return time.Time{}
}

// PollConnector checks the periodic and clock-aligned cadences for one
// connector and returns any batches due this tick. inTx indicates whether
// connectorId currently has an active transaction (periodic sampling is
// suppressed outside a transaction when MeterValuesInTxOnly is true).
// Clock-aligned samples are skipped until the clock has been synced.
func (b *Builder) PollConnector(connectorID int, inTx bool) []txstore.MeterValue {
	var out []txstore.MeterValue
	now := time.Now().UTC()

	intervalS, _ := b.cfg.GetInt("MeterValueSampleInterval")
	inTxOnly, _ := b.cfg.GetBool("MeterValuesInTxOnly")
	if intervalS > 0 && (inTx || !inTxOnly) {
		last, ok := b.lastPeriodicTick[connectorID]
		if !ok || now.Sub(last) >= time.Duration(intervalS)*time.Second {
			b.lastPeriodicTick[connectorID] = now
			out = append(out, b.buildBatch(b.sampledKeys(), ContextSamplePeriodic, b.now()))
		}
	}

	alignedS, _ := b.cfg.GetInt("ClockAlignedDataInterval")
	if alignedS > 0 && b.clk.Synced() {
		bucket := now.Unix() / int64(alignedS)
		if last, ok := b.lastClockAlignedDay[connectorID]; !ok || bucket != last {
			b.lastClockAlignedDay[connectorID] = bucket
			out = append(out, b.buildBatch(b.alignedKeys(), ContextSampleClock, b.now()))
		}
	}

	return out
}

// ForkIntoTransaction appends mv to tx.MeterData when the sample's context
// is eligible to accrue to stopTxnData (spec section 4.6:
// "StopTxnDataCapturePeriodic selects whether periodic samples accrue").
func (b *Builder) ForkIntoTransaction(tx *txstore.Transaction, mv txstore.MeterValue) {
	if len(mv.Samples) == 0 {
		return
	}
	if len(mv.Samples) > 0 && mv.Samples[0].Context == string(ContextSamplePeriodic) {
		capturePeriodic, _ := b.cfg.GetBool("StopTxnDataCapturePeriodic")
		if !capturePeriodic {
			return
		}
	}
	tx.MeterData = append(tx.MeterData, mv)
}

// StopTxnData builds the final transactionData batch for a StopTransaction
// request: every buffered sample plus one last on-the-spot read of the
// stop-txn measurand sets (spec section 4.6, 6.4).
func (b *Builder) StopTxnData(tx *txstore.Transaction) []txstore.MeterValue {
	keys := dedupe(append(append([]string{}, b.stopTxnSampledKeys()...), b.stopTxnAlignedKeys()...))
	final := b.buildBatch(keys, ContextTransactionEnd, b.now())
	out := append([]txstore.MeterValue{}, tx.MeterData...)
	if len(final.Samples) > 0 {
		out = append(out, final)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// PendingMeterValue is a batch awaiting delivery through the request
// queue, tagged with which connector/transaction it belongs to.
type PendingMeterValue struct {
	ConnectorID   int
	TxNr          uint64
	HasTx         bool
	OpNr          reqstore.OpNr
	HasOpNr       bool
	Batch         txstore.MeterValue
}
