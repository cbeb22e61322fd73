// Command chargepoint runs one OCPP 1.6-J / 2.0.1 charge point core
// (spec section 1-2): it loads the bootstrap config, wires the storage,
// request, transaction, and metering layers, dials the CSMS, and drives
// Context.Loop until interrupted. Grounded on the source's main.go
// (flag-parsed config path, signal-driven graceful shutdown), rebuilt
// around a single poll loop instead of a goroutine-per-concern runtime
// (design note, spec section 9).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appconfig "github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/config"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/bootsvc"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/chargepoint"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/clock"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/configuration"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/fs"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/heartbeat"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/metering"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/registry"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/transport"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/ocpp/v16"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/ocpp/v201"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = logger

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().
		Str("chargerId", cfg.ChargerID).
		Str("ocppVersion", cfg.OCPPVersion).
		Str("serverUrl", cfg.ServerURL).
		Int("connectors", cfg.NumConnectors).
		Msg("starting chargepoint")

	fsa, err := fs.NewOsAdapter(cfg.StorageRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage root")
	}

	cfgStore := declareConfiguration(fsa)
	if err := cfgStore.Restore(); err != nil {
		log.Warn().Err(err).Msg("failed to restore configuration store")
	}

	txStore := txstore.New(fsa)
	reqStore := reqstore.New(fsa)
	if err := reqStore.Restore(); err != nil {
		log.Fatal().Err(err).Msg("failed to restore request store")
	}

	clk := clock.New()

	tlsConfig, err := cfg.GetTLSConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build TLS config")
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	conn, err := transport.Dial(dialCtx, cfg.ServerURL, cfg.Subprotocol(), tlsConfig)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to CSMS")
	}
	defer conn.Close()

	reg := registry.New()
	preBootQueue := reqqueue.New("pre-boot", conn, reqStore, true)
	mainQueue := reqqueue.New("main", conn, reqStore, false)

	samplerRegistry := buildSamplerRegistry(cfg)
	meteringBuilder := metering.NewBuilder(samplerRegistry, cfgStore, clk)

	model := chargepoint.NewModel(cfg.NumConnectors, cfgStore, txStore, fsa, clk, meteringBuilder)

	bootAction, buildBoot, parseBoot := bootAdapters(cfg)
	chargepoint.SetBootAction(bootAction)
	model.Boot = bootsvc.New(bootsvc.Info{
		Vendor:          cfg.VendorName,
		Model:           cfg.Model,
		SerialNumber:    cfg.ChargerID,
		FirmwareVersion: cfg.FirmwareVersion,
	}, buildBoot, parseBoot, preBootQueue, func(heartbeatIntervalS int) {
		model.Heartbeat.SetIntervalS(heartbeatIntervalS)
		log.Info().Int("intervalS", heartbeatIntervalS).Msg("boot accepted, heartbeat armed")
	})

	heartbeatAction, parseHeartbeatCurrentTime := heartbeatAdapters(cfg)
	model.Heartbeat = heartbeat.New(heartbeatAction, 60, mainQueue, conn.LastRecvTickMs, func(currentTime string) {
		syncClockFromISO8601(clk, currentTime)
	})
	model.Heartbeat.SetParser(parseHeartbeatCurrentTime)

	for _, c := range model.Connectors {
		txs, err := txStore.RestoreConnector(c.ID)
		if err != nil {
			log.Warn().Err(err).Int("connectorId", c.ID).Msg("failed to restore transactions")
			continue
		}
		for _, tx := range txs {
			c.Restore(tx)
		}
	}

	txEmitter := chargepoint.NewOpNrRequestEmitter("transactions")
	mainQueue.AddEmitter(txEmitter)
	submitter := newPersistentSubmitter(reqStore, txEmitter)
	if err := restorePendingRequests(model, reqStore, txEmitter); err != nil {
		log.Fatal().Err(err).Msg("failed to restore pending requests")
	}

	registerStatusNotificationEmitter(model, mainQueue, cfg)
	registerTransactionEmitters(model, submitter, mainQueue, cfg)
	registerHandlers(reg, model, cfg)

	ctx := chargepoint.New(conn, reg, preBootQueue, mainQueue, model, clk)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	log.Info().Msg("entering main loop")
	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutdown requested")
			if err := cfgStore.Persist(); err != nil {
				log.Error().Err(err).Msg("failed to persist configuration on shutdown")
			}
			return
		case <-ticker.C:
			ctx.Loop()
		}
	}
}

// declareConfiguration installs the core-visible configuration keys of
// spec section 6.4 with their defaults and flags.
func declareConfiguration(fsa fs.Adapter) *configuration.Store {
	s := configuration.New(fsa)
	s.DeclareInt("HeartbeatInterval", 300, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareInt("MeterValueSampleInterval", 60, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareString("MeterValuesSampledData", "Energy.Active.Import.Register,Power.Active.Import,Current.Import,Voltage,SoC", configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareString("MeterValuesAlignedData", "Energy.Active.Import.Register", configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareInt("ClockAlignedDataInterval", 0, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareString("StopTxnSampledData", "", configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareString("StopTxnAlignedData", "", configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareBool("StopTxnDataCapturePeriodic", false, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareBool("MeterValuesInTxOnly", true, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	s.DeclareInt("ResetRetries", 3, configuration.Flags{ReadableByPeer: true, WritableByPeer: true, WritableLocally: true}, nil)
	return s
}

// buildSamplerRegistry wires the integrator's live signal sources into
// the named measurands the metering pipeline reads (spec section 4.6).
// The source's inline current/voltage/power/SoC block (charger/meter.go)
// becomes named, independently-registered samplers.
func buildSamplerRegistry(cfg *appconfig.Config) *metering.Registry {
	r := metering.NewRegistry()
	var energyWh int
	r.Register("Energy.Active.Import.Register", func() (string, string) {
		energyWh += 10
		return itoa(energyWh), "Wh"
	})
	r.Register("Power.Active.Import", func() (string, string) { return "0", "W" })
	r.Register("Current.Import", func() (string, string) { return "0", "A" })
	r.Register("Voltage", func() (string, string) { return "230", "V" })
	r.Register("SoC", func() (string, string) { return "0", "Percent" })
	return r
}

func itoa(n int) string {
	return jsonNumber(n)
}

func jsonNumber(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func syncClockFromISO8601(clk *clock.Clock, value string) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return
	}
	clk.Sync(t)
}
