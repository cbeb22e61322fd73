package main

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	appconfig "github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/config"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/bootsvc"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/chargepoint"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/connector"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/metering"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/ocpperr"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/registry"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqqueue"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/reqstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/internal/txstore"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/ocpp/v16"
	"github.com/weilun-shrimp/wlgo_ocpp_charger_simulator/ocpp/v201"
)

var validate = validator.New()

// bootAdapters builds the version-specific BootNotification payload
// builder/parser pair the bootsvc.Service needs, keeping bootsvc itself
// protocol-version agnostic (spec section 4.7).
func bootAdapters(cfg *appconfig.Config) (action string, build bootsvc.BuildPayload, parse bootsvc.ParseResponse) {
	if cfg.IsOCPP16() {
		return v16.ActionBootNotification,
			func(info bootsvc.Info) interface{} {
				return v16.BootNotificationRequest{
					ChargePointVendor: info.Vendor,
					ChargePointModel:  info.Model,
					ChargeBoxSerialNumber: info.SerialNumber,
					FirmwareVersion:   info.FirmwareVersion,
				}
			},
			func(payload json.RawMessage) (bootsvc.RegistrationStatus, int, string, error) {
				var resp v16.BootNotificationResponse
				if err := json.Unmarshal(payload, &resp); err != nil {
					return "", 0, "", err
				}
				return bootsvc.RegistrationStatus(resp.Status), resp.Interval, resp.CurrentTime, nil
			}
	}
	return v201.ActionBootNotification,
		func(info bootsvc.Info) interface{} {
			return v201.BootNotificationRequest{
				Reason: "PowerUp",
				ChargingStation: v201.ChargingStation{
					SerialNumber:    info.SerialNumber,
					Model:           info.Model,
					VendorName:      info.Vendor,
					FirmwareVersion: info.FirmwareVersion,
				},
			}
		},
		func(payload json.RawMessage) (bootsvc.RegistrationStatus, int, string, error) {
			var resp v201.BootNotificationResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				return "", 0, "", err
			}
			return bootsvc.RegistrationStatus(resp.Status), resp.Interval, resp.CurrentTime, nil
		}
}

// heartbeatAdapters builds the version-specific Heartbeat action name and
// currentTime decoder (spec section 4.7).
func heartbeatAdapters(cfg *appconfig.Config) (action string, parseCurrentTime func(json.RawMessage) (string, error)) {
	parse := func(payload json.RawMessage) (string, error) {
		var resp struct {
			CurrentTime string `json:"currentTime"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return "", err
		}
		return resp.CurrentTime, nil
	}
	if cfg.IsOCPP16() {
		return v16.ActionHeartbeat, parse
	}
	return v201.ActionHeartbeat, parse
}

// registerStatusNotificationEmitter wires every connector's queued
// StatusNotification (spec section 4.5.2) into the main request queue. The
// notification is submitted volatile: it is not replayed across reboot,
// since Connector.recompute() re-derives and re-queues the current status
// on the next tick regardless (design note, DESIGN.md).
func registerStatusNotificationEmitter(model *chargepoint.Model, queue *reqqueue.Queue, cfg *appconfig.Config) {
	model.OnStatusNotification(func(connectorID int, n connector.Notification) {
		timestamp := ""
		if n.HasTime {
			timestamp = n.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
		}

		var action string
		var build func() reqqueue.PayloadResult
		if cfg.IsOCPP16() {
			action = v16.ActionStatusNotification
			build = func() reqqueue.PayloadResult {
				return reqqueue.PayloadResult{Payload: v16.StatusNotificationRequest{
					ConnectorId: connectorID,
					ErrorCode:   n.ErrorCode,
					Status:      v16.ChargePointStatus(n.Status),
					Timestamp:   timestamp,
				}}
			}
		} else {
			action = v201.ActionStatusNotification
			build = func() reqqueue.PayloadResult {
				return reqqueue.PayloadResult{Payload: v201.StatusNotificationRequest{
					Timestamp:       timestamp,
					ConnectorStatus: mapConnectorStatusV201(n.Status),
					EvseId:          connectorID,
					ConnectorId:     connectorID,
				}}
			}
		}

		queue.EnqueueVolatile(&reqqueue.Request{
			Action:  action,
			Timeout: reqqueue.Fixed,
			Build:   build,
			OnError: func(rpcErr *ocpperr.RPCError) bool {
				log.Warn().Err(rpcErr).Int("connectorId", connectorID).Msg("StatusNotification failed")
				return true
			},
		})
	})
}

func mapConnectorStatusV201(s connector.Status) v201.ConnectorStatus {
	switch s {
	case connector.StatusAvailable:
		return v201.ConnectorStatusAvailable
	case connector.StatusReserved:
		return v201.ConnectorStatusReserved
	case connector.StatusUnavailable:
		return v201.ConnectorStatusUnavailable
	case connector.StatusFaulted:
		return v201.ConnectorStatusFaulted
	default:
		// Preparing/Charging/SuspendedEV/SuspendedEVSE/Finishing collapse
		// into Occupied (OCPP 2.0.1's coarser connector-status enum).
		return v201.ConnectorStatusOccupied
	}
}

// persistentSubmitter reserves an OpNr, commits the record, and pushes a
// matching reqqueue.Request onto a chargepoint.OpNrRequestEmitter so a
// StartTransaction/StopTransaction/TransactionEvent submission survives a
// reboot before its confirmation arrives (spec section 3, 4.3, 4.5.1).
type persistentSubmitter struct {
	store   *reqstore.Store
	emitter *chargepoint.OpNrRequestEmitter
}

func newPersistentSubmitter(store *reqstore.Store, emitter *chargepoint.OpNrRequestEmitter) *persistentSubmitter {
	return &persistentSubmitter{store: store, emitter: emitter}
}

func (p *persistentSubmitter) submit(action string, payload interface{}, onReply func(json.RawMessage), opNrField *reqstore.OpNr, hasOpNrField *bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to marshal persistent request payload")
		return
	}
	opNr, err := p.store.ReserveOpNr()
	if err == nil {
		err = p.store.Commit(opNr, action, data)
	}
	persistent := err == nil
	if persistent {
		*opNrField = opNr
		*hasOpNrField = true
	} else {
		log.Error().Err(err).Str("action", action).Msg("failed to persist request; submitting it volatile")
	}

	p.emitter.Push(&reqqueue.Request{
		Action:     action,
		Persistent: persistent,
		OpNr:       opNr,
		HasOpNr:    persistent,
		Timeout:    reqqueue.OfflineSensitive,
		Build: func() reqqueue.PayloadResult {
			return reqqueue.PayloadResult{Payload: payload}
		},
		OnReply: onReply,
		OnError: func(rpcErr *ocpperr.RPCError) bool {
			log.Warn().Err(rpcErr).Str("action", action).Msg("persistent request failed")
			return true
		},
	})
}

// restorePendingRequests re-enqueues every reqstore.Record left over from a
// prior boot (spec section 3: "Restores pending operations across
// reboot"). Each record is matched back to the connector's restored
// transaction by StartOpNr/StopOpNr, so a late StartTransaction
// confirmation still back-fills TransactionID before a queued
// StopTransaction is sent (spec section 4.5.1).
func restorePendingRequests(model *chargepoint.Model, store *reqstore.Store, emitter *chargepoint.OpNrRequestEmitter) error {
	records, err := store.Pending()
	if err != nil {
		return err
	}
	for _, rec := range records {
		rec := rec
		tx := findTransactionByOpNr(model, rec.OpNr)
		emitter.Push(&reqqueue.Request{
			Action:     rec.Action,
			Persistent: true,
			OpNr:       rec.OpNr,
			HasOpNr:    true,
			Timeout:    reqqueue.OfflineSensitive,
			Build: func() reqqueue.PayloadResult {
				if tx != nil && tx.HasStopOpNr && tx.StopOpNr == rec.OpNr && tx.HasTxID {
					var body map[string]interface{}
					if err := json.Unmarshal(rec.Payload, &body); err == nil {
						if _, ok := body["transactionId"]; ok {
							body["transactionId"] = tx.TransactionID
							return reqqueue.PayloadResult{Payload: body}
						}
					}
				}
				return reqqueue.PayloadResult{Payload: json.RawMessage(rec.Payload)}
			},
			OnReply: func(payload json.RawMessage) {
				if tx == nil {
					return
				}
				if tx.HasStartOpNr && tx.StartOpNr == rec.OpNr {
					var v16resp v16.StartTransactionResponse
					if err := json.Unmarshal(payload, &v16resp); err == nil && v16resp.TransactionId != 0 {
						tx.SetTransactionID(v16resp.TransactionId)
					} else {
						tx.SetTransactionID(int(tx.TxNr))
					}
					tx.StartConfirmed = true
					if err := model.CommitTransaction(tx); err != nil {
						log.Warn().Err(err).Uint64("txNr", tx.TxNr).Msg("failed to commit StartTransaction confirmation")
					}
				}
				if tx.HasStopOpNr && tx.StopOpNr == rec.OpNr {
					tx.StopConfirmed = true
					if err := model.CommitTransaction(tx); err != nil {
						log.Warn().Err(err).Uint64("txNr", tx.TxNr).Msg("failed to commit StopTransaction confirmation")
					}
				}
			},
			OnError: func(rpcErr *ocpperr.RPCError) bool {
				log.Warn().Err(rpcErr).Str("action", rec.Action).Msg("restored persistent request failed")
				return true
			},
		})
	}
	return nil
}

func findTransactionByOpNr(model *chargepoint.Model, opNr reqstore.OpNr) *txstore.Transaction {
	for _, c := range model.Connectors {
		tx := c.Transaction()
		if tx == nil {
			continue
		}
		if (tx.HasStartOpNr && tx.StartOpNr == opNr) || (tx.HasStopOpNr && tx.StopOpNr == opNr) {
			return tx
		}
	}
	return nil
}

// registerTransactionEmitters wires Connector-begun/ended transactions into
// persistent StartTransaction/StopTransaction (OCPP 1.6) or TransactionEvent
// Started/Ended (OCPP 2.0.1) submissions, and every sampled meter batch into
// MeterValues (spec section 4.5.1, 4.5.3, 4.6). Start/Stop submission is
// persistent (reqStore-backed, survives reboot); MeterValues is persistent
// for batches tagged with a transaction and volatile otherwise.
func registerTransactionEmitters(model *chargepoint.Model, submitter *persistentSubmitter, queue *reqqueue.Queue, cfg *appconfig.Config) {
	commit := func(tx *txstore.Transaction, what string) {
		if err := model.CommitTransaction(tx); err != nil {
			log.Warn().Err(err).Uint64("txNr", tx.TxNr).Str("mutation", what).Msg("failed to commit transaction")
		}
	}

	model.OnTransactionBegin(func(connectorID int, tx *txstore.Transaction) {
		tx.StartTimestamp = time.Now().UTC()
		tx.StartSent = true
		commit(tx, "start_sent")

		if cfg.IsOCPP16() {
			submitter.submit(v16.ActionStartTransaction, v16.StartTransactionRequest{
				ConnectorId: connectorID,
				IdTag:       tx.IDTag,
				MeterStart:  tx.MeterStart,
				Timestamp:   tx.StartTimestamp.Format("2006-01-02T15:04:05.000Z"),
			}, func(payload json.RawMessage) {
				var resp v16.StartTransactionResponse
				if err := json.Unmarshal(payload, &resp); err == nil {
					tx.SetTransactionID(resp.TransactionId)
					tx.StartConfirmed = true
					commit(tx, "start_confirmed")
				}
			}, &tx.StartOpNr, &tx.HasStartOpNr)
			return
		}

		submitter.submit(v201.ActionTransactionEvent, v201.TransactionEventRequest{
			EventType:     v201.TransactionEventStarted,
			Timestamp:     tx.StartTimestamp.Format("2006-01-02T15:04:05.000Z"),
			TriggerReason: v201.TriggerReasonCablePluggedIn,
			SeqNo:         0,
			TransactionInfo: v201.Transaction{
				TransactionId: strconv.FormatUint(tx.TxNr, 10),
			},
			Evse:    &v201.EVSE{Id: connectorID, ConnectorId: connectorID},
			IdToken: &v201.IdToken{IdToken: tx.IDTag, Type: "Central"},
		}, func(payload json.RawMessage) {
			tx.SetTransactionID(int(tx.TxNr))
			tx.StartConfirmed = true
			commit(tx, "start_confirmed")
		}, &tx.StartOpNr, &tx.HasStartOpNr)
	})

	model.OnTransactionEnd(func(connectorID int, tx *txstore.Transaction) {
		tx.StopSent = true
		commit(tx, "stop_sent")

		if cfg.IsOCPP16() {
			submitter.submit(v16.ActionStopTransaction, v16.StopTransactionRequest{
				IdTag:           tx.StopIDTag,
				MeterStop:       tx.MeterStop,
				Timestamp:       stopTimestamp(tx),
				TransactionId:   tx.TransactionID,
				Reason:          string(tx.StopReason),
				TransactionData: toV16MeterEntries(model.Metering.StopTxnData(tx)),
			}, func(payload json.RawMessage) {
				tx.StopConfirmed = true
				commit(tx, "stop_confirmed")
			}, &tx.StopOpNr, &tx.HasStopOpNr)
			return
		}

		submitter.submit(v201.ActionTransactionEvent, v201.TransactionEventRequest{
			EventType:     v201.TransactionEventEnded,
			Timestamp:     stopTimestamp(tx),
			TriggerReason: v201.TriggerReasonStopAuthorized,
			SeqNo:         1,
			TransactionInfo: v201.Transaction{
				TransactionId: strconv.FormatUint(tx.TxNr, 10),
				StoppedReason: string(tx.StopReason),
			},
			Evse: &v201.EVSE{Id: connectorID, ConnectorId: connectorID},
		}, func(payload json.RawMessage) {
			tx.StopConfirmed = true
			commit(tx, "stop_confirmed")
		}, &tx.StopOpNr, &tx.HasStopOpNr)
	})

	model.OnMeterValue(func(pmv metering.PendingMeterValue) {
		// In-transaction MeterValues are transaction-related and must
		// survive a reboot before they are confirmed, so they are
		// submitted the same persistent, OpNr-reserved way as
		// Start/StopTransaction (spec section 4.6, 3's "OpNr N, N+1"
		// example). Samples taken outside any transaction (periodic
		// sampling with MeterValuesInTxOnly disabled) have nothing to
		// recover on reboot and stay volatile.
		if !pmv.HasTx {
			if cfg.IsOCPP16() {
				queue.EnqueueVolatile(&reqqueue.Request{
					Action:  v16.ActionMeterValues,
					Timeout: reqqueue.Fixed,
					Build: func() reqqueue.PayloadResult {
						return reqqueue.PayloadResult{Payload: v16.MeterValuesRequest{
							ConnectorId: pmv.ConnectorID,
							MeterValue:  toV16MeterEntries([]txstore.MeterValue{pmv.Batch}),
						}}
					},
				})
				return
			}
			queue.EnqueueVolatile(&reqqueue.Request{
				Action:  v201.ActionMeterValues,
				Timeout: reqqueue.Fixed,
				Build: func() reqqueue.PayloadResult {
					return reqqueue.PayloadResult{Payload: v201.MeterValuesRequest{
						EvseId:     pmv.ConnectorID,
						MeterValue: toV201MeterEntries([]txstore.MeterValue{pmv.Batch}),
					}}
				},
			})
			return
		}

		if cfg.IsOCPP16() {
			submitter.submit(v16.ActionMeterValues, v16.MeterValuesRequest{
				ConnectorId:   pmv.ConnectorID,
				TransactionId: int(pmv.TxNr),
				MeterValue:    toV16MeterEntries([]txstore.MeterValue{pmv.Batch}),
			}, nil, &pmv.OpNr, &pmv.HasOpNr)
			return
		}
		submitter.submit(v201.ActionMeterValues, v201.MeterValuesRequest{
			EvseId:     pmv.ConnectorID,
			MeterValue: toV201MeterEntries([]txstore.MeterValue{pmv.Batch}),
		}, nil, &pmv.OpNr, &pmv.HasOpNr)
	})
}

func stopTimestamp(tx *txstore.Transaction) string {
	if tx.StopTimestamp.IsZero() {
		return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return tx.StopTimestamp.UTC().Format("2006-01-02T15:04:05.000Z")
}

func toV16MeterEntries(in []txstore.MeterValue) []v16.MeterValueEntry {
	out := make([]v16.MeterValueEntry, 0, len(in))
	for _, mv := range in {
		entry := v16.MeterValueEntry{Timestamp: mv.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")}
		for _, s := range mv.Samples {
			entry.SampledValue = append(entry.SampledValue, v16.SampledValue{
				Value: s.Value, Context: s.Context, Format: s.Format,
				Measurand: s.Measurand, Phase: s.Phase, Location: s.Location, Unit: s.Unit,
			})
		}
		out = append(out, entry)
	}
	return out
}

func toV201MeterEntries(in []txstore.MeterValue) []v201.MeterValue {
	out := make([]v201.MeterValue, 0, len(in))
	for _, mv := range in {
		entry := v201.MeterValue{Timestamp: mv.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")}
		for _, s := range mv.Samples {
			value, _ := strconv.ParseFloat(s.Value, 64)
			entry.SampledValue = append(entry.SampledValue, v201.SampledValue{
				Value: value, Context: s.Context, Measurand: s.Measurand,
				Phase: s.Phase, Location: s.Location,
				UnitOfMeasure: &v201.UnitOfMeasure{Unit: s.Unit},
			})
		}
		out = append(out, entry)
	}
	return out
}

// registerHandlers installs the inbound-Call registry used for every
// server-initiated action (spec section 4.2, 6.2). Handlers are thin: they
// validate, mutate connector/configuration state, and report a confirmation
// immediately (none of these defer, so SimpleHandler suffices).
func registerHandlers(reg *registry.Registry, model *chargepoint.Model, cfg *appconfig.Config) {
	simple := func(handle func(payload json.RawMessage) (interface{}, *ocpperr.RPCError)) registry.Factory {
		return func() registry.Handler { return &registry.SimpleHandler{Handle: handle} }
	}

	decodeValidate := func(payload json.RawMessage, target interface{}) *ocpperr.RPCError {
		if err := json.Unmarshal(payload, target); err != nil {
			return ocpperr.NewRPCError(ocpperr.CodeFormationViolation, err.Error(), nil)
		}
		if err := validate.Struct(target); err != nil {
			return ocpperr.NewRPCError(ocpperr.CodePropertyConstraintViolation, err.Error(), nil)
		}
		return nil
	}

	if cfg.IsOCPP16() {
		reg.Register(v16.ActionRemoteStartTransaction, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.RemoteStartTransactionRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			connID := req.ConnectorId
			if connID == 0 {
				connID = 1
			}
			c := model.Connector(connID)
			if c == nil || !c.Available() {
				return v16.RemoteStartTransactionResponse{Status: "Rejected"}, nil
			}
			c.RemoteStart(req.IdTag)
			return v16.RemoteStartTransactionResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionRemoteStopTransaction, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.RemoteStopTransactionRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			for _, c := range model.Connectors {
				if c.RemoteStop(req.TransactionId) {
					return v16.RemoteStopTransactionResponse{Status: "Accepted"}, nil
				}
			}
			return v16.RemoteStopTransactionResponse{Status: "Rejected"}, nil
		}))

		reg.Register(v16.ActionReset, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.ResetRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			reason := txstore.StopReasonSoftReset
			if req.Type == "Hard" {
				reason = txstore.StopReasonHardReset
			}
			for _, c := range model.Connectors {
				c.Stop(reason)
			}
			return v16.ResetResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionChangeAvailability, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.ChangeAvailabilityRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			c := model.Connector(req.ConnectorId)
			if c == nil {
				return v16.ChangeAvailabilityResponse{Status: "Rejected"}, nil
			}
			if req.Type == "Inoperative" {
				c.SetUnavailable()
			} else {
				c.SetAvailable()
			}
			status := "Accepted"
			if tx := c.Transaction(); tx != nil && tx.Active && req.Type == "Inoperative" {
				status = "Scheduled"
			}
			return v16.ChangeAvailabilityResponse{Status: status}, nil
		}))

		reg.Register(v16.ActionUnlockConnector, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.UnlockConnectorRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			c := model.Connector(req.ConnectorId)
			if c == nil {
				return v16.UnlockConnectorResponse{Status: "NotSupported"}, nil
			}
			c.Stop(txstore.StopReasonUnlockCommand)
			return v16.UnlockConnectorResponse{Status: "Unlocked"}, nil
		}))

		reg.Register(v16.ActionReserveNow, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.ReserveNowRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			c := model.Connector(req.ConnectorId)
			if c == nil || c.Faulted() {
				return v16.ReserveNowResponse{Status: "Rejected"}, nil
			}
			if c.Transaction() != nil && c.Transaction().Active {
				return v16.ReserveNowResponse{Status: "Occupied"}, nil
			}
			c.SetReservation(req.IdTag, 0)
			return v16.ReserveNowResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionCancelReservation, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.CancelReservationRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			for _, c := range model.Connectors {
				c.CancelReservation()
			}
			return v16.CancelReservationResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionTriggerMessage, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.TriggerMessageRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			if req.RequestedMessage != v16.ActionStatusNotification {
				return v16.TriggerMessageResponse{Status: "NotImplemented"}, nil
			}
			if req.ConnectorId != 0 {
				if c := model.Connector(req.ConnectorId); c != nil {
					c.TriggerStatusNotification()
				}
			} else {
				for _, c := range model.Connectors {
					c.TriggerStatusNotification()
				}
			}
			return v16.TriggerMessageResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionSetChargingProfile, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.SetChargingProfileRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			// Smart-charging schedules are accepted but not interpreted
			// (profile selection/charging-rate enforcement is outside this
			// core, spec section 2's Non-goals).
			return v16.SetChargingProfileResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionClearChargingProfile, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return v16.ClearChargingProfileResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionGetConfiguration, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.GetConfigurationRequest
			_ = json.Unmarshal(payload, &req)
			kv := model.ConfigurationStore().PeerReadable(req.Key)
			resp := v16.GetConfigurationResponse{}
			for k, v := range kv {
				resp.ConfigurationKey = append(resp.ConfigurationKey, v16.ConfigurationKeyValue{Key: k, Value: v})
			}
			return resp, nil
		}))

		reg.Register(v16.ActionChangeConfiguration, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			var req v16.ChangeConfigurationRequest
			if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
				return nil, rpcErr
			}
			if _, ok := model.ConfigurationStore().Flags(req.Key); !ok {
				return v16.ChangeConfigurationResponse{Status: "NotSupported"}, nil
			}
			if err := model.ConfigurationStore().SetString(req.Key, req.Value, true); err != nil {
				return v16.ChangeConfigurationResponse{Status: "Rejected"}, nil
			}
			return v16.ChangeConfigurationResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionClearCache, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			if err := model.ClearCache(); err != nil {
				return v16.ClearCacheResponse{Status: "Rejected"}, nil
			}
			return v16.ClearCacheResponse{Status: "Accepted"}, nil
		}))

		reg.Register(v16.ActionDataTransfer, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
			return v16.DataTransferResponse{Status: "UnknownVendorId"}, nil
		}))
		return
	}

	// OCPP 2.0.1 inbound actions whose wire shape differs from 1.6 but
	// whose effect on the connector model is the same.
	reg.Register(v201.ActionRequestStartTransaction, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.RequestStartTransactionRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		connID := req.EvseId
		if connID == 0 {
			connID = 1
		}
		c := model.Connector(connID)
		if c == nil || !c.Available() {
			return v201.RequestStartTransactionResponse{Status: "Rejected"}, nil
		}
		c.RemoteStart(req.IdToken.IdToken)
		return v201.RequestStartTransactionResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionRequestStopTransaction, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.RequestStopTransactionRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		txNr, err := strconv.ParseUint(req.TransactionId, 10, 64)
		if err != nil {
			return v201.RequestStopTransactionResponse{Status: "Rejected"}, nil
		}
		for _, c := range model.Connectors {
			if tx := c.Transaction(); tx != nil && tx.Active && tx.TxNr == txNr {
				c.Stop(txstore.StopReasonRemote)
				return v201.RequestStopTransactionResponse{Status: "Accepted"}, nil
			}
		}
		return v201.RequestStopTransactionResponse{Status: "Rejected"}, nil
	}))

	reg.Register(v201.ActionReset, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.ResetRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		reason := txstore.StopReasonSoftReset
		if req.Type == "Immediate" {
			reason = txstore.StopReasonHardReset
		}
		for _, c := range model.Connectors {
			c.Stop(reason)
		}
		return v201.ResetResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionChangeAvailability, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.ChangeAvailabilityRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		connID := 1
		if req.Evse != nil {
			connID = req.Evse.Id
		}
		c := model.Connector(connID)
		if c == nil {
			return v201.ChangeAvailabilityResponse{Status: "Rejected"}, nil
		}
		if req.OperationalStatus == "Inoperative" {
			c.SetUnavailable()
		} else {
			c.SetAvailable()
		}
		return v201.ChangeAvailabilityResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionUnlockConnector, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.UnlockConnectorRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		c := model.Connector(req.ConnectorId)
		if c == nil {
			return v201.UnlockConnectorResponse{Status: "NotSupported"}, nil
		}
		c.Stop(txstore.StopReasonUnlockCommand)
		return v201.UnlockConnectorResponse{Status: "Unlocked"}, nil
	}))

	reg.Register(v201.ActionReserveNow, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.ReserveNowRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		connID := req.EvseId
		if connID == 0 {
			connID = 1
		}
		c := model.Connector(connID)
		if c == nil || c.Faulted() {
			return v201.ReserveNowResponse{Status: "Rejected"}, nil
		}
		c.SetReservation(req.IdToken.IdToken, 0)
		return v201.ReserveNowResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionCancelReservation, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		var req v201.CancelReservationRequest
		if rpcErr := decodeValidate(payload, &req); rpcErr != nil {
			return nil, rpcErr
		}
		for _, c := range model.Connectors {
			c.CancelReservation()
		}
		return v201.CancelReservationResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionTriggerMessage, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		for _, c := range model.Connectors {
			c.TriggerStatusNotification()
		}
		return v201.TriggerMessageResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionSetChargingProfile, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		return v201.SetChargingProfileResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionClearChargingProfile, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		return v201.ClearChargingProfileResponse{Status: "Accepted"}, nil
	}))

	reg.Register(v201.ActionDataTransfer, simple(func(payload json.RawMessage) (interface{}, *ocpperr.RPCError) {
		return v201.DataTransferResponse{Status: "UnknownVendorId"}, nil
	}))
}
