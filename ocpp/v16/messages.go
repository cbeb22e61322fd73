// Package v16 holds the OCPP 1.6-J wire message types (spec section 6.2).
// Framing ([2,id,action,payload] envelopes, id correlation, decode
// validation) lives in internal/rpc; this package only carries the
// request/response payload shapes and action name constants, generalized
// from the source's single-connector subset (ocpp/v16/messages.go) to
// cover every action the core's operation registry and request queue
// need to exercise.
package v16

// Actions (spec section 6.2: action names are case-sensitive ASCII).
const (
	ActionBootNotification          = "BootNotification"
	ActionStatusNotification        = "StatusNotification"
	ActionStartTransaction          = "StartTransaction"
	ActionStopTransaction           = "StopTransaction"
	ActionMeterValues               = "MeterValues"
	ActionRemoteStartTransaction    = "RemoteStartTransaction"
	ActionRemoteStopTransaction     = "RemoteStopTransaction"
	ActionHeartbeat                 = "Heartbeat"
	ActionDataTransfer              = "DataTransfer"
	ActionAuthorize                 = "Authorize"
	ActionReset                     = "Reset"
	ActionChangeAvailability        = "ChangeAvailability"
	ActionUnlockConnector           = "UnlockConnector"
	ActionReserveNow                = "ReserveNow"
	ActionCancelReservation         = "CancelReservation"
	ActionTriggerMessage            = "TriggerMessage"
	ActionSetChargingProfile        = "SetChargingProfile"
	ActionClearChargingProfile      = "ClearChargingProfile"
	ActionGetConfiguration          = "GetConfiguration"
	ActionChangeConfiguration       = "ChangeConfiguration"
	ActionClearCache                = "ClearCache"
)

// ChargePointStatus represents the status of a charge point (spec section
// 4.5.1).
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
)

// RegistrationStatus represents the registration status in a
// BootNotification response (spec section 4.7).
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// BootNotificationRequest is the request for BootNotification.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

// BootNotificationResponse is the response for BootNotification.
type BootNotificationResponse struct {
	Status      RegistrationStatus `json:"status"`
	CurrentTime string             `json:"currentTime"`
	Interval    int                `json:"interval"`
}

// StatusNotificationRequest is the request for StatusNotification.
type StatusNotificationRequest struct {
	ConnectorId     int               `json:"connectorId"`
	ErrorCode       string            `json:"errorCode"`
	Status          ChargePointStatus `json:"status"`
	Timestamp       string            `json:"timestamp,omitempty"`
	Info            string            `json:"info,omitempty"`
	VendorId        string            `json:"vendorId,omitempty"`
	VendorErrorCode string            `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is the response for StatusNotification.
type StatusNotificationResponse struct{}

// StartTransactionRequest is the request for StartTransaction.
type StartTransactionRequest struct {
	ConnectorId   int    `json:"connectorId"`
	IdTag         string `json:"idTag"`
	MeterStart    int    `json:"meterStart"`
	Timestamp     string `json:"timestamp"`
	ReservationId int    `json:"reservationId,omitempty"`
}

// StartTransactionResponse is the response for StartTransaction.
type StartTransactionResponse struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionId int       `json:"transactionId"`
}

// IdTagInfo carries authorization information (spec section 6.2's idTag
// CiString cap of 20 applies to ParentIdTag).
type IdTagInfo struct {
	Status      string `json:"status"`
	ExpiryDate  string `json:"expiryDate,omitempty"`
	ParentIdTag string `json:"parentIdTag,omitempty"`
}

// StopTransactionRequest is the request for StopTransaction.
type StopTransactionRequest struct {
	IdTag           string            `json:"idTag,omitempty"`
	MeterStop       int               `json:"meterStop"`
	Timestamp       string            `json:"timestamp"`
	TransactionId   int               `json:"transactionId"`
	Reason          string            `json:"reason,omitempty"`
	TransactionData []MeterValueEntry `json:"transactionData,omitempty"`
}

// StopTransactionResponse is the response for StopTransaction.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// MeterValuesRequest is the request for MeterValues.
type MeterValuesRequest struct {
	ConnectorId   int               `json:"connectorId"`
	TransactionId int               `json:"transactionId,omitempty"`
	MeterValue    []MeterValueEntry `json:"meterValue"`
}

// MeterValueEntry is one sampled batch (spec section 3's MeterValue).
type MeterValueEntry struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// SampledValue is one measurement (spec section 3's SampledValue).
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValuesResponse is the response for MeterValues.
type MeterValuesResponse struct{}

// RemoteStartTransactionRequest is the request from server to start a
// transaction.
type RemoteStartTransactionRequest struct {
	IdTag           string           `json:"idTag" validate:"required"`
	ConnectorId     int              `json:"connectorId,omitempty"`
	ChargingProfile *ChargingProfile `json:"chargingProfile,omitempty"`
}

// ChargingProfile models SmartCharging's ChargingProfile (carried through
// SetChargingProfile/RemoteStartTransaction, not interpreted — smart
// charging algorithms are outside this core, spec section 2's Non-goals).
type ChargingProfile struct {
	ChargingProfileId      int               `json:"chargingProfileId"`
	TransactionId          int               `json:"transactionId,omitempty"`
	StackLevel             int               `json:"stackLevel"`
	ChargingProfilePurpose string            `json:"chargingProfilePurpose"`
	ChargingProfileKind    string            `json:"chargingProfileKind"`
	RecurrencyKind         string            `json:"recurrencyKind,omitempty"`
	ValidFrom              string            `json:"validFrom,omitempty"`
	ValidTo                string            `json:"validTo,omitempty"`
	ChargingSchedule       *ChargingSchedule `json:"chargingSchedule"`
}

// ChargingSchedule is the schedule body of a ChargingProfile.
type ChargingSchedule struct {
	Duration               int                      `json:"duration,omitempty"`
	StartSchedule          string                   `json:"startSchedule,omitempty"`
	ChargingRateUnit       string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []ChargingSchedulePeriod `json:"chargingSchedulePeriod"`
	MinChargingRate        float64                  `json:"minChargingRate,omitempty"`
}

// ChargingSchedulePeriod is one period within a ChargingSchedule.
type ChargingSchedulePeriod struct {
	StartPeriod  int     `json:"startPeriod"`
	Limit        float64 `json:"limit"`
	NumberPhases int     `json:"numberPhases,omitempty"`
}

// RemoteStartTransactionResponse is the response to
// RemoteStartTransaction.
type RemoteStartTransactionResponse struct {
	Status string `json:"status"` // Accepted, Rejected
}

// RemoteStopTransactionRequest is the request from server to stop a
// transaction.
type RemoteStopTransactionRequest struct {
	TransactionId int `json:"transactionId" validate:"required"`
}

// RemoteStopTransactionResponse is the response to RemoteStopTransaction.
type RemoteStopTransactionResponse struct {
	Status string `json:"status"` // Accepted, Rejected
}

// HeartbeatRequest is the request for Heartbeat.
type HeartbeatRequest struct{}

// HeartbeatResponse is the response for Heartbeat.
type HeartbeatResponse struct {
	CurrentTime string `json:"currentTime"`
}

// DataTransferRequest is the request for DataTransfer.
type DataTransferRequest struct {
	VendorId  string `json:"vendorId"`
	MessageId string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse is the response for DataTransfer.
type DataTransferResponse struct {
	Status string `json:"status"` // Accepted, Rejected, UnknownMessageId, UnknownVendorId
	Data   string `json:"data,omitempty"`
}

// AuthorizeRequest is the request for Authorize.
type AuthorizeRequest struct {
	IdTag string `json:"idTag" validate:"required"`
}

// AuthorizeResponse is the response for Authorize.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// ResetRequest is the request for Reset.
type ResetRequest struct {
	Type string `json:"type" validate:"required,oneof=Hard Soft"` // Hard, Soft
}

// ResetResponse is the response for Reset.
type ResetResponse struct {
	Status string `json:"status"` // Accepted, Rejected
}

// ChangeAvailabilityRequest is the request for ChangeAvailability.
type ChangeAvailabilityRequest struct {
	ConnectorId int    `json:"connectorId" validate:"gte=0"`
	Type        string `json:"type" validate:"required,oneof=Inoperative Operative"`
}

// ChangeAvailabilityResponse is the response for ChangeAvailability.
type ChangeAvailabilityResponse struct {
	Status string `json:"status"` // Accepted, Rejected, Scheduled
}

// UnlockConnectorRequest is the request for UnlockConnector.
type UnlockConnectorRequest struct {
	ConnectorId int `json:"connectorId" validate:"required,gt=0"`
}

// UnlockConnectorResponse is the response for UnlockConnector.
type UnlockConnectorResponse struct {
	Status string `json:"status"` // Unlocked, UnlockFailed, NotSupported
}

// ReserveNowRequest is the request for ReserveNow.
type ReserveNowRequest struct {
	ConnectorId   int    `json:"connectorId" validate:"gte=0"`
	ExpiryDate    string `json:"expiryDate" validate:"required"`
	IdTag         string `json:"idTag" validate:"required"`
	ParentIdTag   string `json:"parentIdTag,omitempty"`
	ReservationId int    `json:"reservationId"`
}

// ReserveNowResponse is the response for ReserveNow.
type ReserveNowResponse struct {
	Status string `json:"status"` // Accepted, Faulted, Occupied, Rejected, Unavailable
}

// CancelReservationRequest is the request for CancelReservation.
type CancelReservationRequest struct {
	ReservationId int `json:"reservationId" validate:"required"`
}

// CancelReservationResponse is the response for CancelReservation.
type CancelReservationResponse struct {
	Status string `json:"status"` // Accepted, Rejected
}

// TriggerMessageRequest is the request for TriggerMessage.
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required"`
	ConnectorId      int    `json:"connectorId,omitempty"`
}

// TriggerMessageResponse is the response for TriggerMessage.
type TriggerMessageResponse struct {
	Status string `json:"status"` // Accepted, Rejected, NotImplemented
}

// SetChargingProfileRequest is the request for SetChargingProfile.
type SetChargingProfileRequest struct {
	ConnectorId     int             `json:"connectorId"`
	ChargingProfile ChargingProfile `json:"csChargingProfiles"`
}

// SetChargingProfileResponse is the response for SetChargingProfile.
type SetChargingProfileResponse struct {
	Status string `json:"status"` // Accepted, Rejected, NotSupported
}

// ClearChargingProfileRequest is the request for ClearChargingProfile.
type ClearChargingProfileRequest struct {
	Id                     int    `json:"id,omitempty"`
	ConnectorId            int    `json:"connectorId,omitempty"`
	ChargingProfilePurpose string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             int    `json:"stackLevel,omitempty"`
}

// ClearChargingProfileResponse is the response for ClearChargingProfile.
type ClearChargingProfileResponse struct {
	Status string `json:"status"` // Accepted, Unknown
}

// ConfigurationKeyValue is one entry in GetConfiguration's response (spec
// section 6.4's configuration-key table surfaces through this wire
// shape).
type ConfigurationKeyValue struct {
	Key      string `json:"key"`
	Readonly bool   `json:"readonly"`
	Value    string `json:"value,omitempty"`
}

// GetConfigurationRequest is the request for GetConfiguration.
type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

// GetConfigurationResponse is the response for GetConfiguration.
type GetConfigurationResponse struct {
	ConfigurationKey []ConfigurationKeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string                `json:"unknownKey,omitempty"`
}

// ChangeConfigurationRequest is the request for ChangeConfiguration.
type ChangeConfigurationRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// ChangeConfigurationResponse is the response for ChangeConfiguration.
type ChangeConfigurationResponse struct {
	Status string `json:"status"` // Accepted, Rejected, RebootRequired, NotSupported
}

// ClearCacheRequest is the request for ClearCache.
type ClearCacheRequest struct{}

// ClearCacheResponse is the response for ClearCache.
type ClearCacheResponse struct {
	Status string `json:"status"` // Accepted, Rejected
}
