package chargepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/configstore"
	"github.com/ocpp-sim/chargepoint-simulator/internal/model"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
)

func (cp *ChargePoint) registerHandlers() {
	cp.engine.Handle(ocpp.ActionRemoteStartTransaction, cp.handleRemoteStartTransaction)
	cp.engine.Handle(ocpp.ActionRemoteStopTransaction, cp.handleRemoteStopTransaction)
	cp.engine.Handle(ocpp.ActionReset, cp.handleReset)
	cp.engine.Handle(ocpp.ActionGetDiagnostics, cp.handleGetDiagnostics)
	cp.engine.Handle(ocpp.ActionTriggerMessage, cp.handleTriggerMessage)
	cp.engine.Handle(ocpp.ActionGetConfiguration, cp.handleGetConfiguration)
	cp.engine.Handle(ocpp.ActionChangeConfiguration, cp.handleChangeConfiguration)
	cp.engine.Handle(ocpp.ActionClearCache, cp.handleClearCache)
	cp.engine.Handle(ocpp.ActionUnlockConnector, cp.handleUnlockConnector)
	cp.engine.Handle(ocpp.ActionChangeAvailability, cp.handleChangeAvailability)
	cp.engine.Handle(ocpp.ActionSetChargingProfile, cp.handleSetChargingProfile)
	cp.engine.Handle(ocpp.ActionClearChargingProfile, cp.handleClearChargingProfile)
	cp.engine.Handle(ocpp.ActionGetCompositeSchedule, cp.handleGetCompositeSchedule)
}

func (cp *ChargePoint) handleRemoteStartTransaction(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.RemoteStartTransactionRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}
	connectorID := 1
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	go func() {
		if err := cp.StartTransaction(context.Background(), req.IdTag, connectorID); err != nil {
			cp.log("warn", "remoteStart", err.Error())
		}
	}()

	return ocpp.RemoteStartTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

func (cp *ChargePoint) handleRemoteStopTransaction(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.RemoteStopTransactionRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	connectorID := cp.connectorForTransaction(req.TransactionId)
	if connectorID == 0 {
		return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopRejected}, nil
	}

	go func() {
		if err := cp.StopTransaction(context.Background(), connectorID); err != nil {
			cp.log("warn", "remoteStop", err.Error())
		}
	}()

	return ocpp.RemoteStopTransactionResponse{Status: ocpp.RemoteStartStopAccepted}, nil
}

func (cp *ChargePoint) connectorForTransaction(transactionID int) int {
	for _, id := range cp.Connectors() {
		c := cp.Connector(id)
		if c == nil {
			continue
		}
		if tx := c.Transaction(); tx != nil && tx.TransactionID == transactionID {
			return id
		}
	}
	return 0
}

func (cp *ChargePoint) handleReset(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.ResetRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}
	go func() { _ = cp.Reset(context.Background(), req.Type == ocpp.ResetHard) }()
	return ocpp.ResetResponse{Status: ocpp.ResetStatusAccepted}, nil
}

func (cp *ChargePoint) handleGetDiagnostics(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	cp.log("info", "diagnostics", "GetDiagnostics acknowledged, no file produced")
	return ocpp.GetDiagnosticsResponse{}, nil
}

func (cp *ChargePoint) handleTriggerMessage(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.TriggerMessageRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	switch req.RequestedMessage {
	case ocpp.TriggerBootNotification:
		go func() { _ = cp.Boot(context.Background()) }()
	case ocpp.TriggerHeartbeat:
		go func() { _ = cp.SendHeartbeat(context.Background()) }()
	case ocpp.TriggerStatusNotification:
		go func() {
			id := 1
			if req.ConnectorId != nil {
				id = *req.ConnectorId
			}
			if c := cp.Connector(id); c != nil {
				cp.sendStatusNotification(id, c.Status(), c.Status(), c.ErrorCode())
			}
		}()
	case ocpp.TriggerMeterValues:
		go func() {
			id := 1
			if req.ConnectorId != nil {
				id = *req.ConnectorId
			}
			_ = cp.SendMeterValue(context.Background(), id)
		}()
	default:
		return ocpp.TriggerMessageResponse{Status: ocpp.TriggerMessageNotImplemented}, nil
	}
	return ocpp.TriggerMessageResponse{Status: ocpp.TriggerMessageAccepted}, nil
}

func (cp *ChargePoint) handleGetConfiguration(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.GetConfigurationRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	cp.mu.RLock()
	defer cp.mu.RUnlock()

	if len(req.Key) == 0 {
		resp := ocpp.GetConfigurationResponse{}
		for _, kv := range cp.configKeys {
			resp.ConfigurationKey = append(resp.ConfigurationKey, kv)
		}
		return resp, nil
	}

	resp := ocpp.GetConfigurationResponse{}
	for _, k := range req.Key {
		if kv, ok := cp.configKeys[k]; ok {
			resp.ConfigurationKey = append(resp.ConfigurationKey, kv)
		} else {
			resp.UnknownKey = append(resp.UnknownKey, k)
		}
	}
	return resp, nil
}

// handleChangeConfiguration rejects mutation of any key by default:
// runtime key mutability was an open question with no confirmed
// answer, so every key is conservatively treated as read-only.
func (cp *ChargePoint) handleChangeConfiguration(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.ChangeConfigurationRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	cp.mu.RLock()
	mutable := cp.mutableKeys[req.Key]
	cp.mu.RUnlock()
	if !mutable {
		return ocpp.ChangeConfigurationResponse{Status: ocpp.ConfigurationNotSupported}, nil
	}

	cp.mu.Lock()
	kv := cp.configKeys[req.Key]
	kv.Value = &req.Value
	cp.configKeys[req.Key] = kv
	store := cp.store
	cp.mu.Unlock()

	if store != nil {
		if err := store.Save(ctx, cp.id, configstore.KeyValue{Key: req.Key, Value: req.Value, ReadOnly: kv.Readonly}); err != nil {
			cp.log("warn", "config", fmt.Sprintf("failed to persist configuration key %s: %v", req.Key, err))
		}
	}
	return ocpp.ChangeConfigurationResponse{Status: ocpp.ConfigurationAccepted}, nil
}

func (cp *ChargePoint) handleClearCache(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	return ocpp.ClearCacheResponse{Status: ocpp.ClearCacheAccepted}, nil
}

func (cp *ChargePoint) handleUnlockConnector(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	return ocpp.UnlockConnectorResponse{Status: ocpp.UnlockNotSupported}, nil
}

func (cp *ChargePoint) handleChangeAvailability(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.ChangeAvailabilityRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	targets := []int{req.ConnectorId}
	if req.ConnectorId == 0 {
		targets = cp.Connectors()
	}

	scheduled := false
	for _, id := range targets {
		c := cp.Connector(id)
		if c == nil {
			continue
		}
		to := model.AvailabilityOperative
		if req.Type == ocpp.AvailabilityInoperative {
			to = model.AvailabilityInoperative
		}
		deferred := c.SetAvailability(to)
		cp.emit(Event{Type: EventConnectorAvailabilityChange, ConnectorID: id, NewAvail: string(to)})
		if deferred {
			scheduled = true
		}
	}

	if scheduled {
		return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityStatusScheduled}, nil
	}
	return ocpp.ChangeAvailabilityResponse{Status: ocpp.AvailabilityStatusAccepted}, nil
}

func (cp *ChargePoint) handleSetChargingProfile(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.SetChargingProfileRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}
	c := cp.Connector(req.ConnectorId)
	if c == nil {
		return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileRejected}, nil
	}

	p := req.ChargingProfile
	c.InstallProfile(model.ActiveChargingProfile{
		ProfileID:   p.ChargingProfileId,
		ConnectorID: req.ConnectorId,
		StackLevel:  p.StackLevel,
		Purpose:     p.ChargingProfilePurpose,
		Kind:        p.ChargingProfileKind,
		Unit:        p.ChargingSchedule.ChargingRateUnit,
		Recurrency:  p.RecurrencyKind,
		ValidFrom:   datetimePtr(p.ValidFrom),
		ValidTo:     datetimePtr(p.ValidTo),
		Schedule:    p.ChargingSchedule.ChargingSchedulePeriod,
	})
	return ocpp.SetChargingProfileResponse{Status: ocpp.ChargingProfileAccepted}, nil
}

func (cp *ChargePoint) handleClearChargingProfile(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.ClearChargingProfileRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}

	removed := 0
	connIDs := cp.Connectors()
	if req.ConnectorId != nil {
		connIDs = []int{*req.ConnectorId}
	}
	for _, id := range connIDs {
		if c := cp.Connector(id); c != nil {
			removed += c.ClearProfiles(req.Id, req.ChargingProfilePurpose, req.StackLevel)
		}
	}

	if removed == 0 {
		return ocpp.ClearChargingProfileResponse{Status: ocpp.ClearChargingProfileUnknown}, nil
	}
	return ocpp.ClearChargingProfileResponse{Status: ocpp.ClearChargingProfileAccepted}, nil
}

func (cp *ChargePoint) handleGetCompositeSchedule(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
	var req ocpp.GetCompositeScheduleRequest
	if err := decodeJSON(payload, &req); err != nil {
		return nil, protocolErr(err)
	}
	c := cp.Connector(req.ConnectorId)
	if c == nil {
		return ocpp.GetCompositeScheduleResponse{Status: ocpp.GetCompositeScheduleRejected}, nil
	}

	active := c.ActiveProfile(time.Now())
	if active == nil {
		return ocpp.GetCompositeScheduleResponse{Status: ocpp.GetCompositeScheduleRejected}, nil
	}

	unit := active.Unit
	if unit == "" {
		unit = ocpp.ChargingRateUnitW
	}
	connID := req.ConnectorId
	start := ocpp.NewDateTime(time.Now())
	return ocpp.GetCompositeScheduleResponse{
		Status:        ocpp.GetCompositeScheduleAccepted,
		ConnectorId:   &connID,
		ScheduleStart: &start,
		ChargingSchedule: &ocpp.ChargingSchedule{
			ChargingRateUnit:       unit,
			ChargingSchedulePeriod: active.Schedule,
		},
	}, nil
}

func datetimePtr(dt *ocpp.DateTime) *time.Time {
	if dt == nil {
		return nil
	}
	t := dt.Time
	return &t
}

func protocolErr(err error) *ocpp.CallError {
	return &ocpp.CallError{ErrorCode: ocpp.ErrFormationViolation, ErrorDescription: fmt.Sprintf("malformed payload: %v", err)}
}
