package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/model"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/ocpp-sim/chargepoint-simulator/internal/scenario"
	"github.com/ocpp-sim/chargepoint-simulator/internal/validation"
)

var paramValidator = validation.New()

// connectorParams names the connector most commands act on.
type connectorParams struct {
	ConnectorID int `json:"connectorId" validate:"required,min=1"`
}

type tagParams struct {
	TagID string `json:"tagId" validate:"required"`
}

type startTransactionParams struct {
	ConnectorID int    `json:"connectorId" validate:"required,min=1"`
	TagID       string `json:"tagId" validate:"required"`
}

type meterValueParams struct {
	ConnectorID int `json:"connectorId" validate:"required,min=1"`
	Value       int `json:"value" validate:"min=0"`
}

type heartbeatIntervalParams struct {
	IntervalSeconds int `json:"intervalSeconds" validate:"required,min=1"`
}

type connectorStatusParams struct {
	ConnectorID int    `json:"connectorId" validate:"required,min=1"`
	Status      string `json:"status" validate:"required"`
}

type connectorAvailabilityParams struct {
	ConnectorID  int    `json:"connectorId" validate:"required,min=1"`
	Availability string `json:"availability" validate:"required"`
}

type resetParams struct {
	Hard bool `json:"hard"`
}

// unmarshalParams decodes a command's JSON params and validates the
// result against its struct tags, so a missing or out-of-range field
// surfaces as an error response before it ever reaches charge-point
// logic rather than proceeding with a zero value.
func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
	}
	return paramValidator.Struct("supervisor.dispatch", v)
}

// dispatch executes one control-plane command against the charge point
// hosted by h, covering the full command table the per-CP socket
// exposes. "subscribe" is handled by the caller before reaching here.
func (s *Supervisor) dispatch(cpID string, h *hostedCP, req Request) Response {
	ctx := context.Background()
	cp := h.cp

	switch req.Command {
	case "connect":
		if err := cp.Connect(ctx); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "disconnect":
		if err := cp.Disconnect(); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "boot":
		if err := cp.Boot(ctx); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "status":
		return okResponse(req.ID, s.statusSnapshot(h))

	case "reset":
		var p resetParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.Reset(ctx, p.Hard); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "start_transaction":
		var p startTransactionParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.StartTransaction(ctx, p.TagID, p.ConnectorID); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "stop_transaction":
		var p connectorParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.StopTransaction(ctx, p.ConnectorID); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "set_meter_value":
		var p meterValueParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.SetMeterValue(p.ConnectorID, p.Value); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "send_meter_value":
		var p connectorParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.SendMeterValue(ctx, p.ConnectorID); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "heartbeat":
		if err := cp.SendHeartbeat(ctx); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "start_heartbeat":
		var p heartbeatIntervalParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		cp.StartHeartbeat(p.IntervalSeconds)
		return okResponse(req.ID, nil)

	case "stop_heartbeat":
		cp.StopHeartbeat()
		return okResponse(req.ID, nil)

	case "authorize":
		var p tagParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.Authorize(ctx, p.TagID); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "update_connector_status":
		var p connectorStatusParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.UpdateConnectorStatus(p.ConnectorID, ocpp.ChargePointStatus(p.Status)); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "update_connector_availability":
		var p connectorAvailabilityParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return errResponse(req.ID, err)
		}
		if err := cp.UpdateConnectorAvailability(p.ConnectorID, model.Availability(p.Availability)); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "list_scenario_templates":
		return okResponse(req.ID, scenario.ListTemplates())

	case "load_scenario_template":
		def, err := s.loadScenarioTemplate(h, req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, def)

	case "load_scenario":
		def, err := s.loadScenario(h, req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, def)

	case "list_scenarios":
		return okResponse(req.ID, s.listScenarios(h))

	case "run_scenario":
		status, err := s.runScenario(cpID, h, req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, status)

	case "scenario_status":
		status, err := s.scenarioRunStatus(h, req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, status)

	case "stop_scenario":
		if err := s.stopScenario(h, req.Params); err != nil {
			return errResponse(req.ID, err)
		}
		return okResponse(req.ID, nil)

	case "stop_all_scenarios":
		s.stopAllScenarios(h)
		return okResponse(req.ID, nil)

	case "shutdown":
		// Graceful termination per §4.7 is a whole-process effect, not
		// just this charge point's: signal the host process, which
		// drives the same Supervisor.Shutdown path SIGINT/SIGTERM does.
		s.requestShutdown()
		return okResponse(req.ID, nil)

	default:
		return errResponse(req.ID, fmt.Errorf("unknown command %q", req.Command))
	}
}

type connectorSnapshot struct {
	ID           int    `json:"id"`
	Status       string `json:"status"`
	Availability string `json:"availability"`
	MeterValue   int    `json:"meterValue"`
	HasTransaction bool `json:"hasTransaction"`
}

type statusResponse struct {
	ID             string              `json:"id"`
	Status         string              `json:"status"`
	Connected      bool                `json:"connected"`
	UptimeSeconds  int64               `json:"uptimeSeconds"`
	ConnectedCount int                 `json:"connectedCount"`
	Connectors     []connectorSnapshot `json:"connectors"`
}

// statusSnapshot reports this charge point's own state plus two
// fleet-wide operability fields (uptimeSeconds since it was hosted,
// connectedCount across every charge point this supervisor hosts) so a
// caller doesn't need a separate fleet-status command just to see
// whether the process as a whole is healthy.
func (s *Supervisor) statusSnapshot(h *hostedCP) statusResponse {
	snapshot := statusResponse{
		ID:             h.cp.ID(),
		Status:         string(h.cp.Status()),
		Connected:      h.cp.IsConnected(),
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		ConnectedCount: s.connectedCount(),
	}
	for _, id := range h.cp.Connectors() {
		c := h.cp.Connector(id)
		if c == nil {
			continue
		}
		snapshot.Connectors = append(snapshot.Connectors, connectorSnapshot{
			ID:             id,
			Status:         string(c.Status()),
			Availability:   string(c.Availability()),
			MeterValue:     c.MeterValue(),
			HasTransaction: c.Transaction() != nil,
		})
	}
	return snapshot
}
