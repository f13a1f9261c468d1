package chargepoint

import (
	"context"
	"fmt"

	"github.com/ocpp-sim/chargepoint-simulator/internal/model"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/ocpp-sim/chargepoint-simulator/internal/scenario"
)

// Invoke implements scenario.CommandInvoker, dispatching a scenario
// Action node onto the same command API a supervisor connection drives.
func (cp *ChargePoint) Invoke(ctx context.Context, command string, params map[string]interface{}) error {
	connID := intParam(params, "connectorId", 1)

	switch command {
	case "connect":
		return cp.Connect(ctx)
	case "disconnect":
		return cp.Disconnect()
	case "boot":
		return cp.Boot(ctx)
	case "reset":
		return cp.Reset(ctx, boolParam(params, "hard", false))
	case "startTransaction":
		return cp.StartTransaction(ctx, stringParam(params, "tag", ""), connID)
	case "stopTransaction":
		return cp.StopTransaction(ctx, connID)
	case "setMeterValue":
		return cp.SetMeterValue(connID, intParam(params, "value", 0))
	case "sendMeterValue":
		return cp.SendMeterValue(ctx, connID)
	case "sendHeartbeat":
		return cp.SendHeartbeat(ctx)
	case "startHeartbeat":
		cp.StartHeartbeat(intParam(params, "interval", 0))
		return nil
	case "stopHeartbeat":
		cp.StopHeartbeat()
		return nil
	case "authorize":
		return cp.Authorize(ctx, stringParam(params, "tag", ""))
	case "updateConnectorStatus":
		return cp.UpdateConnectorStatus(connID, ocpp.ChargePointStatus(stringParam(params, "status", "")))
	case "updateConnectorAvailability":
		return cp.UpdateConnectorAvailability(connID, model.Availability(stringParam(params, "availability", "")))
	default:
		return fmt.Errorf("unknown scenario command %q", command)
	}
}

// Evaluate implements scenario.PredicateEvaluator against this charge
// point's live connector state.
func (cp *ChargePoint) Evaluate(cond scenario.ConditionSpec) bool {
	switch cond.Kind {
	case scenario.ConditionAlways:
		return true
	case scenario.ConditionConnectorStatus:
		c := cp.Connector(cond.ConnectorID)
		return c != nil && string(c.Status()) == cond.Status
	case scenario.ConditionHasTransaction:
		c := cp.Connector(cond.ConnectorID)
		return c != nil && c.Transaction() != nil
	case scenario.ConditionMeterAtLeast:
		c := cp.Connector(cond.ConnectorID)
		return c != nil && c.MeterValue() >= cond.MeterValue
	default:
		return false
	}
}

func intParam(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
