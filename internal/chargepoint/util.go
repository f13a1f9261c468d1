package chargepoint

import (
	"encoding/json"

	"github.com/ocpp-sim/chargepoint-simulator/internal/validation"
)

var payloadValidator = validation.New()

// decodeJSON unmarshals an incoming Call's payload and validates it
// against its struct tags before any handler sees it, so a malformed
// or out-of-range field surfaces as a FormationViolation CallError rather
// than a panic or silently-zero-valued field deeper in handler logic.
func decodeJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return payloadValidator.Struct("chargepoint.decodeJSON", v)
}
