package ocpp

import (
	"encoding/json"
	"fmt"

	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
)

// Standard OCPP 1.6 CallError error codes.
const (
	ErrNotImplemented               = "NotImplemented"
	ErrNotSupported                 = "NotSupported"
	ErrInternalError                = "InternalError"
	ErrProtocolError                = "ProtocolError"
	ErrSecurityError                = "SecurityError"
	ErrFormationViolation           = "FormationViolation"
	ErrPropertyConstraintViolation  = "PropertyConstraintViolation"
	ErrOccurenceConstraintViolation = "OccurenceConstraintViolation"
	ErrTypeConstraintViolation      = "TypeConstraintViolation"
	ErrGenericError                 = "GenericError"
)

// Call is a decoded [2, messageId, action, payload] frame.
type Call struct {
	MessageID string
	Action    Action
	Payload   json.RawMessage
}

// CallResult is a decoded [3, messageId, payload] frame.
type CallResult struct {
	MessageID string
	Payload   json.RawMessage
}

// CallError is a decoded [4, messageId, errorCode, errorDescription, errorDetails?] frame.
type CallError struct {
	MessageID        string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorDescription)
}

// EncodeCall frames an outgoing request.
func EncodeCall(messageID string, action Action, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{MessageTypeCall, messageID, action, payload})
}

// EncodeCallResult frames a response to an inbound Call.
func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{MessageTypeCallResult, messageID, payload})
}

// EncodeCallError frames an error response to an inbound Call.
func EncodeCallError(messageID, errorCode, errorDescription string, errorDetails interface{}) ([]byte, error) {
	if errorDetails == nil {
		errorDetails = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{MessageTypeCallError, messageID, errorCode, errorDescription, errorDetails})
}

// Decode parses a raw frame into one of *Call, *CallResult, *CallError.
// Any structural problem is returned as a ProtocolError (spec's
// MalformedFrame), never a panic.
func Decode(data []byte) (interface{}, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: %w", err))
	}
	if len(raw) < 3 {
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: array too short"))
	}

	var msgType int
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: bad message type: %w", err))
	}
	var msgID string
	if err := json.Unmarshal(raw[1], &msgID); err != nil {
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: bad message id: %w", err))
	}
	if msgID == "" {
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: message id must be non-empty"))
	}

	switch MessageType(msgType) {
	case MessageTypeCall:
		if len(raw) != 4 {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: call must have 4 elements"))
		}
		var action string
		if err := json.Unmarshal(raw[2], &action); err != nil {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: bad action: %w", err))
		}
		return &Call{MessageID: msgID, Action: Action(action), Payload: raw[3]}, nil

	case MessageTypeCallResult:
		if len(raw) != 3 {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: call result must have 3 elements"))
		}
		return &CallResult{MessageID: msgID, Payload: raw[2]}, nil

	case MessageTypeCallError:
		if len(raw) < 4 || len(raw) > 5 {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: call error must have 4 or 5 elements"))
		}
		var code, desc string
		if err := json.Unmarshal(raw[2], &code); err != nil {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: bad error code: %w", err))
		}
		if err := json.Unmarshal(raw[3], &desc); err != nil {
			return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: bad error description: %w", err))
		}
		var details interface{}
		if len(raw) == 5 {
			_ = json.Unmarshal(raw[4], &details)
		}
		return &CallError{MessageID: msgID, ErrorCode: code, ErrorDescription: desc, ErrorDetails: details}, nil

	default:
		return nil, errs.NewProtocolError("ocpp.Decode", fmt.Errorf("malformed frame: unknown message type %d", msgType))
	}
}
