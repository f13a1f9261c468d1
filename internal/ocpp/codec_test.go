package ocpp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	req := HeartbeatRequest{}
	data, err := EncodeCall("msg-1", ActionHeartbeat, req)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)

	call, ok := frame.(*Call)
	require.True(t, ok)
	assert.Equal(t, "msg-1", call.MessageID)
	assert.Equal(t, ActionHeartbeat, call.Action)
}

func TestEncodeDecodeCallResultRoundTrip(t *testing.T) {
	when, err := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	resp := HeartbeatResponse{CurrentTime: NewDateTime(when)}
	data, err := EncodeCallResult("msg-2", resp)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)

	result, ok := frame.(*CallResult)
	require.True(t, ok)
	assert.Equal(t, "msg-2", result.MessageID)

	var decoded HeartbeatResponse
	require.NoError(t, json.Unmarshal(result.Payload, &decoded))
	assert.True(t, when.Equal(decoded.CurrentTime.Time))
}

func TestDecodeCallError(t *testing.T) {
	data, err := EncodeCallError("msg-3", ErrNotImplemented, "unsupported action", nil)
	require.NoError(t, err)

	frame, err := Decode(data)
	require.NoError(t, err)

	ce, ok := frame.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrNotImplemented, ce.ErrorCode)
	assert.Equal(t, "unsupported action", ce.ErrorDescription)
}

func TestDecodeMalformedFrameIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestDecodeShortArrayIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`[2, "id"]`))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestDecodeUnknownMessageTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`[9, "id", "x", {}]`))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestDecodeEmptyMessageIDIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`[2, "", "Heartbeat", {}]`))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}
