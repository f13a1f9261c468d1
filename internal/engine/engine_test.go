package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCallDeliversResult(t *testing.T) {
	e := New(zerolog.Nop(), 0)

	var mu sync.Mutex
	var sent []byte
	e.SetSender(func(data []byte) error {
		mu.Lock()
		sent = data
		mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	var payload json.RawMessage
	var sendErr error
	go func() {
		payload, sendErr = e.SendCall(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{})
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent != nil
	}, time.Second, 5*time.Millisecond)

	var frame []json.RawMessage
	mu.Lock()
	require.NoError(t, json.Unmarshal(sent, &frame))
	mu.Unlock()
	var id string
	require.NoError(t, json.Unmarshal(frame[1], &id))

	resultData, _ := ocpp.EncodeCallResult(id, ocpp.HeartbeatResponse{})
	e.HandleInbound(context.Background(), resultData)

	<-done
	require.NoError(t, sendErr)
	assert.NotNil(t, payload)
}

func TestSendCallDeliversCallError(t *testing.T) {
	e := New(zerolog.Nop(), 0)
	e.SetSender(func(data []byte) error { return nil })

	done := make(chan struct{})
	var sendErr error
	var id string
	go func() {
		_, sendErr = e.SendCall(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return e.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	for k := range e.pending {
		id = k
	}
	e.mu.Unlock()

	errData, _ := ocpp.EncodeCallError(id, ocpp.ErrInternalError, "boom", nil)
	e.HandleInbound(context.Background(), errData)
	<-done

	require.Error(t, sendErr)
	var ce *ocpp.CallError
	require.ErrorAs(t, sendErr, &ce)
	assert.Equal(t, ocpp.ErrInternalError, ce.ErrorCode)
}

func TestHandleInboundCallDispatchesToHandler(t *testing.T) {
	e := New(zerolog.Nop(), 0)
	var mu sync.Mutex
	var replied []byte
	e.SetSender(func(data []byte) error {
		mu.Lock()
		replied = data
		mu.Unlock()
		return nil
	})

	e.Handle(ocpp.ActionReset, func(ctx context.Context, payload json.RawMessage) (interface{}, *ocpp.CallError) {
		return ocpp.ResetResponse{Status: ocpp.ResetStatusAccepted}, nil
	})

	callData, _ := ocpp.EncodeCall("c1", ocpp.ActionReset, ocpp.ResetRequest{Type: ocpp.ResetSoft})
	e.HandleInbound(context.Background(), callData)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, replied)
	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(replied, &frame))
	var mt int
	require.NoError(t, json.Unmarshal(frame[0], &mt))
	assert.Equal(t, int(ocpp.MessageTypeCallResult), mt)
}

func TestHandleInboundUnknownActionRepliesNotImplemented(t *testing.T) {
	e := New(zerolog.Nop(), 0)
	var mu sync.Mutex
	var replied []byte
	e.SetSender(func(data []byte) error {
		mu.Lock()
		replied = data
		mu.Unlock()
		return nil
	})

	callData, _ := ocpp.EncodeCall("c2", ocpp.Action("SomeVendorAction"), map[string]string{})
	e.HandleInbound(context.Background(), callData)

	mu.Lock()
	defer mu.Unlock()
	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(replied, &frame))
	var code string
	require.NoError(t, json.Unmarshal(frame[2], &code))
	assert.Equal(t, ocpp.ErrNotImplemented, code)
}

func TestCancelAllRejectsPendingCalls(t *testing.T) {
	e := New(zerolog.Nop(), 0)
	e.SetSender(func(data []byte) error { return nil })

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = e.SendCall(context.Background(), ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{})
		close(done)
	}()

	require.Eventually(t, func() bool { return e.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	e.CancelAll(assertErr{"transport gone"})
	<-done
	require.Error(t, sendErr)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
