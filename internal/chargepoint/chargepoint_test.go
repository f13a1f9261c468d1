package chargepoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeCSMS accepts one websocket connection and answers every inbound
// Call with a scripted CallResult via respond.
type fakeCSMS struct {
	srv     *httptest.Server
	mu      sync.Mutex
	conn    *websocket.Conn
	respond func(action string, id string) (interface{}, bool)
}

func newFakeCSMS(t *testing.T) *fakeCSMS {
	t.Helper()
	f := &fakeCSMS{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame []json.RawMessage
				if json.Unmarshal(data, &frame) != nil || len(frame) < 3 {
					continue
				}
				var id, action string
				json.Unmarshal(frame[1], &id)
				json.Unmarshal(frame[2], &action)

				if f.respond == nil {
					continue
				}
				payload, ok := f.respond(action, id)
				if !ok {
					continue
				}
				result, _ := ocpp.EncodeCallResult(id, payload)
				conn.WriteMessage(websocket.TextMessage, result)
			}
		}()
	}))
	return f
}

func (f *fakeCSMS) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeCSMS) close() { f.srv.Close() }

func newTestChargePoint(t *testing.T, baseURL string) *ChargePoint {
	cfg := config.ChargePointCfg{ID: "CP1", Vendor: "Acme", Model: "X1", ConnectorCount: 2}
	tCfg := config.TransportConfig{BaseURL: baseURL, ConnectTimeout: 2 * time.Second}
	return New(cfg, tCfg, zerolog.Nop())
}

func TestBootSequenceBringsConnectorsAvailable(t *testing.T) {
	fake := newFakeCSMS(t)
	defer fake.close()
	fake.respond = func(action, id string) (interface{}, bool) {
		switch action {
		case "BootNotification":
			return ocpp.BootNotificationResponse{Status: ocpp.RegistrationAccepted, CurrentTime: ocpp.NewDateTime(time.Now()), Interval: 300}, true
		case "StatusNotification":
			return ocpp.StatusNotificationResponse{}, true
		}
		return nil, false
	}

	cp := newTestChargePoint(t, fake.url())
	require.NoError(t, cp.Connect(context.Background()))
	require.NoError(t, cp.Boot(context.Background()))

	require.Eventually(t, func() bool {
		return cp.Connector(1).Status() == ocpp.StatusAvailable
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, StatusAvailable, cp.Status())
	cp.StopHeartbeat()
}

func TestStartTransactionLifecycle(t *testing.T) {
	fake := newFakeCSMS(t)
	defer fake.close()
	var txID int = 42
	fake.respond = func(action, id string) (interface{}, bool) {
		switch action {
		case "BootNotification":
			return ocpp.BootNotificationResponse{Status: ocpp.RegistrationAccepted, CurrentTime: ocpp.NewDateTime(time.Now()), Interval: 300}, true
		case "StatusNotification":
			return ocpp.StatusNotificationResponse{}, true
		case "StartTransaction":
			return ocpp.StartTransactionResponse{IdTagInfo: ocpp.IdTagInfo{Status: ocpp.AuthorizationAccepted}, TransactionId: txID}, true
		case "StopTransaction":
			return ocpp.StopTransactionResponse{}, true
		case "MeterValues":
			return ocpp.MeterValuesResponse{}, true
		}
		return nil, false
	}

	cp := newTestChargePoint(t, fake.url())
	require.NoError(t, cp.Connect(context.Background()))
	require.NoError(t, cp.Boot(context.Background()))
	require.Eventually(t, func() bool { return cp.Connector(1).Status() == ocpp.StatusAvailable }, time.Second, 10*time.Millisecond)

	require.NoError(t, cp.StartTransaction(context.Background(), "TAG1", 1))
	require.Eventually(t, func() bool { return cp.Connector(1).Status() == ocpp.StatusCharging }, time.Second, 10*time.Millisecond)
	require.Equal(t, txID, cp.Connector(1).Transaction().TransactionID)

	require.NoError(t, cp.SetMeterValue(1, 1000))
	require.NoError(t, cp.StopTransaction(context.Background(), 1))
	require.Eventually(t, func() bool { return cp.Connector(1).Status() == ocpp.StatusAvailable }, time.Second, 10*time.Millisecond)
	require.Nil(t, cp.Connector(1).Transaction())
	cp.StopHeartbeat()
}

func TestRejectedBootLeavesConnectorsUnavailable(t *testing.T) {
	fake := newFakeCSMS(t)
	defer fake.close()
	fake.respond = func(action, id string) (interface{}, bool) {
		if action == "BootNotification" {
			return ocpp.BootNotificationResponse{Status: ocpp.RegistrationRejected, CurrentTime: ocpp.NewDateTime(time.Now())}, true
		}
		return nil, false
	}

	cp := newTestChargePoint(t, fake.url())
	require.NoError(t, cp.Connect(context.Background()))
	require.NoError(t, cp.Boot(context.Background()))

	require.Equal(t, ocpp.StatusUnavailable, cp.Connector(1).Status())
	require.Equal(t, StatusUnavailable, cp.Status())
	err := cp.StartTransaction(context.Background(), "TAG1", 1)
	require.Error(t, err)
}
