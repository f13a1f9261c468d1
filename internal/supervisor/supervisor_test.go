package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocpp-sim/chargepoint-simulator/internal/chargepoint"
	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
	"github.com/ocpp-sim/chargepoint-simulator/internal/eventbus"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeCSMS accepts one websocket connection and answers BootNotification
// and StatusNotification so a hosted charge point can complete its boot
// sequence without a real CSMS.
type fakeCSMS struct {
	srv *httptest.Server
}

func newFakeCSMS(t *testing.T) *fakeCSMS {
	t.Helper()
	f := &fakeCSMS{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
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

				var payload interface{}
				switch action {
				case "BootNotification":
					payload = ocpp.BootNotificationResponse{Status: ocpp.RegistrationAccepted, CurrentTime: ocpp.NewDateTime(time.Now()), Interval: 300}
				case "StatusNotification":
					payload = ocpp.StatusNotificationResponse{}
				case "Authorize":
					payload = ocpp.AuthorizeResponse{IdTagInfo: ocpp.IdTagInfo{Status: ocpp.AuthorizationAccepted}}
				default:
					continue
				}
				result, _ := ocpp.EncodeCallResult(id, payload)
				conn.WriteMessage(websocket.TextMessage, result)
			}
		}()
	}))
	return f
}

func (f *fakeCSMS) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }
func (f *fakeCSMS) close()      { f.srv.Close() }

func newTestSupervisor(t *testing.T) (*Supervisor, *chargepoint.ChargePoint, func()) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.SupervisorConfig{
		SocketDir:       filepath.Join(dir, "sockets"),
		PIDDir:          filepath.Join(dir, "run"),
		EventLogDir:     filepath.Join(dir, "events"),
		RequestTimeout:  2 * time.Second,
		SubscriberQueue: 16,
	}
	sup := New(cfg, zerolog.Nop(), eventbus.NoopSink{})

	fake := newFakeCSMS(t)
	cpCfg := config.ChargePointCfg{ID: "CP1", Vendor: "Acme", Model: "X1", ConnectorCount: 2}
	tCfg := config.TransportConfig{BaseURL: fake.url(), ConnectTimeout: 2 * time.Second}
	cp := chargepoint.New(cpCfg, tCfg, zerolog.Nop())

	require.NoError(t, sup.Host(cp))

	cleanup := func() {
		fake.close()
	}
	return sup, cp, cleanup
}

func dialAndRequest(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func socketPathFor(sup *Supervisor, id string) string {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	return sup.cps[id].socketPath
}

func TestDispatchConnectAndBoot(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")

	resp := dialAndRequest(t, socket, Request{ID: "1", Command: "connect"})
	require.True(t, resp.OK, resp.Error)

	resp = dialAndRequest(t, socket, Request{ID: "2", Command: "boot"})
	require.True(t, resp.OK, resp.Error)

	require.Eventually(t, func() bool {
		resp := dialAndRequest(t, socket, Request{ID: "3", Command: "status"})
		data, _ := json.Marshal(resp.Data)
		return strings.Contains(string(data), `"status":"Available"`)
	}, time.Second, 20*time.Millisecond)
}

func TestDispatchUnknownCommand(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")

	resp := dialAndRequest(t, socket, Request{ID: "1", Command: "not_a_real_command"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestScenarioTemplateLifecycle(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")

	require.True(t, dialAndRequest(t, socket, Request{ID: "1", Command: "connect"}).OK)
	require.True(t, dialAndRequest(t, socket, Request{ID: "2", Command: "boot"}).OK)
	require.Eventually(t, func() bool {
		resp := dialAndRequest(t, socket, Request{ID: "s", Command: "status"})
		data, _ := json.Marshal(resp.Data)
		return strings.Contains(string(data), `"status":"Available"`)
	}, time.Second, 20*time.Millisecond)

	loadReq := Request{ID: "3", Command: "load_scenario_template",
		Params: json.RawMessage(`{"templateId":"authorize-only","connectorId":1}`)}
	resp := dialAndRequest(t, socket, loadReq)
	require.True(t, resp.OK, resp.Error)

	listResp := dialAndRequest(t, socket, Request{ID: "4", Command: "list_scenarios"})
	require.True(t, listResp.OK)
	data, _ := json.Marshal(listResp.Data)
	require.Contains(t, string(data), "authorize-only")

	runResp := dialAndRequest(t, socket, Request{ID: "5", Command: "run_scenario",
		Params: json.RawMessage(`{"scenarioId":"authorize-only","mode":"oneshot"}`)})
	require.True(t, runResp.OK, runResp.Error)

	require.Eventually(t, func() bool {
		statusResp := dialAndRequest(t, socket, Request{ID: "6", Command: "scenario_status",
			Params: json.RawMessage(`{"scenarioId":"authorize-only"}`)})
		require.True(t, statusResp.OK, statusResp.Error)
		data, _ := json.Marshal(statusResp.Data)
		return strings.Contains(string(data), `"state":"completed"`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")

	subConn, err := net.DialTimeout("unix", socket, 2*time.Second)
	require.NoError(t, err)
	defer subConn.Close()

	data, _ := json.Marshal(Request{ID: "sub", Command: "subscribe"})
	data = append(data, '\n')
	_, err = subConn.Write(data)
	require.NoError(t, err)

	require.NoError(t, subConn.SetReadDeadline(time.Now().Add(3*time.Second)))
	reader := bufio.NewReader(subConn)
	ackLine, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var ack Response
	require.NoError(t, json.Unmarshal(ackLine, &ack))
	require.True(t, ack.OK)
	time.Sleep(20 * time.Millisecond) // let runSubscriber register before the event fires

	require.True(t, dialAndRequest(t, socket, Request{ID: "1", Command: "connect"}).OK)

	frameLine, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var frame EventFrame
	require.NoError(t, json.Unmarshal(frameLine, &frame))
	require.Equal(t, "connected", frame.Event)
}

func TestShutdownRemovesSocketAndPID(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")
	sup.mu.RLock()
	pidPath := sup.cps["CP1"].pidPath
	sup.mu.RUnlock()

	sup.Shutdown(context.Background())

	_, err := net.DialTimeout("unix", socket, 500*time.Millisecond)
	require.Error(t, err)
	_, err = os.Stat(socket)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}

// TestShutdownCommandSignalsProcess verifies that a "shutdown" sent on
// any one hosted charge point's socket is a whole-process signal, not a
// per-charge-point disconnect: the host loop selects on
// ShutdownRequested() to drive the same graceful exit SIGINT/SIGTERM
// does.
func TestShutdownCommandSignalsProcess(t *testing.T) {
	sup, _, cleanup := newTestSupervisor(t)
	defer cleanup()
	socket := socketPathFor(sup, "CP1")

	select {
	case <-sup.ShutdownRequested():
		t.Fatal("shutdown requested before any shutdown command was sent")
	default:
	}

	resp := dialAndRequest(t, socket, Request{ID: "1", Command: "shutdown"})
	require.True(t, resp.OK)

	select {
	case <-sup.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("ShutdownRequested was not closed after a shutdown command")
	}
}
