package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeCSMS(t *testing.T, onMessage func(conn *websocket.Conn, data []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if onMessage != nil {
					onMessage(conn, data)
				}
			}
		}()
	}))
	return srv
}

func TestClientConnectAndSend(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte

	srv := newFakeCSMS(t, func(conn *websocket.Conn, data []byte) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := New(Config{
		BaseURL:       wsURL,
		ChargePointID: "CP001",
	}, zerolog.Nop(), nil, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, client.Send([]byte(`[2,"1","Heartbeat",{}]`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClientReceiveCallback(t *testing.T) {
	srv := newFakeCSMS(t, func(conn *websocket.Conn, data []byte) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[3,"1",{}]`))
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var mu sync.Mutex
	var gotFrame []byte
	client := New(Config{
		BaseURL:       wsURL,
		ChargePointID: "CP001",
	}, zerolog.Nop(), func(data []byte) {
		mu.Lock()
		gotFrame = data
		mu.Unlock()
	}, nil)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	require.NoError(t, client.Send([]byte(`[2,"1","Heartbeat",{}]`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotFrame != nil
	}, time.Second, 10*time.Millisecond)
}

func TestClientCloseFiresCallback(t *testing.T) {
	srv := newFakeCSMS(t, nil)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	closed := make(chan struct{})
	client := New(Config{BaseURL: wsURL, ChargePointID: "CP001"}, zerolog.Nop(), nil, func(err error) {
		close(closed)
	})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClose was not invoked")
	}
}

func TestDialURLJoining(t *testing.T) {
	assert.Equal(t, "ws://host/CP1", dialURL("ws://host", "CP1"))
	assert.Equal(t, "ws://host/CP1", dialURL("ws://host/", "CP1"))
}
