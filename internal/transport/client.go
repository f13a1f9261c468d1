// Package transport implements the OCPP 1.6J websocket client: dialing
// out to a CSMS, framing outbound writes, and delivering inbound frames
// to a receive callback. It never reconnects on its own.
package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/rs/zerolog"
)

// Config controls dial and runtime behavior of a Client.
type Config struct {
	BaseURL        string
	ChargePointID  string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// ReceiveFunc is invoked with every inbound text frame, on the Client's
// own goroutine. It must not block for long.
type ReceiveFunc func(data []byte)

// CloseFunc is invoked exactly once when the transport goes down, for
// any reason (remote close, write failure, read failure, explicit Close).
type CloseFunc func(err error)

// Client is a single outbound OCPP 1.6J websocket connection.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	onReceive ReceiveFunc
	onClose   CloseFunc

	sendCh chan []byte
	done   chan struct{}
}

// New builds a Client. Connect must be called before any data moves.
func New(cfg Config, logger zerolog.Logger, onReceive ReceiveFunc, onClose CloseFunc) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{
		cfg:       cfg,
		logger:    logger.With().Str("cpId", cfg.ChargePointID).Logger(),
		onReceive: onReceive,
		onClose:   onClose,
		sendCh:    make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// dialURL joins baseURL and cpId, collapsing a trailing slash on the
// base so the result never contains a doubled separator.
func dialURL(baseURL, cpID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + cpID
}

// Connect dials the CSMS with the ocpp1.6 subprotocol and, if
// credentials are configured, an HTTP Basic Authorization header. It
// blocks until the handshake completes, fails, or ConnectTimeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		header.Set("Authorization", "Basic "+token)
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: c.cfg.ConnectTimeout,
	}

	target := dialURL(c.cfg.BaseURL, c.cfg.ChargePointID)
	if _, err := url.Parse(target); err != nil {
		return errs.NewInputError("transport.Connect", fmt.Errorf("invalid base url: %w", err))
	}

	conn, _, err := dialer.DialContext(dialCtx, target, header)
	if err != nil {
		return errs.NewTransportError("transport.Connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.sendLoop()
	go c.receiveLoop()
	go c.pingLoop()

	c.logger.Info().Str("url", target).Msg("transport connected")
	return nil
}

// Send enqueues a text frame for the send loop. It returns a
// TransportError if the connection is already closed. Neither Send nor
// the send loop applies any inter-call spacing; the message engine does.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errs.NewTransportError("transport.Send", fmt.Errorf("connection closed"))
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return errs.NewTransportError("transport.Send", fmt.Errorf("connection closed"))
	}
}

// Close tears the connection down and fires onClose(nil) exactly once.
func (c *Client) Close() error {
	return c.teardown(nil)
}

func (c *Client) teardown(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if c.onClose != nil {
		c.onClose(cause)
	}
	return nil
}

func (c *Client) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Error().Err(err).Msg("transport write failed")
				_ = c.teardown(errs.NewTransportError("transport.sendLoop", err))
				return
			}
		}
	}
}

func (c *Client) receiveLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	conn.SetPongHandler(func(string) error { return nil })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn().Err(err).Msg("transport read failed, connection lost")
			_ = c.teardown(errs.NewTransportError("transport.receiveLoop", err))
			return
		}
		if c.onReceive != nil {
			c.onReceive(data)
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				_ = c.teardown(errs.NewTransportError("transport.pingLoop", err))
				return
			}
		}
	}
}
