// Package supervisor hosts many simulated Charge Points in one process
// and exposes, per charge point, a line-delimited JSON command/event
// channel over a local Unix domain socket. It is the multi-CP control
// plane: operators and the (out-of-scope) graphical control surface
// both speak the same protocol described in §6 of the specification.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/chargepoint"
	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/ocpp-sim/chargepoint-simulator/internal/eventbus"
	"github.com/ocpp-sim/chargepoint-simulator/internal/scenario"
	"github.com/rs/zerolog"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeID replaces every character outside [A-Za-z0-9_-] with an
// underscore so a cpId can be used as a filesystem path component.
func sanitizeID(id string) string {
	return unsafePathChars.ReplaceAllString(id, "_")
}

// hostedCP is everything the supervisor keeps for one supervised
// charge point: its runtime object, its dedicated socket/PID/log
// triple, and its scenario registry.
type hostedCP struct {
	cp *chargepoint.ChargePoint

	startedAt time.Time

	socketPath string
	pidPath    string
	logPath    string

	listener net.Listener
	logFile  *os.File
	logMu    sync.Mutex

	subMu       sync.Mutex
	subscribers map[*subscriber]struct{}

	scenarioMu   sync.Mutex
	scenarioDefs map[string]scenario.Definition
	scenarioRuns map[string]*scenario.Executor
}

// Supervisor hosts a fleet of Charge Points and their command/event
// channels. Mutation of the registry (Host/Shutdown) is serialized;
// lookups are read-locked and cheap.
type Supervisor struct {
	mu  sync.RWMutex
	cps map[string]*hostedCP

	cfg    config.SupervisorConfig
	logger zerolog.Logger
	sink   eventbus.Sink

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a Supervisor. sink may be eventbus.NoopSink{} when no
// external event mirror is configured.
func New(cfg config.SupervisorConfig, logger zerolog.Logger, sink eventbus.Sink) *Supervisor {
	if sink == nil {
		sink = eventbus.NoopSink{}
	}
	return &Supervisor{
		cps:        make(map[string]*hostedCP),
		cfg:        cfg,
		logger:     logger,
		sink:       sink,
		shutdownCh: make(chan struct{}),
	}
}

// ShutdownRequested is closed the first time any hosted charge point's
// socket receives a "shutdown" command. The host process selects on it
// alongside SIGINT/SIGTERM so a control-plane client can trigger the
// same graceful exit an operator signal does.
func (s *Supervisor) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// requestShutdown closes ShutdownRequested's channel exactly once.
func (s *Supervisor) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Host registers cp and opens its command socket, PID file, and event
// log. It refuses to start if a live process already owns cp's PID
// file, and removes a stale socket/PID pair left by a crashed process.
func (s *Supervisor) Host(cp *chargepoint.ChargePoint) error {
	id := cp.ID()
	name := sanitizeID(id)

	for _, dir := range []string{s.cfg.SocketDir, s.cfg.PIDDir, s.cfg.EventLogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.NewFatal("supervisor.Host", fmt.Errorf("create directory %s: %w", dir, err))
		}
	}

	h := &hostedCP{
		cp:           cp,
		startedAt:    time.Now(),
		socketPath:   filepath.Join(s.cfg.SocketDir, name+".sock"),
		pidPath:      filepath.Join(s.cfg.PIDDir, name+".pid"),
		logPath:      filepath.Join(s.cfg.EventLogDir, name+".log"),
		subscribers:  make(map[*subscriber]struct{}),
		scenarioDefs: make(map[string]scenario.Definition),
		scenarioRuns: make(map[string]*scenario.Executor),
	}

	if err := checkStalePID(h.pidPath); err != nil {
		return err
	}
	if err := os.Remove(h.socketPath); err != nil && !os.IsNotExist(err) {
		return errs.NewFatal("supervisor.Host", fmt.Errorf("remove stale socket %s: %w", h.socketPath, err))
	}
	if err := writePID(h.pidPath); err != nil {
		return err
	}

	logFile, err := os.OpenFile(h.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.NewFatal("supervisor.Host", fmt.Errorf("open event log %s: %w", h.logPath, err))
	}
	h.logFile = logFile

	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return errs.NewFatal("supervisor.Host", fmt.Errorf("listen on %s: %w", h.socketPath, err))
	}
	h.listener = listener

	s.mu.Lock()
	s.cps[id] = h
	s.mu.Unlock()

	cp.OnEvent(func(ev chargepoint.Event) { s.handleCPEvent(id, h, ev) })

	go s.acceptLoop(id, h)
	s.logger.Info().Str("cpId", id).Str("socket", h.socketPath).Msg("supervisor hosting charge point")
	return nil
}

// ChargePoint returns the hosted charge point by id, or nil.
func (s *Supervisor) ChargePoint(id string) *chargepoint.ChargePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.cps[id]
	if !ok {
		return nil
	}
	return h.cp
}

// IDs returns every hosted charge point id.
func (s *Supervisor) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cps))
	for id := range s.cps {
		out = append(out, id)
	}
	return out
}

// connectedCount returns how many hosted charge points currently have a
// live transport connection to the CSMS.
func (s *Supervisor) connectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, h := range s.cps {
		if h.cp.IsConnected() {
			n++
		}
	}
	return n
}

func (s *Supervisor) acceptLoop(cpID string, h *hostedCP) {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(cpID, h, conn)
	}
}

func (s *Supervisor) handleConn(cpID string, h *hostedCP, conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		if s.cfg.RequestTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.RequestTimeout))
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			conn.Close()
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(conn, errResponse("", fmt.Errorf("invalid request: %w", err)))
			continue
		}

		if req.Command == "subscribe" {
			writeResponse(conn, okResponse(req.ID, nil))
			s.runSubscriber(h, conn)
			return
		}

		resp := s.dispatch(cpID, h, req)
		writeResponse(conn, resp)

		if req.Command == "shutdown" {
			conn.Close()
			return
		}
	}
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// Shutdown stops every scenario, disconnects every transport, closes
// every socket/PID file, and flushes every event log. It always
// succeeds from the caller's point of view; individual close errors
// are logged, not returned, since shutdown must not get stuck on a
// single misbehaving resource.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	cps := s.cps
	s.cps = make(map[string]*hostedCP)
	s.mu.Unlock()

	for id, h := range cps {
		h.scenarioMu.Lock()
		for _, run := range h.scenarioRuns {
			run.Stop()
		}
		h.scenarioMu.Unlock()

		if err := h.cp.Disconnect(); err != nil {
			s.logger.Warn().Err(err).Str("cpId", id).Msg("error disconnecting transport during shutdown")
		}

		h.subMu.Lock()
		for sub := range h.subscribers {
			sub.close()
		}
		h.subMu.Unlock()

		if h.listener != nil {
			_ = h.listener.Close()
		}
		if h.logFile != nil {
			_ = h.logFile.Sync()
			_ = h.logFile.Close()
		}
		_ = os.Remove(h.pidPath)
		_ = os.Remove(h.socketPath)
	}

	s.logger.Info().Msg("supervisor shut down")
}
