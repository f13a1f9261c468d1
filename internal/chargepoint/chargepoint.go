// Package chargepoint implements the simulated Charge Point: the boot
// sequence, heartbeat and auto-meter timers, the command API a
// supervisor or scenario drives, and the handlers answering the CSMS's
// incoming Calls.
package chargepoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/config"
	"github.com/ocpp-sim/chargepoint-simulator/internal/configstore"
	"github.com/ocpp-sim/chargepoint-simulator/internal/engine"
	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/ocpp-sim/chargepoint-simulator/internal/metrics"
	"github.com/ocpp-sim/chargepoint-simulator/internal/model"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/ocpp-sim/chargepoint-simulator/internal/transport"
	"github.com/rs/zerolog"
)

// Status is the Charge Point's own top-level status, distinct from any
// individual connector's OCPP status.
type Status string

const (
	StatusUnavailable Status = "Unavailable"
	StatusAvailable   Status = "Available"
	StatusFaulted     Status = "Faulted"
	StatusRebooting   Status = "Rebooting"
)

// ChargePoint hosts one simulated charging station: its connectors, its
// transport connection, its message engine, and its runtime state.
type ChargePoint struct {
	mu sync.RWMutex
	emitter

	id              string
	vendor          string
	modelName       string
	firmwareVersion string
	username        string
	password        string

	connectors map[int]*model.Connector
	connOrder  []int

	status  Status
	history *model.History

	engine    *engine.Engine
	tClient   *transport.Client
	tCfg      config.TransportConfig
	logger    zerolog.Logger

	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	heartbeatRunning  bool

	meterInterval  time.Duration
	meterIncrement int
	meterStops     map[int]chan struct{}

	configKeys   map[string]ocpp.KeyValue
	mutableKeys  map[string]bool
	store        configstore.Store

	connected bool

	refSeq int64
}

// New builds a ChargePoint with cfg.ConnectorCount connectors, all
// starting Unavailable, and registers its incoming Call handlers.
func New(cfg config.ChargePointCfg, tCfg config.TransportConfig, logger zerolog.Logger) *ChargePoint {
	logger = logger.With().Str("cpId", cfg.ID).Logger()

	cp := &ChargePoint{
		id:              cfg.ID,
		vendor:          cfg.Vendor,
		modelName:       cfg.Model,
		firmwareVersion: cfg.FirmwareVersion,
		username:        cfg.Username,
		password:        cfg.Password,
		connectors:     make(map[int]*model.Connector, cfg.ConnectorCount),
		status:          StatusUnavailable,
		history:         model.NewHistory(0),
		logger:          logger,
		meterStops:      make(map[int]chan struct{}),
		configKeys:      defaultConfigurationKeys(),
		mutableKeys:     map[string]bool{},
		heartbeatInterval: 300 * time.Second,
		meterInterval:     60 * time.Second,
		meterIncrement:    1000,
	}

	for i := 1; i <= cfg.ConnectorCount; i++ {
		cp.connectors[i] = model.NewConnector(i)
		cp.connOrder = append(cp.connOrder, i)
	}

	cp.engine = engine.New(logger, tCfg.MinCallSpacing)
	cp.tCfg = tCfg
	cp.registerHandlers()

	return cp
}

// ID returns the charge point identity used in the transport URL path.
func (cp *ChargePoint) ID() string { return cp.id }

// Status returns the charge point's current top-level status.
func (cp *ChargePoint) Status() Status {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.status
}

// IsConnected reports whether the transport connection to the CSMS is
// currently up.
func (cp *ChargePoint) IsConnected() bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.connected
}

// Connector returns the connector with the given id, or nil.
func (cp *ChargePoint) Connector(id int) *model.Connector {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.connectors[id]
}

// Connectors returns connector ids in ascending order.
func (cp *ChargePoint) Connectors() []int {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	out := make([]int, len(cp.connOrder))
	copy(out, cp.connOrder)
	return out
}

// History returns the charge point's state transition log.
func (cp *ChargePoint) History() *model.History { return cp.history }

// OnEvent registers a listener for every event the charge point emits.
func (cp *ChargePoint) OnEvent(l Listener) { cp.on(l) }

// UseConfigStore attaches a persistence backend for the mutable
// configuration keys and seeds the in-memory key set from it. Keys the
// store doesn't know about keep their built-in default. Subsequent
// accepted ChangeConfiguration calls are saved back to store so a
// fleet of processes sharing a Redis-backed store observes each
// other's changes.
func (cp *ChargePoint) UseConfigStore(ctx context.Context, store configstore.Store) error {
	saved, err := store.Load(ctx, cp.id)
	if err != nil {
		return err
	}

	cp.mu.Lock()
	cp.store = store
	for key, kv := range saved {
		existing, ok := cp.configKeys[key]
		if !ok {
			continue
		}
		existing.Value = &kv.Value
		cp.configKeys[key] = existing
	}
	cp.mu.Unlock()
	return nil
}

func (cp *ChargePoint) setStatus(to Status) {
	cp.mu.Lock()
	from := cp.status
	cp.status = to
	cp.mu.Unlock()
	if from != to {
		cp.emit(Event{Type: EventStatusChange, Status: to})
	}
}

func (cp *ChargePoint) log(level, typ, msg string) {
	cp.emit(Event{Type: EventLog, Level: level, LogType: typ, Message: msg})
}

// Connect dials the CSMS and wires the transport into the message
// engine. It does not by itself send BootNotification; call Boot for
// the full sequence.
func (cp *ChargePoint) Connect(ctx context.Context) error {
	cp.tClient = transport.New(transport.Config{
		BaseURL:        cp.tCfg.BaseURL,
		ChargePointID:  cp.id,
		Username:       cp.username,
		Password:       cp.password,
		ConnectTimeout: cp.tCfg.ConnectTimeout,
		WriteTimeout:   cp.tCfg.WriteTimeout,
		PingInterval:   cp.tCfg.PingInterval,
	}, cp.logger, cp.onReceive, cp.onTransportClosed)

	if err := cp.tClient.Connect(ctx); err != nil {
		cp.emit(Event{Type: EventError, Err: err})
		return err
	}

	cp.engine.SetSender(cp.tClient.Send)
	cp.mu.Lock()
	cp.connected = true
	cp.mu.Unlock()
	cp.setStatus(StatusUnavailable)
	cp.emit(Event{Type: EventConnected})
	metrics.ConnectedChargePoints.Inc()
	return nil
}

// Disconnect tears down the transport connection. Pending Calls are
// rejected by the engine once onTransportClosed fires.
func (cp *ChargePoint) Disconnect() error {
	if cp.tClient == nil {
		return nil
	}
	return cp.tClient.Close()
}

func (cp *ChargePoint) onReceive(data []byte) {
	cp.engine.HandleInbound(context.Background(), data)
}

func (cp *ChargePoint) onTransportClosed(err error) {
	cp.stopHeartbeatLocked()
	cp.stopAllMeterTimers()
	cp.engine.CancelAll(err)
	cp.mu.Lock()
	cp.connected = false
	cp.mu.Unlock()
	cp.setStatus(StatusUnavailable)

	code, reason := 1006, "abnormal closure"
	if err == nil {
		code, reason = 1000, "normal closure"
	}
	cp.emit(Event{Type: EventDisconnected, Code: code, Reason: reason})
	metrics.ConnectedChargePoints.Dec()

	if err != nil {
		cp.history.Record(model.StateHistoryEntry{
			Timestamp:      time.Now(),
			Entity:         model.EntityChargePoint,
			TransitionType: "transport",
			ToState:        string(StatusUnavailable),
			Source:         model.SourceSystem,
			Success:        false,
			Level:          model.ValidationError,
			ErrorMessage:   err.Error(),
		})
	}
}

// Boot runs the boot sequence: send BootNotification and, on
// acceptance, start the heartbeat timer and bring every connector from
// Unavailable to Available.
func (cp *ChargePoint) Boot(ctx context.Context) error {
	fw := cp.firmwareVersion
	req := ocpp.BootNotificationRequest{
		ChargePointVendor: cp.vendor,
		ChargePointModel:  cp.modelName,
	}
	if fw != "" {
		req.FirmwareVersion = &fw
	}

	payload, err := cp.engine.SendCall(ctx, ocpp.ActionBootNotification, req)
	if err != nil {
		cp.emit(Event{Type: EventError, Err: err})
		return err
	}

	var resp ocpp.BootNotificationResponse
	if err := unmarshalResponse(payload, &resp); err != nil {
		cp.emit(Event{Type: EventError, Err: err})
		return err
	}

	if resp.Status != ocpp.RegistrationAccepted {
		cp.log("warn", "boot", fmt.Sprintf("boot notification %s", resp.Status))
		return nil
	}

	if resp.Interval > 0 {
		cp.mu.Lock()
		cp.heartbeatInterval = time.Duration(resp.Interval) * time.Second
		cp.mu.Unlock()
	}
	cp.StartHeartbeat(int(cp.heartbeatInterval / time.Second))
	cp.setStatus(StatusAvailable)

	for _, id := range cp.Connectors() {
		_ = cp.transitionConnector(id, ocpp.StatusAvailable, model.SourceSystem)
	}
	return nil
}

func unmarshalResponse(payload []byte, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return decodeJSON(payload, v)
}

// reference generates a monotonically increasing client-side reference
// used to track a transaction before the CSMS assigns a real id.
func (cp *ChargePoint) reference() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.refSeq++
	return fmt.Sprintf("%s-tx-%d", cp.id, cp.refSeq)
}

func (cp *ChargePoint) recordTransition(entity model.HistoryEntity, entityID int, transitionType, from, to string, source model.HistorySource, success bool, level model.ValidationLevel, errMsg string) {
	cp.history.Record(model.StateHistoryEntry{
		Timestamp:      time.Now(),
		Entity:         entity,
		EntityID:       entityID,
		TransitionType: transitionType,
		FromState:      from,
		ToState:        to,
		Source:         source,
		Success:        success,
		Level:          level,
		ErrorMessage:   errMsg,
	})
}

func defaultConfigurationKeys() map[string]ocpp.KeyValue {
	val := func(s string) *string { return &s }
	return map[string]ocpp.KeyValue{
		"HeartbeatInterval":        {Key: "HeartbeatInterval", Readonly: false, Value: val("300")},
		"MeterValueSampleInterval": {Key: "MeterValueSampleInterval", Readonly: false, Value: val("60")},
		"NumberOfConnectors":       {Key: "NumberOfConnectors", Readonly: true, Value: val("1")},
		"SupportedFeatureProfiles": {Key: "SupportedFeatureProfiles", Readonly: true, Value: val("Core,SmartCharging")},
	}
}
