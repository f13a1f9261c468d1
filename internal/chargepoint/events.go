package chargepoint

import "github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"

// EventType names one of the events a ChargePoint emits.
type EventType string

const (
	EventConnected                 EventType = "connected"
	EventDisconnected              EventType = "disconnected"
	EventStatusChange              EventType = "statusChange"
	EventError                     EventType = "error"
	EventConnectorStatusChange     EventType = "connectorStatusChange"
	EventConnectorAvailabilityChange EventType = "connectorAvailabilityChange"
	EventConnectorMeterValueChange EventType = "connectorMeterValueChange"
	EventTransactionStarted        EventType = "transactionStarted"
	EventTransactionStopped        EventType = "transactionStopped"
	EventLog                       EventType = "log"
)

// Event is one notification emitted by a ChargePoint. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// disconnected
	Code   int
	Reason string

	// statusChange / error
	Status Status
	Err    error

	// connector-scoped events
	ConnectorID      int
	PreviousStatus   ocpp.ChargePointStatus
	NewStatus        ocpp.ChargePointStatus
	PreviousAvail    string
	NewAvail         string
	MeterValue       int
	TransactionID    int
	TagID            string

	// log
	Level   string
	LogType string
	Message string
}

// Listener receives every Event a ChargePoint emits.
type Listener func(Event)

type emitter struct {
	listeners []Listener
}

func (e *emitter) on(l Listener) {
	e.listeners = append(e.listeners, l)
}

func (e *emitter) emit(ev Event) {
	for _, l := range e.listeners {
		l(ev)
	}
}
