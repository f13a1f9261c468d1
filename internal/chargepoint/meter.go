package chargepoint

import (
	"context"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
)

// startMeterTimer begins the auto-meter ticker for a connector: while
// it is Charging, the meter increases by the configured increment and
// a MeterValues Call is issued on each tick.
func (cp *ChargePoint) startMeterTimer(connectorID int) {
	cp.mu.Lock()
	if _, running := cp.meterStops[connectorID]; running {
		cp.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	cp.meterStops[connectorID] = stop
	interval := cp.meterInterval
	increment := cp.meterIncrement
	cp.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c := cp.Connector(connectorID)
				if c == nil || c.Status() != ocpp.StatusCharging {
					continue
				}
				value := c.AddMeterValue(increment)
				cp.emit(Event{Type: EventConnectorMeterValueChange, ConnectorID: connectorID, MeterValue: value})
				_ = cp.SendMeterValue(context.Background(), connectorID)
			}
		}
	}()
}

func (cp *ChargePoint) stopMeterTimer(connectorID int) {
	cp.mu.Lock()
	stop, ok := cp.meterStops[connectorID]
	if ok {
		delete(cp.meterStops, connectorID)
	}
	cp.mu.Unlock()
	if ok {
		close(stop)
	}
}

func (cp *ChargePoint) stopAllMeterTimers() {
	cp.mu.Lock()
	stops := cp.meterStops
	cp.meterStops = make(map[int]chan struct{})
	cp.mu.Unlock()
	for _, stop := range stops {
		close(stop)
	}
}
