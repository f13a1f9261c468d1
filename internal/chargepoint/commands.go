package chargepoint

import (
	"context"
	"fmt"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/ocpp-sim/chargepoint-simulator/internal/metrics"
	"github.com/ocpp-sim/chargepoint-simulator/internal/model"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
)

func (cp *ChargePoint) connector(id int) (*model.Connector, error) {
	c := cp.Connector(id)
	if c == nil {
		return nil, errs.NewInputError("chargepoint", fmt.Errorf("unknown connector %d", id))
	}
	return c, nil
}

// transitionConnector applies a validated status change and, if it
// actually changed, sends StatusNotification and records history.
func (cp *ChargePoint) transitionConnector(id int, to ocpp.ChargePointStatus, source model.HistorySource) error {
	c, err := cp.connector(id)
	if err != nil {
		return err
	}
	from := c.Status()
	changed, ok := c.SetStatus(to)
	if !ok {
		err := errs.NewPreconditionError("chargepoint.transitionConnector",
			fmt.Errorf("connector %d cannot move from %s to %s", id, from, to))
		cp.recordTransition(model.EntityConnector, id, "status", string(from), string(to), source, false, model.ValidationWarning, err.Error())
		return err
	}
	if !changed {
		return nil
	}

	cp.recordTransition(model.EntityConnector, id, "status", string(from), string(to), source, true, model.ValidationOK, "")
	cp.emit(Event{Type: EventConnectorStatusChange, ConnectorID: id, PreviousStatus: from, NewStatus: to})
	metrics.ConnectorTransitions.WithLabelValues(string(to)).Inc()

	cp.sendStatusNotification(id, from, to, c.ErrorCode())
	return nil
}

// sendStatusNotification hands the StatusNotification Call to the
// transport before returning, so it keeps its place in this charge
// point's outbound submission order relative to whatever the caller
// sends next. Only the wait for its response — needed solely to log a
// late CSMS rejection — happens in a detached goroutine.
func (cp *ChargePoint) sendStatusNotification(id int, from, to ocpp.ChargePointStatus, errCode ocpp.ChargePointErrorCode) {
	handle, err := cp.engine.SendCallAsync(context.Background(), ocpp.ActionStatusNotification, ocpp.StatusNotificationRequest{
		ConnectorId: id,
		ErrorCode:   errCode,
		Status:      to,
	})
	if err != nil {
		cp.log("warn", "statusNotification", err.Error())
		return
	}
	go func() {
		if _, err := handle.Wait(context.Background()); err != nil {
			cp.log("warn", "statusNotification", err.Error())
		}
	}()
	_ = from
}

// StartTransaction begins charging on connectorId for tagId. Requires
// the connector be Available and Operative.
func (cp *ChargePoint) StartTransaction(ctx context.Context, tagID string, connectorID int) error {
	c, err := cp.connector(connectorID)
	if err != nil {
		return err
	}
	if c.Availability() != model.AvailabilityOperative {
		return cp.reject(connectorID, "startTransaction", fmt.Errorf("connector %d is inoperative", connectorID))
	}
	if c.Status() != ocpp.StatusAvailable {
		return cp.reject(connectorID, "startTransaction", fmt.Errorf("connector %d is not available (status=%s)", connectorID, c.Status()))
	}

	ref := cp.reference()
	c.StartTransaction(ref, tagID, c.MeterValue(), time.Now())
	_ = cp.transitionConnector(connectorID, ocpp.StatusPreparing, model.SourceUser)

	payload, err := cp.engine.SendCall(ctx, ocpp.ActionStartTransaction, ocpp.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       tagID,
		MeterStart:  c.MeterValue(),
		Timestamp:   ocpp.NewDateTime(time.Now()),
	})
	if err != nil {
		// CallError: back the connector out to Available, clean up the
		// locally tracked transaction.
		c.EndTransaction(c.MeterValue(), time.Now())
		_ = cp.transitionConnector(connectorID, ocpp.StatusAvailable, model.SourceSystem)
		cp.emit(Event{Type: EventError, Err: err})
		return err
	}

	var resp ocpp.StartTransactionResponse
	_ = unmarshalResponse(payload, &resp)
	c.SetTransactionID(resp.TransactionId)

	_ = cp.transitionConnector(connectorID, ocpp.StatusCharging, model.SourceUser)
	cp.startMeterTimer(connectorID)

	cp.emit(Event{Type: EventTransactionStarted, ConnectorID: connectorID, TransactionID: resp.TransactionId, TagID: tagID})
	return nil
}

// StopTransaction ends the active transaction on connectorId, if any.
func (cp *ChargePoint) StopTransaction(ctx context.Context, connectorID int) error {
	c, err := cp.connector(connectorID)
	if err != nil {
		return err
	}
	tx := c.Transaction()
	if tx == nil {
		return cp.reject(connectorID, "stopTransaction", fmt.Errorf("connector %d has no active transaction", connectorID))
	}

	cp.stopMeterTimer(connectorID)
	_ = cp.transitionConnector(connectorID, ocpp.StatusFinishing, model.SourceUser)

	stop := c.EndTransaction(c.MeterValue(), time.Now())

	_, err = cp.engine.SendCall(ctx, ocpp.ActionStopTransaction, ocpp.StopTransactionRequest{
		MeterStop:     *stop.MeterStop,
		Timestamp:     ocpp.NewDateTime(*stop.StopTime),
		TransactionId: stop.TransactionID,
	})
	if err != nil {
		cp.emit(Event{Type: EventError, Err: err})
	}

	_ = cp.transitionConnector(connectorID, ocpp.StatusAvailable, model.SourceUser)
	c.ResolveDeferredAvailability()

	cp.emit(Event{Type: EventTransactionStopped, ConnectorID: connectorID, TransactionID: stop.TransactionID})
	return err
}

// SetMeterValue overwrites the connector's absolute meter reading.
func (cp *ChargePoint) SetMeterValue(connectorID, wh int) error {
	c, err := cp.connector(connectorID)
	if err != nil {
		return err
	}
	c.SetMeterValue(wh)
	cp.emit(Event{Type: EventConnectorMeterValueChange, ConnectorID: connectorID, MeterValue: wh})
	return nil
}

// SendMeterValue emits a MeterValues Call for the connector's current
// reading immediately, independent of the auto-meter timer.
func (cp *ChargePoint) SendMeterValue(ctx context.Context, connectorID int) error {
	c, err := cp.connector(connectorID)
	if err != nil {
		return err
	}
	var txID *int
	if tx := c.Transaction(); tx != nil {
		id := tx.TransactionID
		txID = &id
	}

	_, err = cp.engine.SendCall(ctx, ocpp.ActionMeterValues, ocpp.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: txID,
		MeterValue: []ocpp.MeterValue{{
			Timestamp: ocpp.NewDateTime(time.Now()),
			SampledValue: []ocpp.SampledValue{{
				Value: fmt.Sprintf("%d", c.MeterValue()),
			}},
		}},
	})
	if err != nil {
		cp.emit(Event{Type: EventError, Err: err})
	}
	return err
}

// SendHeartbeat issues a single Heartbeat Call outside the timer.
func (cp *ChargePoint) SendHeartbeat(ctx context.Context) error {
	_, err := cp.engine.SendCall(ctx, ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{})
	if err != nil {
		cp.emit(Event{Type: EventError, Err: err})
	}
	return err
}

// StartHeartbeat (re)starts the heartbeat timer at the given interval
// in seconds, replacing any timer already running.
func (cp *ChargePoint) StartHeartbeat(seconds int) {
	if seconds <= 0 {
		seconds = int(cp.heartbeatInterval / time.Second)
	}
	cp.stopHeartbeatLocked()

	cp.mu.Lock()
	cp.heartbeatInterval = time.Duration(seconds) * time.Second
	stop := make(chan struct{})
	cp.heartbeatStop = stop
	cp.heartbeatRunning = true
	interval := cp.heartbeatInterval
	cp.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = cp.SendHeartbeat(context.Background())
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat timer, if running.
func (cp *ChargePoint) StopHeartbeat() { cp.stopHeartbeatLocked() }

func (cp *ChargePoint) stopHeartbeatLocked() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.heartbeatRunning {
		close(cp.heartbeatStop)
		cp.heartbeatRunning = false
	}
}

// Authorize sends an Authorize Call for the given idTag.
func (cp *ChargePoint) Authorize(ctx context.Context, tagID string) error {
	_, err := cp.engine.SendCall(ctx, ocpp.ActionAuthorize, ocpp.AuthorizeRequest{IdTag: tagID})
	if err != nil {
		cp.emit(Event{Type: EventError, Err: err})
	}
	return err
}

// UpdateConnectorStatus drives a validated status transition on a
// connector, as if observed locally rather than commanded remotely.
func (cp *ChargePoint) UpdateConnectorStatus(connectorID int, status ocpp.ChargePointStatus) error {
	return cp.transitionConnector(connectorID, status, model.SourceUser)
}

// UpdateConnectorAvailability sets a connector's Operative/Inoperative
// state, deferring Inoperative until any active transaction ends.
func (cp *ChargePoint) UpdateConnectorAvailability(connectorID int, to model.Availability) error {
	c, err := cp.connector(connectorID)
	if err != nil {
		return err
	}
	deferred := c.SetAvailability(to)
	cp.emit(Event{Type: EventConnectorAvailabilityChange, ConnectorID: connectorID, NewAvail: string(to)})
	cp.recordTransition(model.EntityConnector, connectorID, "availability", "", string(to), model.SourceUser, true, model.ValidationOK, "")
	if deferred {
		cp.log("info", "availability", fmt.Sprintf("connector %d inoperative deferred until transaction ends", connectorID))
	}
	return nil
}

// Reset reboots the charge point after a short delay: Hard performs a
// full reboot of every connector, Soft only repeats the boot sequence.
func (cp *ChargePoint) Reset(ctx context.Context, hard bool) error {
	cp.setStatus(StatusRebooting)
	go func() {
		time.Sleep(5 * time.Second)
		if hard {
			for _, id := range cp.Connectors() {
				if c := cp.Connector(id); c != nil {
					c.ForceStatus(ocpp.StatusUnavailable)
				}
			}
		}
		_ = cp.Boot(context.Background())
	}()
	return nil
}

func (cp *ChargePoint) reject(connectorID int, op string, cause error) error {
	err := errs.NewPreconditionError("chargepoint."+op, cause)
	cp.recordTransition(model.EntityConnector, connectorID, op, "", "", model.SourceUser, false, model.ValidationError, err.Error())
	return err
}
