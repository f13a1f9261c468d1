package supervisor

import (
	"encoding/json"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/chargepoint"
	"github.com/ocpp-sim/chargepoint-simulator/internal/eventbus"
)

// eventPayload is the JSON shape written to a charge point's event log
// and pushed to its subscribers; it flattens chargepoint.Event's union
// of optional fields down to whatever Type populated.
type eventPayload struct {
	ConnectorID   int    `json:"connectorId,omitempty"`
	Status        string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	NewStatus     string `json:"newStatus,omitempty"`
	PreviousAvail string `json:"previousAvailability,omitempty"`
	NewAvail      string `json:"newAvailability,omitempty"`
	MeterValue    int    `json:"meterValue,omitempty"`
	TransactionID int    `json:"transactionId,omitempty"`
	TagID         string `json:"tagId,omitempty"`
	Code          int    `json:"code,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Level         string `json:"level,omitempty"`
	LogType       string `json:"logType,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

func toPayload(ev chargepoint.Event) eventPayload {
	p := eventPayload{
		ConnectorID:    ev.ConnectorID,
		PreviousStatus: string(ev.PreviousStatus),
		NewStatus:      string(ev.NewStatus),
		PreviousAvail:  ev.PreviousAvail,
		NewAvail:       ev.NewAvail,
		MeterValue:     ev.MeterValue,
		TransactionID:  ev.TransactionID,
		TagID:          ev.TagID,
		Code:           ev.Code,
		Reason:         ev.Reason,
		Level:          ev.Level,
		LogType:        ev.LogType,
		Message:        ev.Message,
	}
	if ev.Status != "" {
		p.Status = string(ev.Status)
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// handleCPEvent is the single funnel every hosted charge point's events
// pass through: appended to the per-CP log, fanned out to local
// subscribers, and mirrored to the configured eventbus.Sink. None of
// these three ever block on each other.
func (s *Supervisor) handleCPEvent(cpID string, h *hostedCP, ev chargepoint.Event) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	frame := EventFrame{
		Event:     string(ev.Type),
		Data:      toPayload(ev),
		Timestamp: now,
	}

	s.appendLog(h, frame)
	h.broadcast(frame)

	if err := s.sink.Publish(eventbus.Event{
		ChargePointID: cpID,
		Name:          string(ev.Type),
		Data:          frame.Data,
		Timestamp:     now,
	}); err != nil {
		s.logger.Warn().Err(err).Str("cpId", cpID).Msg("failed to mirror event to sink")
	}
}

func (s *Supervisor) appendLog(h *hostedCP, frame EventFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	data = append(data, '\n')

	h.logMu.Lock()
	defer h.logMu.Unlock()
	if h.logFile == nil {
		return
	}
	if _, err := h.logFile.Write(data); err != nil {
		s.logger.Warn().Err(err).Msg("failed to append to event log")
	}
}
