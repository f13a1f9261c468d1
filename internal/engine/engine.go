// Package engine implements the OCPP message engine: per-connection
// call correlation, inbound dispatch to registered action handlers, and
// the pacing/backpressure contract an outbound Call must honor.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
	"github.com/ocpp-sim/chargepoint-simulator/internal/metrics"
	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/rs/zerolog"
)

// Result is delivered on a PendingCall's channel once a CallResult or
// CallError for it arrives, or once the call is abandoned for a reason
// of its own — a *ocpp.CallError for a CSMS rejection, or an
// errs.TransportError when the transport under it is lost.
type Result struct {
	Payload json.RawMessage
	Err     error
}

// PendingCall tracks one outstanding outbound Call awaiting a response.
type PendingCall struct {
	MessageID string
	Action    ocpp.Action
	Sent      time.Time
	resultCh  chan Result
}

// HandlerFunc answers one inbound Call. A non-nil ocppErr produces a
// CallError frame instead of a CallResult.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (response interface{}, ocppErr *ocpp.CallError)

// Sender delivers an already-framed outbound byte slice, typically
// transport.Client.Send.
type Sender func(data []byte) error

// Engine correlates outbound Calls with their responses and dispatches
// inbound Calls to registered handlers. One Engine belongs to exactly
// one charge point's transport connection.
type Engine struct {
	mu       sync.Mutex
	pending  map[string]*PendingCall
	handlers map[ocpp.Action]HandlerFunc

	send       Sender
	logger     zerolog.Logger
	minSpacing time.Duration
	lastSend   time.Time
}

// New builds an Engine with no sender; SetSender installs the function
// that delivers framed byte slices to the transport once it connects.
func New(logger zerolog.Logger, minSpacing time.Duration) *Engine {
	return &Engine{
		pending:    make(map[string]*PendingCall),
		handlers:   make(map[ocpp.Action]HandlerFunc),
		logger:     logger,
		minSpacing: minSpacing,
	}
}

// SetSender installs the function used to deliver framed bytes.
func (e *Engine) SetSender(send Sender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = send
}

// Handle registers the handler invoked for inbound Calls with the given
// action. Registering the same action twice replaces the handler.
func (e *Engine) Handle(action ocpp.Action, fn HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = fn
}

// CallHandle is returned by SendCallAsync once a Call has actually been
// handed to the transport. Its submission point — not the point a
// caller gets around to waiting on it — is what fixes this Call's place
// in this charge point's outbound order.
type CallHandle struct {
	engine *Engine
	pc     *PendingCall
}

// Wait blocks for this Call's CallResult/CallError, same contract as
// SendCall's own wait: returns the response payload, the CallError, or
// a TransportError if ctx is cancelled first.
func (h *CallHandle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-h.pc.resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Payload, nil
	case <-ctx.Done():
		h.engine.dropPending(h.pc.MessageID)
		return nil, errs.NewTransportError("engine.CallHandle.Wait", ctx.Err())
	}
}

// SendCall frames and sends a new Call, blocking until a CallResult or
// CallError for it arrives, ctx is cancelled, or the transport is torn
// down. The response payload is returned unparsed; callers unmarshal
// into the expected response type.
func (e *Engine) SendCall(ctx context.Context, action ocpp.Action, payload interface{}) (json.RawMessage, error) {
	handle, err := e.SendCallAsync(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	return handle.Wait(ctx)
}

// SendCallAsync frames a new Call and synchronously hands it to the
// transport — honoring minSpacing and the pending-call bookkeeping just
// as SendCall does — then returns without waiting for a response. This
// is what a caller that must preserve this Call's place in the CP's
// outbound submission order (spec §5, "Outbound Calls from one CP
// preserve submission order") should use instead of SendCall from a
// detached goroutine: only the response wait, not the send itself,
// should ever be asynchronous.
func (e *Engine) SendCallAsync(ctx context.Context, action ocpp.Action, payload interface{}) (*CallHandle, error) {
	id := uuid.NewString()
	data, err := ocpp.EncodeCall(id, action, payload)
	if err != nil {
		return nil, errs.NewInputError("engine.SendCall", err)
	}

	pc := &PendingCall{
		MessageID: id,
		Action:    action,
		Sent:      time.Now(),
		resultCh:  make(chan Result, 1),
	}

	e.mu.Lock()
	if existing, ok := e.pending[id]; ok {
		// A generated message id collided with one still pending.
		// Reject the earlier call so no response goes unanswered.
		existing.resultCh <- Result{Err: &ocpp.CallError{
			MessageID:        existing.MessageID,
			ErrorCode:        ocpp.ErrProtocolError,
			ErrorDescription: "message id reused before prior call resolved",
		}}
	}
	e.pending[id] = pc
	sender := e.send
	wait := e.minSpacing - time.Since(e.lastSend)
	e.mu.Unlock()

	metrics.PendingCalls.Inc()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			e.dropPending(id)
			return nil, errs.NewTransportError("engine.SendCall", ctx.Err())
		}
	}

	if sender == nil {
		e.dropPending(id)
		return nil, errs.NewTransportError("engine.SendCall", fmt.Errorf("no transport attached"))
	}
	if err := sender(data); err != nil {
		e.dropPending(id)
		return nil, errs.NewTransportError("engine.SendCall", err)
	}

	e.mu.Lock()
	e.lastSend = time.Now()
	e.mu.Unlock()

	metrics.MessagesSent.WithLabelValues(string(action)).Inc()

	return &CallHandle{engine: e, pc: pc}, nil
}

func (e *Engine) dropPending(id string) {
	e.mu.Lock()
	if _, ok := e.pending[id]; ok {
		delete(e.pending, id)
		metrics.PendingCalls.Dec()
	}
	e.mu.Unlock()
}

// HandleInbound decodes and dispatches one inbound frame: a Call is
// routed to its handler and answered, a CallResult/CallError resolves
// the matching pending call.
func (e *Engine) HandleInbound(ctx context.Context, data []byte) {
	frame, err := ocpp.Decode(data)
	if err != nil {
		e.logger.Warn().Err(err).Msg("dropping malformed inbound frame")
		return
	}

	switch f := frame.(type) {
	case *ocpp.Call:
		e.handleCall(ctx, f)
	case *ocpp.CallResult:
		e.resolve(f.MessageID, Result{Payload: f.Payload})
	case *ocpp.CallError:
		e.resolve(f.MessageID, Result{Err: &ocpp.CallError{
			MessageID:        f.MessageID,
			ErrorCode:        f.ErrorCode,
			ErrorDescription: f.ErrorDescription,
			ErrorDetails:     f.ErrorDetails,
		}})
	}
}

func (e *Engine) resolve(messageID string, res Result) {
	e.mu.Lock()
	pc, ok := e.pending[messageID]
	if ok {
		delete(e.pending, messageID)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn().Str("messageId", messageID).Msg("no pending call for correlation id")
		return
	}
	metrics.PendingCalls.Dec()
	pc.resultCh <- res
}

func (e *Engine) handleCall(ctx context.Context, call *ocpp.Call) {
	metrics.MessagesReceived.WithLabelValues(string(call.Action)).Inc()

	e.mu.Lock()
	handler, ok := e.handlers[call.Action]
	sender := e.send
	e.mu.Unlock()

	if !ok {
		e.reply(sender, ocpp.EncodeCallError(call.MessageID, ocpp.ErrNotImplemented,
			fmt.Sprintf("action %s is not implemented", call.Action), nil))
		return
	}

	response, ocppErr := handler(ctx, call.Payload)
	if ocppErr != nil {
		e.reply(sender, ocpp.EncodeCallError(call.MessageID, ocppErr.ErrorCode, ocppErr.ErrorDescription, ocppErr.ErrorDetails))
		return
	}
	e.reply(sender, ocpp.EncodeCallResult(call.MessageID, response))
}

func (e *Engine) reply(sender Sender, data []byte, err error) {
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}
	if sender == nil {
		e.logger.Warn().Msg("no transport attached, dropping reply")
		return
	}
	if err := sender(data); err != nil {
		e.logger.Error().Err(err).Msg("failed to send reply")
	}
}

// CancelAll rejects every pending call with a TransportError, used when
// the underlying transport is lost.
func (e *Engine) CancelAll(cause error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*PendingCall)
	e.mu.Unlock()

	for _, pc := range pending {
		metrics.PendingCalls.Dec()
		pc.resultCh <- Result{Err: errs.NewTransportError("engine.CancelAll", cause)}
	}
}

// PendingCount reports the number of calls currently awaiting a response.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
