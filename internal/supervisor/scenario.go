package supervisor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ocpp-sim/chargepoint-simulator/internal/chargepoint"
	"github.com/ocpp-sim/chargepoint-simulator/internal/metrics"
	"github.com/ocpp-sim/chargepoint-simulator/internal/scenario"
)

// scenarioStatus is the wire shape returned for scenario_status and
// run_scenario responses.
type scenarioStatus struct {
	ScenarioID string         `json:"scenarioId"`
	NodeID     string         `json:"nodeId"`
	State      string         `json:"state"`
	Iterations map[string]int `json:"iterations,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func toScenarioStatus(ctx scenario.RunContext) scenarioStatus {
	st := scenarioStatus{
		ScenarioID: ctx.ScenarioID,
		NodeID:     ctx.NodeID,
		State:      string(ctx.State),
		Iterations: ctx.Iterations,
	}
	if ctx.Err != nil {
		st.Error = ctx.Err.Error()
	}
	return st
}

// loadScenarioTemplateParams names a built-in template and the
// connector it targets.
type loadScenarioTemplateParams struct {
	TemplateID  string `json:"templateId" validate:"required"`
	ConnectorID int    `json:"connectorId" validate:"required,min=1"`
}

// loadScenarioParams carries a complete, caller-authored scenario graph
// for run_scenario/list_scenarios bookkeeping, either inline ("scenario")
// or as a path to a JSON file holding the same shape ("file").
type loadScenarioParams struct {
	Scenario *scenario.Definition `json:"scenario"`
	File     string               `json:"file"`
}

type scenarioIDParams struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

type runScenarioParams struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
	Mode       string `json:"mode"`
}

func (s *Supervisor) loadScenarioTemplate(h *hostedCP, raw json.RawMessage) (scenario.Definition, error) {
	var p loadScenarioTemplateParams
	if err := unmarshalParams(raw, &p); err != nil {
		return scenario.Definition{}, err
	}
	def, err := scenario.BuildTemplate(p.TemplateID, p.ConnectorID)
	if err != nil {
		return scenario.Definition{}, err
	}
	s.registerDefinition(h, def)
	return def, nil
}

func (s *Supervisor) loadScenario(h *hostedCP, raw json.RawMessage) (scenario.Definition, error) {
	var p loadScenarioParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return scenario.Definition{}, fmt.Errorf("invalid params: %w", err)
	}

	def := p.Scenario
	if def == nil {
		if p.File == "" {
			return scenario.Definition{}, fmt.Errorf("load_scenario requires either \"scenario\" or \"file\"")
		}
		data, err := os.ReadFile(p.File)
		if err != nil {
			return scenario.Definition{}, fmt.Errorf("read scenario file %s: %w", p.File, err)
		}
		var fileDef scenario.Definition
		if err := json.Unmarshal(data, &fileDef); err != nil {
			return scenario.Definition{}, fmt.Errorf("parse scenario file %s: %w", p.File, err)
		}
		def = &fileDef
	}
	if def.ID == "" {
		return scenario.Definition{}, fmt.Errorf("scenario definition requires an id")
	}
	s.registerDefinition(h, *def)
	return *def, nil
}

func (s *Supervisor) registerDefinition(h *hostedCP, def scenario.Definition) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	h.scenarioDefs[def.ID] = def
}

func (s *Supervisor) listScenarios(h *hostedCP) []scenario.Definition {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	out := make([]scenario.Definition, 0, len(h.scenarioDefs))
	for _, def := range h.scenarioDefs {
		out = append(out, def)
	}
	return out
}

func (s *Supervisor) runScenario(cpID string, h *hostedCP, raw json.RawMessage) (scenarioStatus, error) {
	var p runScenarioParams
	if err := unmarshalParams(raw, &p); err != nil {
		return scenarioStatus{}, err
	}

	mode := scenario.ModeOneshot
	if p.Mode == string(scenario.ModeLoop) {
		mode = scenario.ModeLoop
	}

	h.scenarioMu.Lock()
	def, ok := h.scenarioDefs[p.ScenarioID]
	if !ok {
		h.scenarioMu.Unlock()
		return scenarioStatus{}, fmt.Errorf("scenario %q is not loaded", p.ScenarioID)
	}
	if run, running := h.scenarioRuns[p.ScenarioID]; running && run.Context().State == scenario.StateRunning {
		h.scenarioMu.Unlock()
		return scenarioStatus{}, fmt.Errorf("scenario %q is already running", p.ScenarioID)
	}

	run := scenario.New(def, h.cp, h.cp, scenario.Hooks{
		OnStateChange: func(ctx scenario.RunContext) {
			s.handleCPEvent(cpID, h, chargepoint.Event{
				Type:    "scenarioStateChange",
				Message: string(ctx.State),
			})
		},
	})
	h.scenarioRuns[p.ScenarioID] = run
	h.scenarioMu.Unlock()

	metrics.ScenarioRuns.WithLabelValues(p.ScenarioID, string(mode)).Inc()
	run.Start(mode)
	return toScenarioStatus(run.Context()), nil
}

func (s *Supervisor) scenarioRunStatus(h *hostedCP, raw json.RawMessage) (scenarioStatus, error) {
	var p scenarioIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return scenarioStatus{}, err
	}
	h.scenarioMu.Lock()
	run, ok := h.scenarioRuns[p.ScenarioID]
	h.scenarioMu.Unlock()
	if !ok {
		return scenarioStatus{}, fmt.Errorf("scenario %q has not been run", p.ScenarioID)
	}
	return toScenarioStatus(run.Context()), nil
}

func (s *Supervisor) stopScenario(h *hostedCP, raw json.RawMessage) error {
	var p scenarioIDParams
	if err := unmarshalParams(raw, &p); err != nil {
		return err
	}
	h.scenarioMu.Lock()
	run, ok := h.scenarioRuns[p.ScenarioID]
	h.scenarioMu.Unlock()
	if !ok {
		return fmt.Errorf("scenario %q has not been run", p.ScenarioID)
	}
	run.Stop()
	return nil
}

func (s *Supervisor) stopAllScenarios(h *hostedCP) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()
	for _, run := range h.scenarioRuns {
		run.Stop()
	}
}
