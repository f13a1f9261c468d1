package scenario

import "fmt"

// Template is a named, parameterizable scenario blueprint. The catalog
// of templates is enumerated here, not designed by the caller: a
// supervisor instantiates one by id and connector, receiving back a
// ready-to-run Definition.
type Template struct {
	ID          string
	Name        string
	Description string
	build       func(connectorID int) Definition
}

// templates lists the built-in scenario catalog, in registration order.
var templates = []Template{
	{
		ID:          "basic-charge",
		Name:        "Basic charge session",
		Description: "Start a transaction, report one meter value, then stop.",
		build:       basicChargeTemplate,
	},
	{
		ID:          "ramp-meter",
		Name:        "Ramping meter",
		Description: "Start a transaction and report ten meter increments of 100 Wh every 500ms before stopping.",
		build:       rampMeterTemplate,
	},
	{
		ID:          "authorize-only",
		Name:        "Authorize without charging",
		Description: "Send Authorize for a tag and end without starting a transaction.",
		build:       authorizeOnlyTemplate,
	},
}

// ListTemplates returns the catalog in registration order.
func ListTemplates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// BuildTemplate instantiates the named template against connectorID,
// returning a Definition ready to register and run.
func BuildTemplate(id string, connectorID int) (Definition, error) {
	for _, t := range templates {
		if t.ID == id {
			return t.build(connectorID), nil
		}
	}
	return Definition{}, fmt.Errorf("unknown scenario template %q", id)
}

func basicChargeTemplate(connectorID int) Definition {
	return Definition{
		ID:          "basic-charge",
		Name:        "Basic charge session",
		TargetType:  TargetConnector,
		TargetID:    connectorID,
		StartNodeID: "start",
		Nodes: map[string]Node{
			"start": {ID: "start", Kind: NodeAction,
				Action: &ActionSpec{Command: "startTransaction", Params: map[string]interface{}{"connectorId": connectorID, "tag": "SCENARIO-TAG"}},
				Next:   "wait-charging"},
			"wait-charging": {ID: "wait-charging", Kind: NodeWait,
				Condition: &ConditionSpec{Kind: ConditionConnectorStatus, ConnectorID: connectorID, Status: "Charging"},
				TimeoutMs: 5000, Matched: "meter", TimedOut: "fail"},
			"meter": {ID: "meter", Kind: NodeAction,
				Action: &ActionSpec{Command: "sendMeterValue", Params: map[string]interface{}{"connectorId": connectorID}},
				Next:   "stop"},
			"stop": {ID: "stop", Kind: NodeAction,
				Action: &ActionSpec{Command: "stopTransaction", Params: map[string]interface{}{"connectorId": connectorID}},
				Next:   "end"},
			"end":  {ID: "end", Kind: NodeEnd},
			"fail": {ID: "fail", Kind: NodeEnd, Failed: true},
		},
	}
}

// rampMeterTemplate unrolls ten 100 Wh meter increments rather than
// looping, since a Loop node's body revisits the same literal Action
// params on every iteration and cannot itself compute an incrementing
// value.
func rampMeterTemplate(connectorID int) Definition {
	nodes := map[string]Node{
		"start": {ID: "start", Kind: NodeAction,
			Action: &ActionSpec{Command: "startTransaction", Params: map[string]interface{}{"connectorId": connectorID, "tag": "SCENARIO-TAG"}},
			Next:   "delay-1"},
	}

	prev := "start"
	for i := 1; i <= 10; i++ {
		delayID := fmt.Sprintf("delay-%d", i)
		bumpID := fmt.Sprintf("bump-%d", i)
		reportID := fmt.Sprintf("report-%d", i)
		next := "stop"
		if i < 10 {
			next = fmt.Sprintf("delay-%d", i+1)
		}

		nodes[prev] = withNext(nodes[prev], delayID)
		nodes[delayID] = Node{ID: delayID, Kind: NodeDelay, DelayMs: 500, Next: bumpID}
		nodes[bumpID] = Node{ID: bumpID, Kind: NodeAction,
			Action: &ActionSpec{Command: "setMeterValue", Params: map[string]interface{}{"connectorId": connectorID, "value": i * 100}},
			Next:   reportID}
		nodes[reportID] = Node{ID: reportID, Kind: NodeAction,
			Action: &ActionSpec{Command: "sendMeterValue", Params: map[string]interface{}{"connectorId": connectorID}},
			Next:   next}
		prev = reportID
	}

	nodes["stop"] = Node{ID: "stop", Kind: NodeAction,
		Action: &ActionSpec{Command: "stopTransaction", Params: map[string]interface{}{"connectorId": connectorID}},
		Next:   "end"}
	nodes["end"] = Node{ID: "end", Kind: NodeEnd}

	return Definition{
		ID:          "ramp-meter",
		Name:        "Ramping meter",
		TargetType:  TargetConnector,
		TargetID:    connectorID,
		StartNodeID: "start",
		Nodes:       nodes,
	}
}

func withNext(n Node, next string) Node {
	n.Next = next
	return n
}

func authorizeOnlyTemplate(connectorID int) Definition {
	return Definition{
		ID:          "authorize-only",
		Name:        "Authorize without charging",
		TargetType:  TargetConnector,
		TargetID:    connectorID,
		StartNodeID: "authorize",
		Nodes: map[string]Node{
			"authorize": {ID: "authorize", Kind: NodeAction,
				Action: &ActionSpec{Command: "authorize", Params: map[string]interface{}{"tag": "SCENARIO-TAG"}},
				Next:   "end"},
			"end": {ID: "end", Kind: NodeEnd},
		},
	}
}
