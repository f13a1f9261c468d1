package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
)

// RunState is a scenario run's lifecycle state.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateStopped   RunState = "stopped"
)

// RunMode controls what happens when the graph reaches an End node.
type RunMode string

const (
	ModeOneshot RunMode = "oneshot"
	ModeLoop    RunMode = "loop"
)

// RunContext is the observable state of one scenario run.
type RunContext struct {
	ScenarioID string
	NodeID     string
	Iterations map[string]int
	State      RunState
	StartedAt  time.Time
	StoppedAt  time.Time
	Err        error
}

// CommandInvoker executes one named command with literal parameters
// against whatever the scenario targets. Implemented by chargepoint.ChargePoint.
type CommandInvoker interface {
	Invoke(ctx context.Context, command string, params map[string]interface{}) error
}

// PredicateEvaluator evaluates a declarative condition against live
// target state.
type PredicateEvaluator interface {
	Evaluate(cond ConditionSpec) bool
}

// Hooks are optional callbacks a host can register to observe a run.
type Hooks struct {
	OnStateChange func(RunContext)
	OnNodeExecute func(nodeID string)
	OnError       func(err error)
}

// Executor runs exactly one Definition against one invoker/evaluator
// pair. It is not safe for concurrent Start calls on the same instance,
// matching the single-threaded-per-scenario execution model; distinct
// scenarios each get their own Executor and may run concurrently.
type Executor struct {
	def       Definition
	invoker   CommandInvoker
	evaluator PredicateEvaluator
	hooks     Hooks

	mu      sync.Mutex
	ctx     RunContext
	stopCh  chan struct{}
	running bool
}

// New builds an Executor for def, driving invoker for Action nodes and
// evaluator for Wait/Branch/Loop conditions.
func New(def Definition, invoker CommandInvoker, evaluator PredicateEvaluator, hooks Hooks) *Executor {
	return &Executor{
		def:       def,
		invoker:   invoker,
		evaluator: evaluator,
		hooks:     hooks,
		ctx: RunContext{
			ScenarioID: def.ID,
			NodeID:     def.StartNodeID,
			Iterations: map[string]int{},
			State:      StateIdle,
		},
	}
}

// Context returns a snapshot of the run's current state.
func (e *Executor) Context() RunContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// Start begins execution on a new goroutine in the given mode. It is a
// no-op if the scenario is already running.
func (e *Executor) Start(mode RunMode) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.ctx.State = StateRunning
	e.ctx.NodeID = e.def.StartNodeID
	e.ctx.StartedAt = time.Now()
	e.ctx.Err = nil
	stop := e.stopCh
	e.mu.Unlock()
	e.notifyState()

	go e.run(mode, stop)
}

// Stop transitions the run to stopped at its next suspension point (or
// immediately between nodes if not currently suspended). In-flight
// Action nodes complete before the stop takes effect.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stop := e.stopCh
	e.mu.Unlock()
	close(stop)
}

func (e *Executor) isStopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (e *Executor) run(mode RunMode, stop chan struct{}) {
	nodeID := e.def.StartNodeID

	for {
		if e.isStopped(stop) {
			e.finish(StateStopped, nil)
			return
		}

		node, ok := e.def.Nodes[nodeID]
		if !ok {
			e.finish(StateFailed, fmt.Errorf("scenario %s: unknown node %q", e.def.ID, nodeID))
			return
		}

		e.setNode(nodeID)
		if e.hooks.OnNodeExecute != nil {
			e.hooks.OnNodeExecute(nodeID)
		}

		next, terminal, err := e.step(node, stop)
		if err != nil {
			e.finish(StateFailed, err)
			return
		}
		if terminal {
			if mode == ModeLoop && !e.isStopped(stop) {
				nodeID = e.def.StartNodeID
				continue
			}
			e.finish(StateCompleted, nil)
			return
		}
		nodeID = next
	}
}

// step executes one node and returns its successor, or terminal=true
// if node was an End node.
func (e *Executor) step(node Node, stop chan struct{}) (next string, terminal bool, err error) {
	switch node.Kind {
	case NodeAction:
		if node.Action == nil {
			return "", false, errs.NewScenarioError("scenario.step", fmt.Errorf("action node %s has no action", node.ID))
		}
		if err := e.invoker.Invoke(context.Background(), node.Action.Command, node.Action.Params); err != nil {
			return "", false, errs.NewScenarioError("scenario.step", err)
		}
		return node.Next, false, nil

	case NodeDelay:
		select {
		case <-time.After(time.Duration(node.DelayMs) * time.Millisecond):
		case <-stop:
		}
		return node.Next, false, nil

	case NodeWait:
		return e.stepWait(node, stop)

	case NodeBranch:
		if node.Condition == nil {
			return "", false, errs.NewScenarioError("scenario.step", fmt.Errorf("branch node %s has no condition", node.ID))
		}
		if e.evaluator.Evaluate(*node.Condition) {
			return node.True, false, nil
		}
		return node.False, false, nil

	case NodeLoop:
		return e.stepLoop(node)

	case NodeEnd:
		if node.Failed {
			return "", true, errs.NewScenarioError("scenario.step", fmt.Errorf("scenario %s reached failing end node %s", e.def.ID, node.ID))
		}
		return "", true, nil

	default:
		return "", false, errs.NewScenarioError("scenario.step", fmt.Errorf("unknown node kind %q", node.Kind))
	}
}

func (e *Executor) stepWait(node Node, stop chan struct{}) (string, bool, error) {
	if node.Condition == nil {
		return "", false, errs.NewScenarioError("scenario.step", fmt.Errorf("wait node %s has no condition", node.ID))
	}
	deadline := time.Now().Add(time.Duration(node.TimeoutMs) * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if e.evaluator.Evaluate(*node.Condition) {
			return node.Matched, false, nil
		}
		if node.TimeoutMs > 0 && time.Now().After(deadline) {
			return node.TimedOut, false, nil
		}
		select {
		case <-stop:
			// A cancelled wait skips edge selection entirely; the run
			// loop observes the closed channel on its next iteration.
			return "", false, nil
		case <-ticker.C:
		}
	}
}

func (e *Executor) stepLoop(node Node) (string, bool, error) {
	e.mu.Lock()
	count := e.ctx.Iterations[node.ID]
	e.mu.Unlock()

	done := false
	if node.Count > 0 && count >= node.Count {
		done = true
	}
	if node.UntilCondition != nil && e.evaluator.Evaluate(*node.UntilCondition) {
		done = true
	}
	if done {
		return node.LoopExit, false, nil
	}

	e.mu.Lock()
	e.ctx.Iterations[node.ID] = count + 1
	e.mu.Unlock()
	return node.Body, false, nil
}

func (e *Executor) setNode(id string) {
	e.mu.Lock()
	e.ctx.NodeID = id
	e.mu.Unlock()
}

func (e *Executor) finish(state RunState, err error) {
	e.mu.Lock()
	e.ctx.State = state
	e.ctx.StoppedAt = time.Now()
	e.ctx.Err = err
	e.running = false
	e.mu.Unlock()

	if err != nil && e.hooks.OnError != nil {
		e.hooks.OnError(err)
	}
	e.notifyState()
}

func (e *Executor) notifyState() {
	if e.hooks.OnStateChange != nil {
		e.hooks.OnStateChange(e.Context())
	}
}
