package reinforcement

import (
	"errors"
	"fmt"
	"math/rand"

	"qmaze/models"
)

// HyperParams are the fixed learning parameters of an Engine.
type HyperParams struct {
	// Alpha is the learning rate.
	Alpha float64
	// Gamma is the discount, or how much to value future state values.
	Gamma float64
	// Epsilon is the exploration probability of the e-greedy policy.
	Epsilon float64
}

// DefaultHyperParams are the classic tabular Q-learning settings.
var DefaultHyperParams = HyperParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1}

// ErrInvalidParams is returned by NewEngine for out of range hyper-parameters.
var ErrInvalidParams = errors.New("invalid hyper-parameters")

// Transition is the outcome of a single Engine.Step.
type Transition struct {
	models.Step
	// Complete is true when the agent is at the goal after the step.
	Complete bool
	// Noop is true when the agent was already at the goal, in which case nothing changed.
	Noop bool
}

// Engine is a tabular Q-learning agent in a grid world. It owns the Q-table and the
// current episode (agent position and path). Engine is not safe for concurrent use;
// see shared_state for the guarded wrapper.
type Engine struct {
	grid   *models.Grid
	params HyperParams
	rng    *rand.Rand
	q      *QTable
	agent  models.Position
	path   []models.Position
}

// NewEngine returns an engine with an all-zero Q-table and the agent on the start cell.
func NewEngine(
	grid *models.Grid,
	params HyperParams,
	rng *rand.Rand,
) (*Engine, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: nil grid", models.ErrInvalidGrid)
	}
	if params.Alpha <= 0 || params.Alpha > 1 {
		return nil, fmt.Errorf("%w: alpha %v not in (0,1]", ErrInvalidParams, params.Alpha)
	}
	if params.Gamma < 0 || params.Gamma > 1 {
		return nil, fmt.Errorf("%w: gamma %v not in [0,1]", ErrInvalidParams, params.Gamma)
	}
	if params.Epsilon < 0 || params.Epsilon > 1 {
		return nil, fmt.Errorf("%w: epsilon %v not in [0,1]", ErrInvalidParams, params.Epsilon)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidParams)
	}

	return &Engine{
		grid:   grid,
		params: params,
		rng:    rng,
		q:      NewQTable(grid.Rows, grid.Cols),
		agent:  grid.Start,
	}, nil
}

// Grid returns the engine's grid.
func (e *Engine) Grid() *models.Grid {
	return e.grid
}

// Params returns the engine's hyper-parameters.
func (e *Engine) Params() HyperParams {
	return e.params
}

// Agent returns the current agent position.
func (e *Engine) Agent() models.Position {
	return e.agent
}

// PathLen returns the number of steps taken since the last reset.
func (e *Engine) PathLen() int {
	return len(e.path)
}

// AtGoal reports whether the current episode is complete.
func (e *Engine) AtGoal() bool {
	return e.agent == e.grid.Goal
}

// Q returns the live table. Callers must hold whatever guard serializes the engine.
func (e *Engine) Q() *QTable {
	return e.q
}

// Reset starts a new episode: the agent returns to the start cell and the path is
// cleared. The Q-table is untouched.
func (e *Engine) Reset() {
	e.agent = e.grid.Start
	e.path = e.path[:0]
}

// Step advances the current episode by one e-greedy action and applies the
// temporal-difference update to Q(s,a). If the agent is already at the goal,
// Step changes nothing and reports Noop.
func (e *Engine) Step() Transition {
	if e.AtGoal() {
		return Transition{
			Step: models.Step{
				State:     e.agent,
				Successor: e.agent,
			},
			Complete: true,
			Noop:     true,
		}
	}
	return e.apply(e.selectAction())
}

// selectAction implements the e-greedy policy: explore uniformly with probability
// epsilon, otherwise take the greedy action.
func (e *Engine) selectAction() models.Action {
	if e.rng.Float64() < e.params.Epsilon {
		return models.Actions[e.rng.Intn(models.NumActions)]
	}
	return e.q.Best(e.agent)
}

// apply takes action from the current position and performs the update
//
//	Q(s,a) <- Q(s,a) + alpha * (r + gamma * max_a' Q(s',a') - Q(s,a))
func (e *Engine) apply(action models.Action) Transition {
	state := e.agent
	successor := e.grid.Apply(state, action)
	reward := e.grid.Reward(successor)

	bestNext := e.q.Max(successor)
	old := e.q.Get(state, action)
	e.q.Set(state, action, old+e.params.Alpha*(reward+e.params.Gamma*bestNext-old))

	e.agent = successor
	e.path = append(e.path, successor)

	return Transition{
		Step: models.Step{
			State:     state,
			Action:    action,
			Successor: successor,
			Reward:    reward,
		},
		Complete: successor == e.grid.Goal,
	}
}

// Snapshot captures an immutable copy of the observable state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Agent:     e.agent,
		Goal:      e.grid.Goal,
		obstacles: e.grid.Obstacles(),
		path:      append(make([]models.Position, 0, len(e.path)), e.path...),
		q:         e.q.Copy(),
	}
}
