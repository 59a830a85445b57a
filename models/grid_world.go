package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Position is a (row, col) cell of the grid. Row 0 is the top row when printed.
type Position struct {
	Row, Col int
}

// Pos is shorthand for building a Position.
func Pos(row, col int) Position {
	return Position{Row: row, Col: col}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// MarshalJSON encodes the position as a two element array, [row, col].
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Position) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.Row, p.Col = pair[0], pair[1]
	return nil
}

// Action is one of the four moves available to the agent. The integer values are
// part of the wire format (q_table keys), so the order must not change.
type Action int

const (
	Up Action = iota
	Down
	Left
	Right
)

// NumActions is the size of the action set.
const NumActions = 4

// Actions lists every action in enumeration order, which is also the tie-break order
// for greedy selection.
var Actions = [NumActions]Action{Up, Down, Left, Right}

// Delta returns the row and column displacement of the action.
func (a Action) Delta() (dr, dc int) {
	switch a {
	case Up:
		return -1, 0
	case Down:
		return 1, 0
	case Left:
		return 0, -1
	case Right:
		return 0, 1
	}
	return 0, 0
}

func (a Action) String() string {
	switch a {
	case Up:
		return "Up"
	case Down:
		return "Down"
	case Left:
		return "Left"
	case Right:
		return "Right"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Arrow is a single rune for console display of the action.
func (a Action) Arrow() rune {
	switch a {
	case Up:
		return '^'
	case Down:
		return 'v'
	case Left:
		return '<'
	case Right:
		return '>'
	}
	return '?'
}

// Step is a single SARSA time step of an agent: do action a in
// state s, observe reward r and successor s'.
type Step struct {
	State     Position
	Action    Action
	Successor Position
	Reward    float64
}

// Rewards
const (
	GoalReward     = 100.0
	ObstacleReward = -50.0
	StepReward     = -1.0
)

// ErrInvalidGrid is returned when a grid definition cannot be used.
var ErrInvalidGrid = errors.New("invalid grid")

// Grid is the fixed maze topology: its bounds, obstacles, start cell and goal.
// NOTE: obstacles do not block movement. The agent may step onto one and merely
// collects ObstacleReward for doing so.
type Grid struct {
	Rows, Cols int
	Start      Position
	Goal       Position
	obstacles  []Position
	isObstacle map[Position]bool
}

// NewGrid validates and builds a grid. All errors wrap ErrInvalidGrid.
func NewGrid(
	rows, cols int,
	start, goal Position,
	obstacles []Position,
) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, rows, cols)
	}

	grid := &Grid{
		Rows:       rows,
		Cols:       cols,
		Start:      start,
		Goal:       goal,
		isObstacle: make(map[Position]bool, len(obstacles)),
	}
	if !grid.InBounds(start) {
		return nil, fmt.Errorf("%w: start %v out of bounds", ErrInvalidGrid, start)
	}
	if !grid.InBounds(goal) {
		return nil, fmt.Errorf("%w: goal %v out of bounds", ErrInvalidGrid, goal)
	}
	if start == goal {
		return nil, fmt.Errorf("%w: start and goal are both %v", ErrInvalidGrid, goal)
	}

	for _, obs := range obstacles {
		if !grid.InBounds(obs) {
			return nil, fmt.Errorf("%w: obstacle %v out of bounds", ErrInvalidGrid, obs)
		}
		if obs == goal {
			return nil, fmt.Errorf("%w: obstacle on goal %v", ErrInvalidGrid, obs)
		}
		if grid.isObstacle[obs] {
			continue
		}
		grid.isObstacle[obs] = true
		grid.obstacles = append(grid.obstacles, obs)
	}

	return grid, nil
}

// DefaultGrid is the classic 5x5 maze with a diagonal of obstacles.
func DefaultGrid() *Grid {
	grid, err := NewGrid(5, 5, Pos(0, 0), Pos(4, 4), []Position{Pos(1, 1), Pos(2, 2), Pos(3, 3)})
	if err != nil {
		panic(err)
	}
	return grid
}

// InBounds reports whether pos lies within the grid.
func (g *Grid) InBounds(pos Position) bool {
	return pos.Row >= 0 && pos.Row < g.Rows && pos.Col >= 0 && pos.Col < g.Cols
}

// IsObstacle reports whether pos is penalized.
func (g *Grid) IsObstacle(pos Position) bool {
	return g.isObstacle[pos]
}

// Obstacles returns a copy of the obstacle list, in definition order.
func (g *Grid) Obstacles() []Position {
	return append([]Position(nil), g.obstacles...)
}

// NumStates is the number of cells in the grid.
func (g *Grid) NumStates() int {
	return g.Rows * g.Cols
}

// Apply moves pos by the action's delta. Moves off the grid are clamped, so bumping
// into an edge is a no-op on that axis.
func (g *Grid) Apply(pos Position, action Action) Position {
	dr, dc := action.Delta()
	return Position{
		Row: clamp(pos.Row+dr, 0, g.Rows-1),
		Col: clamp(pos.Col+dc, 0, g.Cols-1),
	}
}

// Reward is the reward for stepping into target.
func (g *Grid) Reward(target Position) float64 {
	switch {
	case target == g.Goal:
		return GoalReward
	case g.IsObstacle(target):
		return ObstacleReward
	default:
		return StepReward
	}
}

// Visit calls fn for every cell, row-major.
func (g *Grid) Visit(fn func(pos Position)) {
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			fn(Position{Row: row, Col: col})
		}
	}
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
