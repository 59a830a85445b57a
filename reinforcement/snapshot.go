package reinforcement

import (
	"encoding/json"
	"fmt"

	"qmaze/models"
)

// Snapshot is a point-in-time copy of the engine's observable state. It shares no
// memory with the engine, so it may be read from any goroutine while learning continues.
type Snapshot struct {
	Agent     models.Position
	Goal      models.Position
	obstacles []models.Position
	path      []models.Position
	q         *QTable
}

// Obstacles returns a copy of the obstacle cells.
func (s Snapshot) Obstacles() []models.Position {
	return append([]models.Position(nil), s.obstacles...)
}

// Path returns a copy of the cells visited since the last reset.
func (s Snapshot) Path() []models.Position {
	return append([]models.Position(nil), s.path...)
}

// Q returns the captured value of Q(pos, action).
func (s Snapshot) Q(pos models.Position, action models.Action) float64 {
	return s.q.Get(pos, action)
}

// Values returns the captured action values at pos.
func (s Snapshot) Values(pos models.Position) [models.NumActions]float64 {
	return s.q.Values(pos)
}

// Best returns the greedy action at pos per the captured table.
func (s Snapshot) Best(pos models.Position) models.Action {
	return s.q.Best(pos)
}

// NumEntries is the number of captured Q-table entries.
func (s Snapshot) NumEntries() int {
	return s.q.Len()
}

// Role names of SnapshotView.CurrentState.
const (
	RoleAgent     = "agent"
	RoleObstacles = "obstacles"
	RoleGoal      = "goal"
	RolePath      = "path"
)

// SnapshotView is the wire form of a Snapshot.
type SnapshotView struct {
	// CurrentState maps a role (agent, obstacles, goal, path) to its cells.
	CurrentState map[string][]models.Position `json:"current_state"`
	// QTable maps "row,col,action" to Q(s,a). Action indices are 0=Up,1=Down,2=Left,3=Right.
	QTable map[string]float64 `json:"q_table"`
}

// QKey is the q_table key of a (state, action) pair.
func QKey(pos models.Position, action models.Action) string {
	return fmt.Sprintf("%d,%d,%d", pos.Row, pos.Col, int(action))
}

// View projects the snapshot into its wire form.
func (s Snapshot) View() SnapshotView {
	qtable := make(map[string]float64, s.q.Len())
	s.q.Visit(func(pos models.Position, action models.Action, val float64) {
		qtable[QKey(pos, action)] = val
	})

	return SnapshotView{
		CurrentState: map[string][]models.Position{
			RoleAgent:     {s.Agent},
			RoleObstacles: append([]models.Position{}, s.obstacles...),
			RoleGoal:      {s.Goal},
			RolePath:      append([]models.Position{}, s.path...),
		},
		QTable: qtable,
	}
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}
