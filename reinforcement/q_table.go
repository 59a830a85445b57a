package reinforcement

import (
	"math"

	"qmaze/models"
)

// QTable holds Q(s,a) for every cell and action of a grid. It is dense: every
// entry exists from construction and starts at zero, and entries are never removed.
type QTable struct {
	rows, cols int
	values     [][][models.NumActions]float64
}

// NewQTable returns an all-zero table for a rows x cols grid.
func NewQTable(rows, cols int) *QTable {
	values := make([][][models.NumActions]float64, rows)
	for r := range values {
		values[r] = make([][models.NumActions]float64, cols)
	}
	return &QTable{rows: rows, cols: cols, values: values}
}

// Get returns Q(pos, action).
func (q *QTable) Get(pos models.Position, action models.Action) float64 {
	return q.values[pos.Row][pos.Col][action]
}

// Set overwrites Q(pos, action).
func (q *QTable) Set(pos models.Position, action models.Action, val float64) {
	q.values[pos.Row][pos.Col][action] = val
}

// Values returns the action values at pos, indexed by action.
func (q *QTable) Values(pos models.Position) [models.NumActions]float64 {
	return q.values[pos.Row][pos.Col]
}

// Max returns the largest action value at pos.
func (q *QTable) Max(pos models.Position) float64 {
	return q.Get(pos, q.Best(pos))
}

// Best returns the greedy action at pos. Ties go to the action that comes first
// in models.Actions, so greedy rollouts are reproducible.
func (q *QTable) Best(pos models.Position) (best models.Action) {
	maxVal := -math.MaxFloat64
	for _, action := range models.Actions {
		if val := q.Get(pos, action); val > maxVal {
			maxVal = val
			best = action
		}
	}
	return
}

// Len is the number of (state, action) entries.
func (q *QTable) Len() int {
	return q.rows * q.cols * models.NumActions
}

// Copy returns a deep copy of the table.
func (q *QTable) Copy() *QTable {
	cp := NewQTable(q.rows, q.cols)
	for r := range q.values {
		copy(cp.values[r], q.values[r])
	}
	return cp
}

// Visit calls fn for every entry, row-major then by action.
func (q *QTable) Visit(fn func(pos models.Position, action models.Action, val float64)) {
	for r := range q.values {
		for c := range q.values[r] {
			for _, action := range models.Actions {
				fn(models.Pos(r, c), action, q.values[r][c][action])
			}
		}
	}
}
