// cell_views contains views derived from the Cell view-model.
package cell_views

import (
	"fmt"

	"qmaze/models"
	"qmaze/reinforcement"
)

// Cell flattens one grid cell of a snapshot into fields that are immediately usable
// as view parameters, so templates need no helpers to walk the Q-table.
type Cell struct {
	Row, Col int
	// Max is the greatest action value at the cell.
	Max float64
	// Arrow is the greedy action's glyph; empty on the goal and on obstacles.
	Arrow string
	Fill  string
	// Agent and Visited mark the agent's cell and the current episode's path.
	Agent   bool
	Visited bool
}

// ID is the element id prefix of the cell in rendered views.
func (c Cell) ID() string {
	return fmt.Sprintf("cell-%d-%d", c.Row, c.Col)
}

// Convert lays out a snapshot as rows of cells.
func Convert(grid *models.Grid, snap reinforcement.Snapshot) (cells [][]Cell) {
	visited := map[models.Position]bool{}
	for _, pos := range snap.Path() {
		visited[pos] = true
	}

	cells = make([][]Cell, grid.Rows)
	for row := range cells {
		cells[row] = make([]Cell, grid.Cols)
	}

	grid.Visit(func(pos models.Position) {
		cell := Cell{
			Row:     pos.Row,
			Col:     pos.Col,
			Max:     maxOf(snap.Values(pos)),
			Fill:    getFill(grid, pos),
			Agent:   pos == snap.Agent,
			Visited: visited[pos],
		}
		if pos != grid.Goal && !grid.IsObstacle(pos) {
			cell.Arrow = string(snap.Best(pos).Arrow())
		}
		cells[pos.Row][pos.Col] = cell
	})
	return
}

func maxOf(vals [models.NumActions]float64) float64 {
	max := vals[0]
	for _, val := range vals[1:] {
		if val > max {
			max = val
		}
	}
	return max
}

func getFill(grid *models.Grid, pos models.Position) (fill string) {
	switch {
	case pos == grid.Goal:
		fill = "lightyellow"
	case pos == grid.Start:
		fill = "lightblue"
	case grid.IsObstacle(pos):
		fill = "lightcoral"
	default:
		fill = "lightgray"
	}
	return
}
