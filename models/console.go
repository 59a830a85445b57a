package models

import (
	"fmt"
	"io"

	"github.com/logrusorgru/aurora"
)

// Console cell glyphs.
const (
	AgentCell    = 'A'
	GoalCell     = '+'
	ObstacleCell = 'W'
	PathCell     = '*'
	OpenCell     = 'o'
)

// CellRune returns the glyph for pos given the agent position and the set of visited cells.
func (g *Grid) CellRune(pos, agent Position, visited map[Position]bool) rune {
	switch {
	case pos == agent:
		return AgentCell
	case pos == g.Goal:
		return GoalCell
	case g.IsObstacle(pos):
		return ObstacleCell
	case visited[pos]:
		return PathCell
	default:
		return OpenCell
	}
}

// ShowGrid prints the maze, for visual reference. Colors are applied through au,
// so passing aurora.NewAurora(false) yields plain text.
func ShowGrid(w io.Writer, au aurora.Aurora, g *Grid, agent Position, path []Position) {
	visited := make(map[Position]bool, len(path))
	for _, pos := range path {
		visited[pos] = true
	}

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			cell := g.CellRune(Pos(row, col), agent, visited)
			fmt.Fprintf(w, "%v ", colorize(au, cell))
		}
		fmt.Fprintln(w)
	}
}

func colorize(au aurora.Aurora, cell rune) aurora.Value {
	switch cell {
	case AgentCell:
		return au.Bold(au.Green(string(cell)))
	case GoalCell:
		return au.Yellow(string(cell))
	case ObstacleCell:
		return au.Red(string(cell))
	case PathCell:
		return au.Cyan(string(cell))
	default:
		return au.Reset(string(cell))
	}
}
