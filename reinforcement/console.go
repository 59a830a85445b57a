package reinforcement

import (
	"fmt"
	"io"

	"qmaze/models"

	"github.com/logrusorgru/aurora"
)

// ShowPolicy prints the greedy action at every cell as an arrow. The goal and
// obstacles are printed as their cell glyphs since the policy there is not interesting.
func ShowPolicy(w io.Writer, au aurora.Aurora, grid *models.Grid, snap Snapshot) {
	grid.Visit(func(pos models.Position) {
		switch {
		case pos == grid.Goal:
			fmt.Fprintf(w, "%v ", au.Yellow(string(models.GoalCell)))
		case grid.IsObstacle(pos):
			fmt.Fprintf(w, "%v ", au.Red(string(models.ObstacleCell)))
		default:
			fmt.Fprintf(w, "%c ", snap.Best(pos).Arrow())
		}
		if pos.Col == grid.Cols-1 {
			fmt.Fprintln(w)
		}
	})
}

// ShowMaxValues prints max_a Q(s,a) for each cell, and their total as a rough
// measure of training progress.
func ShowMaxValues(w io.Writer, au aurora.Aurora, grid *models.Grid, snap Snapshot) {
	fmt.Fprintln(w, "Max vals:")
	total := 0.0
	grid.Visit(func(pos models.Position) {
		val := snap.Values(pos)[snap.Best(pos)]
		total += val
		cell := fmt.Sprintf("%7.2f", val)
		if val < 0 {
			fmt.Fprintf(w, "%v ", au.Red(cell))
		} else {
			fmt.Fprintf(w, "%v ", au.Green(cell))
		}
		if pos.Col == grid.Cols-1 {
			fmt.Fprintln(w)
		}
	})
	fmt.Fprintf(w, "Total: %.2f\n", total)
}
