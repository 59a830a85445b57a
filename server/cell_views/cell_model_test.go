package cell_views

import (
	"math/rand"
	"testing"

	"qmaze/models"
	"qmaze/reinforcement"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConvert(t *testing.T) {
	Convey("Given a fresh engine on the default maze", t, func() {
		grid := models.DefaultGrid()
		params := reinforcement.DefaultHyperParams
		params.Epsilon = 0
		engine, err := reinforcement.NewEngine(grid, params, rand.New(rand.NewSource(1)))
		So(err, ShouldBeNil)

		Convey("Every cell is laid out at its row and column", func() {
			cells := Convert(grid, engine.Snapshot())
			So(cells, ShouldHaveLength, 5)
			for row := range cells {
				So(cells[row], ShouldHaveLength, 5)
				for col, cell := range cells[row] {
					So(cell.Row, ShouldEqual, row)
					So(cell.Col, ShouldEqual, col)
				}
			}

			So(cells[0][0].Agent, ShouldBeTrue)
			So(cells[0][0].Fill, ShouldEqual, "lightblue")
			So(cells[4][4].Fill, ShouldEqual, "lightyellow")
			So(cells[1][1].Fill, ShouldEqual, "lightcoral")
			So(cells[0][1].Fill, ShouldEqual, "lightgray")
			So(cells[2][3].ID(), ShouldEqual, "cell-2-3")
		})

		Convey("Ties show the first action, and special cells show none", func() {
			cells := Convert(grid, engine.Snapshot())
			So(cells[0][1].Arrow, ShouldEqual, "^")
			So(cells[4][4].Arrow, ShouldBeEmpty)
			So(cells[2][2].Arrow, ShouldBeEmpty)
		})

		Convey("After a step the path and values are reflected", func() {
			// Greedy on an all-zero table: Up, which bumps into the top wall.
			engine.Step()
			cells := Convert(grid, engine.Snapshot())

			So(cells[0][0].Agent, ShouldBeTrue)
			So(cells[0][0].Visited, ShouldBeTrue)
			So(cells[0][0].Max, ShouldEqual, 0.0)
			So(cells[0][0].Arrow, ShouldEqual, "v")
		})
	})

	Convey("Value fills span blue to red", t, func() {
		So(getRGBFill(0, 0, 10), ShouldEqual, "rgb(0%,0%,100%)")
		So(getRGBFill(10, 0, 10), ShouldEqual, "rgb(100%,0%,0%)")
		So(getRGBFill(3, 3, 3), ShouldEqual, "rgb(50%,0%,50%)")
	})
}
