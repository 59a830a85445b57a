package reinforcement

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"qmaze/models"

	"github.com/logrusorgru/aurora"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConsoleViews(t *testing.T) {
	Convey("Given an untrained engine", t, func() {
		grid := models.DefaultGrid()
		engine, err := NewEngine(grid, DefaultHyperParams, rand.New(rand.NewSource(1)))
		So(err, ShouldBeNil)
		au := aurora.NewAurora(false)
		buf := &bytes.Buffer{}

		Convey("The policy is all ties, shown as the first action", func() {
			ShowPolicy(buf, au, grid, engine.Snapshot())
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			So(lines, ShouldHaveLength, 5)
			So(lines[0], ShouldStartWith, "^ ^ ^ ^ ^")
			So(lines[1], ShouldStartWith, "^ W ^ ^ ^")
			So(lines[4], ShouldStartWith, "^ ^ ^ ^ +")
		})

		Convey("Max values are zero everywhere", func() {
			ShowMaxValues(buf, au, grid, engine.Snapshot())
			out := buf.String()
			So(out, ShouldStartWith, "Max vals:")
			So(out, ShouldContainSubstring, "0.00")
			So(out, ShouldEndWith, "Total: 0.00\n")
		})
	})
}
