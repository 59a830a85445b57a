package cell_views

import (
	"fmt"
	"html/template"
	"math"
)

const cellDim = 80 // Cell height/width size in pixels

// ValuesGrid is an svg of the maze, one square per cell, showing each cell's
// greedy action and max value. The page script updates the element ids
// rendered here from the snapshots it receives.
type ValuesGrid struct {
	id string
}

func NewValuesGrid() *ValuesGrid {
	return &ValuesGrid{id: template.HTMLEscapeString("valuesgrid")}
}

// Returns an RGB value defined by where val lies along the number line between minVal and maxVal.
// Low values shade toward blue, high values toward red.
func getRGBFill(val, minVal, maxVal float64) string {
	if maxVal <= minVal {
		return "rgb(50%,0%,50%)"
	}
	redPct := int(100.0 * (val - minVal) / (maxVal - minVal))
	return fmt.Sprintf("rgb(%d%%,0%%,%d%%)", redPct, 100-redPct)
}

// valueFills shades every non-special cell by its max value relative to the rest of the grid.
func valueFills(cells [][]Cell) map[string]string {
	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, row := range cells {
		for _, cell := range row {
			minVal = math.Min(minVal, cell.Max)
			maxVal = math.Max(maxVal, cell.Max)
		}
	}

	fills := map[string]string{}
	for _, row := range cells {
		for _, cell := range row {
			fills[cell.ID()] = getRGBFill(cell.Max, minVal, maxVal)
		}
	}
	return fills
}

// Parse defines the grid's template, which expects [][]Cell, and returns its name.
func (vg *ValuesGrid) Parse(
	t *template.Template,
) (name string, err error) {
	name = vg.id
	addedMap := template.FuncMap{
		"valueFills": valueFills,
		"fmtValue":   func(val float64) string { return fmt.Sprintf("%.2f", val) },
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px;">
			{{ $cell_dim := ` + fmt.Sprintf("%d", cellDim) + ` }}
			{{ $rows := len . }}
			{{ $cols := len (index . 0) }}
			{{ $fills := valueFills . }}
			<svg id="` + vg.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ mult $cell_dim $cols }}px"
				height="{{ mult $cell_dim $rows }}px"
				style="stroke: white; stroke-width: 2;">
				{{ range $row := . }}
					{{ range $cell := $row }}
						{{ $x := mult $cell.Col $cell_dim }}
						{{ $y := mult $cell.Row $cell_dim }}
						<g id="{{ $cell.ID }}" data-row="{{ $cell.Row }}" data-col="{{ $cell.Col }}">
							<rect id="{{ $cell.ID }}-rect" x="{{ $x }}" y="{{ $y }}"
								width="{{ $cell_dim }}" height="{{ $cell_dim }}"
								fill="{{ $cell.Fill }}" data-fill="{{ $cell.Fill }}" />
							<rect id="{{ $cell.ID }}-value" x="{{ add $x 6 }}" y="{{ add $y 6 }}"
								width="{{ sub $cell_dim 12 }}" height="6"
								fill="{{ index $fills $cell.ID }}" />
							<text id="{{ $cell.ID }}-arrow" x="{{ add $x (div $cell_dim 2) }}" y="{{ add $y (div $cell_dim 2) }}"
								text-anchor="middle" font-size="24" stroke="none">{{ $cell.Arrow }}</text>
							<text id="{{ $cell.ID }}-max" x="{{ add $x (div $cell_dim 2) }}" y="{{ sub (add $y $cell_dim) 8 }}"
								text-anchor="middle" font-size="12" stroke="none">{{ fmtValue $cell.Max }}</text>
							<circle id="{{ $cell.ID }}-agent" cx="{{ add $x 14 }}" cy="{{ add $y 22 }}" r="8"
								fill="darkgreen" stroke="none"
								visibility="{{ if $cell.Agent }}visible{{ else }}hidden{{ end }}" />
							<circle id="{{ $cell.ID }}-visited" cx="{{ sub (add $x $cell_dim) 14 }}" cy="{{ add $y 22 }}" r="4"
								fill="goldenrod" stroke="none"
								visibility="{{ if $cell.Visited }}visible{{ else }}hidden{{ end }}" />
						</g>
					{{ end }}
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
