package cell_views

import (
	"fmt"
	"html/template"

	"catmouse/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValuesGrid shows max_a Q(s,a) and the greedy action of every (dy, dx) state.
type ValuesGrid struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewValuesGrid(
	done <-chan struct{},
	frames <-chan Frame,
) (vg *ValuesGrid) {
	vg = &ValuesGrid{id: "valuesgrid"}
	vg.updates = channerics.Convert(done, frames, vg.onUpdate)
	return
}

func (vg *ValuesGrid) Updates() <-chan []fastview.EleUpdate {
	return vg.updates
}

func (vg *ValuesGrid) cellId(cell ValueCell, suffix string) string {
	return fmt.Sprintf("%s-%d-%d-%s", vg.id, cell.Y, cell.X, suffix)
}

// Returns the set of view updates needed for the view to reflect the current values.
func (vg *ValuesGrid) onUpdate(frame Frame) (ops []fastview.EleUpdate) {
	for _, row := range frame.Values {
		for _, cell := range row {
			ops = append(ops,
				fastview.SetText(vg.cellId(cell, "text"), fmt.Sprintf("%.2f", cell.Max)),
				fastview.SetAttrs(vg.cellId(cell, "arrow"),
					"transform", fmt.Sprintf("rotate(%d)", cell.PolicyArrowRotation)),
				fastview.SetAttrs(vg.cellId(cell, "rect"), "fill", cell.Fill),
			)
		}
	}
	return
}

// Parse defines the grid of state values: rows are dy, columns dx.
func (vg *ValuesGrid) Parse(
	t *template.Template,
) (name string, err error) {
	name = vg.id
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $cells := .Values }}
			{{ $cell_width := 60 }}
			{{ $cell_height := $cell_width }}
			{{ $width := mult $cell_width (len (index $cells 0)) }}
			{{ $height := mult $cell_height (len $cells) }}
			{{ $half_height := div $cell_height 2 }}
			{{ $half_width := div $cell_width 2 }}
			<svg id="` + vg.id + `"
				width="{{ add $width 1 }}px"
				height="{{ add $height 1 }}px"
				style="shape-rendering: crispEdges;">
				{{ range $row := $cells }}
					{{ range $cell := $row }}
					<g>
						<rect id="` + vg.id + `-{{$cell.Y}}-{{$cell.X}}-rect"
							x="{{ mult $cell.X $cell_width }}"
							y="{{ mult $cell.Y $cell_height }}"
							width="{{ $cell_width }}"
							height="{{ $cell_height }}"
							fill="{{ $cell.Fill }}"
							fill-opacity="0.3"
							stroke="black"
							stroke-width="1"/>
						<text id="` + vg.id + `-{{$cell.Y}}-{{$cell.X}}-text"
							x="{{ add (mult $cell.X $cell_width) $half_width }}"
							y="{{ add (mult $cell.Y $cell_height) (sub $half_height 8) }}"
							font-size="12"
							dominant-baseline="text-top" text-anchor="middle"
							>{{ printf "%.2f" $cell.Max }}</text>
						<g transform="translate({{ add (mult $cell.X $cell_width) $half_width }}, {{ add (mult $cell.Y $cell_height) (add $half_height 12) }})">
							<text id="` + vg.id + `-{{$cell.Y}}-{{$cell.X}}-arrow"
							stroke="blue" stroke-width="1"
							dominant-baseline="central" text-anchor="middle"
							transform="rotate({{ $cell.PolicyArrowRotation }})"
							>&uarr;</text>
						</g>
					</g>
					{{ end }}
				{{ end }}
			</svg>
		</div>
		{{ end }}`)
	return
}
