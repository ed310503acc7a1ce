package cell_views

import (
	"fmt"
	"html/template"

	"catmouse/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// The maze's cell size in pixels.
const mazeCellDim = 40

// MazeView draws the current episode's maze with the cat and mouse on it.
type MazeView struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewMazeView(
	done <-chan struct{},
	frames <-chan Frame,
) (mv *MazeView) {
	mv = &MazeView{id: "maze"}
	mv.updates = channerics.Convert(done, frames, mv.onUpdate)
	return
}

func (mv *MazeView) Updates() <-chan []fastview.EleUpdate {
	return mv.updates
}

// center returns the pixel coordinate of the middle of cell @i.
func center(i int) string {
	return fmt.Sprintf("%d", i*mazeCellDim+mazeCellDim/2)
}

// Every cell's fill is sent on every update, since the maze is regenerated per episode.
func (mv *MazeView) onUpdate(frame Frame) (ops []fastview.EleUpdate) {
	for _, row := range frame.Maze {
		for _, cell := range row {
			ops = append(ops, fastview.SetAttrs(
				fmt.Sprintf("%s-%d-%d", mv.id, cell.Y, cell.X),
				"fill", cell.Fill))
		}
	}
	ops = append(ops,
		fastview.SetAttrs(mv.id+"-mouse", "cx", center(frame.Mouse.X), "cy", center(frame.Mouse.Y)),
		fastview.SetAttrs(mv.id+"-cat", "cx", center(frame.Cat.X), "cy", center(frame.Cat.Y)),
	)
	return
}

// Parse defines the maze svg. The cat is drawn after the mouse so that it covers the mouse on a capture.
func (mv *MazeView) Parse(
	t *template.Template,
) (name string, err error) {
	name = mv.id
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $cell_dim := ` + fmt.Sprintf("%d", mazeCellDim) + ` }}
			{{ $half := div $cell_dim 2 }}
			{{ $rows := len .Maze }}
			{{ $cols := len (index .Maze 0) }}
			<svg id="` + mv.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ add (mult $cols $cell_dim) 1 }}px"
				height="{{ add (mult $rows $cell_dim) 1 }}px"
				style="shape-rendering: crispEdges;">
				{{ range $row := .Maze }}
					{{ range $cell := $row }}
					<rect id="` + mv.id + `-{{$cell.Y}}-{{$cell.X}}"
						x="{{ mult $cell.X $cell_dim }}"
						y="{{ mult $cell.Y $cell_dim }}"
						width="{{ $cell_dim }}"
						height="{{ $cell_dim }}"
						fill="{{ $cell.Fill }}"
						stroke="lightgray"
						stroke-width="1"/>
					{{ end }}
				{{ end }}
				<circle id="` + mv.id + `-mouse"
					cx="{{ add (mult .Mouse.X $cell_dim) $half }}"
					cy="{{ add (mult .Mouse.Y $cell_dim) $half }}"
					r="{{ sub $half 8 }}" fill="sienna"/>
				<circle id="` + mv.id + `-cat"
					cx="{{ add (mult .Cat.X $cell_dim) $half }}"
					cy="{{ add (mult .Cat.Y $cell_dim) $half }}"
					r="{{ sub $half 4 }}" fill="orange" fill-opacity="0.8"/>
			</svg>
		</div>
		{{ end }}`)
	return
}
