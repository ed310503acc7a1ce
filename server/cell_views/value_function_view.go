package cell_views

import (
	"fmt"
	"html/template"
	"math"

	"catmouse/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValueFunction provides a view of max_a Q(s,a) as a 2d isometric projection of the
// surface (dx, dy, value).
type ValueFunction struct {
	id      string
	updates <-chan []fastview.EleUpdate
}

func NewValueFunction(
	done <-chan struct{},
	frames <-chan Frame,
) (vf *ValueFunction) {
	vf = &ValueFunction{id: "valuefunction"}
	vf.updates = channerics.Convert(done, frames, vf.onUpdate)
	return
}

func (vf *ValueFunction) Updates() <-chan []fastview.EleUpdate {
	return vf.updates
}

const (
	surfaceCellDim = 40.0 // pixels per x or y unit
	// The surface's height in cells, spanning the lowest to the highest value.
	surfaceRelief = 3.0
	// ang could easily be a dynamic parameter for a fixed set of view angles (30, 45, etc.)
	ang = math.Pi / 6 // angle of x, y axes (e.g. =30°)
)

var sinAng, cosAng = math.Sin(ang), math.Cos(ang)

// project applies an isometric projection to a point whose z is in cell units.
func project(x, y, z float64) (float64, float64) {
	sx := (x - y) * cosAng * surfaceCellDim
	sy := (x+y)*sinAng*surfaceCellDim - z*surfaceCellDim
	return sx, sy
}

// funcPolygon is the projected quadrilateral spanning four adjacent cells.
type funcPolygon struct {
	Id     string
	Fill   string
	ax, ay float64
	bx, by float64
	cx, cy float64
	dx, dy float64
}

// Points returns a string suitable for the svg-polygon 'points' attribute.
// The values are truncated to ints.
func (fp *funcPolygon) Points() string {
	return fmt.Sprintf("%d,%d %d,%d %d,%d %d,%d",
		int(fp.ax), int(fp.ay),
		int(fp.bx), int(fp.by),
		int(fp.cx), int(fp.cy),
		int(fp.dx), int(fp.dy),
	)
}

func (fp *funcPolygon) bounds() (xmin, ymin, xmax, ymax float64) {
	xmin = math.Min(math.Min(fp.ax, fp.bx), math.Min(fp.cx, fp.dx))
	ymin = math.Min(math.Min(fp.ay, fp.by), math.Min(fp.cy, fp.dy))
	xmax = math.Max(math.Max(fp.ax, fp.bx), math.Max(fp.cx, fp.dx))
	ymax = math.Max(math.Max(fp.ay, fp.by), math.Max(fp.cy, fp.dy))
	return
}

// surface is the projected value function: its polygons, in drawing order, and the
// transform fitting them into the svg.
type surface struct {
	Polygons      []*funcPolygon
	Transform     string
	Width, Height int
}

// valueSurface projects @cells. Cell-A is bottom left, Cell-B is top left, Cell-C is top
// right, and Cell-D is bottom right of each polygon, which is shaded by the average of its
// four values. The order of polygon creation obscures prior polygons, so order matters.
func valueSurface(cells [][]ValueCell) (surf surface) {
	rows := len(cells)
	if rows < 2 || len(cells[0]) < 2 {
		return
	}
	cols := len(cells[0])
	surf.Width = int(2 * surfaceCellDim * float64(cols))
	surf.Height = int(2 * surfaceCellDim * float64(rows))

	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, row := range cells {
		for _, cell := range row {
			minVal = math.Min(minVal, cell.Max)
			maxVal = math.Max(maxVal, cell.Max)
		}
	}
	relief := func(val float64) float64 {
		if maxVal <= minVal {
			return 0
		}
		return surfaceRelief * (val - minVal) / (maxVal - minVal)
	}
	corner := func(cell ValueCell) (float64, float64) {
		return project(float64(cell.X), float64(cell.Y), relief(cell.Max))
	}

	xmin, ymin := math.MaxFloat64, math.MaxFloat64
	xmax, ymax := -math.MaxFloat64, -math.MaxFloat64
	for ri := 0; ri < rows-1; ri++ {
		for ci := cols - 2; ci >= 0; ci-- {
			cellA := cells[ri+1][ci]
			cellB := cells[ri][ci]
			cellC := cells[ri][ci+1]
			cellD := cells[ri+1][ci+1]

			fp := &funcPolygon{Id: fmt.Sprintf("valuefunction-%d-%d", ri, ci)}
			fp.ax, fp.ay = corner(cellA)
			fp.bx, fp.by = corner(cellB)
			fp.cx, fp.cy = corner(cellC)
			fp.dx, fp.dy = corner(cellD)
			avgVal := (cellA.Max + cellB.Max + cellC.Max + cellD.Max) / 4
			fp.Fill = getRGBFill(avgVal, minVal, maxVal)

			x0, y0, x1, y1 := fp.bounds()
			xmin, ymin = math.Min(xmin, x0), math.Min(ymin, y0)
			xmax, ymax = math.Max(xmax, x1), math.Max(ymax, y1)
			surf.Polygons = append(surf.Polygons, fp)
		}
	}

	// Shift by the min x and y to bring the surface into view, and scale it down only if needed.
	scaler := math.Min(
		math.Min(
			float64(surf.Width)/(xmax-xmin),
			float64(surf.Height)/(ymax-ymin),
		),
		1.0,
	)
	surf.Transform = fmt.Sprintf("scale(%f) translate(%d %d)", scaler, int(-xmin), int(-ymin))
	return
}

// Returns the set of view updates needed for the view to reflect current values.
func (vf *ValueFunction) onUpdate(frame Frame) (ops []fastview.EleUpdate) {
	surf := valueSurface(frame.Values)
	for _, fp := range surf.Polygons {
		ops = append(ops, fastview.SetAttrs(fp.Id, "points", fp.Points(), "fill", fp.Fill))
	}
	ops = append(ops, fastview.SetAttrs(vf.id+"-group", "transform", surf.Transform))
	return
}

// Parse returns an svg of polygons plotting the value function surface as a 2D projection.
func (vf *ValueFunction) Parse(
	t *template.Template,
) (name string, err error) {
	name = vf.id
	addedMap := template.FuncMap{
		"valueSurface": valueSurface,
	}
	_, err = t.Funcs(addedMap).Parse(
		`{{ define "` + name + `" }}
		<div style="padding:20px; display:inline-block; vertical-align:top;">
			{{ $surf := valueSurface .Values }}
			<svg id="` + vf.id + `" xmlns='http://www.w3.org/2000/svg'
				width="{{ $surf.Width }}px"
				height="{{ $surf.Height }}px"
				style="stroke: lightgrey; stroke-opacity: 1.0; stroke-width: 1;">
				<g id="` + vf.id + `-group" transform="{{ $surf.Transform }}">
				{{ range $poly := $surf.Polygons }}
					<polygon id="{{ $poly.Id }}"
						fill="{{ $poly.Fill }}" fill-opacity="1.0"
						points="{{ $poly.Points }}" />
				{{ end }}
				</g>
			</svg>
		</div>
		{{ end }}`)
	return
}
