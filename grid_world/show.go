package grid_world

import (
	"fmt"
	"io"
	"strings"

	"github.com/logrusorgru/aurora"
)

// Console glyphs for the occupants of a cell.
const (
	CAT   = 'C'
	MOUSE = 'M'
)

// ShowGrid prints the maze with the cat and mouse, for visual reference.
// If the two share a cell only the cat is shown, since that is a capture.
func ShowGrid(w io.Writer, au aurora.Aurora, maze *Maze, cat, mouse Position) {
	for row := range maze.Grid {
		for col, cell := range maze.Grid[row] {
			pos := Position{Row: row, Col: col}
			switch {
			case pos == cat:
				fmt.Fprint(w, au.Bold(au.Red(string(CAT))), " ")
			case pos == mouse:
				fmt.Fprint(w, au.Bold(au.Blue(string(MOUSE))), " ")
			case cell == WALL:
				fmt.Fprint(w, au.Gray(12, string(WALL)), " ")
			default:
				fmt.Fprint(w, au.Green(string(OPEN)), " ")
			}
		}
		fmt.Fprintln(w)
	}
}

// Returns a printable rune for an action, hyper simplified for console display.
func arrow(action Action) rune {
	switch action {
	case UP:
		return '^'
	case DOWN:
		return 'v'
	case LEFT:
		return '<'
	case RIGHT:
		return '>'
	}
	return '?'
}

// ShowPolicy prints the greedy action for every state. Rows are the vertical distance
// to the mouse and columns the horizontal distance, so the top-left cell is the
// captured state (0,0).
func ShowPolicy(w io.Writer, au aurora.Aurora, policy [][]Action) {
	if len(policy) == 0 {
		return
	}
	fmt.Fprintln(w, "Policy (rows: dy, cols: dx):")
	fmt.Fprint(w, "    ")
	for dx := range policy[0] {
		fmt.Fprintf(w, "%-3d", dx)
	}
	fmt.Fprintln(w)
	for dy, row := range policy {
		fmt.Fprintf(w, "%3d ", dy)
		for _, action := range row {
			fmt.Fprint(w, au.Cyan(string(arrow(action))), "  ")
		}
		fmt.Fprintln(w)
	}
}

// ShowMaxValues prints the maximum action-value of every state, and their total.
func ShowMaxValues(w io.Writer, values [][]float64) {
	fmt.Fprintln(w, "Max vals:")
	total := 0.0
	for _, row := range values {
		cols := make([]string, 0, len(row))
		for _, val := range row {
			cols = append(cols, fmt.Sprintf("%6.2f", val))
			total += val
		}
		fmt.Fprintln(w, " "+strings.Join(cols, " "))
	}
	fmt.Fprintf(w, "Total: %.2f\n", total)
}
