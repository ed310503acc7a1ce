// cell_views contains views derived from the Frame view-model.
package cell_views

import (
	"fmt"
	"math"

	"catmouse/grid_world"
	"catmouse/reinforcement"
)

// Frame converts a training snapshot into fields immediately usable as view parameters,
// in svg orientation: X is the column, Y the row, and [0][0] is the top left cell as it
// would be printed in the console.
type Frame struct {
	// Maze cells and the tokens on them, indexed [row][col].
	Maze       [][]MazeCell
	Cat, Mouse Token
	// Values holds one cell per (dy, dx) state, indexed [dy][dx].
	Values [][]ValueCell
	Panel  Panel
}

type MazeCell struct {
	X, Y int
	Fill string
}

type Token struct {
	X, Y int
}

type ValueCell struct {
	X, Y                int
	Max                 float64
	PolicyArrowRotation int
	Fill                string
}

// Panel holds the score panel's formatted text.
type Panel struct {
	RunID       string
	Status      string
	Episode     string
	Step        string
	Reward      string
	Exploration string
	Successes   string
	SuccessRate string
	Best        string
	Total       string
}

// Convert transforms a snapshot into a Frame for consumption by the views.
func Convert(snap reinforcement.Snapshot) Frame {
	return Frame{
		Maze:   convertMaze(snap.Maze),
		Cat:    Token{X: snap.Cat.Col, Y: snap.Cat.Row},
		Mouse:  Token{X: snap.Mouse.Col, Y: snap.Mouse.Row},
		Values: convertValues(snap.Values, snap.Policy),
		Panel:  convertPanel(snap),
	}
}

func convertMaze(maze *grid_world.Maze) (cells [][]MazeCell) {
	if maze == nil {
		return
	}
	cells = make([][]MazeCell, maze.Height)
	for row := range cells {
		cells[row] = make([]MazeCell, maze.Width)
		for col := range cells[row] {
			cells[row][col] = MazeCell{
				X:    col,
				Y:    row,
				Fill: getFill(maze.Grid[row][col]),
			}
		}
	}
	return
}

func convertValues(values [][]float64, policy [][]grid_world.Action) (cells [][]ValueCell) {
	minVal, maxVal := math.MaxFloat64, -math.MaxFloat64
	for _, row := range values {
		for _, val := range row {
			minVal = math.Min(minVal, val)
			maxVal = math.Max(maxVal, val)
		}
	}

	cells = make([][]ValueCell, len(values))
	for dy, row := range values {
		cells[dy] = make([]ValueCell, len(row))
		for dx, val := range row {
			cells[dy][dx] = ValueCell{
				X:                   dx,
				Y:                   dy,
				Max:                 val,
				PolicyArrowRotation: getDegrees(policy[dy][dx]),
				Fill:                getRGBFill(val, minVal, maxVal),
			}
		}
	}
	return
}

func convertPanel(snap reinforcement.Snapshot) Panel {
	return Panel{
		RunID:       snap.RunID,
		Status:      string(snap.Status),
		Episode:     fmt.Sprintf("%d", snap.Episode),
		Step:        fmt.Sprintf("%d", snap.Step),
		Reward:      fmt.Sprintf("%.1f", snap.EpisodeReward),
		Exploration: fmt.Sprintf("%.3f", snap.Exploration),
		Successes:   fmt.Sprintf("%d/%d", snap.Score.Successes, snap.Score.Episodes),
		SuccessRate: fmt.Sprintf("%.1f%%", 100*snap.Score.SuccessRate()),
		Best:        fmt.Sprintf("%.1f", snap.Score.Best),
		Total:       fmt.Sprintf("%.1f", snap.Score.Total),
	}
}

// getDegrees returns the rotation passed to svg's rotate() for an upward arrow rune.
func getDegrees(action grid_world.Action) int {
	switch action {
	case grid_world.RIGHT:
		return 90
	case grid_world.DOWN:
		return 180
	case grid_world.LEFT:
		return 270
	}
	return 0
}

func getFill(cell rune) string {
	if cell == grid_world.WALL {
		return "dimgray"
	}
	return "whitesmoke"
}

// Returns an RGB value defined by where val lies along the number line between minVal and maxVal,
// from blue at the minimum to red at the maximum.
func getRGBFill(val, minVal, maxVal float64) string {
	redPct := 50
	if span := maxVal - minVal; span > 0 {
		redPct = int(100.0 * (val - minVal) / span)
	}
	return fmt.Sprintf("rgb(%d%%,0%%,%d%%)", redPct, 100-redPct)
}
