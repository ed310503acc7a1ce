package grid_world

import (
	"fmt"
	"math/rand"
)

// Position is a (row, column) cell coordinate. Row 0 is the top row when printed.
type Position struct {
	Row, Col int
}

// State is the agent's observation: the vertical and horizontal distance between
// the cat and the mouse. It is a many-to-one projection of the true positions; the
// absolute location is lost and only the relative offset remains.
type State struct {
	DY, DX int
}

// Action is one of the four movement directions, encoded 0-3.
type Action int

const (
	UP Action = iota
	DOWN
	LEFT
	RIGHT
)

// NUM_ACTIONS is the size of the action space.
const NUM_ACTIONS = 4

// Actions lists every action in index order.
var Actions = [NUM_ACTIONS]Action{UP, DOWN, LEFT, RIGHT}

func (a Action) String() string {
	switch a {
	case UP:
		return "up"
	case DOWN:
		return "down"
	case LEFT:
		return "left"
	case RIGHT:
		return "right"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Maze cell types
const (
	WALL = 'W'
	OPEN = 'o'
)

// Maze generation probabilities
const (
	BORDER_WALL_PROB   = 0.6
	INTERIOR_WALL_PROB = 0.08
	// A wall with at least this many wall neighbors is cleared by the smoothing pass.
	SMOOTHING_NEIGHBORS = 3
)

// Maze is a fixed-size grid of cells indexed [row][col]. A maze is generated once per
// episode and is never mutated afterward, so it is safe to share between goroutines.
type Maze struct {
	Width, Height int
	Grid          [][]rune
}

// NewOpenMaze returns a width x height maze without walls.
func NewOpenMaze(width, height int) *Maze {
	grid := make([][]rune, height)
	for row := range grid {
		grid[row] = make([]rune, width)
		for col := range grid[row] {
			grid[row][col] = OPEN
		}
	}
	return &Maze{Width: width, Height: height, Grid: grid}
}

// Convert builds a maze from rows of cell runes, the first string being the top row.
// Runes other than WALL are treated as open. Note there is no check that the rows
// are of equal length; the first row determines the width. No rows yields an empty maze.
func Convert(rows []string) *Maze {
	height := len(rows)
	if height == 0 {
		return NewOpenMaze(0, 0)
	}
	width := len([]rune(rows[0]))
	maze := NewOpenMaze(width, height)
	for row, line := range rows {
		for col, cell := range []rune(line) {
			if col < width && cell == WALL {
				maze.Grid[row][col] = WALL
			}
		}
	}
	return maze
}

// StartPosition is the cat's fixed start cell.
func StartPosition() Position {
	return Position{Row: 1, Col: 1}
}

// GoalPosition is the mouse's fixed start cell, diagonally opposite the cat.
func GoalPosition(width, height int) Position {
	return Position{Row: height - 2, Col: width - 2}
}

// Generate builds a random maze. Border cells become walls with BORDER_WALL_PROB
// and interior cells with INTERIOR_WALL_PROB, drawing exactly one number from @rng
// per cell in row-major order. The start and goal cells are then cleared, and one
// smoothing pass removes walls that are mostly surrounded by other walls.
func Generate(rng *rand.Rand, width, height int) *Maze {
	maze := NewOpenMaze(width, height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			prob := INTERIOR_WALL_PROB
			if maze.isBorder(row, col) {
				prob = BORDER_WALL_PROB
			}
			if rng.Float64() < prob {
				maze.Grid[row][col] = WALL
			}
		}
	}

	start, goal := StartPosition(), GoalPosition(width, height)
	maze.Grid[start.Row][start.Col] = OPEN
	maze.Grid[goal.Row][goal.Col] = OPEN

	smooth(maze)
	return maze
}

// smooth runs a single in-place pass over the interior cells, opening any wall that
// has SMOOTHING_NEIGHBORS or more wall neighbors (up/down/left/right). The pass is
// not repeated, and cells already opened during the pass count as open for cells
// visited after them. Opening a wall only ever lowers neighbor counts, so a second
// pass would find nothing to do.
func smooth(maze *Maze) {
	for row := 1; row < maze.Height-1; row++ {
		for col := 1; col < maze.Width-1; col++ {
			if maze.Grid[row][col] != WALL {
				continue
			}
			if maze.wallNeighbors(row, col) >= SMOOTHING_NEIGHBORS {
				maze.Grid[row][col] = OPEN
			}
		}
	}
}

func (maze *Maze) isBorder(row, col int) bool {
	return row == 0 || row == maze.Height-1 || col == 0 || col == maze.Width-1
}

// Counts the 4-connected wall neighbors of a cell; missing neighbors count as open.
func (maze *Maze) wallNeighbors(row, col int) (n int) {
	for _, pos := range []Position{
		{row - 1, col}, {row + 1, col},
		{row, col - 1}, {row, col + 1},
	} {
		if maze.InBounds(pos) && maze.Grid[pos.Row][pos.Col] == WALL {
			n++
		}
	}
	return
}

// InBounds reports whether @pos lies on the grid.
func (maze *Maze) InBounds(pos Position) bool {
	return pos.Row >= 0 && pos.Row < maze.Height && pos.Col >= 0 && pos.Col < maze.Width
}

// IsWall reports whether the cell at @pos is a wall. @pos must be in bounds.
func (maze *Maze) IsWall(pos Position) bool {
	return maze.Grid[pos.Row][pos.Col] == WALL
}

// CountWalls returns the number of wall cells.
func (maze *Maze) CountWalls() (n int) {
	for _, row := range maze.Grid {
		for _, cell := range row {
			if cell == WALL {
				n++
			}
		}
	}
	return
}

// Move applies @action to @pos, clamping the result to the grid. Moving off the grid
// leaves that coordinate at the boundary; it does not wrap.
func Move(pos Position, action Action, width, height int) Position {
	switch action {
	case UP:
		pos.Row = max(0, pos.Row-1)
	case DOWN:
		pos.Row = min(height-1, pos.Row+1)
	case LEFT:
		pos.Col = max(0, pos.Col-1)
	case RIGHT:
		pos.Col = min(width-1, pos.Col+1)
	}
	return pos
}

// Manhattan returns the L1 distance between two positions.
func Manhattan(a, b Position) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

// Observe projects the cat and mouse positions onto the agent's state.
func Observe(cat, mouse Position) State {
	return State{
		DY: abs(cat.Row - mouse.Row),
		DX: abs(cat.Col - mouse.Col),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
