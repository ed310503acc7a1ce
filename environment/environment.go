// Package environment simulates the cat-and-mouse maze chase: maze generation at
// reset, the cat's movement and reward shaping, and the mouse's random walk.
package environment

import (
	"errors"
	"fmt"
	"math/rand"

	. "catmouse/grid_world"
)

// MIN_DIMENSION is the smallest maze width or height; the start and goal cells sit
// one cell inside the border.
const MIN_DIMENSION = 3

// MAX_RESET_ATTEMPTS bounds the reset retry loop, which in practice never runs more than once.
const MAX_RESET_ATTEMPTS = 100

// Config holds the maze dimensions, the reward magnitudes, and the episode step limit.
type Config struct {
	Width, Height      int
	RewardWall         float64
	RewardStep         float64
	RewardCloser       float64
	RewardCatch        float64
	MaxStepsPerEpisode int
	// MouseMoveProb is the per-step probability that the mouse attempts a move.
	MouseMoveProb float64
}

var (
	ErrInvalidDimensions = errors.New("invalid maze dimensions")
	ErrInvalidConfig     = errors.New("invalid environment config")
)

// Validate checks the config for values that would otherwise produce undefined indexing
// or an episode that can never start.
func (cfg Config) Validate() error {
	if cfg.Width < MIN_DIMENSION || cfg.Height < MIN_DIMENSION {
		return fmt.Errorf("%w: %dx%d, both must be at least %d",
			ErrInvalidDimensions, cfg.Width, cfg.Height, MIN_DIMENSION)
	}
	if StartPosition() == GoalPosition(cfg.Width, cfg.Height) {
		return fmt.Errorf("%w: %dx%d places the cat and mouse on the same cell",
			ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	if cfg.MaxStepsPerEpisode <= 0 {
		return fmt.Errorf("%w: max steps per episode must be positive, got %d",
			ErrInvalidConfig, cfg.MaxStepsPerEpisode)
	}
	if cfg.MouseMoveProb < 0 || cfg.MouseMoveProb > 1 {
		return fmt.Errorf("%w: mouse move probability %v not in [0,1]",
			ErrInvalidConfig, cfg.MouseMoveProb)
	}
	return nil
}

// MazeGenerator builds the maze for a new episode.
type MazeGenerator func(rng *rand.Rand, width, height int) *Maze

// Option configures a MazeEnvironment at construction.
type Option func(*MazeEnvironment)

// WithMazeGenerator replaces the random maze generator, e.g. with a fixed maze.
func WithMazeGenerator(gen MazeGenerator) Option {
	return func(env *MazeEnvironment) {
		env.generate = gen
	}
}

// MazeEnvironment owns the maze and the cat and mouse positions for one episode at a time.
// It is not safe for concurrent use.
type MazeEnvironment struct {
	cfg      Config
	rng      *rand.Rand
	generate MazeGenerator

	maze        *Maze
	cat, mouse  Position
	steps       int
	totalReward float64
	done        bool
}

// NewMazeEnvironment validates @cfg and returns an environment that has already been reset.
// The random source is shared by maze generation and the mouse's movement.
func NewMazeEnvironment(
	cfg Config,
	rng *rand.Rand,
	opts ...Option,
) (*MazeEnvironment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}

	env := &MazeEnvironment{
		cfg:      cfg,
		rng:      rng,
		generate: Generate,
	}
	for _, opt := range opts {
		opt(env)
	}
	env.Reset()
	return env, nil
}

// Reset generates a new maze, places the cat and mouse at their start cells, clears the
// episode counters and returns the initial state.
func (env *MazeEnvironment) Reset() State {
	env.maze = env.generate(env.rng, env.cfg.Width, env.cfg.Height)
	env.cat = StartPosition()
	env.mouse = GoalPosition(env.cfg.Width, env.cfg.Height)

	// The generator keeps both start cells open, so this never loops; a custom
	// generator that walls them in is retried a bounded number of times.
	for attempts := 1; !env.validStart(); attempts++ {
		if attempts >= MAX_RESET_ATTEMPTS {
			panic(fmt.Sprintf("no valid start after %d mazes: cat %v, mouse %v", attempts, env.cat, env.mouse))
		}
		env.maze = env.generate(env.rng, env.cfg.Width, env.cfg.Height)
		env.cat = StartPosition()
		env.mouse = GoalPosition(env.cfg.Width, env.cfg.Height)
	}

	env.steps = 0
	env.totalReward = 0
	env.done = false
	return env.State()
}

func (env *MazeEnvironment) validStart() bool {
	return env.cat != env.mouse && !env.maze.IsWall(env.cat) && !env.maze.IsWall(env.mouse)
}

// Step moves the cat per @action, maybe moves the mouse, and returns the new state,
// the reward for the transition and whether the episode is over.
//
// Walking into a wall costs RewardWall and the cat stays put. Otherwise the cat moves at a
// cost of RewardStep, plus RewardCloser per unit of Manhattan distance closed on the mouse,
// or minus half of RewardCloser (regardless of how much) if the distance grew.
// A capture replaces the reward with RewardCatch rather than adding to it.
func (env *MazeEnvironment) Step(action Action) (State, float64, bool) {
	env.steps++

	var reward float64
	target := Move(env.cat, action, env.cfg.Width, env.cfg.Height)
	if env.maze.IsWall(target) {
		reward = env.cfg.RewardWall
	} else {
		oldDistance := Manhattan(env.cat, env.mouse)
		env.cat = target
		newDistance := Manhattan(env.cat, env.mouse)

		reward = env.cfg.RewardStep
		if newDistance < oldDistance {
			reward += env.cfg.RewardCloser * float64(oldDistance-newDistance)
		} else if newDistance > oldDistance {
			reward -= env.cfg.RewardCloser * 0.5
		}
	}

	// Always draw, so the random stream does not depend on the move probability.
	if env.rng.Float64() < env.cfg.MouseMoveProb {
		env.moveMouse()
	}

	if env.cat == env.mouse {
		reward = env.cfg.RewardCatch
		env.done = true
	}
	if env.steps >= env.cfg.MaxStepsPerEpisode {
		env.done = true
	}

	env.totalReward += reward
	return env.State(), reward, env.done
}

// Mouse directions as row/col offsets, before shuffling.
var mouseDirections = [4]Position{{Row: 0, Col: 1}, {Row: 0, Col: -1}, {Row: 1, Col: 0}, {Row: -1, Col: 0}}

// moveMouse tries the four directions in random order and takes the first that lands
// on an open, in-bounds cell. Taking the first valid cell of a uniformly random
// permutation is a uniform choice among the valid cells.
func (env *MazeEnvironment) moveMouse() {
	dirs := mouseDirections
	env.rng.Shuffle(len(dirs), func(i, j int) {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	})

	for _, d := range dirs {
		next := Position{Row: env.mouse.Row + d.Row, Col: env.mouse.Col + d.Col}
		if env.maze.InBounds(next) && !env.maze.IsWall(next) {
			env.mouse = next
			return
		}
	}
}

// State returns the current observation.
func (env *MazeEnvironment) State() State {
	return Observe(env.cat, env.mouse)
}

// Maze returns the current episode's maze. It is not modified until the next Reset,
// which allocates a new one.
func (env *MazeEnvironment) Maze() *Maze { return env.maze }

func (env *MazeEnvironment) CatPosition() Position   { return env.cat }
func (env *MazeEnvironment) MousePosition() Position { return env.mouse }
func (env *MazeEnvironment) StepCount() int          { return env.steps }
func (env *MazeEnvironment) TotalReward() float64    { return env.totalReward }
func (env *MazeEnvironment) IsDone() bool            { return env.done }
func (env *MazeEnvironment) Width() int              { return env.cfg.Width }
func (env *MazeEnvironment) Height() int             { return env.cfg.Height }
func (env *MazeEnvironment) Config() Config          { return env.cfg }

// Caught reports whether the cat is on the mouse's cell.
func (env *MazeEnvironment) Caught() bool {
	return env.cat == env.mouse
}
