package reinforcement

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"catmouse/environment"
	. "catmouse/grid_world"
	"catmouse/logging"

	"github.com/google/uuid"
)

// LOG_INTERVAL is how often, in episodes, Train logs a summary of recent episodes.
const LOG_INTERVAL = 100

// Status describes what a runner was doing when a Snapshot was taken.
type Status string

const (
	STATUS_READY            Status = "ready"
	STATUS_RUNNING          Status = "running"
	STATUS_PAUSED           Status = "paused"
	STATUS_EPISODE_COMPLETE Status = "episode complete"
	STATUS_DONE             Status = "done"
	STATUS_CANCELLED        Status = "cancelled"
)

// Score is the running tally of a watched run.
type Score struct {
	Episodes  int
	Successes int
	Total     float64
	// Best is the highest episode reward; zero until the first episode completes.
	Best float64
}

func (sc *Score) Add(reward float64, success bool) {
	if sc.Episodes == 0 || reward > sc.Best {
		sc.Best = reward
	}
	sc.Episodes++
	sc.Total += reward
	if success {
		sc.Successes++
	}
}

// SuccessRate is the fraction of episodes ending in a capture, zero before any episode.
func (sc Score) SuccessRate() float64 {
	if sc.Episodes == 0 {
		return 0
	}
	return float64(sc.Successes) / float64(sc.Episodes)
}

// Snapshot is a point-in-time copy of a run, safe to hand to other goroutines.
type Snapshot struct {
	Status Status
	RunID  string
	// Episode counts the episodes completed so far, which is also the index of a running episode.
	Episode int
	Step    int
	// Maze is shared, not copied; mazes are never mutated after generation.
	Maze          *Maze
	Cat, Mouse    Position
	Reward        float64
	EpisodeReward float64
	Exploration   float64
	Score         Score
	// Values holds max_a Q(s,a) and Policy the greedy action, both indexed [dy][dx].
	Values [][]float64
	Policy [][]Action
}

// ProgressFunc is a callback by which the trainer lends progress details. It is called
// synchronously on the training goroutine and should complete quickly.
type ProgressFunc func(context.Context, Snapshot)

// Trainer couples one environment and one agent through a shared random source.
// Train and Watch must not be called concurrently; History may be read at any time.
type Trainer struct {
	RunID string

	cfg     Config
	env     *environment.MazeEnvironment
	agent   *QLearningAgent
	history *History
	score   Score
	logger  *log.Logger
}

// NewTrainer builds the environment and agent for @cfg. Both draw from one random source,
// seeded by cfg.Seed or by the clock when the seed is zero. A nil @logger discards output.
func NewTrainer(
	cfg Config,
	logger *log.Logger,
	opts ...environment.Option,
) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	env, err := environment.NewMazeEnvironment(cfg.Maze, rng, opts...)
	if err != nil {
		return nil, err
	}

	// The state is the absolute cat-mouse offset, so each component ranges over [0, dim-1].
	agent, err := NewQLearningAgent(cfg.Maze.Height, cfg.Maze.Width, NUM_ACTIONS, cfg.Agent, rng)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		RunID:   uuid.NewString(),
		cfg:     cfg,
		env:     env,
		agent:   agent,
		history: &History{},
		logger:  logger,
	}
	t.logger.Printf("run %s: %dx%d maze, seed %d", t.RunID, cfg.Maze.Width, cfg.Maze.Height, seed)
	return t, nil
}

func (t *Trainer) Agent() *QLearningAgent                    { return t.agent }
func (t *Trainer) Environment() *environment.MazeEnvironment { return t.env }
func (t *Trainer) History() *History                         { return t.history }
func (t *Trainer) Score() Score                              { return t.score }

// Train runs @episodes full episodes, learning at every step and decaying exploration after
// each episode. @progressFn, if not nil, receives a snapshot after every episode.
// Cancellation is checked between steps; an interrupted episode is not recorded.
func (t *Trainer) Train(
	ctx context.Context,
	episodes int,
	progressFn ProgressFunc,
) (*QLearningAgent, error) {
	start := time.Now()
	for i := 0; i < episodes; i++ {
		stats, err := t.runEpisode(ctx, nil)
		if err != nil {
			t.logger.Printf("training stopped after %d of %d episodes: %v", i, episodes, err)
			return t.agent, err
		}
		t.history.Append(stats)

		if progressFn != nil {
			progressFn(ctx, t.snapshot(STATUS_EPISODE_COMPLETE, 0))
		}
		if (i+1)%LOG_INTERVAL == 0 {
			recent := t.history.Stats()
			t.logger.Printf("episode %d: %v", stats.Episode, Summarize(recent[len(recent)-LOG_INTERVAL:]))
		}
	}

	t.logger.Printf("trained %d episodes in %v, exploration rate %.4f",
		episodes, time.Since(start).Round(time.Millisecond), t.agent.ExplorationRate)
	return t.agent, nil
}

// WatchOptions control the pacing and reporting of a watched run.
type WatchOptions struct {
	// StepDelay is slept between steps so that an observer can follow the chase.
	StepDelay time.Duration
	// Pause, if set, is waited on between steps.
	Pause *PauseSwitch
	// Progress receives a snapshot after every step and every episode.
	Progress ProgressFunc
}

// Watch runs @episodes episodes exactly as Train does, but paced for an observer and
// keeping score. The score is reset at the start of each call.
func (t *Trainer) Watch(
	ctx context.Context,
	episodes int,
	opts WatchOptions,
) (Score, error) {
	publish := func(status Status, step int, reward float64) {
		if opts.Progress != nil {
			snap := t.snapshot(status, step)
			snap.Reward = reward
			opts.Progress(ctx, snap)
		}
	}

	onStep := func(step int, reward float64) error {
		if opts.Pause != nil && opts.Pause.Paused() {
			publish(STATUS_PAUSED, step, reward)
			if err := opts.Pause.Wait(ctx); err != nil {
				return err
			}
		}
		publish(STATUS_RUNNING, step, reward)
		return sleep(ctx, opts.StepDelay)
	}

	t.score = Score{}
	for i := 0; i < episodes; i++ {
		stats, err := t.runEpisode(ctx, onStep)
		if err != nil {
			publish(STATUS_CANCELLED, t.env.StepCount(), 0)
			return t.score, err
		}
		t.history.Append(stats)
		t.score.Add(stats.Reward, stats.Success)

		outcome := "timed out"
		if stats.Success {
			outcome = "caught the mouse"
		}
		t.logger.Printf("episode %d %s in %d steps, score %.1f", stats.Episode, outcome, stats.Steps, stats.Reward)
		publish(STATUS_EPISODE_COMPLETE, stats.Steps, 0)
	}

	publish(STATUS_DONE, t.env.StepCount(), 0)
	return t.score, nil
}

// runEpisode plays one episode from reset to capture or timeout, learning at every step.
// @onStep, if set, is called after each step and may abort the episode by returning an error.
func (t *Trainer) runEpisode(
	ctx context.Context,
	onStep func(step int, reward float64) error,
) (EpisodeStats, error) {
	state := t.env.Reset()
	for !t.env.IsDone() {
		if err := ctx.Err(); err != nil {
			return EpisodeStats{}, err
		}

		action := t.agent.GetAction(state)
		next, reward, done := t.env.Step(action)
		t.agent.Learn(state, action, reward, next, done)
		state = next

		if onStep != nil {
			if err := onStep(t.env.StepCount(), reward); err != nil {
				return EpisodeStats{}, err
			}
		}
	}

	t.agent.RecordEpisode(t.env.TotalReward(), t.env.StepCount())
	t.agent.UpdateExplorationRate()
	return EpisodeStats{
		Episode:     t.history.Len(),
		Reward:      t.env.TotalReward(),
		Steps:       t.env.StepCount(),
		Success:     t.env.Caught(),
		Exploration: t.agent.ExplorationRate,
	}, nil
}

// Snapshot copies the trainer's current state. It must not be called while Train or Watch
// is running on another goroutine; use a ProgressFunc instead.
func (t *Trainer) Snapshot() Snapshot {
	return t.snapshot(STATUS_READY, t.env.StepCount())
}

func (t *Trainer) snapshot(status Status, step int) Snapshot {
	return Snapshot{
		Status:        status,
		RunID:         t.RunID,
		Episode:       t.history.Len(),
		Step:          step,
		Maze:          t.env.Maze(),
		Cat:           t.env.CatPosition(),
		Mouse:         t.env.MousePosition(),
		EpisodeReward: t.env.TotalReward(),
		Exploration:   t.agent.ExplorationRate,
		Score:         t.score,
		Values:        t.agent.QTable().MaxValues(),
		Policy:        t.agent.GetBestPolicy(),
	}
}

// sleep waits for @d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
