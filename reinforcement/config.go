package reinforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catmouse/environment"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Hyperparameter keys, as they appear in the config file.
const (
	LEARNING_RATE         = "LEARNING_RATE"
	DISCOUNT_FACTOR       = "DISCOUNT_FACTOR"
	EXPLORATION_RATE      = "EXPLORATION_RATE"
	EXPLORATION_DECAY     = "EXPLORATION_DECAY"
	MIN_EXPLORATION_RATE  = "MIN_EXPLORATION_RATE"
	REWARD_WALL           = "REWARD_WALL"
	REWARD_STEP           = "REWARD_STEP"
	REWARD_CLOSER         = "REWARD_CLOSER"
	REWARD_CATCH          = "REWARD_CATCH"
	MAX_STEPS_PER_EPISODE = "MAX_STEPS_PER_EPISODE"
	EPISODES              = "EPISODES"
	MOUSE_MOVE_PROB       = "MOUSE_MOVE_PROB"
)

// AgentParams are the learning hyperparameters of the Q-learning agent.
type AgentParams struct {
	LearningRate       float64
	DiscountFactor     float64
	ExplorationRate    float64
	ExplorationDecay   float64
	MinExplorationRate float64
}

// Config is the resolved, typed configuration of a training run.
type Config struct {
	Maze  environment.Config
	Agent AgentParams
	// Episodes is the default number of training episodes.
	Episodes int
	// Seed seeds the run's random source; zero means seed from the clock.
	Seed int64
	// StepDelay paces the live view between simulated steps.
	StepDelay time.Duration
}

// DefaultConfig returns the built-in constants used when no config file is given.
func DefaultConfig() Config {
	return Config{
		Maze: environment.Config{
			Width:              10,
			Height:             10,
			RewardWall:         -5,
			RewardStep:         -0.1,
			RewardCloser:       0.5,
			RewardCatch:        100,
			MaxStepsPerEpisode: 200,
			MouseMoveProb:      0.3,
		},
		Agent: AgentParams{
			LearningRate:       0.1,
			DiscountFactor:     0.95,
			ExplorationRate:    1.0,
			ExplorationDecay:   0.995,
			MinExplorationRate: 0.01,
		},
		Episodes:  1000,
		StepDelay: 100 * time.Millisecond,
	}
}

var ErrInvalidHyperParameter = errors.New("invalid hyperparameter")

// Validate rejects configurations that could not train meaningfully.
func (cfg Config) Validate() error {
	if err := cfg.Maze.Validate(); err != nil {
		return err
	}
	return cfg.Agent.Validate()
}

// Validate checks that rates lie in their mathematical ranges.
func (p AgentParams) Validate() error {
	check := func(name string, val, lo, hi float64) error {
		if val < lo || val > hi {
			return fmt.Errorf("%w: %s=%v not in [%v,%v]", ErrInvalidHyperParameter, name, val, lo, hi)
		}
		return nil
	}
	for _, err := range []error{
		check(LEARNING_RATE, p.LearningRate, 0, 1),
		check(DISCOUNT_FACTOR, p.DiscountFactor, 0, 1),
		check(EXPLORATION_RATE, p.ExplorationRate, 0, 1),
		check(EXPLORATION_DECAY, p.ExplorationDecay, 0, 1),
		check(MIN_EXPLORATION_RATE, p.MinExplorationRate, 0, 1),
	} {
		if err != nil {
			return err
		}
	}
	// The floor must not exceed the starting rate.
	if p.MinExplorationRate > p.ExplorationRate {
		return fmt.Errorf("%w: %s=%v exceeds %s=%v", ErrInvalidHyperParameter,
			MIN_EXPLORATION_RATE, p.MinExplorationRate, EXPLORATION_RATE, p.ExplorationRate)
	}
	return nil
}

// OuterConfig is the file envelope: a kind selector and its definition.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig encodes the training parameters outside of code. It holds the standard
// RL params (learning rate, discount, exploration schedule), the reward shaping constants
// and the maze dimensions.
// Note that viper lower-cases every key it reads, so the yaml tags are lower-case even
// though the file may spell them in camel case.
type TrainingConfig struct {
	// HyperParams is a key-val pair of param names and their value.
	HyperParams []HyperParameter `yaml:"hyperparams"`
	// Maze holds the "width" and "height" of the maze.
	Maze map[string]int `yaml:"maze"`
	// Seed is optional; zero seeds from the clock.
	Seed int64 `yaml:"seed"`
	// StepDelay is a duration string pacing the live view, e.g. "100ms".
	StepDelay string `yaml:"stepdelay"`
	// TrainingDeadline is a fixed duration after which training is cancelled.
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
}

type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

func (cfg *TrainingConfig) GetHyperParamOrDefault(param string, defaultVal float64) float64 {
	for _, kvp := range cfg.HyperParams {
		if kvp.Key == param {
			return kvp.Val
		}
	}
	return defaultVal
}

// Resolve overlays the file's values on DefaultConfig and validates the result.
func (cfg *TrainingConfig) Resolve() (resolved Config, err error) {
	resolved = DefaultConfig()
	get := cfg.GetHyperParamOrDefault

	agent := &resolved.Agent
	agent.LearningRate = get(LEARNING_RATE, agent.LearningRate)
	agent.DiscountFactor = get(DISCOUNT_FACTOR, agent.DiscountFactor)
	agent.ExplorationRate = get(EXPLORATION_RATE, agent.ExplorationRate)
	agent.ExplorationDecay = get(EXPLORATION_DECAY, agent.ExplorationDecay)
	agent.MinExplorationRate = get(MIN_EXPLORATION_RATE, agent.MinExplorationRate)

	maze := &resolved.Maze
	maze.RewardWall = get(REWARD_WALL, maze.RewardWall)
	maze.RewardStep = get(REWARD_STEP, maze.RewardStep)
	maze.RewardCloser = get(REWARD_CLOSER, maze.RewardCloser)
	maze.RewardCatch = get(REWARD_CATCH, maze.RewardCatch)
	maze.MouseMoveProb = get(MOUSE_MOVE_PROB, maze.MouseMoveProb)
	maze.MaxStepsPerEpisode = int(get(MAX_STEPS_PER_EPISODE, float64(maze.MaxStepsPerEpisode)))
	if width, ok := cfg.Maze["width"]; ok {
		maze.Width = width
	}
	if height, ok := cfg.Maze["height"]; ok {
		maze.Height = height
	}

	resolved.Episodes = int(get(EPISODES, float64(resolved.Episodes)))
	resolved.Seed = cfg.Seed
	if cfg.StepDelay != "" {
		if resolved.StepDelay, err = time.ParseDuration(cfg.StepDelay); err != nil {
			return Config{}, fmt.Errorf("step delay: %w", err)
		}
	}

	if err = resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// WithTrainingDeadline returns a context extended by the training deadline, if one is specified.
func (cfg *TrainingConfig) WithTrainingDeadline(
	ctx context.Context,
) (context.Context, context.CancelFunc, error) {
	if val, ok := cfg.TrainingDeadline["duration"]; ok {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return nil, nil, err
		}
		innerCtx, cancel := context.WithTimeout(ctx, duration)
		return innerCtx, cancel, nil
	}
	defaultCtx, cancel := context.WithCancel(ctx)
	return defaultCtx, cancel, nil
}

// TrainingConfigKind is the only config kind this app reads.
const TrainingConfigKind = "catmouse/training"

var ErrUnknownKind = errors.New("unknown config kind")

// FromYaml reads a training config file. The outer envelope is read with viper, and
// the definition is round-tripped through yaml into the TrainingConfig.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	// An explicit config file bypasses viper's search paths, so it must be the full path.
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	var err error
	if err = vp.ReadInConfig(); err != nil {
		return nil, err
	}

	outerConfig := &OuterConfig{}
	if err = vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != TrainingConfigKind {
		return nil, fmt.Errorf("%w: %q, expected %q", ErrUnknownKind, outerConfig.Kind, TrainingConfigKind)
	}

	var spec []byte
	if spec, err = yaml.Marshal(outerConfig.Def); err != nil {
		return nil, err
	}

	innerConfig := &TrainingConfig{}
	if err = yaml.Unmarshal(spec, innerConfig); err != nil {
		return nil, err
	}

	return innerConfig, nil
}
