package reinforcement

import (
	"fmt"
	"math/rand"

	. "catmouse/grid_world"

	"gonum.org/v1/gonum/floats"
)

// QTable holds the action values Q(s,a) for every (dy, dx) state, stored densely as
// rows*cols*actions floats. It is not safe for concurrent use; readers in other
// goroutines must be handed a Copy.
type QTable struct {
	rows, cols, actions int
	values              []float64
}

// NewQTable returns a table initialised with uniform noise in [-0.1, 0.1), drawing one
// number from @rng per entry in state-major order.
func NewQTable(rows, cols, actions int, rng *rand.Rand) *QTable {
	qt := &QTable{
		rows:    rows,
		cols:    cols,
		actions: actions,
		values:  make([]float64, rows*cols*actions),
	}
	for i := range qt.values {
		qt.values[i] = rng.Float64()*0.2 - 0.1
	}
	return qt
}

func (qt *QTable) offset(state State) int {
	return (state.DY*qt.cols + state.DX) * qt.actions
}

// Values returns the action values of @state. The slice aliases the table.
func (qt *QTable) Values(state State) []float64 {
	off := qt.offset(state)
	return qt.values[off : off+qt.actions]
}

func (qt *QTable) Get(state State, action Action) float64 {
	return qt.values[qt.offset(state)+int(action)]
}

func (qt *QTable) Set(state State, action Action, val float64) {
	qt.values[qt.offset(state)+int(action)] = val
}

// Max returns the largest action value of @state.
func (qt *QTable) Max(state State) float64 {
	return floats.Max(qt.Values(state))
}

// ArgMax returns the greedy action for @state. Ties go to the lowest action index.
func (qt *QTable) ArgMax(state State) Action {
	return Action(floats.MaxIdx(qt.Values(state)))
}

// Copy returns a deep copy of the table.
func (qt *QTable) Copy() *QTable {
	cp := *qt
	cp.values = make([]float64, len(qt.values))
	copy(cp.values, qt.values)
	return &cp
}

// Equal reports whether both tables have the same shape and values.
func (qt *QTable) Equal(other *QTable) bool {
	return qt.rows == other.rows &&
		qt.cols == other.cols &&
		floats.Equal(qt.values, other.values)
}

// MaxValues returns max_a Q(s,a) for every state, indexed [dy][dx].
func (qt *QTable) MaxValues() [][]float64 {
	vals := make([][]float64, qt.rows)
	for dy := range vals {
		vals[dy] = make([]float64, qt.cols)
		for dx := range vals[dy] {
			vals[dy][dx] = qt.Max(State{DY: dy, DX: dx})
		}
	}
	return vals
}

func (qt *QTable) Rows() int { return qt.rows }
func (qt *QTable) Cols() int { return qt.cols }

// QLearningAgent is an epsilon-greedy tabular Q-learner over the (dy, dx) state space.
type QLearningAgent struct {
	LearningRate       float64
	DiscountFactor     float64
	ExplorationRate    float64
	ExplorationDecay   float64
	MinExplorationRate float64

	// Per-episode histories, appended by RecordEpisode.
	EpisodeRewards   []float64
	EpisodeSteps     []int
	ExplorationRates []float64

	qtable *QTable
	rng    *rand.Rand
}

// NewQLearningAgent returns an agent with a freshly initialised rows x cols x actions table.
// The agent draws its table noise and its exploration decisions from @rng.
func NewQLearningAgent(
	rows, cols, actions int,
	params AgentParams,
	rng *rand.Rand,
) (*QLearningAgent, error) {
	if rows <= 0 || cols <= 0 || actions <= 0 {
		return nil, fmt.Errorf("%w: q-table shape %dx%dx%d", ErrInvalidHyperParameter, rows, cols, actions)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidHyperParameter)
	}

	return &QLearningAgent{
		LearningRate:       params.LearningRate,
		DiscountFactor:     params.DiscountFactor,
		ExplorationRate:    params.ExplorationRate,
		ExplorationDecay:   params.ExplorationDecay,
		MinExplorationRate: params.MinExplorationRate,
		qtable:             NewQTable(rows, cols, actions, rng),
		rng:                rng,
	}, nil
}

// GetAction selects an action epsilon-greedily: a uniformly random action with probability
// ExplorationRate, otherwise the greedy action.
func (agent *QLearningAgent) GetAction(state State) Action {
	if agent.rng.Float64() < agent.ExplorationRate {
		return Action(agent.rng.Intn(agent.qtable.actions))
	}
	return agent.qtable.ArgMax(state)
}

// Learn applies the one-step Q-learning update for the transition (s, a, r, s').
// Terminal transitions do not bootstrap from @next.
func (agent *QLearningAgent) Learn(state State, action Action, reward float64, next State, done bool) {
	target := reward
	if !done {
		target += agent.DiscountFactor * agent.qtable.Max(next)
	}
	current := agent.qtable.Get(state, action)
	agent.qtable.Set(state, action, current+agent.LearningRate*(target-current))
}

// UpdateExplorationRate decays epsilon once, floored at MinExplorationRate.
func (agent *QLearningAgent) UpdateExplorationRate() {
	agent.ExplorationRate = max(agent.MinExplorationRate, agent.ExplorationRate*agent.ExplorationDecay)
}

// RecordEpisode appends an episode's total reward and length, and the current exploration rate.
func (agent *QLearningAgent) RecordEpisode(totalReward float64, steps int) {
	agent.EpisodeRewards = append(agent.EpisodeRewards, totalReward)
	agent.EpisodeSteps = append(agent.EpisodeSteps, steps)
	agent.ExplorationRates = append(agent.ExplorationRates, agent.ExplorationRate)
}

// GetBestPolicy returns the greedy action of every state, indexed [dy][dx].
func (agent *QLearningAgent) GetBestPolicy() [][]Action {
	qt := agent.qtable
	policy := make([][]Action, qt.rows)
	for dy := range policy {
		policy[dy] = make([]Action, qt.cols)
		for dx := range policy[dy] {
			policy[dy][dx] = qt.ArgMax(State{DY: dy, DX: dx})
		}
	}
	return policy
}

// QTable returns the agent's live table.
func (agent *QLearningAgent) QTable() *QTable {
	return agent.qtable
}
