package reinforcement

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"catmouse/environment"
	. "catmouse/grid_world"
	"catmouse/logging"

	. "github.com/smartystreets/goconvey/convey"
)

func testTrainingConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Maze.Width = 6
	cfg.Maze.Height = 6
	cfg.Maze.MaxStepsPerEpisode = 60
	cfg.Seed = seed
	cfg.StepDelay = 0
	return cfg
}

func openMazes(_ *rand.Rand, width, height int) *Maze {
	return NewOpenMaze(width, height)
}

func newTestTrainer(seed int64, opts ...environment.Option) *Trainer {
	trainer, err := NewTrainer(testTrainingConfig(seed), logging.Discard(), opts...)
	So(err, ShouldBeNil)
	return trainer
}

func TestNewTrainer(t *testing.T) {
	Convey("When constructing a trainer", t, func() {
		Convey("An invalid config is rejected", func() {
			cfg := testTrainingConfig(1)
			cfg.Agent.ExplorationDecay = 2
			_, err := NewTrainer(cfg, logging.Discard())
			So(err, ShouldNotBeNil)

			cfg = testTrainingConfig(1)
			cfg.Maze.Width = 1
			_, err = NewTrainer(cfg, logging.Discard())
			So(err, ShouldNotBeNil)
		})

		Convey("A nil logger discards the trainer's output", func() {
			trainer, err := NewTrainer(testTrainingConfig(1), nil)
			So(err, ShouldBeNil)
			_, err = trainer.Train(context.Background(), 2, nil)
			So(err, ShouldBeNil)
			So(trainer.History().Stats(), ShouldHaveLength, 2)
		})

		Convey("The agent's table spans every cat-mouse offset", func() {
			cfg := testTrainingConfig(1)
			cfg.Maze.Width = 9
			trainer, err := NewTrainer(cfg, logging.Discard())
			So(err, ShouldBeNil)
			So(trainer.Agent().QTable().Rows(), ShouldEqual, 6)
			So(trainer.Agent().QTable().Cols(), ShouldEqual, 9)
			So(trainer.RunID, ShouldNotBeBlank)
		})
	})
}

func TestTrain(t *testing.T) {
	Convey("Given a seeded trainer", t, func() {
		trainer := newTestTrainer(17)
		ctx := context.Background()

		Convey("Training zero episodes leaves the table at its initial noise", func() {
			initial := trainer.Agent().QTable().Copy()
			agent, err := trainer.Train(ctx, 0, nil)
			So(err, ShouldBeNil)
			So(agent.QTable().Equal(initial), ShouldBeTrue)
			So(agent.EpisodeRewards, ShouldBeEmpty)
			So(agent.EpisodeSteps, ShouldBeEmpty)
			So(agent.ExplorationRates, ShouldBeEmpty)
			So(trainer.History().Len(), ShouldEqual, 0)

			// A second trainer on the same seed starts from the same table.
			twin := newTestTrainer(17)
			So(twin.Agent().QTable().Equal(initial), ShouldBeTrue)
		})

		Convey("Each episode is recorded once in the agent and the history", func() {
			progressCalls := 0
			agent, err := trainer.Train(ctx, 25, func(_ context.Context, snap Snapshot) {
				progressCalls++
				So(snap.Status, ShouldEqual, STATUS_EPISODE_COMPLETE)
				So(snap.Episode, ShouldEqual, progressCalls)
			})
			So(err, ShouldBeNil)
			So(progressCalls, ShouldEqual, 25)
			So(agent.EpisodeRewards, ShouldHaveLength, 25)
			So(agent.EpisodeSteps, ShouldHaveLength, 25)
			So(agent.ExplorationRates, ShouldHaveLength, 25)

			stats := trainer.History().Stats()
			So(stats, ShouldHaveLength, 25)
			for i, s := range stats {
				So(s.Episode, ShouldEqual, i)
				So(s.Reward, ShouldEqual, agent.EpisodeRewards[i])
				So(s.Steps, ShouldEqual, agent.EpisodeSteps[i])
				So(s.Steps, ShouldBeBetweenOrEqual, 1, 60)
				// Stats carry the rate after the episode's decay.
				So(s.Exploration, ShouldBeLessThan, agent.ExplorationRates[i])
				if !s.Success {
					So(s.Steps, ShouldEqual, 60)
				}
			}
		})

		Convey("Exploration decays once per episode", func() {
			_, err := trainer.Train(ctx, 10, nil)
			So(err, ShouldBeNil)
			p := testTrainingConfig(17).Agent
			want := p.ExplorationRate
			for i := 0; i < 10; i++ {
				want = max(p.MinExplorationRate, want*p.ExplorationDecay)
			}
			So(trainer.Agent().ExplorationRate, ShouldAlmostEqual, want, 1e-12)
		})

		Convey("The same seed reproduces the same run", func() {
			twin := newTestTrainer(17)
			_, err := trainer.Train(ctx, 15, nil)
			So(err, ShouldBeNil)
			_, err = twin.Train(ctx, 15, nil)
			So(err, ShouldBeNil)
			So(twin.History().Stats(), ShouldResemble, trainer.History().Stats())
			So(twin.Agent().QTable().Equal(trainer.Agent().QTable()), ShouldBeTrue)
		})

		Convey("A cancelled context stops training without recording the interrupted episode", func() {
			cctx, cancel := context.WithCancel(ctx)
			_, err := trainer.Train(cctx, 5, func(_ context.Context, snap Snapshot) {
				if snap.Episode == 2 {
					cancel()
				}
			})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(trainer.History().Len(), ShouldEqual, 2)
			So(trainer.Agent().EpisodeRewards, ShouldHaveLength, 2)
		})
	})

	Convey("Given an open maze, training learns to catch the mouse", t, func() {
		cfg := testTrainingConfig(5)
		cfg.Maze.MouseMoveProb = 0
		trainer, err := NewTrainer(cfg, logging.Discard(), environment.WithMazeGenerator(openMazes))
		So(err, ShouldBeNil)

		_, err = trainer.Train(context.Background(), 300, nil)
		So(err, ShouldBeNil)
		stats := trainer.History().Stats()
		early := Summarize(stats[:50])
		late := Summarize(stats[len(stats)-50:])
		So(late.SuccessRate, ShouldBeGreaterThan, 0.5)
		So(late.MeanReward, ShouldBeGreaterThan, early.MeanReward)
	})
}

func TestWatch(t *testing.T) {
	Convey("Given a trainer being watched", t, func() {
		trainer := newTestTrainer(23, environment.WithMazeGenerator(openMazes))
		ctx := context.Background()

		Convey("Each step and episode is published and the score is kept", func() {
			var snaps []Snapshot
			score, err := trainer.Watch(ctx, 3, WatchOptions{
				Progress: func(_ context.Context, snap Snapshot) {
					snaps = append(snaps, snap)
				},
			})
			So(err, ShouldBeNil)
			So(score.Episodes, ShouldEqual, 3)
			So(score, ShouldResemble, trainer.Score())

			stats := trainer.History().Stats()
			So(stats, ShouldHaveLength, 3)
			total, steps, best := 0.0, 0, stats[0].Reward
			for _, s := range stats {
				total += s.Reward
				steps += s.Steps
				best = max(best, s.Reward)
			}
			So(score.Total, ShouldAlmostEqual, total, 1e-9)
			So(score.Best, ShouldEqual, best)

			counts := map[Status]int{}
			for _, snap := range snaps {
				counts[snap.Status]++
				So(snap.Values, ShouldHaveLength, 6)
				So(snap.Policy, ShouldHaveLength, 6)
				So(snap.RunID, ShouldEqual, trainer.RunID)
			}
			So(counts[STATUS_RUNNING], ShouldEqual, steps)
			So(counts[STATUS_EPISODE_COMPLETE], ShouldEqual, 3)
			So(counts[STATUS_DONE], ShouldEqual, 1)
			So(snaps[len(snaps)-1].Status, ShouldEqual, STATUS_DONE)
		})

		Convey("Snapshots are copies that later learning does not modify", func() {
			snap := trainer.snapshot(STATUS_RUNNING, 0)
			state := State{DY: 2, DX: 3}
			before := snap.Values[2][3]
			greedy := snap.Policy[2][3]
			So(greedy, ShouldEqual, trainer.Agent().QTable().ArgMax(state))
			trainer.Agent().QTable().Set(state, RIGHT, 1000)
			So(trainer.Agent().QTable().MaxValues()[2][3], ShouldEqual, 1000)
			So(snap.Values[2][3], ShouldEqual, before)
			So(trainer.Agent().GetBestPolicy()[2][3], ShouldEqual, RIGHT)
			So(snap.Policy[2][3], ShouldEqual, greedy)
		})

		Convey("A paused run blocks between steps until cancelled", func() {
			pause := NewPauseSwitch()
			pause.Toggle()
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()

			paused := make(chan struct{}, 1)
			result := make(chan error, 1)
			go func() {
				_, err := trainer.Watch(cctx, 1, WatchOptions{
					Pause: pause,
					Progress: func(_ context.Context, snap Snapshot) {
						if snap.Status == STATUS_PAUSED {
							select {
							case paused <- struct{}{}:
							default:
							}
						}
					},
				})
				result <- err
			}()

			select {
			case <-paused:
			case <-time.After(5 * time.Second):
				t.Fatal("runner never paused")
			}
			cancel()

			select {
			case err := <-result:
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			case <-time.After(5 * time.Second):
				t.Fatal("runner did not stop")
			}
			So(trainer.History().Len(), ShouldEqual, 0)
		})
	})
}
