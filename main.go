/*
Catmouse trains a tabular Q-learning cat to catch a mouse in a randomly generated maze, and
shows the chase in realtime: the maze and its occupants, the learned state values and greedy
policy, and the running score. The state is the cat-mouse offset, so the table is small and
the cat learns in a few hundred episodes. The console mode prints the same views once
training completes.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"catmouse/grid_world"
	"catmouse/logging"
	"catmouse/reinforcement"
	"catmouse/server"

	"github.com/akamensky/argparse"
	"github.com/joho/godotenv"
	"github.com/logrusorgru/aurora"
	"golang.org/x/sync/errgroup"
)

// Environment variables supplying defaults for the command line.
const (
	ENV_CONFIG = "CATMOUSE_CONFIG"
	ENV_HOST   = "CATMOUSE_HOST"
	ENV_PORT   = "CATMOUSE_PORT"
)

// The cap on pre-training before a watched run, so that the first watched episodes are not hopeless.
const MAX_PRETRAIN_EPISODES = 100

type appArgs struct {
	episodes int
	train    int
	config   string
	seed     int
	host     string
	port     int
	headless bool
	chart    string
}

func getenv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseArgs(args []string) (*appArgs, error) {
	defaultPort, err := strconv.Atoi(getenv(ENV_PORT, "8080"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ENV_PORT, err)
	}

	parser := argparse.NewParser("catmouse", "Tabular Q-learning cat and mouse maze chase")
	episodes := parser.Int("e", "episodes", &argparse.Options{Default: 10, Help: "Episodes to watch in the live view"})
	train := parser.Int("t", "train", &argparse.Options{Default: 0,
		Help: "Headless training episodes, by default min(100, 2*episodes) before the live view or EPISODES from the config"})
	config := parser.String("c", "config", &argparse.Options{Default: getenv(ENV_CONFIG, ""), Help: "Training config yaml"})
	seed := parser.Int("s", "seed", &argparse.Options{Default: 0, Help: "Random seed, zero seeds from the clock"})
	host := parser.String("H", "host", &argparse.Options{Default: getenv(ENV_HOST, "localhost"), Help: "The host ip"})
	port := parser.Int("p", "port", &argparse.Options{Default: defaultPort, Help: "The host port"})
	headless := parser.Flag("n", "headless", &argparse.Options{Help: "Train and print to the console, without the live view"})
	chart := parser.String("o", "chart", &argparse.Options{Help: "Write the reward chart html to this file"})

	if err := parser.Parse(args); err != nil {
		return nil, errors.New(parser.Usage(err))
	}
	if *episodes < 0 || *train < 0 {
		return nil, errors.New(parser.Usage("episode counts must not be negative"))
	}

	return &appArgs{
		episodes: *episodes,
		train:    *train,
		config:   *config,
		seed:     *seed,
		host:     *host,
		port:     *port,
		headless: *headless,
		chart:    *chart,
	}, nil
}

// loadConfig resolves the training config from @path, or the built-in defaults if @path is empty.
// The returned context carries the config's training deadline, if any.
func loadConfig(
	ctx context.Context,
	path string,
) (reinforcement.Config, context.Context, context.CancelFunc, error) {
	if path == "" {
		innerCtx, cancel := context.WithCancel(ctx)
		return reinforcement.DefaultConfig(), innerCtx, cancel, nil
	}

	trainingConfig, err := reinforcement.FromYaml(path)
	if err != nil {
		return reinforcement.Config{}, nil, nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg, err := trainingConfig.Resolve()
	if err != nil {
		return reinforcement.Config{}, nil, nil, fmt.Errorf("config %s: %w", path, err)
	}
	innerCtx, cancel, err := trainingConfig.WithTrainingDeadline(ctx)
	if err != nil {
		return reinforcement.Config{}, nil, nil, fmt.Errorf("training deadline: %w", err)
	}
	return cfg, innerCtx, cancel, nil
}

func isStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func runApp(args []string) (err error) {
	appLogger := logging.New("app", aurora.Cyan, os.Stderr)
	// The .env file is optional; the environment and flags suffice without it.
	if envErr := godotenv.Load(); envErr == nil {
		appLogger.Println("loaded .env")
	}

	var opts *appArgs
	if opts, err = parseArgs(args); err != nil {
		return
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, trainingCtx, cancel, err := loadConfig(appCtx, opts.config)
	if err != nil {
		return
	}
	defer cancel()
	if opts.seed != 0 {
		cfg.Seed = int64(opts.seed)
	}

	trainer, err := reinforcement.NewTrainer(cfg, logging.New("trainer", aurora.Green, os.Stderr))
	if err != nil {
		return
	}

	pretrain := opts.train
	if pretrain == 0 {
		if opts.headless {
			pretrain = cfg.Episodes
		} else {
			pretrain = min(MAX_PRETRAIN_EPISODES, 2*opts.episodes)
		}
	}
	appLogger.Printf("training %d episodes", pretrain)
	if _, err = trainer.Train(trainingCtx, pretrain, nil); err != nil {
		if !isStopped(err) {
			return
		}
		appLogger.Println("training stopped:", err)
		err = nil
	}

	au := aurora.NewAurora(true)
	if opts.headless {
		showConsole(os.Stdout, au, trainer)
		sum := reinforcement.Summarize(trainer.History().Stats())
		printResults(os.Stdout, au, reinforcement.Score{
			Episodes:  sum.Episodes,
			Successes: sum.Successes,
			Total:     sum.TotalReward,
			Best:      sum.BestReward,
		})
	} else if trainingCtx.Err() == nil {
		var score reinforcement.Score
		addr := net.JoinHostPort(opts.host, strconv.Itoa(opts.port))
		if score, err = runLive(trainingCtx, addr, opts.episodes, cfg, trainer); err != nil {
			return
		}
		printResults(os.Stdout, au, score)
	}

	if opts.chart != "" {
		if err = writeChart(opts.chart, trainer); err != nil {
			return
		}
		appLogger.Println("wrote chart to", opts.chart)
	}
	return nil
}

// runLive serves the live view while the trainer plays @episodes paced episodes. The page
// stays up once the episodes are done, until the context is cancelled.
func runLive(
	ctx context.Context,
	addr string,
	episodes int,
	cfg reinforcement.Config,
	trainer *reinforcement.Trainer,
) (score reinforcement.Score, err error) {
	serverLogger := logging.New("server", aurora.Magenta, os.Stderr)
	appLogger := logging.New("app", aurora.Cyan, os.Stderr)

	group, groupCtx := errgroup.WithContext(ctx)
	pause := reinforcement.NewPauseSwitch()
	srv, err := server.NewServer(groupCtx, addr, trainer.Snapshot(), trainer.History(), pause, serverLogger)
	if err != nil {
		return
	}

	group.Go(func() error {
		return srv.Serve(groupCtx)
	})
	group.Go(func() error {
		var watchErr error
		score, watchErr = trainer.Watch(groupCtx, episodes, reinforcement.WatchOptions{
			StepDelay: cfg.StepDelay,
			Pause:     pause,
			Progress:  srv.Publish,
		})
		if watchErr != nil && !isStopped(watchErr) {
			return watchErr
		}
		appLogger.Println("run complete, press ctrl-c to exit")
		return nil
	})

	err = group.Wait()
	return
}

func showConsole(w io.Writer, au aurora.Aurora, trainer *reinforcement.Trainer) {
	env := trainer.Environment()
	agent := trainer.Agent()
	fmt.Fprintln(w, au.Bold("Final maze"))
	grid_world.ShowGrid(w, au, env.Maze(), env.CatPosition(), env.MousePosition())
	fmt.Fprintln(w, au.Bold("Greedy policy by cat-mouse offset"))
	grid_world.ShowPolicy(w, au, agent.GetBestPolicy())
	fmt.Fprintln(w, au.Bold("State values by cat-mouse offset"))
	grid_world.ShowMaxValues(w, agent.QTable().MaxValues())
}

func printResults(w io.Writer, au aurora.Aurora, score reinforcement.Score) {
	fmt.Fprintln(w, au.Bold("Final results"))
	fmt.Fprintf(w, "  Episodes:     %d\n", score.Episodes)
	fmt.Fprintf(w, "  Total score:  %.1f\n", score.Total)
	fmt.Fprintf(w, "  Record:       %.1f\n", score.Best)
	fmt.Fprintf(w, "  Successes:    %d\n", score.Successes)
	fmt.Fprintf(w, "  Success rate: %s\n", au.Yellow(fmt.Sprintf("%.1f%%", 100*score.SuccessRate())))
}

func writeChart(path string, trainer *reinforcement.Trainer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return reinforcement.RenderRewardChart(f, trainer.RunID, trainer.History().Stats())
}

func main() {
	if err := runApp(os.Args); err != nil {
		log.New(os.Stderr, "", 0).Println(err)
		os.Exit(1)
	}
}
