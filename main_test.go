package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"catmouse/logging"
	"catmouse/reinforcement"

	"github.com/logrusorgru/aurora"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseArgs(t *testing.T) {
	Convey("When parsing the command line", t, func() {
		Convey("Defaults apply without flags", func() {
			t.Setenv(ENV_PORT, "")
			t.Setenv(ENV_HOST, "")
			t.Setenv(ENV_CONFIG, "")
			opts, err := parseArgs([]string{"catmouse"})
			So(err, ShouldBeNil)
			So(opts.episodes, ShouldEqual, 10)
			So(opts.train, ShouldEqual, 0)
			So(opts.host, ShouldEqual, "localhost")
			So(opts.port, ShouldEqual, 8080)
			So(opts.headless, ShouldBeFalse)
			So(opts.config, ShouldBeBlank)
		})

		Convey("The environment supplies defaults that flags override", func() {
			t.Setenv(ENV_PORT, "9090")
			t.Setenv(ENV_HOST, "0.0.0.0")
			t.Setenv(ENV_CONFIG, "env.yaml")
			opts, err := parseArgs([]string{"catmouse", "-p", "7070", "-n", "-e", "3", "-s", "42"})
			So(err, ShouldBeNil)
			So(opts.port, ShouldEqual, 7070)
			So(opts.host, ShouldEqual, "0.0.0.0")
			So(opts.config, ShouldEqual, "env.yaml")
			So(opts.headless, ShouldBeTrue)
			So(opts.episodes, ShouldEqual, 3)
			So(opts.seed, ShouldEqual, 42)
		})

		Convey("Bad values are rejected with usage", func() {
			t.Setenv(ENV_PORT, "")
			_, err := parseArgs([]string{"catmouse", "-e", "-1"})
			So(err, ShouldNotBeNil)

			t.Setenv(ENV_PORT, "http")
			_, err = parseArgs([]string{"catmouse"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("When loading the training config", t, func() {
		ctx := context.Background()

		Convey("No path yields the defaults and no deadline", func() {
			cfg, innerCtx, cancel, err := loadConfig(ctx, "")
			So(err, ShouldBeNil)
			defer cancel()
			So(cfg, ShouldResemble, reinforcement.DefaultConfig())
			_, hasDeadline := innerCtx.Deadline()
			So(hasDeadline, ShouldBeFalse)
		})

		Convey("The repository's config file resolves to the defaults with a deadline", func() {
			cfg, innerCtx, cancel, err := loadConfig(ctx, "config.yaml")
			So(err, ShouldBeNil)
			defer cancel()
			So(cfg, ShouldResemble, reinforcement.DefaultConfig())
			_, hasDeadline := innerCtx.Deadline()
			So(hasDeadline, ShouldBeTrue)
		})

		Convey("A missing file is an error", func() {
			_, _, _, err := loadConfig(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestHeadlessRun(t *testing.T) {
	Convey("Given a short headless training run", t, func() {
		cfg := reinforcement.DefaultConfig()
		cfg.Maze.Width, cfg.Maze.Height = 6, 6
		cfg.Seed = 3
		trainer, err := reinforcement.NewTrainer(cfg, logging.Discard())
		So(err, ShouldBeNil)
		_, err = trainer.Train(context.Background(), 20, nil)
		So(err, ShouldBeNil)
		au := aurora.NewAurora(false)

		Convey("The console shows the maze, the policy and the values", func() {
			var buf bytes.Buffer
			showConsole(&buf, au, trainer)
			So(buf.String(), ShouldContainSubstring, "Final maze")
			So(buf.String(), ShouldContainSubstring, "Greedy policy")
			So(buf.String(), ShouldContainSubstring, "State values")
		})

		Convey("The results summarize the score", func() {
			var buf bytes.Buffer
			printResults(&buf, au, reinforcement.Score{Episodes: 4, Successes: 1, Total: 12.5, Best: 20})
			So(buf.String(), ShouldContainSubstring, "Episodes:     4")
			So(buf.String(), ShouldContainSubstring, "Record:       20.0")
			So(buf.String(), ShouldContainSubstring, "Success rate: 25.0%")
		})

		Convey("The chart is written to a file", func() {
			path := filepath.Join(t.TempDir(), "chart.html")
			So(writeChart(path, trainer), ShouldBeNil)
			contents, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(contents), ShouldContainSubstring, trainer.RunID)
		})
	})
}
