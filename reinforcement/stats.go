package reinforcement

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// EpisodeStats records the outcome of one training episode.
type EpisodeStats struct {
	Episode     int     `json:"episode"`
	Reward      float64 `json:"reward"`
	Steps       int     `json:"steps"`
	Success     bool    `json:"success"`
	Exploration float64 `json:"exploration"`
}

// History is an append-only log of episode stats, readable while training appends to it.
type History struct {
	mu    sync.RWMutex
	stats []EpisodeStats
}

func (h *History) Append(s EpisodeStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = append(h.stats, s)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.stats)
}

// Stats returns a copy of the recorded stats.
func (h *History) Stats() []EpisodeStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]EpisodeStats, len(h.stats))
	copy(out, h.stats)
	return out
}

// Summary aggregates a run's episode stats.
type Summary struct {
	Episodes    int     `json:"episodes"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"successRate"`
	TotalReward float64 `json:"totalReward"`
	BestReward  float64 `json:"bestReward"`
	MeanReward  float64 `json:"meanReward"`
	StdReward   float64 `json:"stdReward"`
	MeanSteps   float64 `json:"meanSteps"`
}

// Summarize computes the aggregate stats of @stats. An empty slice yields a zero Summary.
func Summarize(stats []EpisodeStats) (sum Summary) {
	n := len(stats)
	if n == 0 {
		return
	}

	rewards := make([]float64, n)
	steps := make([]float64, n)
	sum.BestReward = stats[0].Reward
	for i, s := range stats {
		rewards[i] = s.Reward
		steps[i] = float64(s.Steps)
		sum.TotalReward += s.Reward
		sum.BestReward = max(sum.BestReward, s.Reward)
		if s.Success {
			sum.Successes++
		}
	}

	sum.Episodes = n
	sum.SuccessRate = float64(sum.Successes) / float64(n)
	sum.MeanReward, sum.StdReward = stat.MeanStdDev(rewards, nil)
	// The unbiased estimate is NaN for a single sample.
	if n < 2 {
		sum.StdReward = 0
	}
	sum.MeanSteps = stat.Mean(steps, nil)
	return
}

func (sum Summary) String() string {
	return fmt.Sprintf(
		"episodes=%d successes=%d (%.1f%%) total=%.1f best=%.1f mean=%.2f±%.2f steps=%.1f",
		sum.Episodes, sum.Successes, 100*sum.SuccessRate, sum.TotalReward,
		sum.BestReward, sum.MeanReward, sum.StdReward, sum.MeanSteps)
}

// RenderRewardChart writes an html page charting per-episode reward, episode length and
// exploration rate.
func RenderRewardChart(w io.Writer, runID string, stats []EpisodeStats) error {
	episodes := make([]int, len(stats))
	rewards := make([]opts.LineData, len(stats))
	steps := make([]opts.LineData, len(stats))
	exploration := make([]opts.LineData, len(stats))
	for i, s := range stats {
		episodes[i] = s.Episode
		rewards[i] = opts.LineData{Value: s.Reward}
		steps[i] = opts.LineData{Value: s.Steps}
		exploration[i] = opts.LineData{Value: s.Exploration}
	}

	rewardLine := charts.NewLine()
	rewardLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Episode reward",
			Subtitle: "run " + runID,
		}),
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "catmouse training",
			Width:     "1000px",
			Height:    "400px",
		}),
	)
	rewardLine.SetXAxis(episodes).
		AddSeries("reward", rewards)

	stepLine := charts.NewLine()
	stepLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Steps and exploration"}),
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "1000px",
			Height: "400px",
		}),
	)
	stepLine.SetXAxis(episodes).
		AddSeries("steps", steps).
		AddSeries("exploration", exploration)

	page := components.NewPage()
	page.AddCharts(rewardLine, stepLine)
	return page.Render(w)
}
