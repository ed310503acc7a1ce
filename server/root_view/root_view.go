package root_view

import (
	"context"
	"html/template"
	"time"

	"catmouse/reinforcement"
	"catmouse/server/cell_views"
	"catmouse/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// The period over which ele-updates are merged before being sent on.
const batchResolution = time.Millisecond * 20

// RootView is the main page's index.html, which is the container for all the
// view components, the wiring for their channels, etc.
type RootView struct {
	views   []fastview.ViewComponent
	updates <-chan []fastview.EleUpdate
}

// NewRootView creates the main page and the views it contains, all fed by @snapshots.
func NewRootView(
	ctx context.Context,
	snapshots <-chan reinforcement.Snapshot,
) (*RootView, error) {
	views, err := fastview.NewViewBuilder[reinforcement.Snapshot, cell_views.Frame]().
		WithContext(ctx).
		WithModel(snapshots, cell_views.Convert).
		WithView(func(
			done <-chan struct{},
			frames <-chan cell_views.Frame) fastview.ViewComponent {
			return cell_views.NewScorePanel(done, frames)
		}).
		WithView(func(
			done <-chan struct{},
			frames <-chan cell_views.Frame) fastview.ViewComponent {
			return cell_views.NewMazeView(done, frames)
		}).
		WithView(func(
			done <-chan struct{},
			frames <-chan cell_views.Frame) fastview.ViewComponent {
			return cell_views.NewValuesGrid(done, frames)
		}).
		WithView(func(
			done <-chan struct{},
			frames <-chan cell_views.Frame) fastview.ViewComponent {
			return cell_views.NewValueFunction(done, frames)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	return &RootView{
		views:   views,
		updates: fanIn(ctx.Done(), views),
	}, nil
}

// Updates returns the main ele-update channel for all the views.
func (rv *RootView) Updates() <-chan []fastview.EleUpdate {
	return rv.updates
}

// Parse builds the main page's template, with websocket bootstrap code, and returns its name.
// It also sets up the func-map that the child components depend on.
func (rv *RootView) Parse(
	parent *template.Template,
) (name string, err error) {
	rt := parent.Funcs(
		template.FuncMap{
			"add":  func(i, j int) int { return i + j },
			"sub":  func(i, j int) int { return i - j },
			"mult": func(i, j int) int { return i * j },
			"div":  func(i, j int) int { return i / j },
		})

	var bodySpec string
	for _, vc := range rv.views {
		tname, parseErr := vc.Parse(rt)
		if parseErr != nil {
			return "", parseErr
		}
		bodySpec += `{{ template "` + tname + `" . }}`
	}

	// The main template bootstraps the rest: sets up the client websocket and updates, and aggregates views.
	name = "mainpage"
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<title>catmouse</title>
			<link rel="icon" href="data:,">
			<script>
				const ws = new WebSocket("ws://" + location.host + "/ws");
				ws.onopen = function (event) {
					console.log("Web socket opened")
				};

				ws.onerror = function (event) {
					console.log('WebSocket error: ', event);
				};

				// When the server pushes view updates, find these eles and update them.
				ws.onmessage = function (event) {
					const items = JSON.parse(event.data)
					for (const update of items) {
						const ele = document.getElementById(update.EleId)
						if (ele === null) {
							continue
						}
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value)
							}
						}
					}
				}

				function togglePause() {
					ws.send("pause")
				}
			</script>
		</head>
		<body>
			<div style="padding:20px 20px 0 20px;">
				<button id="pause" onclick="togglePause()">Pause / resume</button>
				<a href="/chart" target="_blank">Reward chart</a>
			</div>
		` + bodySpec + `
		</body></html>
	{{ end }}
	`

	_, err = rt.Parse(indexTemplate)
	return
}

// fanIn aggregates the views' ele-update channels into a single, throttled channel.
func fanIn(
	done <-chan struct{},
	views []fastview.ViewComponent,
) <-chan []fastview.EleUpdate {
	inputs := make([]<-chan []fastview.EleUpdate, len(views))
	for i, view := range views {
		inputs[i] = view.Updates()
	}
	return batchify(
		done,
		channerics.Merge(done, inputs...),
		batchResolution)
}

// batchify batches updates within each period before sending, over-writing previously
// received values for the same ele-id. Redundant updates for an ele-id are not sent, only
// the latest. Pending updates are flushed on every tick and when the source closes.
func batchify(
	done <-chan struct{},
	source <-chan []fastview.EleUpdate,
	rate time.Duration,
) <-chan []fastview.EleUpdate {
	output := make(chan []fastview.EleUpdate)

	go func() {
		defer close(output)

		data := map[string]fastview.EleUpdate{}
		flush := func() bool {
			if len(data) == 0 {
				return true
			}
			select {
			case output <- slicedVals(data):
				data = map[string]fastview.EleUpdate{}
				return true
			case <-done:
				return false
			}
		}

		ticker := channerics.NewTicker(done, rate)
		for {
			select {
			case <-done:
				return
			case updates, ok := <-source:
				if !ok {
					flush()
					return
				}
				for _, update := range updates {
					data[update.EleId] = update
				}
			case <-ticker:
				if !flush() {
					return
				}
			}
		}
	}()

	return output
}

// returns the values of a map as a slice
func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
