package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"catmouse/grid_world"
	"catmouse/logging"
	"catmouse/reinforcement"
	"catmouse/server/fastview"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

func testSnapshot(status reinforcement.Status, episode int) reinforcement.Snapshot {
	values := make([][]float64, 5)
	policy := make([][]grid_world.Action, 5)
	for i := range values {
		values[i] = make([]float64, 5)
		policy[i] = make([]grid_world.Action, 5)
	}
	score := reinforcement.Score{}
	score.Add(10, true)
	score.Add(-4, false)
	return reinforcement.Snapshot{
		Status:  status,
		RunID:   "run-1",
		Episode: episode,
		Maze:    grid_world.NewOpenMaze(5, 5),
		Cat:     grid_world.Position{Row: 1, Col: 1},
		Mouse:   grid_world.Position{Row: 3, Col: 3},
		Score:   score,
		Values:  values,
		Policy:  policy,
	}
}

func newTestServer(ctx context.Context, history *reinforcement.History, pause *reinforcement.PauseSwitch) *Server {
	server, err := NewServer(ctx, "localhost:0", testSnapshot(reinforcement.STATUS_READY, 0), history, pause, logging.Discard())
	So(err, ShouldBeNil)
	return server
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	Convey("Given a server with some history", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		history := &reinforcement.History{}
		history.Append(reinforcement.EpisodeStats{Episode: 0, Reward: 10, Steps: 4, Success: true})
		history.Append(reinforcement.EpisodeStats{Episode: 1, Reward: -4, Steps: 9})
		pause := reinforcement.NewPauseSwitch()
		server := newTestServer(ctx, history, pause)
		handler := server.Handler()

		Convey("The index page renders the latest snapshot", func() {
			server.Publish(ctx, testSnapshot(reinforcement.STATUS_RUNNING, 7))
			rec := get(handler, "/")
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := rec.Body.String()
			So(body, ShouldContainSubstring, "<!DOCTYPE html>")
			So(body, ShouldContainSubstring, `id="scorepanel-episode">7<`)
			So(body, ShouldContainSubstring, `id="maze-cat"`)
		})

		Convey("Unknown paths and methods are rejected", func() {
			So(get(handler, "/nope").Code, ShouldEqual, http.StatusNotFound)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("The chart page is rendered from the history", func() {
			rec := get(handler, "/chart")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "echarts")
			So(rec.Body.String(), ShouldContainSubstring, "run run-1")
		})

		Convey("The stats api reports the score and the history summary", func() {
			rec := get(handler, "/api/stats")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "application/json")

			var stats StatsResponse
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats.RunID, ShouldEqual, "run-1")
			So(stats.Status, ShouldEqual, reinforcement.STATUS_READY)
			So(stats.Paused, ShouldBeFalse)
			So(stats.Score.Episodes, ShouldEqual, 2)
			So(stats.Score.Successes, ShouldEqual, 1)
			So(stats.Score.SuccessRate, ShouldEqual, 0.5)
			So(stats.Score.Best, ShouldEqual, 10)
			So(stats.Summary.Episodes, ShouldEqual, 2)
			So(stats.Summary.TotalReward, ShouldEqual, 6)
		})

		Convey("The pause api toggles the pause switch", func() {
			post := func() PauseResponse {
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pause", nil))
				So(rec.Code, ShouldEqual, http.StatusOK)
				var resp PauseResponse
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				return resp
			}
			So(post().Paused, ShouldBeTrue)
			So(pause.Paused(), ShouldBeTrue)
			So(post().Paused, ShouldBeFalse)
			So(pause.Paused(), ShouldBeFalse)
		})
	})
}

func TestPublish(t *testing.T) {
	Convey("Given a server whose views are not being read", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		server := newTestServer(ctx, &reinforcement.History{}, nil)

		Convey("Publishing never blocks and the latest snapshot wins", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 1; i <= 100; i++ {
					server.Publish(ctx, testSnapshot(reinforcement.STATUS_RUNNING, i))
				}
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("publish blocked")
			}
			So(server.Latest().Episode, ShouldEqual, 100)
		})
	})
}

func TestWebsocket(t *testing.T) {
	Convey("Given a served page and a connected websocket client", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pause := reinforcement.NewPauseSwitch()
		server := newTestServer(ctx, &reinforcement.History{}, pause)
		httpServer := httptest.NewServer(server.Handler())
		defer httpServer.Close()

		url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()
		defer resp.Body.Close()

		Convey("Published snapshots arrive as element updates", func() {
			server.Publish(ctx, testSnapshot(reinforcement.STATUS_RUNNING, 3))

			So(conn.SetReadDeadline(time.Now().Add(5*time.Second)), ShouldBeNil)
			found := false
			for !found {
				var updates []fastview.EleUpdate
				So(conn.ReadJSON(&updates), ShouldBeNil)
				for _, update := range updates {
					if update.EleId == "scorepanel-episode" {
						So(update.Ops[0].Value, ShouldEqual, "3")
						found = true
					}
				}
			}
		})

		Convey("A pause message toggles the pause switch", func() {
			So(conn.WriteMessage(websocket.TextMessage, []byte(PAUSE_MESSAGE)), ShouldBeNil)
			deadline := time.Now().Add(5 * time.Second)
			for !pause.Paused() && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			So(pause.Paused(), ShouldBeTrue)
		})
	})
}

func TestServe(t *testing.T) {
	Convey("Serve returns cleanly when its context is cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		server := newTestServer(ctx, &reinforcement.History{}, nil)

		result := make(chan error, 1)
		go func() {
			result <- server.Serve(ctx)
		}()
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-result:
			So(err, ShouldBeNil)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})
}

func TestNilDependencies(t *testing.T) {
	Convey("A server built without a pause switch or logger still serves", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		server, err := NewServer(ctx, "localhost:0", testSnapshot(reinforcement.STATUS_READY, 0), &reinforcement.History{}, nil, nil)
		So(err, ShouldBeNil)

		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pause", nil))
		So(rec.Code, ShouldEqual, http.StatusOK)
		var resp PauseResponse
		So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
		So(resp.Paused, ShouldBeTrue)
		So(get(server.Handler(), "/api/stats").Code, ShouldEqual, http.StatusOK)
	})
}

// Ensures the chart body is a complete document rather than a fragment.
func TestChartDocument(t *testing.T) {
	Convey("The chart page is a full html document", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		server := newTestServer(ctx, &reinforcement.History{}, nil)
		rec := get(server.Handler(), "/chart")
		body, err := io.ReadAll(rec.Body)
		So(err, ShouldBeNil)
		So(strings.ToLower(string(body)), ShouldContainSubstring, "<html")
	})
}
