package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"catmouse/logging"
	"catmouse/reinforcement"
	"catmouse/server/cell_views"
	"catmouse/server/fastview"
	"catmouse/server/root_view"

	"github.com/gorilla/mux"
)

// The time allowed for in-flight requests to complete on shutdown.
const shutdownGracePeriod = 2 * time.Second

// PAUSE_MESSAGE is the websocket message by which the page toggles the pause switch.
const PAUSE_MESSAGE = "pause"

// Server serves a single page, to a single client, over a single websocket, plus a
// reward chart and a small json api. The ele-update channel can be listened to by
// only one client at a time; a second page steals updates from the first.
//
// Publish is the bridge from the trainer: it never blocks, so a slow or absent
// browser cannot stall training. Snapshots arriving faster than the views consume
// them replace one another, since each is a complete picture of the run.
type Server struct {
	addr      string
	router    *mux.Router
	rootView  *root_view.RootView
	snapshots chan reinforcement.Snapshot
	history   *reinforcement.History
	pause     *reinforcement.PauseSwitch
	logger    *log.Logger

	mu     sync.Mutex
	latest reinforcement.Snapshot
}

// NewServer initializes all of the views and returns a server whose page initially
// shows @initial. A nil @pause gets a fresh switch and a nil @logger discards output.
func NewServer(
	ctx context.Context,
	addr string,
	initial reinforcement.Snapshot,
	history *reinforcement.History,
	pause *reinforcement.PauseSwitch,
	logger *log.Logger,
) (*Server, error) {
	snapshots := make(chan reinforcement.Snapshot, 1)
	rootView, err := root_view.NewRootView(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("root view: %w", err)
	}
	if pause == nil {
		pause = reinforcement.NewPauseSwitch()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	server := &Server{
		addr:      addr,
		router:    mux.NewRouter(),
		rootView:  rootView,
		snapshots: snapshots,
		history:   history,
		pause:     pause,
		logger:    logger,
		latest:    initial,
	}
	server.routes()
	return server, nil
}

func (server *Server) routes() {
	server.router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.serveWebsocket).Methods(http.MethodGet)
	server.router.HandleFunc("/chart", server.serveChart).Methods(http.MethodGet)
	api := server.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", server.serveStats).Methods(http.MethodGet)
	api.HandleFunc("/pause", server.servePause).Methods(http.MethodPost)
}

// Handler returns the server's router.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Publish records @snap as the latest state and forwards it to the views, dropping any
// snapshot the views have not yet consumed. It satisfies reinforcement.ProgressFunc.
func (server *Server) Publish(_ context.Context, snap reinforcement.Snapshot) {
	server.mu.Lock()
	server.latest = snap
	server.mu.Unlock()

	for {
		select {
		case server.snapshots <- snap:
			return
		default:
		}
		// Publish is the only sender, so after draining the stale item the send succeeds.
		select {
		case <-server.snapshots:
		default:
		}
	}
}

// Latest returns the most recently published snapshot.
func (server *Server) Latest() reinforcement.Snapshot {
	server.mu.Lock()
	defer server.mu.Unlock()
	return server.latest
}

// Serve listens until @ctx is cancelled, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.addr,
		Handler:           server.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		server.logger.Printf("serving on http://%s", server.addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	server.logger.Println("server stopped")
	return nil
}

// serveWebsocket publishes view updates to the client via websocket, and passes
// the client's pause requests to the pause switch.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(
		server.rootView.Updates(),
		w,
		r,
		fastview.WithMessageHandler[[]fastview.EleUpdate](server.onMessage),
	)
	if err != nil {
		server.logger.Println("upgrade:", err)
		return
	}

	server.logger.Println("client connected")
	if err = cli.Sync(); err != nil {
		server.logger.Println("client sync:", err)
		return
	}
	server.logger.Println("client disconnected")
}

func (server *Server) onMessage(_ context.Context, msg []byte) {
	switch string(msg) {
	case PAUSE_MESSAGE:
		server.togglePause()
	default:
		server.logger.Printf("unknown client message %q", msg)
	}
}

func (server *Server) togglePause() bool {
	paused := server.pause.Toggle()
	if paused {
		server.logger.Println("paused")
	} else {
		server.logger.Println("resumed")
	}
	return paused
}

// Serve the index.html main page, initialized to the latest snapshot.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	frame := cell_views.Convert(server.Latest())
	if err := renderTemplate(w, server.rootView, frame); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}

	err = t.Execute(w, data)
	return
}

// serveChart renders the run's reward history as an echarts page.
func (server *Server) serveChart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	runID := server.Latest().RunID
	if err := reinforcement.RenderRewardChart(w, runID, server.history.Stats()); err != nil {
		server.logger.Println("chart:", err)
	}
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	RunID       string                `json:"runId"`
	Status      reinforcement.Status  `json:"status"`
	Episode     int                   `json:"episode"`
	Paused      bool                  `json:"paused"`
	Exploration float64               `json:"exploration"`
	Score       ScoreResponse         `json:"score"`
	Summary     reinforcement.Summary `json:"summary"`
}

type ScoreResponse struct {
	Episodes    int     `json:"episodes"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"successRate"`
	Total       float64 `json:"total"`
	Best        float64 `json:"best"`
}

func (server *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	snap := server.Latest()
	writeJSON(w, StatsResponse{
		RunID:       snap.RunID,
		Status:      snap.Status,
		Episode:     snap.Episode,
		Paused:      server.pause.Paused(),
		Exploration: snap.Exploration,
		Score: ScoreResponse{
			Episodes:    snap.Score.Episodes,
			Successes:   snap.Score.Successes,
			SuccessRate: snap.Score.SuccessRate(),
			Total:       snap.Score.Total,
			Best:        snap.Score.Best,
		},
		Summary: reinforcement.Summarize(server.history.Stats()),
	})
}

// PauseResponse is the body of POST /api/pause.
type PauseResponse struct {
	Paused bool `json:"paused"`
}

func (server *Server) servePause(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, PauseResponse{Paused: server.togglePause()})
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
