package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"qmaze/broadcast"
	"qmaze/reinforcement"
	"qmaze/server/fastview"
	"qmaze/server/root_view"
	"qmaze/shared_state"
	"qmaze/simulation"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// GameOver is the step status reported once the agent has reached the goal.
const GameOver = "Game over"

const shutdownGracePeriod = 5 * time.Second

// StepResponse is the body of POST /maze/step: the snapshot plus a status that is
// GameOver when the episode is complete and empty otherwise.
type StepResponse struct {
	reinforcement.SnapshotView
	Status string `json:"status"`
}

// Server serves the maze endpoints. Every handler goes through the shared state
// for engine access, and every websocket is a subscriber of the update broadcaster,
// so any number of pages may be open at once.
type Server struct {
	addr     string
	appCtx   context.Context
	state    *shared_state.SharedState
	updates  *broadcast.Broadcaster[reinforcement.Snapshot]
	loop     *simulation.Loop
	webDir   string
	rootView *root_view.RootView
	logger   *log.Logger
	router   *mux.Router
}

// NewServer wires the routes. ctx bounds the server's lifetime, including any
// simulation run started through /maze/simulate. If webDir is empty the built-in
// page is served at /, otherwise webDir's index.html and assets are.
func NewServer(
	ctx context.Context,
	addr string,
	state *shared_state.SharedState,
	updates *broadcast.Broadcaster[reinforcement.Snapshot],
	loop *simulation.Loop,
	webDir string,
	logger *log.Logger,
) (*Server, error) {
	if state == nil || updates == nil || loop == nil {
		return nil, errors.New("server requires state, updates and loop")
	}

	server := &Server{
		addr:    addr,
		appCtx:  ctx,
		state:   state,
		updates: updates,
		loop:    loop,
		webDir:  webDir,
		logger:  logger.With("component", "server"),
	}
	if webDir == "" {
		var err error
		if server.rootView, err = root_view.NewRootView(state.Grid()); err != nil {
			return nil, fmt.Errorf("main page: %w", err)
		}
	}

	server.router = server.routes()
	return server, nil
}

func (server *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(server.logRequests)

	router.HandleFunc("/state", server.getState).Methods(http.MethodGet)
	router.HandleFunc("/maze/step", server.step).Methods(http.MethodPost)
	router.HandleFunc("/maze/reset", server.reset).Methods(http.MethodPost)
	router.HandleFunc("/maze/progress", server.progress).Methods(http.MethodGet)
	router.HandleFunc("/maze/simulate/stop", server.stopSimulation).Methods(http.MethodPost)
	router.HandleFunc("/ws", server.serveWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/maze/simulate", server.serveSimulation).Methods(http.MethodGet)

	// Static assets are passed through untouched.
	if server.webDir != "" {
		router.PathPrefix("/web/").Handler(
			http.StripPrefix("/web/", http.FileServer(http.Dir(server.webDir))))
		router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	} else {
		router.HandleFunc("/", server.serveRootView).Methods(http.MethodGet)
	}

	return router
}

// Handler returns the server's routes, e.g. for httptest.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until the app context is cancelled, then stops the simulation,
// disconnects every subscriber and shuts down.
func (server *Server) Serve() (err error) {
	srv := &http.Server{
		Addr:    server.addr,
		Handler: server.router,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-server.appCtx.Done()
		server.loop.Stop()
		server.updates.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	server.logger.Info("listening", "addr", server.addr)
	if err = srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	if err = <-shutdownErr; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	server.logger.Info("shut down")
	return nil
}

func (server *Server) getState(w http.ResponseWriter, r *http.Request) {
	server.writeJSON(w, server.state.Snapshot())
}

func (server *Server) step(w http.ResponseWriter, r *http.Request) {
	tr, snap := server.state.Step()
	resp := StepResponse{SnapshotView: snap.View()}
	if tr.Complete {
		resp.Status = GameOver
	}
	server.writeJSON(w, resp)
}

func (server *Server) reset(w http.ResponseWriter, r *http.Request) {
	server.writeJSON(w, server.state.Reset())
}

func (server *Server) progress(w http.ResponseWriter, r *http.Request) {
	server.writeJSON(w, server.loop.Progress())
}

func (server *Server) stopSimulation(w http.ResponseWriter, r *http.Request) {
	server.loop.Stop()
	server.writeJSON(w, server.loop.Progress())
}

// serveWebsocket streams every snapshot to the client.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	server.streamUpdates(w, r, nil)
}

// serveSimulation streams like serveWebsocket, and starts the simulation loop if
// it is not already running. The loop outlives the connection.
func (server *Server) serveSimulation(w http.ResponseWriter, r *http.Request) {
	server.streamUpdates(w, r, func(logger *log.Logger) {
		if server.loop.Start(server.appCtx) {
			logger.Info("simulation triggered")
		}
	})
}

// streamUpdates registers a subscriber before upgrading, so no snapshot published
// after the handshake completes can be missed, then publishes until the client goes away.
func (server *Server) streamUpdates(
	w http.ResponseWriter,
	r *http.Request,
	onConnect func(*log.Logger),
) {
	sub, err := server.updates.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	logger := server.logger.With("subscriber", sub.ID())
	cli, err := fastview.NewClient[reinforcement.Snapshot](sub, encodeSnapshot, w, r, logger)
	if err != nil {
		sub.Close()
		logger.Warn("websocket", "err", err)
		return
	}
	logger.Info("subscriber connected", "subscribers", server.updates.Len())

	if onConnect != nil {
		onConnect(logger)
	}

	if err := cli.Sync(); err != nil {
		logger.Warn("subscriber dropped", "err", err, "missed", sub.Dropped())
		return
	}
	logger.Info("subscriber disconnected", "missed", sub.Dropped())
}

func encodeSnapshot(snap reinforcement.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// Serve the index.html main page.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(server.webDir, "index.html"))
}

// serveRootView renders the built-in page from the current snapshot.
func (server *Server) serveRootView(w http.ResponseWriter, r *http.Request) {
	buf := &bytes.Buffer{}
	if err := server.rootView.Render(buf, server.state.Snapshot()); err != nil {
		server.logger.Error("render main page", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (server *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		server.logger.Error("encode response", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		server.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
