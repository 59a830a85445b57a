package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qmaze/broadcast"
	"qmaze/models"
	"qmaze/reinforcement"
	"qmaze/shared_state"
	"qmaze/simulation"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"
)

type fixture struct {
	ts      *httptest.Server
	state   *shared_state.SharedState
	updates *broadcast.Broadcaster[reinforcement.Snapshot]
	loop    *simulation.Loop
	cancel  context.CancelFunc
}

type parts struct {
	server  *Server
	state   *shared_state.SharedState
	updates *broadcast.Broadcaster[reinforcement.Snapshot]
	loop    *simulation.Loop
}

func newParts(ctx context.Context, addr string, cfg simulation.Config, webDir string) parts {
	engine, err := reinforcement.NewEngine(
		models.DefaultGrid(),
		reinforcement.DefaultHyperParams,
		rand.New(rand.NewSource(5)))
	if err != nil {
		panic(err)
	}

	logger := log.New(io.Discard)
	updates := broadcast.New[reinforcement.Snapshot](64)
	state := shared_state.New(engine, updates)
	loop := simulation.NewLoop(state, cfg, logger)

	server, err := NewServer(ctx, addr, state, updates, loop, webDir, logger)
	if err != nil {
		panic(err)
	}
	return parts{server: server, state: state, updates: updates, loop: loop}
}

func newFixture(cfg simulation.Config) *fixture {
	return newFixtureIn(cfg, "")
}

func newFixtureIn(cfg simulation.Config, webDir string) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	p := newParts(ctx, "", cfg, webDir)

	return &fixture{
		ts:      httptest.NewServer(p.server.Handler()),
		state:   p.state,
		updates: p.updates,
		loop:    p.loop,
		cancel:  cancel,
	}
}

func (f *fixture) close() {
	f.cancel()
	f.loop.Stop()
	f.updates.Close()
	f.ts.Close()
}

func (f *fixture) do(method, path string, out interface{}) (int, error) {
	req, err := http.NewRequest(method, f.ts.URL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (f *fixture) dial(path string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func readView(conn *websocket.Conn) (view reinforcement.SnapshotView, err error) {
	if err = conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	err = json.Unmarshal(data, &view)
	return
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHTTPHandlers(t *testing.T) {
	Convey("Given a running server", t, func() {
		f := newFixture(simulation.Config{Episodes: 1})
		Reset(f.close)

		Convey("GET /state returns the full snapshot", func() {
			view := reinforcement.SnapshotView{}
			code, err := f.do(http.MethodGet, "/state", &view)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)

			So(view.CurrentState[reinforcement.RoleAgent], ShouldResemble, []models.Position{models.Pos(0, 0)})
			So(view.CurrentState[reinforcement.RoleGoal], ShouldResemble, []models.Position{models.Pos(4, 4)})
			So(view.CurrentState[reinforcement.RoleObstacles], ShouldHaveLength, 3)
			So(view.CurrentState[reinforcement.RolePath], ShouldBeEmpty)
			So(view.QTable, ShouldHaveLength, 5*5*models.NumActions)
		})

		Convey("POST /maze/step advances the agent by one move", func() {
			resp := StepResponse{}
			code, err := f.do(http.MethodPost, "/maze/step", &resp)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Status, ShouldBeEmpty)

			path := resp.CurrentState[reinforcement.RolePath]
			So(path, ShouldHaveLength, 1)
			So(resp.CurrentState[reinforcement.RoleAgent], ShouldResemble, path)
		})

		Convey("POST /maze/step at the goal reports game over without moving", func() {
			f.state.Do(func(e *reinforcement.Engine) {
				for i := 0; i < 10000 && !e.AtGoal(); i++ {
					e.Step()
				}
			})
			before := f.state.Snapshot()
			So(before.Agent, ShouldResemble, models.Pos(4, 4))

			resp := StepResponse{}
			_, err := f.do(http.MethodPost, "/maze/step", &resp)
			So(err, ShouldBeNil)
			So(resp.Status, ShouldEqual, GameOver)
			So(resp.CurrentState[reinforcement.RolePath], ShouldHaveLength, len(before.Path()))
		})

		Convey("POST /maze/reset returns to start and keeps what was learned", func() {
			for i := 0; i < 3; i++ {
				_, err := f.do(http.MethodPost, "/maze/step", nil)
				So(err, ShouldBeNil)
			}
			learned := f.state.Snapshot().View().QTable

			view := reinforcement.SnapshotView{}
			code, err := f.do(http.MethodPost, "/maze/reset", &view)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(view.CurrentState[reinforcement.RoleAgent], ShouldResemble, []models.Position{models.Pos(0, 0)})
			So(view.CurrentState[reinforcement.RolePath], ShouldBeEmpty)
			So(view.QTable, ShouldResemble, learned)
		})

		Convey("GET / renders the built-in page from the current state", func() {
			resp, err := http.Get(f.ts.URL + "/")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			page := string(body)
			So(page, ShouldContainSubstring, `id="valuesgrid"`)
			So(page, ShouldContainSubstring, `id="cell-4-4-rect"`)
			So(page, ShouldContainSubstring, "/maze/simulate")
		})

		Convey("Wrong methods are rejected", func() {
			code, err := f.do(http.MethodGet, "/maze/step", nil)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestWebsocketSubscribers(t *testing.T) {
	Convey("Given two websocket subscribers", t, func() {
		f := newFixture(simulation.Config{Episodes: 1})
		Reset(f.close)

		first, err := f.dial("/ws")
		So(err, ShouldBeNil)
		Reset(func() { first.Close() })
		second, err := f.dial("/ws")
		So(err, ShouldBeNil)
		Reset(func() { second.Close() })

		So(f.updates.Len(), ShouldEqual, 2)

		Convey("Both receive every on-demand mutation in order", func() {
			_, err := f.do(http.MethodPost, "/maze/step", nil)
			So(err, ShouldBeNil)
			_, err = f.do(http.MethodPost, "/maze/reset", nil)
			So(err, ShouldBeNil)

			for _, conn := range []*websocket.Conn{first, second} {
				view, err := readView(conn)
				So(err, ShouldBeNil)
				So(view.CurrentState[reinforcement.RolePath], ShouldHaveLength, 1)

				view, err = readView(conn)
				So(err, ShouldBeNil)
				So(view.CurrentState[reinforcement.RolePath], ShouldBeEmpty)
			}
		})

		Convey("A disconnect does not disturb the other subscriber", func() {
			first.Close()
			So(waitFor(func() bool { return f.updates.Len() == 1 }, 3*time.Second), ShouldBeTrue)

			_, err := f.do(http.MethodPost, "/maze/step", nil)
			So(err, ShouldBeNil)

			view, err := readView(second)
			So(err, ShouldBeNil)
			So(view.CurrentState[reinforcement.RolePath], ShouldHaveLength, 1)
		})

		Convey("Closing the broadcaster disconnects everyone", func() {
			f.updates.Close()
			_, err := readView(first)
			So(err, ShouldNotBeNil)
			So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
		})
	})
}

func TestSimulationEndpoint(t *testing.T) {
	Convey("Given a server with a short simulation budget", t, func() {
		f := newFixture(simulation.Config{Episodes: 2, MaxStepsPerEpisode: 10})
		Reset(f.close)

		Convey("Connecting to /maze/simulate starts the loop and streams its steps", func() {
			conn, err := f.dial("/maze/simulate")
			So(err, ShouldBeNil)
			Reset(func() { conn.Close() })

			_, err = readView(conn)
			So(err, ShouldBeNil)

			So(waitFor(func() bool { return f.loop.Progress().Episodes == 2 && !f.loop.Running() }, 3*time.Second), ShouldBeTrue)

			progress := simulation.Progress{}
			code, err := f.do(http.MethodGet, "/maze/progress", &progress)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(progress.Runs, ShouldEqual, 1)
			So(progress.Episodes, ShouldEqual, 2)
			So(progress.Running, ShouldBeFalse)

			Convey("A later connection starts a fresh run", func() {
				again, err := f.dial("/maze/simulate")
				So(err, ShouldBeNil)
				Reset(func() { again.Close() })

				So(waitFor(func() bool { return f.loop.Progress().Runs == 2 }, 3*time.Second), ShouldBeTrue)
			})
		})

		Convey("POST /maze/simulate/stop reports a stopped loop", func() {
			progress := simulation.Progress{}
			code, err := f.do(http.MethodPost, "/maze/simulate/stop", &progress)
			So(err, ShouldBeNil)
			So(code, ShouldEqual, http.StatusOK)
			So(progress.Running, ShouldBeFalse)
		})
	})
}

func TestStaticPassThrough(t *testing.T) {
	Convey("Given a server with a web directory", t, func() {
		dir, err := os.MkdirTemp("", "qmaze-web")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(dir) })

		index := "<html><body>observer</body></html>"
		So(os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o600), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "app.js"), []byte("JS"), 0o600), ShouldBeNil)

		f := newFixtureIn(simulation.Config{Episodes: 1}, dir)
		Reset(f.close)

		get := func(path string) (int, string) {
			resp, err := http.Get(f.ts.URL + path)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			So(err, ShouldBeNil)
			return resp.StatusCode, string(body)
		}

		Convey("/ serves the directory's index.html", func() {
			code, body := get("/")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, index)
		})

		Convey("/web/ serves files unchanged", func() {
			code, body := get("/web/app.js")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, "JS")

			code, _ = get("/web/missing.js")
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("The API is still served alongside", func() {
			code, _ := get("/state")
			So(code, ShouldEqual, http.StatusOK)
		})
	})
}

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer ln.Close()
	return ln.Addr().String(), nil
}

func TestGracefulShutdown(t *testing.T) {
	Convey("Given a serving server with a running simulation and an observer", t, func() {
		addr, err := freeAddr()
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		Reset(cancel)
		p := newParts(ctx, addr, simulation.Config{
			Episodes:           100000,
			MaxStepsPerEpisode: 50,
			StepInterval:       time.Millisecond,
		}, "")

		served := make(chan error, 1)
		go func() { served <- p.server.Serve() }()

		up := waitFor(func() bool {
			resp, err := http.Get("http://" + addr + "/state")
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 3*time.Second)
		So(up, ShouldBeTrue)

		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/maze/simulate", nil)
		So(err, ShouldBeNil)
		Reset(func() { conn.Close() })

		_, err = readView(conn)
		So(err, ShouldBeNil)
		So(p.loop.Running(), ShouldBeTrue)

		Convey("Cancelling the app context stops everything in order", func() {
			cancel()

			select {
			case err := <-served:
				So(err, ShouldBeNil)
			case <-time.After(shutdownGracePeriod + time.Second):
				So("serve did not return", ShouldBeEmpty)
			}

			So(p.loop.Running(), ShouldBeFalse)
			So(p.updates.Len(), ShouldEqual, 0)

			// Queued snapshots drain first, then the close frame arrives.
			var readErr error
			for i := 0; i < 1000 && readErr == nil; i++ {
				_, readErr = readView(conn)
			}
			So(websocket.IsCloseError(readErr, websocket.CloseNormalClosure), ShouldBeTrue)

			_, err := p.updates.Subscribe()
			So(errors.Is(err, broadcast.ErrClosed), ShouldBeTrue)
		})
	})
}
