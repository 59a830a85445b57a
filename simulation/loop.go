// Package simulation runs the background training loop whose every step is
// published to observers.
package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"qmaze/atomic_float"
	"qmaze/shared_state"

	"github.com/charmbracelet/log"
	channerics "github.com/niceyeti/channerics/channels"
)

// Config bounds a loop run.
type Config struct {
	// Episodes is the number of episodes per run.
	Episodes int
	// MaxStepsPerEpisode ends an episode early; zero or less means no limit.
	MaxStepsPerEpisode int
	// StepInterval is the minimum time between steps; zero runs unthrottled.
	StepInterval time.Duration
}

// Progress is a point-in-time report of the loop's counters. It is read from
// atomics, without touching the shared engine.
type Progress struct {
	Running      bool    `json:"running"`
	Runs         uint64  `json:"runs"`
	Episodes     uint64  `json:"episodes"`
	Steps        uint64  `json:"steps"`
	GoalsReached uint64  `json:"goals_reached"`
	LastReturn   float64 `json:"last_return"`
	LastLength   uint64  `json:"last_length"`
}

// Loop drives full episodes through the shared state, one guarded step at a time.
// It is just another client of the guard: between any two of its steps, HTTP
// handlers may step or reset the same engine.
type Loop struct {
	state  *shared_state.SharedState
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runs         atomic.Uint64
	episodes     atomic.Uint64
	steps        atomic.Uint64
	goalsReached atomic.Uint64
	lastLength   atomic.Uint64
	lastReturn   *atomic_float.AtomicFloat64
}

// NewLoop returns a stopped loop.
func NewLoop(
	state *shared_state.SharedState,
	cfg Config,
	logger *log.Logger,
) *Loop {
	return &Loop{
		state:      state,
		cfg:        cfg,
		logger:     logger.With("component", "simulation"),
		lastReturn: atomic_float.NewAtomicFloat64(0),
	}
}

// Start launches a run unless one is already in progress, and reports whether it
// did. The run ends when its episodes are exhausted, Stop is called, or ctx is done.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running() {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.runs.Add(1)

	go func() {
		defer close(done)
		defer cancel()
		l.run(runCtx)
	}()
	return true
}

// Stop cancels the current run and waits for it to exit. The run finishes the
// step in progress first, so the engine is never left half-updated.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a run is in progress.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running()
}

func (l *Loop) running() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Done is closed when the current (or last) run exits. If the loop never ran,
// the returned channel is already closed.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return l.done
}

// Progress reports the loop's counters.
func (l *Loop) Progress() Progress {
	return Progress{
		Running:      l.Running(),
		Runs:         l.runs.Load(),
		Episodes:     l.episodes.Load(),
		Steps:        l.steps.Load(),
		GoalsReached: l.goalsReached.Load(),
		LastReturn:   l.lastReturn.AtomicRead(),
		LastLength:   l.lastLength.Load(),
	}
}

func (l *Loop) run(ctx context.Context) {
	l.logger.Info("simulation started",
		"episodes", l.cfg.Episodes,
		"maxSteps", l.cfg.MaxStepsPerEpisode,
		"interval", l.cfg.StepInterval)

	wait := func() bool { return ctx.Err() == nil }
	if l.cfg.StepInterval > 0 {
		ticks := channerics.NewTicker(ctx.Done(), l.cfg.StepInterval)
		wait = func() bool { return awaitTick(ctx, ticks) }
	}

	completed := 0
	for completed < l.cfg.Episodes && ctx.Err() == nil {
		if !l.runEpisode(wait) {
			break
		}
		completed++
	}

	l.logger.Info("simulation stopped",
		"completed", completed,
		"cancelled", ctx.Err() != nil)
}

// runEpisode returns false if wait reported cancellation before the episode ended.
func (l *Loop) runEpisode(wait func() bool) bool {
	l.state.Reset()

	steps := 0
	total := 0.0
	reachedGoal := false
	for l.cfg.MaxStepsPerEpisode <= 0 || steps < l.cfg.MaxStepsPerEpisode {
		if !wait() {
			return false
		}

		tr, _ := l.state.Step()
		if tr.Noop {
			// An on-demand step finished this episode for us.
			reachedGoal = true
			break
		}
		steps++
		total += tr.Reward
		l.steps.Add(1)
		if tr.Complete {
			reachedGoal = true
			break
		}
	}

	n := l.episodes.Add(1)
	if reachedGoal {
		l.goalsReached.Add(1)
	}
	l.lastLength.Store(uint64(steps))
	l.lastReturn.AtomicSet(total)
	l.logger.Debug("episode finished", "episode", n, "steps", steps, "return", total, "goal", reachedGoal)
	return true
}

// awaitTick blocks until the next tick, or returns false if ctx is done first.
func awaitTick[T any](ctx context.Context, ticks <-chan T) bool {
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-ticks:
		return ok
	}
}
