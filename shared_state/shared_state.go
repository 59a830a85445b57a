// Package shared_state guards the single learning engine shared by the HTTP handlers
// and the simulation loop.
package shared_state

import (
	"sync"

	"qmaze/models"
	"qmaze/reinforcement"
)

// Publisher receives the snapshot produced by every engine mutation.
// Publish must not block; broadcast.Broadcaster satisfies this.
type Publisher interface {
	Publish(reinforcement.Snapshot) int
}

// SharedState gives exactly one caller at a time access to the engine. There is
// no separate read path: snapshots are taken under the same lock as steps, so a
// reader never sees a table mid-update.
//
// Snapshots are published while the lock is still held. Publishing only enqueues
// onto bounded subscriber queues, and doing it inside the critical section makes
// the delivery order seen by every subscriber equal to the mutation order.
type SharedState struct {
	mu        sync.Mutex
	engine    *reinforcement.Engine
	grid      *models.Grid
	publisher Publisher
}

// New wraps engine. publisher may be nil, in which case nothing is published.
func New(engine *reinforcement.Engine, publisher Publisher) *SharedState {
	return &SharedState{
		engine:    engine,
		grid:      engine.Grid(),
		publisher: publisher,
	}
}

// Step advances the current episode by one step and publishes the result.
// A step taken when the episode is already complete changes nothing and is not published.
func (s *SharedState) Step() (reinforcement.Transition, reinforcement.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := s.engine.Step()
	snap := s.engine.Snapshot()
	if !tr.Noop {
		s.publish(snap)
	}
	return tr, snap
}

// Reset starts a new episode, keeping the Q-table, and publishes the result.
func (s *SharedState) Reset() reinforcement.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.Reset()
	snap := s.engine.Snapshot()
	s.publish(snap)
	return snap
}

// Snapshot returns a consistent copy of the current state.
func (s *SharedState) Snapshot() reinforcement.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

// Grid returns the engine's grid, which never changes after construction and so
// needs no lock.
func (s *SharedState) Grid() *models.Grid {
	return s.grid
}

// Do runs fn with exclusive access to the engine. fn must not retain the engine
// and should return promptly, since every other caller waits on it.
// Nothing fn does is published: observers only learn of mutations made through
// Step and Reset, so Do is for reads and for setting up fixtures.
func (s *SharedState) Do(fn func(*reinforcement.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.engine)
}

func (s *SharedState) publish(snap reinforcement.Snapshot) {
	if s.publisher != nil {
		s.publisher.Publish(snap)
	}
}
