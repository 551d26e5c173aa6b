// Package autosave debounces edits into background saves.
//
// A Scheduler keeps only the latest snapshot of a burst of edits and hands it
// to the save function once no edit has arrived for the configured delay. At
// most one save runs at a time; a deadline that passes while a save is still
// running is held until that save returns.
package autosave

import (
	"context"
	"sync"
	"time"
)

const DefaultDelay = 5 * time.Second

type State int

const (
	Idle State = iota
	Scheduled
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type SaveFunc[T any] func(ctx context.Context, snapshot T) error

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. f must run on its own goroutine or from a
// later call, never before AfterFunc returns. time.AfterFunc is the default.
type AfterFunc func(d time.Duration, f func()) Timer

type Option[T any] func(*Scheduler[T])

func WithDelay[T any](d time.Duration) Option[T] {
	return func(s *Scheduler[T]) { s.delay = d }
}

func WithAfterFunc[T any](after AfterFunc) Option[T] {
	return func(s *Scheduler[T]) { s.afterFunc = after }
}

// WithCondition gates scheduling. Edits made while cond reports false are
// ignored and drop whatever was pending.
func WithCondition[T any](cond func() bool) Option[T] {
	return func(s *Scheduler[T]) { s.condition = cond }
}

func WithOnError[T any](fn func(error)) Option[T] {
	return func(s *Scheduler[T]) { s.onError = fn }
}

func WithOnSaved[T any](fn func(T)) Option[T] {
	return func(s *Scheduler[T]) { s.onSaved = fn }
}

// WithContext sets the context passed to every save.
func WithContext[T any](ctx context.Context) Option[T] {
	return func(s *Scheduler[T]) { s.ctx = ctx }
}

type Scheduler[T any] struct {
	save      SaveFunc[T]
	delay     time.Duration
	afterFunc AfterFunc
	condition func() bool
	onError   func(error)
	onSaved   func(T)
	ctx       context.Context

	mu      sync.Mutex
	state   State
	pending T
	timer   Timer
	gen     uint64
	saving  bool
	due     bool
}

func New[T any](save SaveFunc[T], opts ...Option[T]) *Scheduler[T] {
	s := &Scheduler[T]{
		save:  save,
		delay: DefaultDelay,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEdit records snapshot as the latest state and restarts the countdown.
func (s *Scheduler[T]) OnEdit(snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Cancelled {
		return
	}
	s.stopTimerLocked()
	if s.condition != nil && !s.condition() {
		s.clearLocked()
		return
	}

	s.gen++
	s.due = false
	s.pending = snapshot
	s.state = Scheduled
	gen := s.gen
	s.timer = s.afterFunc(s.delay, func() { s.fire(gen) })
}

// Cancel tears the scheduler down. Nothing pending will be saved and later
// edits are ignored. A save already running is left to finish.
func (s *Scheduler[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.clearLocked()
	s.state = Cancelled
}

// Suppress drops the pending cycle without saving it. Callers use it right
// before an explicit save so the background save does not repeat it.
func (s *Scheduler[T]) Suppress() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Cancelled {
		return
	}
	s.stopTimerLocked()
	s.clearLocked()
}

// Flush saves the pending snapshot now instead of waiting for the deadline.
// It returns without saving when nothing is pending.
func (s *Scheduler[T]) Flush() {
	s.mu.Lock()
	if s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.begin()
}

func (s *Scheduler[T]) Pending() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Scheduled {
		var zero T
		return zero, false
	}
	return s.pending, true
}

func (s *Scheduler[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler[T]) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Scheduled {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.begin()
}

// begin is entered with s.mu held and releases it.
func (s *Scheduler[T]) begin() {
	if s.saving {
		s.due = true
		s.mu.Unlock()
		return
	}
	snapshot := s.takeLocked()
	s.saving = true
	s.mu.Unlock()

	s.run(snapshot)
}

func (s *Scheduler[T]) run(snapshot T) {
	for {
		if err := s.save(s.ctx, snapshot); err != nil {
			if s.onError != nil {
				s.onError(err)
			}
		} else if s.onSaved != nil {
			s.onSaved(snapshot)
		}

		s.mu.Lock()
		if !s.due || s.state != Scheduled {
			s.saving = false
			s.due = false
			s.mu.Unlock()
			return
		}
		snapshot = s.takeLocked()
		s.mu.Unlock()
	}
}

func (s *Scheduler[T]) takeLocked() T {
	snapshot := s.pending
	s.clearLocked()
	return snapshot
}

// clearLocked forgets the pending snapshot and invalidates any timer
// callback already in flight.
func (s *Scheduler[T]) clearLocked() {
	var zero T
	s.pending = zero
	s.due = false
	s.gen++
	if s.state != Cancelled {
		s.state = Idle
	}
}

func (s *Scheduler[T]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
