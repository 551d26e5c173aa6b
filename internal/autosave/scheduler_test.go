package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped || t.clock.ignoreStop {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires timers synchronously from Advance. With ignoreStop set,
// Stop reports failure and the timer still fires, like a time.Timer whose
// callback already started.
type fakeClock struct {
	mu         sync.Mutex
	now        time.Duration
	timers     []*fakeTimer
	ignoreStop bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			if c.now < target {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		if c.now < next.at {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type savedSnapshot struct {
	at    time.Duration
	value string
}

type recorder struct {
	mu    sync.Mutex
	clock *fakeClock
	saves []savedSnapshot
	err   error
}

func (r *recorder) save(_ context.Context, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, savedSnapshot{at: r.clock.Now(), value: v})
	return r.err
}

func (r *recorder) snapshot() []savedSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]savedSnapshot(nil), r.saves...)
}

func newTestScheduler(delay time.Duration, opts ...Option[string]) (*Scheduler[string], *fakeClock, *recorder) {
	clock := &fakeClock{}
	rec := &recorder{clock: clock}
	opts = append([]Option[string]{
		WithDelay[string](delay),
		WithAfterFunc[string](clock.AfterFunc),
	}, opts...)
	return New(rec.save, opts...), clock, rec
}

func TestBurstCollapsesToLastEdit(t *testing.T) {
	s, clock, rec := newTestScheduler(500 * time.Millisecond)

	s.OnEdit("a")
	clock.Advance(100 * time.Millisecond)
	s.OnEdit("b")
	clock.Advance(100 * time.Millisecond)
	s.OnEdit("c")

	clock.Advance(499 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("saved early: %+v", got)
	}
	if s.State() != Scheduled {
		t.Fatalf("state = %v, want scheduled", s.State())
	}

	clock.Advance(1 * time.Millisecond)
	clock.Advance(5 * time.Second)

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("saves = %+v, want exactly one", got)
	}
	if got[0].value != "c" || got[0].at != 700*time.Millisecond {
		t.Fatalf("save = %+v, want c at 700ms", got[0])
	}
	if s.State() != Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

func TestCancelBeforeDeadline(t *testing.T) {
	s, clock, rec := newTestScheduler(500 * time.Millisecond)

	s.OnEdit("a")
	clock.Advance(100 * time.Millisecond)
	s.OnEdit("b")
	clock.Advance(200 * time.Millisecond)
	s.Cancel()

	clock.Advance(10 * time.Second)
	s.OnEdit("c")
	clock.Advance(10 * time.Second)

	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("saves after cancel: %+v", got)
	}
	if s.State() != Cancelled {
		t.Fatalf("state = %v, want cancelled", s.State())
	}
}

func TestCancelAfterFire(t *testing.T) {
	s, clock, rec := newTestScheduler(500 * time.Millisecond)

	s.OnEdit("a")
	clock.Advance(500 * time.Millisecond)
	s.Cancel()
	s.OnEdit("b")
	clock.Advance(time.Second)

	got := rec.snapshot()
	if len(got) != 1 || got[0].value != "a" {
		t.Fatalf("saves = %+v, want only a", got)
	}
}

func TestZeroDelayFiresEveryEdit(t *testing.T) {
	s, clock, rec := newTestScheduler(0)

	for _, v := range []string{"a", "b", "c"} {
		s.OnEdit(v)
		clock.Advance(0)
	}

	got := rec.snapshot()
	if len(got) != 3 {
		t.Fatalf("saves = %+v, want three", got)
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].value != want {
			t.Fatalf("save %d = %q, want %q", i, got[i].value, want)
		}
	}
}

func TestSuppressDropsPendingCycle(t *testing.T) {
	s, clock, rec := newTestScheduler(500 * time.Millisecond)

	s.OnEdit("a")
	clock.Advance(200 * time.Millisecond)
	s.Suppress()
	clock.Advance(time.Second)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("suppressed cycle saved: %+v", got)
	}

	s.OnEdit("b")
	clock.Advance(500 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || got[0].value != "b" {
		t.Fatalf("saves = %+v, want b", got)
	}
}

func TestStaleTimerCallbackIsIgnored(t *testing.T) {
	s, clock, rec := newTestScheduler(500 * time.Millisecond)
	clock.ignoreStop = true

	s.OnEdit("a")
	clock.Advance(100 * time.Millisecond)
	s.OnEdit("b")

	clock.Advance(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("stale timer saved: %+v", got)
	}

	clock.Advance(100 * time.Millisecond)
	got := rec.snapshot()
	if len(got) != 1 || got[0].value != "b" || got[0].at != 600*time.Millisecond {
		t.Fatalf("saves = %+v, want b at 600ms", got)
	}
}

func TestSaveErrorReturnsToIdle(t *testing.T) {
	var reported []error
	s, clock, rec := newTestScheduler(100*time.Millisecond, WithOnError[string](func(err error) {
		reported = append(reported, err)
	}))
	rec.err = errors.New("network down")

	s.OnEdit("a")
	clock.Advance(100 * time.Millisecond)
	if len(reported) != 1 {
		t.Fatalf("errors reported = %d, want 1", len(reported))
	}
	if s.State() != Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}

	clock.Advance(time.Second)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("failed save retried: %+v", got)
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()
	s.OnEdit("b")
	clock.Advance(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 2 || got[1].value != "b" {
		t.Fatalf("saves = %+v, want a then b", got)
	}
}

func TestConditionDisablesScheduling(t *testing.T) {
	enabled := false
	s, clock, rec := newTestScheduler(100*time.Millisecond, WithCondition[string](func() bool { return enabled }))

	s.OnEdit("a")
	clock.Advance(time.Second)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("saved while disabled: %+v", got)
	}

	enabled = true
	s.OnEdit("b")
	clock.Advance(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0].value != "b" {
		t.Fatalf("saves = %+v, want b", got)
	}
}

func TestFlushAndPending(t *testing.T) {
	var saved []string
	s, clock, rec := newTestScheduler(time.Second, WithOnSaved[string](func(v string) {
		saved = append(saved, v)
	}))

	if _, ok := s.Pending(); ok {
		t.Fatal("pending before any edit")
	}
	s.OnEdit("a")
	if v, ok := s.Pending(); !ok || v != "a" {
		t.Fatalf("pending = %q, %v", v, ok)
	}

	s.Flush()
	if got := rec.snapshot(); len(got) != 1 || got[0].at != 0 {
		t.Fatalf("flush saves = %+v", got)
	}
	if len(saved) != 1 || saved[0] != "a" {
		t.Fatalf("onSaved = %v", saved)
	}

	clock.Advance(2 * time.Second)
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("flushed cycle fired again: %+v", got)
	}

	s.Flush()
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("flush with nothing pending saved: %+v", got)
	}
}

// blockingSaver holds the first save until release is closed.
type blockingSaver struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	calls    int
	inFlight int
	maxSeen  int
	values   []string
}

func newBlockingSaver() *blockingSaver {
	return &blockingSaver{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingSaver) save(_ context.Context, v string) error {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.inFlight++
	if b.inFlight > b.maxSeen {
		b.maxSeen = b.inFlight
	}
	b.values = append(b.values, v)
	b.mu.Unlock()

	if first {
		close(b.started)
		<-b.release
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return nil
}

func TestDueFireWaitsForInFlightSave(t *testing.T) {
	clock := &fakeClock{}
	saver := newBlockingSaver()
	s := New(saver.save, WithDelay[string](500*time.Millisecond), WithAfterFunc[string](clock.AfterFunc))

	s.OnEdit("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		clock.Advance(500 * time.Millisecond)
	}()
	<-saver.started

	s.OnEdit("b")
	clock.Advance(500 * time.Millisecond)

	saver.mu.Lock()
	calls := saver.calls
	saver.mu.Unlock()
	if calls != 1 {
		t.Fatalf("second save started while first in flight (calls = %d)", calls)
	}

	close(saver.release)
	<-done

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.maxSeen != 1 {
		t.Fatalf("concurrent saves = %d, want 1", saver.maxSeen)
	}
	if len(saver.values) != 2 || saver.values[0] != "a" || saver.values[1] != "b" {
		t.Fatalf("values = %v, want [a b]", saver.values)
	}
}

func TestSuppressDropsDueFireBehindInFlightSave(t *testing.T) {
	clock := &fakeClock{}
	saver := newBlockingSaver()
	s := New(saver.save, WithDelay[string](500*time.Millisecond), WithAfterFunc[string](clock.AfterFunc))

	s.OnEdit("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		clock.Advance(500 * time.Millisecond)
	}()
	<-saver.started

	s.OnEdit("b")
	clock.Advance(500 * time.Millisecond)
	s.Suppress()

	close(saver.release)
	<-done

	saver.mu.Lock()
	defer saver.mu.Unlock()
	if len(saver.values) != 1 || saver.values[0] != "a" {
		t.Fatalf("values = %v, want [a]", saver.values)
	}
	if s.State() != Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}
