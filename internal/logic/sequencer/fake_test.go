package sequencer

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/cjeanneret/AnimalFace/internal/classifier"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
)

// fakeScheduler is a manual clock. Timers only fire from Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	// ignoreStop simulates timers whose Stop lost the race with firing.
	ignoreStop bool
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Time
	every   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) add(d, every time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), every: every, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer { return s.add(d, 0, f) }

func (s *fakeScheduler) Every(d time.Duration, f func()) Timer { return s.add(d, d, f) }

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.ignoreStop {
		return false
	}
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves the clock forward by d, running every due callback in
// time order. Callbacks run without the scheduler lock held.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		var due []*fakeTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		t := due[0]
		s.now = t.at
		if t.every > 0 {
			t.at = t.at.Add(t.every)
		} else {
			t.fired = true
		}
		s.mu.Unlock()
		t.f()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// pending counts timers that can still fire.
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeCamera hands out a blank frame, or fails.
type fakeCamera struct {
	readyErr error
	frameErr error
}

func (c *fakeCamera) Ready() error { return c.readyErr }

func (c *fakeCamera) Frame(ctx context.Context) (webcam.Frame, error) {
	if c.frameErr != nil {
		return webcam.Frame{}, c.frameErr
	}
	return webcam.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Source: "fake"}, nil
}

// fakeClassifier records calls. When gate is set, Predict blocks until it
// is closed and signals returned afterwards.
type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	result   []classifier.Prediction
	err      error
	gate     chan struct{}
	returned chan struct{}
}

func (c *fakeClassifier) Predict(ctx context.Context, _ webcam.Frame) ([]classifier.Prediction, error) {
	c.mu.Lock()
	c.calls++
	gate, returned := c.gate, c.returned
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if returned != nil {
		defer close(returned)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *fakeClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stagedClassifier answers its i-th call with results[i] once gates[i] is
// closed, then closes returned[i]. It ignores ctx cancellation.
type stagedClassifier struct {
	mu       sync.Mutex
	calls    int
	results  [][]classifier.Prediction
	gates    []chan struct{}
	returned []chan struct{}
}

func newStagedClassifier(results ...[]classifier.Prediction) *stagedClassifier {
	c := &stagedClassifier{results: results}
	for range results {
		c.gates = append(c.gates, make(chan struct{}))
		c.returned = append(c.returned, make(chan struct{}))
	}
	return c
}

func (c *stagedClassifier) Predict(_ context.Context, _ webcam.Frame) ([]classifier.Prediction, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.mu.Unlock()
	<-c.gates[i]
	defer close(c.returned[i])
	return c.results[i], nil
}

func (c *stagedClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recorder keeps every display pushed to observers.
type recorder struct {
	mu   sync.Mutex
	seen []Display
}

func (r *recorder) Observe(d Display) {
	r.mu.Lock()
	r.seen = append(r.seen, d)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *recorder) states(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	prev := ""
	for _, d := range r.seen {
		if d.State == state && prev != state {
			n++
		}
		prev = d.State
	}
	return n
}

func (r *recorder) images() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.seen {
		if d.State == Animating.String() {
			out = append(out, d.Image)
		}
	}
	return out
}
