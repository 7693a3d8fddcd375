package sequencer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/AnimalFace/internal/classifier"
	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/fault"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
	"github.com/cjeanneret/AnimalFace/internal/labels"
)

// State is the sequencer state.
type State int

const (
	Idle State = iota
	Capturing
	Delaying
	Animating
	Revealed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Delaying:
		return "delaying"
	case Animating:
		return "animating"
	case Revealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// Busy reports whether an attempt is in flight.
func (s State) Busy() bool {
	return s == Capturing || s == Delaying || s == Animating
}

// Camera is the part of the capture device the sequencer needs.
type Camera interface {
	Ready() error
	Frame(ctx context.Context) (webcam.Frame, error)
}

// Timing holds the pacing of one attempt.
type Timing struct {
	PredictDelay    time.Duration // decided label held before the carousel starts
	LoadingDuration time.Duration // total carousel time before the reveal
	RefreshInterval time.Duration // carousel tick period
	ClassifyTimeout time.Duration // capture + classify budget, 0 = none
}

// Messages are the status lines shown to the user.
type Messages struct {
	Idle      string
	NoResult  string
	Preparing string
	Loading   string
	Done      string
	ErrPrefix string
}

// Display is the read-only view of the page: status line, result text
// and image, and whether the begin action is disabled.
type Display struct {
	State   string `json:"state"`
	Status  string `json:"status"`
	Text    string `json:"text"`
	Image   string `json:"image"`
	Label   string `json:"label"`
	Loading bool   `json:"loading"`
	Busy    bool   `json:"busy"`
	Attempt string `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Observer receives every visible change. Observe is called with the
// sequencer lock held and must not call back into the Sequencer.
type Observer interface {
	Observe(d Display)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(d Display)

func (f ObserverFunc) Observe(d Display) { f(d) }

// Options configures New.
type Options struct {
	Camera      Camera
	Assets      *labels.Assets
	ImagePrefix string // URL prefix for asset images
	Timing      Timing
	Messages    Messages
	Carousel    string     // CarouselRandom or CarouselCycle
	Scheduler   Scheduler  // nil = ClockScheduler
	Rand        *rand.Rand // nil = shared source
}

// Sequencer is the single owner of the capture and classifier handles,
// the attempt timers and the generation counter.
type Sequencer struct {
	mu sync.Mutex

	camera     Camera
	classifier classifier.Classifier
	loadErr    error

	assets   *labels.Assets
	prefix   string
	timing   Timing
	msg      Messages
	sched    Scheduler
	carousel *carousel

	observers []Observer

	gen       uint64
	state     State
	decided   *classifier.Prediction
	startedAt time.Time
	attempt   string
	lastErr   error
	display   Display
	ticks     int

	cancel context.CancelFunc
	tick   Timer // carousel refresh
	stop   Timer // pending delay or reveal
}

// New builds an Idle sequencer. The classifier is attached later with
// UseClassifier, once it has loaded.
func New(opts Options) *Sequencer {
	sched := opts.Scheduler
	if sched == nil {
		sched = ClockScheduler{}
	}
	s := &Sequencer{
		camera:   opts.Camera,
		assets:   opts.Assets,
		prefix:   opts.ImagePrefix,
		timing:   opts.Timing,
		msg:      opts.Messages,
		sched:    sched,
		carousel: newCarousel(opts.Carousel, opts.Assets, opts.Rand),
	}
	if s.assets == nil {
		s.assets = labels.New(nil)
	}
	s.display = s.idleDisplay()
	return s
}

// Observe registers o for display changes.
func (s *Sequencer) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// UseClassifier attaches a loaded classifier handle.
func (s *Sequencer) UseClassifier(c classifier.Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
	s.loadErr = nil
	debug.Live("Classifier attached")
}

// ClassifierFailed records a failed classifier load; Start keeps
// reporting it until a classifier is attached.
func (s *Sequencer) ClassifierFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	debug.Error(err)
}

// Ready reports whether Start can currently begin an attempt.
func (s *Sequencer) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Sequencer) readyLocked() error {
	if s.classifier == nil {
		return &fault.NotReadyError{Component: "classifier", Err: s.loadErr}
	}
	if s.camera == nil {
		return &fault.NotReadyError{Component: "capture"}
	}
	return s.camera.Ready()
}

// Start begins an attempt. It returns fault.ErrBusy while one is in flight
// and a *fault.NotReadyError when a collaborator is missing; both leave the
// state unchanged. Capture and classify failures happen later and are
// reported through Err and the display.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Busy() {
		debug.Live("Start rejected: %s", s.state)
		return fault.ErrBusy
	}
	if err := s.readyLocked(); err != nil {
		debug.Error(err)
		s.lastErr = err
		s.display.Status = s.msg.ErrPrefix + fault.UserMessage(err)
		s.display.Error = fault.Kind(err)
		s.notifyLocked()
		return err
	}

	s.gen++
	gen := s.gen
	s.attempt = uuid.NewString()
	s.startedAt = s.sched.Now()
	s.decided = nil
	s.lastErr = nil

	var ctx context.Context
	if s.timing.ClassifyTimeout > 0 {
		ctx, s.cancel = context.WithTimeout(context.Background(), s.timing.ClassifyTimeout)
	} else {
		ctx, s.cancel = context.WithCancel(context.Background())
	}

	s.setStateLocked(Capturing)
	s.display.Status = s.msg.Preparing
	s.display.Attempt = s.attempt
	s.display.Error = ""
	s.notifyLocked()

	go s.capture(ctx, gen, s.camera, s.classifier)
	return nil
}

func (s *Sequencer) capture(ctx context.Context, gen uint64, cam Camera, cl classifier.Classifier) {
	var top classifier.Prediction
	frame, err := cam.Frame(ctx)
	if err == nil {
		b := frame.Image.Bounds()
		debug.Frame(frame.Source, b.Dx(), b.Dy())
		top, err = classifier.ClassifyTop(ctx, cl, frame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Capturing {
		debug.Verbose("Discarding result of stale generation %d", gen)
		return
	}
	s.cancel()
	s.cancel = nil

	if err != nil {
		s.failLocked(err)
		return
	}
	s.decided = &top
	debug.Prediction(s.attempt, top.Label, top.Confidence)
	s.setStateLocked(Delaying)
	s.stop = s.sched.AfterFunc(s.timing.PredictDelay, func() { s.animate(gen) })
	s.notifyLocked()
}

func (s *Sequencer) failLocked(err error) {
	debug.Error(err)
	s.lastErr = err
	s.decided = nil
	s.setStateLocked(Idle)
	s.display.Status = s.msg.ErrPrefix + fault.UserMessage(err)
	s.display.Error = fault.Kind(err)
	s.notifyLocked()
}

func (s *Sequencer) animate(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Delaying {
		return
	}
	s.stop = nil
	s.ticks = 0
	s.carousel.rewind()
	s.setStateLocked(Animating)
	s.display.Status = s.msg.Loading
	s.display.Text = s.msg.Loading
	s.display.Label = ""
	s.display.Loading = true
	s.showNextLocked()
	s.notifyLocked()

	s.tick = s.sched.Every(s.timing.RefreshInterval, func() { s.refresh(gen) })
	s.stop = s.sched.AfterFunc(s.timing.LoadingDuration, func() { s.reveal(gen) })
}

func (s *Sequencer) refresh(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Animating {
		return
	}
	s.showNextLocked()
	s.notifyLocked()
}

func (s *Sequencer) showNextLocked() {
	a, ok := s.carousel.pick()
	if !ok {
		return
	}
	s.ticks++
	debug.Carousel(s.ticks, a.Label)
	s.display.Image = labels.ImageURL(s.prefix, a)
}

func (s *Sequencer) reveal(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Animating {
		return
	}
	s.stopTimersLocked()

	a := s.assets.Lookup(s.decided.Label)
	s.setStateLocked(Revealed)
	s.display.Status = s.msg.Done
	s.display.Text = a.Display
	s.display.Image = labels.ImageURL(s.prefix, a)
	s.display.Label = a.Label
	s.display.Loading = false
	debug.Info("Revealed %q after %v", a.Label, s.sched.Now().Sub(s.startedAt))
	s.notifyLocked()
}

// Reset cancels whatever is in flight and returns to a fresh Idle.
// It is safe to call in any state.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimersLocked()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.decided = nil
	s.attempt = ""
	s.lastErr = nil
	s.ticks = 0
	s.setStateLocked(Idle)
	s.display = s.idleDisplay()
	s.notifyLocked()
}

func (s *Sequencer) stopTimersLocked() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.stop != nil {
		s.stop.Stop()
		s.stop = nil
	}
}

func (s *Sequencer) setStateLocked(to State) {
	if s.state != to {
		debug.Transition(s.state.String(), to.String())
	}
	s.state = to
	s.display.State = to.String()
	s.display.Busy = to.Busy()
}

func (s *Sequencer) idleDisplay() Display {
	return Display{
		State:  Idle.String(),
		Status: s.msg.Idle,
		Text:   s.msg.NoResult,
	}
}

func (s *Sequencer) notifyLocked() {
	for _, o := range s.observers {
		o.Observe(s.display)
	}
}

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current display.
func (s *Sequencer) Snapshot() Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Decided returns the label decided by the current attempt, if any.
func (s *Sequencer) Decided() (classifier.Prediction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decided == nil {
		return classifier.Prediction{}, false
	}
	return *s.decided, true
}

// Err returns the error that ended the last attempt, or nil.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
