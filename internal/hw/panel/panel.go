package panel

import (
	"context"
	"time"

	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/hw/gpio"
	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
)

// Controller is the pair of user actions the panel drives.
type Controller interface {
	Start() error
	Reset()
}

// Config describes the kiosk panel wiring:
// - BEGIN and RESET: push buttons between the pin and GND (internal pull-up)
// - LED: optional busy indicator, HIGH while an attempt is in flight
type Config struct {
	BeginPin     int
	ResetPin     int
	LEDPin       int // 0 = no LED
	PollInterval time.Duration
	Debounce     time.Duration // a button must read LOW this long to count
}

type button struct {
	name   string
	pin    int
	action func()
	down   bool
	since  time.Time
	fired  bool
}

// Panel polls two physical buttons and mirrors the busy state on an LED.
type Panel struct {
	gpio    gpio.Driver
	cfg     Config
	buttons []*button
}

// New configures the pins and returns a panel bound to ctrl.
func New(g gpio.Driver, cfg Config, ctrl Controller) (*Panel, error) {
	p := &Panel{gpio: g, cfg: cfg}
	p.buttons = []*button{
		{name: "begin", pin: cfg.BeginPin, action: func() {
			if err := ctrl.Start(); err != nil {
				debug.Live("Panel: begin ignored: %v", err)
			}
		}},
		{name: "reset", pin: cfg.ResetPin, action: ctrl.Reset},
	}
	for _, b := range p.buttons {
		if err := g.SetupPin(b.pin, gpio.InputPullUp); err != nil {
			return nil, err
		}
	}
	if cfg.LEDPin > 0 {
		if err := g.SetupPin(cfg.LEDPin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.WritePin(cfg.LEDPin, gpio.Low); err != nil {
			return nil, err
		}
	}
	debug.Live("Panel ready (begin=%d reset=%d led=%d)", cfg.BeginPin, cfg.ResetPin, cfg.LEDPin)
	return p, nil
}

// Poll samples both buttons once. A press triggers its action once, after
// the debounce time, and must be released before it can trigger again.
func (p *Panel) Poll(now time.Time) {
	for _, b := range p.buttons {
		level, err := p.gpio.ReadPin(b.pin)
		if err != nil {
			debug.Error(err)
			continue
		}
		if level == gpio.High {
			b.down = false
			b.fired = false
			continue
		}
		if !b.down {
			b.down = true
			b.since = now
		}
		if !b.fired && now.Sub(b.since) >= p.cfg.Debounce {
			b.fired = true
			debug.Verbose("Panel: %s pressed", b.name)
			b.action()
		}
	}
}

// Run polls the buttons until ctx is cancelled, then turns the LED off.
func (p *Panel) Run(ctx context.Context) error {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	defer p.setLED(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			p.Poll(now)
		}
	}
}

// Observe lights the LED while the sequencer is busy.
func (p *Panel) Observe(d sequencer.Display) {
	p.setLED(d.Busy)
}

func (p *Panel) setLED(on bool) {
	if p.cfg.LEDPin <= 0 {
		return
	}
	if err := p.gpio.WritePin(p.cfg.LEDPin, gpio.Level(on)); err != nil {
		debug.Error(err)
	}
}
