package gpio

import (
	"sync"

	"github.com/cjeanneret/AnimalFace/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up enabled (buttons to GND)
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// MockDriver keeps pin levels in memory. Pull-up inputs idle HIGH.
// Tests (and the dev console) press buttons with SetLevel.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode
}

// NewMockDriver returns an empty in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	if mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := m.levels[pin]
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// SetLevel forces the level seen by ReadPin, simulating external wiring.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// Level returns the last level written to or set on pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// Mode returns the mode pin was set up with.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
