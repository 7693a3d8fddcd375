package debug

import (
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (results, errors)
	LevelLive    = 2 // Live info (state transitions, frames received)
	LevelVerbose = 3 // Verbose (timings, carousel ticks)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (decided labels, errors)
// 2 = live info (sequencer transitions, uploaded frames)
// 3 = verbose (timings, carousel ticks, config details)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[AnimalFace] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects debug output, e.g. to tee it into the web status stream.
// It has no effect while debugging is off.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Prediction prints the label decided for an attempt (level 1).
func Prediction(attempt, label string, confidence float64) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Attempt %s: decided %q (confidence %.3f)", attempt, label, confidence)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Transition prints a sequencer state change (level 2).
func Transition(from, to string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] State %s -> %s", from, to)
	}
}

// Frame prints a received or captured frame (level 2).
func Frame(source string, width, height int) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Frame from %s: %dx%d", source, width, height)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Carousel prints one loading animation tick (level 3).
func Carousel(tick int, key string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Carousel tick %d: %s", tick, key)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}
