package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// Carousel modes for the loading animation.
const (
	CarouselRandom = "random" // uniformly random label per tick
	CarouselCycle  = "cycle"  // labels in configuration order, wrapping
)

// ClassifierConfig selects and configures the classifier collaborator.
type ClassifierConfig struct {
	Type        string            `yaml:"type"`         // "http" or "static"
	ModelURL    string            `yaml:"model_url"`    // Teachable Machine model.json location
	MetadataURL string            `yaml:"metadata_url"` // derived from model_url when empty
	Endpoint    string            `yaml:"endpoint"`     // inference endpoint receiving JPEG frames
	TimeoutMs   int               `yaml:"timeout_ms"`   // per-request timeout
	Static      []PredictionEntry `yaml:"static"`       // fixed result for type "static"
}

// PredictionEntry is one (label, confidence) pair in the static classifier.
type PredictionEntry struct {
	Label      string  `yaml:"label"`
	Confidence float64 `yaml:"confidence"`
}

// CaptureConfig describes the frame source.
type CaptureConfig struct {
	Type          string `yaml:"type"`             // "upload" (browser posts frames) or "file"
	FilePath      string `yaml:"file_path"`        // snapshot file for type "file"
	SizePx        int    `yaml:"size_px"`          // square frame edge after preparation
	Mirror        *bool  `yaml:"mirror,omitempty"` // horizontal flip (selfie view), default true
	MaxFrameAgeMs int    `yaml:"max_frame_age_ms"` // older uploaded frames are rejected
	MaxUploadKB   int    `yaml:"max_upload_kb"`    // POST /frame body limit
}

// TimingConfig holds the pacing of the reveal sequence.
type TimingConfig struct {
	PredictDelayMs *int `yaml:"predict_delay_ms,omitempty"` // wait after the label is decided, default 1000; 0 = none
	LoadingFPS     int  `yaml:"loading_fps"`                // carousel refreshes per second
	LoadingMs      *int `yaml:"loading_ms,omitempty"`       // total carousel duration, default 1200; 0 = reveal at once
}

// LabelConfig maps a classifier label to its themed presentation.
type LabelConfig struct {
	Label   string `yaml:"label"`
	Display string `yaml:"display"`
	Image   string `yaml:"image"`
}

// MessagesConfig holds the user-facing status texts.
type MessagesConfig struct {
	Idle      string `yaml:"idle"`       // status while waiting
	NoResult  string `yaml:"no_result"`  // result text before any reveal
	Preparing string `yaml:"preparing"`  // status once detection starts
	Loading   string `yaml:"loading"`    // result text during the carousel
	Done      string `yaml:"done"`       // status after reveal
	ErrPrefix string `yaml:"err_prefix"` // prepended to error messages
}

// WebConfig holds HTTP surface settings.
type WebConfig struct {
	DetectPerMinute int `yaml:"detect_per_minute"` // rate limit for POST /detect per client IP
	FramesPerMinute int `yaml:"frames_per_minute"` // rate limit for POST /frame per client IP
}

// PanelConfig describes the optional GPIO button panel.
type PanelConfig struct {
	Enabled    bool `yaml:"enabled"`
	BeginPin   int  `yaml:"begin_pin"`   // BCM pin, active LOW with pull-up
	ResetPin   int  `yaml:"reset_pin"`   // BCM pin, active LOW with pull-up
	LEDPin     int  `yaml:"led_pin"`     // BCM pin, HIGH while busy. 0 = not used.
	PollMs     int  `yaml:"poll_ms"`     // button sampling period
	DebounceMs int  `yaml:"debounce_ms"` // stable time before a press counts
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Classifier ClassifierConfig `yaml:"classifier"`
	Capture    CaptureConfig    `yaml:"capture"`
	Timing     TimingConfig     `yaml:"timing"`
	Carousel   string           `yaml:"carousel"`
	Labels     []LabelConfig    `yaml:"labels"`
	Messages   MessagesConfig   `yaml:"messages"`
	ImagesDir  string           `yaml:"images_dir"`
	Web        WebConfig        `yaml:"web"`
	Panel      PanelConfig      `yaml:"panel"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// directory called "configs" and contains no traversal elements.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize validates the configuration and fills in defaults.
func (c *Config) normalize() error {
	// Classifier
	switch c.Classifier.Type {
	case "http":
		if c.Classifier.Endpoint == "" {
			return fmt.Errorf("classifier.endpoint is required for type http")
		}
	case "static":
		for _, p := range c.Classifier.Static {
			if p.Confidence < 0 || p.Confidence > 1 {
				return fmt.Errorf("classifier.static confidence for %q must be between 0 and 1, got %.3f", p.Label, p.Confidence)
			}
		}
	case "":
		return fmt.Errorf("classifier.type is required")
	default:
		return fmt.Errorf("unsupported classifier type: %s", c.Classifier.Type)
	}
	if c.Classifier.TimeoutMs <= 0 {
		c.Classifier.TimeoutMs = 10000
	}

	// Capture
	switch c.Capture.Type {
	case "":
		c.Capture.Type = "upload"
	case "upload":
	case "file":
		if c.Capture.FilePath == "" {
			return fmt.Errorf("capture.file_path is required for type file")
		}
	default:
		return fmt.Errorf("unsupported capture type: %s", c.Capture.Type)
	}
	if c.Capture.SizePx <= 0 {
		c.Capture.SizePx = 640
	}
	if c.Capture.SizePx > 4096 {
		return fmt.Errorf("capture.size_px must be <= 4096, got %d", c.Capture.SizePx)
	}
	if c.Capture.Mirror == nil {
		mirror := true
		c.Capture.Mirror = &mirror
	}
	if c.Capture.MaxFrameAgeMs <= 0 {
		c.Capture.MaxFrameAgeMs = 3000
	}
	if c.Capture.MaxUploadKB <= 0 {
		c.Capture.MaxUploadKB = 8 << 10
	}

	// Timing
	if c.Timing.PredictDelayMs == nil {
		c.Timing.PredictDelayMs = intPtr(1000)
	}
	if c.Timing.LoadingMs == nil {
		c.Timing.LoadingMs = intPtr(1200)
	}
	if *c.Timing.PredictDelayMs < 0 || *c.Timing.LoadingMs < 0 || c.Timing.LoadingFPS < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if c.Timing.LoadingFPS == 0 {
		c.Timing.LoadingFPS = 3
	}
	if c.Timing.LoadingFPS > 60 {
		return fmt.Errorf("timing.loading_fps must be <= 60, got %d", c.Timing.LoadingFPS)
	}

	switch c.Carousel {
	case "":
		c.Carousel = CarouselRandom
	case CarouselRandom, CarouselCycle:
	default:
		return fmt.Errorf("carousel must be %q or %q, got %q", CarouselRandom, CarouselCycle, c.Carousel)
	}

	if len(c.Labels) == 0 {
		c.Labels = DefaultLabels()
	}
	for i, l := range c.Labels {
		if l.Label == "" {
			return fmt.Errorf("labels[%d].label is required", i)
		}
	}

	c.Messages.fill()

	if c.ImagesDir == "" {
		c.ImagesDir = "images"
	}
	if c.Web.DetectPerMinute <= 0 {
		c.Web.DetectPerMinute = 30
	}
	if c.Web.FramesPerMinute <= 0 {
		c.Web.FramesPerMinute = 600
	}

	if c.Panel.Enabled {
		if c.Panel.BeginPin <= 0 || c.Panel.ResetPin <= 0 {
			return fmt.Errorf("panel.begin_pin and panel.reset_pin are required when the panel is enabled")
		}
		if c.Panel.BeginPin == c.Panel.ResetPin || c.Panel.BeginPin == c.Panel.LEDPin || c.Panel.ResetPin == c.Panel.LEDPin {
			return fmt.Errorf("panel pins must be distinct")
		}
	}
	if c.Panel.PollMs <= 0 {
		c.Panel.PollMs = 20
	}
	if c.Panel.DebounceMs <= 0 {
		c.Panel.DebounceMs = 60
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func (m *MessagesConfig) fill() {
	if m.Idle == "" {
		m.Idle = "대기 중"
	}
	if m.NoResult == "" {
		m.NoResult = "아직 결과 없음"
	}
	if m.Preparing == "" {
		m.Preparing = "분석 준비…"
	}
	if m.Loading == "" {
		m.Loading = "로딩 중…"
	}
	if m.Done == "" {
		m.Done = "완료"
	}
	if m.ErrPrefix == "" {
		m.ErrPrefix = "오류: "
	}
}

// DefaultLabels returns the four face types of the bundled model.
func DefaultLabels() []LabelConfig {
	return []LabelConfig{
		{Label: "강아지상", Display: "강아지형", Image: "강아지상.png"},
		{Label: "고양이상", Display: "고양이형", Image: "고양이상.png"},
		{Label: "여우상", Display: "여우형", Image: "여우상.png"},
		{Label: "하마상", Display: "하마형", Image: "하마상.png"},
	}
}

// PredictDelay returns the pause between deciding a label and the carousel.
func (c *Config) PredictDelay() time.Duration {
	if c.Timing.PredictDelayMs == nil {
		return 0
	}
	return time.Duration(*c.Timing.PredictDelayMs) * time.Millisecond
}

// LoadingDuration returns the total carousel time before the reveal.
func (c *Config) LoadingDuration() time.Duration {
	if c.Timing.LoadingMs == nil {
		return 0
	}
	return time.Duration(*c.Timing.LoadingMs) * time.Millisecond
}

// RefreshInterval returns the carousel tick period (at least 1ms).
func (c *Config) RefreshInterval() time.Duration {
	ms := 1000 / c.Timing.LoadingFPS
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// ClassifyTimeout returns the per-request classifier timeout.
func (c *Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutMs) * time.Millisecond
}

// MaxFrameAge returns how old an uploaded frame may be when captured.
func (c *Config) MaxFrameAge() time.Duration {
	return time.Duration(c.Capture.MaxFrameAgeMs) * time.Millisecond
}

// MaxUploadBytes returns the frame upload body limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Capture.MaxUploadKB) << 10
}

// MirrorFrames reports whether frames are flipped horizontally.
func (c *Config) MirrorFrames() bool {
	return c.Capture.Mirror == nil || *c.Capture.Mirror
}

// PollInterval returns the panel button sampling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Panel.PollMs) * time.Millisecond
}

// Debounce returns the panel debounce time.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Panel.DebounceMs) * time.Millisecond
}

func intPtr(v int) *int { return &v }
