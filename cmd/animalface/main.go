package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cjeanneret/AnimalFace/internal/classifier"
	"github.com/cjeanneret/AnimalFace/internal/config"
	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/hw/gpio"
	"github.com/cjeanneret/AnimalFace/internal/hw/panel"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
	"github.com/cjeanneret/AnimalFace/internal/labels"
	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
	"github.com/cjeanneret/AnimalFace/internal/web"
)

const imagesPrefix = "/images"

func main() {
	// CLI flags
	webPort := &webPortFlag{val: 8080, defaultPort: 8080}
	flag.Var(webPort, "web", "web server port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", "", "path to config file (default $"+config.EnvConfigPath+" or configs/default.yaml)")
	debugLevel := flag.Int("debug", -1, "debug level 0-4, overrides config")
	once := flag.Bool("once", false, "run a single capture-classify-reveal cycle in the terminal and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Environment, then configuration
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env failed: %v", err)
	}
	path := resolveConfigPath(*cfgPath)
	if err := config.ValidateConfigPath(path); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("environment override failed: %v", err)
	}
	if err := applyDebugFlag(cfg, *debugLevel); err != nil {
		log.Fatalf("invalid -debug: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Classifier type", cfg.Classifier.Type)
	debug.Value("Capture type", cfg.Capture.Type)
	debug.PrintStruct("Timing", cfg.Timing)

	// Capture device. A failed setup is not fatal: Start reports it and
	// POST /camera can re-arm the device.
	debug.Step(1, "Setting up capture device")
	dev, err := newDevice(cfg)
	if err != nil {
		log.Fatalf("init capture failed: %v", err)
	}
	defer dev.Close()
	constraints := captureConstraints(cfg)
	if err := dev.Setup(ctx, constraints); err != nil {
		log.Printf("capture setup failed: %v", err)
	}

	// Sequencer
	debug.Step(2, "Building sequencer")
	assets := buildAssets(cfg)
	seq := sequencer.New(sequencerOptions(cfg, dev, assets))
	defer seq.Reset()

	// Classifier: loaded in the background like the page loads its model;
	// until then Start answers NotReadyError.
	debug.Step(3, "Loading classifier")
	classifierDone := make(chan struct{})
	go func() {
		defer close(classifierDone)
		attachClassifier(ctx, cfg, seq, assets)
	}()

	// Optional button panel
	if cfg.Panel.Enabled {
		debug.Step(4, "Initializing button panel")
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		p, err := panel.New(gpioDriver, panelConfig(cfg), seq)
		if err != nil {
			log.Fatalf("init panel failed: %v", err)
		}
		seq.Observe(p)
		go p.Run(ctx)
	}

	if *once {
		<-classifierDone
		d, err := runOnce(ctx, seq)
		if err != nil {
			log.Fatalf("detection failed: %v", err)
		}
		if p, ok := seq.Decided(); ok {
			fmt.Printf("%s (%s, %.2f)\n", d.Text, d.Label, p.Confidence)
		} else {
			fmt.Printf("%s (%s)\n", d.Text, d.Label)
		}
		return
	}

	webAddr := fmt.Sprintf(":%d", webPort.port())
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	hub := web.NewDisplayHub()
	seq.Observe(hub)
	seq.Observe(broadcaster)

	var frames web.FrameSink
	if up, ok := dev.(*webcam.UploadDevice); ok {
		frames = up
	}
	srv := web.NewServer(webAddr, web.Options{
		Broadcaster: broadcaster,
		Hub:         hub,
		Controller:  seq,
		Frames:      frames,
		SetupCamera: func(ctx context.Context) error {
			return dev.Setup(ctx, constraints)
		},
		Page:            pageConfig(cfg, assets),
		ImagesDir:       cfg.ImagesDir,
		DetectPerMinute: cfg.Web.DetectPerMinute,
		FramesPerMinute: cfg.Web.FramesPerMinute,
		MaxFrameBytes:   cfg.MaxUploadBytes(),
	})
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("web server: %v", err)
	}
}

// resolveConfigPath picks the -config flag, then $ANIMALFACE_CONFIG, then
// the bundled default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(config.EnvConfigPath); env != "" {
		return env
	}
	return filepath.Join("configs", "default.yaml")
}

// applyDebugFlag overrides the configured debug level; negative means unset.
func applyDebugFlag(cfg *config.Config, level int) error {
	if level < 0 {
		return nil
	}
	if level > debug.LevelTrace {
		return fmt.Errorf("debug level must be between 0 and %d, got %d", debug.LevelTrace, level)
	}
	cfg.Defaults.DebugLevel = level
	return nil
}

// newDevice selects a capture device implementation based on configuration.
func newDevice(cfg *config.Config) (webcam.Device, error) {
	switch cfg.Capture.Type {
	case "upload":
		return webcam.NewUploadDevice(), nil
	case "file":
		return webcam.NewFileDevice(cfg.Capture.FilePath), nil
	default:
		return nil, fmt.Errorf("unsupported capture type: %s", cfg.Capture.Type)
	}
}

func captureConstraints(cfg *config.Config) webcam.Constraints {
	return webcam.Constraints{
		SizePx: cfg.Capture.SizePx,
		Mirror: cfg.MirrorFrames(),
		MaxAge: cfg.MaxFrameAge(),
	}
}

func buildAssets(cfg *config.Config) *labels.Assets {
	list := make([]labels.Asset, 0, len(cfg.Labels))
	for _, l := range cfg.Labels {
		list = append(list, labels.Asset{Label: l.Label, Display: l.Display, Image: l.Image})
	}
	return labels.New(list)
}

func sequencerOptions(cfg *config.Config, cam sequencer.Camera, assets *labels.Assets) sequencer.Options {
	return sequencer.Options{
		Camera:      cam,
		Assets:      assets,
		ImagePrefix: imagesPrefix,
		Timing: sequencer.Timing{
			PredictDelay:    cfg.PredictDelay(),
			LoadingDuration: cfg.LoadingDuration(),
			RefreshInterval: cfg.RefreshInterval(),
			ClassifyTimeout: cfg.ClassifyTimeout(),
		},
		Messages: sequencer.Messages{
			Idle:      cfg.Messages.Idle,
			NoResult:  cfg.Messages.NoResult,
			Preparing: cfg.Messages.Preparing,
			Loading:   cfg.Messages.Loading,
			Done:      cfg.Messages.Done,
			ErrPrefix: cfg.Messages.ErrPrefix,
		},
		Carousel: cfg.Carousel,
	}
}

// loadClassifier selects a classifier implementation based on configuration.
func loadClassifier(ctx context.Context, cfg *config.Config) (classifier.Classifier, []string, error) {
	switch cfg.Classifier.Type {
	case "http":
		h, err := classifier.Load(ctx, classifier.Options{
			ModelURL:    cfg.Classifier.ModelURL,
			MetadataURL: cfg.Classifier.MetadataURL,
			Endpoint:    cfg.Classifier.Endpoint,
			Timeout:     cfg.ClassifyTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		if m := h.Metadata(); m != nil {
			debug.Info("Model %q loaded (%d labels)", m.ModelName, len(m.Labels))
		}
		return h, h.Labels(), nil
	case "static":
		preds := make([]classifier.Prediction, 0, len(cfg.Classifier.Static))
		labelSet := make([]string, 0, len(cfg.Classifier.Static))
		for _, p := range cfg.Classifier.Static {
			preds = append(preds, classifier.Prediction{Label: p.Label, Confidence: p.Confidence})
			labelSet = append(labelSet, p.Label)
		}
		return &classifier.Static{Result: preds}, labelSet, nil
	default:
		return nil, nil, fmt.Errorf("unsupported classifier type: %s", cfg.Classifier.Type)
	}
}

// attachClassifier loads the classifier and hands it (or the failure) to seq.
func attachClassifier(ctx context.Context, cfg *config.Config, seq *sequencer.Sequencer, assets *labels.Assets) {
	cl, modelLabels, err := loadClassifier(ctx, cfg)
	if err != nil {
		log.Printf("classifier load failed: %v", err)
		seq.ClassifierFailed(err)
		return
	}
	if missing := assets.Missing(modelLabels); len(missing) > 0 {
		log.Printf("labels without a configured asset (raw text will be shown): %v", missing)
	}
	seq.UseClassifier(cl)
}

func panelConfig(cfg *config.Config) panel.Config {
	return panel.Config{
		BeginPin:     cfg.Panel.BeginPin,
		ResetPin:     cfg.Panel.ResetPin,
		LEDPin:       cfg.Panel.LEDPin,
		PollInterval: cfg.PollInterval(),
		Debounce:     cfg.Debounce(),
	}
}

// pageConfig builds what the browser page needs from the configuration.
func pageConfig(cfg *config.Config, assets *labels.Assets) web.PageConfig {
	var pageLabels []web.PageLabel
	for _, a := range assets.All() {
		pageLabels = append(pageLabels, web.PageLabel{
			Label:   a.Label,
			Display: a.Display,
			Image:   labels.ImageURL(imagesPrefix, a),
		})
	}
	frameEvery := cfg.MaxFrameAge() / 2
	if frameEvery > 500*time.Millisecond {
		frameEvery = 500 * time.Millisecond
	}
	return web.PageConfig{
		Labels:         pageLabels,
		UploadFrames:   cfg.Capture.Type == "upload",
		SizePx:         cfg.Capture.SizePx,
		Mirror:         cfg.MirrorFrames(),
		FrameEveryMs:   int(frameEvery / time.Millisecond),
		PredictDelayMs: int(cfg.PredictDelay() / time.Millisecond),
		LoadingMs:      int(cfg.LoadingDuration() / time.Millisecond),
		LoadingFPS:     cfg.Timing.LoadingFPS,
	}
}

// runOnce starts one attempt and waits for its reveal or its failure.
func runOnce(ctx context.Context, seq *sequencer.Sequencer) (sequencer.Display, error) {
	done := make(chan struct{})
	var once sync.Once
	seq.Observe(sequencer.ObserverFunc(func(d sequencer.Display) {
		if d.State == sequencer.Revealed.String() || (d.State == sequencer.Idle.String() && d.Error != "") {
			once.Do(func() { close(done) })
		}
	}))

	if err := seq.Start(); err != nil {
		return sequencer.Display{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		seq.Reset()
		return sequencer.Display{}, ctx.Err()
	}
	if err := seq.Err(); err != nil {
		return sequencer.Display{}, err
	}
	d := seq.Snapshot()
	if d.State != sequencer.Revealed.String() {
		return d, errors.New("attempt ended without a result")
	}
	return d, nil
}

// webPortFlag implements flag.Value for -web: -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
