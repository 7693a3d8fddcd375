package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/fault"
	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
)

// DefaultMaxFrameBytes caps POST /frame bodies.
const DefaultMaxFrameBytes = 8 << 20

// Controller is the sequencer as seen by the page.
type Controller interface {
	Start() error
	Reset()
	Snapshot() sequencer.Display
}

// FrameSink receives frames uploaded by the page.
type FrameSink interface {
	Push(r io.Reader) error
}

// SetupCameraFunc (re)arms the capture device. It is called from POST /camera.
type SetupCameraFunc func(ctx context.Context) error

// PageLabel is one entry of the result legend.
type PageLabel struct {
	Label   string `json:"label"`
	Display string `json:"display"`
	Image   string `json:"image,omitempty"`
}

// PageConfig holds what the page needs to drive the camera and render
// results (from config).
type PageConfig struct {
	Labels         []PageLabel `json:"labels"`
	UploadFrames   bool        `json:"upload_frames"`
	SizePx         int         `json:"size_px"`
	Mirror         bool        `json:"mirror"`
	FrameEveryMs   int         `json:"frame_every_ms"`
	PredictDelayMs int         `json:"predict_delay_ms"`
	LoadingMs      int         `json:"loading_ms"`
	LoadingFPS     int         `json:"loading_fps"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster   *StatusBroadcaster
	Hub           *DisplayHub
	Controller    Controller
	Frames        FrameSink
	SetupCamera   SetupCameraFunc
	Page          PageConfig
	MaxFrameBytes int64
	staticFS      fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If frames is nil, POST /frame returns 404; if setupCamera is nil,
// POST /camera returns 503.
func NewHandlers(broadcaster *StatusBroadcaster, hub *DisplayHub, ctrl Controller, frames FrameSink, setupCamera SetupCameraFunc, page PageConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:   broadcaster,
		Hub:           hub,
		Controller:    ctrl,
		Frames:        frames,
		SetupCamera:   setupCamera,
		Page:          page,
		MaxFrameBytes: DefaultMaxFrameBytes,
		staticFS:      staticFS,
	}
}

// errorBody is the JSON shape of every error answer.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: fault.Kind(err), Message: fault.UserMessage(err)})
}

// statusFor maps sequencer errors to HTTP status codes.
func statusFor(err error) int {
	switch fault.Kind(err) {
	case "busy":
		return http.StatusConflict
	case "not_ready", "capture":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleConfig returns the page configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Page)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleDetect handles POST /detect: the "begin" action.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.Controller.Start(); err != nil {
		debug.Live("Detect rejected: %v", err)
		writeFault(w, statusFor(err), err)
		return
	}
	snap := h.Controller.Snapshot()
	h.Broadcaster.Broadcast("info", "Detection started ("+snap.Attempt+")")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "attempt": snap.Attempt})
}

// HandleReset handles POST /reset and answers with the fresh display.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.Controller.Reset()
	h.Broadcaster.Broadcast("info", "Reset")
	writeJSON(w, http.StatusOK, h.Controller.Snapshot())
}

// HandleState returns the current display as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.Snapshot())
}

// HandleCamera handles POST /camera: re-arm the capture device, e.g. after
// the user granted camera permission.
func (h *Handlers) HandleCamera(w http.ResponseWriter, r *http.Request) {
	if h.SetupCamera == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.SetupCamera(ctx); err != nil {
		h.Broadcaster.Broadcast("error", "Camera setup failed: "+err.Error())
		writeFault(w, http.StatusServiceUnavailable, err)
		return
	}
	h.Broadcaster.Broadcast("info", "Camera ready")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleFrame handles POST /frame: one JPEG/PNG/WebP frame from the page.
func (h *Handlers) HandleFrame(w http.ResponseWriter, r *http.Request) {
	if h.Frames == nil {
		http.Error(w, "frame upload disabled", http.StatusNotFound)
		return
	}
	limit := h.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read frame", http.StatusBadRequest)
		return
	}

	if err := h.Frames.Push(bytes.NewReader(data)); err != nil {
		var notReady *fault.NotReadyError
		switch {
		case errors.As(err, &notReady):
			writeFault(w, http.StatusServiceUnavailable, err)
		default:
			writeFault(w, http.StatusBadRequest, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
