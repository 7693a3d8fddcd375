package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// Options holds the server dependencies.
type Options struct {
	Broadcaster     *StatusBroadcaster
	Hub             *DisplayHub
	Controller      Controller
	Frames          FrameSink       // nil when frames come from elsewhere
	SetupCamera     SetupCameraFunc // nil disables POST /camera
	Page            PageConfig
	ImagesDir       string // served under /images/, empty = not served
	DetectPerMinute int    // per client IP, 0 = unlimited
	FramesPerMinute int    // per client IP, 0 = unlimited
	MaxFrameBytes   int64
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr            string
	handlers        *Handlers
	imagesDir       string
	detectPerMinute int
	framesPerMinute int
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, opts Options) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	return newServer(addr, opts, subFS)
}

func newServer(addr string, opts Options, staticFS fs.FS) *Server {
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewStatusBroadcaster()
	}
	if opts.Hub == nil {
		opts.Hub = NewDisplayHub()
	}
	handlers := NewHandlers(opts.Broadcaster, opts.Hub, opts.Controller, opts.Frames, opts.SetupCamera, opts.Page, staticFS)
	if opts.MaxFrameBytes > 0 {
		handlers.MaxFrameBytes = opts.MaxFrameBytes
	}
	return &Server{
		addr:            addr,
		handlers:        handlers,
		imagesDir:       opts.ImagesDir,
		detectPerMinute: opts.DetectPerMinute,
		framesPerMinute: opts.FramesPerMinute,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /detect", perIP(s.detectPerMinute, s.handlers.HandleDetect))
	mux.HandleFunc("POST /reset", s.handlers.HandleReset)
	mux.HandleFunc("POST /camera", s.handlers.HandleCamera)
	mux.Handle("POST /frame", perIP(s.framesPerMinute, s.handlers.HandleFrame))
	mux.HandleFunc("GET /state", s.handlers.HandleState)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /ws", s.handlers.Hub.HandleWS)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	if s.imagesDir != "" {
		mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.imagesDir))))
	}
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// perIP limits h to n requests per minute per client IP. n <= 0 disables the limit.
func perIP(n int, h http.HandlerFunc) http.Handler {
	if n <= 0 {
		return h
	}
	return httprate.Limit(n, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))(h)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
