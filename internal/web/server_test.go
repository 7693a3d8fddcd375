package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/AnimalFace/internal/classifier"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
	"github.com/cjeanneret/AnimalFace/internal/labels"
	"github.com/cjeanneret/AnimalFace/internal/logic/sequencer"
)

func testStaticFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>animal face</html>")},
		"app.js":     &fstest.MapFile{Data: []byte("// app")},
	}
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	s := newServer("127.0.0.1:0", opts, testStaticFS())
	srv := httptest.NewServer(s.Mux())
	t.Cleanup(srv.Close)
	return srv
}

func TestMux_Routes(t *testing.T) {
	imagesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "여우상.png"), []byte("png"), 0o644))

	srv := newTestServer(t, Options{
		Controller: &fakeController{display: sequencer.Display{State: "idle"}},
		Page:       testPage(),
		ImagesDir:  imagesDir,
	})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/state", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/static/app.js", http.StatusOK},
		{http.MethodGet, "/images/여우상.png", http.StatusOK},
		{http.MethodGet, "/images/곰상.png", http.StatusNotFound},
		{http.MethodGet, "/detect", http.StatusMethodNotAllowed},
		{http.MethodPost, "/reset", http.StatusOK},
		{http.MethodPost, "/frame", http.StatusNotFound}, // upload disabled
		{http.MethodPost, "/camera", http.StatusServiceUnavailable},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestMux_DetectRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{
		Controller:      &fakeController{},
		DetectPerMinute: 2,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/detect", "", nil)
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
}

func TestMux_FrameRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{
		Controller:      &fakeController{},
		Frames:          &fakeSink{},
		FramesPerMinute: 2,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/frame", "image/jpeg", bytes.NewReader([]byte("jpeg")))
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestMux_FrameRejectsOversizedImage(t *testing.T) {
	dev := webcam.NewUploadDevice()
	require.NoError(t, dev.Setup(context.Background(), webcam.Constraints{SizePx: 32}))
	srv := newTestServer(t, Options{Controller: &fakeController{}, Frames: dev})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, webcam.MaxEdge+1, 1))))
	resp, err := http.Post(srv.URL+"/frame", "image/png", &buf)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = dev.Frame(context.Background())
	require.Error(t, err)
}

func pngFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// End to end: camera armed, a frame uploaded, detect, reveal observed
// over HTTP.
func TestServer_DetectCycle(t *testing.T) {
	dev := webcam.NewUploadDevice()
	assets := labels.New([]labels.Asset{
		{Label: "강아지상", Display: "강아지형", Image: "강아지상.png"},
		{Label: "고양이상", Display: "고양이형", Image: "고양이상.png"},
	})
	seq := sequencer.New(sequencer.Options{
		Camera:      dev,
		Assets:      assets,
		ImagePrefix: "/images",
		Timing: sequencer.Timing{
			PredictDelay:    5 * time.Millisecond,
			LoadingDuration: 20 * time.Millisecond,
			RefreshInterval: 5 * time.Millisecond,
			ClassifyTimeout: time.Second,
		},
		Messages: sequencer.Messages{Idle: "대기 중", NoResult: "아직 결과 없음", Done: "완료"},
	})
	seq.UseClassifier(&classifier.Static{Result: []classifier.Prediction{
		{Label: "강아지상", Confidence: 0.9},
		{Label: "고양이상", Confidence: 0.1},
	}})
	hub := NewDisplayHub()
	seq.Observe(hub)

	srv := newTestServer(t, Options{
		Hub:        hub,
		Controller: seq,
		Frames:     dev,
		SetupCamera: func(ctx context.Context) error {
			return dev.Setup(ctx, webcam.Constraints{SizePx: 32, Mirror: true, MaxAge: time.Minute})
		},
	})

	post := func(path string, body []byte) int {
		resp, err := http.Post(srv.URL+path, "image/png", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// Not armed yet.
	require.Equal(t, http.StatusServiceUnavailable, post("/frame", pngFrame(t)))
	require.Equal(t, http.StatusServiceUnavailable, post("/detect", nil))

	require.Equal(t, http.StatusOK, post("/camera", nil))
	// Armed: garbage is rejected, a real frame is kept.
	require.Equal(t, http.StatusBadRequest, post("/frame", []byte("not an image")))
	require.Equal(t, http.StatusNoContent, post("/frame", pngFrame(t)))
	require.Equal(t, http.StatusAccepted, post("/detect", nil))

	var d sequencer.Display
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return false
		}
		return d.State == "revealed"
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, "강아지형", d.Text)
	require.Equal(t, "/images/강아지상.png", d.Image)
	require.Equal(t, "완료", d.Status)
	require.False(t, d.Busy)

	require.Equal(t, http.StatusOK, post("/reset", nil))
	require.Equal(t, sequencer.Idle, seq.State())
}
