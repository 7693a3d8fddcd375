package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/fault"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
)

const maxResponseBytes = 1 << 20

// Options configures Load.
type Options struct {
	ModelURL    string        // model.json location; metadata is looked up next to it
	MetadataURL string        // overrides the derived metadata location
	Endpoint    string        // inference endpoint accepting image/jpeg
	Timeout     time.Duration // per-request timeout
	JPEGQuality int           // 0 = 85
	Client      *http.Client  // nil = a client with Timeout
}

// Handle is a loaded remote classifier.
type Handle struct {
	meta     *Metadata
	endpoint string
	quality  int
	client   *http.Client
}

// Load fetches the model metadata (when a model location is configured)
// and returns a handle bound to the inference endpoint.
func Load(ctx context.Context, opts Options) (*Handle, error) {
	if opts.Endpoint == "" {
		return nil, &fault.ClassifierError{Op: "load", Err: errors.New("no inference endpoint configured")}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	h := &Handle{
		endpoint: opts.Endpoint,
		quality:  opts.JPEGQuality,
		client:   client,
	}
	if h.quality <= 0 || h.quality > 100 {
		h.quality = 85
	}

	metaURL := opts.MetadataURL
	if metaURL == "" && opts.ModelURL != "" {
		metaURL = MetadataURL(opts.ModelURL)
	}
	if metaURL != "" {
		debug.Verbose("Loading model metadata from %s", metaURL)
		md, err := LoadMetadata(ctx, client, metaURL)
		if err != nil {
			return nil, err
		}
		h.meta = md
		debug.Info("Model %q loaded: %d labels, image size %d", md.ModelName, len(md.Labels), md.ImageSize)
	}
	return h, nil
}

// Labels returns the label set the model can emit, if metadata was loaded.
func (h *Handle) Labels() []string {
	if h.meta == nil {
		return nil
	}
	out := make([]string, len(h.meta.Labels))
	copy(out, h.meta.Labels)
	return out
}

// Metadata returns the loaded metadata or nil.
func (h *Handle) Metadata() *Metadata { return h.meta }

// Predict posts f as JPEG to the endpoint and parses the ranked result.
func (h *Handle) Predict(ctx context.Context, f webcam.Frame) ([]Prediction, error) {
	body, err := f.EncodeJPEG(h.quality)
	if err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &fault.ClassifierError{Op: "predict", Err: fmt.Errorf("endpoint returned %s", resp.Status)}
	}
	preds, err := ParsePredictions(data)
	if err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	debug.Verbose("Classifier answered %d predictions in %v", len(preds), time.Since(start))
	return preds, nil
}

// ParsePredictions accepts either a bare JSON array or an object with a
// "predictions" array. Entries use className|label and
// probability|confidence|score keys; confidences are clamped to [0,1].
// Entries without a label are skipped.
func ParsePredictions(data []byte) ([]Prediction, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON response")
	}
	root := gjson.ParseBytes(data)
	list := root
	if root.IsObject() {
		list = root.Get("predictions")
	}
	if !list.IsArray() {
		return nil, errors.New("response has no prediction list")
	}

	var out []Prediction
	list.ForEach(func(_, v gjson.Result) bool {
		label := firstOf(v, "className", "label", "class").String()
		if label == "" {
			return true
		}
		out = append(out, Prediction{
			Label:      label,
			Confidence: clamp(firstOf(v, "probability", "confidence", "score").Float()),
		})
		return true
	})
	return out, nil
}

func firstOf(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
