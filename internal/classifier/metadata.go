package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cjeanneret/AnimalFace/internal/fault"
)

const maxMetadataBytes = 1 << 20

// Metadata is the subset of a Teachable Machine metadata.json we use.
type Metadata struct {
	ModelName   string   `json:"modelName"`
	Labels      []string `json:"labels"`
	ImageSize   int      `json:"imageSize"`
	TMVersion   string   `json:"tmVersion"`
	PackageName string   `json:"packageName"`
}

// MetadataURL derives the metadata location from a model.json location.
// Locations not ending in model.json get metadata.json appended as a sibling.
func MetadataURL(modelURL string) string {
	if strings.HasSuffix(modelURL, "model.json") {
		return strings.TrimSuffix(modelURL, "model.json") + "metadata.json"
	}
	return strings.TrimSuffix(modelURL, "/") + "/metadata.json"
}

// LoadMetadata reads metadata from an http(s) URL or a local path.
func LoadMetadata(ctx context.Context, client *http.Client, location string) (*Metadata, error) {
	rc, err := open(ctx, client, location)
	if err != nil {
		return nil, &fault.ClassifierError{Op: "load", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxMetadataBytes+1))
	if err != nil {
		return nil, &fault.ClassifierError{Op: "load", Err: err}
	}
	if len(data) > maxMetadataBytes {
		return nil, &fault.ClassifierError{Op: "load", Err: fmt.Errorf("metadata exceeds %d bytes", maxMetadataBytes)}
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &fault.ClassifierError{Op: "load", Err: fmt.Errorf("parse metadata: %w", err)}
	}
	if len(md.Labels) == 0 {
		return nil, &fault.ClassifierError{Op: "load", Err: fmt.Errorf("metadata lists no labels")}
	}
	return &md, nil
}

func open(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return os.Open(strings.TrimPrefix(location, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", location, resp.Status)
	}
	return resp.Body, nil
}
