package labels

import (
	"path"
	"strings"
)

// Asset is the themed presentation of one classifier label.
type Asset struct {
	Label   string `json:"label"`
	Display string `json:"display"`
	Image   string `json:"image,omitempty"` // file name relative to the images directory
}

// Assets is the read-only label -> presentation table.
// Order is preserved from configuration; it drives the loading carousel.
type Assets struct {
	order []string
	byKey map[string]Asset
}

// New builds the table. Later duplicates of a label replace earlier ones
// but keep the first position.
func New(list []Asset) *Assets {
	a := &Assets{byKey: make(map[string]Asset, len(list))}
	for _, it := range list {
		if it.Label == "" {
			continue
		}
		if _, seen := a.byKey[it.Label]; !seen {
			a.order = append(a.order, it.Label)
		}
		a.byKey[it.Label] = it
	}
	return a
}

// Lookup returns the asset for label. Unknown labels fall back to the raw
// label text with no image.
func (a *Assets) Lookup(label string) Asset {
	if it, ok := a.byKey[label]; ok {
		if it.Display == "" {
			it.Display = it.Label
		}
		return it
	}
	return Asset{Label: label, Display: label}
}

// Has reports whether label has a configured entry.
func (a *Assets) Has(label string) bool {
	_, ok := a.byKey[label]
	return ok
}

// Keys returns the known labels in configuration order.
func (a *Assets) Keys() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// All returns every configured asset in configuration order.
func (a *Assets) All() []Asset {
	out := make([]Asset, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.Lookup(k))
	}
	return out
}

// Len returns the number of configured labels.
func (a *Assets) Len() int { return len(a.order) }

// Missing returns the labels in want that have no configured entry.
func (a *Assets) Missing(want []string) []string {
	var out []string
	for _, l := range want {
		if !a.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// ImageURL joins the asset image onto a URL prefix such as "/images".
// Assets without an image return "".
func ImageURL(prefix string, it Asset) string {
	if it.Image == "" {
		return ""
	}
	return path.Join("/", strings.Trim(prefix, "/"), it.Image)
}
