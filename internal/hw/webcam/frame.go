package webcam

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Frame is a single prepared image sample handed to the classifier.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Source     string // "upload", "file", ...
}

// Constraints describes how raw images become frames.
type Constraints struct {
	SizePx int           // square edge; 0 keeps the cropped size
	Mirror bool          // flip horizontally (selfie view)
	MaxAge time.Duration // frames older than this are refused; 0 = no limit
}

// MaxEdge bounds the width and height of a decoded image.
const MaxEdge = 4096

// ErrTooLarge is returned by Decode for images wider or taller than MaxEdge.
var ErrTooLarge = errors.New("image dimensions too large")

// Decode reads a JPEG, PNG, GIF or WebP image. The header is checked
// against MaxEdge before any pixel is decoded.
func Decode(r io.Reader) (image.Image, string, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		rs = bytes.NewReader(data)
	}
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, "", fmt.Errorf("seek image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(rs)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width > MaxEdge || cfg.Height > MaxEdge {
		return nil, "", fmt.Errorf("decode image: %dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, "", fmt.Errorf("seek image: %w", err)
	}
	img, format, err := image.Decode(rs)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Prepare center-crops img to a square, scales it to c.SizePx and
// optionally mirrors it. The result is always a fresh *image.RGBA.
func Prepare(img image.Image, c Constraints) *image.RGBA {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	crop := image.Rect(0, 0, side, side).Add(image.Pt(
		b.Min.X+(b.Dx()-side)/2,
		b.Min.Y+(b.Dy()-side)/2,
	))

	size := c.SizePx
	if size <= 0 {
		size = side
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if size == side {
		draw.Draw(dst, dst.Bounds(), img, crop.Min, draw.Src)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, crop, xdraw.Src, nil)
	}
	if c.Mirror {
		mirror(dst)
	}
	return dst
}

// mirror flips m horizontally in place.
func mirror(m *image.RGBA) {
	w := m.Rect.Dx()
	for y := 0; y < m.Rect.Dy(); y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			lp, rp := row[l*4:l*4+4], row[r*4:r*4+4]
			for i := 0; i < 4; i++ {
				lp[i], rp[i] = rp[i], lp[i]
			}
		}
	}
}

// EncodeJPEG serializes the frame for transport to a remote classifier.
func (f Frame) EncodeJPEG(quality int) ([]byte, error) {
	if f.Image == nil {
		return nil, fmt.Errorf("encode frame: empty image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
