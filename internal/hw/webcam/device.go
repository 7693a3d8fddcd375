package webcam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/AnimalFace/internal/debug"
	"github.com/cjeanneret/AnimalFace/internal/fault"
)

// Device is the capture device collaborator.
// It represents an abstract "webcam", regardless of where frames come from
// (browser uploads, a snapshot file written by a grabber, etc.).
type Device interface {
	// Setup arms the device with the given constraints.
	// Failures are *fault.CaptureError.
	Setup(ctx context.Context, c Constraints) error
	// Ready returns nil once Setup succeeded, otherwise a *fault.NotReadyError
	// wrapping the setup failure, if any.
	Ready() error
	// Frame returns a snapshot of the current image.
	Frame(ctx context.Context) (Frame, error)
	Close() error
}

var (
	errNoFrame    = errors.New("no frame received yet")
	errStaleFrame = errors.New("latest frame is too old")
)

// readiness tracks the Setup outcome shared by the device implementations.
type readiness struct {
	mu          sync.RWMutex
	constraints Constraints
	armed       bool
	setupErr    error
}

func (r *readiness) arm(c Constraints, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setupErr = err
	r.armed = err == nil
	if err == nil {
		r.constraints = c
	}
}

func (r *readiness) Ready() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.armed {
		return nil
	}
	return &fault.NotReadyError{Component: "capture", Err: r.setupErr}
}

func (r *readiness) current() (Constraints, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.armed {
		return Constraints{}, &fault.NotReadyError{Component: "capture", Err: r.setupErr}
	}
	return r.constraints, nil
}

func validate(c Constraints) error {
	if c.SizePx < 0 || c.SizePx > 4096 {
		return fmt.Errorf("frame size %d out of range", c.SizePx)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("negative max frame age")
	}
	return nil
}

// UploadDevice receives frames pushed by the browser page, which owns the
// actual camera. Frame returns the latest pushed frame.
type UploadDevice struct {
	readiness
	now func() time.Time

	frameMu sync.RWMutex
	latest  *Frame
}

// NewUploadDevice creates an unarmed upload device.
func NewUploadDevice() *UploadDevice {
	return &UploadDevice{now: time.Now}
}

func (d *UploadDevice) Setup(_ context.Context, c Constraints) error {
	if err := validate(c); err != nil {
		err = &fault.CaptureError{Op: "setup", Err: err}
		d.arm(c, err)
		return err
	}
	d.arm(c, nil)
	debug.Live("Upload capture armed (size=%d mirror=%v)", c.SizePx, c.Mirror)
	return nil
}

// Push decodes an uploaded image and stores it as the latest frame.
func (d *UploadDevice) Push(r io.Reader) error {
	c, err := d.current()
	if err != nil {
		return err
	}
	img, format, err := Decode(r)
	if err != nil {
		return &fault.CaptureError{Op: "push", Err: err}
	}
	f := &Frame{
		Image:      Prepare(img, c),
		CapturedAt: d.now(),
		Source:     "upload/" + format,
	}
	d.frameMu.Lock()
	d.latest = f
	d.frameMu.Unlock()
	b := img.Bounds()
	debug.Frame(f.Source, b.Dx(), b.Dy())
	return nil
}

func (d *UploadDevice) Frame(_ context.Context) (Frame, error) {
	c, err := d.current()
	if err != nil {
		return Frame{}, err
	}
	d.frameMu.RLock()
	f := d.latest
	d.frameMu.RUnlock()
	if f == nil {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: errNoFrame}
	}
	if c.MaxAge > 0 && d.now().Sub(f.CapturedAt) > c.MaxAge {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: errStaleFrame}
	}
	return *f, nil
}

func (d *UploadDevice) Close() error {
	d.frameMu.Lock()
	d.latest = nil
	d.frameMu.Unlock()
	d.arm(Constraints{}, errors.New("closed"))
	return nil
}

// FileDevice reads a snapshot image that an external grabber keeps
// overwriting (e.g. /dev/shm/frame.jpg).
type FileDevice struct {
	readiness
	path string
	now  func() time.Time
}

// NewFileDevice creates an unarmed file device reading path.
func NewFileDevice(path string) *FileDevice {
	return &FileDevice{path: path, now: time.Now}
}

func (d *FileDevice) Setup(_ context.Context, c Constraints) error {
	err := validate(c)
	if err == nil {
		_, err = os.Stat(d.path)
	}
	if err != nil {
		err = &fault.CaptureError{Op: "setup", Err: err}
		d.arm(c, err)
		return err
	}
	d.arm(c, nil)
	debug.Live("File capture armed (%s)", d.path)
	return nil
}

func (d *FileDevice) Frame(ctx context.Context) (Frame, error) {
	c, err := d.current()
	if err != nil {
		return Frame{}, err
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: err}
	}
	st, err := os.Stat(d.path)
	if err != nil {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: err}
	}
	if c.MaxAge > 0 && d.now().Sub(st.ModTime()) > c.MaxAge {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: errStaleFrame}
	}
	f, err := os.Open(d.path)
	if err != nil {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: err}
	}
	defer f.Close()
	img, format, err := Decode(f)
	if err != nil {
		return Frame{}, &fault.CaptureError{Op: "frame", Err: err}
	}
	b := img.Bounds()
	debug.Frame("file/"+format, b.Dx(), b.Dy())
	return Frame{Image: Prepare(img, c), CapturedAt: st.ModTime(), Source: "file/" + format}, nil
}

func (d *FileDevice) Close() error {
	d.arm(Constraints{}, errors.New("closed"))
	return nil
}
