package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKind(t *testing.T) {
	cause := errors.New("permission denied")
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"busy", ErrBusy, "busy"},
		{"busy_wrapped", fmt.Errorf("start: %w", ErrBusy), "busy"},
		{"capture", &CaptureError{Op: "setup", Err: cause}, "capture"},
		{"not_ready", &NotReadyError{Component: "classifier"}, "not_ready"},
		{"not_ready_wrapping_capture", &NotReadyError{Component: "capture", Err: &CaptureError{Op: "setup", Err: cause}}, "capture"},
		{"no_prediction", &NoPredictionError{}, "no_prediction"},
		{"classifier", &ClassifierError{Op: "predict", Err: cause}, "classifier"},
		{"other", cause, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorStrings(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		err  error
		want string
	}{
		{&NotReadyError{Component: "capture"}, "capture not ready"},
		{&NotReadyError{Component: "classifier", Err: cause}, "classifier not ready: boom"},
		{&CaptureError{Op: "frame", Err: cause}, "capture frame: boom"},
		{&ClassifierError{Op: "load", Err: cause}, "classifier load: boom"},
		{&NoPredictionError{}, "classifier returned no predictions"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := fmt.Errorf("outer: %w", &NotReadyError{Component: "capture", Err: &CaptureError{Op: "setup", Err: cause}})
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the root cause")
	}
	var ce *CaptureError
	if !errors.As(err, &ce) || ce.Op != "setup" {
		t.Errorf("errors.As CaptureError = %v", ce)
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(nil); msg != "" {
		t.Errorf("UserMessage(nil) = %q", msg)
	}
	cl := UserMessage(&NotReadyError{Component: "classifier"})
	cam := UserMessage(&NotReadyError{Component: "capture"})
	if cl == "" || cam == "" || cl == cam {
		t.Errorf("not ready messages should differ per component: %q / %q", cl, cam)
	}
	if msg := UserMessage(&CaptureError{Op: "setup", Err: errors.New("x")}); !strings.Contains(msg, "권한") {
		t.Errorf("capture message should mention permissions, got %q", msg)
	}
	if msg := UserMessage(errors.New("disk on fire")); !strings.Contains(msg, "disk on fire") {
		t.Errorf("internal message should carry the error, got %q", msg)
	}
}
