package fault

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by Start while an attempt is already in flight.
// The rejected call has no effect.
var ErrBusy = errors.New("detection already in progress")

// NotReadyError reports that a collaborator is not initialized yet.
type NotReadyError struct {
	Component string // "classifier" or "capture"
	Err       error  // cause, if initialization was attempted and failed
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not ready: %v", e.Component, e.Err)
	}
	return e.Component + " not ready"
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// CaptureError reports a capture device, permission or frame failure.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ClassifierError reports a model load or predict failure.
type ClassifierError struct {
	Op  string
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier %s: %v", e.Op, e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// NoPredictionError reports an empty classification result.
type NoPredictionError struct{}

func (e *NoPredictionError) Error() string { return "classifier returned no predictions" }

// Kind returns a stable identifier for err, used in JSON payloads.
func Kind(err error) string {
	var (
		notReady *NotReadyError
		capture  *CaptureError
		classify *ClassifierError
		noPred   *NoPredictionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &capture):
		return "capture"
	case errors.As(err, &notReady):
		return "not_ready"
	case errors.As(err, &noPred):
		return "no_prediction"
	case errors.As(err, &classify):
		return "classifier"
	default:
		return "internal"
	}
}

// UserMessage turns err into the short status line shown on the page.
// The caller adds its own error prefix.
func UserMessage(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case "busy":
		return "이미 분석 중입니다"
	case "capture":
		return "카메라 접근 실패: 브라우저/OS 권한을 확인하세요."
	case "not_ready":
		var nr *NotReadyError
		errors.As(err, &nr)
		if nr.Component == "classifier" {
			return "모델이 아직 준비되지 않았습니다"
		}
		return "카메라가 아직 준비되지 않았습니다"
	case "no_prediction":
		return "예측 실패"
	case "classifier":
		return "분석 중 오류가 발생했습니다"
	default:
		return err.Error()
	}
}
