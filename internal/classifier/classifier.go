package classifier

import (
	"context"

	"github.com/cjeanneret/AnimalFace/internal/fault"
	"github.com/cjeanneret/AnimalFace/internal/hw/webcam"
)

// Prediction is one (label, confidence) entry of a classification result.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier is the predict half of the collaborator contract.
type Classifier interface {
	Predict(ctx context.Context, f webcam.Frame) ([]Prediction, error)
}

// Top returns the entry with the strictly highest confidence.
// Ties keep the earliest entry. An empty list is a *fault.NoPredictionError.
func Top(preds []Prediction) (Prediction, error) {
	if len(preds) == 0 {
		return Prediction{}, &fault.NoPredictionError{}
	}
	best := preds[0]
	for _, p := range preds[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, nil
}

// ClassifyTop runs c on f and returns the decided prediction.
func ClassifyTop(ctx context.Context, c Classifier, f webcam.Frame) (Prediction, error) {
	preds, err := c.Predict(ctx, f)
	if err != nil {
		return Prediction{}, err
	}
	return Top(preds)
}

// Static always answers with the same result. It serves offline demos
// and mock mode.
type Static struct {
	Result []Prediction
}

func (s *Static) Predict(ctx context.Context, _ webcam.Frame) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fault.ClassifierError{Op: "predict", Err: err}
	}
	out := make([]Prediction, len(s.Result))
	copy(out, s.Result)
	return out, nil
}
