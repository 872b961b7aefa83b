// Package inference runs the detection model on frames and overlays the
// results. Model failures never stop the pipeline: the stage falls back to
// the original frame with an error caption.
package inference

import (
	"context"
	"fmt"
	"image"

	"github.com/e7canasta/orion-inspect/frame"
)

// DefaultImageSize is the square input size the model is run at.
const DefaultImageSize = 640

// Detection is one detected object in frame pixel coordinates.
type Detection struct {
	Class      string          `json:"class" msgpack:"class"`
	Confidence float64         `json:"confidence" msgpack:"confidence"`
	Box        image.Rectangle `json:"box" msgpack:"-"`
}

// Result is the model output for one frame. Annotated may be nil, in which
// case the stage draws the boxes itself.
type Result struct {
	Detections []Detection
	Annotated  *frame.RGB
}

// Model is the black-box detector.
type Model interface {
	Predict(ctx context.Context, img *frame.RGB, confidence float64) (*Result, error)
}

// Loader builds a Model from a weights path.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (Model, error) { return f(ctx, path) }

// InferenceError wraps a failed or panicking Predict call.
type InferenceError struct {
	Cause error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Cause)
}

func (e *InferenceError) Unwrap() error { return e.Cause }
