package inference

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/e7canasta/orion-inspect/frame"
)

// Caption baselines. The FPS caption owned by the pipeline sits on the first line.
const (
	CaptionX     = 10
	FPSCaptionY  = 30
	InfoCaptionY = 60

	maxErrorCaption = 80
)

// Annotated is the stage output for one frame.
type Annotated struct {
	Frame      *frame.Frame
	Detections []Detection
	Err        error // *InferenceError when the model failed
}

// Stage applies a Model to frames.
type Stage struct {
	model Model
}

// NewStage returns a Stage around m.
func NewStage(m Model) *Stage {
	return &Stage{model: m}
}

// Annotate runs the model on f. It never returns an error: on failure or
// panic the original frame is returned with a red error caption and
// Annotated.Err set. The input frame is never modified.
func (s *Stage) Annotate(ctx context.Context, f *frame.Frame, confidence float64) Annotated {
	res, err := s.predict(ctx, f.Image, confidence)
	if err != nil {
		slog.Warn("inference: predict failed, passing frame through",
			"seq", f.Seq,
			"trace_id", f.TraceID,
			"error", err,
		)
		out := f.Image.Clone()
		frame.DrawText(out, CaptionX, InfoCaptionY, errorCaption(err), frame.Red)
		return Annotated{Frame: f.WithImage(out), Err: &InferenceError{Cause: err}}
	}

	var out *frame.RGB
	if res.Annotated != nil && res.Annotated.Rect == f.Image.Rect {
		out = res.Annotated.Clone()
	} else {
		out = f.Image.Clone()
		DrawDetections(out, res.Detections)
	}
	frame.DrawText(out, CaptionX, InfoCaptionY, fmt.Sprintf("detections: %d", len(res.Detections)), frame.Green)

	return Annotated{Frame: f.WithImage(out), Detections: res.Detections}
}

func (s *Stage) predict(ctx context.Context, img *frame.RGB, confidence float64) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("model panicked: %v", r)
		}
	}()
	if s.model == nil {
		return nil, fmt.Errorf("no model loaded")
	}
	// The model gets its own copy so it cannot alter the caller's frame.
	res, err = s.model.Predict(ctx, img.Clone(), confidence)
	if err == nil && res == nil {
		res = &Result{}
	}
	return res, err
}

func errorCaption(err error) string {
	msg := "inference error: " + err.Error()
	if utf8.RuneCountInString(msg) > maxErrorCaption {
		msg = string([]rune(msg)[:maxErrorCaption-3]) + "..."
	}
	return msg
}

// DrawDetections outlines each detection and labels it with class and score.
func DrawDetections(img *frame.RGB, dets []Detection) {
	for _, d := range dets {
		frame.DrawRect(img, d.Box, frame.Green, 2)
		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		y := d.Box.Min.Y - 4
		if y < 12 {
			y = d.Box.Min.Y + 14
		}
		frame.DrawText(img, d.Box.Min.X+2, y, label, frame.Green)
	}
}
