package session

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/inference"
	"github.com/e7canasta/orion-inspect/pipeline"
)

// AnalyzeImage runs the loaded model once on the still image at path and
// publishes the annotated result to the preview buffer. It returns the
// number of detections.
//
// A running session owns the preview buffer, so stills are refused until it
// is stopped.
func (s *Service) AnalyzeImage(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	m := s.model
	s.mu.Unlock()
	if m == nil {
		s.setStatus("load a model first")
		return 0, pipeline.ErrNoModel
	}
	if s.cfg.Pipeline.Snapshot().Running {
		s.setStatus("stop the running source before analyzing an image")
		return 0, pipeline.ErrAlreadyRunning
	}

	img, err := decodeImage(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.setStatus(fmt.Sprintf("image not found: %s", path))
		} else {
			s.setStatus(fmt.Sprintf("failed to load image: %v", err))
		}
		return 0, fmt.Errorf("session: image %s: %w", path, err)
	}

	f := &frame.Frame{
		Image:      frame.Convert(img),
		Position:   frame.NoPosition,
		CapturedAt: time.Now(),
		TraceID:    uuid.NewString(),
	}
	out := inference.NewStage(m).Annotate(ctx, f, s.cfg.Live.Confidence())
	s.cfg.Pipeline.Buffer().Publish(out.Frame)

	if out.Err != nil {
		s.setStatus(fmt.Sprintf("analysis failed: %v", out.Err))
		return 0, out.Err
	}
	s.setStatus(fmt.Sprintf("analysis complete: %d detections in %s", len(out.Detections), filepath.Base(path)))
	return len(out.Detections), nil
}

func decodeImage(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}
