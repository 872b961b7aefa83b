package gstreamer

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/source"
)

// Session is one running pipeline. Read and Seek must be called from a
// single goroutine; Close may be called from any.
type Session struct {
	desc     source.Descriptor
	pipeline *gst.Pipeline
	sink     *app.Sink
	info     capture.MediaInfo

	// first frame pulled during Open, returned by the first Read
	pending *frame.RGB

	closeOnce sync.Once
}

func (s *Session) Info() capture.MediaInfo { return s.info }

// Read pulls the next sample from the appsink.
func (s *Session) Read(timeout time.Duration) (*frame.RGB, error) {
	if s.pending != nil {
		img := s.pending
		s.pending = nil
		return img, nil
	}

	sample := s.sink.TryPullSample(timeout)
	if sample == nil {
		if s.sink.IsEOS() {
			return nil, capture.ErrEndOfStream
		}
		if err := s.busError(); err != nil {
			return nil, &capture.ReadError{Cause: err}
		}
		return nil, capture.ErrNoFrame
	}
	return s.convert(sample)
}

// Seek performs an accurate flushing seek to frame index.
func (s *Session) Seek(index int64) error {
	if s.info.FPS <= 0 {
		return fmt.Errorf("gstreamer: frame rate unknown, cannot seek")
	}
	ns := int64(float64(index) / s.info.FPS * float64(time.Second))
	if !s.pipeline.SeekSimple(ns, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagAccurate) {
		return fmt.Errorf("gstreamer: seek to %s rejected", time.Duration(ns))
	}
	s.pending = nil
	return nil
}

// Close stops the pipeline. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.teardown()
	})
	return err
}

func (s *Session) teardown() error {
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer: failed to stop pipeline: %w", err)
	}
	slog.Debug("gstreamer: pipeline stopped", "source", s.desc.String())
	return nil
}

// busError drains pending bus messages and returns the first error, if any.
func (s *Session) busError() error {
	bus := s.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		if msg.Type() != gst.MessageError {
			continue
		}
		gerr := msg.ParseError()
		category := ClassifyError(gerr)
		slog.Error("gstreamer: pipeline error",
			"error", gerr.Error(),
			"debug", gerr.DebugString(),
			"category", category.String(),
			"source", s.desc.String(),
		)
		return fmt.Errorf("gstreamer: pipeline error [%s]: %s", category, gerr.Error())
	}
}

// convert copies the sample's pixels into a frame image. GStreamer reuses
// the buffer, so the copy is required.
func (s *Session) convert(sample *gst.Sample) (*frame.RGB, error) {
	if caps := sample.GetCaps(); caps != nil && s.info.Width == 0 {
		w, h, fps := parseCaps(caps.String())
		s.info.Width, s.info.Height, s.info.FPS = w, h, fps
	}
	if s.info.Width <= 0 || s.info.Height <= 0 {
		return nil, fmt.Errorf("gstreamer: frame size unknown")
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, &capture.ReadError{Cause: capture.ErrNoFrame}
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, &capture.ReadError{Cause: fmt.Errorf("map buffer failed")}
	}
	defer buffer.Unmap()
	data := mapInfo.Bytes()

	// RGB rows are padded to 4-byte boundaries.
	stride := 0
	if s.info.Height > 0 {
		stride = len(data) / s.info.Height
	}
	if stride < 3*s.info.Width {
		return nil, &capture.ReadError{Cause: fmt.Errorf("short buffer: %d bytes for %dx%d", len(data), s.info.Width, s.info.Height)}
	}

	pix := make([]byte, stride*s.info.Height)
	copy(pix, data)
	return &frame.RGB{
		Pix:    pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
	}, nil
}
