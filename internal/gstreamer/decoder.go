// Package gstreamer implements capture.Decoder on top of go-gst.
//
// Each session is a parse-launch pipeline ending in an RGB appsink. Frames
// are pulled synchronously by the pipeline producer goroutine, which keeps
// read, seek and release on a single owner.
package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/source"
)

// DefaultDeviceTemplate opens a V4L2 camera; {index} is replaced by the device number.
const DefaultDeviceTemplate = "v4l2src device=/dev/video{index}"

// Config tunes the decoder.
type Config struct {
	// OpenTimeout bounds how long Open waits for the first frame (default: 10s).
	OpenTimeout time.Duration
	// DeviceTemplate overrides the camera source element.
	DeviceTemplate string
}

// DefaultConfig returns decoder defaults.
func DefaultConfig() Config {
	return Config{
		OpenTimeout:    10 * time.Second,
		DeviceTemplate: DefaultDeviceTemplate,
	}
}

// Decoder opens GStreamer sessions.
type Decoder struct {
	cfg Config
}

var initOnce sync.Once

// NewDecoder initializes GStreamer (once per process) and returns a Decoder.
func NewDecoder(cfg Config) *Decoder {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	if cfg.DeviceTemplate == "" {
		cfg.DeviceTemplate = DefaultDeviceTemplate
	}
	initOnce.Do(func() { gst.Init(nil) })
	return &Decoder{cfg: cfg}
}

// Open builds and starts the pipeline for desc, waiting for the first
// decoded frame so that caps (size, rate) are known.
func (d *Decoder) Open(ctx context.Context, desc source.Descriptor) (capture.Session, error) {
	launch, err := BuildLaunch(desc, d.cfg.DeviceTemplate)
	if err != nil {
		return nil, err
	}

	slog.Debug("gstreamer: building pipeline", "launch", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: parse pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: appsink not found: %w", err)
	}

	s := &Session{
		desc:     desc,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		berr := s.busError()
		s.teardown()
		if berr != nil {
			return nil, berr
		}
		return nil, fmt.Errorf("gstreamer: failed to start pipeline: %w", err)
	}

	if err := s.preroll(ctx, d.cfg.OpenTimeout); err != nil {
		s.teardown()
		return nil, err
	}

	if desc.Kind == source.KindFile {
		s.info.TotalFrames = s.queryTotalFrames()
	}

	slog.Info("gstreamer: pipeline playing",
		"source", desc.String(),
		"width", s.info.Width,
		"height", s.info.Height,
		"fps", s.info.FPS,
		"total_frames", s.info.TotalFrames,
	)
	return s, nil
}

// CanOpen test-opens a direct stream URL and closes it again.
func (d *Decoder) CanOpen(ctx context.Context, uri string) error {
	s, err := d.Open(ctx, source.Descriptor{Kind: source.KindStream, URI: uri})
	if err != nil {
		return err
	}
	return s.Close()
}

// preroll pulls the first sample in short slices so ctx cancellation is honored.
func (s *Session) preroll(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.busError(); err != nil {
			return err
		}

		sample := s.sink.TryPullSample(100 * time.Millisecond)
		if sample == nil {
			if s.sink.IsEOS() {
				return fmt.Errorf("gstreamer: source ended before the first frame")
			}
			continue
		}

		img, err := s.convert(sample)
		if err != nil {
			return err
		}
		s.pending = img
		return nil
	}
	return fmt.Errorf("gstreamer: no frame within %s", timeout)
}

func (s *Session) queryTotalFrames() int64 {
	if s.info.FPS <= 0 {
		return 0
	}
	ok, dur := s.pipeline.QueryDuration(gst.FormatTime)
	if !ok || dur <= 0 {
		return 0
	}
	return int64(math.Round(time.Duration(dur).Seconds() * s.info.FPS))
}
