// Package capture wraps a decoder session with the frame bookkeeping the
// pipeline relies on: position tracking, seek capability checks and
// end-of-stream signalling.
//
// A Capture is owned by exactly one goroutine (the pipeline producer); its
// methods are not safe for concurrent use.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/source"
)

// DefaultReadTimeout bounds a single ReadFrame call so the producer can
// observe stop requests promptly.
const DefaultReadTimeout = 200 * time.Millisecond

// MediaInfo is what the decoder learned about the source when opening it.
type MediaInfo struct {
	Width       int
	Height      int
	FPS         float64 // 0 if unknown
	TotalFrames int64   // 0 if unknown or live
}

// Session is an open decoder handle.
type Session interface {
	// Read returns the next decoded picture. It returns ErrEndOfStream when a
	// finite source is exhausted and ErrNoFrame if nothing arrived within timeout.
	Read(timeout time.Duration) (*frame.RGB, error)
	// Seek positions the decoder so the next Read returns frame index.
	Seek(index int64) error
	// Info reports media properties.
	Info() MediaInfo
	Close() error
}

// Decoder opens sessions for a source.
type Decoder interface {
	Open(ctx context.Context, desc source.Descriptor) (Session, error)
}

// Capture is an open source plus its read position.
type Capture struct {
	desc    source.Descriptor
	session Session
	info    MediaInfo

	next     int64 // index the next read will return
	position int64 // index of the last frame read, NoPosition before the first read
	seq      uint64
	timeout  time.Duration
	released bool
}

// Open opens desc with dec. Any failure is returned as *OpenError.
func Open(ctx context.Context, dec Decoder, desc source.Descriptor) (*Capture, error) {
	if dec == nil {
		return nil, &OpenError{Source: desc.URI, Cause: errors.New("no decoder")}
	}

	s, err := dec.Open(ctx, desc)
	if err != nil {
		var oerr *OpenError
		if errors.As(err, &oerr) {
			return nil, oerr
		}
		return nil, &OpenError{Source: desc.URI, Cause: err}
	}

	info := s.Info()
	c := &Capture{
		desc:     desc.WithMedia(info.TotalFrames, info.FPS),
		session:  s,
		info:     info,
		position: frame.NoPosition,
		timeout:  DefaultReadTimeout,
	}

	slog.Info("capture: source opened",
		"source", desc.String(),
		"width", info.Width,
		"height", info.Height,
		"fps", info.FPS,
		"total_frames", info.TotalFrames,
		"seekable", desc.Seekable,
	)
	return c, nil
}

// Descriptor returns the source descriptor enriched with decoder media info.
func (c *Capture) Descriptor() source.Descriptor { return c.desc }

// Info returns decoder media properties.
func (c *Capture) Info() MediaInfo { return c.info }

// SetReadTimeout changes how long ReadFrame waits for a frame.
func (c *Capture) SetReadTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// ReadFrame decodes the next frame. At the end of a finite source it returns
// ErrEndOfStream; transient failures are returned as *ReadError.
func (c *Capture) ReadFrame() (*frame.Frame, error) {
	if c.released {
		return nil, ErrReleased
	}

	img, err := c.session.Read(c.timeout)
	if err != nil {
		if errors.Is(err, ErrEndOfStream) {
			return nil, ErrEndOfStream
		}
		var rerr *ReadError
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		return nil, &ReadError{Cause: err}
	}
	if img == nil {
		return nil, &ReadError{Cause: ErrNoFrame}
	}

	c.seq++
	f := &frame.Frame{
		Image:      img,
		Position:   frame.NoPosition,
		CapturedAt: time.Now(),
		Seq:        c.seq,
		TraceID:    uuid.New().String(),
	}
	if c.desc.Seekable {
		f.Position = c.next
		c.position = c.next
		c.next++
	}
	return f, nil
}

// Seek moves the read position so the next ReadFrame returns frame index.
// The index is clamped into [0, TotalFrames). Live sources return
// *CapabilityError and keep their state.
func (c *Capture) Seek(index int64) error {
	if c.released {
		return ErrReleased
	}
	if !c.desc.Seekable {
		return &CapabilityError{Op: "seek", Source: c.desc.Kind.String()}
	}

	index = c.Clamp(index)
	if err := c.session.Seek(index); err != nil {
		return fmt.Errorf("capture: seek to %d: %w", index, err)
	}
	c.next = index
	c.position = index

	slog.Debug("capture: seek applied", "index", index)
	return nil
}

// Clamp bounds index to [0, TotalFrames), or [0, ∞) when the total is unknown.
func (c *Capture) Clamp(index int64) int64 {
	return ClampIndex(index, c.desc.TotalFrames)
}

// ClampIndex bounds index to [0, total) when total > 0, else to [0, ∞).
func ClampIndex(index, total int64) int64 {
	if index < 0 {
		return 0
	}
	if total > 0 && index >= total {
		return total - 1
	}
	return index
}

// Position is the index of the last frame read (or the seek target before
// the next read). NoPosition for live sources.
func (c *Capture) Position() int64 {
	if !c.desc.Seekable {
		return frame.NoPosition
	}
	return c.position
}

// TotalFrames is the source length, 0 if unknown.
func (c *Capture) TotalFrames() int64 { return c.desc.TotalFrames }

// Release closes the decoder session. Safe to call more than once.
func (c *Capture) Release() error {
	if c.released {
		return nil
	}
	c.released = true
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("capture: release: %w", err)
	}
	slog.Info("capture: source released", "source", c.desc.String(), "frames_read", c.seq)
	return nil
}
