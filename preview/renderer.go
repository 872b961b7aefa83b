// Package preview renders annotated frames for the operator: a 15 ms
// consumer encodes the latest frame to JPEG and fans it out to MJPEG and
// websocket clients over HTTP.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/framebuffer"
)

const (
	// DefaultInterval is the render tick.
	DefaultInterval = 15 * time.Millisecond
	// DefaultQuality is the JPEG quality used for preview and snapshots.
	DefaultQuality = 80
)

// Renderer is the display-rate consumer of the frame buffer.
type Renderer struct {
	buf      *framebuffer.Buffer
	hub      *Hub
	interval time.Duration
	quality  int

	rendered atomic.Uint64
	failures atomic.Uint64
}

// NewRenderer creates a renderer publishing frames from buf to hub.
func NewRenderer(buf *framebuffer.Buffer, hub *Hub) *Renderer {
	return &Renderer{
		buf:      buf,
		hub:      hub,
		interval: DefaultInterval,
		quality:  DefaultQuality,
	}
}

// SetInterval changes the render tick. Call before Run.
func (r *Renderer) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Run renders until ctx is done. Ticks with no new frame are skipped.
func (r *Renderer) Run(ctx context.Context) error {
	slog.Info("preview: renderer started", "interval", r.interval)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("preview: renderer stopped", "rendered", r.rendered.Load())
			return nil
		case <-t.C:
			r.tick()
		}
	}
}

func (r *Renderer) tick() {
	f, ok := r.buf.TakeLatest()
	if !ok {
		return
	}
	data, err := encodeJPEG(f.Image, r.quality)
	if err != nil {
		if r.failures.Add(1)%100 == 1 {
			slog.Warn("preview: encode failed", "seq", f.Seq, "error", err)
		}
		return
	}
	r.hub.Publish(JPEG{Data: data, Seq: f.Seq, Position: f.Position, Timestamp: f.CapturedAt})
	r.rendered.Add(1)
}

// Rendered returns how many frames were encoded and published.
func (r *Renderer) Rendered() uint64 { return r.rendered.Load() }

func encodeJPEG(img *frame.RGB, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("preview: nil image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("preview: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
