// Package capturetest provides an in-memory Decoder for tests.
package capturetest

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/source"
)

// Decoder produces synthetic frames. Each frame's first pixel byte holds
// its index modulo 256 so tests can tell frames apart.
type Decoder struct {
	Width, Height int
	FPS           float64
	Frames        int64 // finite length for file sources; ignored for live
	OpenErr       error
	SeekErr       error

	// FrameDelay slows Read down to simulate a real decoder.
	FrameDelay time.Duration
	// NoFrameEvery makes every Nth live read return ErrNoFrame (0 disables).
	NoFrameEvery int
	// EndAfter ends a live source with ErrEndOfStream after that many
	// frames, like a progressive stream running out (0 means endless).
	EndAfter int64

	mu       sync.Mutex
	sessions []*Session
}

// Open implements capture.Decoder.
func (d *Decoder) Open(ctx context.Context, desc source.Descriptor) (capture.Session, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	w, h := d.Width, d.Height
	if w == 0 {
		w, h = 8, 6
	}
	s := &Session{dec: d, live: desc.Live(), w: w, h: h}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (d *Decoder) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Session is a fake decoder handle.
type Session struct {
	dec  *Decoder
	live bool
	w, h int

	mu     sync.Mutex
	next   int64
	reads  int
	seeks  []int64
	closed bool
}

func (s *Session) Read(timeout time.Duration) (*frame.RGB, error) {
	if s.dec.FrameDelay > 0 {
		time.Sleep(s.dec.FrameDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("read on closed session")
	}
	s.reads++
	if s.live && s.dec.NoFrameEvery > 0 && s.reads%s.dec.NoFrameEvery == 0 {
		return nil, capture.ErrNoFrame
	}
	if s.live && s.dec.EndAfter > 0 && s.next >= s.dec.EndAfter {
		return nil, capture.ErrEndOfStream
	}
	if !s.live && s.next >= s.dec.Frames {
		return nil, capture.ErrEndOfStream
	}

	img := frame.NewRGB(image.Rect(0, 0, s.w, s.h))
	img.Pix[0] = byte(s.next)
	s.next++
	return img, nil
}

func (s *Session) Seek(index int64) error {
	if s.dec.SeekErr != nil {
		return s.dec.SeekErr
	}
	s.mu.Lock()
	s.next = index
	s.seeks = append(s.seeks, index)
	s.mu.Unlock()
	return nil
}

func (s *Session) Info() capture.MediaInfo {
	info := capture.MediaInfo{Width: s.w, Height: s.h, FPS: s.dec.FPS}
	if !s.live {
		info.TotalFrames = s.dec.Frames
	}
	return info
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Seeks returns the seek targets applied so far.
func (s *Session) Seeks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.seeks))
	copy(out, s.seeks)
	return out
}

// Reads returns how many reads were attempted.
func (s *Session) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
