// Package frame defines the decoded video frame handed between capture,
// inference and rendering.
package frame

import (
	"time"
)

// NoPosition marks a frame whose index in the source is unknown (live
// devices and streams).
const NoPosition int64 = -1

// Frame is one decoded picture plus the metadata the pipeline tracks for it.
type Frame struct {
	Image      *RGB
	Position   int64 // 0-based frame index, NoPosition for live sources
	CapturedAt time.Time
	Seq        uint64 // monotonically increasing per session
	TraceID    string // correlates logs and emitted detections
}

// Clone returns a deep copy, pixels included.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Image = f.Image.Clone()
	return &c
}

// WithImage returns a shallow copy of f carrying img.
func (f *Frame) WithImage(img *RGB) *Frame {
	c := *f
	c.Image = img
	return &c
}
