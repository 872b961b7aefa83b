// Package source classifies a user-supplied source string and resolves
// remote sharing-site URLs into something the decoder can open.
package source

import "fmt"

// Kind is the class of a video source.
type Kind int

const (
	// KindDevice is a local camera addressed by a non-negative index.
	KindDevice Kind = iota
	// KindFile is a local, finite, seekable media file.
	KindFile
	// KindStream is a remote live or progressive stream. Not seekable.
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor is an opened-source description. It is a value type: once
// built it is copied, never mutated in place.
type Descriptor struct {
	Kind     Kind
	URI      string // device index, local path or direct stream URL
	Seekable bool

	// Known after the decoder opens the source; zero means unknown.
	TotalFrames int64
	FPS         float64

	// Title of the remote video, if it was resolved from a sharing site.
	Title string
}

// Live reports whether the source produces frames indefinitely.
func (d Descriptor) Live() bool {
	return d.Kind != KindFile
}

// WithMedia returns a copy of d with decoder-reported length and rate.
func (d Descriptor) WithMedia(totalFrames int64, fps float64) Descriptor {
	d.TotalFrames = totalFrames
	d.FPS = fps
	return d
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s:%s", d.Kind, d.URI)
}
