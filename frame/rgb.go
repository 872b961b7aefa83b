package frame

import (
	"image"
	"image/color"
)

// RGB is an in-memory image stored as interleaved 8-bit R, G, B samples
// (H×W×3). It is the pixel layout produced by the decoder's
// video/x-raw,format=RGB caps and consumed by the inference worker.
type RGB struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewRGB allocates a black image of the given bounds.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{
		Pix:    make([]byte, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

// FromBytes wraps a tightly packed RGB buffer without copying.
// Returns nil if data is too short for width×height.
func FromBytes(data []byte, width, height int) *RGB {
	if width <= 0 || height <= 0 || len(data) < 3*width*height {
		return nil
	}
	return &RGB{
		Pix:    data[:3*width*height],
		Stride: 3 * width,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

func (p *RGB) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	p.Pix[i] = c1.R
	p.Pix[i+1] = c1.G
	p.Pix[i+2] = c1.B
}

// PixOffset returns the index of the first byte of pixel (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Width and Height of the image in pixels.
func (p *RGB) Width() int  { return p.Rect.Dx() }
func (p *RGB) Height() int { return p.Rect.Dy() }

// Clone returns a deep copy.
func (p *RGB) Clone() *RGB {
	if p == nil {
		return nil
	}
	pix := make([]byte, len(p.Pix))
	copy(pix, p.Pix)
	return &RGB{Pix: pix, Stride: p.Stride, Rect: p.Rect}
}

// Packed returns the pixels as a tightly packed W×H×3 slice, copying only
// when the stride carries padding.
func (p *RGB) Packed() []byte {
	w, h := p.Width(), p.Height()
	if p.Stride == 3*w && p.Rect.Min == (image.Point{}) {
		return p.Pix[:3*w*h]
	}
	out := make([]byte, 0, 3*w*h)
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		i := p.PixOffset(p.Rect.Min.X, y)
		out = append(out, p.Pix[i:i+3*w]...)
	}
	return out
}

// Convert copies any image into a new RGB image.
func Convert(src image.Image) *RGB {
	if rgb, ok := src.(*RGB); ok {
		return rgb.Clone()
	}
	b := src.Bounds()
	dst := NewRGB(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, src.At(x, y))
		}
	}
	return dst
}
