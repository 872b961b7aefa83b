package frame

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Caption colors used by the pipeline overlays.
var (
	Green = color.RGBA{G: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
	Black = color.RGBA{A: 255}
)

// DrawText writes text onto img with its baseline at (x, y). A one pixel
// black shadow keeps the caption legible on bright frames.
func DrawText(img *RGB, x, y int, text string, col color.Color) {
	if img == nil || text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x+1, y+1),
	}
	d.DrawString(text)

	d.Src = image.NewUniform(col)
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

// DrawRect outlines r on img with the given line thickness.
func DrawRect(img *RGB, r image.Rectangle, col color.Color, thickness int) {
	if img == nil {
		return
	}
	r = r.Canon().Intersect(img.Rect)
	if r.Empty() {
		return
	}
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, r.Min.Y+t, col)
			img.Set(x, r.Max.Y-1-t, col)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.Set(r.Min.X+t, y, col)
			img.Set(r.Max.X-1-t, y, col)
		}
	}
}
