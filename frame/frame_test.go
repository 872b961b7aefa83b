package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRGB_SetAt(t *testing.T) {
	img := NewRGB(image.Rect(0, 0, 4, 3))
	img.Set(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	got := img.At(2, 1).(color.RGBA)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, got)
	assert.Equal(t, color.RGBA{}, img.At(10, 10), "out of bounds reads as zero")
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		w, h   int
		wantOK bool
	}{
		{"exact", make([]byte, 2*2*3), 2, 2, true},
		{"extra trailing bytes", make([]byte, 2*2*3+7), 2, 2, true},
		{"short", make([]byte, 5), 2, 2, false},
		{"zero width", make([]byte, 12), 0, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := FromBytes(tt.data, tt.w, tt.h)
			if !tt.wantOK {
				assert.Nil(t, img)
				return
			}
			require.NotNil(t, img)
			assert.Len(t, img.Pix, tt.w*tt.h*3)
		})
	}
}

func TestFrameClone_IsDeep(t *testing.T) {
	f := &Frame{Image: NewRGB(image.Rect(0, 0, 2, 2)), Position: 7, Seq: 3}
	c := f.Clone()

	c.Image.Pix[0] = 99
	assert.Equal(t, byte(0), f.Image.Pix[0])
	assert.Equal(t, int64(7), c.Position)
	assert.Nil(t, (*Frame)(nil).Clone())
}

func TestPacked_RemovesStridePadding(t *testing.T) {
	img := &RGB{
		Pix:    []byte{1, 2, 3, 0, 0, 4, 5, 6, 0, 0},
		Stride: 5,
		Rect:   image.Rect(0, 0, 1, 2),
	}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, img.Packed())
}

func TestDrawText_ChangesPixels(t *testing.T) {
	img := NewRGB(image.Rect(0, 0, 120, 40))
	DrawText(img, 10, 30, "FPS: 30.0", Green)

	var lit int
	for i := 1; i < len(img.Pix); i += 3 {
		if img.Pix[i] == 255 {
			lit++
		}
	}
	assert.Greater(t, lit, 0, "caption should paint green pixels")
}

func TestDrawRect_ClipsToBounds(t *testing.T) {
	img := NewRGB(image.Rect(0, 0, 10, 10))
	DrawRect(img, image.Rect(-5, -5, 5, 5), Red, 1)

	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.At(4, 0))
	assert.Equal(t, color.RGBA{A: 255}, img.At(8, 8))
}
