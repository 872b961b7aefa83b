package inference

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-inspect/frame"
)

type modelFunc func(ctx context.Context, img *frame.RGB, conf float64) (*Result, error)

func (f modelFunc) Predict(ctx context.Context, img *frame.RGB, conf float64) (*Result, error) {
	return f(ctx, img, conf)
}

func newFrame() *frame.Frame {
	return &frame.Frame{Image: frame.NewRGB(image.Rect(0, 0, 200, 100)), Seq: 1, Position: 4}
}

func TestAnnotate_Success(t *testing.T) {
	var gotConf float64
	m := modelFunc(func(ctx context.Context, img *frame.RGB, conf float64) (*Result, error) {
		gotConf = conf
		return &Result{Detections: []Detection{
			{Class: "porosity", Confidence: 0.9, Box: image.Rect(20, 20, 60, 60)},
		}}, nil
	})

	in := newFrame()
	out := NewStage(m).Annotate(context.Background(), in, 0.3)

	require.NoError(t, out.Err)
	assert.Equal(t, 0.3, gotConf)
	assert.Len(t, out.Detections, 1)
	assert.Equal(t, int64(4), out.Frame.Position)
	assert.Equal(t, frame.Green, out.Frame.Image.At(20, 40), "box outline drawn")
	assert.Equal(t, make([]byte, len(in.Image.Pix)), in.Image.Pix, "input frame untouched")
}

func TestAnnotate_UsesModelImageWhenSizesMatch(t *testing.T) {
	m := modelFunc(func(ctx context.Context, img *frame.RGB, conf float64) (*Result, error) {
		ann := img.Clone()
		ann.Pix[0] = 123
		return &Result{Annotated: ann}, nil
	})

	out := NewStage(m).Annotate(context.Background(), newFrame(), 0.5)
	assert.Equal(t, byte(123), out.Frame.Image.Pix[0])
}

// A failing model yields the original frame plus an error caption.
func TestAnnotate_ErrorPassesThrough(t *testing.T) {
	boom := errors.New("cuda out of memory")
	m := modelFunc(func(ctx context.Context, img *frame.RGB, conf float64) (*Result, error) {
		return nil, boom
	})

	in := newFrame()
	s := NewStage(m)
	out := s.Annotate(context.Background(), in, 0.3)

	var ierr *InferenceError
	require.ErrorAs(t, out.Err, &ierr)
	assert.ErrorIs(t, out.Err, boom)
	assert.Empty(t, out.Detections)
	assert.Equal(t, in.Image.Rect, out.Frame.Image.Rect)

	var red int
	for i := 0; i < len(out.Frame.Image.Pix); i += 3 {
		if out.Frame.Image.Pix[i] == 255 && out.Frame.Image.Pix[i+1] == 0 {
			red++
		}
	}
	assert.Greater(t, red, 0, "error caption drawn in red")
}

func TestAnnotate_PanicIsRecovered(t *testing.T) {
	m := modelFunc(func(ctx context.Context, img *frame.RGB, conf float64) (*Result, error) {
		panic("index out of range")
	})

	out := NewStage(m).Annotate(context.Background(), newFrame(), 0.3)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "panicked")
	assert.NotNil(t, out.Frame)
}

func TestAnnotate_NilModel(t *testing.T) {
	out := NewStage(nil).Annotate(context.Background(), newFrame(), 0.3)
	assert.Error(t, out.Err)
}

func TestErrorCaption_Truncates(t *testing.T) {
	msg := errorCaption(errors.New(strings.Repeat("x", 500)))
	assert.Len(t, msg, maxErrorCaption)
	assert.True(t, strings.HasSuffix(msg, "..."))
}

func TestErrorCaption_TruncatesOnRuneBoundary(t *testing.T) {
	msg := errorCaption(errors.New(strings.Repeat("é", 200)))
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, maxErrorCaption, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasSuffix(msg, "é..."))
}
