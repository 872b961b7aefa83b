package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-inspect/frame"
)

func TestFraming_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := request{Seq: 7, FrameData: []byte{1, 2, 3}, Width: 1, Height: 1, Confidence: 0.3, ImageSize: 640}
	require.NoError(t, writeMessage(&buf, in))

	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	var out request
	require.NoError(t, readMessage(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadMessage_RejectsOversize(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	var v response
	assert.ErrorContains(t, readMessage(r, &v), "too large")
}

func TestReadMessage_Truncated(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 10, 1, 2})
	var v response
	assert.Error(t, readMessage(r, &v))
}

// fakeDetector serves requests over pipes the way the Python worker does.
func fakeDetector(t *testing.T, handle func(request) response) (*Worker, func()) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		defer respW.Close()
		for {
			var req request
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			if err := writeMessage(respW, handle(req)); err != nil {
				return
			}
		}
	}()

	w := newWorker(Config{ImageSize: 640}, reqW, respR)
	return w, func() { w.Close(); reqR.Close() }
}

func TestPredict_Detections(t *testing.T) {
	var seen request
	w, stop := fakeDetector(t, func(req request) response {
		seen = req
		return response{Seq: req.Seq, Detections: []wireDetection{
			{Class: "crack", Confidence: 0.8, X1: 1, Y1: 2, X2: 10, Y2: 20},
		}}
	})
	defer stop()

	img := frame.NewRGB(image.Rect(0, 0, 4, 2))
	res, err := w.Predict(context.Background(), img, 0.25)
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, "crack", res.Detections[0].Class)
	assert.Equal(t, image.Rect(1, 2, 10, 20), res.Detections[0].Box)
	assert.Nil(t, res.Annotated)

	assert.Equal(t, 4, seen.Width)
	assert.Equal(t, 2, seen.Height)
	assert.Len(t, seen.FrameData, 4*2*3)
	assert.Equal(t, 0.25, seen.Confidence)
	assert.Equal(t, 640, seen.ImageSize)
}

func TestPredict_AnnotatedImage(t *testing.T) {
	w, stop := fakeDetector(t, func(req request) response {
		ann := make([]byte, len(req.FrameData))
		ann[0] = 42
		return response{Seq: req.Seq, Annotated: ann}
	})
	defer stop()

	res, err := w.Predict(context.Background(), frame.NewRGB(image.Rect(0, 0, 2, 2)), 0.5)
	require.NoError(t, err)
	require.NotNil(t, res.Annotated)
	assert.Equal(t, byte(42), res.Annotated.Pix[0])
}

func TestPredict_WorkerError(t *testing.T) {
	w, stop := fakeDetector(t, func(req request) response {
		return response{Seq: req.Seq, Error: "model not loaded"}
	})
	defer stop()

	_, err := w.Predict(context.Background(), frame.NewRGB(image.Rect(0, 0, 1, 1)), 0.5)
	assert.ErrorContains(t, err, "model not loaded")

	_, failures := w.Stats()
	assert.Equal(t, uint64(1), failures)
}

func TestPredict_OutOfSync(t *testing.T) {
	w, stop := fakeDetector(t, func(req request) response {
		return response{Seq: req.Seq + 100}
	})
	defer stop()

	_, err := w.Predict(context.Background(), frame.NewRGB(image.Rect(0, 0, 1, 1)), 0.5)
	assert.ErrorContains(t, err, "out of sync")
}

func TestPredict_AfterClose(t *testing.T) {
	w, stop := fakeDetector(t, func(req request) response { return response{Seq: req.Seq} })
	stop()

	_, err := w.Predict(context.Background(), frame.NewRGB(image.Rect(0, 0, 1, 1)), 0.5)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_ValidatesModelPath(t *testing.T) {
	_, err := Start(context.Background(), Config{})
	assert.ErrorContains(t, err, "model path is required")

	_, err = Start(context.Background(), Config{ModelPath: filepath.Join(t.TempDir(), "best.pt")})
	assert.ErrorContains(t, err, "model not found")
}

func TestStart_MissingBinary(t *testing.T) {
	model := filepath.Join(t.TempDir(), "best.pt")
	require.NoError(t, os.WriteFile(model, []byte("weights"), 0o644))

	_, err := Start(context.Background(), Config{
		Command:   []string{filepath.Join(t.TempDir(), "no-such-binary")},
		ModelPath: model,
	})
	assert.Error(t, err)
}
