package framebuffer

import (
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-inspect/frame"
)

func testFrame(seq uint64) *frame.Frame {
	img := frame.NewRGB(image.Rect(0, 0, 2, 2))
	img.Pix[0] = byte(seq)
	return &frame.Frame{Image: img, Seq: seq, Position: int64(seq)}
}

func TestTakeLatest_EmptyBuffer(t *testing.T) {
	b := New()
	f, ok := b.TakeLatest()
	assert.False(t, ok)
	assert.Nil(t, f)
}

// Three publishes then one take yields the third frame only.
func TestLatestWins(t *testing.T) {
	b := New()
	b.Publish(testFrame(1))
	b.Publish(testFrame(2))
	b.Publish(testFrame(3))

	f, ok := b.TakeLatest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)

	_, ok = b.TakeLatest()
	assert.False(t, ok, "second take without publish returns nothing")

	st := b.Stats()
	assert.Equal(t, uint64(3), st.Published)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, uint64(1), st.Taken)
}

func TestPublish_StoresCopy(t *testing.T) {
	b := New()
	f := testFrame(5)
	b.Publish(f)
	f.Image.Pix[0] = 200

	got, ok := b.TakeLatest()
	require.True(t, ok)
	assert.Equal(t, byte(5), got.Image.Pix[0], "caller mutation must not leak into the buffer")

	got.Image.Pix[0] = 77
	again, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, byte(5), again.Image.Pix[0], "consumer mutation must not leak into the buffer")
}

func TestLatest_SurvivesTake(t *testing.T) {
	b := New()
	b.Publish(testFrame(9))
	_, _ = b.TakeLatest()

	f, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(9), f.Seq)
}

func TestClear(t *testing.T) {
	b := New()
	b.Publish(testFrame(1))
	b.Clear()

	_, ok := b.TakeLatest()
	assert.False(t, ok)
	_, ok = b.Latest()
	assert.False(t, ok)
}

// Concurrent producer and consumer: the consumer never sees a frame older
// than one it already saw.
func TestConcurrentPublishTake(t *testing.T) {
	b := New()
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			b.Publish(testFrame(i))
		}
	}()

	var last uint64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			if f, ok := b.TakeLatest(); ok {
				assert.GreaterOrEqual(t, f.Seq, last)
				last = f.Seq
			}
			assert.Equal(t, uint64(n), last)
			return
		default:
			if f, ok := b.TakeLatest(); ok {
				assert.GreaterOrEqual(t, f.Seq, last)
				last = f.Seq
			}
		}
	}
}
