package fpsstats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timestamps(start time.Time, intervals ...time.Duration) []time.Time {
	out := []time.Time{start}
	for _, iv := range intervals {
		start = start.Add(iv)
		out = append(out, start)
	}
	return out
}

func TestInstantaneous(t *testing.T) {
	assert.InDelta(t, 25.0, Instantaneous(40*time.Millisecond), 1e-9)
	assert.Equal(t, 1.0/Epsilon, Instantaneous(0), "zero interval is clamped, never infinite")
	assert.False(t, math.IsInf(Instantaneous(-time.Second), 0))
}

func TestCalculate_SteadyStream(t *testing.T) {
	iv := 40 * time.Millisecond
	ts := timestamps(time.Unix(0, 0), iv, iv, iv, iv, iv)

	st := Calculate(ts)
	assert.Equal(t, 6, st.Frames)
	assert.InDelta(t, 25.0, st.FPSMean, 1e-6)
	assert.InDelta(t, 0, st.FPSStdDev, 1e-6)
	assert.True(t, st.IsStable)
}

func TestCalculate_JitteryStream(t *testing.T) {
	ts := timestamps(time.Unix(0, 0),
		10*time.Millisecond, 90*time.Millisecond, 10*time.Millisecond, 90*time.Millisecond)

	st := Calculate(ts)
	assert.False(t, st.IsStable)
	assert.Greater(t, st.FPSMax, st.FPSMin)
}

func TestCalculate_EdgeCases(t *testing.T) {
	assert.Equal(t, Stats{}, Calculate(nil))
	assert.Equal(t, 1, Calculate([]time.Time{time.Now()}).Frames)

	same := time.Unix(5, 0)
	st := Calculate([]time.Time{same, same})
	assert.Zero(t, st.FPSMean)
	assert.False(t, st.IsStable)
}

func TestWindow_KeepsLastN(t *testing.T) {
	w := NewWindow(3)
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		w.Add(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	st := w.Stats()
	assert.Equal(t, 3, st.Frames)
	assert.InDelta(t, 10.0, st.FPSMean, 1e-6)

	w.Reset()
	assert.Equal(t, 0, w.Stats().Frames)
}
