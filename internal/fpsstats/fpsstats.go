// Package fpsstats measures playback rate over a sliding window of frame
// timestamps.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// A window is stable if the stddev of instantaneous FPS is below 15% of the mean.
	fpsStabilityThreshold = 0.15

	// ...and mean jitter is below 20% of the expected inter-frame interval.
	jitterStabilityThreshold = 0.20

	// Epsilon keeps the instantaneous rate finite when two frames share a timestamp.
	Epsilon = 1e-6
)

// Stats summarizes a window of frame timestamps.
type Stats struct {
	Frames     int
	Duration   time.Duration
	FPSMean    float64
	FPSStdDev  float64
	FPSMin     float64
	FPSMax     float64
	JitterMean float64 // seconds
	JitterMax  float64 // seconds
	IsStable   bool
}

// Instantaneous returns 1 / max(Epsilon, dt) in frames per second.
func Instantaneous(dt time.Duration) float64 {
	return 1.0 / math.Max(Epsilon, dt.Seconds())
}

// Calculate computes window statistics from ordered frame timestamps.
func Calculate(frameTimes []time.Time) Stats {
	n := len(frameTimes)
	if n < 2 {
		return Stats{Frames: n}
	}

	total := frameTimes[n-1].Sub(frameTimes[0])
	if total <= 0 {
		return Stats{Frames: n, Duration: total}
	}
	// n timestamps span n-1 intervals.
	fpsMean := float64(n-1) / total.Seconds()

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		intervals = append(intervals, frameTimes[i].Sub(frameTimes[i-1]).Seconds())
	}

	fpsMin, fpsMax := math.Inf(1), 0.0
	var sumSquares float64
	for _, iv := range intervals {
		fps := 1.0 / math.Max(Epsilon, iv)
		fpsMin = math.Min(fpsMin, fps)
		fpsMax = math.Max(fpsMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(intervals)))

	expected := 1.0 / fpsMean
	var jitterSum, jitterMax float64
	for _, iv := range intervals {
		j := math.Abs(iv - expected)
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(intervals))

	return Stats{
		Frames:     n,
		Duration:   total,
		FPSMean:    fpsMean,
		FPSStdDev:  fpsStdDev,
		FPSMin:     fpsMin,
		FPSMax:     fpsMax,
		JitterMean: jitterMean,
		JitterMax:  jitterMax,
		IsStable: fpsStdDev < fpsMean*fpsStabilityThreshold &&
			jitterMean < expected*jitterStabilityThreshold,
	}
}

// Window keeps the last Size frame timestamps. Safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	size  int
	times []time.Time
}

// NewWindow returns a window holding at most size timestamps (minimum 2).
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{size: size, times: make([]time.Time, 0, size)}
}

// Add records a frame timestamp.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	if len(w.times) == w.size {
		copy(w.times, w.times[1:])
		w.times = w.times[:w.size-1]
	}
	w.times = append(w.times, t)
	w.mu.Unlock()
}

// Reset drops all timestamps, e.g. after a seek or pause.
func (w *Window) Reset() {
	w.mu.Lock()
	w.times = w.times[:0]
	w.mu.Unlock()
}

// Stats computes statistics over the current window.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	times := make([]time.Time, len(w.times))
	copy(times, w.times)
	w.mu.Unlock()
	return Calculate(times)
}
