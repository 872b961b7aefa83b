// Package pipeline runs the capture → inference → frame buffer loop and the
// playback state machine that controls it.
//
// One producer goroutine per session owns the Capture: it reads, applies
// queued seeks and finally releases the handle. Controller calls only
// mutate shared state under the pipeline mutex and wake the producer; they
// never touch the decoder. No I/O, inference or drawing happens under the
// mutex.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/framebuffer"
	"github.com/e7canasta/orion-inspect/inference"
	"github.com/e7canasta/orion-inspect/internal/fpsstats"
	"github.com/e7canasta/orion-inspect/source"
)

const (
	// DefaultPausedPoll is how long a paused loop idles between checks.
	DefaultPausedPoll = 100 * time.Millisecond
	// DefaultLiveBackoff is the wait after a live source returned no frame.
	DefaultLiveBackoff = 10 * time.Millisecond
	// DefaultConfidence is used when no confidence source is configured.
	DefaultConfidence = 0.30

	fpsWindowSize = 60
)

// FrameEvent describes one processed frame. Delivered on the producer
// goroutine; handlers must not block.
type FrameEvent struct {
	Seq        uint64
	TraceID    string
	Position   int64
	CapturedAt time.Time
	Detections []inference.Detection
	FPS        float64
	Err        error
}

// Config configures a Pipeline.
type Config struct {
	Decoder    capture.Decoder
	Buffer     *framebuffer.Buffer
	Confidence func() float64 // read on every inference call

	PausedPoll  time.Duration
	LiveBackoff time.Duration
	ReadTimeout time.Duration // per ReadFrame, default capture.DefaultReadTimeout

	OnFrame func(FrameEvent)
	OnState func(Snapshot)
}

// Pipeline owns the loop and its state.
type Pipeline struct {
	cfg Config
	fps *fpsstats.Window

	mu          sync.Mutex
	st          state
	stage       *inference.Stage
	starting    bool
	stopping    bool
	pendingSeek *int64
	cancel      context.CancelFunc
	done        chan struct{}

	wake chan struct{}
}

// New validates cfg and returns an idle Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("pipeline: decoder is required")
	}
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("pipeline: frame buffer is required")
	}
	if cfg.Confidence == nil {
		cfg.Confidence = func() float64 { return DefaultConfidence }
	}
	if cfg.PausedPoll <= 0 {
		cfg.PausedPoll = DefaultPausedPoll
	}
	if cfg.LiveBackoff <= 0 {
		cfg.LiveBackoff = DefaultLiveBackoff
	}

	return &Pipeline{
		cfg:  cfg,
		fps:  fpsstats.NewWindow(fpsWindowSize),
		st:   state{phase: PhaseIdle, position: frame.NoPosition},
		wake: make(chan struct{}, 1),
	}, nil
}

// SetModel installs the model used by subsequent frames. A nil model
// unloads it; a running loop then passes frames through with an error caption.
func (p *Pipeline) SetModel(m inference.Model) {
	p.mu.Lock()
	if m == nil {
		p.stage = nil
	} else {
		p.stage = inference.NewStage(m)
	}
	p.mu.Unlock()
}

// HasModel reports whether a model is installed.
func (p *Pipeline) HasModel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage != nil
}

// Buffer returns the frame buffer the loop publishes to.
func (p *Pipeline) Buffer() *framebuffer.Buffer { return p.cfg.Buffer }

// Start opens desc and launches the producer loop. It fails synchronously
// with ErrNoModel, ErrAlreadyRunning or a *capture.OpenError, leaving the
// state unchanged. Seekable sources start playing immediately.
//
// ctx bounds opening only; the loop runs until Stop.
func (p *Pipeline) Start(ctx context.Context, desc source.Descriptor) error {
	p.mu.Lock()
	if p.stage == nil {
		p.mu.Unlock()
		return ErrNoModel
	}
	if p.starting || p.st.running || p.loopActive() {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.starting = true
	p.mu.Unlock()

	c, err := capture.Open(ctx, p.cfg.Decoder, desc)

	p.mu.Lock()
	p.starting = false
	if err != nil {
		p.mu.Unlock()
		slog.Error("pipeline: failed to open source", "source", desc.String(), "error", err)
		return err
	}
	if p.cfg.ReadTimeout > 0 {
		c.SetReadTimeout(p.cfg.ReadTimeout)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	p.st = state{
		phase:    PhaseRunning,
		running:  true,
		playing:  true,
		position: c.Position(),
		desc:     c.Descriptor(),
	}
	p.stopping = false
	p.pendingSeek = nil
	p.cancel = cancel
	p.done = done
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.fps.Reset()
	p.drainWake()

	slog.Info("pipeline: loop started",
		"source", desc.String(),
		"seekable", snap.Seekable,
		"total_frames", snap.TotalFrames,
	)
	p.notify(snap)

	go p.run(loopCtx, c, done)
	return nil
}

// loopActive reports whether a previous loop has not exited yet. Caller holds mu.
func (p *Pipeline) loopActive() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop asks the loop to exit and returns immediately. The producer
// releases the capture and clears the frame buffer on its way out.
// Idempotent; a no-op when nothing is running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.st.running || p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	cancel := p.cancel
	p.mu.Unlock()

	slog.Info("pipeline: stop requested")
	if cancel != nil {
		cancel()
	}
	p.signal()
}

// Done returns a channel closed when the current loop has exited, or nil
// if no loop was ever started.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the current loop has exited or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := p.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Snapshot {
	s := p.st.snapshot(p.fps.Stats())
	s.BufferDropped = p.cfg.Buffer.Stats().Dropped
	return s
}

func (p *Pipeline) notify(s Snapshot) {
	if p.cfg.OnState != nil {
		p.cfg.OnState(s)
	}
}

// signal wakes a paused producer without blocking.
func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) drainWake() {
	select {
	case <-p.wake:
	default:
	}
}

// run is the producer loop.
func (p *Pipeline) run(ctx context.Context, c *capture.Capture, done chan struct{}) {
	defer p.finish(c, done)

	live := !c.Descriptor().Seekable
	prev := time.Now()

	for {
		p.mu.Lock()
		if p.stopping {
			p.mu.Unlock()
			return
		}
		seek := p.pendingSeek
		p.pendingSeek = nil
		playing := p.st.playing
		ended := p.st.ended
		stage := p.stage
		p.mu.Unlock()

		if seek != nil {
			p.applySeek(c, *seek)
			prev = time.Now()
			if !playing {
				// Paused scrub: show the frame at the new position.
				if f, err := c.ReadFrame(); err == nil {
					p.process(ctx, stage, f, &prev)
				}
			}
		}

		// An ended source is never read again on its own, live or not.
		if (!live && !playing) || ended {
			p.idle(ctx, p.cfg.PausedPoll)
			prev = time.Now()
			continue
		}

		f, err := c.ReadFrame()
		if err != nil {
			if p.handleReadError(ctx, err, live) {
				return
			}
			continue
		}
		p.process(ctx, stage, f, &prev)
	}
}

// handleReadError decides what a failed read means. Returns true if the
// loop must exit.
func (p *Pipeline) handleReadError(ctx context.Context, err error, live bool) bool {
	switch {
	case errors.Is(err, capture.ErrEndOfStream):
		p.mu.Lock()
		p.st.playing = false
		p.st.ended = true
		p.st.phase = PhasePaused
		snap := p.snapshotLocked()
		p.mu.Unlock()
		slog.Info("pipeline: end of stream, paused", "position", snap.Position, "live", live)
		p.notify(snap)
		return false

	case errors.Is(err, capture.ErrReleased):
		return true

	case live || errors.Is(err, capture.ErrNoFrame):
		slog.Debug("pipeline: no frame, backing off", "error", err)
		p.idle(ctx, p.cfg.LiveBackoff)
		return false

	default:
		// A finite source that fails mid-file is treated like its end.
		p.mu.Lock()
		p.st.playing = false
		p.st.phase = PhasePaused
		p.st.lastError = err.Error()
		snap := p.snapshotLocked()
		p.mu.Unlock()
		slog.Warn("pipeline: read failed, paused", "error", err)
		p.notify(snap)
		return false
	}
}

func (p *Pipeline) applySeek(c *capture.Capture, index int64) {
	if err := c.Seek(index); err != nil {
		slog.Warn("pipeline: seek failed", "index", index, "error", err)
		p.mu.Lock()
		p.st.lastError = err.Error()
		p.st.position = c.Position()
		p.mu.Unlock()
		return
	}
	p.fps.Reset()
	p.mu.Lock()
	p.st.position = c.Position()
	p.mu.Unlock()
}

// process runs inference on f, captions the FPS and publishes the result.
func (p *Pipeline) process(ctx context.Context, stage *inference.Stage, f *frame.Frame, prev *time.Time) {
	if stage == nil {
		stage = inference.NewStage(nil)
	}
	ann := stage.Annotate(ctx, f, p.cfg.Confidence())

	now := time.Now()
	fps := fpsstats.Instantaneous(now.Sub(*prev))
	*prev = now
	p.fps.Add(now)

	frame.DrawText(ann.Frame.Image, inference.CaptionX, inference.FPSCaptionY,
		fmt.Sprintf("FPS: %.1f", fps), frame.Green)
	p.cfg.Buffer.Publish(ann.Frame)

	p.mu.Lock()
	p.st.position = f.Position
	p.st.lastFPS = fps
	p.st.frames++
	p.st.detections = len(ann.Detections)
	if ann.Err != nil {
		p.st.inferErrors++
		p.st.lastError = ann.Err.Error()
	}
	p.mu.Unlock()

	slog.Debug("pipeline: frame published",
		"seq", f.Seq,
		"position", f.Position,
		"fps", fps,
		"detections", len(ann.Detections),
		"trace_id", f.TraceID,
	)

	if p.cfg.OnFrame != nil {
		p.cfg.OnFrame(FrameEvent{
			Seq:        f.Seq,
			TraceID:    f.TraceID,
			Position:   f.Position,
			CapturedAt: f.CapturedAt,
			Detections: ann.Detections,
			FPS:        fps,
			Err:        ann.Err,
		})
	}
}

// idle waits for d, a controller wake-up or cancellation.
func (p *Pipeline) idle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.wake:
	case <-ctx.Done():
	}
}

// finish runs on the producer goroutine when the loop exits.
func (p *Pipeline) finish(c *capture.Capture, done chan struct{}) {
	if err := c.Release(); err != nil {
		slog.Error("pipeline: release failed", "error", err)
	}
	p.cfg.Buffer.Clear()

	p.mu.Lock()
	p.st.running = false
	p.st.playing = false
	p.st.phase = PhaseStopped
	p.stopping = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	close(done)
	slog.Info("pipeline: loop stopped", "frames", snap.Frames, "position", snap.Position)
	p.notify(snap)
}
