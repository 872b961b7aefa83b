package pipeline

import (
	"log/slog"

	"github.com/e7canasta/orion-inspect/capture"
)

// Controller is the playback state machine on top of a Pipeline.
//
// All methods only update shared state and wake the producer; seeks are
// queued and applied by the producer before its next read. On live sources
// every transport call except Stop returns *capture.CapabilityError and
// leaves the state unchanged.
type Controller struct {
	p *Pipeline
}

// NewController returns a Controller for p.
func NewController(p *Pipeline) *Controller {
	return &Controller{p: p}
}

// Play resumes playback of a seekable source.
func (c *Controller) Play() error {
	return c.setPlaying(true, "play")
}

// Pause stops reading without releasing the source.
func (c *Controller) Pause() error {
	return c.setPlaying(false, "pause")
}

func (c *Controller) setPlaying(playing bool, op string) error {
	p := c.p
	p.mu.Lock()
	if err := c.checkSeekableLocked(op); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.st.playing == playing {
		p.mu.Unlock()
		return nil
	}
	p.st.playing = playing
	if playing {
		p.st.ended = false
		p.st.phase = PhaseRunning
	} else {
		p.st.phase = PhasePaused
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	slog.Info("pipeline: "+op, "position", snap.Position)
	p.signal()
	p.notify(snap)
	return nil
}

// SeekTo queues a seek to frame index k, clamped into [0, TotalFrames).
// Playback state is unchanged; a paused loop shows the target frame.
func (c *Controller) SeekTo(k int64) error {
	p := c.p
	p.mu.Lock()
	if err := c.checkSeekableLocked("seek"); err != nil {
		p.mu.Unlock()
		return err
	}
	k = capture.ClampIndex(k, p.st.desc.TotalFrames)
	p.pendingSeek = &k
	p.st.position = k
	p.st.ended = false
	snap := p.snapshotLocked()
	p.mu.Unlock()

	slog.Debug("pipeline: seek queued", "index", k)
	p.signal()
	p.notify(snap)
	return nil
}

// Restart seeks to the first frame and plays.
func (c *Controller) Restart() error {
	if err := c.SeekTo(0); err != nil {
		return err
	}
	return c.Play()
}

// Stop ends the session. See Pipeline.Stop.
func (c *Controller) Stop() {
	c.p.Stop()
}

// Snapshot returns the current pipeline state.
func (c *Controller) Snapshot() Snapshot {
	return c.p.Snapshot()
}

func (c *Controller) checkSeekableLocked(op string) error {
	p := c.p
	if !p.st.running || p.stopping {
		return ErrNotRunning
	}
	if !p.st.desc.Seekable {
		return &capture.CapabilityError{Op: op, Source: p.st.desc.Kind.String()}
	}
	return nil
}
