package pipeline

import (
	"errors"

	"github.com/e7canasta/orion-inspect/internal/fpsstats"
	"github.com/e7canasta/orion-inspect/source"
)

var (
	// ErrNoModel is returned by Start when no model has been loaded.
	ErrNoModel = errors.New("pipeline: load a model first")
	// ErrAlreadyRunning is returned by Start while a loop is active or still exiting.
	ErrAlreadyRunning = errors.New("pipeline: already running")
	// ErrNotRunning is returned by controller calls without an active session.
	ErrNotRunning = errors.New("pipeline: not running")
)

// Phase is the lifecycle stage of the loop.
//
//	Idle ──Start──> Running ⇄ Paused ──Stop──> Stopped ──Start──> Running
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePaused
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// state is the single authoritative pipeline state. Guarded by Pipeline.mu.
type state struct {
	phase    Phase
	running  bool // a loop goroutine owns a capture
	playing  bool
	ended    bool // the source reported end of stream; cleared by play or seek
	position int64
	lastFPS  float64

	desc        source.Descriptor
	frames      uint64
	detections  int
	inferErrors uint64
	lastError   string
}

// Snapshot is a read-only copy of the pipeline state.
type Snapshot struct {
	Phase       Phase             `json:"-"`
	PhaseName   string            `json:"phase"`
	Running     bool              `json:"running"`
	Playing     bool              `json:"playing"`
	Ended       bool              `json:"ended"`
	Position    int64             `json:"position"`
	TotalFrames int64             `json:"total_frames"`
	Seekable    bool              `json:"seekable"`
	LastFPS     float64           `json:"last_fps"`
	Source      source.Descriptor `json:"-"`
	SourceURI   string            `json:"source"`
	SourceKind  string            `json:"source_kind"`
	Title       string            `json:"title,omitempty"`

	Frames          uint64  `json:"frames"`
	Detections      int     `json:"detections"`
	InferenceErrors uint64  `json:"inference_errors"`
	LastError       string  `json:"last_error,omitempty"`
	MeanFPS         float64 `json:"mean_fps"`
	StableFPS       bool    `json:"stable_fps"`
	BufferDropped   uint64  `json:"buffer_dropped"`
}

func (s *state) snapshot(window fpsstats.Stats) Snapshot {
	return Snapshot{
		Phase:           s.phase,
		PhaseName:       s.phase.String(),
		Running:         s.running,
		Playing:         s.playing,
		Ended:           s.ended,
		Position:        s.position,
		TotalFrames:     s.desc.TotalFrames,
		Seekable:        s.desc.Seekable,
		LastFPS:         s.lastFPS,
		Source:          s.desc,
		SourceURI:       s.desc.URI,
		SourceKind:      s.desc.Kind.String(),
		Title:           s.desc.Title,
		Frames:          s.frames,
		Detections:      s.detections,
		InferenceErrors: s.inferErrors,
		LastError:       s.lastError,
		MeanFPS:         window.FPSMean,
		StableFPS:       window.IsStable,
	}
}
