// Package session is the operator-facing service: it loads the model,
// resolves and starts sources, forwards transport commands to the pipeline
// and keeps the single current-status message shown to the operator.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/inference"
	"github.com/e7canasta/orion-inspect/pipeline"
	"github.com/e7canasta/orion-inspect/settings"
	"github.com/e7canasta/orion-inspect/source"
)

// ErrNoFrame is returned by Snapshot when nothing has been rendered yet.
var ErrNoFrame = errors.New("session: no frame to save")

// Resolver turns operator input into a source descriptor.
type Resolver interface {
	Resolve(ctx context.Context, input, cookieFile string) (source.Descriptor, error)
}

// SnapshotWriter persists a frame and returns the file it wrote.
type SnapshotWriter interface {
	Write(f *frame.Frame) (string, error)
}

// Config wires a Service.
type Config struct {
	Settings  *settings.Settings
	Live      *settings.Live
	Resolver  Resolver
	Loader    inference.Loader
	Pipeline  *pipeline.Pipeline
	Snapshots SnapshotWriter

	// DownloadDir is removed on Close when set.
	DownloadDir string
}

// Status is what the operator sees.
type Status struct {
	Message    string            `json:"message"`
	ModelPath  string            `json:"model_path,omitempty"`
	Confidence float64           `json:"confidence"`
	Pipeline   pipeline.Snapshot `json:"pipeline"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Service owns the model and the session lifecycle.
type Service struct {
	cfg Config
	ctl *pipeline.Controller

	mu        sync.Mutex
	settings  settings.Settings
	model     inference.Model
	modelPath string
	message   string
	updatedAt time.Time
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("session: settings are required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("session: resolver is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("session: model loader is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("session: pipeline is required")
	}
	if cfg.Live == nil {
		cfg.Live = settings.NewLive(cfg.Settings)
	}

	s := &Service{
		cfg:      cfg,
		ctl:      pipeline.NewController(cfg.Pipeline),
		settings: *cfg.Settings,
	}
	s.setStatus("ready")
	return s, nil
}

// Controller exposes the transport controls.
func (s *Service) Controller() *pipeline.Controller { return s.ctl }

// LoadModel loads weights from path, or from the configured model path when
// path is empty, and installs them into the pipeline. A running loop picks
// the new model up on its next frame.
func (s *Service) LoadModel(ctx context.Context, path string) error {
	if path == "" {
		path = s.Settings().ModelPath
	}
	if _, err := os.Stat(path); err != nil {
		s.setStatus(fmt.Sprintf("model not found: %s", path))
		return fmt.Errorf("session: model %s: %w", path, err)
	}

	m, err := s.cfg.Loader.Load(ctx, path)
	if err != nil {
		s.setStatus(fmt.Sprintf("failed to load model: %v", err))
		return fmt.Errorf("session: load model %s: %w", path, err)
	}

	s.mu.Lock()
	old := s.model
	s.model = m
	s.modelPath = path
	s.settings.ModelPath = path
	s.mu.Unlock()

	s.cfg.Pipeline.SetModel(m)
	closeModel(old)

	s.setStatus(fmt.Sprintf("model loaded: %s", filepath.Base(path)))
	return nil
}

// Start resolves input (the configured source when empty) and starts the
// pipeline on it.
func (s *Service) Start(ctx context.Context, input string) error {
	if !s.cfg.Pipeline.HasModel() {
		s.setStatus("load a model first")
		return pipeline.ErrNoModel
	}
	if s.cfg.Pipeline.Snapshot().Running {
		return pipeline.ErrAlreadyRunning
	}

	st := s.Settings()
	if input == "" {
		input = st.Source
	}

	s.setStatus(fmt.Sprintf("resolving %s", input))
	desc, err := s.cfg.Resolver.Resolve(ctx, input, st.CookieFile)
	if err != nil {
		s.setStatus(statusFor(err))
		return err
	}

	if err := s.cfg.Pipeline.Start(ctx, desc); err != nil {
		s.setStatus(statusFor(err))
		return err
	}

	s.mu.Lock()
	s.settings.Source = input
	s.mu.Unlock()

	label := desc.URI
	if desc.Title != "" {
		label = desc.Title
	}
	s.setStatus(fmt.Sprintf("started %s (%s)", label, desc.Kind))
	return nil
}

// Stop ends the running session.
func (s *Service) Stop() {
	if !s.cfg.Pipeline.Snapshot().Running {
		return
	}
	s.ctl.Stop()
	s.setStatus("stopped")
}

// Play resumes a paused file.
func (s *Service) Play() error { return s.transport("playing", s.ctl.Play) }

// Pause pauses a file.
func (s *Service) Pause() error { return s.transport("paused", s.ctl.Pause) }

// Restart rewinds a file and plays it.
func (s *Service) Restart() error { return s.transport("restarted", s.ctl.Restart) }

// Seek moves a file to frame k.
func (s *Service) Seek(k int64) error {
	return s.transport(fmt.Sprintf("frame %d", k), func() error { return s.ctl.SeekTo(k) })
}

func (s *Service) transport(ok string, fn func() error) error {
	if err := fn(); err != nil {
		s.setStatus(statusFor(err))
		return err
	}
	s.setStatus(ok)
	return nil
}

// SetConfidence changes the detection threshold for subsequent frames.
func (s *Service) SetConfidence(v float64) error {
	if err := s.cfg.Live.SetConfidence(v); err != nil {
		s.setStatus(statusFor(err))
		return err
	}
	s.mu.Lock()
	s.settings.Confidence = v
	s.mu.Unlock()
	s.setStatus(fmt.Sprintf("confidence %.2f", v))
	return nil
}

// Confidence returns the live detection threshold.
func (s *Service) Confidence() float64 { return s.cfg.Live.Confidence() }

// Snapshot writes the most recently rendered frame.
func (s *Service) Snapshot() (string, error) {
	if s.cfg.Snapshots == nil {
		return "", fmt.Errorf("session: snapshots are not configured")
	}
	f, ok := s.cfg.Pipeline.Buffer().Latest()
	if !ok {
		return "", ErrNoFrame
	}
	path, err := s.cfg.Snapshots.Write(f)
	if err != nil {
		s.setStatus(fmt.Sprintf("failed to save snapshot: %v", err))
		return "", err
	}
	s.setStatus(fmt.Sprintf("snapshot saved: %s", filepath.Base(path)))
	return path, nil
}

// Settings returns the current settings, including changes made through
// the service, for an explicit save.
func (s *Service) Settings() settings.Settings {
	s.mu.Lock()
	out := s.settings
	s.mu.Unlock()
	out.Confidence = s.cfg.Live.Confidence()
	return out
}

// Status returns the current-status message with the pipeline state.
func (s *Service) Status() Status {
	p := s.cfg.Pipeline.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Message:    s.message,
		ModelPath:  s.modelPath,
		Confidence: s.cfg.Live.Confidence(),
		Pipeline:   p,
		UpdatedAt:  s.updatedAt,
	}
}

// Close stops the pipeline, waits for the loop to exit, unloads the model
// and removes downloaded media.
func (s *Service) Close(ctx context.Context) error {
	s.ctl.Stop()
	err := s.cfg.Pipeline.Wait(ctx)

	s.mu.Lock()
	m := s.model
	s.model = nil
	s.mu.Unlock()
	s.cfg.Pipeline.SetModel(nil)
	closeModel(m)

	if s.cfg.DownloadDir != "" {
		if rerr := os.RemoveAll(s.cfg.DownloadDir); rerr != nil {
			slog.Warn("session: failed to remove downloads", "dir", s.cfg.DownloadDir, "error", rerr)
		}
	}
	return err
}

func (s *Service) setStatus(msg string) {
	s.mu.Lock()
	s.message = msg
	s.updatedAt = time.Now()
	s.mu.Unlock()
	slog.Info("session: " + msg)
}

func closeModel(m inference.Model) {
	c, ok := m.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("session: failed to close model", "error", err)
	}
}
