package settings

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Live holds the values that may change while a session runs. The
// pipeline reads Confidence on every inference call.
type Live struct {
	confidence atomic.Uint64
}

// NewLive returns a Live seeded from s.
func NewLive(s *Settings) *Live {
	l := &Live{}
	l.confidence.Store(math.Float64bits(s.Confidence))
	return l
}

// Confidence returns the current detection threshold.
func (l *Live) Confidence() float64 {
	return math.Float64frombits(l.confidence.Load())
}

// SetConfidence validates and stores v.
func (l *Live) SetConfidence(v float64) error {
	if err := ValidateConfidence(v); err != nil {
		return err
	}
	old := math.Float64frombits(l.confidence.Swap(math.Float64bits(v)))
	if old != v {
		slog.Info("settings: confidence changed", "from", old, "to", v)
	}
	return nil
}

// Watch reloads path whenever it is written and applies the result to l,
// then calls onChange if set. Invalid files are logged and ignored. Blocks
// until ctx is done.
//
// The parent directory is watched so editors that replace the file by
// rename are seen too.
func Watch(ctx context.Context, path string, l *Live, onChange func(*Settings)) error {
	if path == "" {
		path = DefaultFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("settings: resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("settings: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			slog.Debug("settings: file event", "op", ev.Op.String(), "file", ev.Name)
			reload(path, l, onChange)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("settings: watcher error", "error", err)
		}
	}
}

// reload validates the whole file but only touches the live confidence when
// the file itself sets it, so a flag or a set_confidence value survives
// edits to unrelated keys.
func reload(path string, l *Live, onChange func(*Settings)) {
	s, err := Load(path)
	if err != nil {
		slog.Warn("settings: reload failed, keeping current values", "path", path, "error", err)
		return
	}

	if v, ok := fileConfidence(path); ok {
		if err := l.SetConfidence(v); err != nil {
			slog.Warn("settings: reload rejected", "path", path, "error", err)
			return
		}
	} else {
		slog.Debug("settings: confidence not set in file, keeping live value", "path", path)
	}
	s.Confidence = l.Confidence()

	if onChange != nil {
		onChange(s)
	}
}

// fileConfidence reads the confidence key from path alone, without
// defaults, environment or flags.
func fileConfidence(path string) (float64, bool) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return 0, false
	}
	if !v.InConfig("confidence") {
		return 0, false
	}
	return v.GetFloat64("confidence"), true
}
