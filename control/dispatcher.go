// Package control turns operator commands from the network into calls on
// the inspection session. Commands arrive as JSON over MQTT or the preview
// websocket; every command gets exactly one Response.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/e7canasta/orion-inspect/session"
	"github.com/e7canasta/orion-inspect/settings"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Service is the part of the session the dispatcher drives.
type Service interface {
	LoadModel(ctx context.Context, path string) error
	Start(ctx context.Context, input string) error
	Stop()
	Play() error
	Pause() error
	Seek(k int64) error
	Restart() error
	SetConfidence(v float64) error
	Snapshot() (string, error)
	AnalyzeImage(ctx context.Context, path string) (int, error)
	Settings() settings.Settings
	Status() session.Status
}

// Dispatcher executes commands against a Service.
type Dispatcher struct {
	svc Service

	// SettingsPath is where save_settings writes. Empty uses settings.DefaultFile.
	SettingsPath string
}

// NewDispatcher returns a Dispatcher for svc.
func NewDispatcher(svc Service) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// Handle executes cmd and builds its response. Errors from the service are
// reported in the response, never returned.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: StatusSuccess}

	var err error
	switch cmd.Command {
	case "get_status":
		resp.Data = map[string]any{"status": d.svc.Status()}

	case "load_model":
		path, _ := stringParam(cmd.Params, "path")
		err = d.svc.LoadModel(ctx, path)

	case "start":
		src, _ := stringParam(cmd.Params, "source")
		err = d.svc.Start(ctx, src)

	case "stop":
		d.svc.Stop()

	case "play":
		err = d.svc.Play()

	case "pause":
		err = d.svc.Pause()

	case "restart":
		err = d.svc.Restart()

	case "seek":
		var k int64
		if k, err = intParam(cmd.Params, "frame"); err == nil {
			err = d.svc.Seek(k)
		}

	case "set_confidence":
		var v float64
		if v, err = floatParam(cmd.Params, "value"); err == nil {
			err = d.svc.SetConfidence(v)
		}

	case "snapshot":
		var path string
		if path, err = d.svc.Snapshot(); err == nil {
			resp.Data = map[string]any{"path": path}
		}

	case "analyze_image":
		var path string
		if path, err = stringParam(cmd.Params, "path"); err == nil {
			var n int
			if n, err = d.svc.AnalyzeImage(ctx, path); err == nil {
				resp.Data = map[string]any{"detections": n}
			}
		}

	case "save_settings":
		s := d.svc.Settings()
		err = settings.Save(d.SettingsPath, &s)

	default:
		err = fmt.Errorf("unknown command: %s", cmd.Command)
	}

	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		slog.Warn("control: command failed", "command", cmd.Command, "error", err)
	} else {
		slog.Debug("control: command handled", "command", cmd.Command)
	}
	if resp.Status == StatusSuccess && resp.Data == nil {
		resp.Data = map[string]any{"message": d.svc.Status().Message}
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return resp
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing '%s' parameter", key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("invalid '%s' parameter (expected string)", key)
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing '%s' parameter", key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s' parameter: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid '%s' parameter (expected number)", key)
	}
}

func intParam(params map[string]any, key string) (int64, error) {
	f, err := floatParam(params, key)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid '%s' parameter (expected integer)", key)
	}
	return int64(f), nil
}
