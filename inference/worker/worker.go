// Package worker implements inference.Model by delegating to an external
// detector process.
//
// Frames go to the process on stdin and results come back on stdout, both
// framed as a 4-byte big-endian length followed by a msgpack map. One
// request is in flight at a time; Predict blocks until its response
// arrives. There is no per-frame timeout.
//
//	┌─────────────┐ stdin (msgpack) ┌──────────────────┐
//	│  Predict()  │ ──────────────> │ detector process │
//	│             │ <────────────── │ (yolo_worker.py) │
//	└─────────────┘ stdout (msgpack)└──────────────────┘
//	                stderr -> slog
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-inspect/frame"
	"github.com/e7canasta/orion-inspect/inference"
)

// DefaultCommand runs the bundled detector script.
var DefaultCommand = []string{"python3", "models/yolo_worker.py"}

// ErrClosed is returned by Predict after Close.
var ErrClosed = errors.New("worker: closed")

// Config configures a worker process.
type Config struct {
	Command   []string // executable and leading args; "--model <path>" is appended
	ModelPath string
	ImageSize int // default: inference.DefaultImageSize
}

// Worker is a running detector process.
type Worker struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex // one request in flight
	seq    uint64
	closed atomic.Bool
	exited chan struct{}
	wg     sync.WaitGroup

	predictions uint64
	failures    uint64
}

// Start validates cfg and spawns the detector process.
func Start(ctx context.Context, cfg Config) (*Worker, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("worker: model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("worker: model not found: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = inference.DefaultImageSize
	}

	args := append(append([]string{}, cfg.Command[1:]...),
		"--model", cfg.ModelPath,
		"--imgsz", fmt.Sprint(cfg.ImageSize),
	)
	// The process outlives the ctx passed to Start; Close owns its lifetime.
	cmd := exec.Command(cfg.Command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker: start %s: %w", cfg.Command[0], err)
	}

	w := newWorker(cfg, stdin, stdout)
	w.cmd = cmd

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess()

	slog.Info("worker: detector process started",
		"pid", cmd.Process.Pid,
		"model", cfg.ModelPath,
		"imgsz", cfg.ImageSize,
	)
	return w, nil
}

func newWorker(cfg Config, stdin io.WriteCloser, stdout io.Reader) *Worker {
	return &Worker{
		cfg:    cfg,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}
}

// Loader returns an inference.Loader that starts a worker per model path.
func Loader(command []string, imageSize int) inference.Loader {
	return inference.LoaderFunc(func(ctx context.Context, path string) (inference.Model, error) {
		return Start(ctx, Config{Command: command, ModelPath: path, ImageSize: imageSize})
	})
}

// Predict sends img to the detector and waits for its result.
func (w *Worker) Predict(ctx context.Context, img *frame.RGB, confidence float64) (*inference.Result, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	req := request{
		Seq:        w.seq,
		FrameData:  img.Packed(),
		Width:      img.Width(),
		Height:     img.Height(),
		Confidence: confidence,
		ImageSize:  w.cfg.ImageSize,
	}
	if err := writeMessage(w.stdin, req); err != nil {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("worker: send frame: %w", err)
	}

	var resp response
	if err := readMessage(w.stdout, &resp); err != nil {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("worker: read result: %w", err)
	}
	if resp.Seq != req.Seq {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("worker: out of sync, sent seq %d got %d", req.Seq, resp.Seq)
	}
	if resp.Error != "" {
		atomic.AddUint64(&w.failures, 1)
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}

	atomic.AddUint64(&w.predictions, 1)
	return toResult(resp, img.Width(), img.Height()), nil
}

func toResult(resp response, width, height int) *inference.Result {
	res := &inference.Result{Detections: make([]inference.Detection, 0, len(resp.Detections))}
	for _, d := range resp.Detections {
		res.Detections = append(res.Detections, inference.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        image.Rect(int(d.X1), int(d.Y1), int(d.X2), int(d.Y2)),
		})
	}
	if ann := frame.FromBytes(resp.Annotated, width, height); ann != nil {
		res.Annotated = ann
	}
	return res
}

// Stats returns successful and failed prediction counts.
func (w *Worker) Stats() (predictions, failures uint64) {
	return atomic.LoadUint64(&w.predictions), atomic.LoadUint64(&w.failures)
}

// Close stops the detector: stdin is closed so it can exit on its own,
// and it is killed if still running after two seconds.
func (w *Worker) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	slog.Info("worker: stopping detector process")

	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.cmd == nil {
		return nil
	}

	select {
	case <-w.exited:
	case <-time.After(2 * time.Second):
		slog.Warn("worker: stop timeout, killing detector process")
		if err := w.cmd.Process.Kill(); err != nil {
			slog.Error("worker: kill failed", "error", err)
		}
	}
	w.wg.Wait()

	p, f := w.Stats()
	slog.Info("worker: detector process stopped", "predictions", p, "failures", f)
	return nil
}

// logStderr forwards detector logs, mapping Python log levels onto slog.
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("worker: detector error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("worker: detector warning", "log", line)
		default:
			slog.Debug("worker: detector log", "log", line)
		}
	}
}

// waitProcess reaps the process so it does not linger as a zombie.
func (w *Worker) waitProcess() {
	defer w.wg.Done()
	defer close(w.exited)

	err := w.cmd.Wait()
	switch {
	case err == nil:
		slog.Info("worker: detector process exited cleanly")
	case w.closed.Load():
		slog.Debug("worker: detector process exited (shutdown)", "error", err)
	default:
		slog.Error("worker: detector process exited unexpectedly", "error", err)
	}
}
