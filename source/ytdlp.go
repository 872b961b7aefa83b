package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// YTDLP is an Extractor backed by the yt-dlp command line tool.
//
// yt-dlp's own retries are disabled: the Resolver owns the retry budget,
// so one transient failure costs at most retry.DefaultConfig().MaxAttempts
// downloads.
type YTDLP struct {
	// Binary is the executable name or path (default: "yt-dlp").
	Binary string
}

// NewYTDLP returns a YTDLP extractor using binary, or "yt-dlp" if empty.
func NewYTDLP(binary string) *YTDLP {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLP{Binary: binary}
}

type ytdlpInfo struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Formats []struct {
		FormatID string `json:"format_id"`
		URL      string `json:"url"`
		Protocol string `json:"protocol"`
		Ext      string `json:"ext"`
	} `json:"formats"`
}

// Probe runs `yt-dlp -J` and returns the advertised formats.
func (y *YTDLP) Probe(ctx context.Context, url, cookieFile string) (*ProbeResult, error) {
	args := []string{"-J", "--no-playlist", "--geo-bypass", "--no-warnings"}
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	args = append(args, url)

	out, err := y.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

// Download fetches the video and returns the final file path printed by yt-dlp.
func (y *YTDLP) Download(ctx context.Context, req DownloadRequest) (string, error) {
	out, err := y.run(ctx, downloadArgs(req))
	if err != nil {
		return "", err
	}
	return lastLine(out), nil
}

func downloadArgs(req DownloadRequest) []string {
	args := []string{
		"--no-playlist",
		"--geo-bypass",
		"--no-progress",
		"--no-warnings",
		"-f", req.Format,
		"-o", filepath.Join(req.Dir, req.OutputTemplate),
		"--retries", "0",
		"--fragment-retries", "0",
		"--print", "after_move:filepath",
	}
	if req.CookieFile != "" {
		args = append(args, "--cookies", req.CookieFile)
	}
	return append(args, req.URL)
}

func (y *YTDLP) run(ctx context.Context, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("source: running extractor", "binary", y.Binary, "args", args)

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return nil, fmt.Errorf("%s: %w", y.Binary, err)
		}
		return nil, fmt.Errorf("%s: %s: %w", y.Binary, lastLine([]byte(detail)), err)
	}
	return stdout.Bytes(), nil
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode probe output: %w", err)
	}

	res := &ProbeResult{ID: info.ID, Title: info.Title}
	for _, f := range info.Formats {
		res.Variants = append(res.Variants, Variant{
			FormatID: f.FormatID,
			Protocol: f.Protocol,
			Ext:      f.Ext,
			URL:      f.URL,
		})
	}
	if len(res.Variants) == 0 && info.URL != "" {
		res.Variants = []Variant{{URL: info.URL}}
	}
	return res, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
