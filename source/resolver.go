package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/e7canasta/orion-inspect/internal/retry"
)

const (
	// DownloadFormat prefers an mp4 video track plus best audio, else the best single file.
	DownloadFormat = "mp4[ext=mp4]+bestaudio/best"
	// OutputTemplate names downloads after the remote video id.
	OutputTemplate = "yt_video_%(id)s.%(ext)s"
	// downloadPrefix matches OutputTemplate for the newest-file fallback.
	downloadPrefix = "yt_video_"
)

// Variant is one downloadable rendition reported by the probe.
type Variant struct {
	FormatID string
	Protocol string
	Ext      string
	URL      string
}

// ProbeResult is the remote metadata relevant to playback.
type ProbeResult struct {
	ID       string
	Title    string
	Variants []Variant
}

// DownloadRequest describes one download attempt.
type DownloadRequest struct {
	URL            string
	Dir            string
	Format         string
	OutputTemplate string
	CookieFile     string
}

// Extractor talks to the remote sharing site.
type Extractor interface {
	// Probe fetches metadata and candidate direct URLs without downloading.
	Probe(ctx context.Context, url, cookieFile string) (*ProbeResult, error)
	// Download fetches the video into req.Dir and returns the file path,
	// or "" if the extractor could not report it.
	Download(ctx context.Context, req DownloadRequest) (string, error)
}

// Opener test-opens a direct URL with the decoder.
type Opener interface {
	CanOpen(ctx context.Context, uri string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, uri string) error

func (f OpenerFunc) CanOpen(ctx context.Context, uri string) error { return f(ctx, uri) }

// Config configures a Resolver.
type Config struct {
	Extractor Extractor
	Opener    Opener
	TempDir   string       // default: $TMPDIR/orion-inspect
	Retry     retry.Config // default: retry.DefaultConfig()
}

// Resolver turns a source string into a Descriptor.
type Resolver struct {
	extractor Extractor
	opener    Opener
	tempDir   string
	retry     retry.Config
}

// DefaultTempDir is the process-scoped download directory.
func DefaultTempDir() string {
	return filepath.Join(os.TempDir(), "orion-inspect")
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("source: extractor is required")
	}
	if cfg.Opener == nil {
		return nil, fmt.Errorf("source: opener is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultTempDir()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	return &Resolver{
		extractor: cfg.Extractor,
		opener:    cfg.Opener,
		tempDir:   cfg.TempDir,
		retry:     cfg.Retry,
	}, nil
}

// TempDir returns the download directory.
func (r *Resolver) TempDir() string { return r.tempDir }

// Resolve classifies input and, for remote URLs, runs the two-phase
// probe-then-download protocol. cookieFile, if set, is passed to both phases.
//
// Classification order:
//  1. Non-negative integer        -> device
//  2. Existing character device   -> device (e.g. /dev/video0)
//  3. Other existing local path   -> file (seekable); directories are malformed
//  4. rtsp/rtmp/srt/udp URL       -> stream, opened directly
//  5. http(s) URL                 -> probe + test-open, else download
func (r *Resolver) Resolve(ctx context.Context, input, cookieFile string) (Descriptor, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Descriptor{}, &ResolutionError{Kind: ErrMalformed, Input: input}
	}

	if isDeviceIndex(input) {
		return Descriptor{Kind: KindDevice, URI: input}, nil
	}

	if fi, err := os.Stat(input); err == nil {
		switch {
		case fi.Mode()&os.ModeCharDevice != 0:
			return Descriptor{Kind: KindDevice, URI: input}, nil
		case fi.IsDir():
			return Descriptor{}, &ResolutionError{Kind: ErrMalformed, Input: input, Cause: fmt.Errorf("%s is a directory", input)}
		default:
			return Descriptor{Kind: KindFile, URI: input, Seekable: true}, nil
		}
	}

	u, ok := parseRemote(input)
	if !ok {
		return Descriptor{}, &ResolutionError{Kind: ErrMalformed, Input: input}
	}
	if directSchemes[strings.ToLower(u.Scheme)] {
		return Descriptor{Kind: KindStream, URI: input}, nil
	}

	canonical := Canonicalize(input)
	if canonical != input {
		slog.Info("source: canonicalized short url", "from", input, "to", canonical)
	}

	desc, err := r.tryDirect(ctx, canonical, cookieFile)
	if err == nil {
		return desc, nil
	}
	if ctx.Err() != nil {
		return Descriptor{}, ctx.Err()
	}
	slog.Info("source: direct stream unavailable, downloading", "url", canonical, "reason", err)

	return r.download(ctx, input, canonical, cookieFile, desc.Title)
}

// tryDirect runs the probe phase. On failure the returned descriptor may
// still carry the remote title.
func (r *Resolver) tryDirect(ctx context.Context, url, cookieFile string) (Descriptor, error) {
	probe, err := r.extractor.Probe(ctx, url, cookieFile)
	if err != nil {
		return Descriptor{}, fmt.Errorf("probe: %w", err)
	}

	candidate := SelectVariant(probe.Variants)
	if candidate == "" {
		return Descriptor{Title: probe.Title}, fmt.Errorf("probe: no direct variant")
	}

	if err := r.opener.CanOpen(ctx, candidate); err != nil {
		return Descriptor{Title: probe.Title}, fmt.Errorf("test open: %w", err)
	}

	slog.Info("source: using direct stream", "url", url, "title", probe.Title)
	return Descriptor{Kind: KindStream, URI: candidate, Title: probe.Title}, nil
}

func (r *Resolver) download(ctx context.Context, input, url, cookieFile, title string) (Descriptor, error) {
	if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
		return Descriptor{}, &ResolutionError{Kind: ErrUnknown, Input: input, Cause: fmt.Errorf("create temp dir: %w", err)}
	}

	req := DownloadRequest{
		URL:            url,
		Dir:            r.tempDir,
		Format:         DownloadFormat,
		OutputTemplate: OutputTemplate,
		CookieFile:     cookieFile,
	}

	var path string
	err := retry.Do(ctx, r.retry, Retryable, func(ctx context.Context, attempt int) error {
		slog.Info("source: downloading", "url", url, "attempt", attempt)
		p, err := r.extractor.Download(ctx, req)
		if err != nil {
			return err
		}
		path = p
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Descriptor{}, ctx.Err()
		}
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			return Descriptor{}, rerr
		}
		return Descriptor{}, &ResolutionError{Kind: Classify(err), Input: input, Cause: err}
	}

	if path == "" {
		path = newestDownload(r.tempDir)
	}
	fi, statErr := os.Stat(path)
	if path == "" || statErr != nil || fi.Size() == 0 {
		return Descriptor{}, &ResolutionError{Kind: ErrEmptyResult, Input: input, Cause: statErr}
	}

	slog.Info("source: download complete", "path", path, "size_bytes", fi.Size())
	return Descriptor{Kind: KindFile, URI: path, Seekable: true, Title: title}, nil
}

// SelectVariant picks a direct URL from the probe variants, walking them from
// last to first (extractors list best last). A variant qualifies if its
// protocol is http(s) or a native HLS/DASH protocol, and it is an mp4/webm
// container or its protocol is itself a manifest protocol. Without a match
// the last variant with a URL is returned.
func SelectVariant(variants []Variant) string {
	fallback := ""
	for i := len(variants) - 1; i >= 0; i-- {
		v := variants[i]
		if v.URL == "" {
			continue
		}
		if fallback == "" {
			fallback = v.URL
		}
		proto := strings.ToLower(v.Protocol)
		if !acceptedProtocols[proto] {
			continue
		}
		ext := strings.ToLower(v.Ext)
		if ext == "mp4" || ext == "webm" || strings.Contains(proto, "dash") || strings.Contains(proto, "m3u8") {
			return v.URL
		}
	}
	return fallback
}

var acceptedProtocols = map[string]bool{
	"https":       true,
	"http":        true,
	"m3u8_native": true,
	"m3u8_dash":   true,
}

func isDeviceIndex(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// newestDownload returns the most recently modified download in dir, or "".
func newestDownload(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	type candidate struct {
		path string
		mod  int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), downloadPrefix) || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })
	return files[0].path
}
