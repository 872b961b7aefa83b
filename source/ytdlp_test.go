package source

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "id": "abc",
  "title": "Weld bead inspection",
  "formats": [
    {"format_id": "sb0", "protocol": "mhtml", "ext": "mhtml", "url": "https://i.ytimg.com/sb"},
    {"format_id": "18", "protocol": "https", "ext": "mp4", "url": "https://rr1.googlevideo.com/18"},
    {"format_id": "251", "protocol": "https", "ext": "webm", "url": "https://rr1.googlevideo.com/251"}
  ]
}`

func TestParseProbe(t *testing.T) {
	res, err := parseProbe([]byte(probeJSON))
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
	assert.Equal(t, "Weld bead inspection", res.Title)
	require.Len(t, res.Variants, 3)
	assert.Equal(t, "https://rr1.googlevideo.com/251", SelectVariant(res.Variants))
}

func TestParseProbe_SingleURL(t *testing.T) {
	res, err := parseProbe([]byte(`{"id":"x","url":"https://cdn/direct.mp4"}`))
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)
	assert.Equal(t, "https://cdn/direct.mp4", res.Variants[0].URL)
}

func TestParseProbe_Invalid(t *testing.T) {
	_, err := parseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "/tmp/x.mp4", lastLine([]byte("[info] stuff\n/tmp/x.mp4\n\n")))
	assert.Equal(t, "", lastLine(nil))
}

// writeScript installs a fake yt-dlp that prints canned output.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestYTDLP_ProbeRunsBinary(t *testing.T) {
	bin := writeScript(t, "cat <<'EOF'\n"+probeJSON+"\nEOF\n")

	res, err := NewYTDLP(bin).Probe(context.Background(), "https://www.youtube.com/watch?v=abc", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
}

func TestYTDLP_ErrorCarriesStderr(t *testing.T) {
	bin := writeScript(t, "echo 'ERROR: [youtube] abc: HTTP Error 400: Bad Request' >&2\nexit 1\n")

	_, err := NewYTDLP(bin).Download(context.Background(), DownloadRequest{
		URL: "https://www.youtube.com/watch?v=abc", Dir: t.TempDir(),
		Format: DownloadFormat, OutputTemplate: OutputTemplate,
	})
	require.Error(t, err)
	assert.Equal(t, ErrForbidden, Classify(err))
}

func TestYTDLP_DownloadReturnsPrintedPath(t *testing.T) {
	bin := writeScript(t, "echo '[download] Destination: x'\necho '/tmp/orion-inspect/yt_video_abc.mp4'\n")

	path, err := NewYTDLP(bin).Download(context.Background(), DownloadRequest{URL: "u", Dir: "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/orion-inspect/yt_video_abc.mp4", path)
}

func TestDownloadArgs_SingleRetryLayer(t *testing.T) {
	args := downloadArgs(DownloadRequest{
		URL:            "https://www.youtube.com/watch?v=abc",
		Dir:            "/tmp/orion-inspect",
		Format:         DownloadFormat,
		OutputTemplate: OutputTemplate,
		CookieFile:     "cookies.txt",
	})

	assert.Equal(t, []string{
		"--no-playlist",
		"--geo-bypass",
		"--no-progress",
		"--no-warnings",
		"-f", DownloadFormat,
		"-o", filepath.Join("/tmp/orion-inspect", OutputTemplate),
		"--retries", "0",
		"--fragment-retries", "0",
		"--print", "after_move:filepath",
		"--cookies", "cookies.txt",
		"https://www.youtube.com/watch?v=abc",
	}, args)
}

func TestYTDLP_DownloadPassesArgs(t *testing.T) {
	bin := writeScript(t, "for a in \"$@\"; do echo \"$a\"; done >&2\nexit 1\n")

	_, err := NewYTDLP(bin).Download(context.Background(), DownloadRequest{URL: "https://example.com/v", Dir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/v", "URL is the last argument")
}
