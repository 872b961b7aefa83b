package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	d := Defaults()
	assert.Equal(t, "best.pt", s.ModelPath)
	assert.Equal(t, "0", s.Source)
	assert.InDelta(t, 0.30, s.Confidence, 1e-9)
	assert.Empty(t, s.CookieFile)
	assert.Equal(t, d.Worker, s.Worker)
	assert.Equal(t, d.Preview, s.Preview)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, `
model_path: weights/weld.pt
source: https://www.youtube.com/watch?v=abc
confidence: 0.55
cookie_file: cookies.txt
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: /line3/
`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "weights/weld.pt", s.ModelPath)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", s.Source)
	assert.InDelta(t, 0.55, s.Confidence, 1e-9)
	assert.Equal(t, "cookies.txt", s.CookieFile)
	assert.Equal(t, "tcp://localhost:1883", s.MQTT.Broker)
	assert.Equal(t, "line3", s.MQTT.TopicPrefix)
	assert.Equal(t, 640, s.Worker.ImageSize, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "confidence: 0.4\n")
	t.Setenv("INSPECT_CONFIDENCE", "0.7")
	t.Setenv("INSPECT_MQTT_BROKER", "tcp://broker:1883")

	s, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, s.Confidence, 1e-9)
	assert.Equal(t, "tcp://broker:1883", s.MQTT.Broker)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"confidence above one", "confidence: 1.5\n"},
		{"negative confidence", "confidence: -0.1\n"},
		{"empty source", "source: \"\"\n"},
		{"bad qos", "mqtt:\n  qos: 3\n"},
		{"broken yaml", "confidence: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.yaml")
			writeFile(t, path, tt.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave_ThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s := Defaults()
	s.ModelPath = "runs/best.pt"
	s.Source = "clip.mp4"
	s.Confidence = 0.45
	s.CookieFile = "/home/op/cookies.txt"

	require.NoError(t, Save(path, &s))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.ModelPath, got.ModelPath)
	assert.Equal(t, s.Source, got.Source)
	assert.InDelta(t, s.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, s.CookieFile, got.CookieFile)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file removed")
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s := Defaults()
	s.Confidence = 2

	assert.ErrorIs(t, Save(path, &s), ErrConfidenceRange)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLive_SetConfidence(t *testing.T) {
	s := Defaults()
	l := NewLive(&s)
	assert.InDelta(t, 0.30, l.Confidence(), 1e-9)

	require.NoError(t, l.SetConfidence(0.9))
	assert.InDelta(t, 0.9, l.Confidence(), 1e-9)

	assert.ErrorIs(t, l.SetConfidence(1.01), ErrConfidenceRange)
	assert.InDelta(t, 0.9, l.Confidence(), 1e-9, "rejected value leaves the old one")
}

func TestWatch_ReloadsConfidence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, "confidence: 0.3\n")

	s, err := Load(path)
	require.NoError(t, err)
	l := NewLive(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan *Settings, 4)
	done := make(chan error, 1)
	onChange := func(s *Settings) {
		select {
		case changed <- s:
		default:
		}
	}
	go func() { done <- Watch(ctx, path, l, onChange) }()

	// The watcher registers asynchronously; keep writing until it notices.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("confidence: 0.65\n"), 0o644)
		return l.Confidence() == 0.65
	}, 3*time.Second, 50*time.Millisecond)

	select {
	case got := <-changed:
		assert.InDelta(t, 0.65, got.Confidence, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("onChange not called")
	}

	// An invalid file is ignored. Replace by rename so no event sees it half written.
	tmp := filepath.Join(dir, "next.yaml")
	writeFile(t, tmp, "confidence: 4\n")
	require.NoError(t, os.Rename(tmp, path))
	time.Sleep(100 * time.Millisecond)
	assert.InDelta(t, 0.65, l.Confidence(), 1e-9)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestReload_KeepsLiveConfidenceWhenFileOmitsIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "source: clip.mp4\n")

	s := Defaults()
	l := NewLive(&s)
	require.NoError(t, l.SetConfidence(0.8)) // e.g. from --confidence or set_confidence

	var got *Settings
	reload(path, l, func(s *Settings) { got = s })
	assert.InDelta(t, 0.8, l.Confidence(), 1e-9)
	require.NotNil(t, got)
	assert.Equal(t, "clip.mp4", got.Source)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)

	writeFile(t, path, "source: clip.mp4\nconfidence: 0.45\n")
	reload(path, l, nil)
	assert.InDelta(t, 0.45, l.Confidence(), 1e-9)
}

func TestReload_FileValueBeatsEnvironment(t *testing.T) {
	t.Setenv("INSPECT_CONFIDENCE", "0.9")
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeFile(t, path, "confidence: 0.4\n")

	s := Defaults()
	l := NewLive(&s)
	reload(path, l, nil)
	assert.InDelta(t, 0.4, l.Confidence(), 1e-9, "the edited file is what changed")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
