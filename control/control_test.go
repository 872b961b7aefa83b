package control

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-inspect/capture"
	"github.com/e7canasta/orion-inspect/session"
	"github.com/e7canasta/orion-inspect/settings"
)

type fakeService struct {
	mu      sync.Mutex
	calls   []string
	seekArg int64
	conf    float64
	source  string
	err     error
}

func (f *fakeService) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeService) LoadModel(ctx context.Context, path string) error {
	return f.record("load_model:" + path)
}

func (f *fakeService) Start(ctx context.Context, input string) error {
	f.source = input
	return f.record("start")
}

func (f *fakeService) Stop() { _ = f.record("stop") }
func (f *fakeService) Play() error { return f.record("play") }
func (f *fakeService) Pause() error { return f.record("pause") }
func (f *fakeService) Restart() error { return f.record("restart") }

func (f *fakeService) Seek(k int64) error {
	f.seekArg = k
	return f.record("seek")
}

func (f *fakeService) SetConfidence(v float64) error {
	f.conf = v
	return f.record("set_confidence")
}

func (f *fakeService) Snapshot() (string, error) {
	return "snapshot_1.jpg", f.record("snapshot")
}

func (f *fakeService) AnalyzeImage(ctx context.Context, path string) (int, error) {
	return 3, f.record("analyze_image:" + path)
}

func (f *fakeService) Settings() settings.Settings {
	s := settings.Defaults()
	s.Confidence = 0.5
	return s
}

func (f *fakeService) Status() session.Status {
	return session.Status{Message: "ready", Confidence: f.conf}
}

func TestDispatcher_Commands(t *testing.T) {
	tests := []struct {
		name  string
		cmd   Command
		check func(t *testing.T, svc *fakeService, resp Response)
	}{
		{
			name: "start with source",
			cmd:  Command{Command: "start", Params: map[string]any{"source": "https://youtu.be/abc"}},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Equal(t, "https://youtu.be/abc", svc.source)
			},
		},
		{
			name: "start with device index as number",
			cmd:  Command{Command: "start", Params: map[string]any{"source": float64(1)}},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Equal(t, "1", svc.source)
			},
		},
		{
			name: "start without params uses configured source",
			cmd:  Command{Command: "start"},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Empty(t, svc.source)
			},
		},
		{
			name: "seek",
			cmd:  Command{Command: "seek", Params: map[string]any{"frame": float64(120)}},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Equal(t, int64(120), svc.seekArg)
			},
		},
		{
			name: "set confidence from string",
			cmd:  Command{Command: "set_confidence", Params: map[string]any{"value": "0.45"}},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.InDelta(t, 0.45, svc.conf, 1e-9)
			},
		},
		{
			name: "snapshot returns path",
			cmd:  Command{Command: "snapshot"},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Equal(t, "snapshot_1.jpg", resp.Data["path"])
			},
		},
		{
			name: "analyze image returns detection count",
			cmd:  Command{Command: "analyze_image", Params: map[string]any{"path": "/data/weld_01.png"}},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				assert.Equal(t, []string{"analyze_image:/data/weld_01.png"}, svc.calls)
				assert.Equal(t, 3, resp.Data["detections"])
			},
		},
		{
			name: "get status",
			cmd:  Command{Command: "get_status"},
			check: func(t *testing.T, svc *fakeService, resp Response) {
				st, ok := resp.Data["status"].(session.Status)
				require.True(t, ok)
				assert.Equal(t, "ready", st.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			resp := NewDispatcher(svc).Handle(context.Background(), tt.cmd)
			assert.Equal(t, StatusSuccess, resp.Status, resp.Error)
			assert.Equal(t, tt.cmd.Command, resp.CommandAck)
			assert.NotEmpty(t, resp.Timestamp)
			tt.check(t, svc, resp)
		})
	}
}

func TestDispatcher_Transport(t *testing.T) {
	svc := &fakeService{}
	d := NewDispatcher(svc)
	for _, c := range []string{"play", "pause", "restart", "stop"} {
		resp := d.Handle(context.Background(), Command{Command: c})
		assert.Equal(t, StatusSuccess, resp.Status)
		assert.Equal(t, "ready", resp.Data["message"])
	}
	assert.Equal(t, []string{"play", "pause", "restart", "stop"}, svc.calls)
}

func TestDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		svcErr  error
		wantErr string
	}{
		{"unknown command", Command{Command: "self_destruct"}, nil, "unknown command: self_destruct"},
		{"seek without frame", Command{Command: "seek"}, nil, "missing 'frame' parameter"},
		{"seek with fraction", Command{Command: "seek", Params: map[string]any{"frame": 1.5}}, nil, "expected integer"},
		{"confidence wrong type", Command{Command: "set_confidence", Params: map[string]any{"value": true}}, nil, "expected number"},
		{
			"capability error surfaces",
			Command{Command: "pause"},
			&capture.CapabilityError{Op: "pause", Source: "device"},
			"pause not supported on device source",
		},
		{"service failure", Command{Command: "play"}, errors.New("boom"), "boom"},
		{"analyze image without path", Command{Command: "analyze_image"}, nil, "missing 'path' parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.svcErr}
			resp := NewDispatcher(svc).Handle(context.Background(), tt.cmd)
			assert.Equal(t, StatusError, resp.Status)
			assert.Contains(t, resp.Error, tt.wantErr)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestDispatcher_SaveSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	d := NewDispatcher(&fakeService{})
	d.SettingsPath = path

	resp := d.Handle(context.Background(), Command{Command: "save_settings"})
	require.Equal(t, StatusSuccess, resp.Status, resp.Error)

	s, err := settings.Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.Confidence, 1e-9)
}

// fakeClient implements the parts of mqtt.Client the listener uses.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published map[string][][]byte
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (t doneToken) Error() error { return t.err }

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return doneToken{} }
func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = map[string][][]byte{}
	}
	c.published[topic] = append(c.published[topic], payload.([]byte))
	return doneToken{}
}

func (c *fakeClient) responses(topic string) []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Response
	for _, p := range c.published[topic] {
		var r Response
		_ = json.Unmarshal(p, &r)
		out = append(out, r)
	}
	return out
}

func TestMQTTListener_RoundTrip(t *testing.T) {
	client := &fakeClient{}
	svc := &fakeService{}
	l := NewMQTTListener(client, NewDispatcher(svc), "line3", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.Start(ctx))

	l.enqueue([]byte(`{"command":"seek","params":{"frame":42}}`))
	l.enqueue([]byte(`not json`))

	require.Eventually(t, func() bool {
		return len(client.responses("line3/control/response")) == 2
	}, time.Second, 5*time.Millisecond)

	byAck := map[string]Response{}
	for _, r := range client.responses("line3/control/response") {
		byAck[r.CommandAck] = r
	}
	assert.Equal(t, "invalid JSON", byAck["unknown"].Error)
	assert.Equal(t, StatusSuccess, byAck["seek"].Status)
	assert.Equal(t, int64(42), svc.seekArg)
}
