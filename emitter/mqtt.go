// Package emitter publishes per-frame detection summaries and pipeline
// state changes to an MQTT broker.
//
// Emit calls never block the producer loop: messages go to a bounded queue
// drained by one publisher goroutine, and are dropped when the queue is
// full or the broker is unreachable.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/orion-inspect/pipeline"
)

// DefaultQueueSize bounds the number of messages waiting to be published.
const DefaultQueueSize = 64

// Config configures the emitter.
type Config struct {
	Broker      string // host:port or a full tcp:// URL
	ClientID    string // generated when empty
	TopicPrefix string
	QoS         byte
	QueueSize   int
}

// Detection is one detection in a published summary.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

// FrameSummary is published on <prefix>/detections for every processed frame.
type FrameSummary struct {
	Seq        uint64      `json:"seq"`
	TraceID    string      `json:"trace_id"`
	Position   int64       `json:"position"`
	Detections []Detection `json:"detections"`
	FPS        float64     `json:"fps"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Queued    uint64
	Published uint64
	Dropped   uint64
	Errors    uint64
}

type message struct {
	topic   string
	payload []byte
}

type publishFunc func(topic string, qos byte, payload []byte) error

// MQTT publishes to a broker.
type MQTT struct {
	cfg    Config
	Client mqtt.Client // shared with the control listener

	publish publishFunc
	queue   chan message

	connected atomic.Bool
	queued    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

// NewMQTT creates an unconnected emitter.
func NewMQTT(cfg Config) *MQTT {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "orion-inspect-" + uuid.NewString()[:8]
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	e := &MQTT{
		cfg:   cfg,
		queue: make(chan message, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	e.publish = e.publishToBroker
	return e
}

// Connect establishes connection to the MQTT broker and starts the
// publisher goroutine, which runs until ctx is done or Disconnect.
func (e *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.connected.Store(true)
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	e.connected.Store(true)

	go e.run(ctx)
	return nil
}

// EmitFrame queues a summary of ev.
func (e *MQTT) EmitFrame(ev pipeline.FrameEvent) {
	sum := FrameSummary{
		Seq:        ev.Seq,
		TraceID:    ev.TraceID,
		Position:   ev.Position,
		Detections: make([]Detection, 0, len(ev.Detections)),
		FPS:        ev.FPS,
		Timestamp:  ev.CapturedAt,
	}
	for _, d := range ev.Detections {
		sum.Detections = append(sum.Detections, Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        [4]int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y},
		})
	}
	if ev.Err != nil {
		sum.Error = ev.Err.Error()
	}
	e.enqueue("detections", sum)
}

// EmitStatus queues a pipeline state change.
func (e *MQTT) EmitStatus(s pipeline.Snapshot) {
	e.enqueue("status", s)
}

func (e *MQTT) enqueue(kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.errors.Add(1)
		slog.Error("emitter: failed to marshal message", "kind", kind, "error", err)
		return
	}

	select {
	case e.queue <- message{topic: e.topic(kind), payload: payload}:
		e.queued.Add(1)
	default:
		if e.dropped.Add(1)%100 == 1 {
			slog.Warn("emitter: queue full, dropping message", "kind", kind, "dropped", e.dropped.Load())
		}
	}
}

func (e *MQTT) topic(kind string) string {
	if e.cfg.TopicPrefix == "" {
		return kind
	}
	return e.cfg.TopicPrefix + "/" + kind
}

// run drains the queue until ctx is done or Disconnect is called.
func (e *MQTT) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case msg := <-e.queue:
			if err := e.publish(msg.topic, e.cfg.QoS, msg.payload); err != nil {
				e.errors.Add(1)
				slog.Debug("emitter: publish failed", "topic", msg.topic, "error", err)
				continue
			}
			e.published.Add(1)
		}
	}
}

func (e *MQTT) publishToBroker(topic string, qos byte, payload []byte) error {
	if !e.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Disconnect stops the publisher and closes the MQTT connection.
func (e *MQTT) Disconnect() {
	e.stopOnce.Do(func() {
		close(e.done)
		if e.Client != nil && e.Client.IsConnected() {
			e.Client.Disconnect(250) // 250ms grace period
			slog.Info("emitter: mqtt disconnected")
		}
		e.connected.Store(false)
	})
}

// Stats returns emitter statistics.
func (e *MQTT) Stats() Stats {
	return Stats{
		Connected: e.connected.Load(),
		Queued:    e.queued.Load(),
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Errors:    e.errors.Load(),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
