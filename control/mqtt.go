package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const commandQueueSize = 10

// MQTTListener receives commands on <prefix>/control and publishes each
// response on <prefix>/control/response.
type MQTTListener struct {
	client     mqtt.Client
	dispatcher *Dispatcher
	topic      string
	respTopic  string
	qos        byte

	commands chan Command
	stopOnce sync.Once
}

// NewMQTTListener creates a listener on an already connected client.
func NewMQTTListener(client mqtt.Client, d *Dispatcher, topicPrefix string, qos byte) *MQTTListener {
	topic := topicPrefix + "/control"
	return &MQTTListener{
		client:     client,
		dispatcher: d,
		topic:      topic,
		respTopic:  topic + "/response",
		qos:        qos,
		commands:   make(chan Command, commandQueueSize),
	}
}

// Start subscribes and processes commands until ctx is done. Commands run
// one at a time in arrival order.
func (l *MQTTListener) Start(ctx context.Context) error {
	slog.Info("control: subscribing", "topic", l.topic, "qos", l.qos)

	token := l.client.Subscribe(l.topic, l.qos, l.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	go l.processCommands(ctx)
	return nil
}

// Stop unsubscribes. Safe to call more than once.
func (l *MQTTListener) Stop() {
	l.stopOnce.Do(func() {
		if l.client != nil && l.client.IsConnected() {
			l.client.Unsubscribe(l.topic).WaitTimeout(2 * time.Second)
		}
		slog.Info("control: listener stopped")
	})
}

func (l *MQTTListener) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	l.enqueue(msg.Payload())
}

// enqueue parses payload and queues it, dropping when the queue is full.
func (l *MQTTListener) enqueue(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		l.sendResponse(Response{
			CommandAck: "unknown",
			Status:     StatusError,
			Error:      "invalid JSON",
			Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case l.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (l *MQTTListener) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case cmd := <-l.commands:
			l.sendResponse(l.dispatcher.Handle(ctx, cmd))
		}
	}
}

func (l *MQTTListener) sendResponse(resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := l.client.Publish(l.respTopic, l.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout", "command_ack", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}
	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
