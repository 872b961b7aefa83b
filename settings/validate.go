package settings

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfidenceRange is returned for a confidence outside [0, 1].
var ErrConfidenceRange = errors.New("confidence must be within [0, 1]")

// Validate checks s and fails on the first problem.
func Validate(s *Settings) error {
	if err := ValidateConfidence(s.Confidence); err != nil {
		return err
	}
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	if s.ModelPath == "" {
		return fmt.Errorf("model_path is required")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}
	if s.MQTT.Broker != "" && s.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required when a broker is set")
	}
	if s.Worker.ImageSize <= 0 {
		return fmt.Errorf("worker.imgsz must be > 0, got %d", s.Worker.ImageSize)
	}
	if len(s.Worker.Command) == 0 {
		return fmt.Errorf("worker.command is required")
	}
	return nil
}

// ValidateConfidence checks a detection threshold.
func ValidateConfidence(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w, got %v", ErrConfidenceRange, v)
	}
	return nil
}
