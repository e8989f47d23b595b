package sensors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/mqtt"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

// Subscriber is the part of the MQTT client the reading source needs.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.Handler) error
}

// MQTTSource receives readings published by an external hardware bridge.
// Payloads are a single reading object or an array of them:
//
//	{"type":"accelerometer","values":[0.1,0.2,9.8]}
type MQTTSource struct {
	sub    Subscriber
	topic  string
	clock  timeutil.Clock
	logger *logrus.Logger
}

// NewMQTTSource creates a source reading from topic.
func NewMQTTSource(sub Subscriber, topic string, clock timeutil.Clock, logger *logrus.Logger) *MQTTSource {
	return &MQTTSource{sub: sub, topic: topic, clock: clock, logger: logger}
}

// Name implements Source.
func (s *MQTTSource) Name() string { return "mqtt" }

// Run subscribes and delivers readings until ctx is cancelled. Malformed
// payloads are dropped.
func (s *MQTTSource) Run(ctx context.Context, h Handler) error {
	err := s.sub.Subscribe(s.topic, func(topic string, payload []byte) {
		if ctx.Err() != nil {
			return
		}
		readings, err := ParseReadings(payload)
		if err != nil {
			s.logger.WithError(err).WithField("topic", topic).Debug("Dropping malformed sensor payload")
			return
		}
		now := s.clock.Now()
		for _, r := range readings {
			r.Timestamp = now
			h(r)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to sensor readings: %w", err)
	}

	s.logger.WithField("topic", s.topic).Info("MQTT sensor source started")
	<-ctx.Done()
	return ctx.Err()
}

type wireReading struct {
	Type   string    `json:"type"`
	Values []float32 `json:"values"`
}

// ParseReadings decodes one reading object or an array of them.
func ParseReadings(payload []byte) ([]Reading, error) {
	payload = bytes.TrimSpace(payload)
	var wire []wireReading
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &wire); err != nil {
			return nil, fmt.Errorf("invalid reading array: %w", err)
		}
	} else {
		var one wireReading
		if err := json.Unmarshal(payload, &one); err != nil {
			return nil, fmt.Errorf("invalid reading: %w", err)
		}
		wire = []wireReading{one}
	}

	out := make([]Reading, 0, len(wire))
	for _, w := range wire {
		t, err := ParseType(w.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, Reading{Type: t, Values: w.Values})
	}
	return out, nil
}
