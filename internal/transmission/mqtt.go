package transmission

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/domain"
)

// Publisher is the part of the MQTT client the status publisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
}

// MQTTStatusPublisher mirrors the engine Status onto retained MQTT topics so
// a dashboard can show whether the device is streaming.
type MQTTStatusPublisher struct {
	client            Publisher
	statusTopic       string
	availabilityTopic string
	logger            *logrus.Logger
}

// NewMQTTStatusPublisher creates a new status publisher
func NewMQTTStatusPublisher(client Publisher, statusTopic, availabilityTopic string, logger *logrus.Logger) *MQTTStatusPublisher {
	return &MQTTStatusPublisher{
		client:            client,
		statusTopic:       statusTopic,
		availabilityTopic: availabilityTopic,
		logger:            logger,
	}
}

// PublishStatus publishes s as retained JSON, followed by availability.
func (p *MQTTStatusPublisher) PublishStatus(s domain.Status) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := p.client.Publish(p.statusTopic, payload, true); err != nil {
		return fmt.Errorf("failed to publish status to %s: %w", p.statusTopic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":   p.statusTopic,
		"payload": string(payload),
	}).Debug("Published engine status")

	return p.PublishAvailability(true)
}

// PublishAvailability publishes the availability status
func (p *MQTTStatusPublisher) PublishAvailability(online bool) error {
	payload := "online"
	if !online {
		payload = "offline"
	}

	if err := p.client.Publish(p.availabilityTopic, []byte(payload), true); err != nil {
		return fmt.Errorf("failed to publish availability to %s: %w", p.availabilityTopic, err)
	}
	return nil
}
