package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/config"
)

// ParsePatch decodes a config/set payload. Unknown keys and empty patches
// are rejected.
func ParsePatch(payload []byte) (config.StreamPatch, error) {
	var p config.StreamPatch
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return config.StreamPatch{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if p.Empty() {
		return config.StreamPatch{}, fmt.Errorf("%w: empty patch", config.ErrInvalidConfig)
	}
	return p, nil
}

// HandleConfigCommand applies a config/set payload. Errors are logged since
// MQTT has no reply channel; the resulting status is published either way.
func (c *Controller) HandleConfigCommand(topic string, payload []byte) {
	log := c.logger.WithField("topic", topic)

	p, err := ParsePatch(payload)
	if err != nil {
		log.WithError(err).Warn("Ignoring config command")
		return
	}

	if err := c.ApplyPatch(p); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			log.WithError(err).Warn("Rejected config command")
		} else {
			log.WithError(err).Error("Config command applied but streaming failed to start")
		}
		return
	}

	cfg := c.store.Current()
	log.WithFields(logrus.Fields{
		"target":      cfg.Addr(),
		"interval_ms": cfg.IntervalMS,
		"logging":     cfg.Logging,
	}).Info("Stream config updated")
}

type command struct {
	topic   string
	payload []byte
}

// commandQueue moves config commands off the MQTT delivery goroutine. A
// restart can block on socket and wake lock calls for seconds, which would
// otherwise stall keep-alive handling in the client.
type commandQueue struct {
	ch     chan command
	logger *logrus.Logger
}

func newCommandQueue(size int, logger *logrus.Logger) *commandQueue {
	return &commandQueue{ch: make(chan command, size), logger: logger}
}

// Enqueue never blocks; a command arriving while the queue is full is dropped.
func (q *commandQueue) Enqueue(topic string, payload []byte) {
	select {
	case q.ch <- command{topic: topic, payload: bytes.Clone(payload)}:
	default:
		q.logger.WithField("topic", topic).Warn("Config command queue full, dropping command")
	}
}

// Run applies queued commands in arrival order until ctx is done.
func (q *commandQueue) Run(ctx context.Context, apply func(topic string, payload []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-q.ch:
			apply(cmd.topic, cmd.payload)
		}
	}
}
