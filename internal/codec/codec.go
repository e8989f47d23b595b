// Package codec defines the telemetry datagram.
//
// Every datagram is one self-contained UTF-8 JSON object:
//
//	{
//	  "accelerometer":      {"x": float, "y": float, "z": float},   // m/s²
//	  "gyroscope":          {"x": float, "y": float, "z": float},   // rad/s
//	  "magnetometer":       {"x": float, "y": float, "z": float},   // μT
//	  "orientation":        {"yaw": float, "pitch": float, "roll": float}, // degrees
//	  "logging":            bool,
//	  "timestamp":          int,  // epoch milliseconds at send time
//	  "update_interval_ms": int
//	}
//
// Key order is not significant. No state is carried between datagrams, so a
// consumer can decode any packet in isolation regardless of loss or reordering.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jkaberg/sensor-stream/internal/config"
	"github.com/jkaberg/sensor-stream/internal/domain"
	"github.com/jkaberg/sensor-stream/internal/orientation"
	"github.com/jkaberg/sensor-stream/internal/sensors"
)

// Packet is the decoded form of one datagram.
type Packet struct {
	Accelerometer    sensors.Vector3      `json:"accelerometer"`
	Gyroscope        sensors.Vector3      `json:"gyroscope"`
	Magnetometer     sensors.Vector3      `json:"magnetometer"`
	Orientation      orientation.Estimate `json:"orientation"`
	Logging          bool                 `json:"logging"`
	Timestamp        int64                `json:"timestamp"`
	UpdateIntervalMS int                  `json:"update_interval_ms"`
}

// requiredKeys lists every key a datagram must carry, with the members each
// nested object must carry.
var requiredKeys = []struct {
	name    string
	members []string
}{
	{"accelerometer", []string{"x", "y", "z"}},
	{"gyroscope", []string{"x", "y", "z"}},
	{"magnetometer", []string{"x", "y", "z"}},
	{"orientation", []string{"yaw", "pitch", "roll"}},
	{"logging", nil},
	{"timestamp", nil},
	{"update_interval_ms", nil},
}

// newPacket assembles the record for snap under cfg, stamped with at.
func newPacket(snap domain.Snapshot, cfg config.StreamConfig, at time.Time) Packet {
	return Packet{
		Accelerometer:    snap.Accelerometer,
		Gyroscope:        snap.Gyroscope,
		Magnetometer:     snap.Magnetometer,
		Orientation:      snap.Orientation,
		Logging:          cfg.Logging,
		Timestamp:        at.UnixMilli(),
		UpdateIntervalMS: cfg.IntervalMS,
	}
}

// Encode serialises snap and cfg into one datagram. The output depends only on
// its arguments. Non-finite readings cannot be expressed in JSON and are
// reported as an error.
func Encode(snap domain.Snapshot, cfg config.StreamConfig, at time.Time) ([]byte, error) {
	b, err := json.Marshal(newPacket(snap, cfg, at))
	if err != nil {
		return nil, fmt.Errorf("failed to encode telemetry packet: %w", err)
	}
	return b, nil
}

// Decode parses one datagram. All seven top-level keys and every nested
// axis or angle must be present; unknown keys are rejected at any level.
func Decode(b []byte) (Packet, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return Packet{}, fmt.Errorf("failed to decode telemetry packet: %w", err)
	}
	for _, k := range requiredKeys {
		raw, ok := keys[k.name]
		if !ok {
			return Packet{}, fmt.Errorf("telemetry packet missing key %q", k.name)
		}
		if len(k.members) == 0 {
			continue
		}
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil || members == nil {
			return Packet{}, fmt.Errorf("telemetry packet key %q is not an object", k.name)
		}
		for _, m := range k.members {
			if _, ok := members[m]; !ok {
				return Packet{}, fmt.Errorf("telemetry packet missing key %q", k.name+"."+m)
			}
		}
	}

	var p Packet
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Packet{}, fmt.Errorf("failed to decode telemetry packet: %w", err)
	}
	return p, nil
}
