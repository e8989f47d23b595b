package sensors

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type identifies the hardware sensor a reading came from.
type Type string

const (
	Accelerometer  Type = "accelerometer"   // m/s²
	Gyroscope      Type = "gyroscope"       // rad/s
	Magnetometer   Type = "magnetometer"    // μT
	RotationVector Type = "rotation_vector" // unit quaternion vector part
)

// AllTypes lists every sensor type the engine consumes.
var AllTypes = []Type{Accelerometer, Gyroscope, Magnetometer, RotationVector}

// ParseType maps a wire or flag name onto a Type. Hyphens and underscores are
// interchangeable and matching is case-insensitive.
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch norm {
	case "accelerometer", "accel":
		return Accelerometer, nil
	case "gyroscope", "gyro":
		return Gyroscope, nil
	case "magnetometer", "magnetic_field", "mag":
		return Magnetometer, nil
	case "rotation_vector", "rotation":
		return RotationVector, nil
	}
	return "", fmt.Errorf("unknown sensor type %q", s)
}

// Vector3 is one three-axis reading in the sensor's native unit.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// VectorFromValues copies the first three components of a raw sample.
func VectorFromValues(values []float32) (Vector3, error) {
	if len(values) < 3 {
		return Vector3{}, fmt.Errorf("need 3 components, got %d", len(values))
	}
	return Vector3{X: values[0], Y: values[1], Z: values[2]}, nil
}

// Reading is a single typed sample delivered by a Source.
type Reading struct {
	Type      Type      `json:"type"`
	Values    []float32 `json:"values"`
	Timestamp time.Time `json:"-"`
}

// Handler receives readings. It is called from the source's own goroutine and
// must not block for long.
type Handler func(Reading)

// Source is anything that delivers sensor readings until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}
