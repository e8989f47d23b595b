package sensors

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

const (
	gravity = 9.80665

	mockRollAmplitudeRad  = 20.0 * math.Pi / 180.0
	mockPitchAmplitudeRad = 15.0 * math.Pi / 180.0
	mockYawRateRad        = 30.0 * math.Pi / 180.0 // per second

	mockRollFreqHz  = 0.16
	mockPitchFreqHz = 0.11

	// Earth field magnitude in μT, roughly mid-latitude.
	mockFieldUT = 48.0
)

// MockSource generates smooth synthetic motion for every sensor type so the
// engine can run without hardware.
type MockSource struct {
	interval time.Duration
	clock    timeutil.Clock
	logger   *logrus.Logger
}

// NewMockSource creates a mock source emitting one reading per type every
// interval.
func NewMockSource(interval time.Duration, clock timeutil.Clock, logger *logrus.Logger) *MockSource {
	return &MockSource{interval: interval, clock: clock, logger: logger}
}

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// Run emits readings until ctx is cancelled.
func (m *MockSource) Run(ctx context.Context, h Handler) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	start := m.clock.Now()
	m.logger.WithField("interval", m.interval).Info("Mock sensor source started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			for _, r := range MockReadings(now.Sub(start).Seconds(), now) {
				h(r)
			}
		}
	}
}

// MockReadings returns the synthetic readings at t seconds after start.
func MockReadings(t float64, at time.Time) []Reading {
	roll, pitch, yaw := mockEuler(t)
	rollRate := mockRollAmplitudeRad * 2 * math.Pi * mockRollFreqHz * math.Cos(2*math.Pi*mockRollFreqHz*t)
	pitchRate := mockPitchAmplitudeRad * 2 * math.Pi * mockPitchFreqHz * math.Cos(2*math.Pi*mockPitchFreqHz*t)

	// Gravity and a north-pointing field expressed in the device frame.
	accel := []float32{
		float32(gravity * math.Sin(roll) * math.Cos(pitch)),
		float32(-gravity * math.Sin(pitch)),
		float32(gravity * math.Cos(roll) * math.Cos(pitch)),
	}
	mag := []float32{
		float32(mockFieldUT * math.Sin(yaw)),
		float32(mockFieldUT * math.Cos(yaw)),
		float32(-mockFieldUT * 0.8),
	}
	gyro := []float32{float32(pitchRate), float32(rollRate), float32(mockYawRateRad)}

	x, y, z, w := eulerToQuaternion(roll, pitch, yaw)
	rv := []float32{float32(x), float32(y), float32(z), float32(w)}

	return []Reading{
		{Type: Accelerometer, Values: accel, Timestamp: at},
		{Type: Gyroscope, Values: gyro, Timestamp: at},
		{Type: Magnetometer, Values: mag, Timestamp: at},
		{Type: RotationVector, Values: rv, Timestamp: at},
	}
}

func mockEuler(t float64) (roll, pitch, yaw float64) {
	roll = mockRollAmplitudeRad * math.Sin(2*math.Pi*mockRollFreqHz*t)
	pitch = mockPitchAmplitudeRad * math.Sin(2*math.Pi*mockPitchFreqHz*t+math.Pi/3)
	yaw = math.Mod(mockYawRateRad*t, 2*math.Pi)
	return
}

// eulerToQuaternion composes yaw about z, pitch about x, roll about y.
func eulerToQuaternion(roll, pitch, yaw float64) (x, y, z, w float64) {
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)

	// q = qz(yaw) * qx(pitch) * qy(roll)
	w = cy*cp*cr - sy*sp*sr
	x = cy*sp*cr - sy*cp*sr
	y = cy*cp*sr + sy*sp*cr
	z = sy*cp*cr + cy*sp*sr

	if w < 0 {
		x, y, z, w = -x, -y, -z, -w
	}
	return
}
