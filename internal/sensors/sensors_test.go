package sensors

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/sensor-stream/internal/mqtt"
	"github.com/jkaberg/sensor-stream/internal/timeutil"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"accelerometer":   Accelerometer,
		"GYRO":            Gyroscope,
		"magnetic-field":  Magnetometer,
		"rotation_vector": RotationVector,
		" rotation ":      RotationVector,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseType("barometer")
	assert.Error(t, err)
}

func TestVectorFromValues(t *testing.T) {
	v, err := VectorFromValues([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Vector3{1, 2, 3}, v)

	_, err = VectorFromValues([]float32{1, 2})
	assert.Error(t, err)
}

func TestParseReadings(t *testing.T) {
	got, err := ParseReadings([]byte(`{"type":"accelerometer","values":[0.1,0.2,9.8]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Accelerometer, got[0].Type)
	assert.Equal(t, []float32{0.1, 0.2, 9.8}, got[0].Values)

	got, err = ParseReadings([]byte(` [{"type":"gyro","values":[0,0,1]},{"type":"rotation_vector","values":[0,0,0.7071,0.7071]}]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, RotationVector, got[1].Type)

	for _, bad := range []string{``, `nope`, `{"type":"barometer","values":[1]}`, `[{"type":1}]`} {
		_, err := ParseReadings([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestMockReadings(t *testing.T) {
	at := time.Unix(100, 0)
	for _, sec := range []float64{0, 1.5, 37, 600} {
		rs := MockReadings(sec, at)
		require.Len(t, rs, 4)

		types := make([]Type, 0, 4)
		for _, r := range rs {
			types = append(types, r.Type)
			assert.Equal(t, at, r.Timestamp)
			for _, v := range r.Values {
				assert.False(t, math.IsNaN(float64(v)))
			}
		}
		assert.ElementsMatch(t, AllTypes, types)

		a := rs[0].Values
		norm := math.Sqrt(float64(a[0]*a[0] + a[1]*a[1] + a[2]*a[2]))
		assert.InDelta(t, gravity, norm, 1e-3, "accelerometer magnitude is gravity")

		q := rs[3].Values
		require.Len(t, q, 4)
		qn := math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]))
		assert.InDelta(t, 1, qn, 1e-5)
		assert.GreaterOrEqual(t, q[3], float32(0))
	}
}

func TestEulerToQuaternion_Identity(t *testing.T) {
	x, y, z, w := eulerToQuaternion(0, 0, 0)
	assert.Equal(t, [4]float64{0, 0, 0, 1}, [4]float64{x, y, z, w})

	x, y, z, w = eulerToQuaternion(0, 0, math.Pi/2)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 0, y, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, z, 1e-12)
	assert.InDelta(t, math.Sqrt2/2, w, 1e-12)
}

type collector struct {
	mu sync.Mutex
	rs []Reading
}

func (c *collector) handle(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rs = append(c.rs, r)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rs)
}

func TestMockSource_EmitsEveryTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewMockSource(20*time.Millisecond, clock, quietLogger())
	assert.Equal(t, "mock", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := &collector{}
	go func() { done <- src.Run(ctx, c.handle) }()

	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, 2*time.Second, time.Millisecond)
	clock.Advance(20 * time.Millisecond)
	require.Eventually(t, func() bool { return c.len() == 4 }, 2*time.Second, time.Millisecond)
	clock.Advance(20 * time.Millisecond)
	require.Eventually(t, func() bool { return c.len() == 8 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, clock.Tickers())
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.Handler
}

func (f *fakeSubscriber) Subscribe(topic string, h mqtt.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]mqtt.Handler{}
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeSubscriber) deliver(topic, payload string) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, []byte(payload))
	return true
}

func TestMQTTSource_DeliversParsedReadings(t *testing.T) {
	sub := &fakeSubscriber{}
	clock := timeutil.NewMockClock(time.Unix(500, 0))
	src := NewMQTTSource(sub, "sensor_stream/dev/readings", clock, quietLogger())
	assert.Equal(t, "mqtt", src.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := &collector{}
	go func() { done <- src.Run(ctx, c.handle) }()

	require.Eventually(t, func() bool {
		return sub.deliver("sensor_stream/dev/readings", `{"type":"magnetometer","values":[20,0,-40]}`)
	}, 2*time.Second, time.Millisecond)
	sub.deliver("sensor_stream/dev/readings", `garbage`)

	require.Equal(t, 1, c.len())
	assert.Equal(t, Magnetometer, c.rs[0].Type)
	assert.Equal(t, time.Unix(500, 0), c.rs[0].Timestamp)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// Deliveries after cancel are ignored.
	sub.deliver("sensor_stream/dev/readings", `{"type":"gyro","values":[1,1,1]}`)
	assert.Equal(t, 1, c.len())
}
