package orientation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-4

// axisAngle returns a rotation vector for a rotation of deg degrees about the
// given unit axis.
func axisAngle(ax, ay, az, deg float64) RotationVector {
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return RotationVector{X: ax * s, Y: ay * s, Z: az * s, W: math.Cos(half), HasW: true}
}

func TestFuse_Identity(t *testing.T) {
	for _, rv := range []RotationVector{
		{},
		{W: 1, HasW: true},
	} {
		got := Fuse(rv)
		assert.InDelta(t, 0, got.Yaw, tol)
		assert.InDelta(t, 0, got.Pitch, tol)
		assert.InDelta(t, 0, got.Roll, tol)
	}
}

func TestFuse_SingleAxisRotations(t *testing.T) {
	tests := []struct {
		name string
		rv   RotationVector
		want Estimate
	}{
		{"yaw about z", axisAngle(0, 0, 1, 90), Estimate{Yaw: -90}},
		{"pitch about x", axisAngle(1, 0, 0, 30), Estimate{Pitch: -30}},
		{"roll about y", axisAngle(0, 1, 0, 45), Estimate{Roll: 45}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.rv)
			assert.InDelta(t, tt.want.Yaw, got.Yaw, tol)
			assert.InDelta(t, tt.want.Pitch, got.Pitch, tol)
			assert.InDelta(t, tt.want.Roll, got.Roll, tol)
		})
	}
}

func TestFuse_DerivesScalarPart(t *testing.T) {
	withW := axisAngle(0, 0, 1, 60)
	withoutW := withW
	withoutW.HasW = false
	withoutW.W = 0

	a, b := Fuse(withW), Fuse(withoutW)
	assert.InDelta(t, a.Yaw, b.Yaw, tol)
	assert.InDelta(t, a.Pitch, b.Pitch, tol)
	assert.InDelta(t, a.Roll, b.Roll, tol)
}

func TestFuse_GimbalLockIsFinite(t *testing.T) {
	got := Fuse(axisAngle(1, 0, 0, 90))
	for _, v := range []float64{got.Yaw, got.Pitch, got.Roll} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite angle %v", v)
	}
	assert.InDelta(t, -90, got.Pitch, 1e-3)
}

func TestFuse_ArbitraryInputsAreFinite(t *testing.T) {
	inputs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.9, 0.9, 0.9},
		{-0.5, 0.5, -0.5, 0.5},
		{0, 0, 0, 0},
		{2, -3, 4, 5, 0.1},
	}
	for _, in := range inputs {
		got, err := FuseValues(in)
		require.NoError(t, err)
		for _, v := range []float64{got.Yaw, got.Pitch, got.Roll} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "input %v produced %v", in, got)
			assert.LessOrEqual(t, math.Abs(v), 180.0)
		}
	}
}

func TestFromValues(t *testing.T) {
	_, err := FromValues([]float32{1, 2})
	require.Error(t, err)

	rv, err := FromValues([]float32{0.1, 0.2, 0.3})
	require.NoError(t, err)
	assert.False(t, rv.HasW)

	rv, err = FromValues([]float32{0.1, 0.2, 0.3, 0.9, 0.5})
	require.NoError(t, err)
	assert.True(t, rv.HasW)
	assert.InDelta(t, 0.9, rv.W, 1e-6)
}
