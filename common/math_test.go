package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMul4Identity(t *testing.T) {
	var id, m, out [16]float32
	Identity(id[:])
	for i := range m {
		m[i] = float32(i) * 0.5
	}

	Mul4(out[:], id[:], m[:])
	assert.Equal(t, m, out)

	Mul4(out[:], m[:], id[:])
	assert.Equal(t, m, out)
}

func TestComposeTRSTranslationOnly(t *testing.T) {
	var m [16]float32
	ComposeTRS(m[:], [3]float32{1, 2, 3}, [4]float32{0, 0, 0, 1}, [3]float32{1, 1, 1})

	assert.Equal(t, float32(1), m[12])
	assert.Equal(t, float32(2), m[13])
	assert.Equal(t, float32(3), m[14])
	assert.Equal(t, float32(1), m[0])
	assert.Equal(t, float32(1), m[5])
	assert.Equal(t, float32(1), m[10])
}

func TestQuatRotate(t *testing.T) {
	// 90° around Z maps +X to +Y.
	s := float32(math.Sqrt(0.5))
	q := [4]float32{0, 0, s, s}
	v := QuatRotate(q, [3]float32{1, 0, 0})

	assert.InDelta(t, 0, float64(v[0]), 1e-6)
	assert.InDelta(t, 1, float64(v[1]), 1e-6)
	assert.InDelta(t, 0, float64(v[2]), 1e-6)
}

func TestNormalize3(t *testing.T) {
	v := Normalize3([3]float32{3, 0, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[2]), 1e-6)

	zero := Normalize3([3]float32{})
	assert.Equal(t, [3]float32{}, zero)
}

func TestCrossDot(t *testing.T) {
	c := Cross3([3]float32{1, 0, 0}, [3]float32{0, 1, 0})
	assert.Equal(t, [3]float32{0, 0, 1}, c)
	assert.Zero(t, Dot3(c, [3]float32{1, 0, 0}))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0))
	assert.True(t, IsFinite(-1e30))
	assert.False(t, IsFinite(float32(math.NaN())))
	assert.False(t, IsFinite(float32(math.Inf(1))))
	assert.False(t, IsFinite(float32(math.Inf(-1))))
}

func TestSliceToBytesRoundTrip(t *testing.T) {
	vals := []float32{1.5, -2.25, 3.75}
	raw := SliceToBytes(vals)
	assert.Len(t, raw, 12)

	back := BytesToSlice[float32](raw)
	assert.Equal(t, vals, back)

	assert.Nil(t, SliceToBytes([]float32(nil)))
	assert.Nil(t, BytesToSlice[float32](nil))
}
