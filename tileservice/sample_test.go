package tileservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilinearResampleConstantGrid(t *testing.T) {
	src := []float32{5, 5, 5, 5}
	out := bilinearResample(src, 2, 2, 4, 4)
	require.Len(t, out, 16)
	for _, v := range out {
		assert.InDelta(t, 5.0, v, 1e-6)
	}
}

func TestBilinearResampleSingleSourcePixel(t *testing.T) {
	out := bilinearResample([]float32{3}, 1, 1, 3, 3)
	require.Len(t, out, 9)
	for _, v := range out {
		assert.Equal(t, float32(3), v)
	}
}

func TestBilinearResampleUpsampleIsSmooth(t *testing.T) {
	// A 2x1 gradient upsampled 4x should interpolate monotonically between
	// the two source values rather than stepping like nearest-neighbor.
	src := []float32{0, 10}
	out := bilinearResample(src, 2, 1, 8, 1)
	require.Len(t, out, 8)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqualf(t, out[i], out[i-1], "index %d", i)
	}
	assert.InDelta(t, 0.0, out[0], 3.0)
	assert.InDelta(t, 10.0, out[len(out)-1], 3.0)
}

func TestResampleBoxFilterDownsampleNearest(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	out := resampleBoxFilter(src, 2, 2, 1, 1)
	require.Len(t, out, 1)
	assert.Equal(t, float32(1), out[0])
}

func TestResampleMaskNearestPreservesValues(t *testing.T) {
	src := []byte{0, 1, 2, 3}
	out := resampleMaskNearest(src, 2, 2, 4, 4)
	require.Len(t, out, 16)
	assert.Equal(t, byte(0), out[0])
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 4, clampInt(1, 4, 8))
	assert.Equal(t, 8, clampInt(20, 4, 8))
	assert.Equal(t, 6, clampInt(6, 4, 8))
}
