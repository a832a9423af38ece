package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floats(samples ...float32) []byte {
	var out []byte
	for _, s := range samples {
		out = appendFloat32(out, s)
	}
	return out
}

func decodeFloats(data []byte) []float32 {
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		out[i] = float32At(data, i)
	}
	return out
}

func TestSampleDivisor(t *testing.T) {
	tests := []struct {
		bitDepth int
		want     float32
		wantErr  bool
	}{
		{16, 32768, false},
		{24, 8388608, false},
		{32, 2147483648, false},
		{8, 0, true},
		{20, 0, true},
	}

	for _, tt := range tests {
		got, err := sampleDivisor(tt.bitDepth)
		if tt.wantErr {
			assert.Error(t, err, "bit depth %d", tt.bitDepth)
			continue
		}
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 0)
	}
}

func TestFloatToIntClips(t *testing.T) {
	assert.Equal(t, 16384, floatToInt(0.5, 32768))
	assert.Equal(t, -32768, floatToInt(-1, 32768))
	assert.Equal(t, 32767, floatToInt(1, 32768))
	assert.Equal(t, 32767, floatToInt(3.5, 32768))
	assert.Equal(t, -32768, floatToInt(-2, 32768))
}

func TestDeinterleaveRoundTrip(t *testing.T) {
	// three frames of L/R
	interleaved := floats(1, -1, 2, -2, 3, -3)

	planar := deinterleave(nil, interleaved, 2)
	assert.Equal(t, []float32{1, 2, 3, -1, -2, -3}, decodeFloats(planar))

	back := interleave(nil, planar, 2)
	assert.Equal(t, interleaved, back)
}

func TestDeinterleaveReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 64)
	planar := deinterleave(buf, floats(1, 2, 3, 4), 1)

	assert.Equal(t, []float32{1, 2, 3, 4}, decodeFloats(planar))
	assert.Equal(t, 64, cap(planar))
}
