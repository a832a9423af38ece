package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the size of one sample as staged in native memory
const BytesPerSample = 4

// sampleDivisor returns the full-scale value for signed integer PCM of bitDepth
func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
}

// appendFloat32 encodes a normalized sample little-endian
func appendFloat32(dst []byte, sample float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(sample))
}

// float32At decodes the little-endian sample at index i
func float32At(src []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src[i*BytesPerSample:]))
}

// floatToInt scales a normalized sample to signed integer PCM, clipping at full scale
func floatToInt(sample, divisor float32) int {
	v := math.Round(float64(sample) * float64(divisor))
	maxV := float64(divisor) - 1
	minV := -float64(divisor)
	switch {
	case v > maxV:
		v = maxV
	case v < minV:
		v = minV
	}
	return int(v)
}

// deinterleave converts frame-ordered samples to one contiguous plane per
// channel, the layout the native compute export expects
func deinterleave(dst, interleaved []byte, channels int) []byte {
	frames := len(interleaved) / (BytesPerSample * channels)
	planeBytes := frames * BytesPerSample
	dst = resize(dst, len(interleaved))

	for f := range frames {
		for ch := range channels {
			src := (f*channels + ch) * BytesPerSample
			off := ch*planeBytes + f*BytesPerSample
			copy(dst[off:off+BytesPerSample], interleaved[src:src+BytesPerSample])
		}
	}
	return dst
}

// interleave is the inverse of deinterleave
func interleave(dst, planar []byte, channels int) []byte {
	frames := len(planar) / (BytesPerSample * channels)
	planeBytes := frames * BytesPerSample
	dst = resize(dst, len(planar))

	for f := range frames {
		for ch := range channels {
			src := ch*planeBytes + f*BytesPerSample
			off := (f*channels + ch) * BytesPerSample
			copy(dst[off:off+BytesPerSample], planar[src:src+BytesPerSample])
		}
	}
	return dst
}

func resize(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
