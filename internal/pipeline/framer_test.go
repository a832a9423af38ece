package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect copies each emitted block since the framer reuses its buffer
func collect(blocks *[][]byte) func([]byte) error {
	return func(block []byte) error {
		*blocks = append(*blocks, append([]byte(nil), block...))
		return nil
	}
}

func sequence(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestFramerEmitsWholeBlocks(t *testing.T) {
	// 4 frames of 8 bytes per block
	f := newFramer(4, 8, 2)
	var blocks [][]byte

	data := sequence(100)
	require.NoError(t, f.Feed(data[:10], collect(&blocks)))
	assert.Empty(t, blocks)
	assert.Equal(t, 10, f.Buffered())

	require.NoError(t, f.Feed(data[10:], collect(&blocks)))
	require.Len(t, blocks, 3)
	assert.Equal(t, data[:32], blocks[0])
	assert.Equal(t, data[32:64], blocks[1])
	assert.Equal(t, data[64:96], blocks[2])
	assert.Equal(t, 4, f.Buffered())
}

func TestFramerFeedLargerThanCapacity(t *testing.T) {
	f := newFramer(2, 4, 2)
	var blocks [][]byte

	data := sequence(80)
	require.NoError(t, f.Feed(data, collect(&blocks)))

	require.Len(t, blocks, 10)
	for i, block := range blocks {
		assert.Equal(t, data[i*8:(i+1)*8], block)
	}
	assert.Zero(t, f.Buffered())
}

func TestFramerFlushDropsPartialFrame(t *testing.T) {
	f := newFramer(4, 8, 2)
	var blocks [][]byte

	data := sequence(21)
	require.NoError(t, f.Feed(data, collect(&blocks)))
	assert.Empty(t, blocks)

	require.NoError(t, f.Flush(collect(&blocks)))
	require.Len(t, blocks, 1)
	assert.Equal(t, data[:16], blocks[0])
	assert.Zero(t, f.Buffered())

	// nothing left to flush
	require.NoError(t, f.Flush(collect(&blocks)))
	assert.Len(t, blocks, 1)
}

func TestFramerPropagatesEmitError(t *testing.T) {
	f := newFramer(1, 4, 2)
	boom := assert.AnError

	err := f.Feed(sequence(8), func([]byte) error { return boom })
	assert.ErrorIs(t, err, boom)
}
