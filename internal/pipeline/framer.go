package pipeline

import "github.com/smallnest/ringbuffer"

// framer regroups variably sized decoder output into fixed blocks of frames.
// Decoders return whatever their container yields (a FLAC frame, a WAV read),
// while the native module is fed blocks of a configured size.
type framer struct {
	rb         *ringbuffer.RingBuffer
	blockBytes int
	frameBytes int
	block      []byte
}

// newFramer buffers up to bufferedBlocks blocks of blockFrames frames
func newFramer(blockFrames, frameBytes, bufferedBlocks int) *framer {
	bufferedBlocks = max(bufferedBlocks, 2)
	blockBytes := blockFrames * frameBytes
	return &framer{
		rb:         ringbuffer.New(blockBytes * bufferedBlocks),
		blockBytes: blockBytes,
		frameBytes: frameBytes,
		block:      make([]byte, blockBytes),
	}
}

// Feed buffers data, calling emit for every complete block. The block
// passed to emit is only valid until emit returns.
func (f *framer) Feed(data []byte, emit func(block []byte) error) error {
	for len(data) > 0 {
		// The ring is drained below one block after every pass, so at least
		// one block of space is free here.
		n, err := f.rb.Write(data[:min(len(data), f.rb.Free())])
		if err != nil {
			return err
		}
		data = data[n:]

		for f.rb.Length() >= f.blockBytes {
			if err := f.pop(f.blockBytes, emit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush emits the trailing partial block, if any whole frames remain
func (f *framer) Flush(emit func(block []byte) error) error {
	remaining := f.rb.Length() / f.frameBytes * f.frameBytes
	if remaining == 0 {
		f.rb.Reset()
		return nil
	}
	err := f.pop(remaining, emit)
	f.rb.Reset()
	return err
}

// Buffered returns the number of bytes waiting for a full block
func (f *framer) Buffered() int {
	return f.rb.Length()
}

func (f *framer) pop(n int, emit func(block []byte) error) error {
	block := f.block[:n]
	read, err := f.rb.Read(block)
	if err != nil {
		return err
	}
	return emit(block[:read])
}
