// Package pipeline streams decoded audio through a native module's compute
// export, staging each block in regions owned by a heap.Manager.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/heapbridge/internal/errors"
)

const ComponentPipeline = "pipeline"

// Format identifies an audio container
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// AudioInfo describes a decoded stream
type AudioInfo struct {
	Format      Format
	SampleRate  int
	Channels    int
	BitDepth    int
	TotalFrames int64 // frames per channel, 0 when unknown
}

// Duration returns the stream length, or 0 when the frame count is unknown
func (i AudioInfo) Duration() time.Duration {
	if i.SampleRate <= 0 || i.TotalFrames <= 0 {
		return 0
	}
	return time.Duration(i.TotalFrames) * time.Second / time.Duration(i.SampleRate)
}

// FrameBytes returns the size of one interleaved frame as staged for the module
func (i AudioInfo) FrameBytes() int {
	return i.Channels * BytesPerSample
}

// Source produces decoded audio
type Source interface {
	Info() AudioInfo
	// Next returns the next run of interleaved samples as little-endian
	// float32 in [-1, 1). The slice is reused by the following call.
	// It returns io.EOF once the stream is exhausted.
	Next() ([]byte, error)
	Close() error
}

// FormatFromPath infers the container from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".flac":
		return FormatFLAC, nil
	default:
		return "", errors.Newf("unsupported audio file type: %s", filepath.Ext(path)).
			Component(ComponentPipeline).
			Category(errors.CategoryValidation).
			Context("file_path", path).
			Build()
	}
}

// OpenSource opens path with the decoder matching its extension
func OpenSource(path string, chunkFrames int) (Source, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatFLAC:
		return OpenFLAC(path)
	default:
		return OpenWAV(path, chunkFrames)
	}
}

// validateInfo rejects streams the pipeline cannot stage
func validateInfo(path string, info AudioInfo) error {
	if info.Channels < 1 {
		return audioError(path, "invalid channel count: %d", info.Channels)
	}
	if info.SampleRate <= 0 {
		return audioError(path, "invalid sample rate: %d", info.SampleRate)
	}
	if _, err := sampleDivisor(info.BitDepth); err != nil {
		return audioError(path, "unsupported bit depth: %d", info.BitDepth)
	}
	return nil
}

func audioError(path, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(ComponentPipeline).
		Category(errors.CategoryAudio).
		Context("file_path", path).
		Build()
}
