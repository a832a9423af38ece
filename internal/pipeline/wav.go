package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/heapbridge/internal/errors"
)

// WAV format tags accepted by the decoder
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// wavSource decodes integer PCM WAV files
type wavSource struct {
	file    *os.File
	decoder *wav.Decoder
	info    AudioInfo
	divisor float32
	buf     *audio.IntBuffer
	out     []byte
}

// OpenWAV opens a WAV file for block decoding. chunkFrames bounds how many
// frames each Next call decodes.
func OpenWAV(path string, chunkFrames int) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, "open-wav", path)
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return nil, audioError(path, "input is not a valid WAV audio file")
	}

	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		file.Close()
		return nil, audioError(path, "unsupported WAV encoding: format tag %d", decoder.WavAudioFormat)
	}

	info := AudioInfo{
		Format:     FormatWAV,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if duration, err := decoder.Duration(); err == nil {
		info.TotalFrames = int64(duration.Seconds()*float64(info.SampleRate) + 0.5)
	}

	if err := validateInfo(path, info); err != nil {
		file.Close()
		return nil, err
	}

	divisor, _ := sampleDivisor(info.BitDepth)

	if chunkFrames <= 0 {
		chunkFrames = 4096
	}

	return &wavSource{
		file:    file,
		decoder: decoder,
		info:    info,
		divisor: divisor,
		buf: &audio.IntBuffer{
			Data:   make([]int, chunkFrames*info.Channels),
			Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
		},
	}, nil
}

func (s *wavSource) Info() AudioInfo { return s.info }

func (s *wavSource) Next() ([]byte, error) {
	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPipeline).
			Category(errors.CategoryAudio).
			Context("operation", "decode-wav").
			Build()
	}
	if n == 0 {
		return nil, io.EOF
	}

	s.out = s.out[:0]
	for _, sample := range s.buf.Data[:n] {
		s.out = appendFloat32(s.out, float32(sample)/s.divisor)
	}
	return s.out, nil
}

func (s *wavSource) Close() error {
	return s.file.Close()
}

// WAVSink encodes processed blocks as integer PCM WAV
type WAVSink struct {
	path    string
	file    *os.File
	encoder *wav.Encoder
	info    AudioInfo
	divisor float32
	ints    []int
	frames  int64
}

// NewWAVSink creates path, and its directory, for writing audio described by info
func NewWAVSink(path string, info AudioInfo) (*WAVSink, error) {
	divisor, err := sampleDivisor(info.BitDepth)
	if err != nil {
		return nil, audioError(path, "%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create directories: %w", err)).
			Component(ComponentPipeline).
			Category(errors.CategoryFileIO).
			Context("file_path", path).
			Build()
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, errors.FileError(err, "create-wav", path)
	}

	return &WAVSink{
		path:    path,
		file:    file,
		encoder: wav.NewEncoder(file, info.SampleRate, info.BitDepth, info.Channels, wavFormatPCM),
		info:    info,
		divisor: divisor,
	}, nil
}

// Write appends interleaved little-endian float32 samples
func (s *WAVSink) Write(interleaved []byte) error {
	count := len(interleaved) / BytesPerSample
	if cap(s.ints) < count {
		s.ints = make([]int, count)
	}
	s.ints = s.ints[:count]
	for i := range count {
		s.ints[i] = floatToInt(float32At(interleaved, i), s.divisor)
	}

	buf := &audio.IntBuffer{
		Data:           s.ints,
		Format:         &audio.Format{SampleRate: s.info.SampleRate, NumChannels: s.info.Channels},
		SourceBitDepth: s.info.BitDepth,
	}
	if err := s.encoder.Write(buf); err != nil {
		return errors.New(fmt.Errorf("failed to write to WAV encoder: %w", err)).
			Component(ComponentPipeline).
			Category(errors.CategoryFileIO).
			Context("file_path", s.path).
			Build()
	}

	s.frames += int64(count / s.info.Channels)
	return nil
}

// Frames returns the number of frames written so far
func (s *WAVSink) Frames() int64 {
	return s.frames
}

// Close finalizes the WAV header and closes the file
func (s *WAVSink) Close() error {
	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return errors.New(err).
			Component(ComponentPipeline).
			Category(errors.CategoryFileIO).
			Context("operation", "finalize-wav").
			Context("file_path", s.path).
			Build()
	}
	return nil
}
