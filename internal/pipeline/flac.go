package pipeline

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/heapbridge/internal/errors"
)

// flacSource decodes FLAC files frame by frame
type flacSource struct {
	file           *os.File
	decoder        *flac.Decoder
	info           AudioInfo
	divisor        float32
	bytesPerSample int
	out            []byte
}

// OpenFLAC opens a FLAC file. Each Next call returns one decoded FLAC frame.
func OpenFLAC(path string) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, "open-flac", path)
	}

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, errors.New(err).
			Component(ComponentPipeline).
			Category(errors.CategoryAudio).
			Context("operation", "read-flac-header").
			Context("file_path", path).
			Build()
	}

	info := AudioInfo{
		Format:      FormatFLAC,
		SampleRate:  decoder.SampleRate,
		Channels:    decoder.NChannels,
		BitDepth:    decoder.BitsPerSample,
		TotalFrames: int64(decoder.TotalSamples),
	}
	if err := validateInfo(path, info); err != nil {
		file.Close()
		return nil, err
	}

	divisor, _ := sampleDivisor(info.BitDepth)

	return &flacSource{
		file:           file,
		decoder:        decoder,
		info:           info,
		divisor:        divisor,
		bytesPerSample: info.BitDepth / 8,
	}, nil
}

func (s *flacSource) Info() AudioInfo { return s.info }

func (s *flacSource) Next() ([]byte, error) {
	frame, err := s.decoder.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentPipeline).
			Category(errors.CategoryAudio).
			Context("operation", "decode-flac").
			Build()
	}

	s.out = s.out[:0]
	for i := 0; i+s.bytesPerSample <= len(frame); i += s.bytesPerSample {
		var sample int32
		switch s.bytesPerSample {
		case 2:
			sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
		case 3:
			// sign-extend from 24 bits
			sample = int32(uint32(frame[i])<<8|uint32(frame[i+1])<<16|uint32(frame[i+2])<<24) >> 8
		case 4:
			sample = int32(binary.LittleEndian.Uint32(frame[i:]))
		}
		s.out = appendFloat32(s.out, float32(sample)/s.divisor)
	}
	return s.out, nil
}

func (s *flacSource) Close() error {
	return s.file.Close()
}
