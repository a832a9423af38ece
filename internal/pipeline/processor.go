package pipeline

import (
	"context"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/heap"
)

// NativeModule is the compute side of a loaded module
type NativeModule interface {
	Write(addr heap.Address, data []byte) error
	ReadInto(addr heap.Address, dst []byte) error
	Process(ctx context.Context, in, out heap.Address, bytesPerChannel, channels int) error
}

// Processor hands blocks of audio to a native module through two regions,
// one for input channels and one for output channels
type Processor struct {
	regions      *heap.Manager
	module       NativeModule
	inputRegion  string
	outputRegion string

	planarIn  []byte
	planarOut []byte
	result    []byte
}

// NewProcessor creates a Processor staging blocks in regions named by settings
func NewProcessor(regions *heap.Manager, module NativeModule, settings conf.ProcessSettings) *Processor {
	return &Processor{
		regions:      regions,
		module:       module,
		inputRegion:  settings.InputRegion,
		outputRegion: settings.OutputRegion,
	}
}

// ProcessBlock runs one block of interleaved float32 frames through the module
// and returns the processed frames, interleaved. The returned slice is reused
// by the next call.
//
// Regions are sized to the block, so a shorter trailing block resizes both.
func (p *Processor) ProcessBlock(ctx context.Context, interleaved []byte, channels int) ([]byte, error) {
	if channels < 1 || len(interleaved)%(channels*BytesPerSample) != 0 {
		return nil, errors.Newf("block of %d bytes is not a whole number of %d-channel frames", len(interleaved), channels).
			Component(ComponentPipeline).
			Category(errors.CategoryValidation).
			Build()
	}

	frames := len(interleaved) / (channels * BytesPerSample)
	bytesPerChannel := frames * BytesPerSample

	if _, err := p.regions.EnsureRegion(p.inputRegion, bytesPerChannel, channels); err != nil {
		return nil, err
	}
	if _, err := p.regions.EnsureRegion(p.outputRegion, bytesPerChannel, channels); err != nil {
		return nil, err
	}

	in, ok := p.regions.Region(p.inputRegion)
	if !ok {
		return nil, p.missingRegion(p.inputRegion)
	}
	out, ok := p.regions.AddressOf(p.outputRegion)
	if !ok {
		return nil, p.missingRegion(p.outputRegion)
	}

	// Each channel goes to its own stride of the input region
	p.planarIn = deinterleave(p.planarIn, interleaved, channels)
	stride := in.Stride(channels)
	for ch := range channels {
		channel := p.planarIn[ch*stride : (ch+1)*stride]
		if err := p.module.Write(in.ChannelAddress(ch, stride), channel); err != nil {
			return nil, err
		}
	}

	if err := p.module.Process(ctx, in.Address, out, bytesPerChannel, channels); err != nil {
		return nil, err
	}

	p.planarOut = resize(p.planarOut, len(interleaved))
	if err := p.module.ReadInto(out, p.planarOut); err != nil {
		return nil, err
	}

	p.result = interleave(p.result, p.planarOut, channels)
	return p.result, nil
}

func (p *Processor) missingRegion(id string) error {
	return errors.Newf("region %q has no address after ensure", id).
		Component(ComponentPipeline).
		Category(errors.CategoryState).
		Context("region", id).
		Build()
}
