package heap

import (
	"fmt"
	"math"

	"github.com/tphakala/heapbridge/internal/errors"
)

// Address is an offset into the native module's linear memory
type Address uint32

// NullAddress is the sentinel the native allocator returns when it is out of memory
const NullAddress Address = 0

// String formats the address as a hex offset
func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// Offset returns the address advanced by n bytes
func (a Address) Offset(n int) Address {
	return a + Address(n)
}

// Allocator is the allocate/release capability of a loaded native module
type Allocator interface {
	// Allocate reserves size bytes and returns their address. Implementations
	// report exhaustion with an error or by returning NullAddress.
	Allocate(size uint32) (Address, error)
	// Release frees an address previously returned by Allocate
	Release(addr Address) error
}

// Region is a live native allocation owned by one identifier
type Region struct {
	ID      string
	Address Address
	Size    int
}

// Stride returns the per-channel byte offset for a region holding channels
// equally sized channels
func (r Region) Stride(channels int) int {
	if channels <= 0 {
		return 0
	}
	return r.Size / channels
}

// ChannelAddress returns the address of channel ch given a per-channel stride
func (r Region) ChannelAddress(ch, bytesPerChannel int) Address {
	return r.Address.Offset(ch * bytesPerChannel)
}

// maxRegionSize bounds a region by the 32-bit native address space and, on
// 32-bit hosts, by what an int can hold
const maxRegionSize = min(uint64(math.MaxUint32), uint64(math.MaxInt))

// regionSize validates the request and returns the total byte size
func regionSize(id string, bytesPerChannel, channelCount int) (int, error) {
	if id == "" {
		return 0, errors.New(fmt.Errorf("region identifier is empty")).
			Component(ComponentHeap).
			Category(errors.CategoryValidation).
			Build()
	}

	if bytesPerChannel <= 0 || channelCount <= 0 {
		return 0, errors.New(fmt.Errorf("invalid region dimensions for %q: %d bytes x %d channels", id, bytesPerChannel, channelCount)).
			Component(ComponentHeap).
			Category(errors.CategoryValidation).
			Context("region", id).
			Context("bytes_per_channel", bytesPerChannel).
			Context("channel_count", channelCount).
			Build()
	}

	if uint64(bytesPerChannel) > maxRegionSize/uint64(channelCount) {
		return 0, errors.New(fmt.Errorf("region %q exceeds the %d byte native address limit", id, maxRegionSize)).
			Component(ComponentHeap).
			Category(errors.CategoryValidation).
			Context("region", id).
			Context("bytes_per_channel", bytesPerChannel).
			Context("channel_count", channelCount).
			Build()
	}

	return bytesPerChannel * channelCount, nil
}
