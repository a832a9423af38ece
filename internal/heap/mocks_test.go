package heap

import (
	"fmt"
	"sync"
)

// nativeCall records one call made against the fake allocator
type nativeCall struct {
	Op      string // "allocate" or "release"
	Size    uint32
	Address Address
}

// fakeAllocator hands out distinct bump addresses and records every call
type fakeAllocator struct {
	mu          sync.Mutex
	next        Address
	live        map[Address]uint32
	calls       []nativeCall
	failAlloc   error
	nullAlloc   bool
	failRelease error
	doubleFrees int
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{
		next: 0x1000,
		live: make(map[Address]uint32),
	}
}

func (f *fakeAllocator) Allocate(size uint32) (Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, nativeCall{Op: "allocate", Size: size})
	if f.failAlloc != nil {
		return NullAddress, f.failAlloc
	}
	if f.nullAlloc {
		return NullAddress, nil
	}

	addr := f.next
	f.next += Address(size) + 16
	f.live[addr] = size
	f.calls[len(f.calls)-1].Address = addr
	return addr, nil
}

func (f *fakeAllocator) Release(addr Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, nativeCall{Op: "release", Address: addr})
	if _, ok := f.live[addr]; !ok {
		f.doubleFrees++
		return fmt.Errorf("release of unknown address %s", addr)
	}
	delete(f.live, addr)
	return f.failRelease
}

// Calls returns a copy of the recorded calls and resets the log
func (f *fakeAllocator) Calls() []nativeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

func (f *fakeAllocator) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// recordingRecorder captures Recorder events for assertions
type recordingRecorder struct {
	allocations int
	releases    int
	reuses      int
	failures    map[string]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{failures: make(map[string]int)}
}

func (r *recordingRecorder) RecordAllocation(string, string, int) { r.allocations++ }
func (r *recordingRecorder) RecordRelease(string, string, int)    { r.releases++ }
func (r *recordingRecorder) RecordReuse(string, string)           { r.reuses++ }
func (r *recordingRecorder) RecordFailure(_, _, kind string)      { r.failures[kind]++ }
