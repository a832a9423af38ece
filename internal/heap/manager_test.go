package heap

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/heapbridge/internal/errors"
)

func newReadyManager(t *testing.T, opts ...Option) (*Manager, *fakeAllocator) {
	t.Helper()
	alloc := newFakeAllocator()
	mgr := NewManager(append(opts, WithAllocator(alloc))...)
	require.True(t, mgr.IsReady())
	return mgr, alloc
}

func TestEnsureRegionFirstRequestAllocates(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	stride, err := mgr.EnsureRegion("inBufs", 256, 2)
	require.NoError(t, err)
	assert.Equal(t, 256, stride)

	calls := alloc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "allocate", calls[0].Op)
	assert.Equal(t, uint32(512), calls[0].Size)

	addr, ok := mgr.AddressOf("inBufs")
	require.True(t, ok)
	assert.Equal(t, calls[0].Address, addr)

	region, ok := mgr.Region("inBufs")
	require.True(t, ok)
	assert.Equal(t, 512, region.Size)
}

func TestEnsureRegionIdempotent(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	_, err := mgr.EnsureRegion("in", 128, 4)
	require.NoError(t, err)
	first, _ := mgr.AddressOf("in")
	require.Len(t, alloc.Calls(), 1)

	_, err = mgr.EnsureRegion("in", 128, 4)
	require.NoError(t, err)
	second, _ := mgr.AddressOf("in")

	assert.Empty(t, alloc.Calls(), "unchanged size must not reach the native allocator")
	assert.Equal(t, first, second)
}

func TestEnsureRegionResize(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	_, err := mgr.EnsureRegion("out", 256, 2)
	require.NoError(t, err)
	first, _ := mgr.AddressOf("out")
	alloc.Calls()

	_, err = mgr.EnsureRegion("out", 256, 3)
	require.NoError(t, err)
	second, _ := mgr.AddressOf("out")

	calls := alloc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, nativeCall{Op: "release", Address: first}, calls[0])
	assert.Equal(t, "allocate", calls[1].Op)
	assert.Equal(t, uint32(768), calls[1].Size)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, alloc.LiveCount())
}

func TestEnsureRegionComparesTotalSizeOnly(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	_, err := mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	alloc.Calls()

	// Same product, different stride: treated as unchanged
	stride, err := mgr.EnsureRegion("in", 128, 4)
	require.NoError(t, err)
	assert.Equal(t, 128, stride)
	assert.Empty(t, alloc.Calls())
}

func TestEnsureRegionIsolation(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	_, err := mgr.EnsureRegion("A", 64, 2)
	require.NoError(t, err)
	_, err = mgr.EnsureRegion("B", 64, 2)
	require.NoError(t, err)
	addrB, _ := mgr.AddressOf("B")
	alloc.Calls()

	_, err = mgr.EnsureRegion("A", 64, 8)
	require.NoError(t, err)
	require.NoError(t, mgr.ReleaseRegion("A"))

	for _, call := range alloc.Calls() {
		assert.NotEqual(t, addrB, call.Address, "operations on A touched B's region")
	}

	stillB, ok := mgr.AddressOf("B")
	require.True(t, ok)
	assert.Equal(t, addrB, stillB)
}

func TestEnsureRegionInvalidArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		id              string
		bytesPerChannel int
		channelCount    int
	}{
		{"zero bytes per channel", "in", 0, 4},
		{"zero channels", "in", 4, 0},
		{"negative bytes per channel", "in", -8, 2},
		{"negative channels", "in", 8, -2},
		{"empty identifier", "", 8, 2},
		{"exceeds address space", "in", math.MaxInt32, 4},
		{"overflows int", "in", math.MaxInt, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr, alloc := newReadyManager(t)

			_, err := mgr.EnsureRegion(tt.id, tt.bytesPerChannel, tt.channelCount)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, alloc.Calls())

			_, ok := mgr.AddressOf(tt.id)
			assert.False(t, ok)
		})
	}
}

func TestOperationsBeforeReady(t *testing.T) {
	t.Parallel()

	alloc := newFakeAllocator()
	mgr := NewManager()
	require.False(t, mgr.IsReady())

	_, err := mgr.EnsureRegion("in", 256, 2)
	assert.ErrorIs(t, err, ErrNotReady)

	err = mgr.ReleaseRegion("in")
	assert.ErrorIs(t, err, ErrNotReady)

	err = mgr.ReleaseAll()
	assert.ErrorIs(t, err, ErrNotReady)

	_, ok := mgr.AddressOf("in")
	assert.False(t, ok)
	assert.Empty(t, alloc.Calls())

	// Close on a never-bound manager has nothing to tear down
	assert.NoError(t, mgr.Close())

	require.NoError(t, mgr.Bind(alloc))
	_, err = mgr.EnsureRegion("in", 256, 2)
	assert.NoError(t, err)
}

func TestReadinessContinuationFiresOnce(t *testing.T) {
	t.Parallel()

	fired := 0
	mgr := NewManager(WithOnReady(func() { fired++ }))

	select {
	case <-mgr.Ready():
		t.Fatal("ready channel closed before bind")
	default:
	}

	require.NoError(t, mgr.Bind(newFakeAllocator()))
	assert.Equal(t, 1, fired)

	select {
	case <-mgr.Ready():
	default:
		t.Fatal("ready channel not closed after bind")
	}

	err := mgr.Bind(newFakeAllocator())
	assert.ErrorIs(t, err, ErrAlreadyBound)
	assert.Equal(t, 1, fired)
}

func TestBindNilAllocator(t *testing.T) {
	t.Parallel()

	mgr := NewManager()
	err := mgr.Bind(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, mgr.IsReady())
}

func TestReadinessContinuationWithConstructorAllocator(t *testing.T) {
	t.Parallel()

	fired := 0
	mgr := NewManager(WithOnReady(func() { fired++ }), WithAllocator(newFakeAllocator()))
	assert.True(t, mgr.IsReady())
	assert.Equal(t, 1, fired)
}

func TestReleaseRegion(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	_, err := mgr.EnsureRegion("in", 32, 2)
	require.NoError(t, err)
	addr, _ := mgr.AddressOf("in")
	alloc.Calls()

	require.NoError(t, mgr.ReleaseRegion("in"))
	calls := alloc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, nativeCall{Op: "release", Address: addr}, calls[0])

	_, ok := mgr.AddressOf("in")
	assert.False(t, ok)

	// Releasing again, or releasing an unknown identifier, is a no-op
	require.NoError(t, mgr.ReleaseRegion("in"))
	require.NoError(t, mgr.ReleaseRegion("never-requested"))
	assert.Empty(t, alloc.Calls())
	assert.Zero(t, alloc.doubleFrees)
}

func TestReleaseAll(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	ids := []string{"inBufs", "outBufs", "scratch"}
	for i, id := range ids {
		_, err := mgr.EnsureRegion(id, 64*(i+1), 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, mgr.Len())
	assert.Equal(t, 64*2+128*2+192*2, mgr.LiveBytes())
	alloc.Calls()

	require.NoError(t, mgr.ReleaseAll())

	releases := 0
	for _, call := range alloc.Calls() {
		require.Equal(t, "release", call.Op)
		releases++
	}
	assert.Equal(t, len(ids), releases)

	for _, id := range ids {
		_, ok := mgr.AddressOf(id)
		assert.False(t, ok, "region %s still set after ReleaseAll", id)
	}
	assert.Zero(t, mgr.Len())
	assert.Zero(t, alloc.LiveCount())

	// Teardown of an empty manager makes no native calls
	require.NoError(t, mgr.Close())
	assert.Empty(t, alloc.Calls())
}

func TestAllocationFailureLeavesRegionUnset(t *testing.T) {
	t.Parallel()

	recorder := newRecordingRecorder()
	mgr, alloc := newReadyManager(t, WithRecorder(recorder))

	_, err := mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	old, _ := mgr.AddressOf("in")
	alloc.Calls()

	alloc.failAlloc = fmt.Errorf("out of memory")
	_, err = mgr.EnsureRegion("in", 1024, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocationFailure)
	assert.True(t, errors.IsCategory(err, errors.CategoryAllocation))

	calls := alloc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, nativeCall{Op: "release", Address: old}, calls[0])
	assert.Equal(t, "allocate", calls[1].Op)

	_, ok := mgr.AddressOf("in")
	assert.False(t, ok, "region must not point at released memory")
	assert.Equal(t, 1, recorder.failures[FailureAllocate])

	// Teardown must not release the old address a second time
	require.NoError(t, mgr.ReleaseAll())
	assert.Empty(t, alloc.Calls())
	assert.Zero(t, alloc.doubleFrees)

	// The caller may retry once memory is available again
	alloc.failAlloc = nil
	_, err = mgr.EnsureRegion("in", 1024, 2)
	require.NoError(t, err)
}

func TestNativeErrorCategoriesDoNotLeak(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	// A trapping allocator reports a native-call error, the same category as
	// a failed release
	alloc.failAlloc = errors.New(fmt.Errorf("wasm error: out of bounds memory access")).
		Category(errors.CategoryNativeCall).
		Build()
	_, err := mgr.EnsureRegion("in", 256, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocationFailure)
	assert.NotErrorIs(t, err, ErrReleaseFailure)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrNotReady)

	// A release failure carrying a validation-category cause is still only
	// a release failure
	alloc.failAlloc = nil
	_, err = mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	alloc.failRelease = errors.New(fmt.Errorf("address outside linear memory")).
		Component("wasmhost").
		Category(errors.CategoryValidation).
		Build()
	err = mgr.ReleaseRegion("in")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReleaseFailure)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrAllocationFailure)
}

func TestNullAddressIsAllocationFailure(t *testing.T) {
	t.Parallel()

	recorder := newRecordingRecorder()
	mgr, alloc := newReadyManager(t, WithRecorder(recorder))
	alloc.nullAlloc = true

	_, err := mgr.EnsureRegion("in", 16, 1)
	assert.ErrorIs(t, err, ErrAllocationFailure)

	_, ok := mgr.AddressOf("in")
	assert.False(t, ok)
	assert.Equal(t, 1, recorder.failures[FailureNull])
}

func TestReleaseFailureDropsRegion(t *testing.T) {
	t.Parallel()

	recorder := newRecordingRecorder()
	mgr, alloc := newReadyManager(t, WithRecorder(recorder))

	_, err := mgr.EnsureRegion("in", 16, 2)
	require.NoError(t, err)
	_, err = mgr.EnsureRegion("out", 16, 2)
	require.NoError(t, err)
	alloc.Calls()

	alloc.failRelease = fmt.Errorf("trap in free")
	err = mgr.ReleaseAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReleaseFailure)

	// Both regions were attempted and both are unset
	assert.Len(t, alloc.Calls(), 2)
	assert.Zero(t, mgr.Len())

	// Dropped regions leave the recorder's live count as well
	assert.Equal(t, 2, recorder.releases)
	assert.Equal(t, 2, recorder.failures[FailureRelease])
	assert.Equal(t, recorder.allocations, recorder.releases)

	alloc.failRelease = nil
	require.NoError(t, mgr.ReleaseAll())
	assert.Empty(t, alloc.Calls())
	assert.Zero(t, alloc.doubleFrees)
}

func TestRecorderEvents(t *testing.T) {
	t.Parallel()

	recorder := newRecordingRecorder()
	mgr, _ := newReadyManager(t, WithRecorder(recorder))

	_, err := mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	_, err = mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	_, err = mgr.EnsureRegion("in", 512, 2)
	require.NoError(t, err)
	require.NoError(t, mgr.ReleaseRegion("in"))

	assert.Equal(t, 2, recorder.allocations)
	assert.Equal(t, 2, recorder.releases)
	assert.Equal(t, 1, recorder.reuses)
	assert.Empty(t, recorder.failures)
}

func TestRegionsSnapshot(t *testing.T) {
	t.Parallel()

	mgr, _ := newReadyManager(t, WithID("test-manager"))
	assert.Equal(t, "test-manager", mgr.ID())

	_, err := mgr.EnsureRegion("outBufs", 8, 2)
	require.NoError(t, err)
	_, err = mgr.EnsureRegion("inBufs", 8, 2)
	require.NoError(t, err)

	regions := mgr.Regions()
	require.Len(t, regions, 2)
	assert.Equal(t, "inBufs", regions[0].ID)
	assert.Equal(t, "outBufs", regions[1].ID)

	// Snapshot is a copy
	regions[0].Size = 0
	region, _ := mgr.Region("inBufs")
	assert.Equal(t, 16, region.Size)
}

func TestRegionChannelAddressing(t *testing.T) {
	t.Parallel()

	region := Region{ID: "in", Address: 0x2000, Size: 1024}
	assert.Equal(t, 256, region.Stride(4))
	assert.Equal(t, 0, region.Stride(0))
	assert.Equal(t, Address(0x2000+512), region.ChannelAddress(2, 256))
	assert.Equal(t, "0x00002000", region.Address.String())
}

func TestRegionSizeLimit(t *testing.T) {
	t.Parallel()

	size, err := regionSize("in", 1, int(maxRegionSize))
	require.NoError(t, err)
	assert.Equal(t, int(maxRegionSize), size)

	// maxRegionSize is odd, so this is one byte over the limit
	_, err = regionSize("in", 2, int(maxRegionSize/2)+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.LessOrEqual(t, maxRegionSize, uint64(math.MaxUint32))
	assert.LessOrEqual(t, maxRegionSize, uint64(math.MaxInt))
}

// TestEndToEndScenario walks the allocate, reuse, resize and release sequence
func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	mgr, alloc := newReadyManager(t)

	// First request allocates 512 bytes
	_, err := mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	calls := alloc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(512), calls[0].Size)
	a1, _ := mgr.AddressOf("in")
	assert.Equal(t, calls[0].Address, a1)

	// Same request reuses A1
	_, err = mgr.EnsureRegion("in", 256, 2)
	require.NoError(t, err)
	assert.Empty(t, alloc.Calls())
	same, _ := mgr.AddressOf("in")
	assert.Equal(t, a1, same)

	// Doubling the stride releases A1 and allocates 1024 bytes
	_, err = mgr.EnsureRegion("in", 512, 2)
	require.NoError(t, err)
	calls = alloc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, nativeCall{Op: "release", Address: a1}, calls[0])
	assert.Equal(t, uint32(1024), calls[1].Size)
	a2, _ := mgr.AddressOf("in")
	assert.NotEqual(t, a1, a2)

	// Release frees A2 and leaves the region unset
	require.NoError(t, mgr.ReleaseRegion("in"))
	calls = alloc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, nativeCall{Op: "release", Address: a2}, calls[0])
	_, ok := mgr.AddressOf("in")
	assert.False(t, ok)
}
