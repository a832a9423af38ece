package heap

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/logging"
)

// Failure kinds reported to the Recorder
const (
	FailureAllocate = "allocate"
	FailureRelease  = "release"
	FailureNull     = "null_address"
)

// Recorder receives region lifecycle events, typically for metrics
type Recorder interface {
	RecordAllocation(managerID, regionID string, size int)
	RecordRelease(managerID, regionID string, size int)
	RecordReuse(managerID, regionID string)
	RecordFailure(managerID, regionID, kind string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAllocation(string, string, int) {}
func (noopRecorder) RecordRelease(string, string, int)    {}
func (noopRecorder) RecordReuse(string, string)           {}
func (noopRecorder) RecordFailure(string, string, string) {}

// binding boxes the allocator so it can be published atomically
type binding struct {
	alloc Allocator
}

// Manager tracks one native region per identifier
type Manager struct {
	id       string
	native   atomic.Pointer[binding]
	ready    chan struct{}
	bindOnce sync.Once
	onReady  func()
	initial  Allocator
	regions  map[string]*Region
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used by the manager
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRecorder sets the lifecycle event recorder
func WithRecorder(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

// WithOnReady registers the continuation fired once when the native module is bound
func WithOnReady(fn func()) Option {
	return func(m *Manager) {
		m.onReady = fn
	}
}

// WithID overrides the generated manager identifier
func WithID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.id = id
		}
	}
}

// WithAllocator binds the native allocator at construction time, for
// environments where the module is loaded synchronously
func WithAllocator(alloc Allocator) Option {
	return func(m *Manager) {
		m.initial = alloc
	}
}

// NewManager creates a region manager. Unless WithAllocator is given, the
// manager stays not ready until Bind is called.
func NewManager(opts ...Option) *Manager {
	logger := logging.ForService("heap")
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		id:       uuid.NewString(),
		ready:    make(chan struct{}),
		regions:  make(map[string]*Region),
		logger:   logger,
		recorder: noopRecorder{},
	}

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "region_manager", "manager_id", m.id)

	if m.initial != nil {
		if err := m.Bind(m.initial); err != nil {
			m.logger.Error("failed to bind native allocator", "error", err)
		}
		m.initial = nil
	}

	return m
}

// ID returns the manager identifier used in logs and metrics
func (m *Manager) ID() string {
	return m.id
}

// Bind attaches the native allocator and marks the manager ready. The
// continuation registered with WithOnReady runs exactly once, on the
// calling goroutine.
func (m *Manager) Bind(alloc Allocator) error {
	if alloc == nil {
		return errors.New(fmt.Errorf("cannot bind a nil allocator")).
			Component(ComponentHeap).
			Category(errors.CategoryValidation).
			Build()
	}

	bound := false
	m.bindOnce.Do(func() {
		m.native.Store(&binding{alloc: alloc})
		close(m.ready)
		bound = true
	})

	if !bound {
		return errors.New(fmt.Errorf("native module already bound to manager %s", m.id)).
			Component(ComponentHeap).
			Category(errors.CategoryState).
			Build()
	}

	m.logger.Debug("native module bound")
	if m.onReady != nil {
		m.onReady()
	}
	return nil
}

// Ready returns a channel closed once the native module is bound
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// IsReady reports whether the native module is bound
func (m *Manager) IsReady() bool {
	return m.native.Load() != nil
}

// allocator returns the bound allocator or ErrNotReady
func (m *Manager) allocator(operation, id string) (Allocator, error) {
	b := m.native.Load()
	if b == nil {
		return nil, errors.New(fmt.Errorf("%s %q: native module not ready", operation, id)).
			Component(ComponentHeap).
			Category(errors.CategoryNotReady).
			Context("operation", operation).
			Context("region", id).
			Build()
	}
	return b.alloc, nil
}

// EnsureRegion makes sure region id holds bytesPerChannel*channelCount bytes.
// An existing region of the same total size is reused without native calls;
// one of a different size is released and replaced. The return value is
// bytesPerChannel, the stride callers use to locate each channel.
func (m *Manager) EnsureRegion(id string, bytesPerChannel, channelCount int) (int, error) {
	native, err := m.allocator("ensure_region", id)
	if err != nil {
		return 0, err
	}

	requested, err := regionSize(id, bytesPerChannel, channelCount)
	if err != nil {
		return 0, err
	}

	region, exists := m.regions[id]
	if exists && region.Size == requested {
		m.recorder.RecordReuse(m.id, id)
		return bytesPerChannel, nil
	}

	if exists {
		m.logger.Debug("resizing region",
			"region", id,
			"old_size", region.Size,
			"new_size", requested)
		if err := m.release(native, region); err != nil {
			return 0, err
		}
	}

	addr, err := native.Allocate(uint32(requested))
	if err != nil || addr == NullAddress {
		kind := FailureAllocate
		if err == nil {
			kind = FailureNull
			err = fmt.Errorf("allocator returned null address")
		}
		m.recorder.RecordFailure(m.id, id, kind)
		m.logger.Warn("native allocation failed",
			"region", id,
			"size", requested,
			"error", err)
		return 0, errors.New(fmt.Errorf("allocate %d bytes for region %q: %w", requested, id, err)).
			Component(ComponentHeap).
			Category(errors.CategoryAllocation).
			Context("region", id).
			Context("size", requested).
			Build()
	}

	m.regions[id] = &Region{ID: id, Address: addr, Size: requested}
	m.recorder.RecordAllocation(m.id, id, requested)
	m.logger.Debug("region allocated",
		"region", id,
		"address", addr.String(),
		"size", requested)

	return bytesPerChannel, nil
}

// release frees a tracked region. The region leaves the table before the
// native call so a failed release can never lead to a second free.
func (m *Manager) release(native Allocator, region *Region) error {
	delete(m.regions, region.ID)

	if err := native.Release(region.Address); err != nil {
		// The region is gone from the table either way
		m.recorder.RecordRelease(m.id, region.ID, region.Size)
		m.recorder.RecordFailure(m.id, region.ID, FailureRelease)
		m.logger.Warn("native release failed",
			"region", region.ID,
			"address", region.Address.String(),
			"error", err)
		return errors.New(fmt.Errorf("release region %q at %s: %w", region.ID, region.Address, err)).
			Component(ComponentHeap).
			Category(errors.CategoryNativeCall).
			Context("region", region.ID).
			Context("size", region.Size).
			Build()
	}

	m.recorder.RecordRelease(m.id, region.ID, region.Size)
	m.logger.Debug("region released",
		"region", region.ID,
		"address", region.Address.String(),
		"size", region.Size)
	return nil
}

// AddressOf returns the address of region id, or false if it is unset.
// It only reads the table, so before the native module is bound it reports
// every region as unset instead of failing with ErrNotReady.
func (m *Manager) AddressOf(id string) (Address, bool) {
	region, ok := m.regions[id]
	if !ok {
		return NullAddress, false
	}
	return region.Address, true
}

// Region returns a copy of the tracked region for id
func (m *Manager) Region(id string) (Region, bool) {
	region, ok := m.regions[id]
	if !ok {
		return Region{}, false
	}
	return *region, true
}

// Regions returns a snapshot of all live regions ordered by identifier
func (m *Manager) Regions() []Region {
	ids := slices.Sorted(maps.Keys(m.regions))
	out := make([]Region, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.regions[id])
	}
	return out
}

// Len returns the number of live regions
func (m *Manager) Len() int {
	return len(m.regions)
}

// LiveBytes returns the total size of all live regions
func (m *Manager) LiveBytes() int {
	total := 0
	for _, region := range m.regions {
		total += region.Size
	}
	return total
}

// ReleaseRegion frees region id. Releasing an unset region is a no-op.
func (m *Manager) ReleaseRegion(id string) error {
	native, err := m.allocator("release_region", id)
	if err != nil {
		return err
	}

	region, ok := m.regions[id]
	if !ok {
		return nil
	}
	return m.release(native, region)
}

// ReleaseAll frees every tracked region. All regions are unset afterwards;
// failed native releases are joined into the returned error.
func (m *Manager) ReleaseAll() error {
	native, err := m.allocator("release_all", "*")
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(m.regions)) {
		if err := m.release(native, m.regions[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases all regions. A manager that was never bound has nothing
// to release, so Close on it returns nil.
func (m *Manager) Close() error {
	if !m.IsReady() {
		return nil
	}
	return m.ReleaseAll()
}
