package wasmhost

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"golang.org/x/time/rate"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/heap"
)

// Module is one instantiated native module. It satisfies heap.Allocator through
// its exported malloc and free.
//
// Calls into a wazero instance are not goroutine-safe, so every export call and
// memory access is serialized.
type Module struct {
	mu       sync.Mutex
	instance api.Module
	memory   api.Memory
	malloc   api.Function
	free     api.Function
	process  api.Function
	exports  conf.ModuleSettings
	observer CallObserver
	failures *rate.Sometimes
	logger   *slog.Logger
}

var _ heap.Allocator = (*Module)(nil)

func newModule(instance api.Module, settings conf.ModuleSettings, observer CallObserver, failures *rate.Sometimes, logger *slog.Logger) (*Module, error) {
	m := &Module{
		instance: instance,
		memory:   instance.Memory(),
		malloc:   instance.ExportedFunction(settings.AllocExport),
		free:     instance.ExportedFunction(settings.FreeExport),
		exports:  settings,
		observer: observer,
		failures: failures,
		logger:   logger,
	}
	if settings.ProcessExport != "" {
		m.process = instance.ExportedFunction(settings.ProcessExport)
	}

	var missing []string
	if m.memory == nil {
		missing = append(missing, "memory")
	}
	if m.malloc == nil {
		missing = append(missing, settings.AllocExport)
	}
	if m.free == nil {
		missing = append(missing, settings.FreeExport)
	}
	if len(missing) > 0 {
		return nil, errors.Newf("native module is missing required exports: %v", missing).
			Component(ComponentWasmHost).
			Category(errors.CategoryModuleLoad).
			Context("operation", "resolve-exports").
			Context("missing", missing).
			Build()
	}

	if m.process == nil && settings.ProcessExport != "" {
		logger.Warn("native module has no compute export, only allocation is available",
			"export", settings.ProcessExport)
	}

	return m, nil
}

// call invokes fn and reports the call to the observer. Caller holds m.mu.
func (m *Module) call(ctx context.Context, name string, fn api.Function, params ...uint64) ([]uint64, error) {
	start := time.Now()
	results, err := fn.Call(ctx, params...)
	elapsed := time.Since(start)
	m.observer.ObserveNativeCall(name, elapsed, err)

	if err != nil {
		m.failures.Do(func() {
			m.logger.Warn("native call failed",
				"export", name,
				"duration_ms", elapsed.Milliseconds(),
				"error", err)
		})
		return nil, errors.New(err).
			Component(ComponentWasmHost).
			Category(errors.CategoryNativeCall).
			Context("export", name).
			Timing("native-call", elapsed).
			Build()
	}
	return results, nil
}

// Allocate calls the module's allocator. A NullAddress result means the
// module is out of memory; the region manager treats it as a failure.
func (m *Module) Allocate(size uint32) (heap.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results, err := m.call(context.Background(), m.exports.AllocExport, m.malloc, api.EncodeU32(size))
	if err != nil {
		return heap.NullAddress, err
	}
	if len(results) == 0 {
		return heap.NullAddress, errors.Newf("allocator export %s returned no result", m.exports.AllocExport).
			Component(ComponentWasmHost).
			Category(errors.CategoryNativeCall).
			Build()
	}

	return heap.Address(api.DecodeU32(results[0])), nil
}

// Release frees an address previously returned by Allocate
func (m *Module) Release(addr heap.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.call(context.Background(), m.exports.FreeExport, m.free, api.EncodeU32(uint32(addr)))
	return err
}

// Process runs the compute export over bytesPerChannel bytes of each of
// channels planar channels starting at in, writing the result at out
func (m *Module) Process(ctx context.Context, in, out heap.Address, bytesPerChannel, channels int) error {
	if m.process == nil {
		return errors.Newf("native module does not export %s", m.exports.ProcessExport).
			Component(ComponentWasmHost).
			Category(errors.CategoryNativeCall).
			Context("export", m.exports.ProcessExport).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.call(ctx, m.exports.ProcessExport, m.process,
		api.EncodeU32(uint32(in)),
		api.EncodeU32(uint32(out)),
		api.EncodeI32(int32(bytesPerChannel)),
		api.EncodeI32(int32(channels)))
	return err
}

// Call invokes any exported function by name
func (m *Module) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	fn := m.instance.ExportedFunction(export)
	if fn == nil {
		return nil, errors.Newf("native module does not export %s", export).
			Component(ComponentWasmHost).
			Category(errors.CategoryNotFound).
			Context("export", export).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call(ctx, export, fn, params...)
}

func (m *Module) boundsError(operation string, addr heap.Address, n int) error {
	return errors.Newf("%s of %d bytes at %s is outside linear memory (%d bytes)", operation, n, addr, m.memory.Size()).
		Component(ComponentWasmHost).
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Context("address", addr.String()).
		Context("length", n).
		Build()
}

// Write copies data into linear memory at addr
func (m *Module) Write(addr heap.Address, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.memory.Write(uint32(addr), data) {
		return m.boundsError("memory-write", addr, len(data))
	}
	return nil
}

// Read copies n bytes of linear memory starting at addr
func (m *Module) Read(addr heap.Address, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	view, ok := m.memory.Read(uint32(addr), uint32(n))
	if !ok {
		return nil, m.boundsError("memory-read", addr, n)
	}
	// The view aliases linear memory and is invalidated if memory grows
	return slices.Clone(view), nil
}

// ReadInto fills dst from linear memory starting at addr
func (m *Module) ReadInto(addr heap.Address, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view, ok := m.memory.Read(uint32(addr), uint32(len(dst)))
	if !ok {
		return m.boundsError("memory-read", addr, len(dst))
	}
	copy(dst, view)
	return nil
}

// MemorySize returns the current size of linear memory in bytes
func (m *Module) MemorySize() uint32 {
	return m.memory.Size()
}

// Exports lists the names of the module's exported functions
func (m *Module) Exports() []string {
	return slices.Sorted(maps.Keys(m.instance.ExportedFunctionDefinitions()))
}

// HasProcess reports whether the compute export is available
func (m *Module) HasProcess() bool {
	return m.process != nil
}

// Close releases the instance and its linear memory
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance.Close(ctx)
}
