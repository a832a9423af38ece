// Package wasmhost loads precompiled native modules into a wazero runtime and
// exposes their allocator and compute exports to Go.
package wasmhost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tphakala/heapbridge/internal/conf"
	"github.com/tphakala/heapbridge/internal/errors"
	"github.com/tphakala/heapbridge/internal/logging"
)

const ComponentWasmHost = "wasmhost"

// Failed native calls are logged for the first few occurrences and then at
// most once per interval, shared by every instance of the host
const (
	callFailureLogFirst    = 3
	callFailureLogInterval = 30 * time.Second
)

// CallObserver receives the duration and outcome of every native export call
type CallObserver interface {
	ObserveNativeCall(export string, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveNativeCall(string, time.Duration, error) {}

// Host owns a wazero runtime and the compiled modules loaded into it.
// Each Instantiate call creates an independent instance with its own linear memory.
type Host struct {
	settings  conf.ModuleSettings
	runtime   wazero.Runtime
	diskCache wazero.CompilationCache
	compiled  *cache.Cache
	compiling singleflight.Group
	logger    *slog.Logger
	observer  CallObserver
	failures  *rate.Sometimes

	mu          sync.Mutex
	hostImports map[string]api.Closer
	closed      bool
}

// HostOption configures a Host
type HostOption func(*Host)

// WithLogger sets the logger used by the host and its modules
func WithLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCallObserver sets the observer notified of native export calls
func WithCallObserver(observer CallObserver) HostOption {
	return func(h *Host) {
		if observer != nil {
			h.observer = observer
		}
	}
}

// NewHost creates a wazero runtime configured from settings
func NewHost(ctx context.Context, settings conf.ModuleSettings, opts ...HostOption) (*Host, error) {
	h := &Host{
		settings:    settings,
		observer:    noopObserver{},
		compiled:    cache.New(cache.NoExpiration, 0),
		failures:    &rate.Sometimes{First: callFailureLogFirst, Interval: callFailureLogInterval},
		hostImports: make(map[string]api.Closer),
	}

	h.logger = logging.ForService(ComponentWasmHost)
	if h.logger == nil {
		h.logger = slog.Default()
	}

	for _, opt := range opts {
		opt(h)
	}

	config := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	if settings.MemoryLimitPages > 0 {
		config = config.WithMemoryLimitPages(settings.MemoryLimitPages)
	}

	if settings.CacheDir != "" {
		diskCache, err := wazero.NewCompilationCacheWithDir(settings.CacheDir)
		if err != nil {
			return nil, errors.New(err).
				Component(ComponentWasmHost).
				Category(errors.CategoryModuleLoad).
				Context("operation", "create-compilation-cache").
				Context("cache_dir", settings.CacheDir).
				Build()
		}
		h.diskCache = diskCache
		config = config.WithCompilationCache(diskCache)
	}

	h.runtime = wazero.NewRuntimeWithConfig(ctx, config)

	// Close compiled modules that drop out of the cache
	h.compiled.OnEvicted(func(key string, value any) {
		if compiled, ok := value.(wazero.CompiledModule); ok {
			_ = compiled.Close(context.Background())
		}
	})

	return h, nil
}

// compiledKey identifies a module file revision
func compiledKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s@%d:%d", path, info.ModTime().UnixNano(), info.Size())
}

// Compile compiles the module at path, reusing a previous compilation while
// the file is unchanged
func (h *Host) Compile(ctx context.Context, path string) (wazero.CompiledModule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentWasmHost).
			Category(errors.CategoryModuleLoad).
			Context("operation", "stat-module").
			Context("module_path", path).
			Build()
	}

	key := compiledKey(path, info)
	if cached, found := h.compiled.Get(key); found {
		return cached.(wazero.CompiledModule), nil
	}

	// Concurrent loads of the same revision share one compilation
	v, err, _ := h.compiling.Do(key, func() (any, error) {
		if cached, found := h.compiled.Get(key); found {
			return cached, nil
		}

		binary, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.FileError(err, "read-module", path)
		}

		compiled, err := h.CompileBytes(ctx, binary)
		if err != nil {
			return nil, err
		}

		// Drop compilations of older revisions of the same file
		for k := range h.compiled.Items() {
			if k != key && strings.HasPrefix(k, path+"@") {
				h.compiled.Delete(k)
			}
		}
		h.compiled.Set(key, compiled, cache.NoExpiration)

		h.logger.Debug("native module compiled",
			"module_path", path,
			"size_bytes", info.Size())

		return compiled, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(wazero.CompiledModule), nil
}

// CompileBytes compiles a module binary without caching it
func (h *Host) CompileBytes(ctx context.Context, binary []byte) (wazero.CompiledModule, error) {
	start := time.Now()
	compiled, err := h.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentWasmHost).
			Category(errors.CategoryModuleLoad).
			Context("operation", "compile-module").
			Timing("compile-module", time.Since(start)).
			Build()
	}
	return compiled, nil
}

// ensureHostImports instantiates the emscripten and WASI host modules the guest
// imports. Each is instantiated at most once per runtime.
func (h *Host) ensureHostImports(ctx context.Context, compiled wazero.CompiledModule) error {
	needs := make(map[string]bool)
	for _, def := range compiled.ImportedFunctions() {
		moduleName, _, _ := def.Import()
		needs[moduleName] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if needs[wasi_snapshot_preview1.ModuleName] && h.hostImports[wasi_snapshot_preview1.ModuleName] == nil {
		closer, err := wasi_snapshot_preview1.Instantiate(ctx, h.runtime)
		if err != nil {
			return hostImportError(err, wasi_snapshot_preview1.ModuleName)
		}
		h.hostImports[wasi_snapshot_preview1.ModuleName] = closer
	}

	if needs["env"] && h.hostImports["env"] == nil {
		closer, err := emscripten.InstantiateForModule(ctx, h.runtime, compiled)
		if err != nil {
			return hostImportError(err, "env")
		}
		h.hostImports["env"] = closer
	}

	return nil
}

func hostImportError(err error, moduleName string) error {
	return errors.New(err).
		Component(ComponentWasmHost).
		Category(errors.CategoryModuleLoad).
		Context("operation", "instantiate-host-imports").
		Context("import_module", moduleName).
		Build()
}

// Instantiate loads the module at the configured path and returns a ready instance
func (h *Host) Instantiate(ctx context.Context) (*Module, error) {
	if h.settings.Path == "" {
		return nil, errors.Newf("native module path is not configured").
			Component(ComponentWasmHost).
			Category(errors.CategoryConfiguration).
			Context("operation", "instantiate-module").
			Build()
	}
	return h.InstantiatePath(ctx, h.settings.Path)
}

// InstantiatePath loads the module at path and returns a ready instance
func (h *Host) InstantiatePath(ctx context.Context, path string) (*Module, error) {
	compiled, err := h.Compile(ctx, path)
	if err != nil {
		return nil, err
	}
	return h.InstantiateCompiled(ctx, compiled, path)
}

// InstantiateCompiled creates a new instance of an already compiled module.
// name is used only for logging.
func (h *Host) InstantiateCompiled(ctx context.Context, compiled wazero.CompiledModule, name string) (*Module, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, errors.Newf("wasm host is closed").
			Component(ComponentWasmHost).
			Category(errors.CategoryState).
			Context("operation", "instantiate-module").
			Build()
	}

	if err := h.ensureHostImports(ctx, compiled); err != nil {
		return nil, err
	}

	start := time.Now()
	// Anonymous instances so one compiled module can back many independent instances.
	// Reactor modules export _initialize instead of _start; missing start functions are skipped.
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStderr(os.Stderr)

	instance, err := h.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentWasmHost).
			Category(errors.CategoryModuleLoad).
			Context("operation", "instantiate-module").
			Context("module", name).
			Timing("instantiate-module", time.Since(start)).
			Build()
	}

	mod, err := newModule(instance, h.settings, h.observer, h.failures, h.logger.With("module", name))
	if err != nil {
		_ = instance.Close(ctx)
		return nil, err
	}

	h.logger.Info("native module instantiated",
		"module", name,
		"memory_bytes", mod.MemorySize(),
		"duration_ms", time.Since(start).Milliseconds())

	return mod, nil
}

// Load instantiates the configured module in the background. onReady, when not
// nil, runs exactly once after the instance is usable and before Wait returns it.
func (h *Host) Load(ctx context.Context, onReady func(*Module)) *Loading {
	l := newLoading()

	go func() {
		loadCtx := ctx
		if h.settings.LoadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(ctx, h.settings.LoadTimeout)
			defer cancel()
		}

		mod, err := h.Instantiate(loadCtx)
		if err == nil && onReady != nil {
			onReady(mod)
		}
		l.complete(mod, err)
	}()

	return l
}

// Close releases every instance, compiled module and host import held by the runtime
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.compiled.Flush()

	var errs []error
	if err := h.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if h.diskCache != nil {
		if err := h.diskCache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return errors.New(err).
			Component(ComponentWasmHost).
			Category(errors.CategorySystem).
			Context("operation", "close-runtime").
			Build()
	}
	return nil
}
