package conf

// Region identifiers used by the streaming pipeline unless overridden
const (
	DefaultInputRegion  = "inBufs"
	DefaultOutputRegion = "outBufs"
)

// Default native module exports, matching what emscripten emits for
// malloc/free plus the compute entry point
const (
	DefaultAllocExport   = "malloc"
	DefaultFreeExport    = "free"
	DefaultProcessExport = "process"
)

// WASM linear memory is addressed in 64 KiB pages, up to 4 GiB
const (
	WasmPageSize     = 65536
	MaxMemoryPages   = 65536
	DefaultBlockSize = 1024
	MaxBlockSize     = 1 << 20
)

// Application name used for config directories and env prefix
const (
	AppName   = "heapbridge"
	EnvPrefix = "HEAPBRIDGE"
)
