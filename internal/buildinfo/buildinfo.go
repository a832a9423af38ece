// Package buildinfo holds build-time metadata injected with -ldflags
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/tphakala/heapbridge/internal/buildinfo.Version=v1.2.0"
var (
	Version   = ""
	BuildDate = "unknown"
)

// GetVersion returns the injected version, falling back to the module
// version recorded by the Go toolchain
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// String formats the build metadata for --version output
func String() string {
	return fmt.Sprintf("%s (built %s, %s %s/%s)", GetVersion(), BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
