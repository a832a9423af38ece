//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects goroutines tracked by hand that can use wg.Go().
//
// Old pattern:
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    serve()
//	}()
//
// New pattern:
//
//	wg.Go(serve)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("Use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")
}

// MemoryViewEscape flags wazero memory views leaving the function that read
// them. A view aliases linear memory and is invalidated when the module grows
// its memory, so it must be copied first.
func MemoryViewEscape(m dsl.Matcher) {
	m.Import("github.com/tetratelabs/wazero/api")

	m.Match(`$view, $_ := $mem.Read($*_); $*_; return $view, $*_`,
		`$view, $_ := $mem.Read($*_); $*_; return $view`).
		Where(m["mem"].Type.Implements("api.Memory")).
		Report("$view aliases linear memory; return slices.Clone($view) or copy into a caller buffer")
}

// NativeHandleRelease flags module instances that are never closed on the
// error-free path. Each instance owns its own linear memory.
func NativeHandleRelease(m dsl.Matcher) {
	m.Import("github.com/tphakala/heapbridge/internal/wasmhost")

	m.Match(`$mod, $err := $host.Instantiate($ctx); if $err != nil { return $*_ }; $*body`).
		Where(m["mod"].Type.Is("*wasmhost.Module") && !m["body"].Text.Matches(`\.Close\(`)).
		Report("$mod is never closed; defer $mod.Close(ctx)")
}

// BareErrorsInCore keeps the region manager and module host on the
// EnhancedError builder so every failure carries a component and category.
func BareErrorsInCore(m dsl.Matcher) {
	m.Import("fmt")

	m.Match(`return fmt.Errorf($*_)`, `return $_, fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/(heap|wasmhost)$`)).
		Report("wrap with errors.New(...).Component(...).Category(...).Build()")
}
