// Package heap manages scratch regions inside the linear memory of a loaded
// native computation module.
//
// A Manager maps caller-chosen region identifiers (for example "inBufs" and
// "outBufs") to live native allocations. Each identifier owns at most one
// region at a time. Asking for the same total size again reuses the region
// without touching the native allocator; asking for a different total size
// releases the old region before allocating the new one, so a region is
// never grown in place and an address is never freed twice.
//
// # Readiness
//
// The native module usually finishes loading after the Manager is created.
// Until Bind is called with the module's allocator, EnsureRegion,
// ReleaseRegion and ReleaseAll fail with ErrNotReady and make no native
// calls. Bind fires the continuation registered with WithOnReady exactly
// once and closes the channel returned by Ready.
//
// # Concurrency
//
// The region table is not locked. A Manager is meant to be driven by a
// single caller, the same way the native module itself is single threaded.
// Bind is the one method that may be called from another goroutine, such as
// the loader that compiled the module.
//
// # Example
//
//	mgr := heap.NewManager(heap.WithOnReady(func() {
//	    logger.Info("native module ready")
//	}))
//	if err := mgr.Bind(module); err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	stride, err := mgr.EnsureRegion("inBufs", frames*4, channels)
//	if err != nil {
//	    return err
//	}
//	region, _ := mgr.Region("inBufs")
//	for ch := range channels {
//	    module.Write(region.ChannelAddress(ch, stride), planar[ch])
//	}
package heap
