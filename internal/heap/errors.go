package heap

import (
	"github.com/tphakala/heapbridge/internal/errors"
)

// ComponentHeap identifies errors raised by the region manager
const ComponentHeap = "heap"

var (
	// ErrNotReady is returned when a region operation is attempted before the
	// native module has been bound
	ErrNotReady = errors.New(nil).
		Component(ComponentHeap).
		Category(errors.CategoryNotReady).
		Context("resource", "native_module").
		Build()

	// ErrInvalidArgument is returned for empty identifiers and non-positive
	// or oversized region dimensions
	ErrInvalidArgument = errors.New(nil).
		Component(ComponentHeap).
		Category(errors.CategoryValidation).
		Context("resource", "region").
		Build()

	// ErrAllocationFailure is returned when the native allocator cannot
	// satisfy a request
	ErrAllocationFailure = errors.New(nil).
		Component(ComponentHeap).
		Category(errors.CategoryAllocation).
		Context("resource", "region").
		Build()

	// ErrReleaseFailure is returned when the native release call fails. The
	// region is dropped from the table regardless.
	ErrReleaseFailure = errors.New(nil).
		Component(ComponentHeap).
		Category(errors.CategoryNativeCall).
		Context("operation", "release").
		Build()

	// ErrAlreadyBound is returned when Bind is called more than once
	ErrAlreadyBound = errors.New(nil).
		Component(ComponentHeap).
		Category(errors.CategoryState).
		Context("resource", "native_module").
		Build()
)
