package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ErrOutOfMemory is returned when no size class holds a free block large enough for a request.
	// The heap is left unchanged.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidFree is returned when a released address does not belong to a live allocation.
	// The heap is left unchanged.
	ErrInvalidFree = errors.New("invalid free")
	// ErrSegmentationFault is returned when a read or write range is not covered by a contiguous
	// run of live allocations. It is fatal: the consumer is expected to dump and tear down the heap.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrInvalidConfiguration is returned when heap or simulator parameters cannot describe a valid heap
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidArgument is returned for requests with sizes or lengths that can never be served
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrHeapNotInitialized is returned when an operation arrives before a heap exists
	ErrHeapNotInitialized = errors.New("heap not initialized")
	// ErrHeapDestroyed is returned by every operation on a heap after Destroy
	ErrHeapDestroyed = errors.New("heap destroyed")
)
