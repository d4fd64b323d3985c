package heap_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/sflsim/heap"
	"github.com/vkngwrapper/sflsim/memutils"
)

const base = 0x1000

func newHeap(t *testing.T, partitions, bytesPerPartition int, coalesce bool) *heap.Heap {
	t.Helper()

	h, err := heap.New(nil, heap.CreateOptions{
		BaseAddress:       base,
		Partitions:        partitions,
		BytesPerPartition: bytesPerPartition,
		Coalesce:          coalesce,
	})
	require.NoError(t, err)
	require.NoError(t, h.Validate())
	return h
}

func requireBuckets(t *testing.T, h *heap.Heap, expected []heap.BucketReport) {
	t.Helper()

	report := h.Report()
	require.Equal(t, expected, report.Buckets)
}

func TestHeapInit(t *testing.T) {
	h := newHeap(t, 2, 32, false)

	require.Equal(t, base, h.BaseAddress())
	require.Equal(t, 64, h.Capacity())
	require.False(t, h.Coalescing())
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 8, base + 16, base + 24}},
		{ElementSize: 16, Addresses: []int{base + 32, base + 48}},
	})
	require.Equal(t, heap.Counters{}, h.Counters())
}

func TestHeapInitInvalid(t *testing.T) {
	_, err := heap.New(nil, heap.CreateOptions{BaseAddress: base, Partitions: 0, BytesPerPartition: 40})
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrInvalidConfiguration))
}

func TestHeapInitUnevenPartitions(t *testing.T) {
	h, err := heap.New(nil, heap.CreateOptions{BaseAddress: 0x1, Partitions: 4, BytesPerPartition: 100})
	require.NoError(t, err)
	require.NoError(t, h.Validate())
	require.Equal(t, 352, h.Capacity())

	address, err := h.Malloc(8)
	require.NoError(t, err)
	require.Equal(t, 0x1, address)

	// The only 64 byte slot sits at the start of the last region
	address, err = h.Malloc(64)
	require.NoError(t, err)
	require.Equal(t, 0x1+300, address)

	written, err := h.Write(address, 64, make([]byte, 64))
	require.NoError(t, err)
	require.Equal(t, 64, written)

	_, err = h.Malloc(33)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	report := h.Report()
	require.Equal(t, 352, report.AllocatedBytes()+report.FreeBytes())
	require.NoError(t, h.Validate())
}

func TestMallocSplitsLargerBlock(t *testing.T) {
	h := newHeap(t, 2, 32, false)

	address, err := h.Malloc(5)
	require.NoError(t, err)
	require.Equal(t, base, address)
	require.NoError(t, h.Validate())

	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 3, Addresses: []int{base + 5}},
		{ElementSize: 8, Addresses: []int{base + 8, base + 16, base + 24}},
		{ElementSize: 16, Addresses: []int{base + 32, base + 48}},
	})
	require.Equal(t, heap.Counters{MallocCalls: 1, Fragmentations: 1}, h.Counters())

	report := h.Report()
	require.Equal(t, []heap.AllocationReport{{Address: base, Size: 5}}, report.Allocations)
}

func TestMallocExactFitDoesNotFragment(t *testing.T) {
	h := newHeap(t, 2, 32, false)

	address, err := h.Malloc(16)
	require.NoError(t, err)
	require.Equal(t, base+32, address)
	require.Equal(t, heap.Counters{MallocCalls: 1}, h.Counters())

	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 8, base + 16, base + 24}},
		{ElementSize: 16, Addresses: []int{base + 48}},
	})
}

func TestMallocPrefersSmallestClassThenLowestAddress(t *testing.T) {
	h := newHeap(t, 3, 64, false)

	// 9 bytes does not fit the 8 byte class
	address, err := h.Malloc(9)
	require.NoError(t, err)
	require.Equal(t, base+64, address)

	// The 7 byte remainder is now the smallest class that fits 7 bytes
	address, err = h.Malloc(7)
	require.NoError(t, err)
	require.Equal(t, base+64+9, address)

	address, err = h.Malloc(8)
	require.NoError(t, err)
	require.Equal(t, base, address)
	require.NoError(t, h.Validate())
}

func TestMallocOutOfMemory(t *testing.T) {
	h := newHeap(t, 1, 16, false)

	_, err := h.Malloc(9)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	for i := 0; i < 2; i++ {
		_, err = h.Malloc(8)
		require.NoError(t, err)
	}

	before := h.Report()
	_, err = h.Malloc(1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, before, h.Report())
	require.Equal(t, 2, h.Counters().MallocCalls)
}

func TestMallocZero(t *testing.T) {
	h := newHeap(t, 1, 16, false)

	address, err := h.Malloc(0)
	require.NoError(t, err)
	require.Equal(t, base, address)
	require.Equal(t, heap.Counters{MallocCalls: 1, Fragmentations: 1}, h.Counters())
	require.NoError(t, h.Validate())

	// The whole slot went back to the store at the same address
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 8}},
	})

	address, err = h.Malloc(8)
	require.NoError(t, err)
	require.Equal(t, base, address)
	require.NoError(t, h.Validate())

	// The zero-length block is released first and gives no bytes back
	require.NoError(t, h.Free(base))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base + 8}},
	})

	require.NoError(t, h.Free(base))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 8}},
	})
	require.NoError(t, h.Validate())
}

func TestFreeRoundTripWithoutCoalescing(t *testing.T) {
	h := newHeap(t, 2, 32, false)
	initial := h.Report().Buckets

	address, err := h.Malloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(address))

	require.Equal(t, initial, h.Report().Buckets)
	require.Equal(t, heap.Counters{MallocCalls: 1, FreeCalls: 1}, h.Counters())
	require.NoError(t, h.Validate())
}

func TestFreeWithoutCoalescingKeepsFragments(t *testing.T) {
	h := newHeap(t, 1, 8, false)

	first, err := h.Malloc(3)
	require.NoError(t, err)
	second, err := h.Malloc(5)
	require.NoError(t, err)

	require.NoError(t, h.Free(first))
	require.NoError(t, h.Free(second))

	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 3, Addresses: []int{base}},
		{ElementSize: 5, Addresses: []int{base + 3}},
	})
}

func TestFreeRoundTripWithCoalescing(t *testing.T) {
	h := newHeap(t, 1, 8, true)

	first, err := h.Malloc(3)
	require.NoError(t, err)
	second, err := h.Malloc(5)
	require.NoError(t, err)
	require.Equal(t, base+3, second)
	requireBuckets(t, h, nil)

	require.NoError(t, h.Free(first))
	require.NoError(t, h.Free(second))
	require.NoError(t, h.Validate())

	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base}},
	})
	require.Equal(t, heap.Counters{MallocCalls: 2, FreeCalls: 2, Fragmentations: 1}, h.Counters())
}

func TestCoalescingMergesBothNeighbours(t *testing.T) {
	h := newHeap(t, 1, 32, true)

	addresses := make([]int, 4)
	for i := range addresses {
		address, err := h.Malloc(8)
		require.NoError(t, err)
		addresses[i] = address
	}

	require.NoError(t, h.Free(addresses[0]))
	require.NoError(t, h.Free(addresses[2]))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 16}},
	})

	require.NoError(t, h.Free(addresses[1]))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 24, Addresses: []int{base}},
	})

	require.NoError(t, h.Free(addresses[3]))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 32, Addresses: []int{base}},
	})
	require.NoError(t, h.Validate())
}

func TestCoalescingAbsorbsUntouchedSlots(t *testing.T) {
	h := newHeap(t, 1, 32, true)

	address, err := h.Malloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(address))

	// The freed slot swallows every neighbouring initial slot of its partition
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 32, Addresses: []int{base}},
	})
}

func TestCoalescingRespectsPartitions(t *testing.T) {
	h := newHeap(t, 2, 32, true)

	var last int
	for i := 0; i < 4; i++ {
		address, err := h.Malloc(8)
		require.NoError(t, err)
		last = address
	}
	require.Equal(t, base+24, last)

	// base+32 is free and numerically adjacent but belongs to the 16 byte partition
	require.NoError(t, h.Free(last))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base + 24}},
		{ElementSize: 16, Addresses: []int{base + 32, base + 48}},
	})
	require.NoError(t, h.Validate())
}

func TestCoalescingFollowsOriginNotAddress(t *testing.T) {
	h := newHeap(t, 2, 32, true)

	// Split a 16 byte slot of partition 1; the remainder keeps partition 1 as its origin
	address, err := h.Malloc(10)
	require.NoError(t, err)
	require.Equal(t, base+32, address)

	require.NoError(t, h.Free(address))
	requireBuckets(t, h, []heap.BucketReport{
		{ElementSize: 8, Addresses: []int{base, base + 8, base + 16, base + 24}},
		{ElementSize: 32, Addresses: []int{base + 32}},
	})
}

func TestFreeInvalid(t *testing.T) {
	h := newHeap(t, 2, 32, true)

	address, err := h.Malloc(5)
	require.NoError(t, err)
	before := h.Report()

	err = h.Free(address + 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrInvalidFree))

	err = h.Free(0xdead)
	require.True(t, errors.Is(err, memutils.ErrInvalidFree))

	require.Equal(t, before, h.Report())

	require.NoError(t, h.Free(address))
	err = h.Free(address)
	require.True(t, errors.Is(err, memutils.ErrInvalidFree))
	require.Equal(t, 1, h.Counters().FreeCalls)
}

func TestFreeNull(t *testing.T) {
	h := newHeap(t, 2, 32, false)
	before := h.Report()

	require.NoError(t, h.Free(0))
	require.Equal(t, heap.Counters{FreeCalls: 1}, h.Counters())

	after := h.Report()
	require.Equal(t, before.Buckets, after.Buckets)
	require.Equal(t, before.Allocations, after.Allocations)
}

func TestDestroy(t *testing.T) {
	h := newHeap(t, 2, 32, false)
	_, err := h.Malloc(8)
	require.NoError(t, err)

	require.NoError(t, h.Destroy())
	require.True(t, h.Destroyed())

	_, err = h.Malloc(8)
	require.True(t, errors.Is(err, memutils.ErrHeapDestroyed))
	require.True(t, errors.Is(h.Free(base), memutils.ErrHeapDestroyed))
	_, err = h.Read(base, 1)
	require.True(t, errors.Is(err, memutils.ErrHeapDestroyed))
	_, err = h.Write(base, 1, []byte("a"))
	require.True(t, errors.Is(err, memutils.ErrHeapDestroyed))
	require.True(t, errors.Is(h.Destroy(), memutils.ErrHeapDestroyed))
}
