package heap

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/sflsim/memutils"
	"github.com/vkngwrapper/sflsim/memutils/metadata"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// CreateOptions describes the heap to build
type CreateOptions struct {
	// BaseAddress is the simulated address of the first byte of the heap
	BaseAddress int
	// Partitions is the number of initial size classes. Class i serves blocks of 8 * 2^i bytes.
	Partitions int
	// BytesPerPartition is the length of each initial size class's region. Only whole blocks are
	// carved from it, so a length that is not a multiple of the class's block size leaves a tail
	// that is never allocated.
	BytesPerPartition int
	// Coalesce enables merging freed blocks with free neighbours from the same partition
	Coalesce bool
}

// Counters are the cumulative call counts of a heap
type Counters struct {
	MallocCalls    int
	FreeCalls      int
	Fragmentations int
}

// Heap is a simulated segregated-free-list allocator over a virtual address range. It is not
// safe for concurrent use.
type Heap struct {
	logger   *slog.Logger
	coalesce bool

	space      *metadata.AddressSpace
	partitions *metadata.PartitionTable
	free       *metadata.BucketStore
	allocated  *metadata.AllocationTable

	counters  Counters
	destroyed bool
}

var _ memutils.Validatable = &Heap{}

// New builds the partition table and the initial bucket store described by options. A nil
// logger discards all log output.
func New(logger *slog.Logger, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	partitions, err := metadata.NewPartitionTable(options.BaseAddress, options.Partitions, options.BytesPerPartition)
	if err != nil {
		return nil, err
	}

	space, err := metadata.NewAddressSpace(options.BaseAddress, partitions.Span())
	if err != nil {
		return nil, err
	}

	h := &Heap{
		logger:     logger,
		coalesce:   options.Coalesce,
		space:      space,
		partitions: partitions,
		free:       metadata.NewBucketStore(),
		allocated:  metadata.NewAllocationTable(),
	}
	partitions.Seed(h.free)

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::New",
		slog.String("BaseAddress", hexAddress(options.BaseAddress)),
		slog.Int("Partitions", options.Partitions),
		slog.String("Capacity", humanize.IBytes(uint64(partitions.Capacity()))),
		slog.Bool("Coalesce", options.Coalesce),
	)

	memutils.DebugValidate(h)
	return h, nil
}

// BaseAddress returns the simulated address of the first byte of the heap
func (h *Heap) BaseAddress() int { return h.space.Base() }

// Capacity returns the total number of bytes the heap can hand out
func (h *Heap) Capacity() int { return h.partitions.Capacity() }

// Coalescing reports whether freed blocks are merged with their neighbours
func (h *Heap) Coalescing() bool { return h.coalesce }

// Counters returns the cumulative call counts
func (h *Heap) Counters() Counters { return h.counters }

// Partitions returns the heap's read-only partition table
func (h *Heap) Partitions() *metadata.PartitionTable { return h.partitions }

// Destroyed reports whether Destroy has been called
func (h *Heap) Destroyed() bool { return h.destroyed }

// Destroy releases all storage owned by the heap. Allocations that are still live are logged as
// unreleased memory first. Every later operation returns memutils.ErrHeapDestroyed.
func (h *Heap) Destroy() error {
	if h.destroyed {
		return memutils.ErrHeapDestroyed
	}

	_ = h.allocated.VisitAllocations(func(block metadata.AllocatedBlock) error {
		h.logUnreleasedMemory(block)
		return nil
	})

	h.free.Clear()
	h.allocated.Clear()
	h.space.Release()
	h.destroyed = true

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Destroy",
		slog.Int("MallocCalls", h.counters.MallocCalls),
		slog.Int("FreeCalls", h.counters.FreeCalls),
	)
	return nil
}

func (h *Heap) logUnreleasedMemory(block metadata.AllocatedBlock) {
	h.logger.LogAttrs(context.Background(), slog.LevelWarn, "[UNRELEASED MEMORY] unfreed allocation",
		slog.String("address", hexAddress(block.Address)),
		slog.Int("size", block.Size),
		slog.Int("partition", block.Partition),
	)
}

// Validate checks every heap invariant: the stores are internally consistent, allocated and free
// bytes add up to the capacity, no address is both live and free, and every block lies inside the
// partition it claims to come from.
func (h *Heap) Validate() error {
	if h.destroyed {
		return memutils.ErrHeapDestroyed
	}

	err := h.free.Validate()
	if err != nil {
		return errors.Wrap(err, "free bucket store")
	}

	err = h.allocated.Validate()
	if err != nil {
		return errors.Wrap(err, "allocation table")
	}

	if h.free.FreeBytes()+h.allocated.Bytes() != h.partitions.Capacity() {
		return errors.Newf("allocated bytes %d and free bytes %d do not add up to the heap capacity %d",
			h.allocated.Bytes(), h.free.FreeBytes(), h.partitions.Capacity())
	}

	var regions []region
	err = h.allocated.VisitAllocations(func(block metadata.AllocatedBlock) error {
		if block.Size > 0 {
			regions = append(regions, region{address: block.Address, size: block.Size})
		}
		return h.checkOrigin(block.Address, block.Size, block.Partition)
	})
	if err != nil {
		return err
	}

	err = h.free.VisitBuckets(func(bucket *metadata.Bucket) error {
		for _, block := range bucket.Blocks() {
			regions = append(regions, region{address: block.Address, size: block.Size, free: true})
			err := h.checkOrigin(block.Address, block.Size, block.Partition)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slices.SortFunc(regions, func(left, right region) int {
		return left.address - right.address
	})
	for i := 1; i < len(regions); i++ {
		if regions[i-1].address+regions[i-1].size > regions[i].address {
			return errors.Newf("region at %#x (free: %t) overlaps region at %#x (free: %t)",
				regions[i-1].address, regions[i-1].free, regions[i].address, regions[i].free)
		}
	}

	return nil
}

type region struct {
	address int
	size    int
	free    bool
}

func (h *Heap) checkOrigin(address, size, partitionIndex int) error {
	if partitionIndex < 0 || partitionIndex >= h.partitions.Len() {
		return errors.Newf("block at %#x claims unknown partition %d", address, partitionIndex)
	}

	partition := h.partitions.At(partitionIndex)
	if address < partition.Base || address+size > partition.Base+partition.Length {
		return errors.Newf("block at %#x with size %d escapes partition %d", address, size, partitionIndex)
	}

	return nil
}
