package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/sflsim/memutils"
	"github.com/vkngwrapper/sflsim/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Malloc serves a request for size bytes from the smallest size class that can hold it, taking
// the lowest-address block of that class. When the block is larger than the request, the tail is
// returned to the bucket store as a new free block and a fragmentation is counted.
//
// It returns memutils.ErrOutOfMemory, leaving the heap unchanged, if no class is large enough.
// A size of zero is served like any other size and yields a zero-length live block.
func (h *Heap) Malloc(size int) (int, error) {
	if h.destroyed {
		return 0, memutils.ErrHeapDestroyed
	}
	if size < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidArgument, "allocation size %d is negative", size)
	}

	block, found := h.free.RemoveSmallestFitting(size)
	if !found {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Malloc out of memory", slog.Int("Size", size))
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "no free block can hold %d bytes", size)
	}

	h.counters.MallocCalls++
	h.allocated.Insert(metadata.AllocatedBlock{
		Address:   block.Address,
		Size:      size,
		Partition: block.Partition,
	})

	if block.Size > size {
		h.counters.Fragmentations++
		h.free.Insert(metadata.FreeBlock{
			Address:   block.Address + size,
			Size:      block.Size - size,
			Partition: block.Partition,
		})
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Malloc",
		slog.String("Address", hexAddress(block.Address)),
		slog.Int("Size", size),
		slog.Int("BlockSize", block.Size),
		slog.Int("Partition", block.Partition),
	)

	memutils.DebugValidate(h)
	return block.Address, nil
}

// Free releases the live allocation starting at address. Freeing address 0 is counted but
// otherwise does nothing. If coalescing is enabled, the released block absorbs every free
// neighbour carved from the same partition before it is returned to the bucket store.
//
// It returns memutils.ErrInvalidFree, leaving the heap and the counters unchanged, if no live
// allocation starts at address.
func (h *Heap) Free(address int) error {
	if h.destroyed {
		return memutils.ErrHeapDestroyed
	}

	if address == 0 {
		h.counters.FreeCalls++
		return nil
	}

	block, found := h.allocated.Remove(address)
	if !found {
		return errors.Wrapf(memutils.ErrInvalidFree, "no allocation starts at %#x", address)
	}

	h.counters.FreeCalls++

	// A zero-length allocation holds no bytes to give back
	if block.Size == 0 {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Free empty allocation", slog.String("Address", hexAddress(address)))
		return nil
	}

	freed := metadata.FreeBlock{
		Address:   block.Address,
		Size:      block.Size,
		Partition: block.Partition,
	}

	if h.coalesce {
		freed = h.coalesceBlock(freed)
	}

	h.free.Insert(freed)

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Free",
		slog.String("Address", hexAddress(address)),
		slog.Int("Size", block.Size),
		slog.String("FreedAddress", hexAddress(freed.Address)),
		slog.Int("FreedSize", freed.Size),
	)

	memutils.DebugValidate(h)
	return nil
}

// coalesceBlock merges block with same-partition free neighbours until none are left. Merged
// neighbours are removed from the bucket store; the returned block has not been inserted.
func (h *Heap) coalesceBlock(block metadata.FreeBlock) metadata.FreeBlock {
	for {
		neighbour, found := h.free.FindAdjacent(block.Address, block.Size, block.Partition)
		if !found {
			return block
		}

		h.free.Remove(neighbour)
		if neighbour.Address < block.Address {
			block.Address = neighbour.Address
		}
		block.Size += neighbour.Size

		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Merged free block",
			slog.String("Neighbour", hexAddress(neighbour.Address)),
			slog.Int("NeighbourSize", neighbour.Size),
			slog.Int("MergedSize", block.Size),
		)
	}
}
