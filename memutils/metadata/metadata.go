// Package metadata holds the bookkeeping structures of a segregated-free-list heap: the address
// space that maps simulated addresses onto a backing buffer, the partition table fixed at heap
// creation, the size-class bucket store of free blocks, and the address-ordered table of live
// allocations. None of these types apply allocation policy; that lives in the heap package.
//
// Programming errors, such as inserting a block at an address that is already tracked, panic.
// Each store exposes a Validate method that walks its contents and reports broken invariants.
package metadata

// FreeBlock is a free region of the heap. Partition identifies the partition the region was
// originally carved from; it is inherited through splits and merges and is never recomputed from
// Address.
type FreeBlock struct {
	Address   int
	Size      int
	Partition int
}

// End returns the first address past the block
func (b FreeBlock) End() int {
	return b.Address + b.Size
}

// AllocatedBlock is a live allocation of the heap
type AllocatedBlock struct {
	Address   int
	Size      int
	Partition int
}

// End returns the first address past the block
func (b AllocatedBlock) End() int {
	return b.Address + b.Size
}

func compareInts(left, right int) int {
	if left < right {
		return -1
	} else if left > right {
		return 1
	}
	return 0
}

func compareFreeBlockAddress(block FreeBlock, address int) int {
	return compareInts(block.Address, address)
}

type addressSize struct {
	address int
	size    int
}

func compareAllocatedBlock(block AllocatedBlock, target addressSize) int {
	if block.Address != target.address {
		return compareInts(block.Address, target.address)
	}
	return compareInts(block.Size, target.size)
}
