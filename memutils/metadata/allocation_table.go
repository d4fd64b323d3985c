package metadata

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// AllocationTable tracks live allocations in ascending address order. Blocks that hold bytes
// never overlap. Zero-length blocks hold no bytes and may share an address with another block;
// at a shared address they sort before the block that holds bytes.
type AllocationTable struct {
	blocks []AllocatedBlock
	live   *swiss.Map[int, AllocatedBlock]
	bytes  int
}

func NewAllocationTable() *AllocationTable {
	return &AllocationTable{
		live: swiss.NewMap[int, AllocatedBlock](64),
	}
}

// Insert records a live allocation. Inserting a non-empty block at an address already held by a
// non-empty block panics.
func (t *AllocationTable) Insert(block AllocatedBlock) {
	if block.Size < 0 {
		panic(fmt.Sprintf("cannot track an allocation of size %d at %#x", block.Size, block.Address))
	}

	if block.Size > 0 {
		if t.live.Has(block.Address) {
			panic(fmt.Sprintf("an allocation already starts at %#x", block.Address))
		}
		t.live.Put(block.Address, block)
	}

	index, _ := slices.BinarySearchFunc(t.blocks, addressSize{block.Address, block.Size}, compareAllocatedBlock)
	t.blocks = slices.Insert(t.blocks, index, block)
	t.bytes += block.Size
}

// Remove takes the allocation starting at address out of the table. When a zero-length block
// shares the address with another block, the zero-length block is removed first. It returns
// false if no allocation starts at address.
func (t *AllocationTable) Remove(address int) (AllocatedBlock, bool) {
	index, _ := slices.BinarySearchFunc(t.blocks, addressSize{address, 0}, compareAllocatedBlock)
	if index >= len(t.blocks) || t.blocks[index].Address != address {
		return AllocatedBlock{}, false
	}

	block := t.blocks[index]
	t.blocks = slices.Delete(t.blocks, index, index+1)
	if block.Size > 0 {
		t.live.Delete(block.Address)
	}
	t.bytes -= block.Size

	return block, true
}

// BlockAt returns the allocation that starts at address and holds at least one byte
func (t *AllocationTable) BlockAt(address int) (AllocatedBlock, bool) {
	return t.live.Get(address)
}

// Len returns the number of live allocations, including zero-length ones
func (t *AllocationTable) Len() int { return len(t.blocks) }

// Bytes returns the summed size of all live allocations
func (t *AllocationTable) Bytes() int { return t.bytes }

// VisitAllocations calls handleBlock for every live allocation in address order, stopping at
// the first error.
func (t *AllocationTable) VisitAllocations(handleBlock func(block AllocatedBlock) error) error {
	for _, block := range t.blocks {
		err := handleBlock(block)
		if err != nil {
			return err
		}
	}

	return nil
}

// Clear drops every live allocation
func (t *AllocationTable) Clear() {
	t.blocks = nil
	t.live = swiss.NewMap[int, AllocatedBlock](64)
	t.bytes = 0
}

func (t *AllocationTable) Validate() error {
	var bytes, liveCount int
	lastEnd := -1

	for index, block := range t.blocks {
		if block.Size < 0 {
			return errors.Errorf("allocation at %#x has negative size %d", block.Address, block.Size)
		}

		if index > 0 && compareAllocatedBlock(t.blocks[index-1], addressSize{block.Address, block.Size}) > 0 {
			return errors.Errorf("allocation at %#x is out of address order", block.Address)
		}

		bytes += block.Size
		if block.Size == 0 {
			continue
		}

		if block.Address < lastEnd {
			return errors.Errorf("allocation at %#x overlaps the previous allocation, which ends at %#x", block.Address, lastEnd)
		}
		lastEnd = block.End()

		indexed, ok := t.live.Get(block.Address)
		if !ok || indexed != block {
			return errors.Errorf("allocation at %#x is missing from the address index", block.Address)
		}
		liveCount++
	}

	if liveCount != t.live.Count() {
		return errors.Errorf("the table holds %d non-empty allocations but the address index holds %d", liveCount, t.live.Count())
	}

	if bytes != t.bytes {
		return errors.Errorf("the allocated size of the table is %d, but the allocations only added up to %d", t.bytes, bytes)
	}

	return nil
}
