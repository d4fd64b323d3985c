package metadata

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/sflsim/memutils"
)

// Partition is one of the origin regions established when a heap is created. Partition i covers
// [Base, Base+Length) and is initially cut into slots of Granularity = 8 * 2^i bytes. Partitions
// never change after creation; they only decide which free blocks may be coalesced.
type Partition struct {
	Index       int
	Base        int
	Length      int
	Granularity int
}

// SlotCount is the number of free blocks the partition starts with
func (p Partition) SlotCount() int {
	return p.Length / p.Granularity
}

// Slot returns the initial free block at position index within the partition
func (p Partition) Slot(index int) FreeBlock {
	return FreeBlock{
		Address:   p.Base + index*p.Granularity,
		Size:      p.Granularity,
		Partition: p.Index,
	}
}

// Capacity is the number of bytes covered by the partition's slots. It falls short of Length
// when Length is not a multiple of Granularity; the tail past the last slot is never handed out.
func (p Partition) Capacity() int {
	return p.SlotCount() * p.Granularity
}

// Contains reports whether address falls inside the partition's origin region
func (p Partition) Contains(address int) bool {
	return address >= p.Base && address < p.Base+p.Length
}

// PartitionTable is the read-only set of partitions that tile a heap's address space back-to-back
type PartitionTable struct {
	partitions []Partition
	capacity   int
	span       int
}

// NewPartitionTable lays count partitions of bytesPerPartition bytes each contiguously, starting
// at base. Each partition holds as many whole slots of its granularity as fit, possibly none.
func NewPartitionTable(base, count, bytesPerPartition int) (*PartitionTable, error) {
	if count < 1 || count > memutils.MaxSizeClasses {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "partition count %d must be between 1 and %d", count, memutils.MaxSizeClasses)
	}
	if bytesPerPartition < 1 {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "bytes per partition %d must be positive", bytesPerPartition)
	}
	if bytesPerPartition > math.MaxInt/count {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "%d partitions of %d bytes overflow the address range", count, bytesPerPartition)
	}

	table := &PartitionTable{
		partitions: make([]Partition, count),
		span:       count * bytesPerPartition,
	}

	for i := 0; i < count; i++ {
		granularity := memutils.Granularity(i)
		memutils.DebugCheckPow2(granularity, "granularity")

		table.partitions[i] = Partition{
			Index:       i,
			Base:        base + i*bytesPerPartition,
			Length:      bytesPerPartition,
			Granularity: granularity,
		}
		table.capacity += table.partitions[i].Capacity()
	}

	return table, nil
}

// Len returns the number of partitions
func (t *PartitionTable) Len() int { return len(t.partitions) }

// At returns the partition with the provided index
func (t *PartitionTable) At(index int) Partition { return t.partitions[index] }

// Capacity returns the number of bytes covered by the slots of all partitions
func (t *PartitionTable) Capacity() int { return t.capacity }

// Span returns the length of the address range the partitions tile, including any tail bytes
// that no slot covers
func (t *PartitionTable) Span() int { return t.span }

// Find returns the partition whose origin region contains address
func (t *PartitionTable) Find(address int) (Partition, bool) {
	for _, partition := range t.partitions {
		if partition.Contains(address) {
			return partition, true
		}
	}

	return Partition{}, false
}

// Seed inserts every initial slot of every partition into the bucket store, one bucket per
// partition, in address order.
func (t *PartitionTable) Seed(store *BucketStore) {
	for _, partition := range t.partitions {
		for slot := 0; slot < partition.SlotCount(); slot++ {
			store.Insert(partition.Slot(slot))
		}
	}
}
