package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/sflsim/memutils/metadata"
)

func collectAllocations(t *testing.T, table *metadata.AllocationTable) []metadata.AllocatedBlock {
	t.Helper()

	var blocks []metadata.AllocatedBlock
	err := table.VisitAllocations(func(block metadata.AllocatedBlock) error {
		blocks = append(blocks, block)
		return nil
	})
	require.NoError(t, err)
	return blocks
}

func TestAllocationTableOrdering(t *testing.T) {
	table := metadata.NewAllocationTable()
	table.Insert(metadata.AllocatedBlock{Address: 0x120, Size: 16, Partition: 1})
	table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 5, Partition: 0})
	table.Insert(metadata.AllocatedBlock{Address: 0x108, Size: 8, Partition: 0})

	require.Equal(t, []metadata.AllocatedBlock{
		{Address: 0x100, Size: 5, Partition: 0},
		{Address: 0x108, Size: 8, Partition: 0},
		{Address: 0x120, Size: 16, Partition: 1},
	}, collectAllocations(t, table))
	require.Equal(t, 3, table.Len())
	require.Equal(t, 29, table.Bytes())
	require.NoError(t, table.Validate())
}

func TestAllocationTableRemove(t *testing.T) {
	table := metadata.NewAllocationTable()
	table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 8, Partition: 0})
	table.Insert(metadata.AllocatedBlock{Address: 0x108, Size: 8, Partition: 0})

	block, ok := table.Remove(0x100)
	require.True(t, ok)
	require.Equal(t, metadata.AllocatedBlock{Address: 0x100, Size: 8, Partition: 0}, block)

	_, ok = table.Remove(0x100)
	require.False(t, ok)

	_, ok = table.Remove(0x104)
	require.False(t, ok)

	_, ok = table.BlockAt(0x100)
	require.False(t, ok)

	block, ok = table.BlockAt(0x108)
	require.True(t, ok)
	require.Equal(t, 8, block.Size)
	require.Equal(t, 8, table.Bytes())
	require.NoError(t, table.Validate())
}

func TestAllocationTableZeroLength(t *testing.T) {
	table := metadata.NewAllocationTable()
	table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 8, Partition: 0})
	table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 0, Partition: 0})
	require.NoError(t, table.Validate())
	require.Equal(t, 2, table.Len())

	// Zero-length blocks never serve byte access
	block, ok := table.BlockAt(0x100)
	require.True(t, ok)
	require.Equal(t, 8, block.Size)

	// ...and are released first
	block, ok = table.Remove(0x100)
	require.True(t, ok)
	require.Equal(t, 0, block.Size)

	block, ok = table.Remove(0x100)
	require.True(t, ok)
	require.Equal(t, 8, block.Size)
	require.Equal(t, 0, table.Len())
}

func TestAllocationTableRejectsOverlap(t *testing.T) {
	table := metadata.NewAllocationTable()
	table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 8, Partition: 0})

	require.Panics(t, func() {
		table.Insert(metadata.AllocatedBlock{Address: 0x100, Size: 4, Partition: 0})
	})
}
