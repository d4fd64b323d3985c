package heap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/sflsim/heap"
)

// randomHeap replays a seeded sequence of allocations and frees, validating the heap after
// every step. It returns the heap, the still-live addresses, and the partitions that served at
// least one non-empty allocation.
func randomHeap(t *testing.T, seed int64, coalesce bool) (*heap.Heap, []int, map[int]bool) {
	t.Helper()

	h := newHeap(t, 4, 256, coalesce)
	rng := rand.New(rand.NewSource(seed))
	touched := make(map[int]bool)
	var live []int

	for step := 0; step < 300; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			size := 1 + rng.Intn(64)
			address, err := h.Malloc(size)
			if err == nil {
				live = append(live, address)
				partition, ok := h.Partitions().Find(address)
				require.True(t, ok)
				touched[partition.Index] = true
			}
		} else {
			index := rng.Intn(len(live))
			require.NoError(t, h.Free(live[index]), "step %d", step)
			live = append(live[:index], live[index+1:]...)
		}

		require.NoError(t, h.Validate(), "step %d", step)
		report := h.Report()
		require.Equal(t, h.Capacity(), report.AllocatedBytes()+report.FreeBytes(), "step %d", step)
	}

	return h, live, touched
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	for _, coalesce := range []bool{false, true} {
		for seed := int64(1); seed <= 5; seed++ {
			h, live, _ := randomHeap(t, seed, coalesce)

			counters := h.Counters()
			require.Equal(t, len(live), counters.MallocCalls-counters.FreeCalls)
			require.Equal(t, len(live), h.Report().AllocatedBlockCount())
		}
	}
}

func TestCoalescingIsOrderIndependent(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		var reports []heap.Report

		for order := int64(0); order < 4; order++ {
			h, live, touched := randomHeap(t, seed, true)

			rng := rand.New(rand.NewSource(order))
			rng.Shuffle(len(live), func(i, j int) {
				live[i], live[j] = live[j], live[i]
			})

			for _, address := range live {
				require.NoError(t, h.Free(address))
				require.NoError(t, h.Validate())
			}

			report := h.Report()
			require.Empty(t, report.Allocations)
			require.Equal(t, h.Capacity(), report.FreeBytes())

			// Every partition that was ever split is whole again
			for index := range touched {
				partition := h.Partitions().At(index)
				found := false
				for _, bucket := range report.Buckets {
					if bucket.ElementSize != partition.Capacity() {
						continue
					}
					for _, address := range bucket.Addresses {
						if address == partition.Base {
							found = true
						}
					}
				}
				require.True(t, found, "seed %d order %d partition %d was not coalesced", seed, order, index)
			}

			reports = append(reports, report)
		}

		for i := 1; i < len(reports); i++ {
			require.Equal(t, reports[0].Buckets, reports[i].Buckets, "seed %d", seed)
		}
	}
}
