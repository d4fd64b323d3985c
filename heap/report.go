package heap

import (
	"github.com/montanaflynn/stats"
	"github.com/vkngwrapper/sflsim/memutils"
	"github.com/vkngwrapper/sflsim/memutils/metadata"
)

// BucketReport lists the free blocks of one size class in address order
type BucketReport struct {
	ElementSize int
	Addresses   []int
}

// AllocationReport is one live allocation
type AllocationReport struct {
	Address int
	Size    int
}

// PartitionReport describes the blocks carved from one partition
type PartitionReport struct {
	Index       int
	Base        int
	Granularity int
	// Statistics counts the partition as one block of its slot capacity
	Statistics memutils.DetailedStatistics
}

// FragmentationReport summarizes how scattered the free bytes of a heap are. Sizes are zero when
// there is nothing of that kind to measure.
type FragmentationReport struct {
	SmallestFreeBlock   int
	LargestFreeBlock    int
	MeanFreeBlockSize   float64
	MedianFreeBlockSize float64
	// External is the share of free bytes that lie outside the largest free block
	External float64

	SmallestAllocation int
	LargestAllocation  int
}

// Report is a snapshot of a heap's bookkeeping, suitable for diagnostic dumps
type Report struct {
	// Statistics is the sum of every partition's statistics
	Statistics    memutils.DetailedStatistics
	Counters      Counters
	Partitions    []PartitionReport
	Buckets       []BucketReport
	Allocations   []AllocationReport
	Fragmentation FragmentationReport
}

func (r Report) Capacity() int            { return r.Statistics.BlockBytes }
func (r Report) AllocatedBytes() int      { return r.Statistics.AllocationBytes }
func (r Report) FreeBytes() int           { return r.Statistics.UnusedRangeBytes }
func (r Report) FreeBlockCount() int      { return r.Statistics.UnusedRangeCount }
func (r Report) AllocatedBlockCount() int { return r.Statistics.AllocationCount }

// Report aggregates the current partitions, buckets, allocations, and counters
func (h *Heap) Report() Report {
	var report Report
	report.Statistics.Clear()
	report.Counters = h.counters

	report.Partitions = make([]PartitionReport, h.partitions.Len())
	for i := range report.Partitions {
		partition := h.partitions.At(i)
		report.Partitions[i] = PartitionReport{
			Index:       partition.Index,
			Base:        partition.Base,
			Granularity: partition.Granularity,
		}
		report.Partitions[i].Statistics.Clear()
		report.Partitions[i].Statistics.AddBlock(partition.Capacity())
	}

	var freeSizes stats.Float64Data
	// The visitors below never fail
	_ = h.free.VisitBuckets(func(bucket *metadata.Bucket) error {
		bucketReport := BucketReport{
			ElementSize: bucket.ElementSize(),
			Addresses:   make([]int, 0, bucket.Len()),
		}

		for _, block := range bucket.Blocks() {
			bucketReport.Addresses = append(bucketReport.Addresses, block.Address)
			report.Partitions[block.Partition].Statistics.AddUnusedRange(block.Size)
			freeSizes = append(freeSizes, float64(block.Size))
		}

		report.Buckets = append(report.Buckets, bucketReport)
		return nil
	})

	_ = h.allocated.VisitAllocations(func(block metadata.AllocatedBlock) error {
		report.Allocations = append(report.Allocations, AllocationReport{Address: block.Address, Size: block.Size})
		report.Partitions[block.Partition].Statistics.AddAllocation(block.Size)
		return nil
	})

	for i := range report.Partitions {
		report.Statistics.AddDetailedStatistics(&report.Partitions[i].Statistics)
	}

	report.Fragmentation = summarizeFragmentation(freeSizes, report.Statistics)
	return report
}

func summarizeFragmentation(freeSizes stats.Float64Data, statistics memutils.DetailedStatistics) FragmentationReport {
	var summary FragmentationReport

	if statistics.AllocationCount > 0 {
		summary.SmallestAllocation = statistics.AllocationSizeMin
		summary.LargestAllocation = statistics.AllocationSizeMax
	}

	if len(freeSizes) == 0 {
		return summary
	}

	// Errors are only returned for empty input
	mean, _ := stats.Mean(freeSizes)
	median, _ := stats.Median(freeSizes)

	summary.SmallestFreeBlock = statistics.UnusedRangeSizeMin
	summary.LargestFreeBlock = statistics.UnusedRangeSizeMax
	summary.MeanFreeBlockSize = mean
	summary.MedianFreeBlockSize = median
	summary.External = 1 - float64(statistics.UnusedRangeSizeMax)/float64(statistics.UnusedRangeBytes)
	return summary
}
