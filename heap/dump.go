package heap

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

func hexAddress(address int) string {
	return fmt.Sprintf("0x%x", address)
}

// WriteText writes report in the simulator's plain-text dump layout
func WriteText(w io.Writer, report Report) error {
	var sb strings.Builder

	sb.WriteString("+++++DUMP+++++\n")
	fmt.Fprintf(&sb, "Total memory: %d bytes\n", report.Capacity())
	fmt.Fprintf(&sb, "Total allocated memory: %d bytes\n", report.AllocatedBytes())
	fmt.Fprintf(&sb, "Total free memory: %d bytes\n", report.FreeBytes())
	fmt.Fprintf(&sb, "Free blocks: %d\n", report.FreeBlockCount())
	fmt.Fprintf(&sb, "Number of allocated blocks: %d\n", report.AllocatedBlockCount())
	fmt.Fprintf(&sb, "Number of malloc calls: %d\n", report.Counters.MallocCalls)
	fmt.Fprintf(&sb, "Number of fragmentations: %d\n", report.Counters.Fragmentations)
	fmt.Fprintf(&sb, "Number of free calls: %d\n", report.Counters.FreeCalls)

	for _, bucket := range report.Buckets {
		fmt.Fprintf(&sb, "Blocks with %d bytes - %d free block(s) : ", bucket.ElementSize, len(bucket.Addresses))
		for i, address := range bucket.Addresses {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(hexAddress(address))
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Allocated blocks :")
	for _, allocation := range report.Allocations {
		fmt.Fprintf(&sb, " (%s - %d)", hexAddress(allocation.Address), allocation.Size)
	}
	sb.WriteString("\n-----DUMP-----\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteJSON writes report as a single JSON object followed by a newline
func WriteJSON(w io.Writer, report Report) error {
	writer := jwriter.NewWriter()
	buildReportJson(&writer, report)

	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "failed to encode heap report")
	}

	_, err := w.Write(append(writer.Bytes(), '\n'))
	return err
}

func buildReportJson(writer *jwriter.Writer, report Report) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("TotalBytes").Int(report.Capacity())
	objState.Name("AllocatedBytes").Int(report.AllocatedBytes())
	objState.Name("UnusedBytes").Int(report.FreeBytes())
	objState.Name("UnusedRanges").Int(report.FreeBlockCount())
	objState.Name("Allocations").Int(report.AllocatedBlockCount())
	objState.Name("MallocCalls").Int(report.Counters.MallocCalls)
	objState.Name("FreeCalls").Int(report.Counters.FreeCalls)
	objState.Name("Fragmentations").Int(report.Counters.Fragmentations)

	fragmentation := objState.Name("Fragmentation").Object()
	fragmentation.Name("SmallestFreeBlock").Int(report.Fragmentation.SmallestFreeBlock)
	fragmentation.Name("LargestFreeBlock").Int(report.Fragmentation.LargestFreeBlock)
	fragmentation.Name("MeanFreeBlockSize").Float64(report.Fragmentation.MeanFreeBlockSize)
	fragmentation.Name("MedianFreeBlockSize").Float64(report.Fragmentation.MedianFreeBlockSize)
	fragmentation.Name("External").Float64(report.Fragmentation.External)
	fragmentation.Name("SmallestAllocation").Int(report.Fragmentation.SmallestAllocation)
	fragmentation.Name("LargestAllocation").Int(report.Fragmentation.LargestAllocation)
	fragmentation.End()

	partitions := objState.Name("Partitions").Array()
	for _, partition := range report.Partitions {
		partitionObj := partitions.Object()
		partitionObj.Name("Index").Int(partition.Index)
		partitionObj.Name("Base").String(hexAddress(partition.Base))
		partitionObj.Name("Granularity").Int(partition.Granularity)
		partitionObj.Name("TotalBytes").Int(partition.Statistics.BlockBytes)
		partitionObj.Name("AllocatedBytes").Int(partition.Statistics.AllocationBytes)
		partitionObj.Name("UnusedBytes").Int(partition.Statistics.UnusedRangeBytes)
		partitionObj.Name("Allocations").Int(partition.Statistics.AllocationCount)
		partitionObj.Name("UnusedRanges").Int(partition.Statistics.UnusedRangeCount)
		partitionObj.End()
	}
	partitions.End()

	buckets := objState.Name("Buckets").Array()
	for _, bucket := range report.Buckets {
		bucketObj := buckets.Object()
		bucketObj.Name("ElementSize").Int(bucket.ElementSize)
		bucketObj.Name("FreeBlocks").Int(len(bucket.Addresses))

		addresses := bucketObj.Name("Addresses").Array()
		for _, address := range bucket.Addresses {
			addresses.String(hexAddress(address))
		}
		addresses.End()
		bucketObj.End()
	}
	buckets.End()

	allocations := objState.Name("Suballocations").Array()
	for _, allocation := range report.Allocations {
		obj := allocations.Object()
		obj.Name("Offset").String(hexAddress(allocation.Address))
		obj.Name("Size").Int(allocation.Size)
		obj.End()
	}
	allocations.End()
}
