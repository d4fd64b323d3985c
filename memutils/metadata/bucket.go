package metadata

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Bucket is a size class: every free block it holds is exactly ElementSize bytes long. Blocks
// are kept in ascending address order.
type Bucket struct {
	elementSize int
	blocks      []FreeBlock
}

func (b *Bucket) ElementSize() int { return b.elementSize }

func (b *Bucket) Len() int { return len(b.blocks) }

// Blocks returns the bucket's blocks in address order. The slice must not be modified.
func (b *Bucket) Blocks() []FreeBlock { return b.blocks }

func (b *Bucket) insert(block FreeBlock) {
	index, found := slices.BinarySearchFunc(b.blocks, block.Address, compareFreeBlockAddress)
	if found {
		panic(fmt.Sprintf("bucket %d already holds a block at %#x", b.elementSize, block.Address))
	}

	b.blocks = slices.Insert(b.blocks, index, block)
}

func (b *Bucket) remove(address int) FreeBlock {
	index, found := slices.BinarySearchFunc(b.blocks, address, compareFreeBlockAddress)
	if !found {
		panic(fmt.Sprintf("bucket %d holds no block at %#x", b.elementSize, address))
	}

	block := b.blocks[index]
	b.blocks = slices.Delete(b.blocks, index, index+1)
	return block
}

func compareBucketSize(bucket *Bucket, size int) int {
	return compareInts(bucket.elementSize, size)
}

// BucketStore is the segregated free list: a set of buckets ordered by ascending element size.
// Buckets are created on demand when a block of a new size is inserted and deleted as soon as
// they empty, so no two buckets share an element size and none are empty.
//
// Blocks are additionally indexed by start and end address so that neighbours of a region can
// be found without scanning every bucket.
type BucketStore struct {
	buckets []*Bucket

	starts *swiss.Map[int, FreeBlock]
	ends   *swiss.Map[int, int]

	freeBytes int
}

func NewBucketStore() *BucketStore {
	return &BucketStore{
		starts: swiss.NewMap[int, FreeBlock](64),
		ends:   swiss.NewMap[int, int](64),
	}
}

// Insert adds a free block to the bucket matching its size, creating the bucket in sorted
// position if necessary. Blocks must have a positive size and must not overlap tracked blocks.
func (s *BucketStore) Insert(block FreeBlock) {
	if block.Size < 1 {
		panic(fmt.Sprintf("cannot insert a free block of size %d at %#x", block.Size, block.Address))
	}
	if s.starts.Has(block.Address) {
		panic(fmt.Sprintf("a free block already starts at %#x", block.Address))
	}

	index, found := slices.BinarySearchFunc(s.buckets, block.Size, compareBucketSize)
	if !found {
		s.buckets = slices.Insert(s.buckets, index, &Bucket{elementSize: block.Size})
	}

	s.buckets[index].insert(block)
	s.starts.Put(block.Address, block)
	s.ends.Put(block.End(), block.Address)
	s.freeBytes += block.Size
}

// Remove takes a tracked free block out of its bucket, deleting the bucket if it empties.
// Removing a block that is not tracked panics.
func (s *BucketStore) Remove(block FreeBlock) {
	index, found := slices.BinarySearchFunc(s.buckets, block.Size, compareBucketSize)
	if !found {
		panic(fmt.Sprintf("no bucket holds blocks of size %d", block.Size))
	}

	s.removeAt(index, block.Address)
}

func (s *BucketStore) removeAt(bucketIndex int, address int) FreeBlock {
	bucket := s.buckets[bucketIndex]
	block := bucket.remove(address)

	if bucket.Len() == 0 {
		s.buckets = slices.Delete(s.buckets, bucketIndex, bucketIndex+1)
	}

	s.starts.Delete(block.Address)
	s.ends.Delete(block.End())
	s.freeBytes -= block.Size

	return block
}

// RemoveSmallestFitting removes and returns the lowest-address block of the smallest bucket whose
// element size is at least size. It returns false if no bucket is large enough.
func (s *BucketStore) RemoveSmallestFitting(size int) (FreeBlock, bool) {
	index, _ := slices.BinarySearchFunc(s.buckets, size, compareBucketSize)
	if index >= len(s.buckets) {
		return FreeBlock{}, false
	}

	return s.removeAt(index, s.buckets[index].blocks[0].Address), true
}

// FindAdjacent returns a free block from the same partition that ends exactly at address or
// starts exactly at address+size. A block ending at address is preferred.
func (s *BucketStore) FindAdjacent(address, size, partition int) (FreeBlock, bool) {
	if start, ok := s.ends.Get(address); ok {
		left, _ := s.starts.Get(start)
		if left.Partition == partition {
			return left, true
		}
	}

	if right, ok := s.starts.Get(address + size); ok && right.Partition == partition {
		return right, true
	}

	return FreeBlock{}, false
}

// BlockAt returns the free block starting at address, if any
func (s *BucketStore) BlockAt(address int) (FreeBlock, bool) {
	return s.starts.Get(address)
}

// BucketCount returns the number of size classes that currently hold free blocks
func (s *BucketStore) BucketCount() int { return len(s.buckets) }

// BlockCount returns the number of free blocks across all buckets
func (s *BucketStore) BlockCount() int { return s.starts.Count() }

// FreeBytes returns the summed size of all free blocks
func (s *BucketStore) FreeBytes() int { return s.freeBytes }

// VisitBuckets calls handleBucket once per bucket in ascending element size order, stopping at
// the first error.
func (s *BucketStore) VisitBuckets(handleBucket func(bucket *Bucket) error) error {
	for _, bucket := range s.buckets {
		err := handleBucket(bucket)
		if err != nil {
			return err
		}
	}

	return nil
}

// Clear drops every free block
func (s *BucketStore) Clear() {
	s.buckets = nil
	s.starts = swiss.NewMap[int, FreeBlock](64)
	s.ends = swiss.NewMap[int, int](64)
	s.freeBytes = 0
}

func (s *BucketStore) Validate() error {
	var blockCount, freeBytes int

	for bucketIndex, bucket := range s.buckets {
		if bucket.Len() == 0 {
			return errors.Errorf("bucket for size %d is empty but was not removed", bucket.elementSize)
		}

		if bucketIndex > 0 && s.buckets[bucketIndex-1].elementSize >= bucket.elementSize {
			return errors.Errorf("bucket for size %d follows bucket for size %d", bucket.elementSize, s.buckets[bucketIndex-1].elementSize)
		}

		for blockIndex, block := range bucket.blocks {
			if block.Size != bucket.elementSize {
				return errors.Errorf("block at %#x has size %d but is in the bucket for size %d", block.Address, block.Size, bucket.elementSize)
			}

			if blockIndex > 0 && bucket.blocks[blockIndex-1].Address >= block.Address {
				return errors.Errorf("block at %#x is out of address order in the bucket for size %d", block.Address, bucket.elementSize)
			}

			indexed, ok := s.starts.Get(block.Address)
			if !ok || indexed != block {
				return errors.Errorf("block at %#x is missing from the start address index", block.Address)
			}

			start, ok := s.ends.Get(block.End())
			if !ok || start != block.Address {
				return errors.Errorf("block at %#x is missing from the end address index", block.Address)
			}

			blockCount++
			freeBytes += block.Size
		}
	}

	if blockCount != s.starts.Count() || blockCount != s.ends.Count() {
		return errors.Errorf("buckets hold %d blocks but the address indexes hold %d starts and %d ends", blockCount, s.starts.Count(), s.ends.Count())
	}

	if freeBytes != s.freeBytes {
		return errors.Errorf("the free size of the store is %d, but the free blocks only added up to %d", s.freeBytes, freeBytes)
	}

	return nil
}
