package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/sflsim/memutils"
	"golang.org/x/exp/slog"
)

type span struct {
	address int
	size    int
}

// coverage walks the live allocations starting at address and returns the pieces that together
// cover length bytes. Each piece must begin exactly where the previous one stopped, at the start
// of a live allocation.
func (h *Heap) coverage(address, length int) ([]span, error) {
	var spans []span
	cursor := address
	remaining := length

	for remaining > 0 {
		block, found := h.allocated.BlockAt(cursor)
		if !found {
			return nil, errors.Wrapf(memutils.ErrSegmentationFault,
				"access to %#x+%d: no allocation starts at %#x", address, length, cursor)
		}

		size := min(remaining, block.Size)
		spans = append(spans, span{address: cursor, size: size})
		cursor += size
		remaining -= size
	}

	return spans, nil
}

// Read returns length bytes starting at address. The range must be covered by a contiguous run of
// live allocations, the first of which starts exactly at address; otherwise it returns
// memutils.ErrSegmentationFault. The fault is fatal to the simulation: the caller is expected to
// report the heap's state and Destroy it.
func (h *Heap) Read(address, length int) ([]byte, error) {
	if h.destroyed {
		return nil, memutils.ErrHeapDestroyed
	}
	if length < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidArgument, "read length %d is negative", length)
	}

	spans, err := h.coverage(address, length)
	if err != nil {
		h.logFault("Heap::Read", address, length, err)
		return nil, err
	}

	data := make([]byte, 0, length)
	for _, s := range spans {
		data = append(data, h.space.Bytes(s.address, s.size)...)
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Read",
		slog.String("Address", hexAddress(address)),
		slog.Int("Length", length),
		slog.Int("Blocks", len(spans)),
	)
	return data, nil
}

// Write stores the first min(length, len(data)) bytes of data starting at address and returns the
// number of bytes written. The range is checked the same way as Read before any byte is changed,
// so a faulting write leaves the heap's contents untouched.
func (h *Heap) Write(address, length int, data []byte) (int, error) {
	if h.destroyed {
		return 0, memutils.ErrHeapDestroyed
	}
	if length < 0 {
		return 0, errors.Wrapf(memutils.ErrInvalidArgument, "write length %d is negative", length)
	}

	length = min(length, len(data))
	spans, err := h.coverage(address, length)
	if err != nil {
		h.logFault("Heap::Write", address, length, err)
		return 0, err
	}

	written := 0
	for _, s := range spans {
		written += copy(h.space.Bytes(s.address, s.size), data[written:])
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Write",
		slog.String("Address", hexAddress(address)),
		slog.Int("Length", written),
		slog.Int("Blocks", len(spans)),
	)
	return written, nil
}

func (h *Heap) logFault(operation string, address, length int, err error) {
	h.logger.LogAttrs(context.Background(), slog.LevelDebug, operation+" fault",
		slog.String("Address", hexAddress(address)),
		slog.Int("Length", length),
		slog.Any("error", err),
	)
}
