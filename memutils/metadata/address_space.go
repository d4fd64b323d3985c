package metadata

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/sflsim/memutils"
)

// AddressSpace maps the simulated address range [base, base+size) onto a backing buffer owned by
// the address space. It applies no policy: callers decide which ranges may be touched.
type AddressSpace struct {
	base int
	data []byte
}

func NewAddressSpace(base, size int) (*AddressSpace, error) {
	if base < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "base address %#x is negative", base)
	}
	if size < 0 {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "address space size %d is negative", size)
	}
	if base > math.MaxInt-size {
		return nil, errors.Wrapf(memutils.ErrInvalidConfiguration, "address space at %#x with size %d overflows", base, size)
	}

	return &AddressSpace{
		base: base,
		data: make([]byte, size),
	}, nil
}

// Base returns the simulated address of the first byte of the backing buffer
func (s *AddressSpace) Base() int { return s.base }

// Size returns the length in bytes of the backing buffer
func (s *AddressSpace) Size() int { return len(s.data) }

// Contains reports whether the whole range [address, address+size) is backed
func (s *AddressSpace) Contains(address, size int) bool {
	if size < 0 || address < s.base {
		return false
	}
	offset := address - s.base
	return offset <= len(s.data) && size <= len(s.data)-offset
}

// Translate converts a simulated address into an offset into the backing buffer
func (s *AddressSpace) Translate(address int) int {
	return address - s.base
}

// Address converts an offset into the backing buffer into a simulated address
func (s *AddressSpace) Address(offset int) int {
	return s.base + offset
}

// Bytes returns the backing bytes for [address, address+size). The slice aliases the backing
// buffer. Asking for a range outside the address space is a programming error and panics.
func (s *AddressSpace) Bytes(address, size int) []byte {
	if !s.Contains(address, size) {
		panic(fmt.Sprintf("range %#x+%d falls outside the address space %#x+%d", address, size, s.base, len(s.data)))
	}

	offset := s.Translate(address)
	return s.data[offset : offset+size : offset+size]
}

// Release drops the backing buffer. The address space is empty afterward.
func (s *AddressSpace) Release() {
	s.data = nil
}
