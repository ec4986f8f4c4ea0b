package arena

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/memutils"
)

// Scratch is a host-memory bump arena. Slices it returns alias its backing storage and are invalidated
// by Reset. Builds with the debug_mem_utils tag place a marker after every allocation and check them on
// Reset.
type Scratch struct {
	data     []byte
	metadata *Linear
}

// NewScratch allocates a scratch arena of size bytes
func NewScratch(size int) *Scratch {
	return &Scratch{
		data:     make([]byte, size),
		metadata: NewLinear(size, 1),
	}
}

// Alloc returns size zeroed bytes aligned to alignment
func (s *Scratch) Alloc(size int, alignment int) ([]byte, error) {
	offset, err := s.metadata.Allocate(size+memutils.DebugMargin, alignment, KindUnknown)
	if err != nil {
		return nil, err
	}

	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(unsafe.Pointer(&s.data[0]), offset+size)
	}

	out := s.data[offset : offset+size : offset+size]
	clear(out)
	return out, nil
}

// Used returns the number of bytes handed out since the last Reset, including debug margins
func (s *Scratch) Used() int {
	return s.metadata.sumUsed
}

// Capacity returns the arena size in bytes
func (s *Scratch) Capacity() int {
	return len(s.data)
}

// CheckCorruption verifies the debug marker after every live allocation
func (s *Scratch) CheckCorruption() error {
	if memutils.DebugMargin == 0 {
		return nil
	}

	for _, region := range s.metadata.regions {
		markerOffset := region.Offset + region.Size - memutils.DebugMargin
		if !memutils.ValidateMagicValue(unsafe.Pointer(&s.data[0]), markerOffset) {
			return errors.Wrapf(memutils.ErrCorruption, "allocation at offset %d", region.Offset)
		}
	}

	return nil
}

// Reset releases every allocation. In debug builds it panics if any allocation wrote past its end.
func (s *Scratch) Reset() {
	if err := s.CheckCorruption(); err != nil {
		panic(err)
	}
	s.metadata.Reset()
}
