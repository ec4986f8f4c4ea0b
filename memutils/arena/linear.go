package arena

import (
	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Region is a single bump allocation handed out by Linear
type Region struct {
	Offset int
	Size   int
	Kind   Kind
}

// Linear tracks bump allocations within a block of memory it does not own. Allocations are only ever
// appended, and are released all together by Reset, which is O(1).
type Linear struct {
	size        int
	granularity int
	regions     []Region
	sumUsed     int
}

var _ memutils.Validatable = &Linear{}

// NewLinear creates metadata for a block of size bytes. bufferImageGranularity is the page size on
// which linear and optimal resources may not share memory, 1 if the device does not care.
func NewLinear(size int, bufferImageGranularity int) *Linear {
	memutils.DebugCheckPow2(bufferImageGranularity, "bufferImageGranularity")
	if bufferImageGranularity < 1 {
		bufferImageGranularity = 1
	}

	return &Linear{
		size:        size,
		granularity: bufferImageGranularity,
	}
}

// Size returns the size of the block in bytes
func (m *Linear) Size() int { return m.size }

// AllocationCount returns the number of live allocations
func (m *Linear) AllocationCount() int { return len(m.regions) }

// SumFreeSize returns the number of bytes past the last allocation
func (m *Linear) SumFreeSize() int {
	return m.size - m.end()
}

// IsEmpty returns true if no allocations have been made since the last Reset
func (m *Linear) IsEmpty() bool { return len(m.regions) == 0 }

func (m *Linear) end() int {
	if len(m.regions) == 0 {
		return 0
	}
	last := m.regions[len(m.regions)-1]
	return last.Offset + last.Size
}

// Allocate places size bytes at the next offset aligned to alignment and returns that offset. It returns
// memutils.ErrOutOfSpace if the block cannot fit the allocation.
func (m *Linear) Allocate(size int, alignment int, kind Kind) (int, error) {
	if size <= 0 {
		return 0, errors.Newf("allocation size must be positive, was %d", size)
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return 0, err
	}

	offset := memutils.AlignUp(m.end(), max(alignment, 1))

	if m.granularity > 1 && len(m.regions) > 0 {
		prev := m.regions[len(m.regions)-1]
		if kindsConflict(prev.Kind, kind) && memutils.BlocksOnSamePage(prev.Offset, prev.Size, offset, m.granularity) {
			offset = memutils.AlignUp(offset, m.granularity)
		}
	}

	if offset+size > m.size {
		return 0, errors.Wrapf(memutils.ErrOutOfSpace, "requested %d bytes at offset %d in a block of %d bytes", size, offset, m.size)
	}

	m.regions = append(m.regions, Region{Offset: offset, Size: size, Kind: kind})
	m.sumUsed += size
	memutils.DebugValidate(m)

	return offset, nil
}

// Reset releases every allocation at once
func (m *Linear) Reset() {
	m.regions = m.regions[:0]
	m.sumUsed = 0
}

// Validate performs internal consistency checks
func (m *Linear) Validate() error {
	prevEnd := 0
	used := 0
	for i, region := range m.regions {
		if region.Offset < prevEnd {
			return errors.Newf("region %d at offset %d overlaps the previous region ending at %d", i, region.Offset, prevEnd)
		}
		prevEnd = region.Offset + region.Size
		used += region.Size
	}

	if prevEnd > m.size {
		return errors.Newf("regions end at %d, past the end of the %d-byte block", prevEnd, m.size)
	}
	if used != m.sumUsed {
		return errors.Newf("used byte tally %d does not match the regions' total %d", m.sumUsed, used)
	}

	return nil
}

// AddStatistics sums this block's usage into stats
func (m *Linear) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	stats.AllocationCount += len(m.regions)
	stats.AllocationBytes += m.sumUsed
}

// AddDetailedStatistics sums this block's usage, including alignment gaps, into stats
func (m *Linear) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	prevEnd := 0
	for _, region := range m.regions {
		if region.Offset > prevEnd {
			stats.AddUnusedRange(region.Offset - prevEnd)
		}
		stats.AddAllocation(region.Size)
		prevEnd = region.Offset + region.Size
	}

	if prevEnd < m.size {
		stats.AddUnusedRange(m.size - prevEnd)
	}
}

// BlockJsonData populates a json object with information about this block
func (m *Linear) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.size - m.sumUsed)
	json.Name("Allocations").Int(len(m.regions))

	regions := json.Name("Suballocations").Array()
	for _, region := range m.regions {
		obj := regions.Object()
		obj.Name("Offset").Int(region.Offset)
		obj.Name("Type").String(region.Kind.String())
		obj.Name("Size").Int(region.Size)
		obj.End()
	}
	regions.End()
}
