package hal

import (
	"log/slog"
	"math"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/memutils"
	"github.com/jkleinecke/rhi/memutils/arena"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// MemoryUsage declares how the host and device will access a resource's memory
type MemoryUsage int

const (
	// MemoryGpuOnly is device-local memory the host never touches
	MemoryGpuOnly MemoryUsage = iota
	// MemoryCpuOnly is host memory, typically a staging source
	MemoryCpuOnly
	// MemoryCpuToGpu is host-written memory the device reads, such as per-frame uniforms
	MemoryCpuToGpu
	// MemoryGpuToCpu is device-written memory the host reads back
	MemoryGpuToCpu
)

var memoryUsageNames = map[MemoryUsage]string{
	MemoryGpuOnly:  "GpuOnly",
	MemoryCpuOnly:  "CpuOnly",
	MemoryCpuToGpu: "CpuToGpu",
	MemoryGpuToCpu: "GpuToCpu",
}

func (u MemoryUsage) String() string {
	return memoryUsageNames[u]
}

// HostVisible returns true for policies whose memory is persistently mapped
func (u MemoryUsage) HostVisible() bool {
	return u != MemoryGpuOnly
}

func memoryPreferences(usage MemoryUsage) (requiredFlags, preferredFlags, notPreferredFlags core1_0.MemoryPropertyFlags) {
	hostAccess := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	switch usage {
	case MemoryGpuOnly:
		preferredFlags = core1_0.MemoryPropertyDeviceLocal
		notPreferredFlags = core1_0.MemoryPropertyHostVisible
	case MemoryCpuOnly:
		requiredFlags = hostAccess
		notPreferredFlags = core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostCached
	case MemoryCpuToGpu:
		// Uncached write-combined memory that lives on the device if possible
		requiredFlags = hostAccess
		preferredFlags = core1_0.MemoryPropertyDeviceLocal
		notPreferredFlags = core1_0.MemoryPropertyHostCached
	case MemoryGpuToCpu:
		requiredFlags = hostAccess
		preferredFlags = core1_0.MemoryPropertyHostCached
	}

	return requiredFlags, preferredFlags, notPreferredFlags
}

// findMemoryTypeIndex picks the allowed memory type with every required flag and the fewest missing
// preferred flags plus present not-preferred flags
func findMemoryTypeIndex(properties *core1_0.PhysicalDeviceMemoryProperties, memoryTypeBits uint32, usage MemoryUsage) (int, error) {
	requiredFlags, preferredFlags, notPreferredFlags := memoryPreferences(usage)

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range properties.MemoryTypes {
		memTypeBit := uint32(1 << memTypeIndex)
		if memTypeBit&memoryTypeBits == 0 {
			continue
		}

		flags := memType.PropertyFlags
		if requiredFlags&flags != requiredFlags {
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		presentNotPreferredFlags := notPreferredFlags & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, invalidParameter("no memory type satisfies %s for type bits %#x", usage, memoryTypeBits)
	}
	return bestMemoryTypeIndex, nil
}

// memoryBlock is one device memory allocation carved up by a linear arena
type memoryBlock struct {
	memory    driver.Memory
	metadata  *arena.Linear
	typeIndex int
	mapped    unsafe.Pointer
}

// allocation is a resource's placement. Exactly one of block and dedicated is set.
type allocation struct {
	block     *memoryBlock
	dedicated driver.Memory
	offset    int
	size      int
	mapped    unsafe.Pointer
}

func (a allocation) hostBytes() []byte {
	if a.mapped == nil {
		return nil
	}
	return unsafe.Slice((*byte)(a.mapped), a.size)
}

// heapMemory owns every device memory allocation made for one heap
type heapMemory struct {
	logger      *slog.Logger
	gpu         driver.GPU
	blockSize   int
	granularity int

	blocks         map[int][]*memoryBlock
	dedicatedCount int
	dedicatedBytes int
}

func newHeapMemory(logger *slog.Logger, gpu driver.GPU, blockSize int) (*heapMemory, error) {
	granularity := max(gpu.Limits().BufferImageGranularity, 1)
	err := memutils.CheckPow2(granularity, "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}

	return &heapMemory{
		logger:      logger,
		gpu:         gpu,
		blockSize:   blockSize,
		granularity: granularity,
		blocks:      make(map[int][]*memoryBlock),
	}, nil
}

func (m *heapMemory) allocate(requirements core1_0.MemoryRequirements, usage MemoryUsage, kind arena.Kind) (allocation, error) {
	typeIndex, err := findMemoryTypeIndex(m.gpu.MemoryProperties(), requirements.MemoryTypeBits, usage)
	if err != nil {
		return allocation{}, err
	}

	if requirements.Size > m.blockSize/2 {
		return m.allocateDedicated(typeIndex, requirements.Size, usage)
	}

	alignment := max(requirements.Alignment, 1)
	blocks := m.blocks[typeIndex]
	for _, block := range blocks {
		offset, err := block.metadata.Allocate(requirements.Size, alignment, kind)
		if errors.Is(err, memutils.ErrOutOfSpace) {
			continue
		} else if err != nil {
			return allocation{}, errors.Mark(err, ErrInvalidParameter)
		}
		return block.suballocation(offset, requirements.Size), nil
	}

	block, err := m.allocateBlock(typeIndex)
	if err != nil {
		return allocation{}, err
	}

	offset, err := block.metadata.Allocate(requirements.Size, alignment, kind)
	if err != nil {
		return allocation{}, errors.Mark(err, ErrInvalidParameter)
	}
	return block.suballocation(offset, requirements.Size), nil
}

func (b *memoryBlock) suballocation(offset, size int) allocation {
	alloc := allocation{
		block:  b,
		offset: offset,
		size:   size,
	}
	if b.mapped != nil {
		alloc.mapped = unsafe.Add(b.mapped, offset)
	}
	return alloc
}

// hostVisibleType reports whether memory of typeIndex can be mapped
func (m *heapMemory) hostVisibleType(typeIndex int) bool {
	flags := m.gpu.MemoryProperties().MemoryTypes[typeIndex].PropertyFlags
	return flags&core1_0.MemoryPropertyHostVisible != 0
}

// allocateBlock allocates a block shared by every usage that resolves to typeIndex. Blocks of a
// host-visible type are always mapped.
func (m *heapMemory) allocateBlock(typeIndex int) (*memoryBlock, error) {
	memory, err := m.gpu.AllocateMemory(typeIndex, m.blockSize)
	if err != nil {
		return nil, nativeError(err, "failed to allocate a %d-byte block of memory type %d", m.blockSize, typeIndex)
	}

	block := &memoryBlock{
		memory:    memory,
		metadata:  arena.NewLinear(m.blockSize, m.granularity),
		typeIndex: typeIndex,
	}

	if m.hostVisibleType(typeIndex) {
		block.mapped, err = memory.Map()
		if err != nil {
			memory.Free()
			return nil, nativeError(err, "failed to map memory block")
		}
	}

	m.logger.Debug("heapMemory::allocateBlock", slog.Int("MemoryTypeIndex", typeIndex), slog.Int("Size", m.blockSize))
	m.blocks[typeIndex] = append(m.blocks[typeIndex], block)
	return block, nil
}

func (m *heapMemory) allocateDedicated(typeIndex int, size int, usage MemoryUsage) (allocation, error) {
	memory, err := m.gpu.AllocateMemory(typeIndex, size)
	if err != nil {
		return allocation{}, nativeError(err, "failed to allocate %d bytes of dedicated memory", size)
	}

	alloc := allocation{dedicated: memory, size: size}
	if usage.HostVisible() {
		alloc.mapped, err = memory.Map()
		if err != nil {
			memory.Free()
			return allocation{}, nativeError(err, "failed to map dedicated memory")
		}
	}

	m.logger.Debug("heapMemory::allocateDedicated", slog.Int("MemoryTypeIndex", typeIndex), slog.Int("Size", size))
	m.dedicatedCount++
	m.dedicatedBytes += size
	return alloc, nil
}

func (m *heapMemory) bindBuffer(buffer driver.Buffer, alloc allocation) error {
	if alloc.dedicated != nil {
		return buffer.BindMemory(alloc.dedicated, 0)
	}
	return buffer.BindMemory(alloc.block.memory, alloc.offset)
}

func (m *heapMemory) bindImage(image driver.Image, alloc allocation) error {
	if alloc.dedicated != nil {
		return image.BindMemory(alloc.dedicated, 0)
	}
	return image.BindMemory(alloc.block.memory, alloc.offset)
}

// free releases a dedicated allocation. Block suballocations are only reclaimed when the heap is
// destroyed.
func (m *heapMemory) free(alloc allocation) {
	if alloc.dedicated == nil {
		return
	}
	if alloc.mapped != nil {
		alloc.dedicated.Unmap()
	}
	alloc.dedicated.Free()
	m.dedicatedCount--
	m.dedicatedBytes -= alloc.size
}

// release frees every block in one pass
func (m *heapMemory) release() {
	for typeIndex, blocks := range m.blocks {
		for _, block := range blocks {
			if block.mapped != nil {
				block.memory.Unmap()
			}
			block.memory.Free()
		}
		delete(m.blocks, typeIndex)
	}
}

func (m *heapMemory) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, blocks := range m.blocks {
		for _, block := range blocks {
			block.metadata.AddDetailedStatistics(stats)
		}
	}
	stats.BlockCount += m.dedicatedCount
	stats.BlockBytes += m.dedicatedBytes
	stats.AllocationCount += m.dedicatedCount
	stats.AllocationBytes += m.dedicatedBytes
}

func (m *heapMemory) printBlocks(json *jwriter.ObjectState) {
	blocksArray := json.Name("Blocks").Array()
	defer blocksArray.End()

	for typeIndex, blocks := range m.blocks {
		for _, block := range blocks {
			blockObj := blocksArray.Object()
			blockObj.Name("MemoryTypeIndex").Int(typeIndex)
			blockObj.Name("Mapped").Bool(block.mapped != nil)
			block.metadata.BlockJsonData(&blockObj)
			blockObj.End()
		}
	}
}
