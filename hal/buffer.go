package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/memutils/arena"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BufferDesc describes a buffer to create
type BufferDesc struct {
	Size   int
	Usage  core1_0.BufferUsageFlags
	Memory MemoryUsage
	Name   string
}

type buffer struct {
	desc   BufferDesc
	native driver.Buffer
	alloc  allocation
}

func (b *buffer) destroy(memory *heapMemory) {
	b.native.Destroy()
	memory.free(b.alloc)
}

// CreateBuffer creates a buffer in heap. If data is not empty it is copied into the buffer, which requires
// a host-visible memory policy: this layer never stages uploads to GpuOnly buffers implicitly.
func (d *Device) CreateBuffer(heapHandle HeapHandle, desc BufferDesc, data []byte) (BufferHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return BufferHandle{}, err
	}

	if desc.Size <= 0 {
		return BufferHandle{}, invalidParameter("buffer %q size must be positive, was %d", desc.Name, desc.Size)
	}
	if desc.Usage == 0 {
		return BufferHandle{}, invalidParameter("buffer %q has no usage flags", desc.Name)
	}
	if len(data) > 0 && !desc.Memory.HostVisible() {
		return BufferHandle{}, invalidParameter("buffer %q has initial data but %s memory is not host visible", desc.Name, desc.Memory)
	}
	if len(data) > desc.Size {
		return BufferHandle{}, invalidParameter("buffer %q initial data of %d bytes exceeds its size of %d", desc.Name, len(data), desc.Size)
	}

	b, err := d.newBuffer(heap.memory, desc)
	if err != nil {
		return BufferHandle{}, err
	}
	if len(data) > 0 {
		host := b.alloc.hostBytes()
		if host == nil {
			b.destroy(heap.memory)
			return BufferHandle{}, invalidOperation("buffer %q landed in memory with no host mapping", desc.Name)
		}
		copy(host, data)
	}

	id, err := heap.buffers.insert(b)
	if err != nil {
		b.destroy(heap.memory)
		return BufferHandle{}, err
	}

	d.logger.Debug("Device::CreateBuffer", slog.Int("Heap", int(heap.id)), slog.Int("Id", int(id)), slog.String("Name", desc.Name), slog.Int("Size", desc.Size), slog.String("Memory", desc.Memory.String()))
	return BufferHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) newBuffer(memory *heapMemory, desc BufferDesc) (*buffer, error) {
	native, err := d.gpu.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        desc.Size,
		Usage:       desc.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, nativeError(err, "failed to create buffer %q", desc.Name)
	}

	alloc, err := memory.allocate(native.MemoryRequirements(), desc.Memory, arena.KindBuffer)
	if err != nil {
		native.Destroy()
		return nil, err
	}

	err = memory.bindBuffer(native, alloc)
	if err != nil {
		native.Destroy()
		memory.free(alloc)
		return nil, nativeError(err, "failed to bind memory to buffer %q", desc.Name)
	}

	return &buffer{desc: desc, native: native, alloc: alloc}, nil
}

func (d *Device) lookupBuffer(h BufferHandle) (*resourceHeap, *buffer, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, nil, err
	}
	b, ok := heap.buffers.get(h.id)
	if !ok {
		return nil, nil, invalidParameter("buffer %d does not exist in heap %d", h.id, h.heap)
	}
	return heap, b, nil
}

// GetBufferData returns the persistent host mapping of a buffer. Writes through the slice are visible to
// the device without a flush.
func (d *Device) GetBufferData(h BufferHandle) ([]byte, error) {
	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	_, b, err := d.lookupBuffer(h)
	if err != nil {
		return nil, err
	}
	if b.alloc.mapped == nil {
		return nil, invalidOperation("buffer %q uses %s memory and has no host mapping", b.desc.Name, b.desc.Memory)
	}
	return b.alloc.hostBytes()[:b.desc.Size], nil
}

func (d *Device) DestroyBuffer(h BufferHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	b, ok := heap.buffers.erase(h.id)
	if !ok {
		return invalidParameter("buffer %d does not exist in heap %d", h.id, h.heap)
	}

	d.logger.Debug("Device::DestroyBuffer", slog.Int("Heap", int(h.heap)), slog.Int("Id", int(h.id)))
	b.destroy(heap.memory)
	return nil
}
