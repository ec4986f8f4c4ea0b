package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// resourceHeap owns six typed handle tables and the device memory backing their resources. Destroying
// the heap destroys everything in it.
type resourceHeap struct {
	id     uint32
	desc   HeapDesc
	memory *heapMemory

	buffers       *table[*buffer]
	textures      *table[*texture]
	samplers      *table[*sampler]
	renderTargets *table[*renderTarget]
	programs      *table[*shaderProgram]
	kernels       *table[*kernel]
}

// HeapStats reports the live contents of a heap
type HeapStats struct {
	Buffers       int
	Textures      int
	Samplers      int
	RenderTargets int
	Programs      int
	Kernels       int

	Memory memutils.DetailedStatistics
}

func (d *Device) createHeap(desc HeapDesc) (*resourceHeap, error) {
	desc = desc.withDefaults()
	err := memutils.CheckPow2(desc.BlockSize, "HeapDesc.BlockSize")
	if err != nil {
		return nil, invalidParameter("heap block size %d: %v", desc.BlockSize, err)
	}

	memory, err := newHeapMemory(d.logger, d.gpu, desc.BlockSize)
	if err != nil {
		return nil, err
	}

	heap := &resourceHeap{
		desc:          desc,
		memory:        memory,
		buffers:       newTable[*buffer]("buffer", desc.MaxBuffers),
		textures:      newTable[*texture]("texture", desc.MaxTextures),
		samplers:      newTable[*sampler]("sampler", desc.MaxSamplers),
		renderTargets: newTable[*renderTarget]("render target", desc.MaxRenderTargets),
		programs:      newTable[*shaderProgram]("program", desc.MaxPrograms),
		kernels:       newTable[*kernel]("kernel", desc.MaxKernels),
	}

	heap.id, err = d.heaps.insert(heap)
	if err != nil {
		return nil, err
	}

	return heap, nil
}

// CreateHeap creates an empty resource heap
func (d *Device) CreateHeap(desc HeapDesc) (HeapHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.createHeap(desc)
	if err != nil {
		return HeapHandle{}, err
	}

	d.logger.Debug("Device::CreateHeap", slog.Int("Heap", int(heap.id)), slog.Int("BlockSize", heap.desc.BlockSize))
	return HeapHandle{id: heap.id}, nil
}

// DefaultHeap returns the heap the device created for itself. It holds the swap chain's render targets and
// cannot be destroyed.
func (d *Device) DefaultHeap() HeapHandle {
	return d.defaultHeap
}

// DestroyHeap destroys every resource in the heap and releases its memory. The caller must make sure the
// device is no longer using any of them, typically by calling Finish first. Every handle the heap issued
// becomes unresolvable.
func (d *Device) DestroyHeap(handle HeapHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	if handle == d.defaultHeap {
		return invalidOperation("the default heap is destroyed with the device")
	}

	heap, ok := d.heaps.erase(handle.id)
	if !ok {
		return invalidParameter("heap %d does not exist", handle.id)
	}

	d.logger.Debug("Device::DestroyHeap", slog.Int("Heap", int(heap.id)))
	d.teardownHeap(heap)
	return nil
}

// teardownHeap destroys native objects in dependency order, then frees the heap's memory in one pass
func (d *Device) teardownHeap(heap *resourceHeap) {
	heap.kernels.each(func(_ uint32, k *kernel) {
		k.destroy()
	})
	heap.kernels.clear()

	heap.programs.each(func(_ uint32, p *shaderProgram) {
		p.destroy()
	})
	heap.programs.clear()

	heap.renderTargets.each(func(id uint32, rt *renderTarget) {
		d.renderPasses.evictTarget(RenderTargetHandle{handle{heap: heap.id, id: id}})
		rt.destroy(heap.memory)
	})
	heap.renderTargets.clear()

	heap.samplers.each(func(_ uint32, s *sampler) {
		s.native.Destroy()
	})
	heap.samplers.clear()

	heap.textures.each(func(_ uint32, t *texture) {
		t.destroy(heap.memory)
	})
	heap.textures.clear()

	heap.buffers.each(func(_ uint32, b *buffer) {
		b.destroy(heap.memory)
	})
	heap.buffers.clear()

	heap.memory.release()
}

func (d *Device) lookupHeap(id uint32) (*resourceHeap, error) {
	heap, ok := d.heaps.get(id)
	if !ok {
		return nil, invalidParameter("heap %d does not exist", id)
	}
	return heap, nil
}

// HeapStats returns the live entry counts and memory usage of a heap
func (d *Device) HeapStats(handle HeapHandle) (HeapStats, error) {
	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	heap, err := d.lookupHeap(handle.id)
	if err != nil {
		return HeapStats{}, err
	}

	return heap.stats(), nil
}

func (h *resourceHeap) stats() HeapStats {
	stats := HeapStats{
		Buffers:       h.buffers.len(),
		Textures:      h.textures.len(),
		Samplers:      h.samplers.len(),
		RenderTargets: h.renderTargets.len(),
		Programs:      h.programs.len(),
		Kernels:       h.kernels.len(),
	}
	stats.Memory.Clear()
	h.memory.addDetailedStatistics(&stats.Memory)
	return stats
}

// BuildHeapStatsString renders a heap's statistics as json. When detailed is true, every memory block and
// its suballocations are included.
func (d *Device) BuildHeapStatsString(handle HeapHandle, detailed bool) (string, error) {
	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	heap, err := d.lookupHeap(handle.id)
	if err != nil {
		return "", err
	}

	stats := heap.stats()
	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Heap").Int(int(heap.id))

	entries := obj.Name("Entries").Object()
	entries.Name("Buffers").Int(stats.Buffers)
	entries.Name("Textures").Int(stats.Textures)
	entries.Name("Samplers").Int(stats.Samplers)
	entries.Name("RenderTargets").Int(stats.RenderTargets)
	entries.Name("Programs").Int(stats.Programs)
	entries.Name("Kernels").Int(stats.Kernels)
	entries.End()

	memoryObj := obj.Name("Memory").Object()
	stats.Memory.PrintJson(&memoryObj)
	if detailed {
		heap.memory.printBlocks(&memoryObj)
	}
	memoryObj.End()

	obj.End()
	return string(writer.Bytes()), nil
}
