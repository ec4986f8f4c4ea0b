package hal

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/memutils"
	"github.com/jkleinecke/rhi/memutils/arena"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// FrameState is where the device is in its acquire, record, submit, present cycle
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameAcquired
	FrameRecording
	FrameSubmitted
	FramePresented
)

var frameStateNames = map[FrameState]string{
	FrameIdle:      "Idle",
	FrameAcquired:  "Acquired",
	FrameRecording: "Recording",
	FrameSubmitted: "Submitted",
	FramePresented: "Presented",
}

func (s FrameState) String() string {
	return frameStateNames[s]
}

var deviceIDs atomic.Uint32

// frameSlot is the synchronization owned by one frame in flight
type frameSlot struct {
	fence          driver.Fence
	imageAvailable driver.Semaphore
	renderComplete driver.Semaphore
}

func (s *frameSlot) destroy() {
	if s.fence != nil {
		s.fence.Destroy()
	}
	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
	}
	if s.renderComplete != nil {
		s.renderComplete.Destroy()
	}
}

// oneShot is the command buffer used for uploads and layout initialization outside the frame cycle
type oneShot struct {
	pool  driver.CommandPool
	cmd   driver.CmdBuffer
	fence driver.Fence
}

// RenderPassCacheStats reports the size and effectiveness of the render pass cache
type RenderPassCacheStats struct {
	Entries int
	Hits    int
	Misses  int
}

// Device owns the logical device, the swap chain, every resource heap and the frame cycle. Unless the
// device was created with DeviceCreateSynchronized, all of its methods must be called from one goroutine.
type Device struct {
	logger  *slog.Logger
	id      uint32
	options CreateOptions
	gpu     driver.GPU

	heapLock    optionalRWMutex
	heaps       *table[*resourceHeap]
	defaultHeap HeapHandle

	queueFamilies [3]int
	graphicsQueue driver.Queue

	swapchain        driver.Swapchain
	swapchainTargets []RenderTargetHandle
	swapChainIndex   int
	acquired         bool

	frames            [FramesInFlight]frameSlot
	currentFrameIndex int
	// slotOpen is set once the current slot's fence has been waited on and its per-frame state reset
	slotOpen   bool
	fenceReset bool
	state      FrameState

	scratch      *arena.Scratch
	oneShot      oneShot
	encoderPools *table[*encoderPool]
	renderPasses *renderPassCache
	descriptors  *descriptorAllocator
}

// newDevice builds a device over an already created GPU. The device takes ownership of gpu and destroys
// it in Destroy, including when newDevice fails.
func newDevice(logger *slog.Logger, gpu driver.GPU, options CreateOptions) (*Device, error) {
	options = options.withDefaults()
	if options.Width <= 0 || options.Height <= 0 {
		gpu.Destroy()
		return nil, invalidParameter("drawable extent %dx%d must be positive", options.Width, options.Height)
	}

	d := &Device{
		logger:       logger,
		id:           deviceIDs.Add(1),
		options:      options,
		gpu:          gpu,
		heapLock:     optionalRWMutex{enabled: options.Flags&DeviceCreateSynchronized != 0},
		heaps:        newTable[*resourceHeap]("heap", options.MaxHeaps),
		scratch:      arena.NewScratch(options.ScratchSize),
		encoderPools: newTable[*encoderPool]("encoder pool", options.MaxEncoderPools),
		renderPasses: newRenderPassCache(logger, gpu),
	}
	d.descriptors = newDescriptorAllocator(logger, func() (driver.DescriptorPool, error) {
		return gpu.CreateDescriptorPool(descriptorPoolInfo(options.DescriptorSetsPerPool))
	})

	err := d.initialize()
	if err != nil {
		d.destroyObjects()
		return nil, err
	}

	d.logger.Debug("Device::New", slog.Int("Id", int(d.id)), slog.Int("Width", options.Width), slog.Int("Height", options.Height), slog.String("Flags", options.Flags.String()))
	return d, nil
}

func (d *Device) initialize() error {
	families, err := selectQueueFamilies(d.gpu.QueueFamilies())
	if err != nil {
		return err
	}
	d.queueFamilies = families
	d.graphicsQueue = d.gpu.Queue(families[QueueGraphics])

	for slot := range d.frames {
		frame := &d.frames[slot]
		frame.fence, err = d.gpu.CreateFence(true)
		if err != nil {
			return nativeError(err, "failed to create frame fence")
		}
		frame.imageAvailable, err = d.gpu.CreateSemaphore()
		if err != nil {
			return nativeError(err, "failed to create image available semaphore")
		}
		frame.renderComplete, err = d.gpu.CreateSemaphore()
		if err != nil {
			return nativeError(err, "failed to create render complete semaphore")
		}
	}

	d.oneShot.pool, err = d.gpu.CreateCommandPool(families[QueueGraphics])
	if err != nil {
		return nativeError(err, "failed to create one-shot command pool")
	}
	buffers, err := d.oneShot.pool.Allocate(1)
	if err != nil {
		return nativeError(err, "failed to allocate one-shot command buffer")
	}
	d.oneShot.cmd = buffers[0]
	d.oneShot.fence, err = d.gpu.CreateFence(false)
	if err != nil {
		return nativeError(err, "failed to create one-shot fence")
	}

	heap, err := d.createHeap(d.options.DefaultHeap)
	if err != nil {
		return err
	}
	d.defaultHeap = HeapHandle{id: heap.id}

	d.swapchain, err = d.gpu.CreateSwapchain(d.options.Width, d.options.Height, nil)
	if err != nil {
		return nativeError(err, "failed to create swap chain")
	}
	return d.createSwapchainTargets()
}

// selectQueueFamilies picks the first family that can both draw and present for graphics, then prefers
// dedicated families for compute and transfer, falling back toward the graphics family
func selectQueueFamilies(families []driver.QueueFamily) ([3]int, error) {
	graphics, compute, transfer := -1, -1, -1
	for _, family := range families {
		if graphics < 0 && family.Flags&core1_0.QueueGraphics != 0 && family.Present {
			graphics = family.Index
		}
	}
	if graphics < 0 {
		return [3]int{}, errors.Wrap(ErrInternal, "no queue family supports both graphics and present")
	}

	computeOnly, transferOnly := -1, -1
	for _, family := range families {
		isGraphics := family.Flags&core1_0.QueueGraphics != 0
		isCompute := family.Flags&core1_0.QueueCompute != 0
		if computeOnly < 0 && isCompute && !isGraphics {
			computeOnly = family.Index
		}
		if transferOnly < 0 && family.Flags&core1_0.QueueTransfer != 0 && !isCompute && !isGraphics {
			transferOnly = family.Index
		}
	}

	compute = graphics
	if computeOnly >= 0 {
		compute = computeOnly
	}

	switch {
	case transferOnly >= 0:
		transfer = transferOnly
	case computeOnly >= 0:
		transfer = computeOnly
	default:
		transfer = graphics
	}

	var out [3]int
	out[QueueGraphics] = graphics
	out[QueueCompute] = compute
	out[QueueTransfer] = transfer
	return out, nil
}

func (d *Device) swapchainLoad() (LoadOp, ClearValue) {
	if d.options.SwapChainClear == nil {
		return LoadDontCare, ClearValue{}
	}
	return LoadClear, *d.options.SwapChainClear
}

// createSwapchainTargets registers a render target in the default heap for every swap chain image and
// moves the images to the present layout, which is where the frame cycle expects to find them
func (d *Device) createSwapchainTargets() error {
	heap, err := d.lookupHeap(d.defaultHeap.id)
	if err != nil {
		return err
	}

	extent := d.swapchain.Extent()
	format := d.swapchain.Format()
	load, clearValue := d.swapchainLoad()
	images := d.swapchain.Images()
	views := d.swapchain.Views()

	d.swapchainTargets = make([]RenderTargetHandle, 0, len(images))
	for i, image := range images {
		rt := &renderTarget{
			desc: RenderTargetDesc{
				Width:   extent.Width,
				Height:  extent.Height,
				Format:  format,
				Samples: core1_0.Samples1,
				Load:    load,
				Clear:   clearValue,
				Name:    fmt.Sprintf("swapchain %d", i),
			},
			image:     image,
			view:      views[i],
			aspect:    core1_0.ImageAspectColor,
			swapchain: true,
		}

		id, err := heap.renderTargets.insert(rt)
		if err != nil {
			return err
		}
		d.swapchainTargets = append(d.swapchainTargets, RenderTargetHandle{handle{heap: heap.id, id: id}})
	}

	return d.immediate(func(cmd driver.CmdBuffer) error {
		for _, image := range images {
			err := transitionImage(cmd, image, core1_0.ImageAspectColor, 1, barrier.StateUndefined, barrier.StatePresent)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Device) releaseSwapchainTargets() {
	heap, err := d.lookupHeap(d.defaultHeap.id)
	if err != nil {
		return
	}
	for _, target := range d.swapchainTargets {
		d.renderPasses.evictTarget(target)
		heap.renderTargets.erase(target.id)
	}
	d.swapchainTargets = nil
}

// openFrame waits for the GPU to release the current slot, then resets the slot's per-frame state. It is a
// no-op once the slot is open.
func (d *Device) openFrame() error {
	if d.slotOpen {
		return nil
	}

	slot := &d.frames[d.currentFrameIndex]
	err := slot.fence.Wait()
	if err != nil {
		return nativeError(err, "failed to wait for frame slot %d", d.currentFrameIndex)
	}

	err = d.descriptors.reset(d.currentFrameIndex)
	if err != nil {
		return err
	}

	d.slotOpen = true
	return nil
}

func (d *Device) resetFence() error {
	if d.fenceReset {
		return nil
	}
	err := d.frames[d.currentFrameIndex].fence.Reset()
	if err != nil {
		return nativeError(err, "failed to reset frame fence")
	}
	d.fenceReset = true
	return nil
}

// AcquireNextSwapChainTarget waits until the current frame slot is free, then acquires the next swap
// chain image and returns its render target. An out of date swap chain returns ErrSwapChainOutOfDate and
// the host should call Resize.
func (d *Device) AcquireNextSwapChainTarget() (RenderTargetHandle, error) {
	if d.acquired {
		return RenderTargetHandle{}, invalidOperation("swap chain image %d is already acquired for this frame", d.swapChainIndex)
	}

	err := d.openFrame()
	if err != nil {
		return RenderTargetHandle{}, err
	}

	slot := &d.frames[d.currentFrameIndex]
	index, err := d.swapchain.AcquireNext(slot.imageAvailable)
	if err != nil {
		return RenderTargetHandle{}, nativeError(err, "failed to acquire swap chain image")
	}
	if index < 0 || index >= len(d.swapchainTargets) {
		return RenderTargetHandle{}, errors.Wrapf(ErrInternal, "swap chain returned image %d of %d", index, len(d.swapchainTargets))
	}

	err = d.resetFence()
	if err != nil {
		return RenderTargetHandle{}, err
	}

	d.swapChainIndex = index
	d.acquired = true
	d.state = FrameAcquired

	d.logger.Debug("Device::AcquireNextSwapChainTarget", slog.Int("FrameIndex", d.currentFrameIndex), slog.Int("SwapChainIndex", index))
	return d.swapchainTargets[index], nil
}

// frameContexts resolves the contexts passed to Frame or Submit and checks they are ready for submission
func (d *Device) frameContexts(handles []ContextHandle) ([]*cmdContext, error) {
	contexts := make([]*cmdContext, 0, len(handles))
	for _, h := range handles {
		ctx, err := d.lookupContext(h)
		if err != nil {
			return nil, err
		}
		if ctx.recording {
			return nil, invalidOperation("context %d is still recording", h.id)
		}
		if !ctx.submittable {
			return nil, invalidOperation("context %d has nothing recorded for this frame", h.id)
		}
		if ctx.slot != d.currentFrameIndex {
			return nil, invalidOperation("context %d was recorded for frame slot %d, not %d", h.id, ctx.slot, d.currentFrameIndex)
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

// Frame submits the contexts' command buffers to the graphics queue in order, presents the acquired swap
// chain image if there is one, and advances to the next frame slot. Memory from FrameScratch is invalid
// afterward.
func (d *Device) Frame(contexts ...ContextHandle) error {
	err := d.openFrame()
	if err != nil {
		return err
	}

	resolved, err := d.frameContexts(contexts)
	if err != nil {
		return err
	}

	submission := driver.Submission{}
	for _, ctx := range resolved {
		if ctx.pool.family != d.queueFamilies[QueueGraphics] {
			return invalidParameter("context from a %s encoder pool cannot be submitted with the frame", ctx.pool.queueType)
		}
		submission.CmdBuffers = append(submission.CmdBuffers, ctx.cmd())
	}

	slot := &d.frames[d.currentFrameIndex]
	if d.acquired {
		submission.Wait = []driver.Semaphore{slot.imageAvailable}
		submission.WaitStages = []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}
		submission.Signal = []driver.Semaphore{slot.renderComplete}
	}

	err = d.resetFence()
	if err != nil {
		return err
	}

	err = d.graphicsQueue.Submit(submission, slot.fence)
	if err != nil {
		return nativeError(err, "failed to submit frame %d", d.currentFrameIndex)
	}
	for _, ctx := range resolved {
		ctx.submittable = false
		ctx.submitted[ctx.slot] = true
	}
	d.state = FrameSubmitted

	var presentErr error
	if d.acquired {
		presentErr = d.swapchain.Present(d.graphicsQueue, []driver.Semaphore{slot.renderComplete}, d.swapChainIndex)
		if presentErr != nil {
			presentErr = nativeError(presentErr, "failed to present swap chain image %d", d.swapChainIndex)
		} else {
			d.state = FramePresented
		}
	}

	d.logger.Debug("Device::Frame", slog.Int("FrameIndex", d.currentFrameIndex), slog.Int("Contexts", len(resolved)), slog.Bool("Presented", d.acquired && presentErr == nil))

	d.currentFrameIndex = (d.currentFrameIndex + 1) % FramesInFlight
	d.slotOpen = false
	d.fenceReset = false
	d.acquired = false
	d.scratch.Reset()

	return presentErr
}

// Submit submits compute or transfer contexts to their own queues and waits for them to complete. Graphics
// contexts belong in Frame.
func (d *Device) Submit(contexts ...ContextHandle) error {
	resolved, err := d.frameContexts(contexts)
	if err != nil {
		return err
	}

	queues := make(map[driver.Queue]*driver.Submission)
	var order []driver.Queue
	for _, ctx := range resolved {
		if ctx.pool.queueType == QueueGraphics {
			return invalidParameter("graphics context %d must be submitted with Frame", ctx.pool.id)
		}
		submission, ok := queues[ctx.pool.queue]
		if !ok {
			submission = &driver.Submission{}
			queues[ctx.pool.queue] = submission
			order = append(order, ctx.pool.queue)
		}
		submission.CmdBuffers = append(submission.CmdBuffers, ctx.cmd())
	}

	for _, queue := range order {
		err = queue.Submit(*queues[queue], nil)
		if err != nil {
			return nativeError(err, "failed to submit to queue family %d", queue.FamilyIndex())
		}
		err = queue.WaitIdle()
		if err != nil {
			return nativeError(err, "failed to wait for queue family %d", queue.FamilyIndex())
		}
	}

	for _, ctx := range resolved {
		ctx.submittable = false
		ctx.submitted[ctx.slot] = true
	}
	return nil
}

// FrameScratch returns zeroed host memory that stays valid until the next call to Frame
func (d *Device) FrameScratch(size, alignment int) ([]byte, error) {
	if size <= 0 {
		return nil, invalidParameter("scratch size %d must be positive", size)
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, invalidParameter("scratch alignment %d: %v", alignment, err)
	}

	out, err := d.scratch.Alloc(size, alignment)
	if errors.Is(err, memutils.ErrOutOfSpace) {
		return nil, errors.Mark(errors.Wrapf(err, "frame scratch of %d bytes has %d used", d.scratch.Capacity(), d.scratch.Used()), ErrOutOfMemory)
	} else if err != nil {
		return nil, errors.Mark(err, ErrInternal)
	}
	return out, nil
}

// Finish blocks until the GPU is idle
func (d *Device) Finish() error {
	err := d.gpu.WaitIdle()
	if err != nil {
		return nativeError(err, "failed to wait for device idle")
	}
	return nil
}

// Resize recreates the swap chain and its render targets at the new drawable extent. Render passes that
// referenced the old swap chain targets are evicted.
func (d *Device) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return invalidParameter("drawable extent %dx%d must be positive", width, height)
	}
	if d.acquired {
		return invalidOperation("cannot resize while swap chain image %d is acquired", d.swapChainIndex)
	}

	err := d.Finish()
	if err != nil {
		return err
	}

	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	d.releaseSwapchainTargets()

	old := d.swapchain
	d.swapchain, err = d.gpu.CreateSwapchain(width, height, old)
	old.Destroy()
	if err != nil {
		d.swapchain = nil
		return nativeError(err, "failed to recreate swap chain at %dx%d", width, height)
	}

	d.options.Width = width
	d.options.Height = height
	d.swapChainIndex = 0

	d.logger.Debug("Device::Resize", slog.Int("Width", width), slog.Int("Height", height))
	return d.createSwapchainTargets()
}

// CleanupUnusedRenderingResources waits for the GPU, then evicts every cached render pass that was not
// used with the current swap chain image
func (d *Device) CleanupUnusedRenderingResources() error {
	err := d.Finish()
	if err != nil {
		return err
	}

	evicted := d.renderPasses.evictUnused(d.swapChainIndex)
	d.logger.Debug("Device::CleanupUnusedRenderingResources", slog.Int("SwapChainIndex", d.swapChainIndex), slog.Int("Evicted", evicted))
	return nil
}

// Destroy waits for the GPU, then destroys every heap, encoder pool and cached render pass, the swap
// chain and the device itself. The device cannot be used afterward.
func (d *Device) Destroy() error {
	err := d.Finish()
	d.destroyObjects()
	d.logger.Debug("Device::Destroy", slog.Int("Id", int(d.id)))
	return err
}

func (d *Device) destroyObjects() {
	d.encoderPools.each(func(_ uint32, pool *encoderPool) {
		pool.destroy()
	})
	d.encoderPools.clear()

	d.renderPasses.destroy()

	d.heaps.each(func(_ uint32, heap *resourceHeap) {
		d.teardownHeap(heap)
	})
	d.heaps.clear()
	d.swapchainTargets = nil

	d.descriptors.destroy()

	for slot := range d.frames {
		d.frames[slot].destroy()
	}

	if d.oneShot.fence != nil {
		d.oneShot.fence.Destroy()
	}
	if d.oneShot.pool != nil {
		d.oneShot.pool.Destroy()
	}

	if d.swapchain != nil {
		d.swapchain.Destroy()
		d.swapchain = nil
	}

	d.gpu.Destroy()
}

// immediate records fn into the one-shot command buffer, submits it to the graphics queue and waits for
// it to complete
func (d *Device) immediate(fn func(cmd driver.CmdBuffer) error) error {
	err := d.oneShot.pool.Reset()
	if err != nil {
		return nativeError(err, "failed to reset one-shot command pool")
	}

	cmd := d.oneShot.cmd
	err = cmd.Begin(true)
	if err != nil {
		return nativeError(err, "failed to begin one-shot command buffer")
	}

	err = fn(cmd)
	if err != nil {
		_ = cmd.End()
		return err
	}

	err = cmd.End()
	if err != nil {
		return nativeError(err, "failed to end one-shot command buffer")
	}

	err = d.graphicsQueue.Submit(driver.Submission{CmdBuffers: []driver.CmdBuffer{cmd}}, d.oneShot.fence)
	if err != nil {
		return nativeError(err, "failed to submit one-shot command buffer")
	}

	err = d.oneShot.fence.Wait()
	if err != nil {
		return nativeError(err, "failed to wait for one-shot command buffer")
	}

	err = d.oneShot.fence.Reset()
	if err != nil {
		return nativeError(err, "failed to reset one-shot fence")
	}
	return nil
}

// stagingBuffer is a host-visible copy source that lives for one immediate submission
type stagingBuffer struct {
	buffer driver.Buffer
	memory driver.Memory
}

func (s *stagingBuffer) release() {
	s.buffer.Destroy()
	s.memory.Free()
}

func (d *Device) newStagingBuffer(data []byte) (*stagingBuffer, error) {
	native, err := d.gpu.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        len(data),
		Usage:       core1_0.BufferUsageTransferSrc,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, nativeError(err, "failed to create %d-byte staging buffer", len(data))
	}

	requirements := native.MemoryRequirements()
	typeIndex, err := findMemoryTypeIndex(d.gpu.MemoryProperties(), requirements.MemoryTypeBits, MemoryCpuToGpu)
	if err != nil {
		native.Destroy()
		return nil, err
	}

	memory, err := d.gpu.AllocateMemory(typeIndex, requirements.Size)
	if err != nil {
		native.Destroy()
		return nil, nativeError(err, "failed to allocate staging memory")
	}

	staging := &stagingBuffer{buffer: native, memory: memory}
	err = native.BindMemory(memory, 0)
	if err != nil {
		staging.release()
		return nil, nativeError(err, "failed to bind staging memory")
	}

	ptr, err := memory.Map()
	if err != nil {
		staging.release()
		return nil, nativeError(err, "failed to map staging memory")
	}
	copy(unsafe.Slice((*byte)(ptr), len(data)), data)
	memory.Unmap()

	return staging, nil
}

// CurrentFrameIndex is the frame slot being recorded, in [0, FramesInFlight)
func (d *Device) CurrentFrameIndex() int {
	return d.currentFrameIndex
}

// SwapChainIndex is the image most recently acquired from the swap chain
func (d *Device) SwapChainIndex() int {
	return d.swapChainIndex
}

// SwapChainExtent is the size of the swap chain images and their render targets
func (d *Device) SwapChainExtent() core1_0.Extent2D {
	return d.swapchain.Extent()
}

// FrameState reports how far the current frame has progressed
func (d *Device) FrameState() FrameState {
	return d.state
}

// SwapChainTargets returns the render target of every swap chain image, indexed by image
func (d *Device) SwapChainTargets() []RenderTargetHandle {
	out := make([]RenderTargetHandle, len(d.swapchainTargets))
	copy(out, d.swapchainTargets)
	return out
}

// DescriptorStats reports descriptor pool usage across every frame slot
func (d *Device) DescriptorStats() DescriptorStats {
	return d.descriptors.stats()
}

// RenderPassCacheStats reports the size and hit rate of the render pass cache
func (d *Device) RenderPassCacheStats() RenderPassCacheStats {
	return RenderPassCacheStats{
		Entries: d.renderPasses.len(),
		Hits:    d.renderPasses.hits,
		Misses:  d.renderPasses.misses,
	}
}
