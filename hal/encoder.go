package hal

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// encoderPool owns one native command pool per frame slot, all on the same queue family
type encoderPool struct {
	id        uint32
	queueType QueueType
	family    int
	queue     driver.Queue
	pools     [FramesInFlight]driver.CommandPool
	contexts  *table[*cmdContext]
}

func (p *encoderPool) destroy() {
	for _, pool := range p.pools {
		if pool != nil {
			pool.Destroy()
		}
	}
	p.contexts.clear()
}

// cmdContext is one command buffer per frame slot plus the state of the recording in progress
type cmdContext struct {
	pool    *encoderPool
	buffers [FramesInFlight]driver.CmdBuffer

	recording bool
	// submittable is set once recording ends and cleared when the buffer is submitted or its pool reset
	submittable bool
	slot        int
	// submitted marks slots whose buffer was submitted since the slot's pool was last reset
	submitted [FramesInFlight]bool

	pass         *renderPassEntry
	kernel       *kernel
	indexBuffer  *buffer
	vertexBuffer *buffer

	pendingSets           [MaxDescriptorSets]driver.DescriptorSet
	pendingMask           uint32
	shouldBindDescriptors bool
}

func (c *cmdContext) cmd() driver.CmdBuffer {
	return c.buffers[c.slot]
}

func (c *cmdContext) resetState() {
	c.pass = nil
	c.kernel = nil
	c.indexBuffer = nil
	c.vertexBuffer = nil
	c.pendingSets = [MaxDescriptorSets]driver.DescriptorSet{}
	c.pendingMask = 0
	c.shouldBindDescriptors = false
}

func (c *cmdContext) endPass() {
	if c.pass != nil {
		c.cmd().EndRenderPass()
		c.pass = nil
	}
}

// CreateEncoderPool creates a pool whose contexts record for queueType
func (d *Device) CreateEncoderPool(queueType QueueType) (EncoderPoolHandle, error) {
	if queueType < QueueGraphics || queueType > QueueTransfer {
		return EncoderPoolHandle{}, invalidParameter("unknown queue type %d", queueType)
	}

	family := d.queueFamilies[queueType]
	pool := &encoderPool{
		queueType: queueType,
		family:    family,
		queue:     d.gpu.Queue(family),
		contexts:  newTable[*cmdContext]("context", d.options.MaxContextsPerPool),
	}

	for slot := range pool.pools {
		native, err := d.gpu.CreateCommandPool(family)
		if err != nil {
			pool.destroy()
			return EncoderPoolHandle{}, nativeError(err, "failed to create command pool for queue family %d", family)
		}
		pool.pools[slot] = native
	}

	id, err := d.encoderPools.insert(pool)
	if err != nil {
		pool.destroy()
		return EncoderPoolHandle{}, err
	}
	pool.id = id

	d.logger.Debug("Device::CreateEncoderPool", slog.Int("Id", int(id)), slog.String("QueueType", queueType.String()), slog.Int("QueueFamily", family))
	return EncoderPoolHandle{device: d.id, id: id}, nil
}

func (d *Device) lookupEncoderPool(h EncoderPoolHandle) (*encoderPool, error) {
	if h.device != d.id {
		return nil, invalidParameter("encoder pool belongs to device %d, not device %d", h.device, d.id)
	}
	pool, ok := d.encoderPools.get(h.id)
	if !ok {
		return nil, invalidParameter("encoder pool %d does not exist", h.id)
	}
	return pool, nil
}

// DestroyEncoderPool destroys a pool along with every context created from it. Its command buffers must
// not be in flight.
func (d *Device) DestroyEncoderPool(h EncoderPoolHandle) error {
	pool, err := d.lookupEncoderPool(h)
	if err != nil {
		return err
	}

	recording := false
	pool.contexts.each(func(_ uint32, ctx *cmdContext) {
		recording = recording || ctx.recording
	})
	if recording {
		return invalidOperation("encoder pool %d has a context that is still recording", h.id)
	}

	d.encoderPools.erase(h.id)
	pool.destroy()
	return nil
}

func (d *Device) CreateEncoderContext(h EncoderPoolHandle) (ContextHandle, error) {
	contexts, err := d.CreateEncoderContexts(h, 1)
	if err != nil {
		return ContextHandle{}, err
	}
	return contexts[0], nil
}

// CreateEncoderContexts creates count contexts, each with one command buffer per frame slot
func (d *Device) CreateEncoderContexts(h EncoderPoolHandle, count int) ([]ContextHandle, error) {
	pool, err := d.lookupEncoderPool(h)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, invalidParameter("context count must be positive, was %d", count)
	}
	if pool.contexts.len()+count > pool.contexts.capacity {
		return nil, errors.Wrapf(ErrOutOfHandles, "encoder pool %d cannot hold %d more contexts", h.id, count)
	}

	var buffers [FramesInFlight][]driver.CmdBuffer
	for slot, native := range pool.pools {
		buffers[slot], err = native.Allocate(count)
		if err != nil {
			return nil, nativeError(err, "failed to allocate %d command buffers", count)
		}
	}

	handles := make([]ContextHandle, 0, count)
	for i := 0; i < count; i++ {
		ctx := &cmdContext{pool: pool}
		for slot := range ctx.buffers {
			ctx.buffers[slot] = buffers[slot][i]
		}

		id, err := pool.contexts.insert(ctx)
		if err != nil {
			return nil, err
		}
		handles = append(handles, ContextHandle{device: d.id, pool: pool.id, id: id})
	}

	return handles, nil
}

func (d *Device) lookupContext(h ContextHandle) (*cmdContext, error) {
	pool, err := d.lookupEncoderPool(h.Pool())
	if err != nil {
		return nil, err
	}
	ctx, ok := pool.contexts.get(h.id)
	if !ok {
		return nil, invalidParameter("context %d does not exist in encoder pool %d", h.id, h.pool)
	}
	return ctx, nil
}

// recordingContext resolves a context that is between BeginEncodingCmds and EndEncodingCmds
func (d *Device) recordingContext(h ContextHandle) (*cmdContext, error) {
	ctx, err := d.lookupContext(h)
	if err != nil {
		return nil, err
	}
	if !ctx.recording {
		return nil, invalidOperation("context %d is not recording", h.id)
	}
	return ctx, nil
}

// DestroyEncoderContext frees a context's command buffers back to their per-slot pools. None of them may
// still be executing.
func (d *Device) DestroyEncoderContext(h ContextHandle) error {
	ctx, err := d.lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.recording {
		return invalidOperation("context %d is still recording", h.id)
	}

	ctx.pool.contexts.erase(h.id)
	for slot, native := range ctx.pool.pools {
		native.Free([]driver.CmdBuffer{ctx.buffers[slot]})
	}
	return nil
}

// ResetCmdEncoderPool resets the pool's command buffers for the current frame slot only; the other slot
// may still be executing
func (d *Device) ResetCmdEncoderPool(h EncoderPoolHandle) error {
	pool, err := d.lookupEncoderPool(h)
	if err != nil {
		return err
	}

	recording := false
	pool.contexts.each(func(_ uint32, ctx *cmdContext) {
		recording = recording || (ctx.recording && ctx.slot == d.currentFrameIndex)
	})
	if recording {
		return invalidOperation("encoder pool %d has a context that is still recording", h.id)
	}

	err = d.openFrame()
	if err != nil {
		return err
	}

	err = pool.pools[d.currentFrameIndex].Reset()
	if err != nil {
		return nativeError(err, "failed to reset command pool")
	}

	pool.contexts.each(func(_ uint32, ctx *cmdContext) {
		ctx.submitted[d.currentFrameIndex] = false
		if ctx.slot == d.currentFrameIndex {
			ctx.submittable = false
		}
	})
	return nil
}

// BeginEncodingCmds begins recording the context's command buffer for the current frame slot. Once that
// buffer has been submitted, ResetCmdEncoderPool must run in the same slot before it can be recorded again.
func (d *Device) BeginEncodingCmds(h ContextHandle) error {
	ctx, err := d.lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.recording {
		return invalidOperation("context %d is already recording", h.id)
	}

	err = d.openFrame()
	if err != nil {
		return err
	}

	if ctx.submitted[d.currentFrameIndex] {
		return invalidOperation("context %d was submitted from frame slot %d and its encoder pool has not been reset since", h.id, d.currentFrameIndex)
	}

	ctx.slot = d.currentFrameIndex
	ctx.resetState()
	err = ctx.cmd().Begin(true)
	if err != nil {
		return nativeError(err, "failed to begin command buffer")
	}

	ctx.recording = true
	ctx.submittable = false
	d.state = FrameRecording
	return nil
}

// EndEncodingCmds ends recording, closing any render pass still open
func (d *Device) EndEncodingCmds(h ContextHandle) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}

	ctx.endPass()
	ctx.recording = false
	err = ctx.cmd().End()
	if err != nil {
		return nativeError(err, "failed to end command buffer")
	}

	ctx.submittable = true
	return nil
}

// CmdBindRenderTargets ends any open render pass, then begins the cached pass for the given targets and
// sets the viewport and scissor to cover them. Color targets bind in order; depth may be the zero handle.
// Binding no targets at all only ends the open pass.
func (d *Device) CmdBindRenderTargets(h ContextHandle, colors []RenderTargetHandle, depth RenderTargetHandle) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.pool.queueType != QueueGraphics {
		return invalidOperation("render targets can only be bound on a graphics context")
	}

	ctx.endPass()
	if len(colors) == 0 && !depth.Valid() {
		return nil
	}
	if len(colors) > MaxColorTargets {
		return invalidParameter("%d color targets bound, the limit is %d", len(colors), MaxColorTargets)
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	colorTargets := make([]*renderTarget, 0, len(colors))
	for _, handle := range colors {
		rt, err := d.lookupRenderTarget(handle)
		if err != nil {
			return err
		}
		if rt.depth {
			return invalidParameter("render target %q is a depth target bound as color", rt.desc.Name)
		}
		colorTargets = append(colorTargets, rt)
	}

	var depthTarget *renderTarget
	if depth.Valid() {
		depthTarget, err = d.lookupRenderTarget(depth)
		if err != nil {
			return err
		}
		if !depthTarget.depth {
			return invalidParameter("render target %q is a color target bound as depth", depthTarget.desc.Name)
		}
	}

	entry, err := d.renderPasses.resolve(newRenderPassKey(colors, depth), colorTargets, depthTarget)
	if err != nil {
		return err
	}
	entry.lastUsedInFrameIndex = d.swapChainIndex

	err = ctx.cmd().BeginRenderPass(entry.pass, entry.framebuffer, core1_0.Rect2D{Extent: entry.extent}, entry.clears)
	if err != nil {
		return nativeError(err, "failed to begin render pass")
	}
	ctx.cmd().SetViewport(core1_0.Viewport{
		Width:    float32(entry.extent.Width),
		Height:   float32(entry.extent.Height),
		MaxDepth: 1,
	})
	ctx.cmd().SetScissor(core1_0.Rect2D{Extent: entry.extent})
	ctx.pass = entry
	return nil
}

// CmdBindKernel binds a pipeline. Descriptor sets pending from a kernel of a different program are
// dropped.
func (d *Device) CmdBindKernel(h ContextHandle, kernelHandle KernelHandle) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	k, err := d.lookupKernel(kernelHandle)
	if err != nil {
		return err
	}
	if k.bindPoint == core1_0.PipelineBindPointGraphics && ctx.pool.queueType != QueueGraphics {
		return invalidOperation("graphics kernel %q bound on a %s context", k.name, ctx.pool.queueType)
	}
	if k.bindPoint == core1_0.PipelineBindPointCompute && ctx.pool.queueType == QueueTransfer {
		return invalidOperation("compute kernel %q bound on a transfer context", k.name)
	}

	if ctx.kernel == nil || ctx.kernel.program != k.program {
		ctx.pendingSets = [MaxDescriptorSets]driver.DescriptorSet{}
		ctx.pendingMask = 0
		ctx.shouldBindDescriptors = false
	}

	ctx.cmd().BindPipeline(k.bindPoint, k.pipeline)
	ctx.kernel = k
	return nil
}

func (d *Device) CmdBindIndexBuffer(h ContextHandle, bufferHandle BufferHandle, offset int, indexType core1_0.IndexType) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	_, b, err := d.lookupBuffer(bufferHandle)
	if err != nil {
		return err
	}
	if b.desc.Usage&core1_0.BufferUsageIndexBuffer == 0 {
		return invalidParameter("buffer %q was not created with index buffer usage", b.desc.Name)
	}
	if offset < 0 || offset >= b.desc.Size {
		return invalidParameter("index buffer offset %d is outside buffer %q of size %d", offset, b.desc.Name, b.desc.Size)
	}

	ctx.cmd().BindIndexBuffer(b.native, offset, indexType)
	ctx.indexBuffer = b
	return nil
}

func (d *Device) CmdBindVertexBuffer(h ContextHandle, bufferHandle BufferHandle, offset int) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	_, b, err := d.lookupBuffer(bufferHandle)
	if err != nil {
		return err
	}
	if b.desc.Usage&core1_0.BufferUsageVertexBuffer == 0 {
		return invalidParameter("buffer %q was not created with vertex buffer usage", b.desc.Name)
	}
	if offset < 0 || offset >= b.desc.Size {
		return invalidParameter("vertex buffer offset %d is outside buffer %q of size %d", offset, b.desc.Name, b.desc.Size)
	}

	ctx.cmd().BindVertexBuffers([]driver.Buffer{b.native}, []int{offset})
	ctx.vertexBuffer = b
	return nil
}

// flushDescriptors issues the deferred descriptor set binds, one native call per contiguous run of
// pending sets
func (d *Device) flushDescriptors(ctx *cmdContext) {
	if !ctx.shouldBindDescriptors {
		return
	}

	k := ctx.kernel
	for set := 0; set < MaxDescriptorSets; set++ {
		if ctx.pendingMask&(1<<set) == 0 {
			continue
		}

		first := set
		for set < MaxDescriptorSets && ctx.pendingMask&(1<<set) != 0 {
			set++
		}
		ctx.cmd().BindDescriptorSets(k.bindPoint, k.program.pipelineLayout, first, ctx.pendingSets[first:set])
	}

	ctx.pendingSets = [MaxDescriptorSets]driver.DescriptorSet{}
	ctx.pendingMask = 0
	ctx.shouldBindDescriptors = false
}

// CmdDraw draws with the bound kernel inside the open render pass
func (d *Device) CmdDraw(h ContextHandle, vertexCount, instanceCount, firstVertex, firstInstance int) error {
	ctx, err := d.drawContext(h)
	if err != nil {
		return err
	}

	d.flushDescriptors(ctx)
	ctx.cmd().Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

func (d *Device) CmdDrawIndexed(h ContextHandle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) error {
	ctx, err := d.drawContext(h)
	if err != nil {
		return err
	}
	if ctx.indexBuffer == nil {
		return invalidOperation("indexed draw without an index buffer")
	}

	d.flushDescriptors(ctx)
	ctx.cmd().DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

func (d *Device) drawContext(h ContextHandle) (*cmdContext, error) {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return nil, err
	}
	if ctx.pass == nil {
		return nil, invalidOperation("draw outside a render pass")
	}
	if ctx.kernel == nil || ctx.kernel.bindPoint != core1_0.PipelineBindPointGraphics {
		return nil, invalidOperation("draw without a graphics kernel")
	}
	return ctx, nil
}

// CmdDispatch dispatches the bound compute kernel. It is invalid inside a render pass.
func (d *Device) CmdDispatch(h ContextHandle, x, y, z int) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.pass != nil {
		return invalidOperation("dispatch inside a render pass")
	}
	if ctx.kernel == nil || ctx.kernel.bindPoint != core1_0.PipelineBindPointCompute {
		return invalidOperation("dispatch without a compute kernel")
	}
	if x <= 0 || y <= 0 || z <= 0 {
		return invalidParameter("dispatch size %dx%dx%d must be positive", x, y, z)
	}

	d.flushDescriptors(ctx)
	ctx.cmd().Dispatch(x, y, z)
	return nil
}

// CmdCopyBuffer copies a byte range between buffers. This is the explicit staging path for GpuOnly
// buffers.
func (d *Device) CmdCopyBuffer(h ContextHandle, src, dst BufferHandle, srcOffset, dstOffset, size int) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.pass != nil {
		return invalidOperation("copy inside a render pass")
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	_, srcBuffer, err := d.lookupBuffer(src)
	if err != nil {
		return err
	}
	_, dstBuffer, err := d.lookupBuffer(dst)
	if err != nil {
		return err
	}
	if size <= 0 || srcOffset < 0 || dstOffset < 0 {
		return invalidParameter("copy of %d bytes from offset %d to offset %d", size, srcOffset, dstOffset)
	}
	if srcOffset+size > srcBuffer.desc.Size || dstOffset+size > dstBuffer.desc.Size {
		return invalidParameter("copy of %d bytes overruns buffer %q or %q", size, srcBuffer.desc.Name, dstBuffer.desc.Name)
	}

	err = ctx.cmd().CopyBuffer(srcBuffer.native, dstBuffer.native, srcOffset, dstOffset, size)
	if err != nil {
		return nativeError(err, "failed to record buffer copy")
	}
	return nil
}

// CmdPushConstants writes data to the named member of the bound kernel's push-constant block
func (d *Device) CmdPushConstants(h ContextHandle, name string, data []byte) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.kernel == nil {
		return invalidOperation("push constants without a kernel")
	}

	layout := ctx.kernel.program.layout
	constant, ok := layout.PushConstants[name]
	if !ok {
		return invalidParameter("program %q has no push constant %q", ctx.kernel.program.name, name)
	}
	if len(data) == 0 || len(data) > constant.Size || len(data)%4 != 0 {
		return invalidParameter("push constant %q holds %d bytes, received %d", name, constant.Size, len(data))
	}

	ctx.cmd().PushConstants(ctx.kernel.program.pipelineLayout, layout.PushConstantRange.StageFlags, constant.Offset, data)
	return nil
}
