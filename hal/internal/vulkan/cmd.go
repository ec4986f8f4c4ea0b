package vulkan

import (
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type cmdBuffer struct {
	device core1_0.DeviceDriver
	native core1_0.CommandBuffer
}

var _ driver.CmdBuffer = &cmdBuffer{}

func (c *cmdBuffer) Begin(oneTime bool) error {
	var flags core1_0.CommandBufferUsageFlags
	if oneTime {
		flags = core1_0.CommandBufferUsageOneTimeSubmit
	}
	res, err := c.device.BeginCommandBuffer(c.native, core1_0.CommandBufferBeginInfo{Flags: flags})
	return wrapResult(res, err, "failed to begin command buffer")
}

func (c *cmdBuffer) End() error {
	res, err := c.device.EndCommandBuffer(c.native)
	return wrapResult(res, err, "failed to end command buffer")
}

func (c *cmdBuffer) BeginRenderPass(pass driver.RenderPass, fb driver.Framebuffer, area core1_0.Rect2D, clears []core1_0.ClearValue) error {
	return c.device.CmdBeginRenderPass(c.native, core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.(*renderPass).native,
		Framebuffer: fb.(*framebuffer).native,
		RenderArea:  area,
		ClearValues: clears,
	})
}

func (c *cmdBuffer) EndRenderPass() {
	c.device.CmdEndRenderPass(c.native)
}

func (c *cmdBuffer) SetViewport(viewport core1_0.Viewport) {
	c.device.CmdSetViewport(c.native, viewport)
}

func (c *cmdBuffer) SetScissor(scissor core1_0.Rect2D) {
	c.device.CmdSetScissor(c.native, scissor)
}

func (c *cmdBuffer) BindPipeline(bindPoint core1_0.PipelineBindPoint, p driver.Pipeline) {
	c.device.CmdBindPipeline(c.native, bindPoint, p.(*pipeline).native)
}

func (c *cmdBuffer) BindVertexBuffers(buffers []driver.Buffer, offsets []int) {
	natives := make([]core1_0.Buffer, 0, len(buffers))
	for _, b := range buffers {
		natives = append(natives, b.(*buffer).native)
	}
	c.device.CmdBindVertexBuffers(c.native, 0, natives, offsets)
}

func (c *cmdBuffer) BindIndexBuffer(b driver.Buffer, offset int, indexType core1_0.IndexType) {
	c.device.CmdBindIndexBuffer(c.native, b.(*buffer).native, offset, indexType)
}

func (c *cmdBuffer) BindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout driver.PipelineLayout, firstSet int, sets []driver.DescriptorSet) {
	natives := make([]core1_0.DescriptorSet, 0, len(sets))
	for _, set := range sets {
		natives = append(natives, set.(core1_0.DescriptorSet))
	}
	c.device.CmdBindDescriptorSets(c.native, bindPoint, layout.(*pipelineLayout).native, firstSet, natives, nil)
}

func (c *cmdBuffer) PushConstants(layout driver.PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	c.device.CmdPushConstants(c.native, layout.(*pipelineLayout).native, stages, offset, data)
}

func (c *cmdBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.device.CmdDraw(c.native, vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (c *cmdBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	c.device.CmdDrawIndexed(c.native, indexCount, instanceCount, uint32(firstIndex), vertexOffset, uint32(firstInstance))
}

func (c *cmdBuffer) Dispatch(x, y, z int) {
	c.device.CmdDispatch(c.native, x, y, z)
}

func (c *cmdBuffer) PipelineBarrier(src, dst core1_0.PipelineStageFlags, buffers []driver.BufferBarrier, images []driver.ImageBarrier) error {
	bufferBarriers := make([]core1_0.BufferMemoryBarrier, 0, len(buffers))
	for _, b := range buffers {
		bufferBarriers = append(bufferBarriers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			Buffer:              b.Buffer.(*buffer).native,
			Offset:              b.Offset,
			Size:                b.Size,
		})
	}

	imageBarriers := make([]core1_0.ImageMemoryBarrier, 0, len(images))
	for _, i := range images {
		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       i.SrcAccess,
			DstAccessMask:       i.DstAccess,
			OldLayout:           i.OldLayout,
			NewLayout:           i.NewLayout,
			SrcQueueFamilyIndex: i.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: i.DstQueueFamilyIndex,
			Image:               i.Image.(*image).native,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask: i.Aspect,
				LevelCount: max(i.Levels, 1),
				LayerCount: 1,
			},
		})
	}

	return c.device.CmdPipelineBarrier(c.native, src, dst, 0, nil, bufferBarriers, imageBarriers)
}

func (c *cmdBuffer) CopyBuffer(src, dst driver.Buffer, srcOffset, dstOffset, size int) error {
	return c.device.CmdCopyBuffer(c.native, src.(*buffer).native, dst.(*buffer).native, core1_0.BufferCopy{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	})
}

func (c *cmdBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout core1_0.ImageLayout, region core1_0.BufferImageCopy) error {
	return c.device.CmdCopyBufferToImage(c.native, src.(*buffer).native, dst.(*image).native, layout, region)
}
