package fake

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Command is one recorded command. Args holds the command's arguments in call order.
type Command struct {
	Name string
	Args []any
}

type CmdBuffer struct {
	ID       int
	Pool     *CommandPool
	Commands []Command
	Submits  int

	recording bool
	inPass    bool
	// submitted is set by Queue.Submit and cleared by CommandPool.Reset
	submitted bool
}

var _ driver.CmdBuffer = &CmdBuffer{}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func (c *CmdBuffer) record(name string, args ...any) {
	c.Commands = append(c.Commands, Command{Name: name, Args: args})
}

// Count returns the number of recorded commands with the given name
func (c *CmdBuffer) Count(name string) int {
	count := 0
	for _, command := range c.Commands {
		if command.Name == name {
			count++
		}
	}
	return count
}

// Find returns every recorded command with the given name
func (c *CmdBuffer) Find(name string) []Command {
	var out []Command
	for _, command := range c.Commands {
		if command.Name == name {
			out = append(out, command)
		}
	}
	return out
}

func (c *CmdBuffer) Begin(oneTime bool) error {
	if c.recording {
		return errors.Newf("command buffer %d is already recording", c.ID)
	}
	if c.submitted {
		return errors.Newf("command buffer %d was submitted and must be reset through its pool", c.ID)
	}
	c.recording = true
	c.Commands = nil
	return nil
}

func (c *CmdBuffer) End() error {
	if !c.recording {
		return errors.Newf("command buffer %d is not recording", c.ID)
	}
	if c.inPass {
		return errors.Newf("command buffer %d ended inside a render pass", c.ID)
	}
	c.recording = false
	return nil
}

func (c *CmdBuffer) BeginRenderPass(pass driver.RenderPass, framebuffer driver.Framebuffer, area core1_0.Rect2D, clears []core1_0.ClearValue) error {
	if c.inPass {
		return errors.New("render pass begun inside a render pass")
	}
	c.inPass = true
	c.record("BeginRenderPass", pass, framebuffer, area, clears)
	return nil
}

func (c *CmdBuffer) EndRenderPass() {
	c.inPass = false
	c.record("EndRenderPass")
}

func (c *CmdBuffer) SetViewport(viewport core1_0.Viewport) {
	c.record("SetViewport", viewport)
}

func (c *CmdBuffer) SetScissor(scissor core1_0.Rect2D) {
	c.record("SetScissor", scissor)
}

func (c *CmdBuffer) BindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline driver.Pipeline) {
	c.record("BindPipeline", bindPoint, pipeline)
}

func (c *CmdBuffer) BindVertexBuffers(buffers []driver.Buffer, offsets []int) {
	c.record("BindVertexBuffers", buffers, offsets)
}

func (c *CmdBuffer) BindIndexBuffer(buffer driver.Buffer, offset int, indexType core1_0.IndexType) {
	c.record("BindIndexBuffer", buffer, offset, indexType)
}

func (c *CmdBuffer) BindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout driver.PipelineLayout, firstSet int, sets []driver.DescriptorSet) {
	c.record("BindDescriptorSets", bindPoint, layout, firstSet, sets)
}

func (c *CmdBuffer) PushConstants(layout driver.PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte) {
	c.record("PushConstants", layout, stages, offset, append([]byte(nil), data...))
}

func (c *CmdBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.record("Draw", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CmdBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	c.record("DrawIndexed", indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CmdBuffer) Dispatch(x, y, z int) {
	c.record("Dispatch", x, y, z)
}

func (c *CmdBuffer) PipelineBarrier(src, dst core1_0.PipelineStageFlags, buffers []driver.BufferBarrier, images []driver.ImageBarrier) error {
	if c.inPass {
		return errors.New("pipeline barrier inside a render pass")
	}
	c.record("PipelineBarrier", src, dst, buffers, images)
	return nil
}

func (c *CmdBuffer) CopyBuffer(src, dst driver.Buffer, srcOffset, dstOffset, size int) error {
	c.record("CopyBuffer", src, dst, srcOffset, dstOffset, size)
	return nil
}

func (c *CmdBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout core1_0.ImageLayout, region core1_0.BufferImageCopy) error {
	c.record("CopyBufferToImage", src, dst, layout, region)
	return nil
}

// execute performs the recorded transfers against the fake memory
func (c *CmdBuffer) execute() {
	for _, command := range c.Commands {
		if command.Name != "CopyBuffer" {
			continue
		}
		src := command.Args[0].(*Buffer)
		dst := command.Args[1].(*Buffer)
		srcOffset := command.Args[2].(int)
		dstOffset := command.Args[3].(int)
		size := command.Args[4].(int)
		copy(dst.Bytes()[dstOffset:dstOffset+size], src.Bytes()[srcOffset:srcOffset+size])
	}
}
