// Package driver is the narrow set of native objects the hal core records against. The vulkan package
// implements it over vkngwrapper; the fake package implements it in memory.
package driver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var (
	// ErrOutOfDate is returned from Swapchain.AcquireNext and Swapchain.Present when the surface no longer
	// matches the swap chain
	ErrOutOfDate = errors.New("swap chain is out of date")
	// ErrPoolExhausted is returned from DescriptorPool.Allocate when the pool has no room for another set
	ErrPoolExhausted = errors.New("descriptor pool is exhausted")
	// ErrOutOfMemory is returned when the device or host has run out of memory
	ErrOutOfMemory = errors.New("out of device memory")
)

// QueueFamilyIgnored leaves a barrier's queue family ownership unchanged
const QueueFamilyIgnored = -1

// Object is any native object that is destroyed explicitly
type Object interface {
	Destroy()
}

type Sampler interface{ Object }
type ShaderModule interface{ Object }
type DescriptorSetLayout interface{ Object }
type PipelineLayout interface{ Object }
type RenderPass interface{ Object }
type Framebuffer interface{ Object }
type Pipeline interface{ Object }
type ImageView interface{ Object }
type Semaphore interface{ Object }

// DescriptorSet is owned by the pool it was allocated from and is never destroyed individually
type DescriptorSet interface{}

// QueueFamily describes one queue family of the physical device
type QueueFamily struct {
	Index   int
	Flags   core1_0.QueueFlags
	Present bool
}

// Memory is one device memory allocation
type Memory interface {
	Size() int
	// Map returns a host pointer to the start of the allocation. Mapping a mapped allocation returns the
	// existing pointer.
	Map() (unsafe.Pointer, error)
	Unmap()
	Free()
}

type Buffer interface {
	Object
	MemoryRequirements() core1_0.MemoryRequirements
	BindMemory(memory Memory, offset int) error
}

type Image interface {
	Object
	MemoryRequirements() core1_0.MemoryRequirements
	BindMemory(memory Memory, offset int) error
	CreateView(format core1_0.Format, aspect core1_0.ImageAspectFlags) (ImageView, error)
}

type DescriptorPool interface {
	Object
	// Allocate returns ErrPoolExhausted when the pool cannot hold another set of this layout
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
}

type CommandPool interface {
	Object
	Allocate(count int) ([]CmdBuffer, error)
	// Free returns command buffers allocated from this pool. They must not be pending execution.
	Free(buffers []CmdBuffer)
	Reset() error
}

type Fence interface {
	Object
	Wait() error
	Reset() error
}

// DescriptorWrite points one binding of a descriptor set at a buffer range, an image view, or a sampler
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding int
	Element int
	Type    core1_0.DescriptorType

	Buffer Buffer
	Offset int
	Range  int

	View   ImageView
	Layout core1_0.ImageLayout

	Sampler Sampler
}

type BufferBarrier struct {
	Buffer              Buffer
	SrcAccess           core1_0.AccessFlags
	DstAccess           core1_0.AccessFlags
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	Offset              int
	Size                int
}

type ImageBarrier struct {
	Image               Image
	SrcAccess           core1_0.AccessFlags
	DstAccess           core1_0.AccessFlags
	OldLayout           core1_0.ImageLayout
	NewLayout           core1_0.ImageLayout
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	Aspect              core1_0.ImageAspectFlags
	Levels              int
}

type CmdBuffer interface {
	Begin(oneTime bool) error
	End() error

	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, area core1_0.Rect2D, clears []core1_0.ClearValue) error
	EndRenderPass()
	SetViewport(viewport core1_0.Viewport)
	SetScissor(scissor core1_0.Rect2D)

	BindPipeline(bindPoint core1_0.PipelineBindPoint, pipeline Pipeline)
	BindVertexBuffers(buffers []Buffer, offsets []int)
	BindIndexBuffer(buffer Buffer, offset int, indexType core1_0.IndexType)
	BindDescriptorSets(bindPoint core1_0.PipelineBindPoint, layout PipelineLayout, firstSet int, sets []DescriptorSet)
	PushConstants(layout PipelineLayout, stages core1_0.ShaderStageFlags, offset int, data []byte)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance int)
	DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int)
	Dispatch(x, y, z int)

	PipelineBarrier(src, dst core1_0.PipelineStageFlags, buffers []BufferBarrier, images []ImageBarrier) error
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size int) error
	CopyBufferToImage(src Buffer, dst Image, layout core1_0.ImageLayout, region core1_0.BufferImageCopy) error
}

// Submission is one batch of command buffers for Queue.Submit
type Submission struct {
	Wait       []Semaphore
	WaitStages []core1_0.PipelineStageFlags
	CmdBuffers []CmdBuffer
	Signal     []Semaphore
}

type Queue interface {
	FamilyIndex() int
	Submit(submission Submission, fence Fence) error
	WaitIdle() error
}

type Swapchain interface {
	Object
	Format() core1_0.Format
	Extent() core1_0.Extent2D
	Images() []Image
	Views() []ImageView
	// AcquireNext signals the semaphore when the returned image is ready. It returns ErrOutOfDate when the
	// swap chain must be recreated.
	AcquireNext(signal Semaphore) (int, error)
	Present(queue Queue, wait []Semaphore, imageIndex int) error
}

// GraphicsPipelineDesc is the fixed-function and shader state of a graphics pipeline. Viewport and scissor
// are dynamic and set through CmdBuffer.
type GraphicsPipelineDesc struct {
	Layout     PipelineLayout
	RenderPass RenderPass

	Vertex         ShaderModule
	VertexEntry    string
	Fragment       ShaderModule
	FragmentEntry  string
	VertexBindings []core1_0.VertexInputBindingDescription
	Attributes     []core1_0.VertexInputAttributeDescription

	Topology      core1_0.PrimitiveTopology
	PolygonMode   core1_0.PolygonMode
	CullMode      core1_0.CullModeFlags
	FrontFace     core1_0.FrontFace
	Samples       core1_0.SampleCountFlags
	DepthTest     bool
	DepthWrite    bool
	DepthCompare  core1_0.CompareOp
	ColorTargets  int
	BlendEnabled  bool
	ColorBlendOp  core1_0.BlendOp
	SrcColorBlend core1_0.BlendFactor
	DstColorBlend core1_0.BlendFactor
}

type ComputePipelineDesc struct {
	Layout PipelineLayout
	Shader ShaderModule
	Entry  string
}

// GPU is the logical device along with the physical device properties the core consults
type GPU interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	Limits() *core1_0.PhysicalDeviceLimits
	QueueFamilies() []QueueFamily
	Queue(familyIndex int) Queue

	AllocateMemory(memoryTypeIndex int, size int) (Memory, error)
	CreateBuffer(info core1_0.BufferCreateInfo) (Buffer, error)
	CreateImage(info core1_0.ImageCreateInfo) (Image, error)
	CreateSampler(info core1_0.SamplerCreateInfo) (Sampler, error)
	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	CreatePipelineLayout(sets []DescriptorSetLayout, pushConstants []core1_0.PushConstantRange) (PipelineLayout, error)
	CreateRenderPass(info core1_0.RenderPassCreateInfo) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, views []ImageView, width, height int) (Framebuffer, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)
	CreateComputePipeline(desc ComputePipelineDesc) (Pipeline, error)
	CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (DescriptorPool, error)
	CreateCommandPool(familyIndex int) (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateSwapchain(width, height int, old Swapchain) (Swapchain, error)

	UpdateDescriptorSets(writes []DescriptorWrite)
	WaitIdle() error
	Destroy()
}
