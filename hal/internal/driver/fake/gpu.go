// Package fake is an in-memory driver.GPU. Submitted work completes immediately, memory is backed by
// byte slices, and every object and command is recorded so tests can inspect what the core asked for.
package fake

import (
	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Options shapes the fake device
type Options struct {
	// SwapchainImages is the number of presentable images; 3 when zero
	SwapchainImages int
	// MemoryTypes overrides the default device-local plus host-visible memory types
	MemoryTypes []core1_0.MemoryType
	// MemoryLimit fails allocations once the total allocated bytes would exceed it; unlimited when zero
	MemoryLimit int
}

// GPU implements driver.GPU
type GPU struct {
	options   Options
	memory    core1_0.PhysicalDeviceMemoryProperties
	limits    core1_0.PhysicalDeviceLimits
	queues    map[int]*Queue
	nextID    int
	allocated int

	// Created counts objects by kind, Destroyed counts their destruction
	Created   map[string]int
	Destroyed map[string]int
	// Events is an ordered log of fence waits, submissions and presents
	Events []string
	// Writes is every descriptor write issued
	Writes []driver.DescriptorWrite

	Swapchains []*Swapchain
	Pools      []*DescriptorPool
	CmdPools   []*CommandPool
	Fences     []*Fence

	// FailNextAcquire makes the next swap chain acquire report an out-of-date surface
	FailNextAcquire bool
	WaitIdleCount   int
	destroyed       bool
}

var _ driver.GPU = &GPU{}

func New(options Options) *GPU {
	if options.SwapchainImages == 0 {
		options.SwapchainImages = 3
	}

	gpu := &GPU{
		options:   options,
		queues:    make(map[int]*Queue),
		Created:   make(map[string]int),
		Destroyed: make(map[string]int),
	}

	gpu.memory.MemoryHeaps = []core1_0.MemoryHeap{
		{Size: 1 << 30, Flags: core1_0.MemoryHeapDeviceLocal},
		{Size: 1 << 30},
	}
	gpu.memory.MemoryTypes = options.MemoryTypes
	if gpu.memory.MemoryTypes == nil {
		gpu.memory.MemoryTypes = []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
		}
	}

	gpu.limits.BufferImageGranularity = 1024
	gpu.limits.NonCoherentAtomSize = 64
	gpu.limits.MinUniformBufferOffsetAlignment = 256
	gpu.limits.MaxBoundDescriptorSets = 8
	gpu.limits.MaxSamplerAnisotropy = 16

	for _, family := range gpu.QueueFamilies() {
		gpu.queues[family.Index] = &Queue{gpu: gpu, family: family.Index}
	}

	return gpu
}

func (g *GPU) id(kind string) int {
	g.nextID++
	g.Created[kind]++
	return g.nextID
}

func (g *GPU) destroy(kind string) {
	g.Destroyed[kind]++
}

// Live returns the number of objects of a kind that have been created and not destroyed
func (g *GPU) Live(kind string) int {
	return g.Created[kind] - g.Destroyed[kind]
}

// AllocatedBytes returns the device memory currently allocated
func (g *GPU) AllocatedBytes() int {
	return g.allocated
}

func (g *GPU) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &g.memory
}

func (g *GPU) Limits() *core1_0.PhysicalDeviceLimits {
	return &g.limits
}

// QueueFamilies reports a universal family, a compute-only family and a transfer-only family
func (g *GPU) QueueFamilies() []driver.QueueFamily {
	return []driver.QueueFamily{
		{Index: 0, Flags: core1_0.QueueGraphics | core1_0.QueueCompute | core1_0.QueueTransfer, Present: true},
		{Index: 1, Flags: core1_0.QueueCompute | core1_0.QueueTransfer},
		{Index: 2, Flags: core1_0.QueueTransfer},
	}
}

func (g *GPU) Queue(familyIndex int) driver.Queue {
	queue, ok := g.queues[familyIndex]
	if !ok {
		return nil
	}
	return queue
}

func (g *GPU) AllocateMemory(memoryTypeIndex int, size int) (driver.Memory, error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(g.memory.MemoryTypes) {
		return nil, errors.Newf("memory type %d does not exist", memoryTypeIndex)
	}
	if g.options.MemoryLimit > 0 && g.allocated+size > g.options.MemoryLimit {
		return nil, errors.Wrapf(driver.ErrOutOfMemory, "allocating %d bytes", size)
	}

	g.allocated += size
	return &Memory{
		ID:        g.id("Memory"),
		gpu:       g,
		TypeIndex: memoryTypeIndex,
		Data:      make([]byte, size),
	}, nil
}

func (g *GPU) CreateBuffer(info core1_0.BufferCreateInfo) (driver.Buffer, error) {
	if info.Size <= 0 {
		return nil, errors.New("buffer size must be positive")
	}
	return &Buffer{ID: g.id("Buffer"), gpu: g, Info: info}, nil
}

func (g *GPU) CreateImage(info core1_0.ImageCreateInfo) (driver.Image, error) {
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return nil, errors.New("image extent must be positive")
	}
	return &Image{ID: g.id("Image"), gpu: g, Info: info}, nil
}

func (g *GPU) CreateSampler(info core1_0.SamplerCreateInfo) (driver.Sampler, error) {
	return &Object{ID: g.id("Sampler"), kind: "Sampler", gpu: g}, nil
}

func (g *GPU) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 {
		return nil, errors.New("shader module has no code")
	}
	return &Object{ID: g.id("ShaderModule"), kind: "ShaderModule", gpu: g}, nil
}

func (g *GPU) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	return &SetLayout{Object: Object{ID: g.id("DescriptorSetLayout"), kind: "DescriptorSetLayout", gpu: g}, Bindings: bindings}, nil
}

func (g *GPU) CreatePipelineLayout(sets []driver.DescriptorSetLayout, pushConstants []core1_0.PushConstantRange) (driver.PipelineLayout, error) {
	return &PipelineLayout{
		Object:        Object{ID: g.id("PipelineLayout"), kind: "PipelineLayout", gpu: g},
		Sets:          sets,
		PushConstants: pushConstants,
	}, nil
}

func (g *GPU) CreateRenderPass(info core1_0.RenderPassCreateInfo) (driver.RenderPass, error) {
	return &RenderPass{Object: Object{ID: g.id("RenderPass"), kind: "RenderPass", gpu: g}, Info: info}, nil
}

func (g *GPU) CreateFramebuffer(pass driver.RenderPass, views []driver.ImageView, width, height int) (driver.Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("framebuffer extent must be positive")
	}
	return &Framebuffer{
		Object: Object{ID: g.id("Framebuffer"), kind: "Framebuffer", gpu: g},
		Pass:   pass,
		Views:  views,
		Width:  width,
		Height: height,
	}, nil
}

func (g *GPU) CreateGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	if desc.Vertex == nil || desc.RenderPass == nil || desc.Layout == nil {
		return nil, errors.New("graphics pipeline requires a vertex shader, render pass and layout")
	}
	return &Pipeline{Object: Object{ID: g.id("Pipeline"), kind: "Pipeline", gpu: g}, Graphics: &desc}, nil
}

func (g *GPU) CreateComputePipeline(desc driver.ComputePipelineDesc) (driver.Pipeline, error) {
	if desc.Shader == nil || desc.Layout == nil {
		return nil, errors.New("compute pipeline requires a shader and layout")
	}
	return &Pipeline{Object: Object{ID: g.id("Pipeline"), kind: "Pipeline", gpu: g}, Compute: &desc}, nil
}

func (g *GPU) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (driver.DescriptorPool, error) {
	pool := &DescriptorPool{
		Object:  Object{ID: g.id("DescriptorPool"), kind: "DescriptorPool", gpu: g},
		MaxSets: info.MaxSets,
	}
	g.Pools = append(g.Pools, pool)
	return pool, nil
}

func (g *GPU) CreateCommandPool(familyIndex int) (driver.CommandPool, error) {
	if _, ok := g.queues[familyIndex]; !ok {
		return nil, errors.Newf("queue family %d does not exist", familyIndex)
	}
	pool := &CommandPool{Object: Object{ID: g.id("CommandPool"), kind: "CommandPool", gpu: g}, Family: familyIndex}
	g.CmdPools = append(g.CmdPools, pool)
	return pool, nil
}

func (g *GPU) CreateFence(signaled bool) (driver.Fence, error) {
	fence := &Fence{Object: Object{ID: g.id("Fence"), kind: "Fence", gpu: g}, Signaled: signaled}
	g.Fences = append(g.Fences, fence)
	return fence, nil
}

func (g *GPU) CreateSemaphore() (driver.Semaphore, error) {
	return &Object{ID: g.id("Semaphore"), kind: "Semaphore", gpu: g}, nil
}

func (g *GPU) CreateSwapchain(width, height int, old driver.Swapchain) (driver.Swapchain, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("swap chain extent must be positive")
	}

	swapchain := &Swapchain{
		Object: Object{ID: g.id("Swapchain"), kind: "Swapchain", gpu: g},
		extent: core1_0.Extent2D{Width: width, Height: height},
		next:   -1,
	}
	for i := 0; i < g.options.SwapchainImages; i++ {
		image := &Image{ID: g.id("SwapchainImage"), gpu: g, Info: core1_0.ImageCreateInfo{
			ImageType: core1_0.ImageType2D,
			Format:    core1_0.FormatB8G8R8A8SRGB,
			Extent:    core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		}, swapchain: true}
		view, err := image.CreateView(core1_0.FormatB8G8R8A8SRGB, core1_0.ImageAspectColor)
		if err != nil {
			return nil, err
		}
		swapchain.images = append(swapchain.images, image)
		swapchain.views = append(swapchain.views, view)
	}

	g.Swapchains = append(g.Swapchains, swapchain)
	return swapchain, nil
}

func (g *GPU) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	g.Writes = append(g.Writes, writes...)
}

func (g *GPU) WaitIdle() error {
	g.WaitIdleCount++
	g.Events = append(g.Events, "wait idle")
	return nil
}

func (g *GPU) Destroy() {
	g.destroyed = true
}

// IsDestroyed returns true once the device itself has been destroyed
func (g *GPU) IsDestroyed() bool {
	return g.destroyed
}
