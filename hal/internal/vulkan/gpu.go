package vulkan

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// GPU implements driver.GPU over a vkngwrapper logical device
type GPU struct {
	logger *slog.Logger

	device         core1_0.DeviceDriver
	physicalDevice core1_0.PhysicalDevice
	memory         *core1_0.PhysicalDeviceMemoryProperties
	limits         *core1_0.PhysicalDeviceLimits
	families       []driver.QueueFamily
	queues         map[int]*queue

	surface       khr_surface.Surface
	surfaceDriver khr_surface.ExtensionDriver
	swapchains    khr_swapchain.ExtensionDriver
}

var _ driver.GPU = &GPU{}

func queueFamilies(instance core1_0.CoreInstanceDriver, surfaceDriver khr_surface.ExtensionDriver, physicalDevice core1_0.PhysicalDevice, surface khr_surface.Surface) ([]driver.QueueFamily, error) {
	properties := instance.GetPhysicalDeviceQueueFamilyProperties(physicalDevice)

	families := make([]driver.QueueFamily, 0, len(properties))
	for index, family := range properties {
		present, _, err := surfaceDriver.GetPhysicalDeviceSurfaceSupport(surface, physicalDevice, index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query present support of queue family %d", index)
		}
		families = append(families, driver.QueueFamily{
			Index:   index,
			Flags:   family.QueueFlags,
			Present: present,
		})
	}
	return families, nil
}

func canPresent(families []driver.QueueFamily) bool {
	for _, family := range families {
		if family.Present && family.Flags&core1_0.QueueGraphics != 0 {
			return true
		}
	}
	return false
}

// CreateGPU creates a logical device on physicalDevice with one queue from every family, the swap chain
// extension and sampler anisotropy enabled
func CreateGPU(logger *slog.Logger, instance core1_0.CoreInstanceDriver, physicalDevice core1_0.PhysicalDevice, surface khr_surface.Surface) (*GPU, error) {
	surfaceDriver := khr_surface.CreateExtensionDriverFromCoreDriver(instance)
	families, err := queueFamilies(instance, surfaceDriver, physicalDevice, surface)
	if err != nil {
		return nil, err
	}
	if !canPresent(families) {
		return nil, errors.New("physical device has no queue family that can draw and present")
	}

	extensionNames := []string{khr_swapchain.ExtensionName}
	extensions, _, err := instance.EnumerateDeviceExtensionProperties(physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate device extensions")
	}
	if _, ok := extensions[khr_swapchain.ExtensionName]; !ok {
		return nil, errors.Newf("device extension %s is not available", khr_swapchain.ExtensionName)
	}
	if _, ok := extensions[khr_portability_subset.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	queueInfos := make([]core1_0.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family.Index,
			QueuePriorities:  []float32{1.0},
		})
	}

	features := instance.GetPhysicalDeviceFeatures(physicalDevice)
	device, _, err := instance.CreateDevice(physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueInfos,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: features.SamplerAnisotropy,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logical device")
	}

	gpu, err := newGPU(logger, device, physicalDevice, families)
	if err != nil {
		device.DestroyDevice(nil)
		return nil, err
	}
	gpu.surface = surface
	gpu.surfaceDriver = surfaceDriver
	gpu.swapchains = khr_swapchain.CreateExtensionDriverFromCoreDriver(device)
	return gpu, nil
}

func newGPU(logger *slog.Logger, device core1_0.DeviceDriver, physicalDevice core1_0.PhysicalDevice, families []driver.QueueFamily) (*GPU, error) {
	instance := device.InstanceDriver()

	properties, err := instance.GetPhysicalDeviceProperties(physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query physical device properties")
	}

	gpu := &GPU{
		logger:         logger,
		device:         device,
		physicalDevice: physicalDevice,
		memory:         instance.GetPhysicalDeviceMemoryProperties(physicalDevice),
		limits:         properties.Limits,
		families:       families,
		queues:         make(map[int]*queue),
	}

	for _, family := range families {
		gpu.queues[family.Index] = &queue{
			gpu:    gpu,
			family: family.Index,
			native: device.GetQueue(family.Index, 0),
		}
	}

	logger.Debug("GPU::New", slog.String("Device", properties.DeviceName), slog.Int("QueueFamilies", len(families)))
	return gpu, nil
}

func (g *GPU) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return g.memory
}

func (g *GPU) Limits() *core1_0.PhysicalDeviceLimits {
	return g.limits
}

func (g *GPU) QueueFamilies() []driver.QueueFamily {
	return g.families
}

func (g *GPU) Queue(familyIndex int) driver.Queue {
	q, ok := g.queues[familyIndex]
	if !ok {
		return nil
	}
	return q
}

func (g *GPU) AllocateMemory(memoryTypeIndex int, size int) (driver.Memory, error) {
	native, res, err := g.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to allocate %d bytes of memory type %d", size, memoryTypeIndex)
	}
	return &memory{device: g.device, native: native, size: size}, nil
}

func (g *GPU) CreateBuffer(info core1_0.BufferCreateInfo) (driver.Buffer, error) {
	native, res, err := g.device.CreateBuffer(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create buffer")
	}
	return &buffer{device: g.device, native: native}, nil
}

func (g *GPU) CreateImage(info core1_0.ImageCreateInfo) (driver.Image, error) {
	native, res, err := g.device.CreateImage(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create image")
	}
	return &image{device: g.device, native: native, info: info}, nil
}

func (g *GPU) CreateSampler(info core1_0.SamplerCreateInfo) (driver.Sampler, error) {
	native, res, err := g.device.CreateSampler(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create sampler")
	}
	return &sampler{device: g.device, native: native}, nil
}

func (g *GPU) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	native, res, err := g.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{Code: code})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create shader module")
	}
	return &shaderModule{device: g.device, native: native}, nil
}

func (g *GPU) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	native, res, err := g.device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{Bindings: bindings})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create descriptor set layout")
	}
	return &setLayout{device: g.device, native: native}, nil
}

func (g *GPU) CreatePipelineLayout(sets []driver.DescriptorSetLayout, pushConstants []core1_0.PushConstantRange) (driver.PipelineLayout, error) {
	nativeSets := make([]core1_0.DescriptorSetLayout, 0, len(sets))
	for _, set := range sets {
		nativeSets = append(nativeSets, set.(*setLayout).native)
	}

	native, res, err := g.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         nativeSets,
		PushConstantRanges: pushConstants,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create pipeline layout")
	}
	return &pipelineLayout{device: g.device, native: native}, nil
}

func (g *GPU) CreateRenderPass(info core1_0.RenderPassCreateInfo) (driver.RenderPass, error) {
	native, res, err := g.device.CreateRenderPass(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create render pass")
	}
	return &renderPass{device: g.device, native: native}, nil
}

func (g *GPU) CreateFramebuffer(pass driver.RenderPass, views []driver.ImageView, width, height int) (driver.Framebuffer, error) {
	attachments := make([]core1_0.ImageView, 0, len(views))
	for _, view := range views {
		attachments = append(attachments, view.(*imageView).native)
	}

	native, res, err := g.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass.(*renderPass).native,
		Attachments: attachments,
		Width:       width,
		Height:      height,
		Layers:      1,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create framebuffer")
	}
	return &framebuffer{device: g.device, native: native}, nil
}

func (g *GPU) CreateGraphicsPipeline(desc driver.GraphicsPipelineDesc) (driver.Pipeline, error) {
	stages := []core1_0.PipelineShaderStageCreateInfo{
		{
			Stage:  core1_0.StageVertex,
			Module: desc.Vertex.(*shaderModule).native,
			Name:   desc.VertexEntry,
		},
	}
	if desc.Fragment != nil {
		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageFragment,
			Module: desc.Fragment.(*shaderModule).native,
			Name:   desc.FragmentEntry,
		})
	}

	blendAttachments := make([]core1_0.PipelineColorBlendAttachmentState, desc.ColorTargets)
	for i := range blendAttachments {
		blendAttachments[i] = core1_0.PipelineColorBlendAttachmentState{
			BlendEnabled:        desc.BlendEnabled,
			SrcColorBlendFactor: desc.SrcColorBlend,
			DstColorBlendFactor: desc.DstColorBlend,
			ColorBlendOp:        desc.ColorBlendOp,
			SrcAlphaBlendFactor: core1_0.BlendFactorOne,
			DstAlphaBlendFactor: core1_0.BlendFactorZero,
			AlphaBlendOp:        core1_0.BlendOpAdd,
			ColorWriteMask:      core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
		}
	}

	pipelines, res, err := g.device.CreateGraphicsPipelines(nil, nil, core1_0.GraphicsPipelineCreateInfo{
		Stages: stages,
		VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   desc.VertexBindings,
			VertexAttributeDescriptions: desc.Attributes,
		},
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology: desc.Topology,
		},
		// Counts only, the values come from CmdSetViewport and CmdSetScissor
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{MaxDepth: 1}},
			Scissors:  []core1_0.Rect2D{{}},
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			PolygonMode: desc.PolygonMode,
			CullMode:    desc.CullMode,
			FrontFace:   desc.FrontFace,
			LineWidth:   1.0,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			RasterizationSamples: desc.Samples,
			MinSampleShading:     1.0,
		},
		DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  desc.DepthTest,
			DepthWriteEnable: desc.DepthWrite,
			DepthCompareOp:   desc.DepthCompare,
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOp:     core1_0.LogicOpCopy,
			Attachments: blendAttachments,
		},
		Layout:            desc.Layout.(*pipelineLayout).native,
		RenderPass:        desc.RenderPass.(*renderPass).native,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create graphics pipeline")
	}
	return &pipeline{device: g.device, native: pipelines[0]}, nil
}

func (g *GPU) CreateComputePipeline(desc driver.ComputePipelineDesc) (driver.Pipeline, error) {
	pipelines, res, err := g.device.CreateComputePipelines(nil, nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: desc.Shader.(*shaderModule).native,
			Name:   desc.Entry,
		},
		Layout:            desc.Layout.(*pipelineLayout).native,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create compute pipeline")
	}
	return &pipeline{device: g.device, native: pipelines[0]}, nil
}

func (g *GPU) CreateDescriptorPool(info core1_0.DescriptorPoolCreateInfo) (driver.DescriptorPool, error) {
	native, res, err := g.device.CreateDescriptorPool(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create descriptor pool")
	}
	return &descriptorPool{device: g.device, native: native}, nil
}

func (g *GPU) CreateCommandPool(familyIndex int) (driver.CommandPool, error) {
	native, res, err := g.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: familyIndex,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create command pool for queue family %d", familyIndex)
	}
	return &commandPool{device: g.device, native: native}, nil
}

func (g *GPU) CreateFence(signaled bool) (driver.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	native, res, err := g.device.CreateFence(nil, core1_0.FenceCreateInfo{Flags: flags})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create fence")
	}
	return &fence{device: g.device, native: native}, nil
}

func (g *GPU) CreateSemaphore() (driver.Semaphore, error) {
	native, res, err := g.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create semaphore")
	}
	return &semaphore{device: g.device, native: native}, nil
}

func (g *GPU) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	natives := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, write := range writes {
		native := core1_0.WriteDescriptorSet{
			DstSet:          write.Set.(core1_0.DescriptorSet),
			DstBinding:      write.Binding,
			DstArrayElement: write.Element,
			DescriptorType:  write.Type,
		}

		switch {
		case write.Buffer != nil:
			native.BufferInfo = []core1_0.DescriptorBufferInfo{{
				Buffer: write.Buffer.(*buffer).native,
				Offset: write.Offset,
				Range:  write.Range,
			}}
		default:
			info := core1_0.DescriptorImageInfo{ImageLayout: write.Layout}
			if write.View != nil {
				info.ImageView = write.View.(*imageView).native
			}
			if write.Sampler != nil {
				info.Sampler = write.Sampler.(*sampler).native
			}
			native.ImageInfo = []core1_0.DescriptorImageInfo{info}
		}
		natives = append(natives, native)
	}

	err := g.device.UpdateDescriptorSets(natives, nil)
	if err != nil {
		g.logger.Error("GPU::UpdateDescriptorSets", slog.Any("error", err))
	}
}

func (g *GPU) WaitIdle() error {
	res, err := g.device.DeviceWaitIdle()
	return wrapResult(res, err, "failed to wait for device idle")
}

// Destroy destroys the logical device. The surface belongs to the host.
func (g *GPU) Destroy() {
	g.device.DestroyDevice(nil)
}

type queue struct {
	gpu    *GPU
	family int
	native core1_0.Queue
}

func (q *queue) FamilyIndex() int {
	return q.family
}

func (q *queue) Submit(submission driver.Submission, signal driver.Fence) error {
	info := core1_0.SubmitInfo{
		WaitDstStageMask: submission.WaitStages,
	}
	for _, wait := range submission.Wait {
		info.WaitSemaphores = append(info.WaitSemaphores, wait.(*semaphore).native)
	}
	for _, cmd := range submission.CmdBuffers {
		info.CommandBuffers = append(info.CommandBuffers, cmd.(*cmdBuffer).native)
	}
	for _, sig := range submission.Signal {
		info.SignalSemaphores = append(info.SignalSemaphores, sig.(*semaphore).native)
	}

	var nativeFence *core1_0.Fence
	if signal != nil {
		nativeFence = &signal.(*fence).native
	}

	res, err := q.gpu.device.QueueSubmit(q.native, nativeFence, info)
	return wrapResult(res, err, "failed to submit to queue family %d", q.family)
}

func (q *queue) WaitIdle() error {
	res, err := q.gpu.device.QueueWaitIdle(q.native)
	return wrapResult(res, err, "failed to wait for queue family %d", q.family)
}
