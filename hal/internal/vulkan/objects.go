package vulkan

import (
	"unsafe"

	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type memory struct {
	device core1_0.DeviceDriver
	native core1_0.DeviceMemory
	size   int
	mapped unsafe.Pointer
}

func (m *memory) Size() int {
	return m.size
}

func (m *memory) Map() (unsafe.Pointer, error) {
	if m.mapped != nil {
		return m.mapped, nil
	}
	ptr, res, err := m.device.MapMemory(m.native, 0, m.size, 0)
	if err != nil {
		return nil, wrapResult(res, err, "failed to map %d bytes", m.size)
	}
	m.mapped = ptr
	return ptr, nil
}

func (m *memory) Unmap() {
	if m.mapped == nil {
		return
	}
	m.device.UnmapMemory(m.native)
	m.mapped = nil
}

func (m *memory) Free() {
	m.device.FreeMemory(m.native, nil)
}

type buffer struct {
	device core1_0.DeviceDriver
	native core1_0.Buffer
}

func (b *buffer) Destroy() {
	b.device.DestroyBuffer(b.native, nil)
}

func (b *buffer) MemoryRequirements() core1_0.MemoryRequirements {
	return *b.device.GetBufferMemoryRequirements(b.native)
}

func (b *buffer) BindMemory(mem driver.Memory, offset int) error {
	res, err := b.device.BindBufferMemory(b.native, mem.(*memory).native, offset)
	return wrapResult(res, err, "failed to bind buffer memory at offset %d", offset)
}

type image struct {
	device core1_0.DeviceDriver
	native core1_0.Image
	info   core1_0.ImageCreateInfo
	// borrowed images belong to a swap chain
	borrowed bool
}

func (i *image) Destroy() {
	if i.borrowed {
		return
	}
	i.device.DestroyImage(i.native, nil)
}

func (i *image) MemoryRequirements() core1_0.MemoryRequirements {
	return *i.device.GetImageMemoryRequirements(i.native)
}

func (i *image) BindMemory(mem driver.Memory, offset int) error {
	res, err := i.device.BindImageMemory(i.native, mem.(*memory).native, offset)
	return wrapResult(res, err, "failed to bind image memory at offset %d", offset)
}

func (i *image) CreateView(format core1_0.Format, aspect core1_0.ImageAspectFlags) (driver.ImageView, error) {
	viewType := core1_0.ImageViewType2D
	if i.info.ImageType == core1_0.ImageType3D {
		viewType = core1_0.ImageViewType3D
	}

	levels := max(i.info.MipLevels, 1)
	layers := max(i.info.ArrayLayers, 1)
	native, res, err := i.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    i.native,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: levels,
			LayerCount: layers,
		},
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to create image view")
	}
	return &imageView{device: i.device, native: native}, nil
}

type imageView struct {
	device core1_0.DeviceDriver
	native core1_0.ImageView
}

func (v *imageView) Destroy() {
	v.device.DestroyImageView(v.native, nil)
}

type sampler struct {
	device core1_0.DeviceDriver
	native core1_0.Sampler
}

func (s *sampler) Destroy() {
	s.device.DestroySampler(s.native, nil)
}

type shaderModule struct {
	device core1_0.DeviceDriver
	native core1_0.ShaderModule
}

func (m *shaderModule) Destroy() {
	m.device.DestroyShaderModule(m.native, nil)
}

type setLayout struct {
	device core1_0.DeviceDriver
	native core1_0.DescriptorSetLayout
}

func (l *setLayout) Destroy() {
	l.device.DestroyDescriptorSetLayout(l.native, nil)
}

type pipelineLayout struct {
	device core1_0.DeviceDriver
	native core1_0.PipelineLayout
}

func (l *pipelineLayout) Destroy() {
	l.device.DestroyPipelineLayout(l.native, nil)
}

type renderPass struct {
	device core1_0.DeviceDriver
	native core1_0.RenderPass
}

func (p *renderPass) Destroy() {
	p.device.DestroyRenderPass(p.native, nil)
}

type framebuffer struct {
	device core1_0.DeviceDriver
	native core1_0.Framebuffer
}

func (f *framebuffer) Destroy() {
	f.device.DestroyFramebuffer(f.native, nil)
}

type pipeline struct {
	device core1_0.DeviceDriver
	native core1_0.Pipeline
}

func (p *pipeline) Destroy() {
	p.device.DestroyPipeline(p.native, nil)
}

type semaphore struct {
	device core1_0.DeviceDriver
	native core1_0.Semaphore
}

func (s *semaphore) Destroy() {
	s.device.DestroySemaphore(s.native, nil)
}

type fence struct {
	device core1_0.DeviceDriver
	native core1_0.Fence
}

func (f *fence) Destroy() {
	f.device.DestroyFence(f.native, nil)
}

func (f *fence) Wait() error {
	res, err := f.device.WaitForFences(true, common.NoTimeout, f.native)
	return wrapResult(res, err, "failed to wait for fence")
}

func (f *fence) Reset() error {
	res, err := f.device.ResetFences(f.native)
	return wrapResult(res, err, "failed to reset fence")
}

type descriptorPool struct {
	device core1_0.DeviceDriver
	native core1_0.DescriptorPool
}

func (p *descriptorPool) Destroy() {
	p.device.DestroyDescriptorPool(p.native, nil)
}

func (p *descriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	sets, res, err := p.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.native,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout.(*setLayout).native},
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to allocate descriptor set")
	}
	return sets[0], nil
}

func (p *descriptorPool) Reset() error {
	res, err := p.device.ResetDescriptorPool(p.native, 0)
	return wrapResult(res, err, "failed to reset descriptor pool")
}

type commandPool struct {
	device core1_0.DeviceDriver
	native core1_0.CommandPool
}

func (p *commandPool) Destroy() {
	p.device.DestroyCommandPool(p.native, nil)
}

func (p *commandPool) Allocate(count int) ([]driver.CmdBuffer, error) {
	natives, res, err := p.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.native,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, wrapResult(res, err, "failed to allocate %d command buffers", count)
	}

	out := make([]driver.CmdBuffer, 0, count)
	for _, native := range natives {
		out = append(out, &cmdBuffer{device: p.device, native: native})
	}
	return out, nil
}

func (p *commandPool) Free(buffers []driver.CmdBuffer) {
	natives := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		natives = append(natives, buffer.(*cmdBuffer).native)
	}
	p.device.FreeCommandBuffers(natives...)
}

func (p *commandPool) Reset() error {
	res, err := p.device.ResetCommandPool(p.native, 0)
	return wrapResult(res, err, "failed to reset command pool")
}
