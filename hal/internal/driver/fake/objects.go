package fake

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slices"
)

// Object is any fake native object with no behavior beyond destruction
type Object struct {
	ID        int
	kind      string
	gpu       *GPU
	Destroyed bool
}

func (o *Object) Destroy() {
	if o.Destroyed {
		panic(errors.Newf("%s %d destroyed twice", o.kind, o.ID))
	}
	o.Destroyed = true
	o.gpu.destroy(o.kind)
}

type Memory struct {
	ID        int
	gpu       *GPU
	TypeIndex int
	Data      []byte
	Mapped    bool
	Freed     bool
}

func (m *Memory) Size() int {
	return len(m.Data)
}

func (m *Memory) Map() (unsafe.Pointer, error) {
	if m.gpu.memory.MemoryTypes[m.TypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("memory type %d is not host visible", m.TypeIndex)
	}
	m.Mapped = true
	return unsafe.Pointer(&m.Data[0]), nil
}

func (m *Memory) Unmap() {
	m.Mapped = false
}

func (m *Memory) Free() {
	if m.Freed {
		panic(errors.Newf("memory %d freed twice", m.ID))
	}
	m.Freed = true
	m.gpu.allocated -= len(m.Data)
	m.gpu.destroy("Memory")
}

// binding is the memory range a buffer or image is bound to
type binding struct {
	Memory *Memory
	Offset int
}

func (b *binding) bind(memory driver.Memory, offset, size int) error {
	if b.Memory != nil {
		return errors.New("object is already bound to memory")
	}
	fakeMemory := memory.(*Memory)
	if offset+size > len(fakeMemory.Data) {
		return errors.Newf("binding [%d,+%d) overruns memory of size %d", offset, size, len(fakeMemory.Data))
	}
	b.Memory = fakeMemory
	b.Offset = offset
	return nil
}

type Buffer struct {
	binding
	ID        int
	gpu       *GPU
	Info      core1_0.BufferCreateInfo
	Destroyed bool
}

func (b *Buffer) MemoryRequirements() core1_0.MemoryRequirements {
	return core1_0.MemoryRequirements{
		Size:           b.Info.Size,
		Alignment:      256,
		MemoryTypeBits: 1<<len(b.gpu.memory.MemoryTypes) - 1,
	}
}

func (b *Buffer) BindMemory(memory driver.Memory, offset int) error {
	return b.bind(memory, offset, b.Info.Size)
}

// Bytes returns the bound memory backing the buffer
func (b *Buffer) Bytes() []byte {
	if b.Memory == nil {
		return nil
	}
	return b.Memory.Data[b.Offset : b.Offset+b.Info.Size]
}

func (b *Buffer) Destroy() {
	b.Destroyed = true
	b.gpu.destroy("Buffer")
}

type Image struct {
	binding
	ID        int
	gpu       *GPU
	Info      core1_0.ImageCreateInfo
	Destroyed bool
	swapchain bool
}

func (i *Image) size() int {
	return i.Info.Extent.Width * i.Info.Extent.Height * max(i.Info.Extent.Depth, 1) * 4
}

func (i *Image) MemoryRequirements() core1_0.MemoryRequirements {
	return core1_0.MemoryRequirements{
		Size:      i.size(),
		Alignment: 4096,
		// Images may not live in host-visible memory
		MemoryTypeBits: 1,
	}
}

func (i *Image) BindMemory(memory driver.Memory, offset int) error {
	return i.bind(memory, offset, i.size())
}

func (i *Image) CreateView(format core1_0.Format, aspect core1_0.ImageAspectFlags) (driver.ImageView, error) {
	return &ImageView{
		Object: Object{ID: i.gpu.id("ImageView"), kind: "ImageView", gpu: i.gpu},
		Image:  i,
		Format: format,
		Aspect: aspect,
	}, nil
}

func (i *Image) Destroy() {
	if i.swapchain {
		panic(errors.New("swap chain images are owned by the swap chain"))
	}
	i.Destroyed = true
	i.gpu.destroy("Image")
}

type ImageView struct {
	Object
	Image  *Image
	Format core1_0.Format
	Aspect core1_0.ImageAspectFlags
}

type SetLayout struct {
	Object
	Bindings []core1_0.DescriptorSetLayoutBinding
}

type PipelineLayout struct {
	Object
	Sets          []driver.DescriptorSetLayout
	PushConstants []core1_0.PushConstantRange
}

type RenderPass struct {
	Object
	Info core1_0.RenderPassCreateInfo
}

type Framebuffer struct {
	Object
	Pass   driver.RenderPass
	Views  []driver.ImageView
	Width  int
	Height int
}

type Pipeline struct {
	Object
	Graphics *driver.GraphicsPipelineDesc
	Compute  *driver.ComputePipelineDesc
}

// DescriptorSet remembers the pool and layout it was allocated with
type DescriptorSet struct {
	ID     int
	Pool   *DescriptorPool
	Layout driver.DescriptorSetLayout
}

type DescriptorPool struct {
	Object
	MaxSets   int
	Allocated int
	Resets    int
}

func (p *DescriptorPool) Allocate(layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	if p.Allocated >= p.MaxSets {
		return nil, errors.Wrapf(driver.ErrPoolExhausted, "pool %d holds %d sets", p.ID, p.MaxSets)
	}
	p.Allocated++
	p.gpu.nextID++
	return &DescriptorSet{ID: p.gpu.nextID, Pool: p, Layout: layout}, nil
}

func (p *DescriptorPool) Reset() error {
	p.Allocated = 0
	p.Resets++
	return nil
}

type CommandPool struct {
	Object
	Family  int
	Buffers []*CmdBuffer
	Resets  int
	Freed   int
}

func (p *CommandPool) Allocate(count int) ([]driver.CmdBuffer, error) {
	out := make([]driver.CmdBuffer, 0, count)
	for i := 0; i < count; i++ {
		p.gpu.nextID++
		buffer := &CmdBuffer{ID: p.gpu.nextID, Pool: p}
		p.Buffers = append(p.Buffers, buffer)
		out = append(out, buffer)
	}
	return out, nil
}

// Free drops the buffers from the pool. Freeing a buffer that is recording or was never allocated here panics.
func (p *CommandPool) Free(buffers []driver.CmdBuffer) {
	for _, cmd := range buffers {
		buffer := cmd.(*CmdBuffer)
		index := slices.Index(p.Buffers, buffer)
		if index < 0 {
			panic(errors.Newf("command buffer %d does not belong to command pool %d", buffer.ID, p.ID))
		}
		if buffer.recording {
			panic(errors.Newf("command buffer %d freed while recording", buffer.ID))
		}
		p.Buffers = slices.Delete(p.Buffers, index, index+1)
		p.Freed++
	}
}

func (p *CommandPool) Reset() error {
	p.Resets++
	for _, buffer := range p.Buffers {
		buffer.Commands = nil
		buffer.recording = false
		buffer.submitted = false
	}
	return nil
}

type Fence struct {
	Object
	Signaled bool
	Waits    int
}

func (f *Fence) Wait() error {
	f.Waits++
	f.gpu.Events = append(f.gpu.Events, "wait fence "+itoa(f.ID))
	if !f.Signaled {
		return errors.Newf("fence %d would never signal", f.ID)
	}
	return nil
}

func (f *Fence) Reset() error {
	f.Signaled = false
	return nil
}

type Queue struct {
	gpu    *GPU
	family int

	Submissions []driver.Submission
}

func (q *Queue) FamilyIndex() int {
	return q.family
}

// Submit executes the submitted command buffers immediately and signals the fence
func (q *Queue) Submit(submission driver.Submission, fence driver.Fence) error {
	for _, cmd := range submission.CmdBuffers {
		buffer := cmd.(*CmdBuffer)
		if buffer.recording {
			return errors.Newf("command buffer %d is still recording", buffer.ID)
		}
		buffer.execute()
		buffer.Submits++
		buffer.submitted = true
	}
	q.Submissions = append(q.Submissions, submission)
	q.gpu.Events = append(q.gpu.Events, "submit "+itoa(q.family))

	if fence != nil {
		fakeFence := fence.(*Fence)
		if fakeFence.Signaled {
			return errors.Newf("fence %d submitted while signaled", fakeFence.ID)
		}
		fakeFence.Signaled = true
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	return nil
}

type Swapchain struct {
	Object
	extent core1_0.Extent2D
	images []driver.Image
	views  []driver.ImageView
	next   int

	Presents int
}

func (s *Swapchain) Format() core1_0.Format {
	return core1_0.FormatB8G8R8A8SRGB
}

func (s *Swapchain) Extent() core1_0.Extent2D {
	return s.extent
}

func (s *Swapchain) Images() []driver.Image {
	return s.images
}

func (s *Swapchain) Views() []driver.ImageView {
	return s.views
}

func (s *Swapchain) AcquireNext(signal driver.Semaphore) (int, error) {
	if s.gpu.FailNextAcquire {
		s.gpu.FailNextAcquire = false
		return 0, driver.ErrOutOfDate
	}
	s.next = (s.next + 1) % len(s.images)
	s.gpu.Events = append(s.gpu.Events, "acquire "+itoa(s.next))
	return s.next, nil
}

func (s *Swapchain) Present(queue driver.Queue, wait []driver.Semaphore, imageIndex int) error {
	s.Presents++
	s.gpu.Events = append(s.gpu.Events, "present "+itoa(imageIndex))
	return nil
}

func (s *Swapchain) Destroy() {
	for _, view := range s.views {
		view.Destroy()
	}
	s.Object.Destroy()
}
