package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// LoadOp is what happens to a render target's contents when a render pass begins
type LoadOp int

const (
	LoadDontCare LoadOp = iota
	LoadLoad
	LoadClear
)

var loadOpNames = map[LoadOp]string{
	LoadDontCare: "DontCare",
	LoadLoad:     "Load",
	LoadClear:    "Clear",
}

func (o LoadOp) String() string {
	return loadOpNames[o]
}

func (o LoadOp) native() core1_0.AttachmentLoadOp {
	switch o {
	case LoadLoad:
		return core1_0.AttachmentLoadOpLoad
	case LoadClear:
		return core1_0.AttachmentLoadOpClear
	}
	return core1_0.AttachmentLoadOpDontCare
}

// ClearValue is the value a LoadClear target is cleared to. Color targets use Color; depth targets use
// Depth and Stencil.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderTargetDesc describes a color or depth attachment. Whether it is a depth target follows from
// Format.
type RenderTargetDesc struct {
	Width   int
	Height  int
	Format  core1_0.Format
	Samples core1_0.SampleCountFlags
	Load    LoadOp
	Clear   ClearValue

	// Usage adds image usages beyond attachment, such as sampling the target in a later pass
	Usage core1_0.ImageUsageFlags
	Name  string
}

type renderTarget struct {
	desc   RenderTargetDesc
	image  driver.Image
	view   driver.ImageView
	alloc  allocation
	aspect core1_0.ImageAspectFlags
	depth  bool

	// swapchain targets borrow their image and view from the swap chain
	swapchain bool
}

func (rt *renderTarget) destroy(memory *heapMemory) {
	if rt.swapchain {
		return
	}
	rt.view.Destroy()
	rt.image.Destroy()
	memory.free(rt.alloc)
}

func (rt *renderTarget) extent() core1_0.Extent2D {
	return core1_0.Extent2D{Width: rt.desc.Width, Height: rt.desc.Height}
}

// state is the resource state the target rests in between passes
func (rt *renderTarget) state() ResourceState {
	switch {
	case rt.swapchain:
		return barrier.StatePresent
	case rt.depth:
		return barrier.StateDepthWrite
	}
	return barrier.StateRenderTarget
}

// attachmentLayout is both the layout a pass leaves the target in and the layout a LoadLoad pass expects
func (rt *renderTarget) attachmentLayout() core1_0.ImageLayout {
	return barrier.ImageLayout(rt.state())
}

func (rt *renderTarget) clearValue() core1_0.ClearValue {
	if rt.depth {
		return core1_0.ClearValueDepthStencil{Depth: rt.desc.Clear.Depth, Stencil: rt.desc.Clear.Stencil}
	}
	c := rt.desc.Clear.Color
	return core1_0.ClearValueFloat{c[0], c[1], c[2], c[3]}
}

// CreateRenderTarget creates a GpuOnly attachment and transitions it to its attachment layout on the
// device's one-shot command buffer, so a LoadLoad pass may bind it immediately
func (d *Device) CreateRenderTarget(heapHandle HeapHandle, desc RenderTargetDesc) (RenderTargetHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return RenderTargetHandle{}, err
	}

	if desc.Width <= 0 || desc.Height <= 0 {
		return RenderTargetHandle{}, invalidParameter("render target %q extent %dx%d must be positive", desc.Name, desc.Width, desc.Height)
	}
	if desc.Format == core1_0.FormatUndefined {
		return RenderTargetHandle{}, invalidParameter("render target %q has no format", desc.Name)
	}
	if desc.Samples == 0 {
		desc.Samples = core1_0.Samples1
	}

	depth := isDepthFormat(desc.Format)
	usage := desc.Usage | core1_0.ImageUsageColorAttachment
	if depth {
		usage = desc.Usage | core1_0.ImageUsageDepthStencilAttachment
	}

	image, view, alloc, err := d.newImage(heap.memory, core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Extent:        core1_0.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        desc.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       desc.Samples,
	})
	if err != nil {
		return RenderTargetHandle{}, err
	}

	rt := &renderTarget{
		desc:   desc,
		image:  image,
		view:   view,
		alloc:  alloc,
		aspect: formatAspect(desc.Format),
		depth:  depth,
	}

	err = d.immediate(func(cmd driver.CmdBuffer) error {
		return transitionImage(cmd, rt.image, rt.aspect, 1, barrier.StateUndefined, rt.state())
	})
	if err != nil {
		rt.destroy(heap.memory)
		return RenderTargetHandle{}, err
	}

	id, err := heap.renderTargets.insert(rt)
	if err != nil {
		rt.destroy(heap.memory)
		return RenderTargetHandle{}, err
	}

	d.logger.Debug("Device::CreateRenderTarget", slog.Int("Heap", int(heap.id)), slog.Int("Id", int(id)), slog.String("Name", desc.Name), slog.String("Load", desc.Load.String()))
	return RenderTargetHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) lookupRenderTarget(h RenderTargetHandle) (*renderTarget, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, err
	}
	rt, ok := heap.renderTargets.get(h.id)
	if !ok {
		return nil, invalidParameter("render target %d does not exist in heap %d", h.id, h.heap)
	}
	return rt, nil
}

// DestroyRenderTarget destroys a render target along with every cached render pass it participates in.
// Swap chain targets are owned by the device.
func (d *Device) DestroyRenderTarget(h RenderTargetHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	rt, ok := heap.renderTargets.get(h.id)
	if !ok {
		return invalidParameter("render target %d does not exist in heap %d", h.id, h.heap)
	}
	if rt.swapchain {
		return invalidOperation("swap chain render target %d is owned by the device", h.id)
	}

	heap.renderTargets.erase(h.id)
	d.renderPasses.evictTarget(h)

	d.logger.Debug("Device::DestroyRenderTarget", slog.Int("Heap", int(h.heap)), slog.Int("Id", int(h.id)))
	rt.destroy(heap.memory)
	return nil
}
