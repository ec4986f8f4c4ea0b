package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/memutils/arena"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// TextureDesc describes a device-local sampled or storage image
type TextureDesc struct {
	Width     int
	Height    int
	Depth     int
	MipLevels int
	Format    core1_0.Format
	Usage     core1_0.ImageUsageFlags

	// InitialState is the state the texture is transitioned to after creation and upload
	InitialState ResourceState
	Name         string
}

type texture struct {
	desc   TextureDesc
	image  driver.Image
	view   driver.ImageView
	alloc  allocation
	aspect core1_0.ImageAspectFlags
}

func (t *texture) destroy(memory *heapMemory) {
	t.view.Destroy()
	t.image.Destroy()
	memory.free(t.alloc)
}

// CreateTexture creates a GpuOnly texture. When data is provided, it is uploaded to the first mip level
// through a transient staging buffer on the device's one-shot command buffer before the texture is moved
// to desc.InitialState. CreateTexture blocks until the upload completes.
func (d *Device) CreateTexture(heapHandle HeapHandle, desc TextureDesc, data []byte) (TextureHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return TextureHandle{}, err
	}

	desc.Depth = max(desc.Depth, 1)
	desc.MipLevels = max(desc.MipLevels, 1)
	if desc.Width <= 0 || desc.Height <= 0 {
		return TextureHandle{}, invalidParameter("texture %q extent %dx%d must be positive", desc.Name, desc.Width, desc.Height)
	}
	if desc.Format == core1_0.FormatUndefined {
		return TextureHandle{}, invalidParameter("texture %q has no format", desc.Name)
	}
	if len(data) > 0 {
		texel := texelSize(desc.Format)
		expected := desc.Width * desc.Height * desc.Depth * texel
		if texel == 0 {
			return TextureHandle{}, invalidParameter("texture %q format %s cannot be uploaded", desc.Name, desc.Format)
		} else if len(data) != expected {
			return TextureHandle{}, invalidParameter("texture %q expects %d bytes of data, received %d", desc.Name, expected, len(data))
		}
		desc.Usage |= core1_0.ImageUsageTransferDst
	}
	if desc.Usage == 0 {
		return TextureHandle{}, invalidParameter("texture %q has no usage flags", desc.Name)
	}

	imageType := core1_0.ImageType2D
	if desc.Depth > 1 {
		imageType = core1_0.ImageType3D
	}

	image, view, alloc, err := d.newImage(heap.memory, core1_0.ImageCreateInfo{
		ImageType:     imageType,
		Extent:        core1_0.Extent3D{Width: desc.Width, Height: desc.Height, Depth: desc.Depth},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   1,
		Format:        desc.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         desc.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return TextureHandle{}, err
	}

	t := &texture{
		desc:   desc,
		image:  image,
		view:   view,
		alloc:  alloc,
		aspect: formatAspect(desc.Format),
	}

	err = d.initializeTexture(t, data)
	if err != nil {
		t.destroy(heap.memory)
		return TextureHandle{}, err
	}

	id, err := heap.textures.insert(t)
	if err != nil {
		t.destroy(heap.memory)
		return TextureHandle{}, err
	}

	d.logger.Debug("Device::CreateTexture", slog.Int("Heap", int(heap.id)), slog.Int("Id", int(id)), slog.String("Name", desc.Name), slog.Int("Width", desc.Width), slog.Int("Height", desc.Height))
	return TextureHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) newImage(memory *heapMemory, info core1_0.ImageCreateInfo) (driver.Image, driver.ImageView, allocation, error) {
	image, err := d.gpu.CreateImage(info)
	if err != nil {
		return nil, nil, allocation{}, nativeError(err, "failed to create image")
	}

	alloc, err := memory.allocate(image.MemoryRequirements(), MemoryGpuOnly, arena.KindImageOptimal)
	if err != nil {
		image.Destroy()
		return nil, nil, allocation{}, err
	}

	err = memory.bindImage(image, alloc)
	if err != nil {
		image.Destroy()
		memory.free(alloc)
		return nil, nil, allocation{}, nativeError(err, "failed to bind image memory")
	}

	view, err := image.CreateView(info.Format, formatAspect(info.Format))
	if err != nil {
		image.Destroy()
		memory.free(alloc)
		return nil, nil, allocation{}, nativeError(err, "failed to create image view")
	}

	return image, view, alloc, nil
}

// initializeTexture uploads data, if any, and moves the texture into its initial state
func (d *Device) initializeTexture(t *texture, data []byte) error {
	if len(data) == 0 && t.desc.InitialState == barrier.StateUndefined {
		return nil
	}

	if len(data) == 0 {
		return d.immediate(func(cmd driver.CmdBuffer) error {
			return transitionImage(cmd, t.image, t.aspect, t.desc.MipLevels, barrier.StateUndefined, t.desc.InitialState)
		})
	}

	staging, err := d.newStagingBuffer(data)
	if err != nil {
		return err
	}
	defer staging.release()

	return d.immediate(func(cmd driver.CmdBuffer) error {
		err := transitionImage(cmd, t.image, t.aspect, t.desc.MipLevels, barrier.StateUndefined, barrier.StateCopyDst)
		if err != nil {
			return err
		}

		err = cmd.CopyBufferToImage(staging.buffer, t.image, core1_0.ImageLayoutTransferDstOptimal, core1_0.BufferImageCopy{
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask: t.aspect,
				LayerCount: 1,
			},
			ImageExtent: core1_0.Extent3D{Width: t.desc.Width, Height: t.desc.Height, Depth: t.desc.Depth},
		})
		if err != nil {
			return nativeError(err, "failed to copy texture %q data", t.desc.Name)
		}

		if t.desc.InitialState == barrier.StateCopyDst {
			return nil
		}
		return transitionImage(cmd, t.image, t.aspect, t.desc.MipLevels, barrier.StateCopyDst, t.desc.InitialState)
	})
}

func (d *Device) lookupTexture(h TextureHandle) (*resourceHeap, *texture, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, nil, err
	}
	t, ok := heap.textures.get(h.id)
	if !ok {
		return nil, nil, invalidParameter("texture %d does not exist in heap %d", h.id, h.heap)
	}
	return heap, t, nil
}

func (d *Device) DestroyTexture(h TextureHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	t, ok := heap.textures.erase(h.id)
	if !ok {
		return invalidParameter("texture %d does not exist in heap %d", h.id, h.heap)
	}

	d.logger.Debug("Device::DestroyTexture", slog.Int("Heap", int(h.heap)), slog.Int("Id", int(h.id)))
	t.destroy(heap.memory)
	return nil
}

// SamplerDesc describes a sampler. MaxAnisotropy of 0 disables anisotropic filtering; larger values are
// clamped to the device limit.
type SamplerDesc struct {
	MagFilter     core1_0.Filter
	MinFilter     core1_0.Filter
	MipmapMode    core1_0.SamplerMipmapMode
	AddressModeU  core1_0.SamplerAddressMode
	AddressModeV  core1_0.SamplerAddressMode
	AddressModeW  core1_0.SamplerAddressMode
	MaxAnisotropy float32
	BorderColor   core1_0.BorderColor
	MinLod        float32
	MaxLod        float32
	Name          string
}

type sampler struct {
	desc   SamplerDesc
	native driver.Sampler
}

func (d *Device) CreateSampler(heapHandle HeapHandle, desc SamplerDesc) (SamplerHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return SamplerHandle{}, err
	}
	if desc.MaxLod < desc.MinLod {
		return SamplerHandle{}, invalidParameter("sampler %q max lod %f is below min lod %f", desc.Name, desc.MaxLod, desc.MinLod)
	}

	anisotropy := min(desc.MaxAnisotropy, d.gpu.Limits().MaxSamplerAnisotropy)
	native, err := d.gpu.CreateSampler(core1_0.SamplerCreateInfo{
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,

		AnisotropyEnable: anisotropy > 1,
		MaxAnisotropy:    anisotropy,

		BorderColor: desc.BorderColor,

		MipmapMode: desc.MipmapMode,
		MinLod:     desc.MinLod,
		MaxLod:     desc.MaxLod,
	})
	if err != nil {
		return SamplerHandle{}, nativeError(err, "failed to create sampler %q", desc.Name)
	}

	id, err := heap.samplers.insert(&sampler{desc: desc, native: native})
	if err != nil {
		native.Destroy()
		return SamplerHandle{}, err
	}

	return SamplerHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) lookupSampler(h SamplerHandle) (*sampler, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, err
	}
	s, ok := heap.samplers.get(h.id)
	if !ok {
		return nil, invalidParameter("sampler %d does not exist in heap %d", h.id, h.heap)
	}
	return s, nil
}

func (d *Device) DestroySampler(h SamplerHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	s, ok := heap.samplers.erase(h.id)
	if !ok {
		return invalidParameter("sampler %d does not exist in heap %d", h.id, h.heap)
	}

	s.native.Destroy()
	return nil
}
