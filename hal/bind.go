package hal

import (
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/hal/program"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// DescriptorWrite points one binding of a descriptor set at a resource. Which fields are read depends on
// the binding's descriptor type: buffers use Buffer, Offset and Range; images use Texture or
// RenderTarget; samplers use Sampler; combined image samplers use both.
type DescriptorWrite struct {
	Binding int
	// Element is the array element for arrayed bindings
	Element int

	Buffer BufferHandle
	Offset int
	// Range of zero covers the buffer from Offset to its end
	Range int

	Texture      TextureHandle
	RenderTarget RenderTargetHandle
	Sampler      SamplerHandle
}

// CmdBindDescriptorSet allocates a set for the bound kernel's layout at index set and writes it. The
// native bind is deferred to the next draw or dispatch, so several sets written before one draw are bound
// together.
func (d *Device) CmdBindDescriptorSet(h ContextHandle, set int, writes []DescriptorWrite) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.kernel == nil {
		return invalidOperation("descriptor set bound without a kernel")
	}

	p := ctx.kernel.program
	if set < 0 || set >= len(p.layout.Sets) {
		return invalidParameter("program %q has no descriptor set %d", p.name, set)
	}
	setLayout := p.layout.Sets[set]

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	nativeWrites := make([]driver.DescriptorWrite, 0, len(writes))
	for _, write := range writes {
		nativeWrite, err := d.resolveDescriptorWrite(setLayout, write)
		if err != nil {
			return err
		}
		nativeWrites = append(nativeWrites, nativeWrite)
	}

	descriptorSet, err := d.descriptors.allocate(ctx.slot, p.setLayouts[set])
	if err != nil {
		return err
	}
	for i := range nativeWrites {
		nativeWrites[i].Set = descriptorSet
	}
	if len(nativeWrites) > 0 {
		d.gpu.UpdateDescriptorSets(nativeWrites)
	}

	ctx.pendingSets[set] = descriptorSet
	ctx.pendingMask |= 1 << set
	ctx.shouldBindDescriptors = true
	return nil
}

func (d *Device) resolveDescriptorWrite(setLayout program.SetLayout, write DescriptorWrite) (driver.DescriptorWrite, error) {
	binding, ok := setLayout.Find(write.Binding)
	if !ok {
		return driver.DescriptorWrite{}, invalidParameter("descriptor set %d has no binding %d", setLayout.Set, write.Binding)
	}
	if write.Element < 0 || write.Element >= binding.Count {
		return driver.DescriptorWrite{}, invalidParameter("binding %d of set %d has %d elements, element %d written", write.Binding, setLayout.Set, binding.Count, write.Element)
	}

	out := driver.DescriptorWrite{
		Binding: write.Binding,
		Element: write.Element,
		Type:    binding.Type,
	}

	switch binding.Type {
	case core1_0.DescriptorTypeUniformBuffer, core1_0.DescriptorTypeStorageBuffer,
		core1_0.DescriptorTypeUniformBufferDynamic, core1_0.DescriptorTypeStorageBufferDynamic:
		_, b, err := d.lookupBuffer(write.Buffer)
		if err != nil {
			return out, err
		}
		size := write.Range
		if size == 0 {
			size = b.desc.Size - write.Offset
		}
		if write.Offset < 0 || size <= 0 || write.Offset+size > b.desc.Size {
			return out, invalidParameter("range [%d,+%d) is outside buffer %q of size %d", write.Offset, size, b.desc.Name, b.desc.Size)
		}
		out.Buffer = b.native
		out.Offset = write.Offset
		out.Range = size
	case core1_0.DescriptorTypeSampler:
		s, err := d.lookupSampler(write.Sampler)
		if err != nil {
			return out, err
		}
		out.Sampler = s.native
	case core1_0.DescriptorTypeSampledImage, core1_0.DescriptorTypeStorageImage, core1_0.DescriptorTypeCombinedImageSampler:
		view, err := d.resolveImageView(write)
		if err != nil {
			return out, err
		}
		out.View = view
		out.Layout = core1_0.ImageLayoutShaderReadOnlyOptimal
		if binding.Type == core1_0.DescriptorTypeStorageImage {
			out.Layout = core1_0.ImageLayoutGeneral
		}
		if binding.Type == core1_0.DescriptorTypeCombinedImageSampler {
			s, err := d.lookupSampler(write.Sampler)
			if err != nil {
				return out, err
			}
			out.Sampler = s.native
		}
	default:
		return out, invalidParameter("descriptor type %s of binding %d is not supported", binding.Type, write.Binding)
	}

	return out, nil
}

func (d *Device) resolveImageView(write DescriptorWrite) (driver.ImageView, error) {
	if write.Texture.Valid() {
		_, t, err := d.lookupTexture(write.Texture)
		if err != nil {
			return nil, err
		}
		return t.view, nil
	}

	rt, err := d.lookupRenderTarget(write.RenderTarget)
	if err != nil {
		return nil, err
	}
	return rt.view, nil
}
