package hal

import (
	"log/slog"

	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// GraphicsKernelDesc is the fixed-function state of a graphics pipeline. The attachment formats and
// sample count must match the render targets bound when the kernel is used. Zero values select triangle
// lists, filled polygons, no culling, counter-clockwise front faces and a single sample. Viewport and
// scissor are not part of the kernel; CmdBindRenderTargets sets them from the bound targets.
type GraphicsKernelDesc struct {
	Program      ProgramHandle
	ColorFormats []core1_0.Format
	DepthFormat  core1_0.Format
	Samples      core1_0.SampleCountFlags

	Topology    core1_0.PrimitiveTopology
	PolygonMode core1_0.PolygonMode
	CullMode    core1_0.CullModeFlags
	FrontFace   core1_0.FrontFace

	DepthTest  bool
	DepthWrite bool
	// DepthCompare defaults to less-or-equal
	DepthCompare core1_0.CompareOp

	// Blend enables source-alpha blending on every color target
	Blend bool

	Name string
}

type ComputeKernelDesc struct {
	Program ProgramHandle
	Name    string
}

type kernel struct {
	name      string
	program   *shaderProgram
	pipeline  driver.Pipeline
	bindPoint core1_0.PipelineBindPoint
}

func (k *kernel) destroy() {
	k.pipeline.Destroy()
	k.program.kernels--
}

// kernelProgram resolves a kernel's program, which must live in the kernel's heap
func (d *Device) kernelProgram(heap *resourceHeap, h ProgramHandle) (*shaderProgram, error) {
	if h.heap != heap.id {
		return nil, invalidParameter("program %d belongs to heap %d, not heap %d", h.id, h.heap, heap.id)
	}
	p, ok := heap.programs.get(h.id)
	if !ok {
		return nil, invalidParameter("program %d does not exist in heap %d", h.id, h.heap)
	}
	return p, nil
}

// CreateGraphicsKernel creates a graphics pipeline. A throwaway render pass built from the desc's
// attachment formats satisfies pipeline creation and is destroyed before returning; any cached pass with
// the same formats and sample count is compatible with the result.
func (d *Device) CreateGraphicsKernel(heapHandle HeapHandle, desc GraphicsKernelDesc) (KernelHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return KernelHandle{}, err
	}
	p, err := d.kernelProgram(heap, desc.Program)
	if err != nil {
		return KernelHandle{}, err
	}
	if p.compute() {
		return KernelHandle{}, invalidParameter("program %q is a compute program", p.name)
	}
	if len(desc.ColorFormats) > MaxColorTargets {
		return KernelHandle{}, invalidParameter("kernel %q has %d color targets, the limit is %d", desc.Name, len(desc.ColorFormats), MaxColorTargets)
	}
	if len(desc.ColorFormats) == 0 && desc.DepthFormat == core1_0.FormatUndefined {
		return KernelHandle{}, invalidParameter("kernel %q has no attachments", desc.Name)
	}

	if desc.Samples == 0 {
		desc.Samples = core1_0.Samples1
	}
	if desc.Topology == core1_0.PrimitiveTopologyPointList {
		desc.Topology = core1_0.PrimitiveTopologyTriangleList
	}
	if desc.DepthCompare == core1_0.CompareOpNever {
		desc.DepthCompare = core1_0.CompareOpLessOrEqual
	}

	colors := make([]attachment, 0, len(desc.ColorFormats))
	for _, format := range desc.ColorFormats {
		colors = append(colors, attachment{
			format:  format,
			samples: desc.Samples,
			layout:  core1_0.ImageLayoutColorAttachmentOptimal,
		})
	}
	var depth *attachment
	if desc.DepthFormat != core1_0.FormatUndefined {
		depth = &attachment{
			format:  desc.DepthFormat,
			samples: desc.Samples,
			depth:   true,
			layout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	pass, err := d.gpu.CreateRenderPass(renderPassInfo(colors, depth))
	if err != nil {
		return KernelHandle{}, nativeError(err, "failed to create render pass for kernel %q", desc.Name)
	}
	defer pass.Destroy()

	vertex, _ := p.stage(core1_0.StageVertex)
	fragment, hasFragment := p.stage(core1_0.StageFragment)

	pipelineDesc := driver.GraphicsPipelineDesc{
		Layout:      p.pipelineLayout,
		RenderPass:  pass,
		Vertex:      vertex.module,
		VertexEntry: vertex.entry,

		Topology:     desc.Topology,
		PolygonMode:  desc.PolygonMode,
		CullMode:     desc.CullMode,
		FrontFace:    desc.FrontFace,
		Samples:      desc.Samples,
		DepthTest:    desc.DepthTest,
		DepthWrite:   desc.DepthWrite,
		DepthCompare: desc.DepthCompare,
		ColorTargets: len(desc.ColorFormats),
		BlendEnabled: desc.Blend,
	}
	if hasFragment {
		pipelineDesc.Fragment = fragment.module
		pipelineDesc.FragmentEntry = fragment.entry
	}
	if desc.Blend {
		pipelineDesc.ColorBlendOp = core1_0.BlendOpAdd
		pipelineDesc.SrcColorBlend = core1_0.BlendFactorSrcAlpha
		pipelineDesc.DstColorBlend = core1_0.BlendFactorOneMinusSrcAlpha
	}
	if p.layout.Vertex != nil {
		pipelineDesc.VertexBindings = []core1_0.VertexInputBindingDescription{p.layout.Vertex.Binding}
		pipelineDesc.Attributes = p.layout.Vertex.Attributes
	}

	pipeline, err := d.gpu.CreateGraphicsPipeline(pipelineDesc)
	if err != nil {
		return KernelHandle{}, nativeError(err, "failed to create graphics pipeline for kernel %q", desc.Name)
	}

	return d.insertKernel(heap, &kernel{
		name:      desc.Name,
		program:   p,
		pipeline:  pipeline,
		bindPoint: core1_0.PipelineBindPointGraphics,
	})
}

func (d *Device) CreateComputeKernel(heapHandle HeapHandle, desc ComputeKernelDesc) (KernelHandle, error) {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(heapHandle.id)
	if err != nil {
		return KernelHandle{}, err
	}
	p, err := d.kernelProgram(heap, desc.Program)
	if err != nil {
		return KernelHandle{}, err
	}
	if !p.compute() {
		return KernelHandle{}, invalidParameter("program %q is not a compute program", p.name)
	}

	stage, _ := p.stage(core1_0.StageCompute)
	pipeline, err := d.gpu.CreateComputePipeline(driver.ComputePipelineDesc{
		Layout: p.pipelineLayout,
		Shader: stage.module,
		Entry:  stage.entry,
	})
	if err != nil {
		return KernelHandle{}, nativeError(err, "failed to create compute pipeline for kernel %q", desc.Name)
	}

	return d.insertKernel(heap, &kernel{
		name:      desc.Name,
		program:   p,
		pipeline:  pipeline,
		bindPoint: core1_0.PipelineBindPointCompute,
	})
}

func (d *Device) insertKernel(heap *resourceHeap, k *kernel) (KernelHandle, error) {
	k.program.kernels++
	id, err := heap.kernels.insert(k)
	if err != nil {
		k.destroy()
		return KernelHandle{}, err
	}

	d.logger.Debug("Device::insertKernel", slog.Int("Heap", int(heap.id)), slog.Int("Id", int(id)), slog.String("Name", k.name))
	return KernelHandle{handle{heap: heap.id, id: id}}, nil
}

func (d *Device) lookupKernel(h KernelHandle) (*kernel, error) {
	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return nil, err
	}
	k, ok := heap.kernels.get(h.id)
	if !ok {
		return nil, invalidParameter("kernel %d does not exist in heap %d", h.id, h.heap)
	}
	return k, nil
}

func (d *Device) DestroyKernel(h KernelHandle) error {
	d.heapLock.Lock()
	defer d.heapLock.Unlock()

	heap, err := d.lookupHeap(h.heap)
	if err != nil {
		return err
	}
	k, ok := heap.kernels.erase(h.id)
	if !ok {
		return invalidParameter("kernel %d does not exist in heap %d", h.id, h.heap)
	}

	k.destroy()
	return nil
}
