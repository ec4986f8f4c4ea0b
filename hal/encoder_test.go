package hal

import (
	"testing"

	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/hal/internal/driver/fake"
	"github.com/jkleinecke/rhi/hal/program"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var testSPIRV = []uint32{0x07230203, 0x00010000}

func drawProgramDesc() ProgramDesc {
	return ProgramDesc{
		Name: "draw",
		Stages: []ShaderStage{
			{
				SPIRV: testSPIRV,
				Entry: "vs_main",
				Reflection: program.StageReflection{
					Stage: core1_0.StageVertex,
					Bindings: []program.DescriptorBinding{
						{Name: "camera", Set: 0, Binding: 0, Type: core1_0.DescriptorTypeUniformBuffer},
					},
					PushConstants: []program.PushConstant{
						{Name: "model", Offset: 0, Size: 64},
					},
					VertexInputs: []program.VertexInput{
						{Name: "position", Location: 0, Format: core1_0.FormatR32G32SignedFloat, Size: 8},
						{Name: "uv", Location: 1, Format: core1_0.FormatR32G32SignedFloat, Size: 8},
					},
				},
			},
			{
				SPIRV: testSPIRV,
				Entry: "fs_main",
				Reflection: program.StageReflection{
					Stage: core1_0.StageFragment,
					Bindings: []program.DescriptorBinding{
						{Name: "albedo", Set: 1, Binding: 0, Type: core1_0.DescriptorTypeCombinedImageSampler},
						{Name: "tint", Set: 2, Binding: 0, Type: core1_0.DescriptorTypeUniformBuffer},
					},
				},
			},
		},
	}
}

func createDrawKernel(t *testing.T, device *Device, heap HeapHandle) (ProgramHandle, KernelHandle) {
	t.Helper()

	p, err := device.CreateProgram(heap, drawProgramDesc())
	require.NoError(t, err)

	k, err := device.CreateGraphicsKernel(heap, GraphicsKernelDesc{
		Program:      p,
		ColorFormats: []core1_0.Format{core1_0.FormatB8G8R8A8SRGB},
		Name:         "draw",
	})
	require.NoError(t, err)
	return p, k
}

func createComputeKernel(t *testing.T, device *Device, heap HeapHandle) KernelHandle {
	t.Helper()

	p, err := device.CreateProgram(heap, ProgramDesc{
		Name: "scan",
		Stages: []ShaderStage{{
			SPIRV: testSPIRV,
			Reflection: program.StageReflection{
				Stage: core1_0.StageCompute,
				Bindings: []program.DescriptorBinding{
					{Name: "values", Set: 0, Binding: 0, Type: core1_0.DescriptorTypeStorageBuffer},
				},
			},
		}},
	})
	require.NoError(t, err)

	k, err := device.CreateComputeKernel(heap, ComputeKernelDesc{Program: p, Name: "scan"})
	require.NoError(t, err)
	return k
}

type drawResources struct {
	vertices BufferHandle
	indices  BufferHandle
	camera   BufferHandle
	albedo   TextureHandle
	sampler  SamplerHandle
}

func createDrawResources(t *testing.T, device *Device) drawResources {
	t.Helper()
	heap := device.DefaultHeap()

	var r drawResources
	var err error
	r.vertices, err = device.CreateBuffer(heap, BufferDesc{Size: 96, Usage: core1_0.BufferUsageVertexBuffer, Memory: MemoryCpuToGpu, Name: "vertices"}, make([]byte, 96))
	require.NoError(t, err)
	r.indices, err = device.CreateBuffer(heap, BufferDesc{Size: 12, Usage: core1_0.BufferUsageIndexBuffer, Memory: MemoryCpuToGpu, Name: "indices"}, nil)
	require.NoError(t, err)
	r.camera, err = device.CreateBuffer(heap, BufferDesc{Size: 256, Usage: core1_0.BufferUsageUniformBuffer, Memory: MemoryCpuToGpu, Name: "camera"}, nil)
	require.NoError(t, err)
	r.albedo, err = device.CreateTexture(heap, TextureDesc{
		Width:        2,
		Height:       2,
		Format:       core1_0.FormatR8G8B8A8UnsignedNormalized,
		Usage:        core1_0.ImageUsageSampled,
		InitialState: barrier.StateShaderResource,
		Name:         "albedo",
	}, make([]byte, 16))
	require.NoError(t, err)
	r.sampler, err = device.CreateSampler(heap, SamplerDesc{MagFilter: core1_0.FilterLinear, MinFilter: core1_0.FilterLinear})
	require.NoError(t, err)
	return r
}

func graphicsContext(t *testing.T, device *Device) ContextHandle {
	t.Helper()
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)
	return ctx
}

func currentCmd(t *testing.T, device *Device, ctx ContextHandle) *fake.CmdBuffer {
	t.Helper()
	c, err := device.lookupContext(ctx)
	require.NoError(t, err)
	return c.cmd().(*fake.CmdBuffer)
}

func TestDrawDefersDescriptorBinds(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	_, k := createDrawKernel(t, device, device.DefaultHeap())
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindKernel(ctx, k))
	require.NoError(t, device.CmdBindVertexBuffer(ctx, r.vertices, 0))

	require.NoError(t, device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Buffer: r.camera}}))
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 1, []DescriptorWrite{{Binding: 0, Texture: r.albedo, Sampler: r.sampler}}))
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 2, []DescriptorWrite{{Binding: 0, Buffer: r.camera, Offset: 64, Range: 16}}))
	require.NoError(t, device.CmdDraw(ctx, 6, 1, 0, 0))

	cmd := currentCmd(t, device, ctx)
	binds := cmd.Find("BindDescriptorSets")
	require.Len(t, binds, 1)
	require.Equal(t, 0, binds[0].Args[2])
	require.Len(t, binds[0].Args[3], 3)

	// A draw with nothing new bound issues no descriptor binds
	require.NoError(t, device.CmdDraw(ctx, 6, 1, 0, 0))
	require.Len(t, cmd.Find("BindDescriptorSets"), 1)

	// Sets 0 and 2 are not contiguous and bind separately
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Buffer: r.camera}}))
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 2, []DescriptorWrite{{Binding: 0, Buffer: r.camera}}))
	require.NoError(t, device.CmdDraw(ctx, 6, 1, 0, 0))
	binds = cmd.Find("BindDescriptorSets")
	require.Len(t, binds, 3)
	require.Equal(t, 0, binds[1].Args[2])
	require.Len(t, binds[1].Args[3], 1)
	require.Equal(t, 2, binds[2].Args[2])
	require.Len(t, binds[2].Args[3], 1)

	require.Equal(t, 3, cmd.Count("Draw"))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.Equal(t, 1, cmd.Count("EndRenderPass"))
	require.NoError(t, device.Frame(ctx))

	require.Len(t, gpu.Writes, 5)
	combined := gpu.Writes[1]
	require.Equal(t, core1_0.DescriptorTypeCombinedImageSampler, combined.Type)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, combined.Layout)
	require.NotNil(t, combined.Sampler)
	tint := gpu.Writes[2]
	require.Equal(t, 64, tint.Offset)
	require.Equal(t, 16, tint.Range)
	require.Equal(t, 256, gpu.Writes[0].Range)
}

func TestBindingAKernelOfAnotherProgramDropsPendingSets(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	_, first := createDrawKernel(t, device, device.DefaultHeap())
	_, second := createDrawKernel(t, device, device.DefaultHeap())
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindKernel(ctx, first))
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Buffer: r.camera}}))
	require.NoError(t, device.CmdBindKernel(ctx, second))
	require.NoError(t, device.CmdDraw(ctx, 3, 1, 0, 0))

	cmd := currentCmd(t, device, ctx)
	require.Equal(t, 0, cmd.Count("BindDescriptorSets"))
	require.Equal(t, 2, cmd.Count("BindPipeline"))
}

func TestPushConstants(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	p, k := createDrawKernel(t, device, device.DefaultHeap())
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	err := device.CmdPushConstants(ctx, "model", make([]byte, 64))
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.CmdBindKernel(ctx, k))
	require.NoError(t, device.CmdPushConstants(ctx, "model", make([]byte, 64)))

	err = device.CmdPushConstants(ctx, "model", make([]byte, 68))
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdPushConstants(ctx, "model", make([]byte, 3))
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdPushConstants(ctx, "view", make([]byte, 4))
	require.Equal(t, InvalidParameter, ResultOf(err))

	layout, err := device.ProgramLayout(p)
	require.NoError(t, err)

	pushes := currentCmd(t, device, ctx).Find("PushConstants")
	require.Len(t, pushes, 1)
	require.Equal(t, layout.PushConstantRange.StageFlags, pushes[0].Args[1])
	require.Equal(t, 0, pushes[0].Args[2])
}

func TestDrawValidation(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	_, k := createDrawKernel(t, device, device.DefaultHeap())
	compute := createComputeKernel(t, device, device.DefaultHeap())
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	err := device.CmdDraw(ctx, 3, 1, 0, 0)
	require.Equal(t, InvalidOperation, ResultOf(err))

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(ctx))

	err = device.CmdDraw(ctx, 3, 1, 0, 0)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	err = device.CmdDraw(ctx, 3, 1, 0, 0)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.CmdBindKernel(ctx, compute))
	err = device.CmdDispatch(ctx, 1, 1, 1)
	require.Equal(t, InvalidOperation, ResultOf(err))
	err = device.CmdDraw(ctx, 3, 1, 0, 0)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.CmdBindKernel(ctx, k))
	err = device.CmdDrawIndexed(ctx, 3, 1, 0, 0, 0)
	require.Equal(t, InvalidOperation, ResultOf(err))

	err = device.CmdBindIndexBuffer(ctx, r.vertices, 0, core1_0.IndexTypeUInt16)
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindIndexBuffer(ctx, r.indices, 12, core1_0.IndexTypeUInt16)
	require.Equal(t, InvalidParameter, ResultOf(err))
	require.NoError(t, device.CmdBindIndexBuffer(ctx, r.indices, 0, core1_0.IndexTypeUInt16))
	require.NoError(t, device.CmdDrawIndexed(ctx, 6, 1, 0, 0, 0))

	err = device.CmdBindVertexBuffer(ctx, r.indices, 0)
	require.Equal(t, InvalidParameter, ResultOf(err))

	err = device.CmdBindDescriptorSet(ctx, 3, nil)
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 1, Buffer: r.camera}})
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Element: 1, Buffer: r.camera}})
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Buffer: r.camera, Offset: 200, Range: 100}})
	require.Equal(t, InvalidParameter, ResultOf(err))

	err = device.CmdCopyBuffer(ctx, r.camera, r.vertices, 0, 0, 16)
	require.Equal(t, InvalidOperation, ResultOf(err))
	err = device.CmdResourceBarrier(ctx, []BufferBarrier{{Buffer: r.camera}}, nil, nil)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.EndEncodingCmds(ctx))
	err = device.EndEncodingCmds(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestComputeContextRejectsGraphicsWork(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	_, k := createDrawKernel(t, device, device.DefaultHeap())

	pool, err := device.CreateEncoderPool(QueueCompute)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	err = device.CmdBindKernel(ctx, k)
	require.Equal(t, InvalidOperation, ResultOf(err))
	err = device.CmdBindRenderTargets(ctx, device.SwapChainTargets()[:1], RenderTargetHandle{})
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestDispatchAndSubmit(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	k := createComputeKernel(t, device, device.DefaultHeap())

	values, err := device.CreateBuffer(device.DefaultHeap(), BufferDesc{Size: 1024, Usage: core1_0.BufferUsageStorageBuffer}, nil)
	require.NoError(t, err)

	pool, err := device.CreateEncoderPool(QueueCompute)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindKernel(ctx, k))
	require.NoError(t, device.CmdBindDescriptorSet(ctx, 0, []DescriptorWrite{{Binding: 0, Buffer: values}}))

	err = device.CmdDispatch(ctx, 0, 1, 1)
	require.Equal(t, InvalidParameter, ResultOf(err))
	require.NoError(t, device.CmdDispatch(ctx, 16, 1, 1))

	cmd := currentCmd(t, device, ctx)
	require.Equal(t, []fake.Command{
		{Name: "BindPipeline", Args: cmd.Commands[0].Args},
		{Name: "BindDescriptorSets", Args: cmd.Commands[1].Args},
		{Name: "Dispatch", Args: []any{16, 1, 1}},
	}, cmd.Commands)
	require.Equal(t, core1_0.PipelineBindPointCompute, cmd.Commands[0].Args[0])

	err = device.Submit(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.EndEncodingCmds(ctx))
	gpu.Events = nil
	require.NoError(t, device.Submit(ctx))
	require.Equal(t, []string{"submit 1"}, gpu.Events)
	require.Equal(t, 1, cmd.Submits)

	graphics := graphicsContext(t, device)
	require.NoError(t, device.BeginEncodingCmds(graphics))
	require.NoError(t, device.EndEncodingCmds(graphics))
	err = device.Submit(graphics)
	require.Equal(t, InvalidParameter, ResultOf(err))
}

func TestCopyBufferStagesThroughTransferQueue(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	heap := device.DefaultHeap()

	data := []byte("the quick brown fox jumps over the lazy dog")
	src, err := device.CreateBuffer(heap, BufferDesc{Size: len(data), Usage: core1_0.BufferUsageTransferSrc, Memory: MemoryCpuOnly}, data)
	require.NoError(t, err)
	dst, err := device.CreateBuffer(heap, BufferDesc{Size: 64, Usage: core1_0.BufferUsageTransferDst, Memory: MemoryGpuToCpu}, nil)
	require.NoError(t, err)

	pool, err := device.CreateEncoderPool(QueueTransfer)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	err = device.CmdCopyBuffer(ctx, src, dst, 0, 32, len(data))
	require.Equal(t, InvalidParameter, ResultOf(err))
	require.NoError(t, device.CmdCopyBuffer(ctx, src, dst, 0, 8, len(data)))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.NoError(t, device.Submit(ctx))

	readback, err := device.GetBufferData(dst)
	require.NoError(t, err)
	require.Equal(t, data, readback[8:8+len(data)])
}

func TestResetCmdEncoderPool(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	err = device.ResetCmdEncoderPool(pool)
	require.Equal(t, InvalidOperation, ResultOf(err))
	require.NoError(t, device.EndEncodingCmds(ctx))

	require.NoError(t, device.ResetCmdEncoderPool(pool))
	native, err := device.lookupEncoderPool(pool)
	require.NoError(t, err)
	require.Equal(t, 1, native.pools[0].(*fake.CommandPool).Resets)
	require.Equal(t, 0, native.pools[1].(*fake.CommandPool).Resets)

	err = device.Frame(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestSubmittedContextNeedsPoolReset(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)
	native, err := device.lookupEncoderPool(pool)
	require.NoError(t, err)

	for frame := 0; frame < FramesInFlight; frame++ {
		require.NoError(t, device.BeginEncodingCmds(ctx))
		require.NoError(t, device.EndEncodingCmds(ctx))
		require.NoError(t, device.Frame(ctx))
	}

	// Slot 0 comes around again with its buffer still holding the first frame's submission
	require.Equal(t, 0, device.CurrentFrameIndex())
	err = device.BeginEncodingCmds(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))

	slot0 := native.pools[0].(*fake.CommandPool)
	require.Equal(t, 0, slot0.Resets)
	require.Equal(t, 1, slot0.Buffers[0].Submits)

	require.NoError(t, device.ResetCmdEncoderPool(pool))
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.NoError(t, device.Frame(ctx))
	require.Equal(t, 1, slot0.Resets)
	require.Equal(t, 2, slot0.Buffers[0].Submits)

	// Slot 1 was never reset either
	err = device.BeginEncodingCmds(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestFakeCmdBufferRejectsBeginAfterSubmit(t *testing.T) {
	gpu := fake.New(fake.Options{})
	pool, err := gpu.CreateCommandPool(0)
	require.NoError(t, err)
	buffers, err := pool.Allocate(1)
	require.NoError(t, err)
	cmd := buffers[0]

	require.NoError(t, cmd.Begin(true))
	require.NoError(t, cmd.End())
	require.NoError(t, gpu.Queue(0).Submit(driver.Submission{CmdBuffers: buffers}, nil))
	require.Error(t, cmd.Begin(true))

	require.NoError(t, pool.Reset())
	require.NoError(t, cmd.Begin(true))
}

func TestEncoderContextLifetime(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{MaxContextsPerPool: 4})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)

	contexts, err := device.CreateEncoderContexts(pool, 3)
	require.NoError(t, err)
	require.Len(t, contexts, 3)

	_, err = device.CreateEncoderContexts(pool, 2)
	require.Equal(t, OutOfHandles, ResultOf(err))
	_, err = device.CreateEncoderContexts(pool, 0)
	require.Equal(t, InvalidParameter, ResultOf(err))

	require.NoError(t, device.BeginEncodingCmds(contexts[0]))
	err = device.BeginEncodingCmds(contexts[0])
	require.Equal(t, InvalidOperation, ResultOf(err))
	err = device.DestroyEncoderContext(contexts[0])
	require.Equal(t, InvalidOperation, ResultOf(err))
	err = device.DestroyEncoderPool(pool)
	require.Equal(t, InvalidOperation, ResultOf(err))
	require.NoError(t, device.EndEncodingCmds(contexts[0]))

	native, err := device.lookupEncoderPool(pool)
	require.NoError(t, err)
	require.NoError(t, device.DestroyEncoderContext(contexts[0]))
	err = device.BeginEncodingCmds(contexts[0])
	require.Equal(t, InvalidParameter, ResultOf(err))

	// Each slot's command buffer goes back to that slot's pool
	for _, slotPool := range native.pools {
		fakePool := slotPool.(*fake.CommandPool)
		require.Equal(t, 1, fakePool.Freed)
		require.Len(t, fakePool.Buffers, 2)
	}

	require.NoError(t, device.DestroyEncoderPool(pool))
	err = device.BeginEncodingCmds(contexts[1])
	require.Equal(t, InvalidParameter, ResultOf(err))
}

func TestKernelValidation(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	heap := device.DefaultHeap()
	p, k := createDrawKernel(t, device, heap)

	pipeline := func() *fake.Pipeline {
		kern, err := device.lookupKernel(k)
		require.NoError(t, err)
		return kern.pipeline.(*fake.Pipeline)
	}
	desc := pipeline().Graphics
	require.Equal(t, core1_0.PrimitiveTopologyTriangleList, desc.Topology)
	require.Equal(t, "vs_main", desc.VertexEntry)
	require.Equal(t, "fs_main", desc.FragmentEntry)
	require.Len(t, desc.Attributes, 2)
	require.Equal(t, 16, desc.VertexBindings[0].Stride)

	// The render pass used to build the pipeline does not outlive it
	require.Equal(t, 0, gpu.Live("RenderPass"))

	_, err := device.CreateComputeKernel(heap, ComputeKernelDesc{Program: p})
	require.Equal(t, InvalidParameter, ResultOf(err))
	_, err = device.CreateGraphicsKernel(heap, GraphicsKernelDesc{Program: p})
	require.Equal(t, InvalidParameter, ResultOf(err))

	other, err := device.CreateHeap(HeapDesc{BlockSize: 1 << 16})
	require.NoError(t, err)
	_, err = device.CreateGraphicsKernel(other, GraphicsKernelDesc{Program: p, ColorFormats: []core1_0.Format{core1_0.FormatB8G8R8A8SRGB}})
	require.Equal(t, InvalidParameter, ResultOf(err))

	err = device.DestroyProgram(p)
	require.Equal(t, InvalidOperation, ResultOf(err))
	require.NoError(t, device.DestroyKernel(k))
	require.NoError(t, device.DestroyProgram(p))
	require.Equal(t, 0, gpu.Live("Pipeline"))
	require.Equal(t, 0, gpu.Live("PipelineLayout"))
	require.Equal(t, 0, gpu.Live("ShaderModule"))
}

func TestCreateProgramValidation(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	heap := device.DefaultHeap()

	testCases := []struct {
		name   string
		stages []ShaderStage
	}{
		{
			name: "no stages",
		},
		{
			name:   "no code",
			stages: []ShaderStage{{Reflection: program.StageReflection{Stage: core1_0.StageVertex}}},
		},
		{
			name:   "fragment only",
			stages: []ShaderStage{{SPIRV: testSPIRV, Reflection: program.StageReflection{Stage: core1_0.StageFragment}}},
		},
		{
			name: "compute mixed with vertex",
			stages: []ShaderStage{
				{SPIRV: testSPIRV, Reflection: program.StageReflection{Stage: core1_0.StageVertex}},
				{SPIRV: testSPIRV, Reflection: program.StageReflection{Stage: core1_0.StageCompute}},
			},
		},
		{
			name: "mismatched bindings",
			stages: []ShaderStage{
				{SPIRV: testSPIRV, Reflection: program.StageReflection{
					Stage:    core1_0.StageVertex,
					Bindings: []program.DescriptorBinding{{Set: 0, Binding: 0, Type: core1_0.DescriptorTypeUniformBuffer}},
				}},
				{SPIRV: testSPIRV, Reflection: program.StageReflection{
					Stage:    core1_0.StageFragment,
					Bindings: []program.DescriptorBinding{{Set: 0, Binding: 0, Type: core1_0.DescriptorTypeStorageBuffer}},
				}},
			},
		},
		{
			name: "too many sets",
			stages: []ShaderStage{{SPIRV: testSPIRV, Reflection: program.StageReflection{
				Stage:    core1_0.StageCompute,
				Bindings: []program.DescriptorBinding{{Set: MaxDescriptorSets, Binding: 0, Type: core1_0.DescriptorTypeStorageBuffer}},
			}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := device.CreateProgram(heap, ProgramDesc{Name: tc.name, Stages: tc.stages})
			require.Equal(t, InvalidParameter, ResultOf(err))
		})
	}

	require.Equal(t, 0, gpu.Live("ShaderModule"))
	require.Equal(t, 0, gpu.Live("DescriptorSetLayout"))
}

func TestProgramSetGapsGetPlaceholderLayouts(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})

	p, err := device.CreateProgram(device.DefaultHeap(), ProgramDesc{
		Name: "gaps",
		Stages: []ShaderStage{{SPIRV: testSPIRV, Reflection: program.StageReflection{
			Stage:    core1_0.StageCompute,
			Bindings: []program.DescriptorBinding{{Set: 2, Binding: 0, Type: core1_0.DescriptorTypeStorageBuffer}},
		}}},
	})
	require.NoError(t, err)

	native, err := device.lookupProgram(p)
	require.NoError(t, err)
	require.Len(t, native.setLayouts, 3)
	require.Empty(t, native.setLayouts[0].(*fake.SetLayout).Bindings)
	require.Empty(t, native.setLayouts[1].(*fake.SetLayout).Bindings)
	require.Len(t, native.setLayouts[2].(*fake.SetLayout).Bindings, 1)
	require.Len(t, native.pipelineLayout.(*fake.PipelineLayout).Sets, 3)
	require.Equal(t, "main", native.stages[0].entry)
}
