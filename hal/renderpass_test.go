package hal

import (
	"testing"

	"github.com/jkleinecke/rhi/hal/internal/driver/fake"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func createTarget(t *testing.T, device *Device, desc RenderTargetDesc) RenderTargetHandle {
	t.Helper()
	if desc.Width == 0 {
		desc.Width, desc.Height = 64, 64
	}
	rt, err := device.CreateRenderTarget(device.DefaultHeap(), desc)
	require.NoError(t, err)
	return rt
}

func boundPass(t *testing.T, device *Device, ctx ContextHandle) *fake.RenderPass {
	t.Helper()
	passes := currentCmd(t, device, ctx).Find("BeginRenderPass")
	require.NotEmpty(t, passes)
	return passes[len(passes)-1].Args[0].(*fake.RenderPass)
}

func TestRenderPassCache(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	color := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized, Load: LoadClear, Clear: ClearValue{Color: [4]float32{1, 0, 0, 1}}})
	normals := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR16G16B16A16SignedFloat})
	depth := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatD32SignedFloat, Load: LoadClear, Clear: ClearValue{Depth: 1}})
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{color, normals}, depth))
	first := boundPass(t, device, ctx)

	require.Len(t, first.Info.Attachments, 3)
	require.Equal(t, core1_0.AttachmentLoadOpClear, first.Info.Attachments[0].LoadOp)
	require.Equal(t, core1_0.AttachmentLoadOpDontCare, first.Info.Attachments[1].LoadOp)
	require.Equal(t, core1_0.ImageLayoutDepthStencilAttachmentOptimal, first.Info.Attachments[2].FinalLayout)
	require.Len(t, first.Info.Subpasses[0].ColorAttachments, 2)
	require.Equal(t, 2, first.Info.Subpasses[0].DepthStencilAttachment.Attachment)

	begin := currentCmd(t, device, ctx).Find("BeginRenderPass")[0]
	require.Equal(t, core1_0.Rect2D{Extent: core1_0.Extent2D{Width: 64, Height: 64}}, begin.Args[2])
	clears := begin.Args[3].([]core1_0.ClearValue)
	require.Equal(t, core1_0.ClearValueFloat{1, 0, 0, 1}, clears[0])
	require.Equal(t, core1_0.ClearValueDepthStencil{Depth: 1}, clears[2])

	// The same ordered set of targets reuses the cached pass
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{color, normals}, depth))
	require.Same(t, first, boundPass(t, device, ctx))
	require.Equal(t, RenderPassCacheStats{Entries: 1, Hits: 1, Misses: 1}, device.RenderPassCacheStats())

	// Order and depth are part of the key
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{normals, color}, depth))
	require.NotSame(t, first, boundPass(t, device, ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{color, normals}, RenderTargetHandle{}))
	require.Equal(t, RenderPassCacheStats{Entries: 3, Hits: 1, Misses: 3}, device.RenderPassCacheStats())
	require.Equal(t, 3, gpu.Live("RenderPass"))
	require.Equal(t, 3, gpu.Live("Framebuffer"))

	// Binding nothing only ends the pass
	require.NoError(t, device.CmdBindRenderTargets(ctx, nil, RenderTargetHandle{}))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.Equal(t, 4, currentCmd(t, device, ctx).Count("EndRenderPass"))
}

func TestRenderPassLoadKeepsLayout(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	accumulate := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized, Load: LoadLoad})
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{accumulate}, RenderTargetHandle{}))

	attachment := boundPass(t, device, ctx).Info.Attachments[0]
	require.Equal(t, core1_0.AttachmentLoadOpLoad, attachment.LoadOp)
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, attachment.InitialLayout)
	require.Equal(t, core1_0.ImageLayoutColorAttachmentOptimal, attachment.FinalLayout)
	require.Equal(t, core1_0.AttachmentStoreOpStore, attachment.StoreOp)
}

func TestRenderPassStencilFormats(t *testing.T) {
	info := renderPassInfo(nil, &attachment{
		format:  core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		samples: core1_0.Samples1,
		load:    LoadClear,
		depth:   true,
		layout:  core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	})

	require.Len(t, info.Attachments, 1)
	require.Equal(t, core1_0.AttachmentLoadOpClear, info.Attachments[0].StencilLoadOp)
	require.Equal(t, core1_0.AttachmentStoreOpStore, info.Attachments[0].StencilStoreOp)
	require.Equal(t, core1_0.ImageLayoutUndefined, info.Attachments[0].InitialLayout)
	require.Empty(t, info.Subpasses[0].ColorAttachments)
	require.Equal(t, core1_0.PipelineStageEarlyFragmentTests, info.SubpassDependencies[0].DstStageMask)
	require.Equal(t, core1_0.AccessDepthStencilAttachmentWrite, info.SubpassDependencies[0].DstAccessMask)
}

func TestBindRenderTargetsSetsViewport(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	small := createTarget(t, device, RenderTargetDesc{Width: 32, Height: 32, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	ctx := graphicsContext(t, device)

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{small}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	require.NoError(t, device.EndEncodingCmds(ctx))

	cmd := currentCmd(t, device, ctx)
	viewports := cmd.Find("SetViewport")
	require.Len(t, viewports, 2)
	require.Equal(t, core1_0.Viewport{Width: 32, Height: 32, MaxDepth: 1}, viewports[0].Args[0])
	require.Equal(t, core1_0.Viewport{Width: 640, Height: 480, MaxDepth: 1}, viewports[1].Args[0])
	scissors := cmd.Find("SetScissor")
	require.Len(t, scissors, 2)
	require.Equal(t, core1_0.Rect2D{Extent: core1_0.Extent2D{Width: 32, Height: 32}}, scissors[0].Args[0])
	require.NoError(t, device.Frame(ctx))

	// A resized swap chain needs no new kernels, only the new extent
	require.NoError(t, device.Resize(800, 600))
	target, err = device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	recordPresent(t, device, ctx, target)
	viewports = currentCmd(t, device, ctx).Find("SetViewport")
	require.Equal(t, []fake.Command{{Name: "SetViewport", Args: []any{core1_0.Viewport{Width: 800, Height: 600, MaxDepth: 1}}}}, viewports)
}

func TestBindRenderTargetsValidation(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	color := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	small := createTarget(t, device, RenderTargetDesc{Width: 32, Height: 32, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	depth := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatD32SignedFloat})
	ctx := graphicsContext(t, device)

	err := device.CmdBindRenderTargets(ctx, []RenderTargetHandle{color}, RenderTargetHandle{})
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.BeginEncodingCmds(ctx))

	err = device.CmdBindRenderTargets(ctx, []RenderTargetHandle{color, small}, RenderTargetHandle{})
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindRenderTargets(ctx, []RenderTargetHandle{depth}, RenderTargetHandle{})
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindRenderTargets(ctx, nil, color)
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdBindRenderTargets(ctx, make([]RenderTargetHandle, MaxColorTargets+1), RenderTargetHandle{})
	require.Equal(t, InvalidParameter, ResultOf(err))

	require.Equal(t, 0, device.RenderPassCacheStats().Entries)
	require.Equal(t, 0, gpu.Live("RenderPass"))

	computePool, err := device.CreateEncoderPool(QueueCompute)
	require.NoError(t, err)
	compute, err := device.CreateEncoderContext(computePool)
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(compute))
	err = device.CmdBindRenderTargets(compute, []RenderTargetHandle{color}, RenderTargetHandle{})
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestDestroyRenderTargetEvictsPasses(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	a := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	b := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{a}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{a, b}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{b}, RenderTargetHandle{}))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.Equal(t, 3, device.RenderPassCacheStats().Entries)

	require.NoError(t, device.DestroyRenderTarget(a))
	require.Equal(t, 1, device.RenderPassCacheStats().Entries)
	require.Equal(t, 1, gpu.Live("RenderPass"))
	require.Equal(t, 1, gpu.Live("Framebuffer"))
	require.Len(t, device.renderPasses.free, 2)

	err := device.DestroyRenderTarget(a)
	require.Equal(t, InvalidParameter, ResultOf(err))

	err = device.DestroyRenderTarget(device.SwapChainTargets()[0])
	require.Equal(t, InvalidOperation, ResultOf(err))

	// A rebuilt pass reuses an evicted entry
	require.NoError(t, device.BeginEncodingCmds(ctx))
	c := createTarget(t, device, RenderTargetDesc{Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{b, c}, RenderTargetHandle{}))
	require.Len(t, device.renderPasses.free, 1)
	require.Equal(t, 2, device.RenderPassCacheStats().Entries)
}

func TestCleanupUnusedRenderingResources(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	offscreen := createTarget(t, device, RenderTargetDesc{Width: 640, Height: 480, Format: core1_0.FormatR8G8B8A8UnsignedNormalized})
	ctx := graphicsContext(t, device)

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{offscreen}, RenderTargetHandle{}))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.NoError(t, device.Frame(ctx))

	target, err = device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	require.Equal(t, 1, device.SwapChainIndex())
	recordPresent(t, device, ctx, target)
	require.NoError(t, device.Frame(ctx))
	require.Equal(t, 3, device.RenderPassCacheStats().Entries)

	require.NoError(t, device.CleanupUnusedRenderingResources())
	require.Equal(t, 1, device.RenderPassCacheStats().Entries)
	require.Equal(t, 1, gpu.Live("RenderPass"))

	// The survivor is the pass bound while swap chain image 1 was current
	_, ok := device.renderPasses.entries.Get(newRenderPassKey([]RenderTargetHandle{target}, RenderTargetHandle{}))
	require.True(t, ok)
}
