package hal

import (
	"testing"

	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/hal/internal/driver/fake"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const allShaderStages = core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader

func recordedBarriers(t *testing.T, cmd *fake.CmdBuffer) (core1_0.PipelineStageFlags, core1_0.PipelineStageFlags, []driver.BufferBarrier, []driver.ImageBarrier) {
	t.Helper()
	barriers := cmd.Find("PipelineBarrier")
	require.Len(t, barriers, 1)
	args := barriers[0].Args
	return args[0].(core1_0.PipelineStageFlags), args[1].(core1_0.PipelineStageFlags), args[2].([]driver.BufferBarrier), args[3].([]driver.ImageBarrier)
}

func TestResourceBarrierCoalesces(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdResourceBarrier(ctx,
		[]BufferBarrier{{Buffer: r.vertices, Before: barrier.StateCopyDst, After: barrier.StateVertexAndConstantBuffer}},
		[]TextureBarrier{{Texture: r.albedo, Before: barrier.StateShaderResource, After: barrier.StateCopyDst}},
		nil,
	))

	src, dst, buffers, images := recordedBarriers(t, currentCmd(t, device, ctx))
	require.Equal(t, core1_0.PipelineStageTransfer|allShaderStages, src)
	require.Equal(t, core1_0.PipelineStageVertexInput|allShaderStages|core1_0.PipelineStageTransfer, dst)

	require.Len(t, buffers, 1)
	require.Equal(t, core1_0.AccessTransferWrite, buffers[0].SrcAccess)
	require.Equal(t, core1_0.AccessUniformRead|core1_0.AccessVertexAttributeRead, buffers[0].DstAccess)
	require.Equal(t, driver.QueueFamilyIgnored, buffers[0].SrcQueueFamilyIndex)
	require.Equal(t, driver.QueueFamilyIgnored, buffers[0].DstQueueFamilyIndex)
	require.Equal(t, 96, buffers[0].Size)

	require.Len(t, images, 1)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, images[0].OldLayout)
	require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, images[0].NewLayout)
	require.Equal(t, core1_0.ImageAspectColor, images[0].Aspect)
	require.Equal(t, 1, images[0].Levels)

	// No barriers, no command
	require.NoError(t, device.CmdResourceBarrier(ctx, nil, nil, nil))
	require.Equal(t, 1, currentCmd(t, device, ctx).Count("PipelineBarrier"))
}

func TestResourceBarrierQueueOwnership(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	r := createDrawResources(t, device)

	transferPool, err := device.CreateEncoderPool(QueueTransfer)
	require.NoError(t, err)
	release, err := device.CreateEncoderContext(transferPool)
	require.NoError(t, err)
	acquire := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(release))
	require.NoError(t, device.CmdResourceBarrier(release, []BufferBarrier{{
		Buffer:     r.vertices,
		Before:     barrier.StateCopyDst,
		After:      barrier.StateVertexAndConstantBuffer,
		Ownership:  OwnershipRelease,
		OtherQueue: QueueGraphics,
	}}, nil, nil))

	src, dst, buffers, _ := recordedBarriers(t, currentCmd(t, device, release))
	require.Equal(t, core1_0.PipelineStageTransfer, src)
	require.Equal(t, core1_0.PipelineStageTopOfPipe, dst)
	require.Equal(t, core1_0.AccessTransferWrite, buffers[0].SrcAccess)
	require.Zero(t, buffers[0].DstAccess)
	require.Equal(t, 2, buffers[0].SrcQueueFamilyIndex)
	require.Equal(t, 0, buffers[0].DstQueueFamilyIndex)

	require.NoError(t, device.BeginEncodingCmds(acquire))
	require.NoError(t, device.CmdResourceBarrier(acquire, []BufferBarrier{{
		Buffer:     r.vertices,
		Before:     barrier.StateCopyDst,
		After:      barrier.StateVertexAndConstantBuffer,
		Ownership:  OwnershipAcquire,
		OtherQueue: QueueTransfer,
	}}, nil, nil))

	src, dst, buffers, _ = recordedBarriers(t, currentCmd(t, device, acquire))
	require.Equal(t, core1_0.PipelineStageTopOfPipe, src)
	require.Equal(t, core1_0.PipelineStageVertexInput|allShaderStages, dst)
	require.Zero(t, buffers[0].SrcAccess)
	require.Equal(t, core1_0.AccessUniformRead|core1_0.AccessVertexAttributeRead, buffers[0].DstAccess)
	require.Equal(t, 2, buffers[0].SrcQueueFamilyIndex)
	require.Equal(t, 0, buffers[0].DstQueueFamilyIndex)
}

func TestResourceBarrierOwnershipWithinOneFamily(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdResourceBarrier(ctx, nil, []TextureBarrier{{
		Texture:    r.albedo,
		Before:     barrier.StateShaderResource,
		After:      barrier.StateUnorderedAccess,
		Ownership:  OwnershipRelease,
		OtherQueue: QueueGraphics,
	}}, nil))

	_, _, _, images := recordedBarriers(t, currentCmd(t, device, ctx))
	require.Equal(t, driver.QueueFamilyIgnored, images[0].SrcQueueFamilyIndex)
	require.Equal(t, driver.QueueFamilyIgnored, images[0].DstQueueFamilyIndex)
	require.Equal(t, core1_0.AccessShaderWrite, images[0].DstAccess)
	require.Equal(t, core1_0.ImageLayoutGeneral, images[0].NewLayout)
}

func TestResourceBarrierValidation(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	r := createDrawResources(t, device)
	ctx := graphicsContext(t, device)

	err := device.CmdResourceBarrier(ctx, []BufferBarrier{{Buffer: r.vertices}}, nil, nil)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.BeginEncodingCmds(ctx))

	err = device.CmdResourceBarrier(ctx, []BufferBarrier{{Buffer: r.vertices, Ownership: QueueOwnership(7)}}, nil, nil)
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdResourceBarrier(ctx, []BufferBarrier{{Buffer: r.vertices, Ownership: OwnershipAcquire, OtherQueue: QueueType(9)}}, nil, nil)
	require.Equal(t, InvalidParameter, ResultOf(err))
	err = device.CmdResourceBarrier(ctx, nil, []TextureBarrier{{Texture: TextureHandle{}}}, nil)
	require.Equal(t, InvalidParameter, ResultOf(err))

	require.NoError(t, device.CmdBindRenderTargets(ctx, device.SwapChainTargets()[:1], RenderTargetHandle{}))
	err = device.CmdResourceBarrier(ctx, []BufferBarrier{{Buffer: r.vertices}}, nil, nil)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.Zero(t, currentCmd(t, device, ctx).Count("PipelineBarrier"))
}
