package hal

import (
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/jkleinecke/rhi/hal/internal/driver/fake"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestDevice(t *testing.T, options CreateOptions) (*Device, *fake.GPU) {
	t.Helper()

	if options.Width == 0 && options.Height == 0 {
		options.Width = 640
		options.Height = 480
	}
	if options.DefaultHeap.BlockSize == 0 {
		options.DefaultHeap.BlockSize = 1 << 20
	}

	gpu := fake.New(fake.Options{})
	device, err := newDevice(testLogger(), gpu, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		if !gpu.IsDestroyed() {
			require.NoError(t, device.Destroy())
		}
	})
	return device, gpu
}

// recordPresent resets the context's pool for the current slot, then records a context that clears target
// and nothing else
func recordPresent(t *testing.T, device *Device, ctx ContextHandle, target RenderTargetHandle) {
	t.Helper()
	require.NoError(t, device.ResetCmdEncoderPool(ctx.Pool()))
	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.CmdBindRenderTargets(ctx, []RenderTargetHandle{target}, RenderTargetHandle{}))
	require.NoError(t, device.EndEncodingCmds(ctx))
}

func TestNewDeviceRejectsEmptyExtent(t *testing.T) {
	gpu := fake.New(fake.Options{})
	_, err := newDevice(testLogger(), gpu, CreateOptions{Width: 0, Height: 480})
	require.Error(t, err)
	require.Equal(t, InvalidParameter, ResultOf(err))
	require.True(t, gpu.IsDestroyed())
}

func TestNewDevice(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})

	require.Equal(t, [3]int{0, 1, 2}, device.queueFamilies)
	require.Equal(t, core1_0.Extent2D{Width: 640, Height: 480}, device.SwapChainExtent())
	require.Len(t, device.SwapChainTargets(), 3)
	require.Equal(t, FrameIdle, device.FrameState())
	require.Equal(t, 0, device.CurrentFrameIndex())
	require.True(t, device.DefaultHeap().Valid())

	stats, err := device.HeapStats(device.DefaultHeap())
	require.NoError(t, err)
	require.Equal(t, 3, stats.RenderTargets)

	// The swap chain images are moved to the present layout with a single one-shot submission
	require.Equal(t, []string{"submit 0", "wait fence " + strconv.Itoa(device.oneShot.fence.(*fake.Fence).ID)}, gpu.Events)
	barriers := device.oneShot.cmd.(*fake.CmdBuffer).Find("PipelineBarrier")
	require.Len(t, barriers, 3)
	for _, command := range barriers {
		images := command.Args[3].([]driver.ImageBarrier)
		require.Equal(t, core1_0.ImageLayoutUndefined, images[0].OldLayout)
		require.Equal(t, khr_swapchain.ImageLayoutPresentSrc, images[0].NewLayout)
	}
}

func TestSelectQueueFamilies(t *testing.T) {
	universal := core1_0.QueueGraphics | core1_0.QueueCompute | core1_0.QueueTransfer

	testCases := []struct {
		name     string
		families []driver.QueueFamily
		expected [3]int
	}{
		{
			name:     "single universal family",
			families: []driver.QueueFamily{{Index: 0, Flags: universal, Present: true}},
			expected: [3]int{0, 0, 0},
		},
		{
			name: "dedicated compute serves transfer",
			families: []driver.QueueFamily{
				{Index: 0, Flags: universal, Present: true},
				{Index: 1, Flags: core1_0.QueueCompute | core1_0.QueueTransfer},
			},
			expected: [3]int{0, 1, 1},
		},
		{
			name: "graphics must present",
			families: []driver.QueueFamily{
				{Index: 0, Flags: universal},
				{Index: 1, Flags: universal, Present: true},
				{Index: 2, Flags: core1_0.QueueTransfer},
			},
			expected: [3]int{1, 1, 2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			families, err := selectQueueFamilies(tc.families)
			require.NoError(t, err)
			require.Equal(t, tc.expected, families)
		})
	}

	_, err := selectQueueFamilies([]driver.QueueFamily{{Index: 0, Flags: universal}})
	require.Error(t, err)
	require.Equal(t, InternalError, ResultOf(err))
}

func TestEncoderPoolsBelongToTheirDevice(t *testing.T) {
	first, _ := newTestDevice(t, CreateOptions{})
	second, _ := newTestDevice(t, CreateOptions{})
	require.NotEqual(t, first.id, second.id)

	pool, err := first.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)

	_, err = second.CreateEncoderContext(pool)
	require.Equal(t, InvalidParameter, ResultOf(err))

	_, err = first.CreateEncoderContext(pool)
	require.NoError(t, err)
}

func TestFrameCycle(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	fence0 := device.frames[0].fence.(*fake.Fence)
	fence1 := device.frames[1].fence.(*fake.Fence)
	gpu.Events = nil

	for frame := 0; frame < 4; frame++ {
		slot := frame % FramesInFlight
		require.Equal(t, slot, device.CurrentFrameIndex())

		target, err := device.AcquireNextSwapChainTarget()
		require.NoError(t, err)
		require.Equal(t, FrameAcquired, device.FrameState())
		require.Equal(t, device.SwapChainTargets()[frame%3], target)

		recordPresent(t, device, ctx, target)
		require.Equal(t, FrameRecording, device.FrameState())

		require.NoError(t, device.Frame(ctx))
		require.Equal(t, FramePresented, device.FrameState())
		require.Equal(t, (slot+1)%FramesInFlight, device.CurrentFrameIndex())
	}

	require.Equal(t, []string{
		"wait fence " + strconv.Itoa(fence0.ID), "acquire 0", "submit 0", "present 0",
		"wait fence " + strconv.Itoa(fence1.ID), "acquire 1", "submit 0", "present 1",
		"wait fence " + strconv.Itoa(fence0.ID), "acquire 2", "submit 0", "present 2",
		"wait fence " + strconv.Itoa(fence1.ID), "acquire 0", "submit 0", "present 0",
	}, gpu.Events)

	queue := gpu.Queue(0).(*fake.Queue)
	last := queue.Submissions[len(queue.Submissions)-1]
	require.Len(t, last.CmdBuffers, 1)
	require.Equal(t, []driver.Semaphore{device.frames[1].imageAvailable}, last.Wait)
	require.Equal(t, []driver.Semaphore{device.frames[1].renderComplete}, last.Signal)
}

func TestFrameWithoutAcquireDoesNotPresent(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	require.NoError(t, device.BeginEncodingCmds(ctx))
	require.NoError(t, device.EndEncodingCmds(ctx))
	require.NoError(t, device.Frame(ctx))

	require.Equal(t, FrameSubmitted, device.FrameState())
	require.Equal(t, 0, gpu.Swapchains[0].Presents)

	queue := gpu.Queue(0).(*fake.Queue)
	last := queue.Submissions[len(queue.Submissions)-1]
	require.Empty(t, last.Wait)
	require.Empty(t, last.Signal)
}

func TestFrameRejectsUnreadyContexts(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	err = device.Frame(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.BeginEncodingCmds(ctx))
	err = device.Frame(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))
	require.NoError(t, device.EndEncodingCmds(ctx))

	// A context recorded for slot 0 cannot be submitted with slot 1
	require.NoError(t, device.Frame())
	err = device.Frame(ctx)
	require.Equal(t, InvalidOperation, ResultOf(err))

	computePool, err := device.CreateEncoderPool(QueueCompute)
	require.NoError(t, err)
	computeCtx, err := device.CreateEncoderContext(computePool)
	require.NoError(t, err)
	require.NoError(t, device.BeginEncodingCmds(computeCtx))
	require.NoError(t, device.EndEncodingCmds(computeCtx))
	err = device.Frame(computeCtx)
	require.Equal(t, InvalidParameter, ResultOf(err))
}

func TestAcquireTwice(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})

	_, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	_, err = device.AcquireNextSwapChainTarget()
	require.Equal(t, InvalidOperation, ResultOf(err))
}

func TestOutOfDateSwapChainIsResized(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})
	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	ctx, err := device.CreateEncoderContext(pool)
	require.NoError(t, err)

	// Cache a pass against every swap chain target
	for range device.SwapChainTargets() {
		target, err := device.AcquireNextSwapChainTarget()
		require.NoError(t, err)
		recordPresent(t, device, ctx, target)
		require.NoError(t, device.Frame(ctx))
	}
	require.Equal(t, 3, device.RenderPassCacheStats().Entries)
	old := device.SwapChainTargets()

	gpu.FailNextAcquire = true
	_, err = device.AcquireNextSwapChainTarget()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSwapChainOutOfDate))
	require.Equal(t, InvalidOperation, ResultOf(err))

	require.NoError(t, device.Resize(800, 600))
	require.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, device.SwapChainExtent())
	require.Equal(t, 0, device.RenderPassCacheStats().Entries)
	require.Equal(t, 1, gpu.Live("Swapchain"))
	require.Equal(t, 0, gpu.Live("RenderPass"))
	require.Equal(t, 0, gpu.Live("Framebuffer"))

	targets := device.SwapChainTargets()
	require.Len(t, targets, 3)
	for _, target := range old {
		require.NotContains(t, targets, target)
		_, err := device.lookupRenderTarget(target)
		require.Equal(t, InvalidParameter, ResultOf(err))
	}

	target, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)
	recordPresent(t, device, ctx, target)
	require.NoError(t, device.Frame(ctx))

	// Evicted entries are recycled for new passes
	require.Equal(t, 1, device.RenderPassCacheStats().Entries)
	require.Len(t, device.renderPasses.free, 2)
}

func TestResizeWhileAcquired(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{})

	_, err := device.AcquireNextSwapChainTarget()
	require.NoError(t, err)

	err = device.Resize(800, 600)
	require.Equal(t, InvalidOperation, ResultOf(err))

	err = device.Resize(0, 600)
	require.Equal(t, InvalidParameter, ResultOf(err))
}

func TestFrameScratch(t *testing.T) {
	device, _ := newTestDevice(t, CreateOptions{ScratchSize: 1024})

	first, err := device.FrameScratch(100, 16)
	require.NoError(t, err)
	require.Len(t, first, 100)
	for i := range first {
		first[i] = 0xff
	}

	_, err = device.FrameScratch(16, 3)
	require.Equal(t, InvalidParameter, ResultOf(err))

	_, err = device.FrameScratch(0, 16)
	require.Equal(t, InvalidParameter, ResultOf(err))

	_, err = device.FrameScratch(2048, 16)
	require.Equal(t, OutOfMemory, ResultOf(err))

	require.NoError(t, device.Frame())
	require.Equal(t, 0, device.scratch.Used())

	second, err := device.FrameScratch(100, 16)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 100), second)
}

func TestDestroyReleasesEverything(t *testing.T) {
	device, gpu := newTestDevice(t, CreateOptions{})

	heap, err := device.CreateHeap(HeapDesc{BlockSize: 1 << 16})
	require.NoError(t, err)
	_, err = device.CreateBuffer(heap, BufferDesc{Size: 256, Usage: core1_0.BufferUsageUniformBuffer, Memory: MemoryCpuToGpu}, nil)
	require.NoError(t, err)
	_, err = device.CreateBuffer(device.DefaultHeap(), BufferDesc{Size: 1 << 20, Usage: core1_0.BufferUsageStorageBuffer}, nil)
	require.NoError(t, err)
	_, err = device.CreateTexture(heap, TextureDesc{
		Width:  4,
		Height: 4,
		Format: core1_0.FormatR8G8B8A8UnsignedNormalized,
		Usage:  core1_0.ImageUsageSampled,
	}, make([]byte, 64))
	require.NoError(t, err)
	_, err = device.CreateRenderTarget(heap, RenderTargetDesc{Width: 64, Height: 64, Format: core1_0.FormatD32SignedFloat})
	require.NoError(t, err)
	_, err = device.CreateSampler(heap, SamplerDesc{MaxAnisotropy: 4})
	require.NoError(t, err)

	_, kernel := createDrawKernel(t, device, heap)
	require.True(t, kernel.Valid())

	pool, err := device.CreateEncoderPool(QueueGraphics)
	require.NoError(t, err)
	_, err = device.CreateEncoderContexts(pool, 2)
	require.NoError(t, err)

	require.NoError(t, device.Destroy())
	require.True(t, gpu.IsDestroyed())
	require.Equal(t, 0, gpu.AllocatedBytes())

	for _, kind := range []string{
		"Memory", "Buffer", "Image", "ImageView", "Sampler", "ShaderModule", "DescriptorSetLayout",
		"PipelineLayout", "Pipeline", "RenderPass", "Framebuffer", "DescriptorPool", "CommandPool", "Fence",
		"Semaphore", "Swapchain",
	} {
		require.Equalf(t, 0, gpu.Live(kind), "%s objects leaked", kind)
	}
}
