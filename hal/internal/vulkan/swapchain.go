package vulkan

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

type swapchain struct {
	gpu    *GPU
	native khr_swapchain.Swapchain
	format core1_0.Format
	extent core1_0.Extent2D
	images []driver.Image
	views  []driver.ImageView
}

func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == khr_surface.PresentModeMailbox {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}
	return core1_0.Extent2D{
		Width:  min(max(width, capabilities.MinImageExtent.Width), capabilities.MaxImageExtent.Width),
		Height: min(max(height, capabilities.MinImageExtent.Height), capabilities.MaxImageExtent.Height),
	}
}

// CreateSwapchain creates a swap chain for the GPU's surface, retiring old if it is set. The caller destroys
// old afterward.
func (g *GPU) CreateSwapchain(width, height int, old driver.Swapchain) (driver.Swapchain, error) {
	capabilities, _, err := g.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(g.surface, g.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface capabilities")
	}
	formats, _, err := g.surfaceDriver.GetPhysicalDeviceSurfaceFormats(g.surface, g.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface formats")
	}
	modes, _, err := g.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(g.surface, g.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query surface present modes")
	}
	if len(formats) == 0 || len(modes) == 0 {
		return nil, errors.New("surface reports no formats or present modes")
	}

	format := chooseSurfaceFormat(formats)
	extent := chooseExtent(capabilities, width, height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	info := khr_swapchain.SwapchainCreateInfo{
		Surface:          g.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      choosePresentMode(modes),
		Clipped:          true,
	}
	if old != nil {
		info.OldSwapchain = old.(*swapchain).native
	}

	native, res, err := g.swapchains.CreateSwapchain(nil, info)
	if err != nil {
		return nil, wrapResult(res, err, "failed to create swap chain")
	}

	sc := &swapchain{gpu: g, native: native, format: format.Format, extent: extent}

	nativeImages, res, err := g.swapchains.GetSwapchainImages(native)
	if err != nil {
		sc.Destroy()
		return nil, wrapResult(res, err, "failed to get swap chain images")
	}

	for _, nativeImage := range nativeImages {
		img := &image{
			device: g.device,
			native: nativeImage,
			info: core1_0.ImageCreateInfo{
				ImageType:   core1_0.ImageType2D,
				Format:      format.Format,
				Extent:      core1_0.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
				MipLevels:   1,
				ArrayLayers: 1,
			},
			borrowed: true,
		}
		view, err := img.CreateView(format.Format, core1_0.ImageAspectColor)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.images = append(sc.images, img)
		sc.views = append(sc.views, view)
	}

	g.logger.Debug("GPU::CreateSwapchain", slog.Int("Width", extent.Width), slog.Int("Height", extent.Height), slog.Int("Images", len(sc.images)))
	return sc, nil
}

func (s *swapchain) Format() core1_0.Format {
	return s.format
}

func (s *swapchain) Extent() core1_0.Extent2D {
	return s.extent
}

func (s *swapchain) Images() []driver.Image {
	return s.images
}

func (s *swapchain) Views() []driver.ImageView {
	return s.views
}

func (s *swapchain) AcquireNext(signal driver.Semaphore) (int, error) {
	sem := signal.(*semaphore).native
	index, res, err := s.gpu.swapchains.AcquireNextImage(s.native, common.NoTimeout, &sem, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, errors.Mark(errors.New("swap chain image acquire"), driver.ErrOutOfDate)
	}
	if err != nil {
		return 0, wrapResult(res, err, "failed to acquire swap chain image")
	}
	return index, nil
}

// Present reports a suboptimal swap chain as out of date so the host recreates it
func (s *swapchain) Present(q driver.Queue, wait []driver.Semaphore, imageIndex int) error {
	semaphores := make([]core1_0.Semaphore, 0, len(wait))
	for _, w := range wait {
		semaphores = append(semaphores, w.(*semaphore).native)
	}

	res, err := s.gpu.swapchains.QueuePresent(q.(*queue).native, khr_swapchain.PresentInfo{
		WaitSemaphores: semaphores,
		Swapchains:     []khr_swapchain.Swapchain{s.native},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return errors.Mark(errors.Newf("swap chain present of image %d", imageIndex), driver.ErrOutOfDate)
	}
	return wrapResult(res, err, "failed to present swap chain image %d", imageIndex)
}

func (s *swapchain) Destroy() {
	for _, view := range s.views {
		view.Destroy()
	}
	s.views = nil
	s.gpu.swapchains.DestroySwapchain(s.native, nil)
}
