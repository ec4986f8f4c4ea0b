package hal

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/vulkan"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

type InstanceOptions = vulkan.InstanceOptions

// Instance is a Vulkan instance. Hosts create their surface from Instance.Driver and pick a device with
// Instance.SelectPhysicalDevice.
type Instance = vulkan.Instance

// CreateInstance creates the Vulkan instance a Device is created from
func CreateInstance(logger *slog.Logger, globalDriver core1_0.GlobalDriver, options InstanceOptions) (*Instance, error) {
	instance, err := vulkan.CreateInstance(logger, globalDriver, options)
	if err != nil {
		return nil, errors.Mark(err, ErrInternal)
	}
	return instance, nil
}

// New creates a device on physicalDevice that presents to surface. The surface is owned by the host and
// must outlive the device.
func New(logger *slog.Logger, instance core1_0.CoreInstanceDriver, physicalDevice core1_0.PhysicalDevice, surface khr_surface.Surface, options CreateOptions) (*Device, error) {
	gpu, err := vulkan.CreateGPU(logger, instance, physicalDevice, surface)
	if err != nil {
		return nil, nativeError(err, "failed to create GPU")
	}
	return newDevice(logger, gpu, options)
}
