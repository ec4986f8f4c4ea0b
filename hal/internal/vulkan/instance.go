// Package vulkan implements the driver interfaces over vkngwrapper
package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// InstanceOptions configures CreateInstance
type InstanceOptions struct {
	ApplicationName    string
	ApplicationVersion common.APIVersion

	// Extensions are the instance extensions the windowing layer needs for its surface
	Extensions []string
	// Validation enables the Khronos validation layer and routes its messages to the logger
	Validation bool
}

// Instance is a Vulkan instance with an optional validation messenger
type Instance struct {
	logger    *slog.Logger
	driver    core1_0.CoreInstanceDriver
	debug     ext_debug_utils.ExtensionDriver
	messenger ext_debug_utils.DebugUtilsMessenger
}

// CreateInstance creates a Vulkan 1.2 instance with the requested extensions, enabling portability
// enumeration where the loader supports it
func CreateInstance(logger *slog.Logger, globalDriver core1_0.GlobalDriver, options InstanceOptions) (*Instance, error) {
	info := core1_0.InstanceCreateInfo{
		ApplicationName:    options.ApplicationName,
		ApplicationVersion: options.ApplicationVersion,
		EngineName:         "rhi",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := globalDriver.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate instance extensions")
	}

	for _, extension := range options.Extensions {
		_, ok := extensions[extension]
		if !ok {
			return nil, errors.Newf("instance extension %s is not available", extension)
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, extension)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	instance := &Instance{logger: logger}

	if options.Validation {
		layers, _, err := globalDriver.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "failed to enumerate instance layers")
		}
		_, ok := layers[validationLayer]
		if !ok {
			return nil, errors.Newf("validation layer %s is not available", validationLayer)
		}

		info.EnabledLayerNames = append(info.EnabledLayerNames, validationLayer)
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		info.Next = instance.messengerInfo()
	}

	instance.driver, _, err = globalDriver.CreateInstance(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create instance")
	}

	if options.Validation {
		instance.debug = ext_debug_utils.CreateExtensionDriverFromCoreDriver(instance.driver)
		instance.messenger, _, err = instance.debug.CreateDebugUtilsMessenger(nil, instance.messengerInfo())
		if err != nil {
			instance.driver.DestroyInstance(nil)
			return nil, errors.Wrap(err, "failed to create debug messenger")
		}
	}

	logger.Debug("Instance::Create", slog.Int("Extensions", len(info.EnabledExtensionNames)), slog.Bool("Validation", options.Validation))
	return instance, nil
}

func (i *Instance) messengerInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    i.logMessage,
	}
}

func (i *Instance) logMessage(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	i.logger.Log(context.Background(), level, data.Message, slog.String("Type", msgType.String()), slog.String("Severity", severity.String()))
	return false
}

// Driver returns the instance driver for creating surfaces and devices
func (i *Instance) Driver() core1_0.CoreInstanceDriver {
	return i.driver
}

// SelectPhysicalDevice returns the first discrete GPU that can present to surface, falling back to any
// device that can present
func (i *Instance) SelectPhysicalDevice(surface khr_surface.Surface) (core1_0.PhysicalDevice, error) {
	devices, _, err := i.driver.EnumeratePhysicalDevices()
	if err != nil {
		return core1_0.PhysicalDevice{}, errors.Wrap(err, "failed to enumerate physical devices")
	}

	surfaceDriver := khr_surface.CreateExtensionDriverFromCoreDriver(i.driver)

	var fallback *core1_0.PhysicalDevice
	for index := range devices {
		device := devices[index]
		families, err := queueFamilies(i.driver, surfaceDriver, device, surface)
		if err != nil || !canPresent(families) {
			continue
		}

		properties, err := i.driver.GetPhysicalDeviceProperties(device)
		if err != nil {
			continue
		}
		if properties.DriverType == core1_0.PhysicalDeviceTypeDiscreteGPU {
			return device, nil
		}
		if fallback == nil {
			fallback = &device
		}
	}

	if fallback == nil {
		return core1_0.PhysicalDevice{}, errors.New("no physical device can present to the surface")
	}
	return *fallback, nil
}

// Destroy destroys the messenger and the instance. Surfaces and devices must be destroyed first.
func (i *Instance) Destroy() {
	if i.debug != nil {
		i.debug.DestroyDebugUtilsMessenger(i.messenger, nil)
	}
	i.driver.DestroyInstance(nil)
}
