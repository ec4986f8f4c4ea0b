package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_1"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// wrapResult classifies a failed native call so the core can tell recoverable failures apart
func wrapResult(res common.VkResult, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrapf(err, format, args...)
	switch res {
	case core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfDeviceMemory:
		return errors.Mark(wrapped, driver.ErrOutOfMemory)
	case core1_1.VkErrorOutOfPoolMemory, core1_0.VKErrorFragmentedPool:
		return errors.Mark(wrapped, driver.ErrPoolExhausted)
	case khr_swapchain.VKErrorOutOfDate:
		return errors.Mark(wrapped, driver.ErrOutOfDate)
	}
	return wrapped
}
