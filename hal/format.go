package hal

import "github.com/vkngwrapper/core/v3/core1_0"

var formatTexelSize = map[core1_0.Format]int{
	core1_0.FormatR8UnsignedNormalized:               1,
	core1_0.FormatR8G8UnsignedNormalized:             2,
	core1_0.FormatR8G8B8A8UnsignedNormalized:         4,
	core1_0.FormatR8G8B8A8SRGB:                       4,
	core1_0.FormatB8G8R8A8UnsignedNormalized:         4,
	core1_0.FormatB8G8R8A8SRGB:                       4,
	core1_0.FormatR16SignedFloat:                     2,
	core1_0.FormatR16G16SignedFloat:                  4,
	core1_0.FormatR16G16B16A16SignedFloat:            8,
	core1_0.FormatR32SignedFloat:                     4,
	core1_0.FormatR32G32SignedFloat:                  8,
	core1_0.FormatR32G32B32A32SignedFloat:            16,
	core1_0.FormatD16UnsignedNormalized:              2,
	core1_0.FormatD32SignedFloat:                     4,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt: 4,
	core1_0.FormatD32SignedFloatS8UnsignedInt:        8,
}

// texelSize returns the bytes per texel of format, or 0 if the format is not one the upload path knows
func texelSize(format core1_0.Format) int {
	return formatTexelSize[format]
}

func isDepthFormat(format core1_0.Format) bool {
	switch format {
	case core1_0.FormatD16UnsignedNormalized, core1_0.FormatD32SignedFloat,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, core1_0.FormatD32SignedFloatS8UnsignedInt:
		return true
	}
	return false
}

func formatAspect(format core1_0.Format) core1_0.ImageAspectFlags {
	switch format {
	case core1_0.FormatD16UnsignedNormalized, core1_0.FormatD32SignedFloat:
		return core1_0.ImageAspectDepth
	case core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, core1_0.FormatD32SignedFloatS8UnsignedInt:
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	}
	return core1_0.ImageAspectColor
}
