package barrier

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// AccessFlags ORs together the native access flags implied by each bit of state
func AccessFlags(state ResourceState) core1_0.AccessFlags {
	var flags core1_0.AccessFlags

	if state&StateCopySrc != 0 {
		flags |= core1_0.AccessTransferRead
	}
	if state&StateCopyDst != 0 {
		flags |= core1_0.AccessTransferWrite
	}
	if state&StateVertexAndConstantBuffer != 0 {
		flags |= core1_0.AccessUniformRead | core1_0.AccessVertexAttributeRead
	}
	if state&StateIndexBuffer != 0 {
		flags |= core1_0.AccessIndexRead
	}
	if state&StateUnorderedAccess != 0 {
		flags |= core1_0.AccessShaderWrite
	}
	if state&StateIndirectArgument != 0 {
		flags |= core1_0.AccessIndirectCommandRead
	}
	if state&StateRenderTarget != 0 {
		flags |= core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite
	}
	if state&StateDepthWrite != 0 {
		flags |= core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite
	}
	if state&StateShaderResource != 0 {
		flags |= core1_0.AccessShaderRead
	}
	if state&StatePresent != 0 {
		flags |= core1_0.AccessMemoryRead
	}

	return flags
}

// TransitionAccess returns the source and destination access masks for a barrier moving a resource from
// before to after. An unordered-access to unordered-access barrier orders shader writes against both
// the reads and writes that follow, so both sides carry read and write access.
func TransitionAccess(before, after ResourceState) (src core1_0.AccessFlags, dst core1_0.AccessFlags) {
	if before == StateUnorderedAccess && after == StateUnorderedAccess {
		rw := core1_0.AccessShaderRead | core1_0.AccessShaderWrite
		return rw, rw
	}

	return AccessFlags(before), AccessFlags(after)
}

// ImageLayout picks the single native layout for state. A layout holds one value, so the first matching
// bit in priority order wins and the remaining bits are ignored.
func ImageLayout(state ResourceState) core1_0.ImageLayout {
	switch {
	case state&StateCopySrc != 0:
		return core1_0.ImageLayoutTransferSrcOptimal
	case state&StateCopyDst != 0:
		return core1_0.ImageLayoutTransferDstOptimal
	case state&StateRenderTarget != 0:
		return core1_0.ImageLayoutColorAttachmentOptimal
	case state&StateDepthWrite != 0:
		return core1_0.ImageLayoutDepthStencilAttachmentOptimal
	case state&StateUnorderedAccess != 0:
		return core1_0.ImageLayoutGeneral
	case state&StateShaderResource != 0:
		return core1_0.ImageLayoutShaderReadOnlyOptimal
	case state&StatePresent != 0:
		return khr_swapchain.ImageLayoutPresentSrc
	case state&StateCommon != 0:
		return core1_0.ImageLayoutGeneral
	default:
		return core1_0.ImageLayoutUndefined
	}
}

const (
	vertexInputAccess  = core1_0.AccessIndexRead | core1_0.AccessVertexAttributeRead
	shaderAccess       = core1_0.AccessUniformRead | core1_0.AccessShaderRead | core1_0.AccessShaderWrite
	colorAccess        = core1_0.AccessColorAttachmentRead | core1_0.AccessColorAttachmentWrite
	depthStencilAccess = core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite
	transferAccess     = core1_0.AccessTransferRead | core1_0.AccessTransferWrite
	hostAccess         = core1_0.AccessHostRead | core1_0.AccessHostWrite
	graphicsOnlyAccess = vertexInputAccess | core1_0.AccessInputAttachmentRead | colorAccess | depthStencilAccess
)

// PipelineStages returns the pipeline stages that can produce or consume access on a queue of type
// queueType. Access that matches no stage maps to top-of-pipe.
func PipelineStages(access core1_0.AccessFlags, queueType QueueType) core1_0.PipelineStageFlags {
	var flags core1_0.PipelineStageFlags

	switch queueType {
	case QueueTransfer:
		if access != 0 {
			return core1_0.PipelineStageTransfer
		}
		return core1_0.PipelineStageTopOfPipe
	case QueueCompute:
		if access&graphicsOnlyAccess != 0 {
			return core1_0.PipelineStageAllCommands
		}
		if access&shaderAccess != 0 {
			flags |= core1_0.PipelineStageComputeShader
		}
	default:
		if access&vertexInputAccess != 0 {
			flags |= core1_0.PipelineStageVertexInput
		}
		if access&shaderAccess != 0 {
			flags |= core1_0.PipelineStageVertexShader | core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader
		}
		if access&core1_0.AccessInputAttachmentRead != 0 {
			flags |= core1_0.PipelineStageFragmentShader
		}
		if access&colorAccess != 0 {
			flags |= core1_0.PipelineStageColorAttachmentOutput
		}
		if access&depthStencilAccess != 0 {
			flags |= core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests
		}
	}

	if access&core1_0.AccessIndirectCommandRead != 0 {
		flags |= core1_0.PipelineStageDrawIndirect
	}
	if access&transferAccess != 0 {
		flags |= core1_0.PipelineStageTransfer
	}
	if access&hostAccess != 0 {
		flags |= core1_0.PipelineStageHost
	}

	if flags == 0 {
		flags = core1_0.PipelineStageTopOfPipe
	}

	return flags
}
