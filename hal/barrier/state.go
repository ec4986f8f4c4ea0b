// Package barrier translates abstract resource states into the access masks, image layouts and pipeline
// stages a native pipeline barrier needs. Every function in the package is pure.
package barrier

import "github.com/vkngwrapper/core/v3/common"

// ResourceState is a set of ways a resource may be in use at a point in a command stream
type ResourceState uint32

const (
	StateUndefined ResourceState = 0

	StateVertexAndConstantBuffer ResourceState = 1 << (iota - 1)
	StateIndexBuffer
	StateRenderTarget
	StateUnorderedAccess
	StateDepthWrite
	StateNonPixelShaderResource
	StatePixelShaderResource
	StateStreamOut
	StateIndirectArgument
	StateCopyDst
	StateCopySrc
	StatePresent
	StateCommon
	// StateAccelerationStructure is reserved and has no native mapping
	StateAccelerationStructure
	// StateShadingRateSource is reserved and has no native mapping
	StateShadingRateSource

	StateShaderResource = StateNonPixelShaderResource | StatePixelShaderResource
)

var resourceStateMapping = common.NewFlagStringMapping[ResourceState]()

func (s ResourceState) Register(str string) {
	resourceStateMapping.Register(s, str)
}

func (s ResourceState) String() string {
	return resourceStateMapping.FlagsToString(s)
}

func init() {
	StateVertexAndConstantBuffer.Register("VertexAndConstantBuffer")
	StateIndexBuffer.Register("IndexBuffer")
	StateRenderTarget.Register("RenderTarget")
	StateUnorderedAccess.Register("UnorderedAccess")
	StateDepthWrite.Register("DepthWrite")
	StateNonPixelShaderResource.Register("NonPixelShaderResource")
	StatePixelShaderResource.Register("PixelShaderResource")
	StateStreamOut.Register("StreamOut")
	StateIndirectArgument.Register("IndirectArgument")
	StateCopyDst.Register("CopyDst")
	StateCopySrc.Register("CopySrc")
	StatePresent.Register("Present")
	StateCommon.Register("Common")
	StateAccelerationStructure.Register("AccelerationStructure")
	StateShadingRateSource.Register("ShadingRateSource")
}

// QueueType is the class of hardware queue a command stream executes on
type QueueType int

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
)

var queueTypeMapping = map[QueueType]string{
	QueueGraphics: "Graphics",
	QueueCompute:  "Compute",
	QueueTransfer: "Transfer",
}

func (q QueueType) String() string {
	return queueTypeMapping[q]
}
