package hal

import (
	"github.com/vkngwrapper/core/v3/common"
)

// CreateFlags indicate specific device behaviors to activate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// DeviceCreateSynchronized guards the heap table with a reader/writer lock so resources may be
	// created and destroyed from a goroutine other than the one recording commands. Recording and frame
	// operations must still be issued from a single goroutine.
	DeviceCreateSynchronized CreateFlags = 1 << iota
)

func init() {
	DeviceCreateSynchronized.Register("DeviceCreateSynchronized")
}

const (
	// FramesInFlight is the number of frame slots the CPU may record into while the GPU works
	FramesInFlight = 2
	// MaxColorTargets is the largest number of color targets one render pass may bind
	MaxColorTargets = 8
	// MaxDescriptorSets is the largest set index plus one a program may declare
	MaxDescriptorSets = 8

	defaultHeapCapacity          = 1024
	defaultBlockSize             = 16 * 1024 * 1024
	defaultMaxHeaps              = 64
	defaultMaxEncoderPools       = 16
	defaultMaxContexts           = 64
	defaultDescriptorSetsPerPool = 256
	defaultScratchSize           = 1024 * 1024
)

// HeapDesc sizes a resource heap. Zero fields take defaults.
type HeapDesc struct {
	MaxBuffers       int
	MaxTextures      int
	MaxSamplers      int
	MaxRenderTargets int
	MaxPrograms      int
	MaxKernels       int

	// BlockSize is the size of each device memory block the heap sub-allocates from. Resources larger
	// than half a block receive their own allocation.
	BlockSize int
}

func (d HeapDesc) withDefaults() HeapDesc {
	fill := func(value *int, fallback int) {
		if *value <= 0 {
			*value = fallback
		}
	}

	fill(&d.MaxBuffers, defaultHeapCapacity)
	fill(&d.MaxTextures, defaultHeapCapacity)
	fill(&d.MaxSamplers, defaultHeapCapacity)
	fill(&d.MaxRenderTargets, defaultHeapCapacity)
	fill(&d.MaxPrograms, defaultHeapCapacity)
	fill(&d.MaxKernels, defaultHeapCapacity)
	fill(&d.BlockSize, defaultBlockSize)
	return d
}

// CreateOptions contains optional settings when creating a device. It is valid to leave every field
// but Width and Height blank.
type CreateOptions struct {
	Flags CreateFlags

	// Width and Height are the initial drawable size
	Width  int
	Height int

	// DefaultHeap sizes the heap the device creates for itself
	DefaultHeap HeapDesc

	MaxHeaps        int
	MaxEncoderPools int
	// MaxContextsPerPool bounds the number of live contexts in one encoder pool
	MaxContextsPerPool int

	// DescriptorSetsPerPool is the number of sets each native descriptor pool is created to hold
	DescriptorSetsPerPool int

	// ScratchSize is the size in bytes of the per-frame host scratch arena
	ScratchSize int

	// SwapChainClear, when set, makes the swap chain's render targets clear to this value at the start of
	// a render pass. Otherwise their contents are undefined.
	SwapChainClear *ClearValue
}

func (o CreateOptions) withDefaults() CreateOptions {
	o.DefaultHeap = o.DefaultHeap.withDefaults()
	if o.MaxHeaps <= 0 {
		o.MaxHeaps = defaultMaxHeaps
	}
	if o.MaxEncoderPools <= 0 {
		o.MaxEncoderPools = defaultMaxEncoderPools
	}
	if o.MaxContextsPerPool <= 0 {
		o.MaxContextsPerPool = defaultMaxContexts
	}
	if o.DescriptorSetsPerPool <= 0 {
		o.DescriptorSetsPerPool = defaultDescriptorSetsPerPool
	}
	if o.ScratchSize <= 0 {
		o.ScratchSize = defaultScratchSize
	}
	return o
}
