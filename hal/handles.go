package hal

// handle addresses one entry of one heap. The zero value is invalid.
type handle struct {
	heap uint32
	id   uint32
}

// Valid returns false for the zero handle. A valid handle may still be stale.
func (h handle) Valid() bool {
	return h.heap != 0 && h.id != 0
}

type HeapHandle struct {
	id uint32
}

func (h HeapHandle) Valid() bool {
	return h.id != 0
}

type BufferHandle struct{ handle }
type TextureHandle struct{ handle }
type SamplerHandle struct{ handle }
type RenderTargetHandle struct{ handle }
type ProgramHandle struct{ handle }
type KernelHandle struct{ handle }

type EncoderPoolHandle struct {
	device uint32
	id     uint32
}

func (h EncoderPoolHandle) Valid() bool {
	return h.device != 0 && h.id != 0
}

// ContextHandle addresses one command context of one encoder pool
type ContextHandle struct {
	device uint32
	pool   uint32
	id     uint32
}

func (h ContextHandle) Valid() bool {
	return h.device != 0 && h.pool != 0 && h.id != 0
}

// Pool returns the encoder pool the context was created from
func (h ContextHandle) Pool() EncoderPoolHandle {
	return EncoderPoolHandle{device: h.device, id: h.pool}
}
