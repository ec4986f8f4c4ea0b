package hal

import (
	"github.com/jkleinecke/rhi/hal/barrier"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type ResourceState = barrier.ResourceState

type QueueType = barrier.QueueType

const (
	QueueGraphics = barrier.QueueGraphics
	QueueCompute  = barrier.QueueCompute
	QueueTransfer = barrier.QueueTransfer
)

// QueueOwnership marks a barrier as one half of a transfer of a resource between queue families. The
// releasing queue records OwnershipRelease and the acquiring queue records a matching OwnershipAcquire;
// the caller orders the two submissions.
type QueueOwnership int

const (
	OwnershipKeep QueueOwnership = iota
	OwnershipRelease
	OwnershipAcquire
)

type BufferBarrier struct {
	Buffer    BufferHandle
	Before    ResourceState
	After     ResourceState
	Ownership QueueOwnership
	// OtherQueue is the queue ownership is released to or acquired from
	OtherQueue QueueType
}

type TextureBarrier struct {
	Texture    TextureHandle
	Before     ResourceState
	After      ResourceState
	Ownership  QueueOwnership
	OtherQueue QueueType
}

type RenderTargetBarrier struct {
	RenderTarget RenderTargetHandle
	Before       ResourceState
	After        ResourceState
	Ownership    QueueOwnership
	OtherQueue   QueueType
}

// barrierBuilder accumulates the barriers of one CmdResourceBarrier call
type barrierBuilder struct {
	queueType QueueType
	family    int
	families  [3]int

	srcStages core1_0.PipelineStageFlags
	dstStages core1_0.PipelineStageFlags
	buffers   []driver.BufferBarrier
	images    []driver.ImageBarrier
}

// transition returns the access masks and queue family indices for one resource, folding its stages into
// the aggregate masks
func (b *barrierBuilder) transition(before, after ResourceState, ownership QueueOwnership, other QueueType) (srcAccess, dstAccess core1_0.AccessFlags, srcFamily, dstFamily int) {
	srcAccess, dstAccess = barrier.TransitionAccess(before, after)
	srcFamily, dstFamily = driver.QueueFamilyIgnored, driver.QueueFamilyIgnored

	otherFamily := b.families[other]
	if otherFamily != b.family {
		switch ownership {
		case OwnershipRelease:
			srcFamily, dstFamily = b.family, otherFamily
			dstAccess = 0
		case OwnershipAcquire:
			srcFamily, dstFamily = otherFamily, b.family
			srcAccess = 0
		}
	}

	b.srcStages |= barrier.PipelineStages(srcAccess, b.queueType)
	b.dstStages |= barrier.PipelineStages(dstAccess, b.queueType)
	return srcAccess, dstAccess, srcFamily, dstFamily
}

func (b *barrierBuilder) addImage(image driver.Image, aspect core1_0.ImageAspectFlags, levels int, before, after ResourceState, ownership QueueOwnership, other QueueType) {
	srcAccess, dstAccess, srcFamily, dstFamily := b.transition(before, after, ownership, other)
	b.images = append(b.images, driver.ImageBarrier{
		Image:               image,
		SrcAccess:           srcAccess,
		DstAccess:           dstAccess,
		OldLayout:           barrier.ImageLayout(before),
		NewLayout:           barrier.ImageLayout(after),
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		Aspect:              aspect,
		Levels:              levels,
	})
}

func (b *barrierBuilder) record(cmd driver.CmdBuffer) error {
	if len(b.buffers) == 0 && len(b.images) == 0 {
		return nil
	}
	return cmd.PipelineBarrier(b.srcStages, b.dstStages, b.buffers, b.images)
}

// transitionImage records a single-image layout transition on a graphics queue
func transitionImage(cmd driver.CmdBuffer, image driver.Image, aspect core1_0.ImageAspectFlags, levels int, before, after ResourceState) error {
	builder := barrierBuilder{queueType: QueueGraphics}
	builder.addImage(image, aspect, levels, before, after, OwnershipKeep, QueueGraphics)
	err := builder.record(cmd)
	if err != nil {
		return nativeError(err, "failed to record image transition")
	}
	return nil
}

func checkOwnership(ownership QueueOwnership, other QueueType) error {
	if ownership < OwnershipKeep || ownership > OwnershipAcquire {
		return invalidParameter("unknown queue ownership %d", ownership)
	}
	if ownership != OwnershipKeep && (other < QueueGraphics || other > QueueTransfer) {
		return invalidParameter("unknown queue type %d", other)
	}
	return nil
}

// CmdResourceBarrier translates every barrier and records them as one native pipeline barrier whose
// stage masks are the union of each resource's stages on the context's queue
func (d *Device) CmdResourceBarrier(h ContextHandle, buffers []BufferBarrier, textures []TextureBarrier, renderTargets []RenderTargetBarrier) error {
	ctx, err := d.recordingContext(h)
	if err != nil {
		return err
	}
	if ctx.pass != nil {
		return invalidOperation("resource barrier inside a render pass")
	}

	d.heapLock.RLock()
	defer d.heapLock.RUnlock()

	builder := barrierBuilder{
		queueType: ctx.pool.queueType,
		family:    ctx.pool.family,
		families:  d.queueFamilies,
	}

	for _, bb := range buffers {
		_, buf, err := d.lookupBuffer(bb.Buffer)
		if err != nil {
			return err
		}
		err = checkOwnership(bb.Ownership, bb.OtherQueue)
		if err != nil {
			return err
		}
		srcAccess, dstAccess, srcFamily, dstFamily := builder.transition(bb.Before, bb.After, bb.Ownership, bb.OtherQueue)
		builder.buffers = append(builder.buffers, driver.BufferBarrier{
			Buffer:              buf.native,
			SrcAccess:           srcAccess,
			DstAccess:           dstAccess,
			SrcQueueFamilyIndex: srcFamily,
			DstQueueFamilyIndex: dstFamily,
			Size:                buf.desc.Size,
		})
	}

	for _, tb := range textures {
		_, t, err := d.lookupTexture(tb.Texture)
		if err != nil {
			return err
		}
		err = checkOwnership(tb.Ownership, tb.OtherQueue)
		if err != nil {
			return err
		}
		builder.addImage(t.image, t.aspect, t.desc.MipLevels, tb.Before, tb.After, tb.Ownership, tb.OtherQueue)
	}

	for _, rb := range renderTargets {
		rt, err := d.lookupRenderTarget(rb.RenderTarget)
		if err != nil {
			return err
		}
		err = checkOwnership(rb.Ownership, rb.OtherQueue)
		if err != nil {
			return err
		}
		builder.addImage(rt.image, rt.aspect, 1, rb.Before, rb.After, rb.Ownership, rb.OtherQueue)
	}

	err = builder.record(ctx.cmd())
	if err != nil {
		return nativeError(err, "failed to record resource barrier")
	}
	return nil
}
