package hal

import (
	"log/slog"

	"github.com/dolthub/swiss"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// renderPassKey identifies an ordered set of attachments. Color targets occupy the leading slots in
// binding order; the depth target, if any, always occupies the last slot.
type renderPassKey struct {
	colors  int
	targets [MaxColorTargets + 1]RenderTargetHandle
}

func newRenderPassKey(colors []RenderTargetHandle, depth RenderTargetHandle) renderPassKey {
	key := renderPassKey{colors: len(colors)}
	copy(key.targets[:], colors)
	key.targets[MaxColorTargets] = depth
	return key
}

func (k renderPassKey) contains(target RenderTargetHandle) bool {
	for i := 0; i < k.colors; i++ {
		if k.targets[i] == target {
			return true
		}
	}
	return k.targets[MaxColorTargets] == target
}

type renderPassEntry struct {
	key         renderPassKey
	pass        driver.RenderPass
	framebuffer driver.Framebuffer
	extent      core1_0.Extent2D
	clears      []core1_0.ClearValue

	// lastUsedInFrameIndex is the swap chain index current when the entry was last bound
	lastUsedInFrameIndex int
}

func (e *renderPassEntry) destroy() {
	e.framebuffer.Destroy()
	e.pass.Destroy()
	e.framebuffer = nil
	e.pass = nil
	e.clears = e.clears[:0]
}

// attachment is the part of a render target a render pass is built from
type attachment struct {
	format  core1_0.Format
	samples core1_0.SampleCountFlags
	load    LoadOp
	depth   bool
	layout  core1_0.ImageLayout
}

func targetAttachment(rt *renderTarget) attachment {
	return attachment{
		format:  rt.desc.Format,
		samples: rt.desc.Samples,
		load:    rt.desc.Load,
		depth:   rt.depth,
		layout:  rt.attachmentLayout(),
	}
}

// renderPassInfo builds a single-subpass render pass. Every attachment is stored and left in its
// attachment layout.
func renderPassInfo(colors []attachment, depth *attachment) core1_0.RenderPassCreateInfo {
	var info core1_0.RenderPassCreateInfo
	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
	}

	describe := func(a attachment) core1_0.AttachmentDescription {
		initial := core1_0.ImageLayoutUndefined
		if a.load == LoadLoad {
			initial = a.layout
		}

		description := core1_0.AttachmentDescription{
			Format:         a.format,
			Samples:        a.samples,
			LoadOp:         a.load.native(),
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  initial,
			FinalLayout:    a.layout,
		}
		if formatAspect(a.format)&core1_0.ImageAspectStencil != 0 {
			description.StencilLoadOp = a.load.native()
			description.StencilStoreOp = core1_0.AttachmentStoreOpStore
		}
		return description
	}

	var stages core1_0.PipelineStageFlags
	var access core1_0.AccessFlags

	for _, color := range colors {
		subpass.ColorAttachments = append(subpass.ColorAttachments, core1_0.AttachmentReference{
			Attachment: len(info.Attachments),
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
		info.Attachments = append(info.Attachments, describe(color))
	}
	if len(colors) > 0 {
		stages |= core1_0.PipelineStageColorAttachmentOutput
		access |= core1_0.AccessColorAttachmentWrite
	}

	if depth != nil {
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: len(info.Attachments),
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		info.Attachments = append(info.Attachments, describe(*depth))
		stages |= core1_0.PipelineStageEarlyFragmentTests
		access |= core1_0.AccessDepthStencilAttachmentWrite
	}

	info.Subpasses = []core1_0.SubpassDescription{subpass}
	info.SubpassDependencies = []core1_0.SubpassDependency{
		{
			SrcSubpass: core1_0.SubpassExternal,
			DstSubpass: 0,

			SrcStageMask:  stages,
			SrcAccessMask: 0,

			DstStageMask:  stages,
			DstAccessMask: access,
		},
	}
	return info
}

// renderPassCache maps ordered attachment sets to the render pass and framebuffer built for them.
// Entries are only ever evicted explicitly.
type renderPassCache struct {
	logger  *slog.Logger
	gpu     driver.GPU
	entries *swiss.Map[renderPassKey, *renderPassEntry]
	free    []*renderPassEntry

	hits   int
	misses int
}

func newRenderPassCache(logger *slog.Logger, gpu driver.GPU) *renderPassCache {
	return &renderPassCache{
		logger:  logger,
		gpu:     gpu,
		entries: swiss.NewMap[renderPassKey, *renderPassEntry](16),
	}
}

// resolve returns the cached entry for key, building it from the resolved targets on a miss
func (c *renderPassCache) resolve(key renderPassKey, colors []*renderTarget, depth *renderTarget) (*renderPassEntry, error) {
	entry, ok := c.entries.Get(key)
	if ok {
		c.hits++
		return entry, nil
	}

	var extent core1_0.Extent2D
	targets := append([]*renderTarget(nil), colors...)
	if depth != nil {
		targets = append(targets, depth)
	}
	for i, rt := range targets {
		if i == 0 {
			extent = rt.extent()
		} else if rt.extent() != extent {
			return nil, invalidParameter("render target %q is %dx%d but the pass is %dx%d",
				rt.desc.Name, rt.desc.Width, rt.desc.Height, extent.Width, extent.Height)
		}
	}

	colorAttachments := make([]attachment, 0, len(colors))
	for _, rt := range colors {
		colorAttachments = append(colorAttachments, targetAttachment(rt))
	}
	var depthAttachment *attachment
	if depth != nil {
		a := targetAttachment(depth)
		depthAttachment = &a
	}

	pass, err := c.gpu.CreateRenderPass(renderPassInfo(colorAttachments, depthAttachment))
	if err != nil {
		return nil, nativeError(err, "failed to create render pass")
	}

	views := make([]driver.ImageView, 0, len(targets))
	for _, rt := range targets {
		views = append(views, rt.view)
	}
	framebuffer, err := c.gpu.CreateFramebuffer(pass, views, extent.Width, extent.Height)
	if err != nil {
		pass.Destroy()
		return nil, nativeError(err, "failed to create framebuffer")
	}

	if len(c.free) > 0 {
		entry = c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
	} else {
		entry = &renderPassEntry{}
	}
	entry.key = key
	entry.pass = pass
	entry.framebuffer = framebuffer
	entry.extent = extent
	for _, rt := range targets {
		entry.clears = append(entry.clears, rt.clearValue())
	}

	c.misses++
	c.entries.Put(key, entry)
	c.logger.Debug("renderPassCache::resolve", slog.Int("Attachments", len(targets)), slog.Int("Width", extent.Width), slog.Int("Height", extent.Height))
	return entry, nil
}

func (c *renderPassCache) evict(key renderPassKey, entry *renderPassEntry) {
	c.entries.Delete(key)
	entry.destroy()
	c.free = append(c.free, entry)
}

func (c *renderPassCache) evictWhere(predicate func(entry *renderPassEntry) bool) int {
	var doomed []*renderPassEntry
	c.entries.Iter(func(_ renderPassKey, entry *renderPassEntry) bool {
		if predicate(entry) {
			doomed = append(doomed, entry)
		}
		return false
	})

	for _, entry := range doomed {
		c.evict(entry.key, entry)
	}
	return len(doomed)
}

// evictTarget destroys every entry the target participates in
func (c *renderPassCache) evictTarget(target RenderTargetHandle) int {
	return c.evictWhere(func(entry *renderPassEntry) bool {
		return entry.key.contains(target)
	})
}

// evictUnused destroys every entry not bound while swapIndex was current
func (c *renderPassCache) evictUnused(swapIndex int) int {
	return c.evictWhere(func(entry *renderPassEntry) bool {
		return entry.lastUsedInFrameIndex != swapIndex
	})
}

func (c *renderPassCache) len() int {
	return c.entries.Count()
}

func (c *renderPassCache) destroy() {
	c.evictWhere(func(*renderPassEntry) bool { return true })
	c.free = nil
}
