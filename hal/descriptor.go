package hal

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// descriptorPoolRatios sizes each native pool: the count of each descriptor type is its ratio times the
// number of sets a pool holds
var descriptorPoolRatios = []struct {
	descriptorType core1_0.DescriptorType
	ratio          float32
}{
	{core1_0.DescriptorTypeSampler, 0.5},
	{core1_0.DescriptorTypeCombinedImageSampler, 4},
	{core1_0.DescriptorTypeSampledImage, 4},
	{core1_0.DescriptorTypeStorageImage, 1},
	{core1_0.DescriptorTypeUniformBuffer, 2},
	{core1_0.DescriptorTypeStorageBuffer, 2},
	{core1_0.DescriptorTypeUniformBufferDynamic, 1},
	{core1_0.DescriptorTypeStorageBufferDynamic, 1},
	{core1_0.DescriptorTypeInputAttachment, 0.5},
}

func descriptorPoolInfo(setsPerPool int) core1_0.DescriptorPoolCreateInfo {
	info := core1_0.DescriptorPoolCreateInfo{MaxSets: setsPerPool}
	for _, r := range descriptorPoolRatios {
		info.PoolSizes = append(info.PoolSizes, core1_0.DescriptorPoolSize{
			Type:            r.descriptorType,
			DescriptorCount: max(int(r.ratio*float32(setsPerPool)), 1),
		})
	}
	return info
}

// DescriptorStats reports the native descriptor pools the device has created
type DescriptorStats struct {
	PoolsCreated int
	PoolsInUse   int
	PoolsFree    int
}

// descriptorAllocator hands out descriptor sets from per-frame-slot lists of pools. The last pool in a
// slot's list is the one being allocated from; the rest are exhausted. Resetting a slot resets its pools
// natively and moves them to a free list shared by all slots.
type descriptorAllocator struct {
	logger  *slog.Logger
	newPool func() (driver.DescriptorPool, error)

	used    [FramesInFlight][]driver.DescriptorPool
	free    []driver.DescriptorPool
	created int
}

func newDescriptorAllocator(logger *slog.Logger, newPool func() (driver.DescriptorPool, error)) *descriptorAllocator {
	return &descriptorAllocator{
		logger:  logger,
		newPool: newPool,
	}
}

func (a *descriptorAllocator) grabPool(slot int) (driver.DescriptorPool, error) {
	var pool driver.DescriptorPool
	if len(a.free) > 0 {
		pool = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	} else {
		var err error
		pool, err = a.newPool()
		if err != nil {
			return nil, nativeError(err, "failed to create descriptor pool")
		}
		a.created++
		a.logger.Debug("descriptorAllocator::grabPool", slog.Int("Slot", slot), slog.Int("PoolsCreated", a.created))
	}

	a.used[slot] = append(a.used[slot], pool)
	return pool, nil
}

// allocate returns a set for layout from slot's current pool. An exhausted pool is retired and the
// allocation retried exactly once against a fresh pool.
func (a *descriptorAllocator) allocate(slot int, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	pools := a.used[slot]
	if len(pools) > 0 {
		set, err := pools[len(pools)-1].Allocate(layout)
		if err == nil {
			return set, nil
		} else if !errors.Is(err, driver.ErrPoolExhausted) {
			return nil, nativeError(err, "failed to allocate descriptor set")
		}
	}

	pool, err := a.grabPool(slot)
	if err != nil {
		return nil, err
	}

	set, err := pool.Allocate(layout)
	if errors.Is(err, driver.ErrPoolExhausted) {
		return nil, errors.Mark(errors.Wrap(err, "a fresh descriptor pool could not hold the set"), ErrOutOfMemory)
	} else if err != nil {
		return nil, nativeError(err, "failed to allocate descriptor set")
	}
	return set, nil
}

// reset reclaims every set allocated in slot. The slot's pools must no longer be in use by the device.
func (a *descriptorAllocator) reset(slot int) error {
	for i, pool := range a.used[slot] {
		err := pool.Reset()
		if err != nil {
			a.used[slot] = append(a.used[slot][:0], a.used[slot][i:]...)
			return nativeError(err, "failed to reset descriptor pool")
		}
		a.free = append(a.free, pool)
	}
	a.used[slot] = a.used[slot][:0]
	return nil
}

func (a *descriptorAllocator) stats() DescriptorStats {
	stats := DescriptorStats{
		PoolsCreated: a.created,
		PoolsFree:    len(a.free),
	}
	for _, pools := range a.used {
		stats.PoolsInUse += len(pools)
	}
	return stats
}

func (a *descriptorAllocator) destroy() {
	for slot, pools := range a.used {
		for _, pool := range pools {
			pool.Destroy()
		}
		a.used[slot] = nil
	}
	for _, pool := range a.free {
		pool.Destroy()
	}
	a.free = nil
}
