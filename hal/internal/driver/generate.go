package driver

//go:generate mockgen -destination=mocks/descriptor_pool.go -package=mocks github.com/jkleinecke/rhi/hal/internal/driver DescriptorPool,CommandPool
