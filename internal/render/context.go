package render

import "sync"

// commandPool is a thread-local lazily-allocated backend command
// buffer plus its fence and semaphore, allocated on first use by the
// thread that owns it.
type commandPool struct {
	buffer    any
	fence     any
	semaphore any
}

// CommandPoolBackend allocates the objects a commandPool needs on
// first touch.
type CommandPoolBackend interface {
	NewCommandBuffer() any
	NewFence() any
	NewSemaphore() any
}

// Context is the render engine: it owns the pipeline, descriptor,
// framebuffer and GDS caches plus the label manager, all behind a
// single render-wide mutex, and hands out a lazily-initialized
// command pool per caller-supplied thread id.
type Context struct {
	mu sync.Mutex

	Pipelines    *PipelineCache
	Descriptors  *DescriptorCache
	Framebuffers *FramebufferCache
	GDS          GDS
	Labels       *LabelManager

	backend CommandPoolBackend
	pools   map[uint64]*commandPool // keyed by caller-supplied thread id
}

func NewContext(backend CommandPoolBackend, pipelines *PipelineCache, descriptors *DescriptorCache,
	framebuffers *FramebufferCache, labels *LabelManager) *Context {
	return &Context{
		backend:      backend,
		Pipelines:    pipelines,
		Descriptors:  descriptors,
		Framebuffers: framebuffers,
		Labels:       labels,
		pools:        make(map[uint64]*commandPool),
	}
}

// CommandPool returns the command pool for threadID, allocating one
// (buffer + fence + semaphore) on first use.
func (c *Context) CommandPool(threadID uint64) (buffer, fence, semaphore any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[threadID]
	if !ok {
		p = &commandPool{
			buffer:    c.backend.NewCommandBuffer(),
			fence:     c.backend.NewFence(),
			semaphore: c.backend.NewSemaphore(),
		}
		c.pools[threadID] = p
	}
	return p.buffer, p.fence, p.semaphore
}

// Lock/Unlock expose the render-wide mutex so a draw call can hold it
// across a pipeline lookup, descriptor bind and framebuffer fetch as
// one atomic step, matching the original's single coarse render lock.
func (c *Context) Lock()   { c.mu.Lock() }
func (c *Context) Unlock() { c.mu.Unlock() }
