package render

// FramebufferKey identifies a cached render pass + framebuffer.
type FramebufferKey struct {
	VideoImageID     uint64
	DepthImageID     uint64
	DepthClearEnable bool
}

type dummyColorKey struct {
	Format        uint32
	Width, Height uint32
}

// Framebuffer bundles the backend render pass and framebuffer handles
// a draw call needs.
type Framebuffer struct {
	RenderPass  any
	Framebuffer any
	RenderPassID uint64
}

// FramebufferCache synthesizes a render pass + framebuffer on miss.
// Render-pass ids are a global monotonic counter; depth-only passes
// borrow a dummy color attachment sized to match, one per distinct
// {format,width,height}, so the backend never needs a depth-only
// render pass variant.
type FramebufferCache struct {
	entries    map[FramebufferKey]*Framebuffer
	dummyColor map[dummyColorKey]any

	nextRenderPassID uint64

	createDummyColor func(format, width, height uint32) any
	synthesize       func(key FramebufferKey, dummyColor any, renderPassID uint64) *Framebuffer
}

func NewFramebufferCache(
	createDummyColor func(format, width, height uint32) any,
	synthesize func(key FramebufferKey, dummyColor any, renderPassID uint64) *Framebuffer,
) *FramebufferCache {
	return &FramebufferCache{
		entries:          make(map[FramebufferKey]*Framebuffer),
		dummyColor:       make(map[dummyColorKey]any),
		createDummyColor: createDummyColor,
		synthesize:       synthesize,
	}
}

// Get returns the cached framebuffer for key, synthesizing one on
// miss. depthFormat/width/height are only consulted when
// key.VideoImageID == 0 (a depth-only pass), to look up or create the
// matching dummy color attachment.
func (c *FramebufferCache) Get(key FramebufferKey, depthFormat, width, height uint32) *Framebuffer {
	if fb, ok := c.entries[key]; ok {
		return fb
	}
	var dummy any
	if key.VideoImageID == 0 {
		dk := dummyColorKey{Format: depthFormat, Width: width, Height: height}
		d, ok := c.dummyColor[dk]
		if !ok {
			d = c.createDummyColor(depthFormat, width, height)
			c.dummyColor[dk] = d
		}
		dummy = d
	}
	c.nextRenderPassID++
	fb := c.synthesize(key, dummy, c.nextRenderPassID)
	fb.RenderPassID = c.nextRenderPassID
	c.entries[key] = fb
	return fb
}
