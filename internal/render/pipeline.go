package render

import "math/rand"

// maxPipelines is the pipeline cache size at which inserting a new entry
// first evicts a random entry whose last use has fenced; when no entry
// has fenced, nothing is evicted and the cache grows past this size.
const maxPipelines = 16

// PipelineParameters is the fixed-layout, byte-comparable state a
// pipeline key hashes alongside the shader/render-pass ids: viewport
// transform, scissor rect, topology, depth/stencil state, color write
// mask, cull mode and blend state.
type PipelineParameters struct {
	ViewportXScale, ViewportXOffset float32
	ViewportYScale, ViewportYOffset float32
	ViewportZScale, ViewportZOffset float32

	ScissorLeft, ScissorTop, ScissorRight, ScissorBottom uint32

	PrimitiveTopology uint32

	DepthEnable    bool
	DepthCompareOp uint32
	DepthBoundsMin float32
	DepthBoundsMax float32
	StencilEnable  bool

	ColorWriteMask uint32
	CullMode       uint32

	BlendSrcColor, BlendDstColor, BlendOpColor uint32
	BlendSrcAlpha, BlendDstAlpha, BlendOpAlpha uint32
	SeparateAlpha                              bool
}

// PipelineKey identifies a cached pipeline. CSShaderID is zero for a
// graphics pipeline (keyed by render pass + VS/PS) and the only
// nonzero field for a compute pipeline.
type PipelineKey struct {
	RenderPassID uint64
	VSShaderID   uint64
	PSShaderID   uint64
	CSShaderID   uint64
	Params       PipelineParameters
}

// Pipeline is the backend-owned handle plus the fence generation it
// was last submitted under, so the cache knows it is safe to evict
// once that submission has completed.
type Pipeline struct {
	Handle       any
	FenceGen     uint64
	lastFenceGen uint64
}

// PipelineCache keeps up to maxPipelines live pipelines, evicting a
// random entry whose last use has fenced on overflow — the same
// discipline the original applies rather than LRU, since pipeline
// construction cost does not correlate with recency here. When no
// entry has fenced yet, the new pipeline is inserted without an
// eviction and the cache holds more than maxPipelines entries.
type PipelineCache struct {
	entries map[PipelineKey]*Pipeline
	destroy func(h any)
	currentFence uint64
}

func NewPipelineCache(destroy func(h any)) *PipelineCache {
	return &PipelineCache{entries: make(map[PipelineKey]*Pipeline), destroy: destroy}
}

// AdvanceFence marks the current submission generation as fenced: any
// pipeline last used at or before gen is now safe to evict.
func (c *PipelineCache) AdvanceFence(gen uint64) {
	if gen > c.currentFence {
		c.currentFence = gen
	}
}

// Get returns the cached pipeline for key, or creates one via create
// (which builds the backend object, issuing ShaderRecompileVS/PS as
// needed) and inserts it, evicting a random fenced entry first if the
// cache is full.
func (c *PipelineCache) Get(key PipelineKey, fenceGen uint64, create func() any) *Pipeline {
	if p, ok := c.entries[key]; ok {
		p.lastFenceGen = fenceGen
		return p
	}
	if len(c.entries) >= maxPipelines {
		c.evictOne()
	}
	p := &Pipeline{Handle: create(), lastFenceGen: fenceGen}
	c.entries[key] = p
	return p
}

func (c *PipelineCache) evictOne() {
	victims := make([]PipelineKey, 0, len(c.entries))
	for k, p := range c.entries {
		if p.lastFenceGen <= c.currentFence {
			victims = append(victims, k)
		}
	}
	if len(victims) == 0 {
		return
	}
	k := victims[rand.Intn(len(victims))]
	if c.destroy != nil {
		c.destroy(c.entries[k].Handle)
	}
	delete(c.entries, k)
}
