package gpu

import (
	"github.com/kytyemu/kytyemu/internal/pm4"
	"github.com/kytyemu/kytyemu/internal/render"
)

// vertexTableWindow is how much of the guest's vertex-buffer table this
// backend treats as live when a draw references it by its base sgpr:
// the command processor does not mirror a per-slot size register, so a
// draw's actual vertex-data footprint is approximated by this window
// rather than read out of hardware state that does not exist yet.
const vertexTableWindow = 64 * 1024

// DrawIndex services IT_DRAW_INDEX_2 and the NOP draw-index subtype: it
// routes the index buffer, any bound vertex table, and the depth/color
// targets through the gpumem cache, resolves the framebuffer/pipeline/
// descriptor set for this draw's state, and records the resulting
// barrier into the active command buffer.
func (b *Backend) DrawIndex(ctx *pm4.HardwareContext, ucfg *pm4.UserConfig, indexType uint32, indexBase uint64, indexCount uint32, instances uint32) {
	b.ctx.Lock()
	defer b.ctx.Unlock()

	_, indexSize := render.IndexTypeAndSize(indexType)
	if indexBase != 0 && indexCount != 0 {
		size := uint64(indexCount) * uint64(indexSize)
		b.cache.CreateObject([]uint64{indexBase}, []uint64{size}, b.indexBufferParams(size))
	}
	b.draw(ctx)
}

// DrawIndexAuto services IT_DRAW_INDEX_AUTO: same render-state routing
// as DrawIndex, minus an index buffer since the GPU generates indices
// itself.
func (b *Backend) DrawIndexAuto(ctx *pm4.HardwareContext, ucfg *pm4.UserConfig, indexCount uint32, instances uint32) {
	b.ctx.Lock()
	defer b.ctx.Unlock()
	b.draw(ctx)
}

// DispatchDirect services IT_DISPATCH_DIRECT: compute work has no
// render targets, so only the pipeline cache is consulted, keyed by
// the bound compute shader.
func (b *Backend) DispatchDirect(ctx *pm4.HardwareContext, dimX, dimY, dimZ uint32) {
	b.ctx.Lock()
	defer b.ctx.Unlock()

	key := render.PipelineKey{CSShaderID: ctx.CS.ShaderID}
	b.ctx.Pipelines.Get(key, b.currentFenceGen(), b.newPlaceholderPipeline)
	b.barrier()
}

func (b *Backend) draw(ctx *pm4.HardwareContext) {
	if vtable := ctx.VS.UserSgpr[0]; vtable != 0 {
		b.cache.CreateObject([]uint64{vtable}, []uint64{vertexTableWindow}, b.vertexBufferParams(vertexTableWindow))
	}

	width, height := ctx.GenericScissor.Right-ctx.GenericScissor.Left, ctx.GenericScissor.Bottom-ctx.GenericScissor.Top

	var colorInfo render.RenderColorInfo
	colorBound := false
	if rt := ctx.RenderTargets[0]; rt.Base != 0 {
		colorInfo = render.BuildRenderColorInfo(b.videoOutLookup, rt.Base)
		colorBound = true
		width, height = colorInfo.Width, colorInfo.Height
		size := uint64(colorInfo.Pitch) * uint64(colorInfo.Height)
		b.cache.CreateObject([]uint64{colorInfo.Base}, []uint64{size}, b.colorImageParams(colorInfo))
	}

	var depthImageID uint64
	if depth := ctx.Depth; depth.ZReadBase != 0 {
		htile := depth.HtileBase != 0
		depthInfo := render.BuildRenderDepthInfo(uint64(depth.ZInfo), uint64(depth.StencilInfo),
			depth.ZReadBase, depth.StencilReadBase, depth.HtileBase,
			width, height, htile, b.neoMode, depth.DepthClear)
		size := uint64(depthInfo.DepthSize) + uint64(depthInfo.StencilSize) + uint64(depthInfo.HtileSize)
		b.cache.CreateObject([]uint64{depth.ZReadBase}, []uint64{size}, b.depthStencilParams(depthInfo))
		depthImageID = depth.ZReadBase
	}

	var videoImageID uint64
	if colorBound {
		videoImageID = colorInfo.Base
	}
	fbKey := render.FramebufferKey{VideoImageID: videoImageID, DepthImageID: depthImageID}
	fb := b.ctx.Framebuffers.Get(fbKey, ctx.Depth.ZInfo&0xf, width, height)

	pipelineKey := render.PipelineKey{
		RenderPassID: fb.RenderPassID,
		VSShaderID:   ctx.VS.ShaderID,
		PSShaderID:   ctx.PS.ShaderID,
	}
	b.ctx.Pipelines.Get(pipelineKey, b.currentFenceGen(), b.newPlaceholderPipeline)

	descKey := render.DescriptorKey{Stage: render.StagePixel}
	b.ctx.Descriptors.Get(descKey, nil)

	b.barrier()
}

// newPlaceholderPipeline stands in for a compiled graphics/compute
// pipeline: building the real object needs the recompiler's shader
// module output, which this core does not produce.
func (b *Backend) newPlaceholderPipeline() any {
	return b.nextResourceID()
}
