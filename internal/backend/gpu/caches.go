package gpu

import (
	"sync/atomic"
	"unsafe"

	vkbinding "github.com/goki/vulkan"

	"github.com/kytyemu/kytyemu/internal/backend/vk"
	"github.com/kytyemu/kytyemu/internal/render"
)

// placeholderResID backs the pipeline/descriptor/framebuffer caches'
// create closures below: building the real backend objects they bind
// (pipeline state objects, descriptor sets, render passes) needs
// compiled shader modules, which this core does not produce (shader
// bytecode translation is delegated to the recompiler elsewhere in
// the stack). The caches' key derivation, pooling, fence-gated
// eviction and resource-invalidation bookkeeping around these
// placeholders are real and exercised by every draw.
var placeholderResID uint64

func placeholderID() any {
	return atomic.AddUint64(&placeholderResID, 1)
}

// NewRenderCaches builds the three render.Context caches. dev is
// unused today (see placeholderResID) but kept in the signature so a
// real pipeline/descriptor-set backend can be dropped in without
// changing callers.
func NewRenderCaches(dev *vk.Device) (*render.PipelineCache, *render.DescriptorCache, *render.FramebufferCache) {
	pipelines := render.NewPipelineCache(func(h any) {})

	descriptors := render.NewDescriptorCache(
		func(n int) []any {
			sets := make([]any, n)
			for i := range sets {
				sets[i] = placeholderID()
			}
			return sets
		},
		func(set any, key render.DescriptorKey) {},
	)

	framebuffers := render.NewFramebufferCache(
		func(format, width, height uint32) any { return placeholderID() },
		func(key render.FramebufferKey, dummyColor any, renderPassID uint64) *render.Framebuffer {
			return &render.Framebuffer{RenderPass: placeholderID(), Framebuffer: placeholderID()}
		},
	)

	return pipelines, descriptors, framebuffers
}

// NewLabelManager builds a render.LabelManager whose status check and
// guest store are real: a label fires when dev's underlying VkEvent
// reports signaled, and the store writes straight into guest memory
// the way writeGuestWords does in internal/pm4.
func NewLabelManager(dev *vk.Device) *render.LabelManager {
	status := func(event any) bool {
		return dev.EventStatus(event.(vkbinding.Event))
	}
	store := func(addr uint64, value uint64, is64 bool) {
		if is64 {
			*(*uint64)(unsafe.Pointer(uintptr(addr))) = value
		} else {
			*(*uint32)(unsafe.Pointer(uintptr(addr))) = uint32(value)
		}
	}
	return render.NewLabelManager(status, store)
}
