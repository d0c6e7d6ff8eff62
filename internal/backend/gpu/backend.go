// Package gpu implements pm4.Backend against internal/render's pipeline,
// descriptor, framebuffer and label caches, internal/gpumem's CPU<->GPU
// object cache, and internal/backend/vk's Vulkan device wrapper. It is
// the seam the command processor and the render engine meet at: every
// draw/dispatch the processor decodes flows through here into a real
// backing object in the cache and a real command buffer on the device.
//
// Command buffer recording here stops short of the final
// vkCmdBindPipeline/vkCmdDrawIndexed calls: those need a compiled
// shader module, and shader bytecode translation is delegated to the
// recompiler elsewhere in the stack. Pipeline/descriptor/framebuffer
// objects are therefore placeholder handles (see resources.go); the
// barrier, cache-coherence and label/event machinery around them is
// real and exercised on every draw.
package gpu

import (
	"sync"

	vkbinding "github.com/goki/vulkan"

	"github.com/kytyemu/kytyemu/internal/backend/vk"
	"github.com/kytyemu/kytyemu/internal/gpumem"
	"github.com/kytyemu/kytyemu/internal/klog"
	"github.com/kytyemu/kytyemu/internal/render"
)

// commandSlot is one of the graphics ring's round-robin backend
// command buffers: a command buffer plus the fence the processor's
// BufferWait blocks on.
type commandSlot struct {
	buffer    vkbinding.CommandBuffer
	fence     vkbinding.Fence
	semaphore vkbinding.Semaphore
	recording bool
}

// Backend is the concrete pm4.Backend driving a render.Context against
// a real Vulkan device.
type Backend struct {
	dev     *vk.Device
	cache   *gpumem.Cache
	ctx     *render.Context
	neoMode bool

	mu          sync.Mutex
	slots       [4]*commandSlot
	active      int // current round-robin slot, matching Processor.bufSlot
	videoOut    map[uint64]render.RenderColorInfo
	colorImages map[uint64]imageResource
	nextResID   uint64
	fenceGen    uint64
	present     func(frame []byte)
}

// New builds a Backend wired against dev, cache and ctx. neoMode selects
// the depth-tiling variant render.BuildRenderDepthInfo applies. present,
// if non-nil, is called with a freshly read-back RGBA8 frame whenever
// the guest flips; cmd/kytyemu hands it the display's updateFrame.
func New(dev *vk.Device, cache *gpumem.Cache, ctx *render.Context, neoMode bool, present func(frame []byte)) *Backend {
	return &Backend{
		dev:         dev,
		cache:       cache,
		ctx:         ctx,
		neoMode:     neoMode,
		videoOut:    make(map[uint64]render.RenderColorInfo),
		colorImages: make(map[uint64]imageResource),
		present:     present,
	}
}

// RegisterVideoOut records the color-surface description the video-out
// subsystem resolved for a flip buffer, so a later draw targeting that
// base address can be looked up by render.BuildRenderColorInfo.
func (b *Backend) RegisterVideoOut(base uint64, info render.RenderColorInfo) {
	b.mu.Lock()
	b.videoOut[base] = info
	b.mu.Unlock()
}

func (b *Backend) videoOutLookup(base uint64) (render.RenderColorInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.videoOut[base]
	return info, ok
}

func (b *Backend) nextResourceID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextResID++
	return b.nextResID
}

func (b *Backend) currentFenceGen() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fenceGen
}

// activeSlot returns the command-buffer slot draws/barriers/events
// record into for the submission currently in flight. It advances in
// lockstep with Processor.nextBufferSlot: both start at 0 and move to
// the next slot exactly once per submission, here at BufferFlush.
func (b *Backend) activeSlot() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Backend) slot(i int) *commandSlot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.slots[i]
	if s == nil {
		buffer, fence, semaphore := b.ctx.CommandPool(uint64(i))
		s = &commandSlot{
			buffer:    buffer.(vkbinding.CommandBuffer),
			fence:     fence.(vkbinding.Fence),
			semaphore: semaphore.(vkbinding.Semaphore),
		}
		b.slots[i] = s
	}
	return s
}

// BufferInit opens slot's command buffer for recording, so the draw
// calls the processor issues between now and BufferFlush land in it.
func (b *Backend) BufferInit(slotIdx int) {
	s := b.slot(slotIdx)
	if s.recording {
		return
	}
	if err := b.dev.Begin(s.buffer); err != nil {
		klog.Errorf("gpu: BufferInit(%d): %v", slotIdx, err)
		return
	}
	s.recording = true
}

// BufferFlush closes slot's command buffer and submits it to the
// graphics queue, signaling its fence on completion.
func (b *Backend) BufferFlush(slotIdx int) {
	s := b.slot(slotIdx)
	if !s.recording {
		b.mu.Lock()
		b.active = (b.active + 1) % len(b.slots)
		b.mu.Unlock()
		return
	}
	if err := b.dev.End(s.buffer); err != nil {
		klog.Errorf("gpu: BufferFlush(%d): %v", slotIdx, err)
	}
	s.recording = false
	if err := b.dev.Submit(s.buffer, s.fence); err != nil {
		klog.Errorf("gpu: BufferFlush(%d) submit: %v", slotIdx, err)
	}

	b.mu.Lock()
	b.fenceGen++
	gen := b.fenceGen
	b.active = (b.active + 1) % len(b.slots)
	b.mu.Unlock()
	b.ctx.Pipelines.AdvanceFence(gen)
	b.ctx.Labels.AdvanceFence(gen)
}

// BufferWait blocks until slot's command buffer has fenced, so its
// backend resources are safe to touch again.
func (b *Backend) BufferWait(slotIdx int) {
	s := b.slot(slotIdx)
	if err := b.dev.WaitFence(s.fence); err != nil {
		klog.Errorf("gpu: BufferWait(%d): %v", slotIdx, err)
	}
}

func (b *Backend) ensureRecording(slotIdx int) *commandSlot {
	s := b.slot(slotIdx)
	if !s.recording {
		b.BufferInit(slotIdx)
	}
	return s
}

// MemoryBarrier, RenderTextureBarrier and DepthStencilBarrier all
// record the same full memory barrier: the hardware command processor
// gives the backend no finer-grained hazard information than "a prior
// stage's writes must be visible to what follows."
func (b *Backend) MemoryBarrier()        { b.barrier() }
func (b *Backend) RenderTextureBarrier() { b.barrier() }
func (b *Backend) DepthStencilBarrier()  { b.barrier() }

func (b *Backend) barrier() {
	s := b.ensureRecording(b.activeSlot())
	b.dev.CmdPipelineBarrier(s.buffer, vkbinding.PipelineStageAllCommandsBit, vkbinding.PipelineStageAllCommandsBit)
}

// EmitEvent handles IT_EVENT_WRITE: it records a Vulkan event set at
// the current point in the active command buffer, with no guest store
// attached.
func (b *Backend) EmitEvent(eventType uint32) {
	event, err := b.dev.CreateEvent()
	if err != nil {
		klog.Errorf("gpu: EmitEvent(%d): %v", eventType, err)
		return
	}
	s := b.ensureRecording(b.activeSlot())
	b.dev.CmdSetEvent(s.buffer, event)
	b.ctx.Labels.Set(&render.Label{
		Event:     event,
		Callback1: func() bool { return false },
	})
}

// SignalLabel handles IT_EVENT_WRITE_EOP/_EOS and IT_RELEASE_MEM: the
// guest store at addr only happens once the Vulkan event set here
// actually fires, via the render engine's label poller.
func (b *Backend) SignalLabel(addr uint64, value uint64, is64 bool) {
	event, err := b.dev.CreateEvent()
	if err != nil {
		klog.Errorf("gpu: SignalLabel(%#x): %v", addr, err)
		return
	}
	s := b.ensureRecording(b.activeSlot())
	b.dev.CmdSetEvent(s.buffer, event)
	b.ctx.Labels.Set(&render.Label{
		Event:   event,
		Addr:    addr,
		Value:   value,
		Is64Bit: is64,
	})
}

// Flip services a presentation request: it reads back one of the color
// surfaces registered via RegisterVideoOut and hands the RGBA8 bytes to
// present. With several surfaces registered, which one is read back is
// not defined.
func (b *Backend) Flip(index int, flipArg uint64) {
	if b.present == nil {
		return
	}
	b.mu.Lock()
	var info render.RenderColorInfo
	found := false
	for _, v := range b.videoOut {
		info, found = v, true
	}
	img, hasImage := b.colorImages[info.Base]
	b.mu.Unlock()
	if !found || !hasImage {
		return
	}

	size := uint64(info.Width) * uint64(info.Height) * 4
	stagingBuf, stagingMem, err := b.dev.CreateBuffer(size, vkbinding.BufferUsageTransferDstBit)
	if err != nil {
		klog.Errorf("gpu: Flip staging buffer: %v", err)
		return
	}

	s := b.slot(b.activeSlot())
	if err := b.dev.Begin(s.buffer); err != nil {
		klog.Errorf("gpu: Flip begin: %v", err)
		return
	}
	b.dev.CmdCopyImageToBuffer(s.buffer, img.image, info.Width, info.Height, stagingBuf)
	if err := b.dev.End(s.buffer); err != nil {
		klog.Errorf("gpu: Flip end: %v", err)
		return
	}
	if err := b.dev.Submit(s.buffer, s.fence); err != nil {
		klog.Errorf("gpu: Flip submit: %v", err)
		return
	}
	if err := b.dev.WaitFence(s.fence); err != nil {
		klog.Errorf("gpu: Flip wait: %v", err)
		return
	}

	frame := make([]byte, size)
	if err := b.dev.ReadBuffer(stagingMem, frame); err != nil {
		klog.Errorf("gpu: Flip readback: %v", err)
		return
	}
	b.present(frame)
}
