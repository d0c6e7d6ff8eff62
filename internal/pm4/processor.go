package pm4

import (
	"sync"

	"github.com/kytyemu/kytyemu/internal/fatal"
)

// constRamSize is the scratch constant-RAM the command processor can
// stage writes into before IT_DUMP_CONST_RAM copies them to guest
// memory (48 KiB, matching the hardware's CE constant-RAM window).
const constRamSize = 48 * 1024

// backendBuffers is the number of in-flight command buffers the
// graphics ring round-robins across before it must wait on the oldest.
const backendBuffers = 4

// Backend is the thin seam between the command processor and the
// render engine / graphics API. internal/backend/gpu implements it on
// top of internal/render and internal/backend/vk; tests can supply a fake.
type Backend interface {
	BufferInit(slot int)
	BufferFlush(slot int)
	BufferWait(slot int)

	DrawIndex(ctx *HardwareContext, ucfg *UserConfig, indexType uint32, indexBase uint64, indexCount uint32, instances uint32)
	DrawIndexAuto(ctx *HardwareContext, ucfg *UserConfig, indexCount uint32, instances uint32)
	DispatchDirect(ctx *HardwareContext, dimX, dimY, dimZ uint32)

	MemoryBarrier()
	RenderTextureBarrier()
	DepthStencilBarrier()
	Flip(index int, flipArg uint64)

	// EmitEvent records a GPU-side sync point with no guest store
	// attached (IT_EVENT_WRITE).
	EmitEvent(eventType uint32)
	// SignalLabel records a GPU-side sync point that writes addr/value
	// back to guest memory once it fires (IT_EVENT_WRITE_EOP/_EOS,
	// IT_RELEASE_MEM).
	SignalLabel(addr uint64, value uint64, is64 bool)
}

// Processor is the command processor driving one graphics ring: it
// decodes a PM4 packet stream into hardware-context register writes
// and draw/dispatch calls against a Backend, and tracks the DE/CE
// synchronization counters the original firmware exposes to shaders
// via label writes.
type Processor struct {
	ctx  HardwareContext
	ucfg UserConfig

	indexType uint32
	instances uint32

	activeStage *ShaderStage

	bufSlot int
	backend Backend

	mu         sync.Mutex
	cond       *sync.Cond
	deCounter  uint32
	ceCounter  uint32

	constRam       [constRamSize]byte
	constRamCursor uint32
}

func NewProcessor(backend Backend) *Processor {
	p := &Processor{backend: backend, instances: 1}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Processor) nextBufferSlot() int {
	slot := p.bufSlot
	p.bufSlot = (p.bufSlot + 1) % backendBuffers
	return slot
}

// DrawIndex services IT_DRAW_INDEX_2 / the NOP draw-index subtype.
func (p *Processor) DrawIndex(indexBase uint64, indexCount uint32) {
	p.backend.DrawIndex(&p.ctx, &p.ucfg, p.indexType, indexBase, indexCount, p.instances)
}

// DrawIndexAuto services IT_DRAW_INDEX_AUTO: the GPU generates
// sequential indices itself, so no index buffer address is needed.
func (p *Processor) DrawIndexAuto(indexCount uint32) {
	p.backend.DrawIndexAuto(&p.ctx, &p.ucfg, indexCount, p.instances)
}

// DispatchDirect services IT_DISPATCH_DIRECT.
func (p *Processor) DispatchDirect(dimX, dimY, dimZ uint32) {
	p.backend.DispatchDirect(&p.ctx, dimX, dimY, dimZ)
}

func (p *Processor) SetIndexType(t uint32)      { p.indexType = t }
func (p *Processor) SetNumInstances(n uint32)   { p.instances = n }

func (p *Processor) MemoryBarrier()       { p.backend.MemoryBarrier() }
func (p *Processor) RenderTextureBarrier() { p.backend.RenderTextureBarrier() }
func (p *Processor) DepthStencilBarrier()  { p.backend.DepthStencilBarrier() }

// WaitFlipDone blocks the ring until the previous flip's buffer slot
// has finished presenting, so its backend buffer can be reused.
func (p *Processor) WaitFlipDone() {
	slot := p.bufSlot
	p.backend.BufferWait(slot)
}

// TriggerEvent handles the bare IT_EVENT_WRITE packet: it marks a sync
// point in the stream by asking the backend to record a GPU event at
// the current position in the command buffer. It carries no guest
// store; EOP/EOS/RELEASE_MEM's address+value payload goes through
// SignalLabel instead.
func (p *Processor) TriggerEvent(eventType uint32) {
	p.backend.EmitEvent(eventType)
}

// SignalLabel handles the address+value payload carried by
// IT_EVENT_WRITE_EOP/_EOS and IT_RELEASE_MEM: the guest store only
// happens once the GPU work preceding the label has actually retired,
// so it is handed to the backend's label mechanism rather than
// written synchronously.
func (p *Processor) SignalLabel(addr uint64, value uint64, is64 bool) {
	p.backend.SignalLabel(addr, value, is64)
}

// ResetDeCe zeroes both synchronization counters at the start of a
// submission.
func (p *Processor) ResetDeCe() {
	p.mu.Lock()
	p.deCounter, p.ceCounter = 0, 0
	p.mu.Unlock()
}

func (p *Processor) IncrementDe() {
	p.mu.Lock()
	p.deCounter++
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Processor) IncrementCe() {
	p.mu.Lock()
	p.ceCounter++
	p.cond.Broadcast()
	p.mu.Unlock()
}

// WaitCe blocks the DE stream until the CE stream has reached at
// least target.
func (p *Processor) WaitCe(target uint32) {
	p.mu.Lock()
	for p.ceCounter < target {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// WaitDeDiff blocks the CE stream until it is no more than maxDiff
// counts ahead of the DE stream, so CE cannot race too far past the
// draws it is staging const RAM for.
func (p *Processor) WaitDeDiff(maxDiff uint32) {
	p.mu.Lock()
	for p.ceCounter > p.deCounter && p.ceCounter-p.deCounter > maxDiff {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// WriteConstRam stages dwords into the scratch constant-RAM window at
// the given byte offset.
func (p *Processor) WriteConstRam(offset uint32, dwords []uint32) {
	if int(offset)+len(dwords)*4 > len(p.constRam) {
		fatal.Abort("pm4: const-RAM write overruns scratch window (offset=%d, len=%d)", offset, len(dwords)*4)
		return
	}
	for i, v := range dwords {
		putLE32(p.constRam[int(offset)+i*4:], v)
	}
}

// DumpConstRam copies a region of the scratch constant-RAM out to
// guest memory (the destination is resolved by the caller, which owns
// guest-address translation).
func (p *Processor) DumpConstRam(offset, length uint32) []byte {
	if int(offset+length) > len(p.constRam) {
		fatal.Abort("pm4: const-RAM dump overruns scratch window (offset=%d, length=%d)", offset, length)
		return nil
	}
	out := make([]byte, length)
	copy(out, p.constRam[offset:offset+length])
	return out
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Context returns the live hardware-context register mirror, so the
// render engine can read it when lowering a draw.
func (p *Processor) Context() *HardwareContext { return &p.ctx }

// UserConfig returns the live uconfig-register mirror.
func (p *Processor) UserConfig() *UserConfig { return &p.ucfg }
