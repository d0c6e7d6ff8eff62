package pm4

import (
	"testing"
	"unsafe"

	"github.com/kytyemu/kytyemu/internal/fatal"
)

type fakeBackend struct {
	draws      int
	dispatches int
	lastIndexCount uint32
	lastInstances  uint32
	flips      int
	barriers   int
	events     int
	labels     int
	lastLabelAddr  uint64
	lastLabelValue uint64
	lastLabelIs64  bool
}

func (f *fakeBackend) BufferInit(int)  {}
func (f *fakeBackend) BufferFlush(int) {}
func (f *fakeBackend) BufferWait(int)  {}

func (f *fakeBackend) DrawIndex(ctx *HardwareContext, ucfg *UserConfig, indexType uint32, indexBase uint64, indexCount uint32, instances uint32) {
	f.draws++
	f.lastIndexCount = indexCount
	f.lastInstances = instances
}
func (f *fakeBackend) DrawIndexAuto(ctx *HardwareContext, ucfg *UserConfig, indexCount uint32, instances uint32) {
	f.draws++
	f.lastIndexCount = indexCount
	f.lastInstances = instances
}
func (f *fakeBackend) DispatchDirect(ctx *HardwareContext, dimX, dimY, dimZ uint32) { f.dispatches++ }
func (f *fakeBackend) MemoryBarrier()                                              { f.barriers++ }
func (f *fakeBackend) RenderTextureBarrier()                                       { f.barriers++ }
func (f *fakeBackend) DepthStencilBarrier()                                        { f.barriers++ }
func (f *fakeBackend) Flip(int, uint64)                                            { f.flips++ }
func (f *fakeBackend) EmitEvent(uint32)                                            { f.events++ }
func (f *fakeBackend) SignalLabel(addr uint64, value uint64, is64 bool) {
	f.labels++
	f.lastLabelAddr = addr
	f.lastLabelValue = value
	f.lastLabelIs64 = is64
}

// packHeader builds a type-3 header for a packet with count body dwords;
// the wire field holds count minus one.
func packHeader(typ uint8, count uint32, op Op) uint32 {
	return uint32(typ)<<30 | ((count-1)&0x3fff)<<16 | uint32(op)<<8
}

func TestDecodeHeaderFields(t *testing.T) {
	h := decodeHeader(packHeader(3, 5, ITDrawIndexAuto))
	if h.typ != 3 || h.count != 5 || h.opcode != ITDrawIndexAuto {
		t.Fatalf("got %+v", h)
	}
}

func TestRunSetContextRegWritesHardwareContext(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	stream := []uint32{
		packHeader(3, 2, ITSetContextReg), regDBRenderControl, 0xdeadbeef,
	}
	Run(p, stream)

	if p.ctx.Depth.RenderControl != 0xdeadbeef {
		t.Fatalf("RenderControl = %#x", p.ctx.Depth.RenderControl)
	}
}

func TestRunDrawIndexAutoInvokesBackend(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	stream := []uint32{
		packHeader(3, 1, ITNumInstances), 3,
		packHeader(3, 1, ITDrawIndexAuto), 42,
	}
	Run(p, stream)

	if fb.draws != 1 || fb.lastIndexCount != 42 || fb.lastInstances != 3 {
		t.Fatalf("draws=%d indexCount=%d instances=%d", fb.draws, fb.lastIndexCount, fb.lastInstances)
	}
}

func TestRunDispatchDirect(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	stream := []uint32{
		packHeader(3, 3, ITDispatchDirect), 4, 4, 1,
	}
	Run(p, stream)

	if fb.dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", fb.dispatches)
	}
}

func TestRunNopDrawIndexSubtype(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	body := make([]uint32, 4)
	body[0] = uint32(rDrawIndex) << 2
	body[1], body[2] = 0x1000, 0
	body[3] = 99
	stream := append([]uint32{packHeader(3, uint32(len(body)), ITNop)}, body...)
	Run(p, stream)

	if fb.draws != 1 || fb.lastIndexCount != 99 {
		t.Fatalf("draws=%d indexCount=%d", fb.draws, fb.lastIndexCount)
	}
}

func TestRunWriteDataWritesGuestMemory(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	buf := make([]uint32, 4)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	stream := []uint32{
		packHeader(3, 5, ITWriteData), 0, uint32(addr), uint32(addr >> 32), 0x1111, 0x2222,
	}
	Run(p, stream)

	if buf[0] != 0x1111 || buf[1] != 0x2222 {
		t.Fatalf("buf = %#x", buf)
	}
}

func TestRunEventWriteEOPSignalsLabelInsteadOfGuestStore(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	buf := make([]uint32, 2)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	stream := []uint32{
		packHeader(3, 5, ITEventWriteEOP), 0, uint32(addr), uint32(addr >> 32), 0x1234, 0,
	}
	Run(p, stream)

	if fb.events != 1 || fb.labels != 1 {
		t.Fatalf("events=%d labels=%d, want 1 and 1", fb.events, fb.labels)
	}
	if fb.lastLabelAddr != addr || fb.lastLabelValue != 0x1234 || !fb.lastLabelIs64 {
		t.Fatalf("label addr=%#x value=%#x is64=%v", fb.lastLabelAddr, fb.lastLabelValue, fb.lastLabelIs64)
	}
	if buf[0] != 0 || buf[1] != 0 {
		t.Fatalf("guest memory written synchronously: buf = %#x", buf)
	}
}

func TestRunReleaseMemSignalsLabel32Bit(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	stream := []uint32{
		packHeader(3, 5, ITReleaseMem), 0, 0, 0x2000, 0, 0x55,
	}
	Run(p, stream)

	if fb.labels != 1 || fb.lastLabelIs64 {
		t.Fatalf("labels=%d is64=%v, want 1 and false", fb.labels, fb.lastLabelIs64)
	}
	if fb.lastLabelValue != 0x55 {
		t.Fatalf("label value = %#x", fb.lastLabelValue)
	}
}

func TestRunUnknownOpcodeAborts(t *testing.T) {
	var gotMsg string
	fatal.Hook = func(msg string) { gotMsg = msg }
	defer func() { fatal.Hook = nil }()

	fb := &fakeBackend{}
	p := NewProcessor(fb)
	Run(p, []uint32{packHeader(3, 1, Op(0xfe)), 0})

	if gotMsg == "" {
		t.Fatal("expected an abort for an unknown opcode")
	}
}

func TestIncrementAndWaitCounters(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	done := make(chan struct{})
	go func() {
		p.WaitCe(3)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		p.IncrementCe()
	}
	<-done
}

func TestConstRamRoundTrip(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)

	p.WriteConstRam(0, []uint32{1, 2, 3})
	out := p.DumpConstRam(0, 12)
	if len(out) != 12 {
		t.Fatalf("len(out) = %d", len(out))
	}
	if out[0] != 1 || out[4] != 2 || out[8] != 3 {
		t.Fatalf("out = %v, want the little-endian dwords 1, 2, 3", out)
	}
}
