package pm4

import "testing"

func TestDispatchContextRegRenderTargetDescriptor(t *testing.T) {
	var ctx HardwareContext
	body := make([]uint32, 11)
	body[0], body[1], body[2] = 0x1000, 64, 1
	body[4] = 0xabc

	n := dispatchContextReg(&ctx, regCBColor0Base, body)
	if n != 11 {
		t.Fatalf("consumed = %d, want 11", n)
	}
	rt := ctx.RenderTargets[0]
	if rt.Base != 0x1000 || rt.Pitch != 64 || rt.Info != 0xabc {
		t.Fatalf("rt = %+v", rt)
	}
}

func TestDispatchContextRegScissorPair(t *testing.T) {
	var ctx HardwareContext
	body := []uint32{10 | 20<<16, 100 | 200<<16}

	n := dispatchContextReg(&ctx, regPAScScreenScissorTL, body)
	if n != 2 {
		t.Fatalf("consumed = %d, want 2", n)
	}
	if ctx.ScreenScissor != (Scissor{Left: 10, Top: 20, Right: 100, Bottom: 200}) {
		t.Fatalf("scissor = %+v", ctx.ScreenScissor)
	}
}

func TestDispatchContextRegBlendSlots(t *testing.T) {
	var ctx HardwareContext
	dispatchContextReg(&ctx, regCBBlend0Control+3, []uint32{0x77})
	if ctx.Blends[3].Control != 0x77 {
		t.Fatalf("blend[3].Control = %#x", ctx.Blends[3].Control)
	}
}
