package pm4

import "github.com/kytyemu/kytyemu/internal/fatal"

// Register offsets into the context-register space (masked to 10 bits,
// matching the hardware's addressable context-register window). These
// are representative offsets for the registers §6.3 names, assigned by
// this port rather than reverse-engineered from a vendor header (the
// grounding source tree does not carry the numeric register-offset
// table, only the dispatch structure) — see DESIGN.md.
const (
	regDBRenderControl       = 0x000
	regDBStencilClear        = 0x001
	regDBDepthClear          = 0x002
	regPAScScreenScissorTL   = 0x00c
	regDBZInfo               = 0x00e
	regDBStencilInfo         = 0x00f
	regDBStencilRefMask      = 0x012
	regPAScGenericScissorTL  = 0x01e
	regCBBlendRed            = 0x105
	regDBStencilControl      = 0x10b
	regSPIPSInputCntl0       = 0x191
	regDBDepthControl        = 0x200
	regDBEQAA                = 0x201
	regCBColorControl        = 0x202
	regPAClClipCntl          = 0x204
	regPASUScModeCntl        = 0x205
	regPAScVportZMin0        = 0x20c
	regPAClVportXScale       = 0x22c
	regVGTShaderStagesEn     = 0x2d5
	regCBColor0Base          = 0x318
	regCBColor0Info          = regCBColor0Base + 3
	regCBBlend0Control       = 0x1e0
)

// regHandler writes one or more consecutive registers into ctx/ucfg and
// returns how many registers (starting at offset) it consumed.
type regHandler func(ctx *HardwareContext, offset uint32, body []uint32) uint32

var contextRegTable = buildContextRegTable()

func buildContextRegTable() map[uint32]regHandler {
	t := make(map[uint32]regHandler)

	t[regDBRenderControl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.RenderControl = b[0]; return 1 }
	t[regDBStencilClear] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.StencilClear = b[0]; return 1 }
	t[regDBDepthClear] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.DepthClear = b[0]; return 1 }
	t[regPAScScreenScissorTL] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
		c.ScreenScissor.Left, c.ScreenScissor.Top = b[0]&0xffff, (b[0]>>16)&0xffff
		if len(b) > 1 {
			c.ScreenScissor.Right, c.ScreenScissor.Bottom = b[1]&0xffff, (b[1]>>16)&0xffff
			return 2
		}
		return 1
	}
	t[regDBZInfo] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
		n := uint32(2)
		c.Depth.ZInfo = b[0]
		c.Depth.StencilInfo = b[1]
		if len(b) >= 11 {
			c.Depth.ZReadBase = uint64(b[2])
			c.Depth.StencilReadBase = uint64(b[3])
			c.Depth.HtileBase = uint64(b[8])
			n = 11
		}
		return n
	}
	t[regDBStencilInfo] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.StencilInfo = b[0]; return 1 }
	t[regDBStencilRefMask] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.StencilRefMask = b[0]; return 1 }
	t[regPAScGenericScissorTL] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
		c.GenericScissor.Left, c.GenericScissor.Top = b[0]&0xffff, (b[0]>>16)&0xffff
		if len(b) > 1 {
			c.GenericScissor.Right, c.GenericScissor.Bottom = b[1]&0xffff, (b[1]>>16)&0xffff
			return 2
		}
		return 1
	}
	t[regCBBlendRed] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
		n := uint32(len(b))
		if n > 4 {
			n = 4
		}
		copy(c.BlendRed[:], b[:n])
		return n
	}
	t[regDBStencilControl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.StencilControl = b[0]; return 1 }
	t[regSPIPSInputCntl0] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
		n := uint32(len(b))
		if n > 32 {
			n = 32
		}
		copy(c.PSInputCntl[:], b[:n])
		return n
	}
	t[regDBDepthControl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.DepthControl = b[0]; return 1 }
	t[regDBEQAA] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Depth.EQAA = b[0]; return 1 }
	t[regCBColorControl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.ColorControl = b[0]; return 1 }
	t[regPAClClipCntl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.ClipControl = b[0]; return 1 }
	t[regPASUScModeCntl] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.ModeControl = b[0]; return 1 }
	t[regVGTShaderStagesEn] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.ShaderStagesEn = b[0]; return 1 }

	for slot := uint32(0); slot < 8; slot++ {
		slot := slot
		t[regCBColor0Base+slot*15] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
			rt := &c.RenderTargets[slot]
			rt.Base = uint64(b[0])
			rt.Pitch = b[1]
			rt.Slice = b[2]
			n := uint32(3)
			if len(b) >= 11 {
				rt.View = b[3]
				rt.Info = b[4]
				rt.Attribute = b[5]
				rt.DCCBase = uint64(b[8])
				rt.CMASKBase = uint64(b[9])
				rt.FMASKBase = uint64(b[10])
				n = 11
			}
			return n
		}
		t[regCBColor0Info+slot*15] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.RenderTargets[slot].Info = b[0]; return 1 }
		t[regCBBlend0Control+slot] = func(c *HardwareContext, _ uint32, b []uint32) uint32 { c.Blends[slot].Control = b[0]; return 1 }
	}

	for vp := uint32(0); vp < 16; vp++ {
		vp := vp
		t[regPAScVportZMin0+vp*2] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
			c.Viewports[vp].ZMin = b[0]
			if len(b) > 1 {
				c.Viewports[vp].ZMax = b[1]
				return 2
			}
			return 1
		}
		t[regPAClVportXScale+vp*6] = func(c *HardwareContext, _ uint32, b []uint32) uint32 {
			n := uint32(len(b))
			if n > 6 {
				n = 6
			}
			fields := []*uint32{&c.Viewports[vp].XScale, &c.Viewports[vp].XOffset, &c.Viewports[vp].YScale,
				&c.Viewports[vp].YOffset, &c.Viewports[vp].ZScale, &c.Viewports[vp].ZOffset}
			for i := uint32(0); i < n; i++ {
				*fields[i] = b[i]
			}
			return n
		}
	}

	return t
}

// dispatchContextReg routes a context-register write to its handler.
// Unknown register offsets are a decode failure per the fixed packet
// contract (§6.3, PacketDecodeFailure).
func dispatchContextReg(ctx *HardwareContext, offset uint32, body []uint32) uint32 {
	h, ok := contextRegTable[offset&0x3ff]
	if !ok {
		fatal.Abort("pm4: unknown context register offset %#x", offset)
		return 0
	}
	return h(ctx, offset, body)
}
