package pm4

// RenderTarget mirrors one CB_COLORn_* register group: base address,
// pitch, slice, view, info, attribute and the two compression surfaces.
type RenderTarget struct {
	Base      uint64
	Pitch     uint32
	Slice     uint32
	View      uint32
	Info      uint32
	Attribute uint32
	DCCBase   uint64
	CMASKBase uint64
	FMASKBase uint64
}

// DepthTarget mirrors the DB_* depth/stencil register group.
type DepthTarget struct {
	ZInfo          uint32
	StencilInfo    uint32
	DepthInfo      uint32
	DepthView      uint32
	HtileSurface   uint32
	RenderControl  uint32
	StencilClear   uint32
	DepthClear     uint32
	DepthControl   uint32
	StencilControl uint32
	StencilRefMask uint32
	EQAA           uint32

	ZReadBase       uint64
	StencilReadBase uint64
	HtileBase       uint64
}

// Blend mirrors one CB_BLENDn_CONTROL register.
type Blend struct {
	Control uint32
}

// Viewport mirrors one PA_CL_VPORT_*/PA_SC_VPORT_ZMIN/ZMAX group.
type Viewport struct {
	ZMin, ZMax                     uint32
	XScale, XOffset                uint32
	YScale, YOffset                uint32
	ZScale, ZOffset                uint32
}

// Scissor mirrors a *_SCISSOR_TL/BR register pair (left/top/right/bottom).
type Scissor struct {
	Left, Top, Right, Bottom uint32
}

// ShaderStage is one of the four shader-record slots the context tracks
// (vertex, pixel, compute, and the "updates" pseudo-stage used by
// IT_NOP's VS_UPDATE/PS_UPDATE subtypes).
type ShaderStage struct {
	ShaderID  uint64
	Embedded  bool
	UserSgpr  [16]uint32
}

// HardwareContext mirrors the guest GPU register file the command
// processor drives: everything a context-register write or a
// type-2 shader-register write can reach.
type HardwareContext struct {
	RenderTargets [8]RenderTarget
	ColorControl  uint32
	ModeControl   uint32
	RenderControl uint32

	Depth DepthTarget

	Blends        [8]Blend
	BlendRed      [4]uint32
	SeparateAlpha bool

	ScreenScissor  Scissor
	GenericScissor Scissor

	ClipControl       uint32
	ViewportTransform uint32
	Viewports         [16]Viewport

	ShaderStagesEn uint32
	PSInputCntl    [32]uint32

	VS, PS, CS, Updates ShaderStage
}

// UserConfig mirrors the IT_SET_UCONFIG_REG-addressed registers: a
// small set of global draw-state fields outside the per-context block
// (primitive topology, index/instance state echoed at the uconfig
// level for some titles).
type UserConfig struct {
	PrimitiveType uint32
}

func (u *UserConfig) SetPrimitiveType(v uint32) { u.PrimitiveType = v }
