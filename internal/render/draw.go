package render

import (
	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/tiler"
)

// IndexType/IndexSize pairs, derived from the hardware's
// index_type_and_size code: 0 selects 16-bit indices, 1 selects
// 32-bit.
func IndexTypeAndSize(code uint32) (indexType uint32, indexSize uint32) {
	switch code & 0x3 {
	case 0:
		return 0, 2
	case 1:
		return 1, 4
	default:
		fatal.Abort("render: unknown index_type_and_size code %d", code)
		return 0, 0
	}
}

// RenderDepthInfo is the backend-facing description of a depth/stencil
// attachment, assembled from the hardware context's DB_* registers
// plus a TileGetDepthSize lookup.
type RenderDepthInfo struct {
	Htile              bool
	ZFormat            uint32
	StencilFormat      uint32
	DepthBase          uint64
	StencilBase        uint64
	HtileBase          uint64
	Width, Height      uint32
	Pitch              uint32
	StencilSize        uint32
	HtileSize          uint32
	DepthSize          uint32
	DepthClearValue    uint32
}

// BuildRenderDepthInfo assembles a RenderDepthInfo from the live
// hardware-context depth registers. htile/neo are decoded by the
// caller from DB_Z_INFO/DB_RENDER_CONTROL. Aborts if the backend
// surface size table has no matching row (§4.7.4).
func BuildRenderDepthInfo(zInfo, stencilInfo, depthBase, stencilBase, htileBase uint64,
	width, height uint32, htile, neo bool, depthClearValue uint32) RenderDepthInfo {

	zFormat := uint32(zInfo & 0xf)
	stencilFormat := uint32(stencilInfo & 0xf)

	stencilSize, htileSize, depthSize, pitch, ok := tiler.DepthSize(width, height, zFormat, stencilFormat, htile, neo)
	if !ok {
		fatal.Abort("render: no depth-size table row for width=%d height=%d zfmt=%d stfmt=%d htile=%v neo=%v",
			width, height, zFormat, stencilFormat, htile, neo)
	}

	return RenderDepthInfo{
		Htile: htile, ZFormat: zFormat, StencilFormat: stencilFormat,
		DepthBase: depthBase, StencilBase: stencilBase, HtileBase: htileBase,
		Width: width, Height: height, Pitch: pitch,
		StencilSize: stencilSize, HtileSize: htileSize, DepthSize: depthSize,
		DepthClearValue: depthClearValue,
	}
}

// RenderColorInfo is the backend-facing description of a color
// attachment, obtained from the video-out subsystem by address rather
// than from a register-derived size table.
type RenderColorInfo struct {
	ImageID       uint64
	Base          uint64
	Format        uint32
	Width, Height uint32
	Pitch         uint32
}

// VideoOutLookup resolves a color render target's base address to its
// video-out image description; the render engine never computes color
// surface sizes itself.
type VideoOutLookup func(base uint64) (RenderColorInfo, bool)

func BuildRenderColorInfo(lookup VideoOutLookup, base uint64) RenderColorInfo {
	info, ok := lookup(base)
	if !ok {
		fatal.Abort("render: no video-out surface registered at base %#x", base)
	}
	return info
}

// ColorWriteMask expands a 4-bit RGBA write mask. Only the two values
// the guest actually uses are accepted: 0xF (write all channels) and
// 0x0 (write none); anything else is an unsupported configuration.
func ColorWriteMask(mask uint32) uint32 {
	switch mask {
	case 0xf:
		return 0xf
	case 0x0:
		return 0x0
	default:
		fatal.Abort("render: unsupported color write mask %#x", mask)
		return 0
	}
}

// Blend factor and op codes, translated via a fixed switch from the
// hardware's CB_BLENDn_CONTROL encoding to the backend's enum space.
// Unknown codes abort rather than silently picking a default, since a
// wrong blend factor produces a plausible-looking but incorrect frame.
const (
	BlendFactorZero = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorOneMinusSrcColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
	BlendFactorDstAlpha
	BlendFactorOneMinusDstAlpha
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
)

const (
	BlendOpAdd = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

func TranslateBlendFactor(code uint32) uint32 {
	switch code {
	case 0:
		return BlendFactorZero
	case 1:
		return BlendFactorOne
	case 2:
		return BlendFactorSrcColor
	case 3:
		return BlendFactorOneMinusSrcColor
	case 4:
		return BlendFactorSrcAlpha
	case 5:
		return BlendFactorOneMinusSrcAlpha
	case 6:
		return BlendFactorDstAlpha
	case 7:
		return BlendFactorOneMinusDstAlpha
	case 8:
		return BlendFactorDstColor
	case 9:
		return BlendFactorOneMinusDstColor
	default:
		fatal.Abort("render: unknown blend factor code %d", code)
		return 0
	}
}

func TranslateBlendOp(code uint32) uint32 {
	switch code {
	case 0:
		return BlendOpAdd
	case 1:
		return BlendOpSubtract
	case 2:
		return BlendOpReverseSubtract
	case 3:
		return BlendOpMin
	case 4:
		return BlendOpMax
	default:
		fatal.Abort("render: unknown blend op code %d", code)
		return 0
	}
}
