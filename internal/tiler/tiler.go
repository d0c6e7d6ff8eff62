// Package tiler converts 2D surfaces between the guest's tiled memory
// layout and a linear layout the render backend can sample directly.
package tiler

import "github.com/kytyemu/kytyemu/internal/fatal"

// Mode selects which surface the decoder targets.
type Mode int

const (
	ModeVideoOutLinear Mode = iota
	ModeVideoOutTiled
	ModeTextureLinear
	ModeTextureTiled
)

// Tiler32 decodes the 32-bit-element tile layout used by video-out
// surfaces: pipe, bank and element indices are derived from a fixed
// hash of x/y and combined with the macro-tile geometry for the given
// resolution.
type Tiler32 struct {
	macroTileHeight uint32
	bankHeight      uint32
	numBanks        uint32
	numPipes        uint32
	paddedWidth     uint32
	paddedHeight    uint32
	pipeBits        uint32
	bankBits        uint32
}

func (t *Tiler32) Init(width, height uint32, neo bool) {
	if neo {
		t.macroTileHeight, t.bankHeight, t.numBanks, t.numPipes = 128, 2, 8, 16
		t.pipeBits, t.bankBits = 4, 3
	} else {
		t.macroTileHeight, t.bankHeight, t.numBanks, t.numPipes = 64, 1, 16, 8
		t.pipeBits, t.bankBits = 3, 4
	}
	t.paddedWidth = width
	switch height {
	case 1080:
		t.paddedHeight = 1088
		if neo {
			t.paddedHeight = 1152
		}
	case 720:
		t.paddedHeight = 768
	}
}

func getElementIndex32(x, y uint32) uint32 {
	return ((x >> 0) & 1) | (((x >> 1) & 1) << 1) | (((y >> 0) & 1) << 2) |
		(((x >> 2) & 1) << 3) | (((y >> 1) & 1) << 4) | (((y >> 2) & 1) << 5)
}

func getPipeIndex(x, y uint32, neo bool) uint32 {
	pipe := (((x >> 3) ^ (y >> 3) ^ (x >> 4)) & 1) |
		((((x >> 4) ^ (y >> 4)) & 1) << 1) |
		((((x >> 5) ^ (y >> 5)) & 1) << 2)
	if neo {
		pipe |= (((x >> 6) ^ (y >> 5)) & 1) << 3
	}
	return pipe
}

func intLog2(i uint32) uint32 {
	i |= 1
	n := uint32(0)
	for i>>1 != 0 {
		i >>= 1
		n++
	}
	return n
}

func getBankIndex(x, y, bankWidth, bankHeight, numBanks, numPipes uint32) uint32 {
	xShift := intLog2(bankWidth * numPipes)
	yShift := intLog2(bankHeight)
	xs := x >> xShift
	ys := y >> yShift
	bank := uint32(0)
	switch numBanks {
	case 8:
		bank |= (((xs >> 3) ^ (ys >> 5)) & 1) << 0
		bank |= (((xs >> 4) ^ (ys >> 4) ^ (ys >> 5)) & 1) << 1
		bank |= (((xs >> 5) ^ (ys >> 3)) & 1) << 2
	case 16:
		bank |= (((xs >> 3) ^ (ys >> 6)) & 1) << 0
		bank |= (((xs >> 4) ^ (ys >> 5) ^ (ys >> 6)) & 1) << 1
		bank |= (((xs >> 5) ^ (ys >> 4)) & 1) << 2
		bank |= (((xs >> 6) ^ (ys >> 3)) & 1) << 3
	}
	return bank
}

// GetTiledOffset returns the byte offset of pixel (x, y) within the
// tiled surface this Tiler32 was initialized for.
func (t *Tiler32) GetTiledOffset(x, y uint32, neo bool) uint64 {
	elementIndex := uint64(getElementIndex32(x, y))

	pipe := uint64(getPipeIndex(x, y, neo))
	bank := uint64(getBankIndex(x, y, 1, t.bankHeight, t.numBanks, t.numPipes))

	tileBytes := uint64((8*8*32 + 7) / 8)
	elementOffset := elementIndex * 32
	tileSplitSlice := uint64(0)
	if tileBytes > 512 {
		tileSplitSlice = elementOffset / (512 * 8)
		elementOffset %= 512 * 8
		tileBytes = 512
	}

	macroTileBytes := (128 / 8) * uint64(t.macroTileHeight/8) * tileBytes / uint64(t.numPipes*t.numBanks)
	macroTilesPerRow := uint64(t.paddedWidth / 128)
	macroTileRowIndex := uint64(y) / uint64(t.macroTileHeight)
	macroTileColumnIndex := uint64(x) / 128
	macroTileIndex := macroTileRowIndex*macroTilesPerRow + macroTileColumnIndex
	macroTileOffset := macroTileIndex * macroTileBytes
	macroTilesPerSlice := macroTilesPerRow * uint64(t.paddedHeight/t.macroTileHeight)
	sliceBytes := macroTilesPerSlice * macroTileBytes
	sliceOffset := tileSplitSlice * sliceBytes
	tileRowIndex := (uint64(y) / 8) % uint64(t.bankHeight)
	tileOffset := tileRowIndex * tileBytes

	tileSplitSliceRotation := (uint64(t.numBanks)/2 + 1) * tileSplitSlice
	bank ^= tileSplitSliceRotation
	bank &= uint64(t.numBanks) - 1

	totalOffset := (sliceOffset+macroTileOffset+tileOffset)*8 + elementOffset
	bitOffset := totalOffset & 7
	totalOffset /= 8

	pipeInterleaveOffset := totalOffset & 0xff
	offset := totalOffset >> 8
	byteOffset := pipeInterleaveOffset | (pipe << 8) | (bank << (8 + t.pipeBits)) | (offset << (8 + uint64(t.pipeBits) + uint64(t.bankBits)))

	return ((byteOffset << 3) | bitOffset) / 8
}

// Tiler1d decodes the per-mip-level tile layout used by textures: a
// different element interleave than Tiler32, parameterized by the
// pixel format's bits-per-element.
type Tiler1d struct {
	width            uint32
	height           uint32
	bitsPerElement   uint32
	tileBytes        uint32
	tilesPerRow      uint32
}

// Init configures a Tiler1d for one mip level. dfmt/nfmt identify the
// guest pixel format; only the formats the render engine actually
// produces are recognized, matching the original's small format table.
func (t *Tiler1d) Init(dfmt, nfmt, width, height, paddedWidth, paddedHeight uint32) {
	t.width, t.height = width, height
	switch {
	case nfmt == 9 && dfmt == 10: // R8G8B8A8_SRGB
		t.bitsPerElement = 32
	case nfmt == 9 && dfmt == 37: // BC3_SRGB_BLOCK
		t.bitsPerElement = 128
		t.width = max(1, (t.width+3)/4)
		t.height = max(1, (t.height+3)/4)
	default:
		fatal.Abort("tiler: unknown texture format: nfmt=%d dfmt=%d", nfmt, dfmt)
	}
	t.tileBytes = (8 * 8 * 1 * t.bitsPerElement+ 7) / 8
	t.tilesPerRow = paddedWidth / 8
}

func getElementIndex1d(x, y uint32) uint32 {
	return ((x >> 0) & 1) | (((y >> 0) & 1) << 1) | (((x >> 1) & 1) << 2) |
		(((y >> 1) & 1) << 3) | (((x >> 2) & 1) << 4) | (((y >> 2) & 1) << 5)
}

func (t *Tiler1d) GetTiledOffset(x, y uint32) uint64 {
	elementIndex := uint64(getElementIndex1d(x, y))
	tileRowIndex := uint64(y) / 8
	tileColumnIndex := uint64(x) / 8
	tileOffset := (tileRowIndex*uint64(t.tilesPerRow) + tileColumnIndex) * uint64(t.tileBytes)
	elementOffset := elementIndex * uint64(t.bitsPerElement)
	return (tileOffset*8 + elementOffset) / 8
}
