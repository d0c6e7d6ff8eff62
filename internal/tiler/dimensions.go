package tiler

// depthKey identifies one row of the depth/stencil/htile surface size
// table: the guest only ever renders at a handful of fixed resolutions,
// so the original hard-codes the sizes rather than computing them.
type depthKey struct {
	width, height               uint32
	zFormat, stencilFormat      uint32
	htile, neo                  bool
}

type sizeAlign struct {
	size, align uint32
}

type depthRow struct {
	pitch               uint32
	stencil, htileSz, depth sizeAlign
}

var depthTable = map[depthKey]depthRow{
	{1920, 1080, 3, 0, true, false}:  {2048, sizeAlign{}, sizeAlign{196608, 2048}, sizeAlign{9437184, 32768}},
	{1920, 1080, 3, 0, false, false}: {2048, sizeAlign{}, sizeAlign{}, sizeAlign{9437184, 32768}},
	{1280, 720, 3, 0, true, false}:   {1280, sizeAlign{}, sizeAlign{98304, 2048}, sizeAlign{3932160, 32768}},
	{1280, 720, 3, 0, false, false}:  {1280, sizeAlign{}, sizeAlign{}, sizeAlign{3932160, 32768}},
	{1920, 1080, 1, 0, true, false}:  {2048, sizeAlign{}, sizeAlign{196608, 2048}, sizeAlign{4718592, 32768}},
	{1920, 1080, 1, 0, false, false}: {2048, sizeAlign{}, sizeAlign{}, sizeAlign{4718592, 32768}},
	{1280, 720, 1, 0, true, false}:   {1280, sizeAlign{}, sizeAlign{98304, 2048}, sizeAlign{1966080, 32768}},
	{1280, 720, 1, 0, false, false}:  {1280, sizeAlign{}, sizeAlign{}, sizeAlign{1966080, 32768}},
	{1920, 1080, 0, 1, true, false}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 2048}, sizeAlign{}},
	{1920, 1080, 0, 1, false, false}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{}},
	{1280, 720, 0, 1, true, false}:   {1280, sizeAlign{983040, 32768}, sizeAlign{98304, 2048}, sizeAlign{}},
	{1280, 720, 0, 1, false, false}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{}},
	{1920, 1080, 3, 1, true, false}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 2048}, sizeAlign{9437184, 32768}},
	{1920, 1080, 3, 1, false, false}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{9437184, 32768}},
	{1280, 720, 3, 1, true, false}:   {1280, sizeAlign{983040, 32768}, sizeAlign{98304, 2048}, sizeAlign{3932160, 32768}},
	{1280, 720, 3, 1, false, false}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{3932160, 32768}},
	{1920, 1080, 1, 1, true, false}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 2048}, sizeAlign{4718592, 32768}},
	{1920, 1080, 1, 1, false, false}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{4718592, 32768}},
	{1280, 720, 1, 1, true, false}:   {1280, sizeAlign{983040, 32768}, sizeAlign{98304, 2048}, sizeAlign{1966080, 32768}},
	{1280, 720, 1, 1, false, false}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{1966080, 32768}},

	{1920, 1080, 3, 0, true, true}:  {1920, sizeAlign{}, sizeAlign{196608, 4096}, sizeAlign{8847360, 65536}},
	{1920, 1080, 3, 0, false, true}: {1920, sizeAlign{}, sizeAlign{}, sizeAlign{8847360, 65536}},
	{1280, 720, 3, 0, true, true}:   {1280, sizeAlign{}, sizeAlign{131072, 4096}, sizeAlign{3932160, 65536}},
	{1280, 720, 3, 0, false, true}:  {1280, sizeAlign{}, sizeAlign{}, sizeAlign{3932160, 65536}},
	{1920, 1080, 1, 0, true, true}:  {2048, sizeAlign{}, sizeAlign{196608, 4096}, sizeAlign{4718592, 65536}},
	{1920, 1080, 1, 0, false, true}: {2048, sizeAlign{}, sizeAlign{}, sizeAlign{4718592, 65536}},
	{1280, 720, 1, 0, true, true}:   {1280, sizeAlign{}, sizeAlign{131072, 4096}, sizeAlign{1966080, 65536}},
	{1280, 720, 1, 0, false, true}:  {1280, sizeAlign{}, sizeAlign{}, sizeAlign{1966080, 65536}},
	{1920, 1080, 0, 1, true, true}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 4096}, sizeAlign{}},
	{1920, 1080, 0, 1, false, true}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{}},
	{1280, 720, 0, 1, true, true}:   {1280, sizeAlign{983040, 32768}, sizeAlign{131072, 4096}, sizeAlign{}},
	{1280, 720, 0, 1, false, true}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{}},
	{1920, 1080, 3, 1, true, true}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 4096}, sizeAlign{9437184, 65536}},
	{1920, 1080, 3, 1, false, true}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{9437184, 65536}},
	{1280, 720, 3, 1, true, true}:   {1280, sizeAlign{983040, 32768}, sizeAlign{131072, 4096}, sizeAlign{3932160, 65536}},
	{1280, 720, 3, 1, false, true}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{3932160, 65536}},
	{1920, 1080, 1, 1, true, true}:  {2048, sizeAlign{2359296, 32768}, sizeAlign{196608, 4096}, sizeAlign{4718592, 65536}},
	{1920, 1080, 1, 1, false, true}: {2048, sizeAlign{2359296, 32768}, sizeAlign{}, sizeAlign{4718592, 65536}},
	{1280, 720, 1, 1, true, true}:   {1280, sizeAlign{983040, 32768}, sizeAlign{131072, 4096}, sizeAlign{1966080, 65536}},
	{1280, 720, 1, 1, false, true}:  {1280, sizeAlign{983040, 32768}, sizeAlign{}, sizeAlign{1966080, 65536}},
}

// DepthSize reports the guest-side stencil/htile/depth buffer sizes and
// pitch for one of the fixed resolution/format/tile/neo combinations the
// console actually produces. ok is false for anything else, mirroring
// the original's "zero everything and return" behavior on a table miss;
// callers that treat an unsupported configuration as fatal should check
// ok themselves (the render engine aborts, the tiler does not).
func DepthSize(width, height, zFormat, stencilFormat uint32, htile, neo bool) (stencilSize, htileSize, depthSize, pitch uint32, ok bool) {
	row, found := depthTable[depthKey{width, height, zFormat, stencilFormat, htile, neo}]
	if !found {
		return 0, 0, 0, 0, false
	}
	return row.stencil.size, row.htileSz.size, row.depth.size, row.pitch, true
}

type videoOutKey struct {
	width, height uint32
	tile, neo     bool
}

type videoOutRow struct {
	size, pitch uint32
}

var videoOutTable = map[videoOutKey]videoOutRow{
	{1920, 1080, true, false}:  {8355840, 1920},
	{1920, 1080, true, true}:   {8847360, 1920},
	{1920, 1080, false, false}: {8294400, 1920},
	{1920, 1080, false, true}:  {8294400, 1920},
	{1280, 720, true, false}:   {3932160, 1280},
	{1280, 720, true, true}:    {3932160, 1280},
	{1280, 720, false, false}:  {3686400, 1280},
	{1280, 720, false, true}:   {3686400, 1280},
}

// VideoOutSize reports the backing size and pitch for a scan-out
// surface of the given dimensions/tiling/neo combination.
func VideoOutSize(width, height uint32, tile, neo bool) (size, pitch uint32, ok bool) {
	row, found := videoOutTable[videoOutKey{width, height, tile, neo}]
	if !found {
		return 0, 0, false
	}
	return row.size, row.pitch, true
}

// textureKey/textureRow hold a representative subset of the original's
// per-{format,size,levels,tile,neo} texture size table: the two formats
// the render engine actually requests mip chains for (R8G8B8A8_SRGB and
// BC3_SRGB_BLOCK) at the one size the guest allocates them at. Extending
// this to other sizes means adding rows, not changing the lookup logic.
type textureKey struct {
	dfmt, nfmt           uint32
	width, height, levels uint32
	tile                 uint32
	neo                  bool
}

type textureRow struct {
	levelSizes          [16]uint32
	paddedW, paddedH     [16]uint32
}

var textureTable = map[textureKey]textureRow{
	{10, 9, 512, 512, 10, 8, false}: {levelSizes: [16]uint32{1048576, 262144, 65536, 16384, 4096, 1024, 512, 256, 256, 256}},
	{10, 9, 512, 512, 10, 8, true}:  {levelSizes: [16]uint32{1048576, 262144, 65536, 16384, 4096, 1024, 512, 256, 256, 256}},
	{10, 9, 512, 512, 10, 13, false}: {
		levelSizes: [16]uint32{1048576, 262144, 65536, 16384, 4096, 1024, 256, 256, 256, 256},
		paddedW:    [16]uint32{512, 256, 128, 64, 32, 16, 8, 8, 8, 8},
		paddedH:    [16]uint32{512, 256, 128, 64, 32, 16, 8, 8, 8, 8},
	},
	{10, 9, 512, 512, 10, 13, true}: {
		levelSizes: [16]uint32{1048576, 262144, 65536, 16384, 4096, 1024, 256, 256, 256, 256},
		paddedW:    [16]uint32{512, 256, 128, 64, 32, 16, 8, 8, 8, 8},
		paddedH:    [16]uint32{512, 256, 128, 64, 32, 16, 8, 8, 8, 8},
	},
	{37, 9, 512, 512, 10, 13, false}: {
		levelSizes: [16]uint32{262144, 65536, 16384, 4096, 1024, 1024, 1024, 1024, 1024, 1024},
		paddedW:    [16]uint32{128, 64, 32, 16, 8, 8, 8, 8, 8, 8},
		paddedH:    [16]uint32{128, 64, 32, 16, 8, 8, 8, 8, 8, 8},
	},
	{37, 9, 512, 512, 10, 13, true}: {
		levelSizes: [16]uint32{262144, 65536, 16384, 4096, 1024, 1024, 1024, 1024, 1024, 1024},
		paddedW:    [16]uint32{128, 64, 32, 16, 8, 8, 8, 8, 8, 8},
		paddedH:    [16]uint32{128, 64, 32, 16, 8, 8, 8, 8, 8, 8},
	},
}

// TextureSize reports per-level byte sizes and padded mip dimensions
// for a texture matching one of the known format/size/levels/tile/neo
// rows. width must equal pitch, matching the original's lookup (it only
// ever matches unpitched textures).
func TextureSize(dfmt, nfmt, width, height, pitch, levels, tile uint32, neo bool) (totalSize uint32, levelSizes, paddedW, paddedH []uint32, ok bool) {
	if width != pitch {
		return 0, nil, nil, nil, false
	}
	row, found := textureTable[textureKey{dfmt, nfmt, width, height, levels, tile, neo}]
	if !found {
		return 0, nil, nil, nil, false
	}
	levelSizes = make([]uint32, levels)
	paddedW = make([]uint32, levels)
	paddedH = make([]uint32, levels)
	for l := uint32(0); l < levels; l++ {
		levelSizes[l] = row.levelSizes[l]
		paddedW[l] = row.paddedW[l]
		paddedH[l] = row.paddedH[l]
		totalSize += row.levelSizes[l]
	}
	return totalSize, levelSizes, paddedW, paddedH, true
}
