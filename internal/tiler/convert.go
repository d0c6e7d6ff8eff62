package tiler

import (
	"sync"

	"github.com/kytyemu/kytyemu/internal/asyncjob"
)

// Converter owns the two worker goroutines that split a video-out
// detile across halves of the image to roughly halve wall-clock; the
// mipmap/texture path runs serially per level on the caller's goroutine.
type Converter struct {
	mu   sync.Mutex
	job1 *asyncjob.AsyncJob
	job2 *asyncjob.AsyncJob
}

func NewConverter() *Converter {
	return &Converter{job1: asyncjob.New(), job2: asyncjob.New()}
}

func (c *Converter) Close() {
	c.job1.Close()
	c.job2.Close()
}

type detile32Params struct {
	t                  *Tiler32
	startY, width, height, dstPitch uint32
	dst, src           []byte
	neo                bool
}

func detile32Range(p *detile32Params) {
	for y := p.startY; y < p.height; y++ {
		linearOffset := uint64(y) * uint64(p.dstPitch) * 4
		for x := uint32(0); x < p.width; x++ {
			tiledOffset := p.t.GetTiledOffset(x, y, p.neo)
			copy(p.dst[linearOffset:linearOffset+4], p.src[tiledOffset:tiledOffset+4])
			linearOffset += 4
		}
	}
}

// ConvertVideoOutTiledToLinear detiles a 32-bit-element video-out
// surface, splitting the rows across two workers.
func (c *Converter) ConvertVideoOutTiledToLinear(dst, src []byte, width, height uint32, neo bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var t Tiler32
	t.Init(width, height, neo)

	half := height / 2
	p1 := &detile32Params{t: &t, startY: 0, width: width, height: half, dstPitch: width, dst: dst, src: src, neo: neo}
	p2 := &detile32Params{t: &t, startY: half, width: width, height: height, dstPitch: width, dst: dst, src: src, neo: neo}

	c.job1.Execute(func(arg any) { detile32Range(arg.(*detile32Params)) }, p1)
	c.job2.Execute(func(arg any) { detile32Range(arg.(*detile32Params)) }, p2)
	c.job1.Wait()
	c.job2.Wait()
}

func detile1d(t *Tiler1d, dst, src []byte) {
	elementBytes := t.bitsPerElement / 8
	for y := uint32(0); y < t.height; y++ {
		linearOffset := uint64(y) * uint64(t.width) * uint64(elementBytes)
		for x := uint32(0); x < t.width; x++ {
			tiledOffset := t.GetTiledOffset(x, y)
			copy(dst[linearOffset:linearOffset+uint64(elementBytes)], src[tiledOffset:tiledOffset+uint64(elementBytes)])
			linearOffset += uint64(elementBytes)
		}
	}
}

// ConvertTextureTiledToLinear detiles every mip level of a texture in
// turn; each level is serial, matching the original's per-level loop.
func ConvertTextureTiledToLinear(dst, src []byte, dfmt, nfmt, width, height, levels uint32, paddedWidth, paddedHeight []uint32, neo bool) {
	mipWidth, mipHeight := width, height
	dstOff, srcOff := 0, 0

	for l := uint32(0); l < levels; l++ {
		var t Tiler1d
		t.Init(dfmt, nfmt, mipWidth, mipHeight, paddedWidth[l], paddedHeight[l])

		size := int(t.width) * int(t.height) * int(t.bitsPerElement) / 8
		detile1d(&t, dst[dstOff:dstOff+size], src[srcOff:srcOff+size])
		dstOff += size
		srcOff += size

		if mipWidth > 1 {
			mipWidth /= 2
		}
		if mipHeight > 1 {
			mipHeight /= 2
		}
	}
}
