package gpu

import (
	"unsafe"

	vkbinding "github.com/goki/vulkan"

	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/gpumem"
	"github.com/kytyemu/kytyemu/internal/render"
)

// bufferResource is the Handle a buffer-backed gpumem.Object carries:
// the Vulkan buffer plus the host-visible memory backing it, so Update
// can memcpy straight into it without a staging round trip.
type bufferResource struct {
	buffer vkbinding.Buffer
	memory vkbinding.DeviceMemory
}

// imageResource is the Handle an image-backed gpumem.Object carries.
type imageResource struct {
	image  vkbinding.Image
	memory vkbinding.DeviceMemory
	view   vkbinding.ImageView
}

func readGuestBytes(addr uint64, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(n))
}

// indexBufferTag and vertexBufferTag distinguish the cache's Params.Tag
// by the one thing other than address that actually varies call to
// call: size. Two index buffers at different addresses with the same
// size are still different objects because CreateObject keys on
// address ranges first; Tag only disambiguates same-address reuse.
type indexBufferTag struct{ size uint64 }
type vertexBufferTag struct{ size uint64 }
type depthBufferTag struct{ width, height, zFormat, stencilFormat uint32 }

// indexBufferParams builds the cache recipe for a guest index buffer:
// host-visible so Update can memcpy the guest bytes straight in, no
// write-back since the GPU never mutates index data.
func (b *Backend) indexBufferParams(size uint64) gpumem.Params {
	return gpumem.Params{
		Kind:      gpumem.KindIndexBuffer,
		Tag:       indexBufferTag{size: size},
		CheckHash: true,
		ReadOnly:  true,
		Create: func(vaddr, sz []uint64) gpumem.Handle {
			buf, mem, err := b.dev.CreateBuffer(size, vkbinding.BufferUsageIndexBufferBit)
			if err != nil {
				fatal.Abort("gpu: create index buffer: %v", err)
			}
			r := bufferResource{buffer: buf, memory: mem}
			b.writeBuffer(r, vaddr[0], sz[0])
			return r
		},
		Update: func(obj *gpumem.Object) {
			r := obj.Handle.(bufferResource)
			b.writeBuffer(r, obj.Vaddr[0], obj.Size[0])
		},
		Delete: func(h gpumem.Handle) {},
	}
}

// vertexBufferParams builds the cache recipe for a guest vertex buffer.
func (b *Backend) vertexBufferParams(size uint64) gpumem.Params {
	return gpumem.Params{
		Kind:      gpumem.KindVertexBuffer,
		Tag:       vertexBufferTag{size: size},
		CheckHash: true,
		ReadOnly:  true,
		Create: func(vaddr, sz []uint64) gpumem.Handle {
			buf, mem, err := b.dev.CreateBuffer(size, vkbinding.BufferUsageVertexBufferBit)
			if err != nil {
				fatal.Abort("gpu: create vertex buffer: %v", err)
			}
			r := bufferResource{buffer: buf, memory: mem}
			b.writeBuffer(r, vaddr[0], sz[0])
			return r
		},
		Update: func(obj *gpumem.Object) {
			r := obj.Handle.(bufferResource)
			b.writeBuffer(r, obj.Vaddr[0], obj.Size[0])
		},
		Delete: func(h gpumem.Handle) {},
	}
}

func (b *Backend) writeBuffer(r bufferResource, addr, size uint64) {
	guest := readGuestBytes(addr, size)
	if err := b.dev.WriteBuffer(r.memory, guest); err != nil {
		fatal.Abort("gpu: write buffer: %v", err)
	}
}

// depthStencilParams builds the cache recipe for the bound depth/stencil
// surface. depth images are device-local; the GPU is their only writer
// and reader, so there is nothing for Update/WriteBack to do once
// created.
func (b *Backend) depthStencilParams(info render.RenderDepthInfo) gpumem.Params {
	return gpumem.Params{
		Kind: gpumem.KindDepthStencilBuffer,
		Tag: depthBufferTag{
			width: info.Width, height: info.Height,
			zFormat: info.ZFormat, stencilFormat: info.StencilFormat,
		},
		Create: func(vaddr, sz []uint64) gpumem.Handle {
			format := depthFormat(info.ZFormat)
			img, mem, view, err := b.dev.CreateImage(info.Width, info.Height, format,
				vkbinding.ImageUsageDepthStencilAttachmentBit, vkbinding.ImageAspectDepthBit|vkbinding.ImageAspectStencilBit)
			if err != nil {
				fatal.Abort("gpu: create depth/stencil image: %v", err)
			}
			return imageResource{image: img, memory: mem, view: view}
		},
		Delete: func(h gpumem.Handle) {},
	}
}

// colorImageParams builds the cache recipe for a color render target.
// WriteBack is nil here too: presentation reads the image back directly
// (see Backend.Flip) rather than through the cache's guest-store path,
// which exists for buffer-shaped objects.
func (b *Backend) colorImageParams(info render.RenderColorInfo) gpumem.Params {
	return gpumem.Params{
		Kind: gpumem.KindRenderTexture,
		Tag:  info.Format,
		Create: func(vaddr, sz []uint64) gpumem.Handle {
			format := colorFormat(info.Format)
			img, mem, view, err := b.dev.CreateImage(info.Width, info.Height, format,
				vkbinding.ImageUsageColorAttachmentBit|vkbinding.ImageUsageTransferSrcBit, vkbinding.ImageAspectColorBit)
			if err != nil {
				fatal.Abort("gpu: create color image: %v", err)
			}
			r := imageResource{image: img, memory: mem, view: view}
			b.mu.Lock()
			b.colorImages[info.Base] = r
			b.mu.Unlock()
			return r
		},
		Delete: func(h gpumem.Handle) {},
	}
}

// colorFormat and depthFormat translate the hardware's CB_FORMAT/
// Z_FORMAT encodings into Vulkan formats. Only the encodings the
// register decode tables in internal/pm4 and internal/tiler already
// recognize are mapped; anything else is not a configuration this
// core has seen a title use.
func colorFormat(code uint32) vkbinding.Format {
	switch code {
	case 0:
		return vkbinding.FormatR8g8b8a8Unorm
	case 1:
		return vkbinding.FormatB8g8r8a8Unorm
	case 2:
		return vkbinding.FormatR16g16b16a16Sfloat
	default:
		fatal.Abort("gpu: unknown color format code %d", code)
		return vkbinding.FormatUndefined
	}
}

func depthFormat(code uint32) vkbinding.Format {
	switch code {
	case 1:
		return vkbinding.FormatD16Unorm
	case 3:
		return vkbinding.FormatD32SfloatS8Uint
	default:
		fatal.Abort("gpu: unknown depth format code %d", code)
		return vkbinding.FormatUndefined
	}
}
