package pm4

import (
	"runtime"
	"unsafe"

	"github.com/kytyemu/kytyemu/internal/fatal"
)

// handler decodes one type-3 packet's body (the count+1 dwords that
// follow the header) against the processor's state.
type handler func(p *Processor, body []uint32)

var opTable = buildOpTable()

func buildOpTable() map[Op]handler {
	t := make(map[Op]handler)

	t[ITNop] = func(p *Processor, body []uint32) {
		if len(body) == 0 {
			return
		}
		switch nopSubtypeOf(body[0]) {
		case rVS:
			p.activeStage = &p.ctx.VS
		case rPS:
			p.activeStage = &p.ctx.PS
		case rCS:
			p.activeStage = &p.ctx.CS
		case rVSUpdate:
			p.activeStage = &p.ctx.Updates
		case rPSUpdate:
			p.activeStage = &p.ctx.Updates
		case rVSEmbedded:
			p.ctx.VS.Embedded = true
		case rPSEmbedded:
			p.ctx.PS.Embedded = true
		case rDrawIndex:
			if len(body) >= 4 {
				base := uint64(body[1]) | uint64(body[2])<<32
				p.DrawIndex(base, body[3])
			}
		case rDrawIndexAuto:
			if len(body) >= 2 {
				p.DrawIndexAuto(body[1])
			}
		case rDispatchDirect:
			if len(body) >= 4 {
				p.DispatchDirect(body[1], body[2], body[3])
			}
		case rWaitFlipDone:
			p.WaitFlipDone()
		case rPushMarker, rPopMarker, rDrawReset, rDispatchReset, rDispatchWaitMem, rZero:
			// framing markers only, no register effect.
		}
	}

	t[ITSetContextReg] = func(p *Processor, body []uint32) {
		if len(body) == 0 {
			return
		}
		offset, data := body[0], body[1:]
		for len(data) > 0 {
			consumed := dispatchContextReg(&p.ctx, offset, data)
			if consumed == 0 {
				return
			}
			data = data[consumed:]
			offset += consumed
		}
	}

	t[ITSetShReg] = func(p *Processor, body []uint32) {
		if len(body) < 2 || p.activeStage == nil {
			return
		}
		offset, data := body[0], body[1:]
		for i, v := range data {
			slot := int(offset) + i
			if slot < len(p.activeStage.UserSgpr) {
				p.activeStage.UserSgpr[slot] = v
			}
		}
	}

	t[ITSetUconfigReg] = func(p *Processor, body []uint32) {
		if len(body) < 2 {
			return
		}
		const regPrimitiveType = 0x242
		if (body[0] & 0xffff) == regPrimitiveType {
			p.ucfg.SetPrimitiveType(body[1])
		}
	}

	t[ITDrawIndex2] = func(p *Processor, body []uint32) {
		if len(body) < 4 {
			return
		}
		base := uint64(body[1]) | uint64(body[2])<<32
		p.DrawIndex(base, body[3])
	}

	t[ITDrawIndexAuto] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.DrawIndexAuto(body[0])
	}

	t[ITIndexType] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.SetIndexType(body[0] & 0x3)
	}

	t[ITNumInstances] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.SetNumInstances(body[0])
	}

	t[ITDispatchDirect] = func(p *Processor, body []uint32) {
		if len(body) < 3 {
			return
		}
		p.DispatchDirect(body[0], body[1], body[2])
	}

	t[ITEventWrite] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.TriggerEvent(body[0] & 0x3f)
	}
	t[ITEventWriteEOP] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.TriggerEvent(body[0] & 0x3f)
		if len(body) >= 5 {
			addr := (uint64(body[1]) | uint64(body[2])<<32) &^ 0x3
			value := uint64(body[3]) | uint64(body[4])<<32
			p.SignalLabel(addr, value, true)
		}
	}
	t[ITEventWriteEOS] = t[ITEventWriteEOP]

	t[ITWaitRegMem] = func(p *Processor, body []uint32) {
		if len(body) < 5 {
			return
		}
		function := body[0] & 0x7
		addr := (uint64(body[1]) | uint64(body[2])<<32) &^ 0x3
		reference, mask := body[3], body[4]
		for {
			v := readGuest32(addr) & mask
			if compareWaitValue(function, v, reference&mask) {
				return
			}
			runtime.Gosched()
		}
	}

	t[ITAcquireMem] = func(p *Processor, body []uint32) {
		p.MemoryBarrier()
	}

	t[ITDmaData] = func(p *Processor, body []uint32) {
		if len(body) < 7 {
			return
		}
		src := uint64(body[1]) | uint64(body[2])<<32
		dst := uint64(body[3]) | uint64(body[4])<<32
		size := body[5] & 0x1fffff
		copyGuest(dst, src, uint64(size))
	}

	t[ITIndirectBuffer] = func(p *Processor, body []uint32) {
		if len(body) < 3 {
			return
		}
		addr := uint64(body[0]) | uint64(body[1])<<32
		count := body[2] & 0xfffff
		Run(p, readGuestWords(addr, count))
	}

	t[ITIncrementCECounter] = func(p *Processor, body []uint32) { p.IncrementCe() }
	t[ITIncrementDECounter] = func(p *Processor, body []uint32) { p.IncrementDe() }
	t[ITWaitOnCECounter] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.WaitCe(body[0])
	}
	t[ITWaitOnDECounterDiff] = func(p *Processor, body []uint32) {
		if len(body) < 1 {
			return
		}
		p.WaitDeDiff(body[0])
	}

	t[ITWriteData] = func(p *Processor, body []uint32) {
		if len(body) < 3 {
			return
		}
		addr := (uint64(body[1]) | uint64(body[2])<<32) &^ 0x3
		writeGuestWords(addr, body[3:])
	}

	t[ITReleaseMem] = func(p *Processor, body []uint32) {
		if len(body) < 5 {
			return
		}
		p.TriggerEvent(body[0] & 0x3f)
		addr := (uint64(body[2]) | uint64(body[3])<<32) &^ 0x3
		is64 := len(body) >= 6
		value := uint64(body[4])
		if is64 {
			value |= uint64(body[5]) << 32
		}
		p.SignalLabel(addr, value, is64)
	}

	t[ITWriteConstRam] = func(p *Processor, body []uint32) {
		if len(body) < 2 {
			return
		}
		p.WriteConstRam(body[0], body[1:])
	}

	t[ITDumpConstRam] = func(p *Processor, body []uint32) {
		if len(body) < 3 {
			return
		}
		data := p.DumpConstRam(body[0], body[1])
		addr := uint64(body[2])
		writeGuestBytes(addr, data)
	}

	return t
}

// Run decodes and executes a stream of PM4 packets against p, one
// packet at a time, until the stream is exhausted.
func Run(p *Processor, data []uint32) {
	i := 0
	for i < len(data) {
		h := decodeHeader(data[i])
		bodyLen := int(h.count)
		end := i + 1 + bodyLen
		if end > len(data) {
			fatal.Abort("pm4: packet body overruns stream (op=%#x, count=%d)", h.opcode, h.count)
			return
		}
		body := data[i+1 : end]
		if h.typ == 3 {
			fn, ok := opTable[h.opcode]
			if !ok {
				fatal.Abort("pm4: unknown packet opcode %#x", h.opcode)
				return
			}
			fn(p, body)
		}
		i = end
	}
}

func compareWaitValue(function uint32, v, ref uint32) bool {
	switch function {
	case 0:
		return true
	case 1:
		return v < ref
	case 2:
		return v <= ref
	case 3:
		return v == ref
	case 4:
		return v != ref
	case 5:
		return v >= ref
	case 6:
		return v > ref
	default:
		return true
	}
}

// Guest memory is mapped into this process's flat address space, the
// same assumption internal/vmem, internal/linker and internal/gpumem
// make.

func readGuest32(addr uint64) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

func readGuestWords(addr uint64, count uint32) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(addr))), int(count))
}

func writeGuestWords(addr uint64, words []uint32) {
	dst := unsafe.Slice((*uint32)(unsafe.Pointer(uintptr(addr))), len(words))
	copy(dst, words)
}

func writeGuestBytes(addr uint64, data []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data))
	copy(dst, data)
}

func copyGuest(dst, src, size uint64) {
	s := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(src))), int(size))
	d := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(dst))), int(size))
	copy(d, s)
}
