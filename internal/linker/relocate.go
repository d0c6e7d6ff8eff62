package linker

import (
	"github.com/kytyemu/kytyemu/internal/elf"
	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/klog"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

// relocationInfo is what a single RELA/JMPREL entry resolves to before it
// is written into the program's image.
type relocationInfo struct {
	resolved bool
	bind     BindType
	symType  SymbolType
	value    uint64
	name     string
	bindSelf bool
}

// getRelocationInfo resolves one relocation entry against program's own
// symbol table, falling through to the cross-program resolver for
// anything not locally defined. GLOB_DAT and JUMP_SLOT entries are
// resolved the same way a real dynamic linker would resolve them lazily
// on first call: this port does it immediately, for every entry, at
// RelocateAll time (see relocateAll) rather than deferring JMPREL slots
// to a PLT stub, since branching into a lazily-filled slot would need a
// native call trampoline this port doesn't have.
func getRelocationInfo(r elf.Rela, program *Program) relocationInfo {
	di := program.DynamicInfo
	symIndex := uint64(r.Symbol())

	if symIndex == 0 || di.SymbolTable == 0 {
		return relocationInfo{resolved: true, value: uint64(r.Addend) + program.BaseVaddr}
	}

	sym := readSymAt(di.SymbolTable, symIndex)
	name := readCString(di.StrTable + uint64(sym.Name))

	var symType SymbolType
	switch sym.Type() {
	case elf.STTFunc:
		symType = SymbolFunc
	case elf.STTObject:
		symType = SymbolObject
	default:
		symType = SymbolNoType
	}

	var bind BindType
	switch sym.Bind() {
	case elf.STBGlobal:
		bind = BindGlobal
	case elf.STBWeak:
		bind = BindWeak
	default:
		bind = BindLocal
	}

	if bind == BindLocal {
		return relocationInfo{resolved: true, bind: bind, symType: symType, name: name, value: sym.Value + program.BaseVaddr}
	}

	record, bindSelf := program.linker.Resolve(name, symType, program)
	if record.Vaddr != 0 {
		return relocationInfo{resolved: true, bind: bind, symType: symType, name: name, value: record.Vaddr, bindSelf: bindSelf}
	}

	if bind == BindWeak {
		// Weak and unresolved: a data object is redirected to the
		// invalid-memory sentinel so a late access traps. Anything else
		// falls back to whatever the slot already holds before relocation
		// (the file's own placeholder), offset by the load base.
		if symType == SymbolObject {
			return relocationInfo{resolved: true, bind: bind, symType: symType, name: name, value: program.linker.invalidMemory}
		}
		pre := vmem.ReadQword(r.Offset + program.BaseVaddr)
		return relocationInfo{resolved: true, bind: bind, symType: symType, name: name, value: pre + program.BaseVaddr}
	}

	if program.FailIfGlobalNotResolved {
		fatal.Abort("linker: %s: unresolved global symbol %q", program.FileName, name)
	}
	return relocationInfo{resolved: false, bind: bind, symType: symType, name: name, value: program.linker.invalidMemory}
}

// relocateAll applies every entry of a RELA-format table (the plain RELA
// table when jmprelaTable is false, the JMPREL/PLT table when true) to
// program's image.
func relocateAll(table uint64, count uint64, program *Program, jmprelaTable bool, invalidMemory uint64) {
	for i := uint64(0); i < count; i++ {
		r := readRelaAt(table, i)
		switch r.Type() {
		case elf.RX8664Relative:
			value := uint64(r.Addend) + program.BaseVaddr
			if _, err := vmem.PatchReplace(r.Offset+program.BaseVaddr, value); err != nil {
				fatal.Abort("linker: %s: RELATIVE relocation at %#x: %v", program.FileName, r.Offset, err)
			}

		case elf.RX8664_64, elf.RX8664GlobDat, elf.RX8664JumpSlot:
			info := getRelocationInfo(r, program)
			if !info.resolved {
				info.value = invalidMemory
			}
			if program.DbgPrintReloc {
				klog.Debugf("%s: reloc %s -> %#x (%s, %s)%s", program.FileName, info.name, info.value, info.bind, info.symType, jmprelKind(jmprelaTable))
			}
			if _, err := vmem.PatchReplace(r.Offset+program.BaseVaddr, info.value); err != nil {
				fatal.Abort("linker: %s: relocation at %#x: %v", program.FileName, r.Offset, err)
			}

		case elf.RX8664DTPMod64:
			// TLS module-id relocations: the module index itself is not
			// modeled (no multi-module TLS access pattern is emitted by
			// this port's callers), so the slot is left pointing at the
			// program's own TLS image base for TlsGetAddr-style lookups.
			if _, err := vmem.PatchReplace(r.Offset+program.BaseVaddr, program.tls.imageVaddr); err != nil {
				fatal.Abort("linker: %s: DTPMOD64 relocation at %#x: %v", program.FileName, r.Offset, err)
			}

		default:
			klog.Warnf("%s: unhandled relocation type %d at %#x", program.FileName, r.Type(), r.Offset)
		}
	}
}

func jmprelKind(jmprelaTable bool) string {
	if jmprelaTable {
		return ", plt"
	}
	return ""
}
