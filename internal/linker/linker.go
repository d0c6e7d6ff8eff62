// Package linker is the runtime linker: it loads self-wrapped ELF64
// images into real host memory, resolves their NID-decorated symbols
// against every other loaded image, and applies RELA/JMPREL relocations
// before handing control to the entry point.
package linker

import (
	"fmt"
	"sync"

	"github.com/kytyemu/kytyemu/internal/elf"
	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/klog"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

const (
	systemReserved = 0x8_0000_0000
	codeBaseIncr   = 0x1_0000_000
	invalidOffset  = 0x4_0000_000
	codeBaseOffset = 0x1_0000_0000
	pageSize       = 0x1000
)

// Linker owns every loaded program and the cross-program export table.
type Linker struct {
	mu       sync.Mutex
	programs []*Program
	symbols  *SymbolDatabase

	desiredBase   uint64
	invalidMemory uint64
	relocated     bool

	nextID int32
}

func New() *Linker {
	return &Linker{
		symbols:     NewSymbolDatabase(),
		desiredBase: systemReserved + codeBaseOffset,
	}
}

// RegisterSymbol adds a host-provided symbol (a syscall shim or other
// natively implemented entry point that has no loaded image of its own)
// to the process-wide database Resolve checks before any program's
// export table.
func (l *Linker) RegisterSymbol(key SymbolKey, vaddr uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.symbols.Add(key, vaddr)
}

// LoadProgram opens path, maps its segments into host memory, parses its
// dynamic section and builds its export/import symbol tables. The
// program still needs a RelocateAll pass before it is safe to branch
// into.
func (l *Linker) LoadProgram(path string) (*Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	img, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("linker: %w", err)
	}

	program := &Program{
		UniqueID:                l.nextID,
		FileName:                path,
		Elf:                     img,
		linker:                  l,
		FailIfGlobalNotResolved: true,
	}

	if err := l.loadProgramToMemory(program); err != nil {
		return nil, err
	}
	program.DynamicInfo = parseProgramDynamicInfo(program)
	l.createSymbolDatabase(program)

	if !program.IsShared() {
		program.FailIfGlobalNotResolved = false
	}

	l.programs = append(l.programs, program)
	klog.Infof("loaded %s at base %#x", path, program.BaseVaddr)
	return program, nil
}

func alignedSize(p elf.Phdr) uint64 {
	if p.Align == 0 {
		return p.Memsz
	}
	return (p.Memsz + p.Align - 1) &^ (p.Align - 1)
}

func calcBaseSize(phdrs []elf.Phdr) uint64 {
	var size uint64
	for _, p := range phdrs {
		if p.Memsz == 0 || (p.Type != elf.PTLoad && p.Type != elf.PTOSRelro) {
			continue
		}
		if last := p.Vaddr + alignedSize(p); last > size {
			size = last
		}
	}
	return size
}

func modeFromFlags(flags uint32) vmem.Mode {
	switch flags {
	case elf.PFRead:
		return vmem.Read
	case elf.PFWrite:
		return vmem.Write
	case elf.PFRead | elf.PFWrite:
		return vmem.ReadWrite
	case elf.PFExecute:
		return vmem.Execute
	case elf.PFExecute | elf.PFRead:
		return vmem.ExecuteRead
	case elf.PFExecute | elf.PFWrite:
		return vmem.ExecuteWrite
	case elf.PFExecute | elf.PFWrite | elf.PFRead:
		return vmem.ExecuteReadWrite
	default:
		return vmem.NoAccess
	}
}

// loadProgramToMemory reserves host memory for the program's image plus
// its per-image exception-handler and TLS-trampoline tails, copies every
// loadable segment in, patches inline TLS accesses, and sets protection.
func (l *Linker) loadProgramToMemory(program *Program) error {
	phdrs := program.Elf.Phdr

	program.BaseSize = calcBaseSize(phdrs)
	program.BaseSizeAligned = ((program.BaseSize &^ (pageSize - 1)) + pageSize)

	isShared := program.IsShared()
	tlsHandlerSize := uint64(0)
	if !isShared {
		tlsHandlerSize = tlsHandlerStubSize
	}
	allocSize := program.BaseSizeAligned + pageSize + tlsHandlerSize

	base, err := vmem.Alloc(l.desiredBase, allocSize, vmem.ExecuteReadWrite)
	if err != nil {
		return fmt.Errorf("linker: reserve %d bytes for %s: %w", allocSize, program.FileName, err)
	}
	program.BaseVaddr = base
	if !isShared {
		program.tls.handlerVaddr = base + program.BaseSizeAligned + pageSize
	}

	l.desiredBase += codeBaseIncr * (1 + allocSize/codeBaseIncr)

	program.ExceptionHandler = vmem.NewExceptionHandler()
	program.ExceptionHandler.Install(base, base+program.BaseSizeAligned, allocSize, l.exceptionHandler)

	for _, p := range phdrs {
		switch {
		case p.Memsz != 0 && (p.Type == elf.PTLoad || p.Type == elf.PTOSRelro):
			segAddr := p.Vaddr + base
			segMemSize := alignedSize(p)
			mode := modeFromFlags(p.Flags)

			dst := unsafeSlice(segAddr, segMemSize)
			for i := range dst {
				dst[i] = 0
			}
			if err := program.Elf.LoadSegment(dst[:p.Filesz], p.Offset, p.Filesz); err != nil {
				return fmt.Errorf("linker: load segment: %w", err)
			}

			if mode.IsExecute() {
				patchTLSAccess(program, segAddr, segMemSize)
			}
			if err := vmem.Protect(segAddr, segMemSize, mode, nil); err != nil {
				return fmt.Errorf("linker: protect segment: %w", err)
			}
			if mode.IsExecute() {
				_ = vmem.FlushInstructionCache(segAddr, segMemSize)
			}

		case p.Type == elf.PTTLS:
			program.tls.imageVaddr = p.Vaddr + base
			program.tls.imageSize = alignedSize(p)

		case p.Type == elf.PTOSProcparam:
			program.ProcParamVaddr = p.Vaddr + base
		}
	}

	if !isShared {
		installTLSHandlerStub(program)
	}

	return nil
}

func (l *Linker) createSymbolDatabase(program *Program) {
	program.ExportSymbols = NewSymbolDatabase()
	program.ImportSymbols = NewSymbolDatabase()

	di := program.DynamicInfo
	if di.SymbolTable == 0 || di.StrTable == 0 {
		return
	}

	count := di.SymbolTableTotalSize / 24
	for i := uint64(0); i < count; i++ {
		sym := readSymAt(di.SymbolTable, i)
		name := readCString(di.StrTable + uint64(sym.Name))
		decName, lib, mod, ok := elf.DecoratedName(name)
		if !ok {
			continue
		}
		l_, m_ := l.findLibrary(program, lib), l.findModule(program, mod)
		if l_ == nil || m_ == nil {
			continue
		}
		bind, typ := sym.Bind(), sym.Type()
		if bind != elf.STBGlobal && bind != elf.STBWeak {
			continue
		}
		var symType SymbolType
		switch typ {
		case elf.STTNoType:
			symType = SymbolNoType
		case elf.STTFunc:
			symType = SymbolFunc
		case elf.STTObject:
			symType = SymbolObject
		default:
			continue
		}
		key := SymbolKey{
			Name: decName, Library: l_.Name, LibraryVersion: l_.Version,
			Module: m_.Name, ModuleVersionMajor: m_.VersionMajor, ModuleVersionMinor: m_.VersionMinor,
			Type: symType,
		}
		isExport := sym.Value != 0
		vaddr := uint64(0)
		if isExport {
			vaddr = sym.Value + program.BaseVaddr
		}
		if isExport {
			program.ExportSymbols.Add(key, vaddr)
		} else {
			program.ImportSymbols.Add(key, 0)
		}
	}
}

func (l *Linker) findModule(program *Program, id string) *ModuleID {
	for i := range program.DynamicInfo.ImportModules {
		if program.DynamicInfo.ImportModules[i].EncodedID == id {
			return &program.DynamicInfo.ImportModules[i]
		}
	}
	for i := range program.DynamicInfo.ExportModules {
		if program.DynamicInfo.ExportModules[i].EncodedID == id {
			return &program.DynamicInfo.ExportModules[i]
		}
	}
	return nil
}

func (l *Linker) findLibrary(program *Program, id string) *LibraryID {
	for i := range program.DynamicInfo.ImportLibs {
		if program.DynamicInfo.ImportLibs[i].EncodedID == id {
			return &program.DynamicInfo.ImportLibs[i]
		}
	}
	for i := range program.DynamicInfo.ExportLibs {
		if program.DynamicInfo.ExportLibs[i].EncodedID == id {
			return &program.DynamicInfo.ExportLibs[i]
		}
	}
	return nil
}

func (l *Linker) findProgram(m ModuleID, lib LibraryID) *Program {
	for _, p := range l.programs {
		if containsModule(p.DynamicInfo.ExportModules, m) && containsLib(p.DynamicInfo.ExportLibs, lib) {
			return p
		}
	}
	return nil
}

func containsModule(list []ModuleID, m ModuleID) bool {
	for _, x := range list {
		if x.EncodedID == m.EncodedID {
			return true
		}
	}
	return false
}

func containsLib(list []LibraryID, l LibraryID) bool {
	for _, x := range list {
		if x.EncodedID == l.EncodedID {
			return true
		}
	}
	return false
}

// Resolve decodes name's NID triple and looks it up first in the
// process-wide SymbolDatabase, then in the owning module's export table.
// bindSelf reports whether the resolution landed back in program itself.
func (l *Linker) Resolve(name string, typ SymbolType, program *Program) (SymbolRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	decName, libID, modID, ok := elf.DecoratedName(name)
	if !ok {
		return SymbolRecord{Name: name}, false
	}

	lib := l.findLibrary(program, libID)
	mod := l.findModule(program, modID)
	if lib == nil || mod == nil {
		fatal.Abort("linker: symbol %q names an unknown library/module pair", name)
	}

	key := SymbolKey{
		Name: decName, Library: lib.Name, LibraryVersion: lib.Version,
		Module: mod.Name, ModuleVersionMajor: mod.VersionMajor, ModuleVersionMinor: mod.VersionMinor,
		Type: typ,
	}

	if rec := l.symbols.Find(key); rec != nil {
		return *rec, false
	}

	owner := l.findProgram(*mod, *lib)
	if owner != nil && owner.ExportSymbols != nil {
		if rec := owner.ExportSymbols.Find(key); rec != nil {
			return *rec, owner == program
		}
	}

	return SymbolRecord{Key: key, Name: GenerateName(key)}, false
}

// RelocateAll applies relocations to every loaded program, in load order.
func (l *Linker) RelocateAll() error {
	l.mu.Lock()
	programs := append([]*Program(nil), l.programs...)
	l.mu.Unlock()

	for _, p := range programs {
		if err := l.relocateProgram(p); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.relocated = true
	l.mu.Unlock()
	return nil
}

func (l *Linker) relocateProgram(program *Program) error {
	if l.invalidMemory == 0 {
		addr, err := vmem.Alloc(systemReserved+invalidOffset, pageSize, vmem.NoAccess)
		if err != nil {
			return fmt.Errorf("linker: reserve invalid-memory sentinel: %w", err)
		}
		l.invalidMemory = addr
	}

	di := program.DynamicInfo
	if di.SymbolTable == 0 {
		return nil
	}

	if di.RelaTable != 0 {
		relocateAll(di.RelaTable, relaCount(di.RelaTableTotalSize), program, false, l.invalidMemory)
	}
	if di.JmprelaTable != 0 {
		relocateAll(di.JmprelaTable, relaCount(di.JmprelaTableSize), program, true, l.invalidMemory)
	}
	return nil
}

// StartAllModules calls every shared module's DT_INIT in load order.
func (l *Linker) StartAllModules() {
	l.mu.Lock()
	programs := append([]*Program(nil), l.programs...)
	l.mu.Unlock()

	for _, p := range programs {
		if p.IsShared() && p.DynamicInfo.InitVaddr != 0 {
			klog.Infof("start module: %s", p.FileName)
			callInitFini(p.DynamicInfo.InitVaddr + p.BaseVaddr)
		}
	}
}

// StopAllModules calls every shared module's DT_FINI in load order.
func (l *Linker) StopAllModules() {
	l.mu.Lock()
	programs := append([]*Program(nil), l.programs...)
	l.mu.Unlock()

	for _, p := range programs {
		if p.IsShared() && p.DynamicInfo.FiniVaddr != 0 {
			klog.Infof("stop module: %s", p.FileName)
			callInitFini(p.DynamicInfo.FiniVaddr + p.BaseVaddr)
			deleteThreadTLS(p)
		}
	}
}

// GetEntry returns the main executable's relocated entry point, or 0 if
// no main program has been loaded yet.
func (l *Linker) GetEntry() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.programs {
		if !p.IsShared() {
			return p.Elf.Ehdr.Entry + p.BaseVaddr
		}
	}
	return 0
}

// FindProgramByAddr returns the loaded program whose mapped range
// contains vaddr, or nil.
func (l *Linker) FindProgramByAddr(vaddr uint64) *Program {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.programs {
		for _, ph := range p.Elf.Phdr {
			if ph.Memsz == 0 || (ph.Type != elf.PTLoad && ph.Type != elf.PTOSRelro) {
				continue
			}
			segAddr := ph.Vaddr + p.BaseVaddr
			if vaddr >= segAddr && vaddr < segAddr+alignedSize(ph) {
				return p
			}
		}
	}
	return nil
}

// FindProgramByID returns the loaded program with the given UniqueID.
func (l *Linker) FindProgramByID(id int32) *Program {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.programs {
		if p.UniqueID == id {
			return p
		}
	}
	return nil
}

// UnloadProgram removes program and re-relocates the remaining set if a
// relocation pass had already run.
func (l *Linker) UnloadProgram(program *Program) error {
	l.mu.Lock()
	idx := -1
	for i, p := range l.programs {
		if p == program {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return fmt.Errorf("linker: unload of unknown program %s", program.FileName)
	}
	l.programs = append(l.programs[:idx], l.programs[idx+1:]...)
	needsReloc := l.relocated
	l.mu.Unlock()

	deleteProgram(program)
	if needsReloc {
		return l.RelocateAll()
	}
	return nil
}

// Clear unloads every program, releasing their host memory.
func (l *Linker) Clear() {
	l.mu.Lock()
	programs := l.programs
	l.programs = nil
	l.relocated = false
	l.mu.Unlock()

	for _, p := range programs {
		deleteProgram(p)
	}
}

func deleteProgram(p *Program) {
	if p.BaseVaddr != 0 {
		_ = vmem.Free(p.BaseVaddr)
	}
	if p.ExceptionHandler != nil {
		p.ExceptionHandler.Uninstall()
	}
}

func (l *Linker) exceptionHandler(info *vmem.ExceptionInfo) {
	if info.Type == vmem.ExceptionAccessViolation {
		if info.CallerRBP != 0 {
			l.StackTrace(info.CallerRBP)
		}
		note := ""
		if info.FaultVaddr == l.invalidMemory {
			note = " (unpatched object)"
		}
		fatal.Abort("access violation: %s [%#016x]%s", info.AccessType, info.FaultVaddr, note)
		return
	}
	fatal.Abort("unknown exception (%#x)", info.PlatformCode)
}
