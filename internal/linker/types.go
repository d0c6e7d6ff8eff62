package linker

import (
	"sync"

	"github.com/kytyemu/kytyemu/internal/elf"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

// SymbolType classifies a resolved or to-be-resolved symbol.
type SymbolType int

const (
	SymbolUnknown SymbolType = iota
	SymbolNoType
	SymbolFunc
	SymbolObject
	SymbolTLSModule
)

func (t SymbolType) String() string {
	switch t {
	case SymbolNoType:
		return "NoType"
	case SymbolFunc:
		return "Func"
	case SymbolObject:
		return "Object"
	case SymbolTLSModule:
		return "TlsModule"
	default:
		return "Unknown"
	}
}

// BindType classifies how a relocation's symbol was bound.
type BindType int

const (
	BindUnknown BindType = iota
	BindLocal
	BindGlobal
	BindWeak
)

func (b BindType) String() string {
	switch b {
	case BindLocal:
		return "Local"
	case BindGlobal:
		return "Global"
	case BindWeak:
		return "Weak"
	default:
		return "Unknown"
	}
}

// ModuleID and LibraryID are the decoded NID module/library triples a
// decorated symbol name resolves against.
type ModuleID struct {
	EncodedID    string
	Name         string
	VersionMajor int
	VersionMinor int
}

type LibraryID struct {
	EncodedID string
	Name      string
	Version   int
}

// SymbolKey is the lookup key a decorated symbol name decomposes into.
type SymbolKey struct {
	Name               string
	Library            string
	LibraryVersion     int
	Module             string
	ModuleVersionMajor int
	ModuleVersionMinor int
	Type               SymbolType
}

// SymbolRecord is what a successful lookup in a SymbolDatabase returns:
// the generated/decorated name (for diagnostics) and the resolved vaddr,
// which is 0 for an entry still awaiting resolution.
type SymbolRecord struct {
	Key     SymbolKey
	Vaddr   uint64
	Name    string
	DbgName string
}

// DynamicInfo is the parsed view of a program's PT_DYNAMIC segment: every
// field the loader needs after the raw tag list has been interpreted.
type DynamicInfo struct {
	HashTable     uint64
	HashTableSize uint64

	StrTable     uint64
	StrTableSize uint64

	SymbolTable          uint64
	SymbolTableTotalSize uint64
	SymbolTableEntrySize uint64

	InitVaddr         uint64
	FiniVaddr         uint64
	InitArrayVaddr    uint64
	FiniArrayVaddr    uint64
	PreinitArrayVaddr uint64
	InitArraySize     uint64
	FiniArraySize     uint64
	PreinitArraySize  uint64

	PltGotVaddr      uint64
	JmprelaTable     uint64
	JmprelaTableSize uint64

	RelaTable          uint64
	RelaTableTotalSize uint64
	RelaTableEntrySize uint64
	RelativeCount      uint64

	Debug   uint64
	Flags   uint64
	Textrel uint64

	Needed []string
	SoName string

	ImportModules []ModuleID
	ExportModules []ModuleID
	ImportLibs    []LibraryID
	ExportLibs    []LibraryID
}

// tlsState is a program's thread-local storage bookkeeping: the template
// image inside the mapped segment and one private copy per thread that
// has ever touched it.
type tlsState struct {
	mu           sync.Mutex
	imageVaddr   uint64
	imageSize    uint64
	handlerVaddr uint64
	perThread    map[int64][]byte
}

// Program is one loaded image: either the main executable or a shared
// module pulled in to satisfy DT_NEEDED.
type Program struct {
	UniqueID int32
	FileName string

	Elf *elf.Image

	BaseVaddr       uint64
	BaseSize        uint64
	BaseSizeAligned uint64
	ProcParamVaddr  uint64

	DynamicInfo *DynamicInfo

	ExceptionHandler *vmem.ExceptionHandler

	ExportSymbols *SymbolDatabase
	ImportSymbols *SymbolDatabase

	FailIfGlobalNotResolved bool
	DbgPrintReloc           bool

	tls tlsState

	linker *Linker
}

// IsShared reports whether this program is a dynamic library rather than
// the main executable.
func (p *Program) IsShared() bool {
	return p.Elf.Ehdr.Type == elf.ETDynamic
}
