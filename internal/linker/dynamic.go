package linker

import "github.com/kytyemu/kytyemu/internal/elf"

// parseProgramDynamicInfo turns program.Elf's raw PT_DYNAMIC tag list into
// a DynamicInfo. Tags that name a table (hash/string/symbol/rela/jmprela)
// resolve straight to a host address by adding program.BaseVaddr, since by
// this point every segment has already been copied into real memory at
// that base; tags that name a lazily-used entry point (init/fini/pltgot)
// keep the raw file-relative value and the caller adds the base only when
// it is about to branch there. Both the standard tag and its OS-specific
// mirror are accepted and resolve identically: the self-wrapped format
// duplicates several tags under vendor-reserved numbers purely so a
// stock ELF linker won't misinterpret them.
func parseProgramDynamicInfo(program *Program) *DynamicInfo {
	img := program.Elf
	base := program.BaseVaddr
	di := &DynamicInfo{}

	table := func(std, mirror int64, out *uint64) {
		if d := img.GetDynValue(mirror); d != nil {
			*out = base + d.Val
		}
		if d := img.GetDynValue(std); d != nil {
			*out = base + d.Val
		}
	}
	value := func(std, mirror int64, out *uint64) {
		if d := img.GetDynValue(mirror); d != nil {
			*out = d.Val
		}
		if d := img.GetDynValue(std); d != nil {
			*out = d.Val
		}
	}
	ptr := func(std, mirror int64, out *uint64) {
		if d := img.GetDynValue(mirror); d != nil {
			*out = d.Val
		}
		if d := img.GetDynValue(std); d != nil {
			*out = d.Val
		}
	}

	table(elf.DTHash, elf.DTOSHash, &di.HashTable)
	value(elf.DTNull, elf.DTOSHashSz, &di.HashTableSize)

	table(elf.DTStrTab, elf.DTOSStrTab, &di.StrTable)
	value(elf.DTStrSz, elf.DTOSStrSz, &di.StrTableSize)

	table(elf.DTSymTab, elf.DTOSSymTab, &di.SymbolTable)
	value(elf.DTNull, elf.DTOSSymTabSz, &di.SymbolTableTotalSize)
	value(elf.DTSymEnt, elf.DTOSSymEnt, &di.SymbolTableEntrySize)

	ptr(elf.DTInit, elf.DTNull, &di.InitVaddr)
	ptr(elf.DTFini, elf.DTNull, &di.FiniVaddr)
	ptr(elf.DTInitArray, elf.DTNull, &di.InitArrayVaddr)
	ptr(elf.DTFiniArray, elf.DTNull, &di.FiniArrayVaddr)
	ptr(elf.DTPreinitArray, elf.DTNull, &di.PreinitArrayVaddr)
	value(elf.DTInitArraySz, elf.DTNull, &di.InitArraySize)
	value(elf.DTFiniArraySz, elf.DTNull, &di.FiniArraySize)
	value(elf.DTPreinitArraySz, elf.DTNull, &di.PreinitArraySize)

	ptr(elf.DTPLTGot, elf.DTOSPLTGot, &di.PltGotVaddr)

	table(elf.DTJmprel, elf.DTOSJmprel, &di.JmprelaTable)
	value(elf.DTPLTRelSz, elf.DTOSPLTRelSz, &di.JmprelaTableSize)

	table(elf.DTRela, elf.DTOSRela, &di.RelaTable)
	value(elf.DTRelaSz, elf.DTOSRelaSz, &di.RelaTableTotalSize)
	value(elf.DTRelaEnt, elf.DTOSRelaEnt, &di.RelaTableEntrySize)

	value(elf.DTRelaCount, elf.DTNull, &di.RelativeCount)
	value(elf.DTDebug, elf.DTNull, &di.Debug)
	value(elf.DTFlags, elf.DTNull, &di.Flags)
	value(elf.DTTextrel, elf.DTNull, &di.Textrel)

	for _, d := range img.GetDynList(elf.DTNeeded) {
		di.Needed = append(di.Needed, readCString(di.StrTable+d.Val))
	}
	if d := img.GetDynValue(elf.DTSoname); d != nil {
		di.SoName = readCString(di.StrTable + d.Val)
	}

	di.ImportModules = append(di.ImportModules, decodeModules(img, di.StrTable, elf.DTOSNeededModule)...)
	di.ImportModules = append(di.ImportModules, decodeModules(img, di.StrTable, elf.DTOSNeededModule1)...)
	di.ExportModules = append(di.ExportModules, decodeModules(img, di.StrTable, elf.DTOSModuleInfo)...)
	di.ExportModules = append(di.ExportModules, decodeModules(img, di.StrTable, elf.DTOSModuleInfo1)...)
	di.ImportLibs = append(di.ImportLibs, decodeLibs(img, di.StrTable, elf.DTOSImportLib)...)
	di.ImportLibs = append(di.ImportLibs, decodeLibs(img, di.StrTable, elf.DTOSImportLib1)...)
	di.ExportLibs = append(di.ExportLibs, decodeLibs(img, di.StrTable, elf.DTOSExportLib)...)
	di.ExportLibs = append(di.ExportLibs, decodeLibs(img, di.StrTable, elf.DTOSExportLib1)...)

	return di
}

func decodeModules(img *elf.Image, strTable uint64, tag int64) []ModuleID {
	var out []ModuleID
	for _, d := range img.GetDynList(tag) {
		need := d.Val
		out = append(out, ModuleID{
			EncodedID:    elf.EncodeID(uint16((need >> 48) & 0xffff)),
			VersionMajor: int((need >> 40) & 0xff),
			VersionMinor: int((need >> 32) & 0xff),
			Name:         readCString(strTable + (need & 0xffffffff)),
		})
	}
	return out
}

func decodeLibs(img *elf.Image, strTable uint64, tag int64) []LibraryID {
	var out []LibraryID
	for _, d := range img.GetDynList(tag) {
		need := d.Val
		out = append(out, LibraryID{
			EncodedID: elf.EncodeID(uint16((need >> 48) & 0xffff)),
			Version:   int((need >> 32) & 0xffff),
			Name:      readCString(strTable + (need & 0xffffffff)),
		})
	}
	return out
}
