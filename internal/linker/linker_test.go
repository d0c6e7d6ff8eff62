package linker

import (
	"testing"

	"github.com/kytyemu/kytyemu/internal/elf"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

func TestSymbolDatabaseAddFind(t *testing.T) {
	db := NewSymbolDatabase()
	key := SymbolKey{Name: "foo", Library: "B", Module: "C", Type: SymbolFunc}
	db.Add(key, 0xdead)

	rec := db.Find(key)
	if rec == nil {
		t.Fatal("expected to find the symbol just added")
	}
	if rec.Vaddr != 0xdead {
		t.Fatalf("vaddr = %#x, want 0xdead", rec.Vaddr)
	}
	if rec.Name != "foo#B#C" {
		t.Fatalf("generated name = %q", rec.Name)
	}
	if db.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", db.Count())
	}

	other := SymbolKey{Name: "bar", Library: "B", Module: "C", Type: SymbolFunc}
	if db.Find(other) != nil {
		t.Fatal("did not expect a match for an unregistered key")
	}
}

func TestLoadProgramParsesDynamicInfo(t *testing.T) {
	path := buildLinkerFixture(t, fixtureSpec{
		moduleID: 5,
		libID:    7,
		exported: true,
		syms: []symSpec{
			{decoratedName: "someFunc#" + elf.EncodeID(7) + "#" + elf.EncodeID(5), value: 0x100, bind: elf.STBGlobal, typ: elf.STTFunc},
		},
	})

	l := New()
	defer l.Clear()

	program, err := l.LoadProgram(path)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	if program.DynamicInfo.StrTable == 0 || program.DynamicInfo.SymbolTable == 0 {
		t.Fatalf("expected StrTable and SymbolTable to resolve to non-zero host addresses, got %+v", program.DynamicInfo)
	}
	if len(program.DynamicInfo.ExportModules) != 1 || program.DynamicInfo.ExportModules[0].EncodedID != elf.EncodeID(5) {
		t.Fatalf("unexpected export modules: %+v", program.DynamicInfo.ExportModules)
	}
	if len(program.DynamicInfo.ExportLibs) != 1 || program.DynamicInfo.ExportLibs[0].EncodedID != elf.EncodeID(7) {
		t.Fatalf("unexpected export libs: %+v", program.DynamicInfo.ExportLibs)
	}

	key := SymbolKey{
		Name: "someFunc", Library: "testlib", Module: "testmod", Type: SymbolFunc,
	}
	rec := program.ExportSymbols.Find(key)
	if rec == nil {
		t.Fatal("expected the decorated function symbol to land in ExportSymbols")
	}
	if rec.Vaddr != 0x100+program.BaseVaddr {
		t.Fatalf("export vaddr = %#x, want %#x", rec.Vaddr, 0x100+program.BaseVaddr)
	}
}

func TestResolveAcrossPrograms(t *testing.T) {
	modID, libID := uint16(9), uint16(2)
	decoratedName := "sharedFunc#" + elf.EncodeID(libID) + "#" + elf.EncodeID(modID)

	exporterPath := buildLinkerFixture(t, fixtureSpec{
		moduleID: modID, libID: libID, exported: true,
		syms: []symSpec{{decoratedName: decoratedName, value: 0x200, bind: elf.STBGlobal, typ: elf.STTFunc}},
	})
	importerPath := buildLinkerFixture(t, fixtureSpec{
		moduleID: modID, libID: libID, exported: false,
		syms: []symSpec{{decoratedName: decoratedName, value: 0, bind: elf.STBGlobal, typ: elf.STTFunc}},
	})

	l := New()
	defer l.Clear()

	exporter, err := l.LoadProgram(exporterPath)
	if err != nil {
		t.Fatalf("LoadProgram(exporter): %v", err)
	}
	importer, err := l.LoadProgram(importerPath)
	if err != nil {
		t.Fatalf("LoadProgram(importer): %v", err)
	}

	rec, bindSelf := l.Resolve(decoratedName, SymbolFunc, importer)
	if rec.Vaddr != 0x200+exporter.BaseVaddr {
		t.Fatalf("Resolve vaddr = %#x, want %#x", rec.Vaddr, 0x200+exporter.BaseVaddr)
	}
	if bindSelf {
		t.Fatal("expected bindSelf=false when the symbol resolves to a different program")
	}
}

func TestRelocateAllAppliesRelative(t *testing.T) {
	path := buildLinkerFixture(t, fixtureSpec{
		moduleID: 1,
		libID:    1,
		exported: true,
		relas: []relaSpec{
			{offset: 0x30, typ: elf.RX8664Relative, addend: 0x40},
		},
	})

	l := New()
	defer l.Clear()

	program, err := l.LoadProgram(path)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if err := l.RelocateAll(); err != nil {
		t.Fatalf("RelocateAll: %v", err)
	}

	got := vmem.ReadQword(program.BaseVaddr + 0x30)
	want := program.BaseVaddr + 0x40
	if got != want {
		t.Fatalf("relocated qword = %#x, want %#x", got, want)
	}
}

func TestTlsGetAddrReusesCopyUntilDeleteTls(t *testing.T) {
	img, err := vmem.Alloc(0, 0x1000, vmem.ReadWrite)
	if err != nil {
		t.Fatalf("vmem.Alloc: %v", err)
	}
	defer vmem.Free(img)

	p := &Program{FileName: "tls-test"}
	p.tls.imageVaddr = img
	p.tls.imageSize = 16

	addr1 := p.TlsGetAddr()
	addr2 := p.TlsGetAddr()
	if addr1 != addr2 {
		t.Fatalf("two calls on the same thread returned different addresses: %#x vs %#x", addr1, addr2)
	}

	p.DeleteTls()
	addr3 := p.TlsGetAddr()
	if addr3 == addr1 {
		t.Fatal("expected a fresh copy after DeleteTls, got the same address")
	}
}
