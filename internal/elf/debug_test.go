package elf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func openMinimalELF(t *testing.T) *Image {
	t.Helper()
	data := buildMinimalELF(t)
	path := filepath.Join(t.TempDir(), "test.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestNeoModeReflectsABIVersion(t *testing.T) {
	img := openMinimalELF(t)
	if img.NeoMode() {
		t.Fatal("expected NeoMode false for ABIVersion 0")
	}
	img.Ehdr.Ident[eiABIVersion] = 2
	if !img.NeoMode() {
		t.Fatal("expected NeoMode true for ABIVersion 2")
	}
}

func TestDebugDumpWritesHeaderFields(t *testing.T) {
	img := openMinimalELF(t)
	var buf bytes.Buffer
	if err := img.DebugDump(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("ehdr->e_entry = 0x0000000000001000")) {
		t.Fatalf("dump missing entry point line:\n%s", buf.String())
	}
}
