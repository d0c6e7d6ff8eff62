package render

import (
	"testing"

	"github.com/kytyemu/kytyemu/internal/fatal"
)

func TestIndexTypeAndSize(t *testing.T) {
	if typ, size := IndexTypeAndSize(0); typ != 0 || size != 2 {
		t.Fatalf("got %d,%d want 0,2", typ, size)
	}
	if typ, size := IndexTypeAndSize(1); typ != 1 || size != 4 {
		t.Fatalf("got %d,%d want 1,4", typ, size)
	}
}

func TestColorWriteMaskAcceptsOnlyFullOrNone(t *testing.T) {
	if ColorWriteMask(0xf) != 0xf {
		t.Fatal("expected 0xf to pass through")
	}
	if ColorWriteMask(0x0) != 0x0 {
		t.Fatal("expected 0x0 to pass through")
	}

	var aborted string
	fatal.Hook = func(msg string) { aborted = msg }
	defer func() { fatal.Hook = nil }()
	ColorWriteMask(0x3)
	if aborted == "" {
		t.Fatal("expected an abort for an unsupported color write mask")
	}
}

func TestTranslateBlendFactorUnknownAborts(t *testing.T) {
	var aborted string
	fatal.Hook = func(msg string) { aborted = msg }
	defer func() { fatal.Hook = nil }()
	TranslateBlendFactor(0xff)
	if aborted == "" {
		t.Fatal("expected an abort for an unknown blend factor")
	}
}

func TestBuildRenderDepthInfoUsesTilerTable(t *testing.T) {
	info := BuildRenderDepthInfo(3, 0, 0x1000, 0, 0x2000, 1920, 1080, true, false, 0)
	if info.DepthSize == 0 {
		t.Fatal("expected a nonzero depth size from the table lookup")
	}
}
