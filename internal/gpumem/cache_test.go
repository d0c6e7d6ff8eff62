package gpumem

import (
	"testing"

	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/vmem"
	"github.com/kytyemu/kytyemu/internal/watcher"
)

type fakeProtector struct{}

func (fakeProtector) Protect(address, size uint64, mode vmem.Mode, outOld *vmem.Mode) error {
	return nil
}

func newTestCache() *Cache {
	w := watcher.New(fakeProtector{}, 0, 0x10000, false)
	return New(w)
}

func TestCreateObjectFreshNoOverlap(t *testing.T) {
	c := newTestCache()
	calls := 0
	params := Params{
		Kind: KindStorageBuffer,
		Tag:  "buf-a",
		Create: func(vaddr, size []uint64) Handle {
			calls++
			return "handle-a"
		},
	}

	h := c.CreateObject([]uint64{0x1000}, []uint64{0x100}, params)
	if h != "handle-a" {
		t.Fatalf("handle = %v, want handle-a", h)
	}
	if calls != 1 {
		t.Fatalf("Create called %d times, want 1", calls)
	}
	if len(c.objects) != 1 {
		t.Fatalf("len(objects) = %d, want 1", len(c.objects))
	}
}

func TestCreateObjectReuseEquals(t *testing.T) {
	c := newTestCache()
	calls := 0
	params := Params{
		Kind: KindStorageBuffer,
		Tag:  "buf-a",
		Create: func(vaddr, size []uint64) Handle {
			calls++
			return calls
		},
	}

	h1 := c.CreateObject([]uint64{0x1000}, []uint64{0x100}, params)
	h2 := c.CreateObject([]uint64{0x1000}, []uint64{0x100}, params)
	if h1 != h2 {
		t.Fatalf("expected reuse: h1=%v h2=%v", h1, h2)
	}
	if calls != 1 {
		t.Fatalf("Create called %d times, want 1 (second call should reuse)", calls)
	}
}

func TestCreateObjectOverlapLinksPeers(t *testing.T) {
	c := newTestCache()
	bufParams := Params{
		Kind:   KindStorageBuffer,
		Tag:    "buf",
		Create: func(vaddr, size []uint64) Handle { return "buf-handle" },
	}
	texParams := Params{
		Kind:   KindTexture,
		Tag:    "tex",
		Create: func(vaddr, size []uint64) Handle { return "tex-handle" },
	}

	c.CreateObject([]uint64{0x1000}, []uint64{0x100}, bufParams)
	c.CreateObject([]uint64{0x1000}, []uint64{0x100}, texParams)

	if len(c.objects) != 2 {
		t.Fatalf("len(objects) = %d, want 2", len(c.objects))
	}
	var buf, tex *Object
	for _, o := range c.objects {
		if o.Kind() == KindStorageBuffer {
			buf = o
		} else {
			tex = o
		}
	}
	if buf == nil || tex == nil {
		t.Fatal("expected one StorageBuffer and one Texture object")
	}
	if buf.Links[tex.ID] != RelationEquals || tex.Links[buf.ID] != RelationEquals {
		t.Fatalf("expected symmetric Equals link, got buf->tex=%v tex->buf=%v", buf.Links[tex.ID], tex.Links[buf.ID])
	}
}

func TestCreateObjectLabelOnLabelDeletesAll(t *testing.T) {
	c := newTestCache()
	deleted := 0
	firstLabel := Params{
		Kind:   KindLabel,
		Tag:    "lbl-1",
		Create: func(vaddr, size []uint64) Handle { return "lbl-handle-1" },
		Delete: func(handle Handle) { deleted++ },
	}
	secondLabel := Params{
		Kind:   KindLabel,
		Tag:    "lbl-2",
		Create: func(vaddr, size []uint64) Handle { return "lbl-handle-2" },
		Delete: func(handle Handle) { deleted++ },
	}

	c.CreateObject([]uint64{0x2000}, []uint64{0x8}, firstLabel)
	c.CreateObject([]uint64{0x2000}, []uint64{0x8}, secondLabel)

	if deleted != 1 {
		t.Fatalf("Delete called %d times, want 1 (first label deleted on second create)", deleted)
	}
	if len(c.objects) != 1 {
		t.Fatalf("len(objects) = %d, want 1 (fresh replacement)", len(c.objects))
	}
}

func TestCreateObjectUnknownPatternAborts(t *testing.T) {
	c := newTestCache()
	var aborted string
	fatal.Hook = func(msg string) { aborted = msg }
	defer func() { fatal.Hook = nil }()

	vboParams := Params{Kind: KindVideoOutBuffer, Tag: "vbo", Create: func(vaddr, size []uint64) Handle { return "vbo" }}
	c.CreateObject([]uint64{0x3000}, []uint64{0x100}, vboParams)

	texParams := Params{Kind: KindTexture, Tag: "tex-bad", Create: func(vaddr, size []uint64) Handle { return "tex" }}
	c.CreateObject([]uint64{0x3000}, []uint64{0x100}, texParams)

	if aborted == "" {
		t.Fatal("expected fatal.Abort to fire for an unrecognized overlap pattern")
	}
}

func TestWriteBackPropagatesToEqualsPeer(t *testing.T) {
	c := newTestCache()
	writeBackCalls := 0
	bufParams := Params{
		Kind:      KindStorageBuffer,
		Tag:       "buf",
		Create:    func(vaddr, size []uint64) Handle { return "buf" },
		WriteBack: func(obj *Object) { writeBackCalls++ },
	}
	vboParams := Params{
		Kind:   KindVideoOutBuffer,
		Tag:    "vbo",
		Create: func(vaddr, size []uint64) Handle { return "vbo" },
	}

	c.CreateObject([]uint64{0x4000}, []uint64{0x100}, vboParams)
	c.CreateObject([]uint64{0x4000}, []uint64{0x100}, bufParams)

	var buf, vbo *Object
	for _, o := range c.objects {
		switch o.Kind() {
		case KindStorageBuffer:
			buf = o
		case KindVideoOutBuffer:
			vbo = o
		}
	}
	buf.Hash[0] = 0xabc

	c.WriteBack()
	if writeBackCalls != 1 {
		t.Fatalf("WriteBack callback fired %d times, want 1", writeBackCalls)
	}
	if vbo.Hash[0] != 0xabc {
		t.Fatalf("peer hash = %#x, want 0xabc copied from the written-back object", vbo.Hash[0])
	}
}

func TestResetHashZeroesMatching(t *testing.T) {
	c := newTestCache()
	bufParams := Params{Kind: KindStorageBuffer, Tag: "buf", Create: func(vaddr, size []uint64) Handle { return "buf" }}
	texParams := Params{Kind: KindTexture, Tag: "tex", Create: func(vaddr, size []uint64) Handle { return "tex" }}

	c.CreateObject([]uint64{0x5000}, []uint64{0x100}, bufParams)
	c.CreateObject([]uint64{0x5000}, []uint64{0x100}, texParams)

	var buf *Object
	for _, o := range c.objects {
		if o.Kind() == KindStorageBuffer {
			buf = o
			buf.Hash = []uint64{0xdeadbeef}
		}
	}

	c.ResetHash(KindStorageBuffer, RelationEquals)
	if buf.Hash[0] != 0 {
		t.Fatalf("hash = %#x, want 0 after ResetHash", buf.Hash[0])
	}
}
