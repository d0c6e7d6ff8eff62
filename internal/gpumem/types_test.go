package gpumem

import "testing"

func TestKindStringCoversEveryKind(t *testing.T) {
	cases := map[Kind]string{
		KindStorageBuffer:      "StorageBuffer",
		KindRenderTexture:      "RenderTexture",
		KindStorageTexture:     "StorageTexture",
		KindTexture:            "Texture",
		KindVideoOutBuffer:     "VideoOutBuffer",
		KindLabel:              "Label",
		KindDepthStencilBuffer: "DepthStencilBuffer",
		KindIndexBuffer:        "IndexBuffer",
		KindVertexBuffer:       "VertexBuffer",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestCreateObjectDepthIndexVertexKinds(t *testing.T) {
	for _, kind := range []Kind{KindDepthStencilBuffer, KindIndexBuffer, KindVertexBuffer} {
		c := newTestCache()
		calls := 0
		params := Params{
			Kind: kind,
			Tag:  "tag",
			Create: func(vaddr, size []uint64) Handle {
				calls++
				return kind
			},
		}
		h := c.CreateObject([]uint64{0x2000}, []uint64{0x400}, params)
		if h != Handle(kind) {
			t.Fatalf("kind %v: handle = %v, want %v", kind, h, kind)
		}
		if calls != 1 {
			t.Fatalf("kind %v: Create called %d times, want 1", kind, calls)
		}
	}
}
