package elf

import "testing"

func TestNIDRoundTrip(t *testing.T) {
	for _, id := range []uint16{0, 1, 0x3f, 0x40, 0xfff, 0x1000, 0xffff, 0xabcd} {
		enc := EncodeID(id)
		if len(enc) < 1 || len(enc) > 3 {
			t.Fatalf("id %#x encoded to invalid length %d", id, len(enc))
		}
		dec, ok := DecodeID(enc)
		if !ok {
			t.Fatalf("id %#x: DecodeID(%q) failed", id, enc)
		}
		if dec != id {
			t.Fatalf("id %#x round-tripped to %#x via %q", id, dec, enc)
		}
	}
}

func TestDecoratedName(t *testing.T) {
	name, lib, mod, ok := DecoratedName("ab#Cd#Ef")
	if !ok || name != "ab" || lib != "Cd" || mod != "Ef" {
		t.Fatalf("unexpected split: %q %q %q %v", name, lib, mod, ok)
	}
	if _, _, _, ok := DecoratedName("printf"); ok {
		t.Fatalf("plain name must not match the 3-field NID format")
	}
}
