package vk

import "testing"

func TestSafeStringNullTerminates(t *testing.T) {
	got := safeString("kytyemu")
	if got != "kytyemu\x00" {
		t.Fatalf("safeString = %q", got)
	}
}
