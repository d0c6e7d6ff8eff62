package render

import "testing"

func TestFramebufferCacheSynthesizesOnceAndReusesDummyColor(t *testing.T) {
	dummyCalls := 0
	synthCalls := 0
	c := NewFramebufferCache(
		func(format, width, height uint32) any { dummyCalls++; return "dummy" },
		func(key FramebufferKey, dummy any, renderPassID uint64) *Framebuffer {
			synthCalls++
			return &Framebuffer{RenderPass: "rp", Framebuffer: "fb"}
		},
	)

	key := FramebufferKey{DepthImageID: 7, DepthClearEnable: true}
	fb1 := c.Get(key, 1, 1920, 1080)
	fb2 := c.Get(key, 1, 1920, 1080)

	if fb1 != fb2 {
		t.Fatal("expected a cached framebuffer on the second call")
	}
	if synthCalls != 1 {
		t.Fatalf("synthCalls = %d, want 1", synthCalls)
	}
	if dummyCalls != 1 {
		t.Fatalf("dummyCalls = %d, want 1 (depth-only pass needs one dummy color attachment)", dummyCalls)
	}
	if fb1.RenderPassID != 1 {
		t.Fatalf("RenderPassID = %d, want 1", fb1.RenderPassID)
	}

	otherKey := FramebufferKey{DepthImageID: 8, DepthClearEnable: true}
	fb3 := c.Get(otherKey, 1, 1920, 1080)
	if dummyCalls != 1 {
		t.Fatalf("dummyCalls = %d, want still 1 (same {format,width,height} dummy reused)", dummyCalls)
	}
	if fb3.RenderPassID != 2 {
		t.Fatalf("RenderPassID = %d, want 2", fb3.RenderPassID)
	}
}
