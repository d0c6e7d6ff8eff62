package render

import "testing"

func TestDescriptorCacheReusesAndInvalidates(t *testing.T) {
	allocated := 0
	c := NewDescriptorCache(
		func(n int) []any {
			out := make([]any, n)
			for i := range out {
				allocated++
				out[i] = allocated
			}
			return out
		},
		func(any, DescriptorKey) {},
	)

	key := DescriptorKey{Stage: StagePixel, Textures2D: "tex1"}
	s1 := c.Get(key, []uint64{42})
	s2 := c.Get(key, []uint64{42})
	if s1 != s2 {
		t.Fatal("expected the same descriptor set on a cache hit")
	}

	c.InvalidateResource(42)
	if _, ok := c.sets[key]; ok {
		t.Fatal("expected the descriptor set to be invalidated")
	}
}

func TestDescriptorPoolDoublesWhenExhausted(t *testing.T) {
	allocCalls := []int{}
	p := newDescriptorPool(2, func(n int) []any {
		allocCalls = append(allocCalls, n)
		out := make([]any, n)
		for i := range out {
			out[i] = struct{}{}
		}
		return out
	})

	p.take()
	p.take()
	p.take() // exhausts the initial 2, should double

	if len(allocCalls) != 2 || allocCalls[1] != 2 {
		t.Fatalf("allocCalls = %v, want an initial alloc of 2 then a doubling", allocCalls)
	}
}
