package render

import "testing"

func TestPipelineCacheReusesOnHit(t *testing.T) {
	calls := 0
	c := NewPipelineCache(nil)
	key := PipelineKey{VSShaderID: 1, PSShaderID: 2}

	p1 := c.Get(key, 1, func() any { calls++; return "pipeline" })
	p2 := c.Get(key, 2, func() any { calls++; return "pipeline" })

	if calls != 1 {
		t.Fatalf("create called %d times, want 1", calls)
	}
	if p1 != p2 {
		t.Fatal("expected the same cached pipeline pointer")
	}
}

func TestPipelineCacheEvictsOnOverflow(t *testing.T) {
	destroyed := 0
	c := NewPipelineCache(func(any) { destroyed++ })

	for i := 0; i < maxPipelines; i++ {
		key := PipelineKey{VSShaderID: uint64(i)}
		c.Get(key, uint64(i), func() any { return i })
	}
	c.AdvanceFence(uint64(maxPipelines))

	extra := PipelineKey{VSShaderID: 999}
	c.Get(extra, uint64(maxPipelines+1), func() any { return "extra" })

	if len(c.entries) != maxPipelines {
		t.Fatalf("len(entries) = %d, want %d", len(c.entries), maxPipelines)
	}
	if destroyed != 1 {
		t.Fatalf("destroyed = %d, want 1", destroyed)
	}
}
