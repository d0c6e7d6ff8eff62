package pm4

import (
	"testing"
	"time"
)

func TestGraphicsRingExecutesInOrder(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)
	r := NewGraphicsRing(p)
	defer r.Close()

	draw := []uint32{packHeader(3, 1, ITDrawIndexAuto), 7}
	r.Submit(draw, nil, false, 0, 0)
	r.Submit(draw, nil, false, 0, 0)

	deadline := time.Now().Add(time.Second)
	for fb.draws < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fb.draws != 2 {
		t.Fatalf("draws = %d, want 2", fb.draws)
	}
}

func TestComputeRingDingDongExecutesAvailableSpan(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)
	ring := NewComputeRing(p)

	cmd := []uint32{packHeader(3, 3, ITDispatchDirect), 2, 2, 1}
	backing := make([]uint32, 16)
	copy(backing, cmd)
	ring.Bind(backing)

	ring.DingDong(uint32(len(cmd)))

	if fb.dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", fb.dispatches)
	}
}

func TestComputeRingTableSingleActivePerPipe(t *testing.T) {
	fb := &fakeBackend{}
	p := NewProcessor(fb)
	table := NewComputeRingTable(p)

	r0 := table.Activate(0, 0, make([]uint32, 8))
	r1 := table.Activate(0, 1, make([]uint32, 8))

	if r0.Active() {
		t.Fatal("expected queue 0 to be deactivated when queue 1 activates on the same pipe")
	}
	if !r1.Active() {
		t.Fatal("expected queue 1 to be active")
	}
}
