package watcher

import (
	"testing"

	"github.com/kytyemu/kytyemu/internal/vmem"
)

type fakeProt struct {
	calls []vmem.Mode
}

func (f *fakeProt) Protect(address, size uint64, mode vmem.Mode, outOld *vmem.Mode) error {
	f.calls = append(f.calls, mode)
	return nil
}

func TestWatchFireOnce(t *testing.T) {
	fp := &fakeProt{}
	w := New(fp, 0, 16, false)

	fired := 0
	var gotArg0 any
	w.Watch([]Range{{Start: 0x1000, End: 0x4000}}, func(a0, a1 any) {
		fired++
		gotArg0 = a0
	}, "region-a", nil)

	if len(fp.calls) != 1 || fp.calls[0] != vmem.Read {
		t.Fatalf("expected a single downgrade-to-Read call, got %v", fp.calls)
	}

	if ok := w.Check(0x2000, 8); !ok {
		t.Fatalf("Check should report a hit")
	}
	if fired != 1 {
		t.Fatalf("callback should fire exactly once, fired=%d", fired)
	}
	if gotArg0 != "region-a" {
		t.Fatalf("callback arg0 mismatch: %v", gotArg0)
	}

	if ok := w.Check(0x2000, 8); ok {
		t.Fatalf("second Check on the same address should not hit")
	}
	if fired != 1 {
		t.Fatalf("callback should not re-fire, fired=%d", fired)
	}

	last := fp.calls[len(fp.calls)-1]
	if last != vmem.ReadWrite {
		t.Fatalf("released pages should be restored to ReadWrite, got %v", last)
	}
}

func TestWatchStopRestoresReadWrite(t *testing.T) {
	fp := &fakeProt{}
	w := New(fp, 0, 16, false)

	ranges := []Range{{Start: 0x0, End: 0x1000}}
	w.Watch(ranges, func(any, any) {}, nil, nil)
	w.Stop(ranges)

	if len(fp.calls) != 2 {
		t.Fatalf("expected downgrade then restore, got %v", fp.calls)
	}
	if fp.calls[0] != vmem.Read || fp.calls[1] != vmem.ReadWrite {
		t.Fatalf("unexpected protection sequence: %v", fp.calls)
	}
}

func TestWatchIdenticalRegionIsNoop(t *testing.T) {
	fp := &fakeProt{}
	w := New(fp, 0, 16, false)
	ranges := []Range{{Start: 0x0, End: 0x1000}}
	w.Watch(ranges, func(any, any) {}, nil, nil)
	w.Watch(ranges, func(any, any) {}, nil, nil)

	if len(w.regions) != 1 {
		t.Fatalf("expected a single stored region, got %d", len(w.regions))
	}
}

func TestDisabledWatcherIsNoop(t *testing.T) {
	fp := &fakeProt{}
	w := New(fp, 0, 16, true)
	w.Watch([]Range{{Start: 0, End: 0x1000}}, func(any, any) {}, nil, nil)
	if len(fp.calls) != 0 {
		t.Fatalf("disabled watcher must not touch protection")
	}
	if w.Check(0, 8) {
		t.Fatalf("disabled watcher must never report a hit")
	}
}
