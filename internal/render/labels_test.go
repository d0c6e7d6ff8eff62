package render

import (
	"sync"
	"testing"
	"time"
)

func TestLabelManagerFiresCallbacksAndStoresInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var storedAddr uint64
	var storedVal uint64

	fired := make(chan struct{}, 1)
	fired <- struct{}{} // status returns true on first poll

	status := func(event any) bool {
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}
	store := func(addr uint64, value uint64, is64 bool) {
		mu.Lock()
		order = append(order, "store")
		storedAddr, storedVal = addr, value
		mu.Unlock()
	}

	m := NewLabelManager(status, store)
	defer m.Close()

	done := make(chan struct{})
	l := &Label{
		Addr: 0x1000, Value: 42,
		Callback1: func() bool {
			mu.Lock()
			order = append(order, "cb1")
			mu.Unlock()
			return true
		},
		Callback2: func() {
			mu.Lock()
			order = append(order, "cb2")
			mu.Unlock()
			close(done)
		},
	}
	m.Set(l)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the label to fire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "cb1" || order[1] != "store" || order[2] != "cb2" {
		t.Fatalf("order = %v, want [cb1 store cb2]", order)
	}
	if storedAddr != 0x1000 || storedVal != 42 {
		t.Fatalf("stored addr=%#x val=%d", storedAddr, storedVal)
	}
}

func TestLabelManagerSkipsStoreWhenCallback1ReturnsFalse(t *testing.T) {
	fired := make(chan struct{}, 1)
	fired <- struct{}{}
	status := func(any) bool {
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}
	stored := false
	store := func(uint64, uint64, bool) { stored = true }

	m := NewLabelManager(status, store)
	defer m.Close()

	done := make(chan struct{})
	l := &Label{
		Callback1: func() bool { return false },
		Callback2: func() { close(done) },
	}
	m.Set(l)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the label to fire")
	}
	if stored {
		t.Fatal("expected the guest store to be skipped")
	}
}
