package render

import (
	"sync"
	"time"
)

// labelPollInterval is the cadence the label poller checks every live
// label's backend event status.
const labelPollInterval = 100 * time.Microsecond

// EventStatus reports whether a backend event (vkEvent equivalent)
// has fired.
type EventStatus func(event any) bool

// Label is one end-of-pipe label: a backend event recorded into a
// command buffer, the guest address + value to store once it fires,
// and the two callbacks the original runs around that store.
type Label struct {
	Event   any
	Addr    uint64
	Value   uint64
	Is64Bit bool

	// Callback1 runs before the guest store; returning false skips it.
	Callback1 func() bool
	// Callback2 runs after the guest store (typically submits the
	// flip and signals a kernel event-queue entry).
	Callback2 func()

	deleted bool
	fenceGen uint64
}

// LabelManager tracks every live label and polls their backend event
// status on a dedicated goroutine.
type LabelManager struct {
	mu     sync.Mutex
	labels map[*Label]struct{}
	status EventStatus
	store  func(addr uint64, value uint64, is64 bool)

	currentFence uint64

	stop chan struct{}
	done chan struct{}
}

func NewLabelManager(status EventStatus, store func(addr uint64, value uint64, is64 bool)) *LabelManager {
	m := &LabelManager{
		labels: make(map[*Label]struct{}),
		status: status,
		store:  store,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go m.poll()
	return m
}

// Set registers a label (LabelSet).
func (m *LabelManager) Set(l *Label) {
	m.mu.Lock()
	m.labels[l] = struct{}{}
	m.mu.Unlock()
}

// AdvanceFence records that submissions up to gen have fenced, so
// deleted-but-still-active labels from those submissions can finally
// be destroyed.
func (m *LabelManager) AdvanceFence(gen uint64) {
	m.mu.Lock()
	if gen > m.currentFence {
		m.currentFence = gen
	}
	for l := range m.labels {
		if l.deleted && l.fenceGen <= m.currentFence {
			delete(m.labels, l)
		}
	}
	m.mu.Unlock()
}

// Delete marks a label for deferred destruction: it is removed once
// the owning command processor's buffers have fenced, not
// immediately, so a fire that raced the delete still resolves safely.
func (m *LabelManager) Delete(l *Label, fenceGen uint64) {
	m.mu.Lock()
	l.deleted = true
	l.fenceGen = fenceGen
	m.mu.Unlock()
}

func (m *LabelManager) Close() {
	close(m.stop)
	<-m.done
}

func (m *LabelManager) poll() {
	defer close(m.done)
	ticker := time.NewTicker(labelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *LabelManager) pollOnce() {
	m.mu.Lock()
	fired := make([]*Label, 0)
	for l := range m.labels {
		if l.deleted {
			continue
		}
		if m.status(l.Event) {
			fired = append(fired, l)
			delete(m.labels, l)
		}
	}
	m.mu.Unlock()

	for _, l := range fired {
		if l.Callback1 == nil || l.Callback1() {
			m.store(l.Addr, l.Value, l.Is64Bit)
		}
		if l.Callback2 != nil {
			l.Callback2()
		}
	}
}
