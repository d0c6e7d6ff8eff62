// Package watcher implements the dirty-page watcher: it downgrades
// watched guest pages to read-only, tracks an 8-bit refcount per page so
// overlapping watches compose safely, and cooperates with the
// process-wide exception handler to tell real faults from writes into
// memory the GPU has cached.
package watcher

import (
	"fmt"
	"sync"

	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

const (
	pageSize = 0x1000
	// maxRefcount bounds how many watches may overlap one page: the
	// refcount table is 8-bit per page.
	maxRefcount = 255
)

// Range is a half-open guest address range.
type Range struct {
	Start uint64
	End   uint64 // exclusive
}

func (r Range) pageStart() uint64 { return r.Start &^ (pageSize - 1) }
func (r Range) pageEnd() uint64   { return (r.End + pageSize - 1) &^ (pageSize - 1) }

func (r Range) intersects(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

func sameRanges(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Callback fires when Check releases a watched region; arg0/arg1 are
// opaque caller-supplied values.
type Callback func(arg0, arg1 any)

type region struct {
	ranges []Range
	cb     Callback
	arg0   any
	arg1   any
}

// Protector is the subset of the virtual-memory façade the watcher
// mutates; tests substitute a fake to avoid touching real pages.
type Protector interface {
	Protect(address, size uint64, mode vmem.Mode, outOld *vmem.Mode) error
}

// Watcher owns the page-refcount table and the list of watched regions.
// It is the only component allowed to change protection on pages that
// belong to allocated guest memory.
type Watcher struct {
	mu        sync.Mutex
	refcounts []uint8 // index = page number relative to base
	base      uint64
	regions   []*region
	prot      Protector
	disabled  bool // true when a debugger is attached at construction
}

// New creates a watcher covering up to pagesNum pages starting at base.
// debuggerAttached disables the watcher entirely: a debugger's own
// hardware breakpoints and the watcher's page read-only tricks would
// otherwise fight each other.
func New(prot Protector, base uint64, pagesNum uint64, debuggerAttached bool) *Watcher {
	return &Watcher{
		refcounts: make([]uint8, pagesNum),
		base:      base,
		prot:      prot,
		disabled:  debuggerAttached,
	}
}

func (w *Watcher) pageIndex(addr uint64) int {
	return int((addr - w.base) / pageSize)
}

// Watch registers a region covering ranges; it is a no-op if an
// identical region is already present.
func (w *Watcher) Watch(ranges []Range, cb Callback, arg0, arg1 any) {
	if w.disabled {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range w.regions {
		if sameRanges(r.ranges, ranges) {
			return
		}
	}

	for _, rg := range ranges {
		w.bumpRun(rg.pageStart(), rg.pageEnd(), +1)
	}
	w.regions = append(w.regions, &region{ranges: ranges, cb: cb, arg0: arg0, arg1: arg1})
}

// Stop removes the region matching ranges exactly, the inverse of Watch.
func (w *Watcher) Stop(ranges []Range) {
	if w.disabled {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := -1
	for i, r := range w.regions {
		if sameRanges(r.ranges, ranges) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	w.regions = append(w.regions[:idx], w.regions[idx+1:]...)

	for _, rg := range ranges {
		w.bumpRun(rg.pageStart(), rg.pageEnd(), -1)
	}
}

// bumpRun adjusts every page's refcount in [start,end) by delta and
// downgrades/restores protection once per maximal contiguous run that
// crosses the 0<->1 boundary, issuing a single Protect call per run.
func (w *Watcher) bumpRun(start, end uint64, delta int) {
	runStart := uint64(0)
	inRun := false

	flush := func(runEnd uint64) {
		if !inRun {
			return
		}
		mode := vmem.ReadWrite
		if delta > 0 {
			mode = vmem.Read
		}
		if err := w.prot.Protect(runStart, runEnd-runStart, mode, nil); err != nil {
			fatal.Abort("watcher: protect %#x..%#x: %v", runStart, runEnd, err)
		}
		inRun = false
	}

	for addr := start; addr < end; addr += pageSize {
		idx := w.pageIndex(addr)
		if idx < 0 || idx >= len(w.refcounts) {
			fatal.Abort("watcher: page index out of range for addr %#x", addr)
		}
		before := w.refcounts[idx]
		after := int(before) + delta
		if after < 0 || after > maxRefcount {
			fatal.Abort("watcher: refcount overflow at page %#x", addr)
		}
		w.refcounts[idx] = uint8(after)

		crosses := (delta > 0 && before == 0) || (delta < 0 && after == 0)
		if crosses {
			if !inRun {
				runStart = addr
				inRun = true
			}
		} else {
			flush(addr)
		}
	}
	flush(end)
}

// Check is invoked from the exception handler. It snapshots and removes
// every region whose page range intersects [vaddr, vaddr+size), restores
// those pages to read-write, and invokes each snapshot's callback outside
// the lock so a callback may safely re-enter Watch.
func (w *Watcher) Check(vaddr, size uint64) bool {
	if w.disabled {
		return false
	}
	faultRange := Range{Start: vaddr, End: vaddr + size}

	w.mu.Lock()
	var hit []*region
	var kept []*region
	for _, r := range w.regions {
		matched := false
		for _, rg := range r.ranges {
			if Range{Start: rg.pageStart(), End: rg.pageEnd()}.intersects(Range{Start: faultRange.pageStart(), End: faultRange.pageEnd()}) {
				matched = true
				break
			}
		}
		if matched {
			hit = append(hit, r)
		} else {
			kept = append(kept, r)
		}
	}
	w.regions = kept
	for _, r := range hit {
		for _, rg := range r.ranges {
			w.bumpRun(rg.pageStart(), rg.pageEnd(), -1)
		}
	}
	w.mu.Unlock()

	for _, r := range hit {
		if r.cb != nil {
			r.cb(r.arg0, r.arg1)
		}
	}
	return len(hit) > 0
}

// ProtectionOf reports the current host protection mode tracked for addr.
func (w *Watcher) ProtectionOf(addr uint64) (string, error) {
	idx := w.pageIndex(addr)
	if idx < 0 || idx >= len(w.refcounts) {
		return "", fmt.Errorf("watcher: addr %#x out of tracked range", addr)
	}
	if w.refcounts[idx] > 0 {
		return "Read", nil
	}
	return "ReadWrite", nil
}
