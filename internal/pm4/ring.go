package pm4

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxComputeRings is the number of (pipe, queue) compute ring slots
// the processor tracks; only one ring per pipe may be active at a
// time, mirroring the hardware's single-active-queue-per-pipe rule.
const maxComputeRings = 64

// Submission is one batch of work handed to the graphics ring: a draw
// (DE) stream, a matching constant-staging (CE) stream that runs
// concurrently with it, and an optional flip to present afterward.
type Submission struct {
	ID          uint64
	DrawStream  []uint32
	ConstStream []uint32
	Flip        bool
	FlipSlot    int
	FlipArg     uint64
}

// GraphicsRing is the single graphics-queue FIFO: submissions are
// processed strictly in order, but within a submission the DE and CE
// streams run as two cooperating goroutines synchronized through the
// processor's counters.
type GraphicsRing struct {
	p *Processor

	mu      sync.Mutex
	queue   []Submission
	notEmpty *sync.Cond

	nextID uint64
	closed bool
}

func NewGraphicsRing(p *Processor) *GraphicsRing {
	r := &GraphicsRing{p: p}
	r.notEmpty = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Submit enqueues a submission and assigns it a monotonic ID.
func (r *GraphicsRing) Submit(drawStream, constStream []uint32, flip bool, flipSlot int, flipArg uint64) uint64 {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.queue = append(r.queue, Submission{
		ID: id, DrawStream: drawStream, ConstStream: constStream,
		Flip: flip, FlipSlot: flipSlot, FlipArg: flipArg,
	})
	r.notEmpty.Signal()
	r.mu.Unlock()
	return id
}

func (r *GraphicsRing) Close() {
	r.mu.Lock()
	r.closed = true
	r.notEmpty.Broadcast()
	r.mu.Unlock()
}

func (r *GraphicsRing) run() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.notEmpty.Wait()
		}
		if len(r.queue) == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		sub := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.execute(sub)
	}
}

func (r *GraphicsRing) execute(sub Submission) {
	r.p.ResetDeCe()

	var g errgroup.Group
	g.Go(func() error {
		Run(r.p, sub.DrawStream)
		return nil
	})
	g.Go(func() error {
		Run(r.p, sub.ConstStream)
		return nil
	})
	g.Wait()

	slot := r.p.nextBufferSlot()
	r.p.backend.BufferFlush(slot)
	if sub.Flip {
		r.p.backend.Flip(sub.FlipSlot, sub.FlipArg)
	}
}

// ComputeRing is one (pipe, queue) compute ring buffer: the guest
// writes indirect-command dwords into a ring and "rings the doorbell"
// with DingDong, which tells the processor how far the write pointer
// advanced; the ring copies the (possibly wrapped) span into a linear
// scratch buffer and executes it.
type ComputeRing struct {
	p *Processor

	mu      sync.Mutex
	base    []uint32 // guest-backed ring contents, already wrapped to length
	readPos uint32
	active  bool

	scratch []uint32
}

func NewComputeRing(p *Processor) *ComputeRing {
	return &ComputeRing{p: p}
}

// Bind attaches the ring to its guest-resident backing buffer and
// marks it active. Only one ring per pipe may be active; the caller
// (the compute-ring table) enforces that.
func (c *ComputeRing) Bind(ring []uint32) {
	c.mu.Lock()
	c.base = ring
	c.readPos = 0
	c.active = true
	c.mu.Unlock()
}

func (c *ComputeRing) Unbind() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

func (c *ComputeRing) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// DingDong advances the ring's write pointer to offset (a dword index
// into the ring, which may wrap past the end), copies the newly
// available span into a linear scratch buffer, and executes it.
func (c *ComputeRing) DingDong(offset uint32) {
	c.mu.Lock()
	if !c.active || len(c.base) == 0 {
		c.mu.Unlock()
		return
	}
	ringLen := uint32(len(c.base))
	writePos := offset % ringLen
	span := make([]uint32, 0, ringLen)
	for pos := c.readPos; pos != writePos; pos = (pos + 1) % ringLen {
		span = append(span, c.base[pos])
	}
	c.readPos = writePos
	c.scratch = span
	c.mu.Unlock()

	Run(c.p, span)
}

// ComputeRingTable owns up to maxComputeRings rings keyed by a
// (pipe, queue) pair packed into a single index.
type ComputeRingTable struct {
	rings      [maxComputeRings]*ComputeRing
	pipeActive [16]int // which queue (1-based, 0 = none) is active per pipe
}

func NewComputeRingTable(p *Processor) *ComputeRingTable {
	t := &ComputeRingTable{}
	for i := range t.rings {
		t.rings[i] = NewComputeRing(p)
	}
	return t
}

func ringIndex(pipe, queue uint32) uint32 { return pipe*8 + queue }

// Activate binds a ring for (pipe, queue), deactivating any other
// queue already active on that pipe.
func (t *ComputeRingTable) Activate(pipe, queue uint32, ring []uint32) *ComputeRing {
	if prev := t.pipeActive[pipe]; prev != 0 && uint32(prev-1) != queue {
		t.rings[ringIndex(pipe, uint32(prev-1))].Unbind()
	}
	t.pipeActive[pipe] = int(queue) + 1
	r := t.rings[ringIndex(pipe, queue)]
	r.Bind(ring)
	return r
}

func (t *ComputeRingTable) Ring(pipe, queue uint32) *ComputeRing {
	return t.rings[ringIndex(pipe, queue)]
}
