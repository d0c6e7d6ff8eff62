package gpumem

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/kytyemu/kytyemu/internal/fatal"
	"github.com/kytyemu/kytyemu/internal/watcher"
)

var clockTick int64

func nextTimestamp() int64 { return atomic.AddInt64(&clockTick, 1) }

// Cache is the GPU-object cache: the single authority over CPU<->GPU
// coherence for guest memory.
type Cache struct {
	mu      sync.Mutex
	objects map[int]*Object
	nextID  int
	watch   *watcher.Watcher
}

func New(w *watcher.Watcher) *Cache {
	return &Cache{objects: make(map[int]*Object), watch: w}
}

type overlapping struct {
	id       int
	relation Relation
}

func (c *Cache) overlappingLocked(vaddr, size []uint64) []overlapping {
	var out []overlapping
	for id, obj := range c.objects {
		rel := GetOverlapType(obj.Vaddr, obj.Size, vaddr, size)
		if rel != RelationNone {
			out = append(out, overlapping{id: id, relation: rel})
		}
	}
	return out
}

func toRanges(vaddr, size []uint64) []watcher.Range {
	out := make([]watcher.Range, len(vaddr))
	for i := range vaddr {
		out[i] = watcher.Range{Start: vaddr[i], End: vaddr[i] + size[i]}
	}
	return out
}

func invertRelation(r Relation) Relation {
	switch r {
	case RelationContains:
		return RelationIsContainedWithin
	case RelationIsContainedWithin:
		return RelationContains
	default:
		return r
	}
}

// CreateObject implements the decision-table algorithm: it reuses an
// identical existing object when possible, otherwise classifies the
// overlap pattern against the fixed table and either deletes the
// overlapping objects and creates fresh, or creates fresh and links to
// them. An overlap pattern absent from the table is a hard abort.
func (c *Cache) CreateObject(vaddr, size []uint64, params Params) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	others := c.overlappingLocked(vaddr, size)

	for _, ov := range others {
		obj := c.objects[ov.id]
		if ov.relation == RelationEquals && obj.Scenario == ScenarioCommon &&
			obj.Kind() == params.Kind && obj.Params.Equal(params) {
			c.updateLocked(obj)
			return obj.Handle
		}
	}

	var latestMips *Object
	for _, ov := range others {
		obj := c.objects[ov.id]
		if ov.relation == RelationEquals && obj.Scenario == ScenarioGenerateMips &&
			obj.Kind() == params.Kind && obj.Params.Equal(params) {
			if latestMips == nil || obj.GPUUpdateTime > latestMips.GPUUpdateTime {
				latestMips = obj
			}
		}
	}
	if latestMips != nil {
		c.updateLocked(latestMips)
		return latestMips.Handle
	}

	entries := make([]othersEntry, len(others))
	for i, ov := range others {
		entries[i] = othersEntry{Kind: c.objects[ov.id].Kind(), Relation: ov.relation}
	}
	result, ok := classifyOverlap(params.Kind, entries)
	if !ok {
		fatal.Abort("gpumem: unrecognized overlap pattern for new %s against %d existing object(s)", params.Kind, len(others))
	}

	if result.deleteAll {
		for _, ov := range others {
			c.deleteLocked(ov.id)
		}
		others = nil
	}

	return c.createFreshLocked(vaddr, size, params, result, others).Handle
}

func (c *Cache) createFreshLocked(vaddr, size []uint64, params Params, result classifyResult, others []overlapping) *Object {
	hash := make([]uint64, len(vaddr))
	if params.CheckHash {
		for i := range vaddr {
			hash[i] = xxhash.Sum64(readBytes(vaddr[i], size[i]))
		}
	}

	var handle Handle
	if result.createFromObjects && params.CreateFromObjects != nil {
		var peers []*Object
		for _, ov := range others {
			peers = append(peers, c.objects[ov.id])
		}
		handle = params.CreateFromObjects(peers, result.scenario, vaddr, size)
	} else if params.Create != nil {
		handle = params.Create(vaddr, size)
	}

	now := nextTimestamp()
	c.nextID++
	obj := &Object{
		ID:            c.nextID,
		Vaddr:         append([]uint64(nil), vaddr...),
		Size:          append([]uint64(nil), size...),
		Params:        params,
		Handle:        handle,
		Hash:          hash,
		CPUUpdateTime: now,
		GPUUpdateTime: now,
		UseNum:        1,
		InUse:         true,
		Scenario:      result.scenario,
		Links:         make(map[int]Relation),
	}
	c.objects[obj.ID] = obj

	if result.overlap {
		for _, ov := range others {
			peer := c.objects[ov.id]
			obj.Links[peer.ID] = invertRelation(ov.relation)
			peer.Links[obj.ID] = ov.relation
		}
	}

	c.watch.Watch(toRanges(obj.Vaddr, obj.Size), c.onDirty, obj.ID, nil)
	return obj
}

func (c *Cache) onDirty(arg0, _ any) {
	id := arg0.(int)
	c.mu.Lock()
	obj, ok := c.objects[id]
	if ok {
		obj.CPUUpdateTime = nextTimestamp()
	}
	c.mu.Unlock()
}

func (c *Cache) deleteLocked(id int) {
	obj, ok := c.objects[id]
	if !ok {
		return
	}
	c.watch.Stop(toRanges(obj.Vaddr, obj.Size))
	if obj.Params.Delete != nil {
		obj.Params.Delete(obj.Handle)
	}
	for peerID := range obj.Links {
		if peer, ok := c.objects[peerID]; ok {
			delete(peer.Links, obj.ID)
		}
	}
	delete(c.objects, id)
}

// Update rehashes obj's guest memory if it has been written since the
// last GPU update, and calls its backend update callback if the hash
// changed.
func (c *Cache) Update(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj, ok := c.objects[id]; ok {
		c.updateLocked(obj)
	}
}

func (c *Cache) updateLocked(obj *Object) {
	c.watch.Stop(toRanges(obj.Vaddr, obj.Size))
	defer c.watch.Watch(toRanges(obj.Vaddr, obj.Size), c.onDirty, obj.ID, nil)

	if obj.CPUUpdateTime <= obj.GPUUpdateTime {
		return
	}

	changed := false
	if obj.Params.CheckHash {
		for i := range obj.Vaddr {
			h := xxhash.Sum64(readBytes(obj.Vaddr[i], obj.Size[i]))
			if h != obj.Hash[i] {
				obj.Hash[i] = h
				changed = true
			}
		}
	} else {
		changed = true
	}

	if changed && obj.Params.Update != nil {
		obj.Params.Update(obj)
	}
	obj.GPUUpdateTime = nextTimestamp()
}

// WriteBack walks every non-read-only object whose kind provides a
// write-back callback, flushes GPU->guest memory through it, and
// eagerly reconciles the one symmetric Equals peer a write-back target
// typically has (the StorageBuffer<->VideoOutBuffer pairing).
func (c *Cache) WriteBack() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, obj := range c.objects {
		if obj.Params.ReadOnly || obj.Params.WriteBack == nil {
			continue
		}
		c.watch.Stop(toRanges(obj.Vaddr, obj.Size))
		obj.Params.WriteBack(obj)
		obj.CPUUpdateTime = nextTimestamp()
		c.watch.Watch(toRanges(obj.Vaddr, obj.Size), c.onDirty, obj.ID, nil)

		var equalsPeer *Object
		count := 0
		for peerID, rel := range obj.Links {
			if rel == RelationEquals {
				count++
				equalsPeer = c.objects[peerID]
			}
		}
		if count == 1 && equalsPeer != nil {
			copy(equalsPeer.Hash, obj.Hash)
			c.updateLocked(equalsPeer)
		}
	}
}

// ResetHash zeroes the hash of every object of kind whose links include
// relation to some peer, forcing the next Update/WriteBack to rehash and
// propagate. Used by the render engine before a draw targets a
// VideoOutBuffer, so the prior frame's hash can't suppress the write-back.
func (c *Cache) ResetHash(kind Kind, relation Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, obj := range c.objects {
		if obj.Kind() != kind {
			continue
		}
		hasRelation := false
		for _, rel := range obj.Links {
			if rel == relation {
				hasRelation = true
				break
			}
		}
		if !hasRelation {
			continue
		}
		c.watch.Stop(toRanges(obj.Vaddr, obj.Size))
		for i := range obj.Hash {
			obj.Hash[i] = 0
		}
		c.watch.Watch(toRanges(obj.Vaddr, obj.Size), c.onDirty, obj.ID, nil)
	}
}
