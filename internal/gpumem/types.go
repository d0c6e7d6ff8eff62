// Package gpumem is the single authority over CPU<->GPU coherence for
// guest memory: every backend object the render engine or command
// processor creates is addressed by 1-3 guest address ranges plus a kind
// and creation parameters, and only this package may destroy one.
package gpumem

// Kind classifies what a cached object backs on the GPU side.
type Kind int

const (
	KindUnknown Kind = iota
	KindStorageBuffer
	KindRenderTexture
	KindStorageTexture
	KindTexture
	KindVideoOutBuffer
	KindLabel
	KindDepthStencilBuffer
	KindIndexBuffer
	KindVertexBuffer
)

func (k Kind) String() string {
	switch k {
	case KindStorageBuffer:
		return "StorageBuffer"
	case KindRenderTexture:
		return "RenderTexture"
	case KindStorageTexture:
		return "StorageTexture"
	case KindTexture:
		return "Texture"
	case KindVideoOutBuffer:
		return "VideoOutBuffer"
	case KindLabel:
		return "Label"
	case KindDepthStencilBuffer:
		return "DepthStencilBuffer"
	case KindIndexBuffer:
		return "IndexBuffer"
	case KindVertexBuffer:
		return "VertexBuffer"
	default:
		return "Unknown"
	}
}

// Relation is how two address-range blocks overlap.
type Relation int

const (
	RelationNone Relation = iota
	RelationEquals
	RelationCrosses
	RelationContains
	RelationIsContainedWithin
)

func (r Relation) String() string {
	switch r {
	case RelationEquals:
		return "Equals"
	case RelationCrosses:
		return "Crosses"
	case RelationContains:
		return "Contains"
	case RelationIsContainedWithin:
		return "IsContainedWithin"
	default:
		return "None"
	}
}

// Scenario tags why a group of objects got linked together, so later
// reuse/write-back logic can special-case the common pairings.
type Scenario int

const (
	ScenarioCommon Scenario = iota
	ScenarioGenerateMips
	ScenarioTextureTriplet
)

// Handle is whatever the backend (internal/backend/vk) hands back for a
// created object; gpumem never interprets it.
type Handle any

// Params is the creation/update recipe for one object. Tag must be
// comparable and distinguish instances of the same Kind (e.g. format and
// dimensions encoded as a struct literal); the reuse path in CreateObject
// compares two Params with Equal before considering them the same object.
type Params struct {
	Kind      Kind
	Tag       any
	CheckHash bool
	ReadOnly  bool

	Create            func(vaddr, size []uint64) Handle
	CreateFromObjects func(others []*Object, scenario Scenario, vaddr, size []uint64) Handle
	Update            func(obj *Object)
	WriteBack         func(obj *Object) // nil if the kind never writes back
	Delete            func(handle Handle)
}

func (p Params) Equal(other Params) bool {
	return p.Kind == other.Kind && p.Tag == other.Tag
}

// Object is one entry in the cache: a backend resource plus the guest
// address ranges it tracks for coherence.
type Object struct {
	ID     int
	Vaddr  []uint64
	Size   []uint64
	Params Params
	Handle Handle

	Hash []uint64

	CPUUpdateTime int64
	GPUUpdateTime int64

	UseNum int
	InUse  bool

	Scenario Scenario
	Links    map[int]Relation // peer object id -> relation as seen from this object
}

// Kind is a convenience accessor over Params.Kind.
func (o *Object) Kind() Kind { return o.Params.Kind }

// Range returns the object's i'th range as a half-open [start, end).
func (o *Object) Range(i int) (uint64, uint64) {
	return o.Vaddr[i], o.Vaddr[i] + o.Size[i]
}

// N reports how many address ranges the object spans.
func (o *Object) N() int { return len(o.Vaddr) }
