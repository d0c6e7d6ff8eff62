package gpumem

// othersEntry is one existing object's (kind, relation-to-new-object) pair,
// the input classifyOverlap matches against the fixed decision table.
type othersEntry struct {
	Kind     Kind
	Relation Relation
}

type classifyResult struct {
	overlap           bool
	deleteAll         bool
	createFromObjects bool
	scenario          Scenario
}

func kindMultiset(others []othersEntry) map[Kind]int {
	m := make(map[Kind]int, len(others))
	for _, o := range others {
		m[o.Kind]++
	}
	return m
}

func uniformRelation(others []othersEntry) (bool, Relation) {
	if len(others) == 0 {
		return false, RelationNone
	}
	rel := others[0].Relation
	for _, o := range others[1:] {
		if o.Relation != rel {
			return false, RelationNone
		}
	}
	return true, rel
}

// classifyOverlap matches a new object's kind and its overlapping
// neighbors' (kind, relation) pairs against the fixed overlap-pattern
// table. A pattern not covered here is not a recognized creation
// scenario and the caller must abort rather than guess.
func classifyOverlap(newKind Kind, others []othersEntry) (classifyResult, bool) {
	if len(others) == 0 {
		return classifyResult{}, true
	}

	if len(others) == 1 {
		o := others[0]
		switch {
		case o.Relation == RelationEquals && o.Kind == KindStorageBuffer &&
			(newKind == KindRenderTexture || newKind == KindStorageTexture || newKind == KindTexture):
			return classifyResult{overlap: true}, true

		case o.Relation == RelationEquals && o.Kind == KindVideoOutBuffer && newKind == KindStorageBuffer:
			return classifyResult{overlap: true}, true

		case o.Relation == RelationContains && o.Kind == KindStorageBuffer && newKind == KindLabel:
			return classifyResult{deleteAll: true}, true

		case o.Relation == RelationEquals && o.Kind == KindLabel && newKind == KindLabel:
			return classifyResult{deleteAll: true}, true

		case o.Relation == RelationEquals && o.Kind == KindStorageTexture && newKind == KindTexture:
			return classifyResult{overlap: true, createFromObjects: true}, true

		case o.Relation == RelationIsContainedWithin && o.Kind == KindLabel && newKind == KindStorageBuffer:
			return classifyResult{deleteAll: true}, true

		case o.Relation == RelationIsContainedWithin && o.Kind == KindRenderTexture && newKind == KindTexture:
			return classifyResult{overlap: true, createFromObjects: true}, true
		}
	}

	if len(others) == 3 && newKind == KindRenderTexture {
		if uniform, rel := uniformRelation(others); uniform && rel == RelationContains {
			kinds := kindMultiset(others)
			if kinds[KindStorageBuffer] == 1 && kinds[KindTexture] == 1 && kinds[KindStorageTexture] == 1 {
				return classifyResult{overlap: true, createFromObjects: true, scenario: ScenarioGenerateMips}, true
			}
		}
	}

	if len(others) == 2 && newKind == KindStorageTexture {
		if uniform, rel := uniformRelation(others); uniform && rel == RelationEquals {
			kinds := kindMultiset(others)
			if kinds[KindStorageBuffer] == 1 && kinds[KindTexture] == 1 {
				return classifyResult{overlap: true, scenario: ScenarioTextureTriplet}, true
			}
		}
	}

	if uniform, rel := uniformRelation(others); uniform && rel == RelationIsContainedWithin {
		kinds := kindMultiset(others)
		if len(kinds) == 1 {
			if _, has := kinds[KindLabel]; has && newKind == KindStorageBuffer {
				return classifyResult{deleteAll: true}, true
			}
			if _, has := kinds[KindRenderTexture]; has && newKind == KindTexture {
				return classifyResult{overlap: true, createFromObjects: true}, true
			}
		}
	}

	return classifyResult{}, false
}
