package gpumem

// pairOverlap classifies how two half-open ranges [aStart,aEnd) and
// [bStart,bEnd) relate to each other.
func pairOverlap(aStart, aEnd, bStart, bEnd uint64) Relation {
	if aEnd <= bStart || bEnd <= aStart {
		return RelationNone
	}
	if aStart == bStart && aEnd == bEnd {
		return RelationEquals
	}
	if aStart <= bStart && bEnd <= aEnd {
		return RelationContains
	}
	if bStart <= aStart && aEnd <= bEnd {
		return RelationIsContainedWithin
	}
	return RelationCrosses
}

// GetOverlapType classifies how two (possibly multi-range) address
// blocks relate. A single range on each side reduces to the direct
// pairwise relation. For multi-range blocks, every range of a is tested
// against every range of b: any non-None pair makes the blocks at least
// Crosses, except when every positional pair (a[i] against b[i], for
// blocks of equal range count) is independently Equals and no other
// pairing overlaps, in which case the whole block pair is Equals.
func GetOverlapType(aVaddr, aSize, bVaddr, bSize []uint64) Relation {
	if len(aVaddr) == 1 && len(bVaddr) == 1 {
		return pairOverlap(aVaddr[0], aVaddr[0]+aSize[0], bVaddr[0], bVaddr[0]+bSize[0])
	}

	anyOverlap := false
	allPositionalEqual := len(aVaddr) == len(bVaddr)
	for i := range aVaddr {
		aStart, aEnd := aVaddr[i], aVaddr[i]+aSize[i]
		for j := range bVaddr {
			bStart, bEnd := bVaddr[j], bVaddr[j]+bSize[j]
			rel := pairOverlap(aStart, aEnd, bStart, bEnd)
			if rel == RelationNone {
				if i == j {
					allPositionalEqual = false
				}
				continue
			}
			anyOverlap = true
			if i != j || rel != RelationEquals {
				allPositionalEqual = false
			}
		}
	}

	switch {
	case !anyOverlap:
		return RelationNone
	case allPositionalEqual:
		return RelationEquals
	default:
		return RelationCrosses
	}
}
