package gpumem

import "testing"

func TestGetOverlapTypeSingleRange(t *testing.T) {
	cases := []struct {
		name                   string
		aVaddr, aSize, bVaddr, bSize []uint64
		want                   Relation
	}{
		{"disjoint", []uint64{0}, []uint64{0x10}, []uint64{0x20}, []uint64{0x10}, RelationNone},
		{"touching-but-not-overlapping", []uint64{0}, []uint64{0x10}, []uint64{0x10}, []uint64{0x10}, RelationNone},
		{"equal", []uint64{0x100}, []uint64{0x20}, []uint64{0x100}, []uint64{0x20}, RelationEquals},
		{"a-contains-b", []uint64{0x100}, []uint64{0x40}, []uint64{0x110}, []uint64{0x10}, RelationContains},
		{"a-contained-in-b", []uint64{0x110}, []uint64{0x10}, []uint64{0x100}, []uint64{0x40}, RelationIsContainedWithin},
		{"crossing", []uint64{0x100}, []uint64{0x20}, []uint64{0x110}, []uint64{0x20}, RelationCrosses},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := GetOverlapType(c.aVaddr, c.aSize, c.bVaddr, c.bSize)
			if got != c.want {
				t.Fatalf("GetOverlapType() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestGetOverlapTypeMultiRange(t *testing.T) {
	aVaddr := []uint64{0x100, 0x200}
	aSize := []uint64{0x10, 0x10}

	t.Run("positionally-equal", func(t *testing.T) {
		got := GetOverlapType(aVaddr, aSize, aVaddr, aSize)
		if got != RelationEquals {
			t.Fatalf("GetOverlapType() = %v, want Equals", got)
		}
	})

	t.Run("one-range-crosses", func(t *testing.T) {
		bVaddr := []uint64{0x100, 0x208}
		bSize := []uint64{0x10, 0x10}
		got := GetOverlapType(aVaddr, aSize, bVaddr, bSize)
		if got != RelationCrosses {
			t.Fatalf("GetOverlapType() = %v, want Crosses", got)
		}
	})

	t.Run("no-overlap-at-all", func(t *testing.T) {
		bVaddr := []uint64{0x900, 0xa00}
		bSize := []uint64{0x10, 0x10}
		got := GetOverlapType(aVaddr, aSize, bVaddr, bSize)
		if got != RelationNone {
			t.Fatalf("GetOverlapType() = %v, want None", got)
		}
	})
}
