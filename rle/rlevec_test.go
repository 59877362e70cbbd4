package rle

import "testing"

// intSpan is a minimal keyed RLE entry for testing: a contiguous integer
// range [Key, Key+Length).
type intSpan struct {
	Key, Length int
}

func (s intSpan) Len() int     { return s.Length }
func (s intSpan) RleKey() int  { return s.Key }
func (s intSpan) CanAppend(other intSpan) bool {
	return s.Key+s.Length == other.Key
}
func (s intSpan) Append(other intSpan) intSpan {
	return intSpan{s.Key, s.Length + other.Length}
}
func (s intSpan) SplitAt(at int) (left, right intSpan) {
	return intSpan{s.Key, at}, intSpan{s.Key + at, s.Length - at}
}

func TestRleVecPushCoalesces(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{0, 5})
	v.Push(intSpan{5, 3})
	v.Push(intSpan{10, 2}) // leaves a gap at [8,10)

	if v.Len() != 2 {
		t.Fatalf("expected 2 entries after coalescing, got %d", v.Len())
	}
	if got := v.At(0); got != (intSpan{0, 8}) {
		t.Errorf("entry 0: got %+v, want {0 8}", got)
	}
	if err := v.CheckPacked(); err != nil {
		t.Errorf("CheckPacked: %v", err)
	}
}

func TestRleVecFindWithOffset(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{0, 5})
	v.Push(intSpan{10, 5})

	e, off, ok := v.FindWithOffset(12)
	if !ok || e.Key != 10 || off != 2 {
		t.Fatalf("FindWithOffset(12): got entry %+v offset %d ok %v", e, off, ok)
	}

	if _, _, ok := v.FindWithOffset(7); ok {
		t.Errorf("FindWithOffset(7) in gap should not be found")
	}
}

func TestRleVecInsertMergesBothNeighbours(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{0, 5})
	v.Push(intSpan{10, 5})

	if err := v.Insert(intSpan{5, 5}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if v.Len() != 1 {
		t.Fatalf("expected a single merged entry, got %d: %+v", v.Len(), v.Entries())
	}
	if got := v.At(0); got != (intSpan{0, 15}) {
		t.Errorf("merged entry: got %+v, want {0 15}", got)
	}
}

func TestRleVecInsertRejectsOverlap(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{0, 5})
	if err := v.Insert(intSpan{2, 3}); err == nil {
		t.Errorf("expected overlap error, got nil")
	}
}

func TestRleVecIterRangePackedTrimsEnds(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{0, 10})
	v.Push(intSpan{12, 10}) // the gap at [10,12) keeps the entries apart

	got := v.IterRangePacked(3, 15)
	want := []intSpan{{3, 7}, {12, 3}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRleVecForEachSparseCoversRangeExactly(t *testing.T) {
	v := New[intSpan]()
	v.Push(intSpan{2, 3}) // [2,5)
	v.Push(intSpan{8, 2}) // [8,10)

	var covered []VoidRange
	var present []intSpan
	pos := 0
	v.ForEachSparse(12, func(e intSpan) {
		present = append(present, e)
		pos = e.Key + e.Len()
		_ = pos
	}, func(void VoidRange) {
		covered = append(covered, void)
	})

	wantVoids := []VoidRange{{0, 2}, {5, 8}, {10, 12}}
	if len(covered) != len(wantVoids) {
		t.Fatalf("got voids %+v, want %+v", covered, wantVoids)
	}
	for i := range wantVoids {
		if covered[i] != wantVoids[i] {
			t.Errorf("void %d: got %+v, want %+v", i, covered[i], wantVoids[i])
		}
	}
	if len(present) != 2 {
		t.Fatalf("expected 2 present entries, got %d", len(present))
	}
}
