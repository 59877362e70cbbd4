package oplog

import (
	"reflect"
	"testing"

	"github.com/egwalker/merge/rle"
)

// TestOpMetricsIterClipsToRange clips two runs (an insert and a delete)
// to various [a, b) windows and compares the trimmed results
// field-by-field.
func TestOpMetricsIterClipsToRange(t *testing.T) {
	entries := rle.New[ListOpMetrics]()
	cp0 := LocRange{0, 10}
	entries.Push(ListOpMetrics{LV: 0, Loc: LocRange{100, 110}, Kind: Ins, ContentPos: &cp0, Fwd: true})
	entries.Push(ListOpMetrics{LV: 10, Loc: LocRange{200, 220}, Kind: Del, ContentPos: nil, Fwd: true})

	full := NewOpMetricsIter(entries, LVRange{Start: 0, End: 30})
	var got []ListOpMetrics
	for {
		m, ok := full.Next()
		if !ok {
			break
		}
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("full range: got %d entries, want 2", len(got))
	}

	trimmed := NewOpMetricsIter(entries, LVRange{Start: 1, End: 5})
	m, ok := trimmed.Next()
	if !ok {
		t.Fatalf("trimmed range: expected one entry")
	}
	wantCP := LocRange{1, 5}
	if m.Loc != (LocRange{101, 105}) || m.LV != 1 || *m.ContentPos != wantCP {
		t.Errorf("trimmed entry: got %+v", m)
	}
	if _, ok := trimmed.Next(); ok {
		t.Errorf("expected trimmed iterator to be exhausted")
	}

	spanning := NewOpMetricsIter(entries, LVRange{Start: 6, End: 16})
	var spanGot []ListOpMetrics
	for {
		m, ok := spanning.Next()
		if !ok {
			break
		}
		spanGot = append(spanGot, m)
	}
	want := []ListOpMetrics{
		{LV: 6, Loc: LocRange{106, 110}, Kind: Ins, ContentPos: &LocRange{6, 10}, Fwd: true},
		{LV: 10, Loc: LocRange{200, 206}, Kind: Del, ContentPos: nil, Fwd: true},
	}
	if len(spanGot) != len(want) {
		t.Fatalf("spanning range: got %+v, want %+v", spanGot, want)
	}
	for i := range want {
		g, w := spanGot[i], want[i]
		if g.LV != w.LV || g.Loc != w.Loc || g.Kind != w.Kind || g.Fwd != w.Fwd {
			t.Errorf("entry %d: got %+v, want %+v", i, g, w)
		}
		if (g.ContentPos == nil) != (w.ContentPos == nil) {
			t.Errorf("entry %d: content_pos presence mismatch", i)
		}
		if g.ContentPos != nil && *g.ContentPos != *w.ContentPos {
			t.Errorf("entry %d: content_pos got %+v want %+v", i, *g.ContentPos, *w.ContentPos)
		}
	}
}

func TestListOpLogAddInsertAndIterRoundTrips(t *testing.T) {
	l := New()
	if _, err := l.AddInsert(0, "hello", true); err != nil {
		t.Fatalf("AddInsert: %v", err)
	}
	if _, err := l.AddDelete(1, 2, "el", true); err != nil {
		t.Fatalf("AddDelete: %v", err)
	}

	ops := l.Iter()
	if len(ops) != 2 {
		t.Fatalf("Iter: got %d ops, want 2", len(ops))
	}
	if ops[0].Kind != Ins || ops[0].Content != "hello" || !ops[0].HasContent {
		t.Errorf("op 0: got %+v", ops[0])
	}
	if ops[1].Kind != Del || ops[1].Content != "el" || !ops[1].HasContent {
		t.Errorf("op 1: got %+v", ops[1])
	}
}

func TestListOpLogAddInsertRejectsMultiCharReverseRun(t *testing.T) {
	l := New()
	if _, err := l.AddInsert(0, "ab", false); err == nil {
		t.Error("expected error for multi-char reverse insert")
	}
}

func TestListOpMetricsCoalescesContiguousForwardRuns(t *testing.T) {
	entries := rle.New[ListOpMetrics]()
	cp0 := LocRange{0, 1}
	cp1 := LocRange{1, 2}
	entries.Push(ListOpMetrics{LV: 0, Loc: LocRange{5, 6}, Kind: Ins, ContentPos: &cp0, Fwd: true})
	entries.Push(ListOpMetrics{LV: 1, Loc: LocRange{6, 7}, Kind: Ins, ContentPos: &cp1, Fwd: true})

	if entries.Len() != 1 {
		t.Fatalf("expected coalesced single entry, got %d: %+v", entries.Len(), entries.Entries())
	}
	got := entries.At(0)
	if !reflect.DeepEqual(got.Loc, LocRange{5, 7}) {
		t.Errorf("coalesced Loc: got %+v", got.Loc)
	}
}
