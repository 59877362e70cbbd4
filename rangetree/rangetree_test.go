package rangetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testSpan is a keyed span with a visibility flag, so tests can exercise
// both the raw index and mutation through the callback.
type testSpan struct {
	start, length int
	hidden        bool
}

func (s testSpan) Len() int { return s.length }

func (s testSpan) CanAppend(o testSpan) bool {
	return o.start == s.start+s.length && o.hidden == s.hidden
}

func (s testSpan) Append(o testSpan) testSpan {
	s.length += o.length
	return s
}

func (s testSpan) SplitAt(at int) (testSpan, testSpan) {
	left := testSpan{start: s.start, length: at, hidden: s.hidden}
	right := testSpan{start: s.start + at, length: s.length - at, hidden: s.hidden}
	return left, right
}

type testTree = Tree[testSpan, int, RawIndex[testSpan]]

func newTestTree() *testTree {
	return New[testSpan, int, RawIndex[testSpan]](RawIndex[testSpan]{})
}

func nopNotify(testSpan, *Leaf[testSpan, int, RawIndex[testSpan]]) {}

func collect(t *testTree) []testSpan {
	var out []testSpan
	t.Each(func(e testSpan) { out = append(out, e) })
	return out
}

func TestInsertAppendsAndMerges(t *testing.T) {
	tr := newTestTree()
	for i := 0; i < 10; i++ {
		c := tr.CursorAtEnd()
		tr.Insert(&c, testSpan{start: i * 3, length: 3}, nopNotify)
	}
	require.Equal(t, 30, tr.Count())
	// Contiguous compatible spans coalesce into one entry.
	require.Len(t, collect(tr), 1)
	require.NoError(t, tr.CheckInvariants())
}

func TestLeafSplitsKeepOrderAndWidths(t *testing.T) {
	tr := newTestTree()
	// Leave gaps between keys so nothing merges; forces leaf and internal
	// node splits.
	const n = 500
	for i := 0; i < n; i++ {
		c := tr.CursorAtEnd()
		tr.Insert(&c, testSpan{start: i * 10, length: 2}, nopNotify)
	}
	require.Equal(t, n*2, tr.Count())
	require.NoError(t, tr.CheckInvariants())

	got := collect(tr)
	require.Len(t, got, n)
	for i, e := range got {
		require.Equal(t, i*10, e.start)
	}
}

func TestCursorAtPosAndWidthTo(t *testing.T) {
	tr := newTestTree()
	for i := 0; i < 100; i++ {
		c := tr.CursorAtEnd()
		tr.Insert(&c, testSpan{start: i * 10, length: 5}, nopNotify)
	}
	proj := func(w int) int { return w }
	eproj := func(e testSpan) int { return e.length }

	for _, pos := range []int{0, 1, 4, 5, 17, 499, 250} {
		c := tr.CursorAtPos(pos, false, proj, eproj)
		require.Equal(t, pos, tr.WidthTo(&c), "pos %d", pos)
		e := c.Entry()
		require.Equal(t, (pos/5)*10+pos%5, e.start+c.Offset(), "pos %d", pos)
	}

	// stickEnd at an entry boundary keeps the cursor on the earlier entry.
	c := tr.CursorAtPos(5, true, proj, eproj)
	require.Equal(t, 5, c.Offset())
	require.Equal(t, 0, c.Entry().start)
	c = tr.CursorAtPos(5, false, proj, eproj)
	require.Equal(t, 0, c.Offset())
	require.Equal(t, 10, c.Entry().start)
}

func TestInsertMidEntrySplits(t *testing.T) {
	tr := newTestTree()
	c := tr.CursorAtStart()
	tr.Insert(&c, testSpan{start: 0, length: 10}, nopNotify)

	c = tr.CursorAtPos(4, false, func(w int) int { return w }, func(e testSpan) int { return e.length })
	tr.Insert(&c, testSpan{start: 100, length: 2}, nopNotify)

	require.Equal(t, []testSpan{
		{start: 0, length: 4},
		{start: 100, length: 2},
		{start: 4, length: 6},
	}, collect(tr))
	require.Equal(t, 12, tr.Count())
	require.NoError(t, tr.CheckInvariants())
}

func TestMutateEntrySplitsRun(t *testing.T) {
	tr := newTestTree()
	c := tr.CursorAtStart()
	tr.Insert(&c, testSpan{start: 0, length: 10}, nopNotify)

	c = tr.CursorAtPos(3, false, func(w int) int { return w }, func(e testSpan) int { return e.length })
	n, mutated := tr.MutateEntry(&c, 4, nopNotify, func(e *testSpan) { e.hidden = true })
	require.Equal(t, 4, n)
	require.Equal(t, testSpan{start: 3, length: 4, hidden: true}, mutated)

	require.Equal(t, []testSpan{
		{start: 0, length: 3},
		{start: 3, length: 4, hidden: true},
		{start: 7, length: 3},
	}, collect(tr))
	require.NoError(t, tr.CheckInvariants())
}

func TestMutateEntriesAcrossEntries(t *testing.T) {
	tr := newTestTree()
	for i := 0; i < 4; i++ {
		c := tr.CursorAtEnd()
		tr.Insert(&c, testSpan{start: i * 10, length: 5}, nopNotify)
	}
	c := tr.CursorAtPos(2, false, func(w int) int { return w }, func(e testSpan) int { return e.length })
	tr.MutateEntries(&c, 10, nopNotify, func(e *testSpan) { e.hidden = true })

	var hidden int
	tr.Each(func(e testSpan) {
		if e.hidden {
			hidden += e.length
		}
	})
	require.Equal(t, 10, hidden)
	require.NoError(t, tr.CheckInvariants())
}

func TestNotifyTracksLeafMoves(t *testing.T) {
	tr := newTestTree()
	where := map[int]*Leaf[testSpan, int, RawIndex[testSpan]]{}
	notify := func(e testSpan, l *Leaf[testSpan, int, RawIndex[testSpan]]) {
		for k := e.start; k < e.start+e.length; k++ {
			where[k] = l
		}
	}

	const n = 300
	for i := 0; i < n; i++ {
		c := tr.CursorAtEnd()
		tr.Insert(&c, testSpan{start: i * 10, length: 3}, notify)
	}

	// Every span must be findable through the leaf last reported for it.
	tr.Each(func(e testSpan) {
		l := where[e.start]
		require.NotNil(t, l, "span %d has no recorded leaf", e.start)
		_, ok := l.FindCursor(func(x testSpan) (int, bool) {
			if x.start <= e.start && e.start < x.start+x.length {
				return e.start - x.start, true
			}
			return 0, false
		})
		require.True(t, ok, "span %d not in its recorded leaf", e.start)
	})
}
