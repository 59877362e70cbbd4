package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRDTSpanAppendRules(t *testing.T) {
	a := CRDTSpan{ID: LVRange{Start: 10, End: 13}, OriginLeft: 4, OriginRight: 20, State: Inserted}
	b := CRDTSpan{ID: LVRange{Start: 13, End: 15}, OriginLeft: 12, OriginRight: 20, State: Inserted}
	require.True(t, a.CanAppend(b))

	merged := a.Append(b)
	require.Equal(t, LVRange{Start: 10, End: 15}, merged.ID)

	left, right := merged.SplitAt(3)
	require.Equal(t, a, left)
	require.Equal(t, b, right)
	require.True(t, left.CanAppend(right))

	// A different right origin, state or deletion history blocks the merge.
	c := b
	c.OriginRight = 99
	require.False(t, a.CanAppend(c))
	c = b
	c.State = DeletedN(1)
	require.False(t, a.CanAppend(c))
	c = b
	c.EverDeleted = true
	require.False(t, a.CanAppend(c))
}

func TestCRDTSpanOriginLeftAtOffset(t *testing.T) {
	s := CRDTSpan{ID: LVRange{Start: 10, End: 14}, OriginLeft: 3}
	require.Equal(t, LV(3), s.originLeftAtOffset(0))
	require.Equal(t, LV(10), s.originLeftAtOffset(1))
	require.Equal(t, LV(12), s.originLeftAtOffset(3))
}

func TestDocIndexWidths(t *testing.T) {
	ix := docIndex{}
	ins := CRDTSpan{ID: LVRange{Start: 0, End: 5}, State: Inserted}
	require.Equal(t, docWidth{Raw: 5, Cur: 5, End: 5}, ix.Width(ins))

	niy := ins
	niy.State = NotInsertedYet
	require.Equal(t, docWidth{Raw: 5, Cur: 0, End: 5}, ix.Width(niy))

	del := ins
	del.State = DeletedN(2)
	del.EverDeleted = true
	require.Equal(t, docWidth{Raw: 5, Cur: 0, End: 0}, ix.Width(del))

	// A retreated delete: visible again, but gone from the output doc.
	und := ins
	und.EverDeleted = true
	require.Equal(t, docWidth{Raw: 5, Cur: 5, End: 0}, ix.Width(und))
	require.Equal(t, docWidth{Raw: 2, Cur: 2, End: 0}, ix.WidthAt(und, 2))
}

func TestMarkerEntrySplitForward(t *testing.T) {
	m := markerEntry{lv: 100, len_: 4, kind: markerDel, target: LVRange{Start: 10, End: 14}, fwd: true}
	left, right := m.SplitAt(1)
	require.Equal(t, markerEntry{lv: 100, len_: 1, kind: markerDel, target: LVRange{Start: 10, End: 11}, fwd: true}, left)
	require.Equal(t, markerEntry{lv: 101, len_: 3, kind: markerDel, target: LVRange{Start: 11, End: 14}, fwd: true}, right)
	require.True(t, left.CanAppend(right))
}

func TestMarkerEntrySplitBackspace(t *testing.T) {
	// Ops 100..104 delete items 13, 12, 11, 10 in that order.
	m := markerEntry{lv: 100, len_: 4, kind: markerDel, target: LVRange{Start: 10, End: 14}, fwd: false}
	left, right := m.SplitAt(1)
	require.Equal(t, LVRange{Start: 13, End: 14}, left.target)
	require.Equal(t, LVRange{Start: 10, End: 13}, right.target)
	require.True(t, left.CanAppend(right))
	require.Equal(t, m, left.Append(right))
}

func TestRevFrontierOrdering(t *testing.T) {
	require.Equal(t, 0, cmpRevFrontier(Frontier{1, 5}, Frontier{1, 5}))
	// Highest element compares first.
	require.Equal(t, -1, cmpRevFrontier(Frontier{4}, Frontier{1, 5}))
	require.Equal(t, 1, cmpRevFrontier(Frontier{6}, Frontier{1, 5}))
	// A prefix (from the top) sorts below the longer frontier.
	require.Equal(t, -1, cmpRevFrontier(Frontier{5}, Frontier{1, 5}))
	require.Equal(t, -1, cmpRevFrontier(Frontier{}, Frontier{0}))
}
