package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/oplog"
	"github.com/egwalker/merge/rangetree"
	"github.com/egwalker/merge/rle"
)

// TransformedResult describes where an operation landed in the merged
// output document: moved to an upstream position, or discarded because
// the deletion had already happened on another branch.
type TransformedResult struct {
	Pos   int
	Moved bool
}

// BaseMoved reports an operation transformed to upstream position pos.
func BaseMoved(pos int) TransformedResult { return TransformedResult{Pos: pos, Moved: true} }

// DeleteAlreadyHappened reports a delete whose target was already removed.
func DeleteAlreadyHappened() TransformedResult { return TransformedResult{} }

// Rope is the text buffer boundary the host supplies.
// Positions are in characters.
type Rope interface {
	LenChars() int
	Insert(pos int, s string)
	Remove(start, end int)
}

// Tracker holds the transient merge state: the range tree of CRDT item
// spans and the marker table keeping LV -> leaf / delete-target lookups in
// sync with it. Trackers are rebuilt per merge.
type Tracker struct {
	cg    *causalgraph.CausalGraph
	log   *oplog.ListOpLog
	tree  *itemTree
	index *rle.RleVec[markerEntry]
}

// NewTracker returns a tracker primed with the underwater sentinel span
// representing the base document.
func NewTracker(cg *causalgraph.CausalGraph, log *oplog.ListOpLog) *Tracker {
	t := &Tracker{cg: cg, log: log}
	t.Clear()
	return t
}

// Clear discards all tracker state, returning to the underwater base.
func (t *Tracker) Clear() {
	t.tree = rangetree.New[CRDTSpan, docWidth, docIndex](docIndex{})
	t.index = rle.New[markerEntry]()
	cursor := t.tree.CursorAtStart()
	t.tree.Insert(&cursor, newUnderwater(), t.notify)
}

// notify keeps the marker table pointing at the leaf holding each item
// span; invoked by the tree on every placement or relocation.
func (t *Tracker) notify(e CRDTSpan, l *itemLeaf) {
	t.index.ReplaceRange(markerEntry{lv: e.ID.Start, len_: e.Len(), kind: markerIns, leaf: l})
}

func (t *Tracker) markerAt(lv LV) *itemLeaf {
	m, _, ok := t.index.FindWithOffset(int(lv))
	if !ok || m.kind != markerIns {
		panic(errors.AssertionFailedf("merge: no insert marker for LV %d", lv))
	}
	return m.leaf
}

// cursorToItem returns a cursor pointing directly at the item lv, located
// through the marker table in O(log n).
func (t *Tracker) cursorToItem(lv LV) itemCursor {
	leaf := t.markerAt(lv)
	c, ok := leaf.FindCursor(func(e CRDTSpan) (int, bool) {
		if e.ID.Start <= lv && lv < e.ID.End {
			return int(lv - e.ID.Start), true
		}
		return 0, false
	})
	if !ok {
		panic(errors.AssertionFailedf("merge: marker for LV %d refers to a leaf no longer holding it", lv))
	}
	return c
}

func (t *Tracker) getCursorBefore(lv LV) itemCursor {
	if lv == LVMax {
		return t.tree.CursorAtEnd()
	}
	return t.cursorToItem(lv)
}

func (t *Tracker) getCursorAfter(lv LV, stickEnd bool) itemCursor {
	if lv == LVMax {
		return t.tree.CursorAtStart()
	}
	c := t.cursorToItem(lv)
	c.NextItem()
	if !stickEnd {
		c.RollToNextEntry()
	}
	return c
}

// cmpCursors orders two cursors by raw tree position.
func (t *Tracker) cmpCursors(a, b itemCursor) int {
	wa := t.tree.WidthTo(&a).Raw
	wb := t.tree.WidthTo(&b).Raw
	switch {
	case wa < wb:
		return -1
	case wa > wb:
		return 1
	default:
		return 0
	}
}

func (t *Tracker) cursorAtCurPos(pos int, stickEnd bool) itemCursor {
	return t.tree.CursorAtPos(pos, stickEnd,
		func(w docWidth) int { return w.Cur },
		curLen)
}

func (t *Tracker) upstreamPos(c itemCursor) int {
	return t.tree.WidthTo(&c).End
}

// Integrate inserts item at the position addressed by cursor, resolving
// concurrent inserts at the same position with the Yjs/Fugue rule: walk
// right past not-yet-inserted rivals whose origins order them earlier,
// tie-breaking matching right origins by agent name then sequence number.
// The scanning/scanStart bookkeeping implements the interleave-avoidance
// rule; the final insertion position is scanStart iff scanning mode was
// entered and never exited. Returns the transformed upstream position.
func (t *Tracker) Integrate(item CRDTSpan, cursor itemCursor) int {
	if item.Len() <= 0 {
		panic(errors.AssertionFailedf("merge: integrating empty item"))
	}
	cursor.RollToNextEntry()

	leftCursor := cursor
	scanStart := cursor
	scanning := false

loop:
	for {
		if cursor.Offset() > 0 {
			// Mid-entry means the item under the cursor is already
			// inserted; nothing concurrent left to pass.
			break
		}
		if !cursor.RollToNextEntry() {
			break
		}
		other := cursor.Entry()
		otherLV := other.ID.Start
		if otherLV == item.OriginRight {
			break
		}
		if other.State != NotInsertedYet {
			panic(errors.AssertionFailedf("merge: item %d concurrent with an already-visible span %d", item.ID.Start, otherLV))
		}

		otherLeftCursor := t.getCursorAfter(other.originLeftAtOffset(cursor.Offset()), false)
		switch c := t.cmpCursors(otherLeftCursor, leftCursor); {
		case c < 0:
			break loop
		case c > 0:
			// Other's left origin is later than ours; keep walking.
		default:
			if item.OriginRight == other.OriginRight {
				// Concurrent at the same slot. Order by agent name, then by
				// sequence number (never by LV).
				if t.cg.Assignment.TieBreakVersions(item.ID.Start, otherLV) < 0 {
					break loop
				}
				scanning = false
			} else {
				myRight := t.getCursorBefore(item.OriginRight)
				otherRight := t.getCursorBefore(other.OriginRight)
				if t.cmpCursors(otherRight, myRight) < 0 {
					if !scanning {
						scanning = true
						scanStart = cursor
					}
				} else {
					scanning = false
				}
			}
		}

		if !cursor.NextEntry() {
			cursor.SeekToEntryEnd()
			break
		}
	}
	if scanning {
		cursor = scanStart
	}

	pos := t.upstreamPos(cursor)
	t.tree.Insert(&cursor, item, t.notify)
	return pos
}

// Apply ingests up to maxLen units of one oplog run, inserting or
// deleting tracker items and computing where the operation lands in the
// output document. Called in a loop until the run is consumed.
func (t *Tracker) Apply(op oplog.ListOpMetrics, maxLen int) (int, TransformedResult) {
	n := op.Len()
	if maxLen < n {
		n = maxLen
	}

	switch op.Kind {
	case opIns:
		if !op.Fwd {
			panic(errors.AssertionFailedf("merge: reverse-direction insert runs are unsupported"))
		}

		// origin_left is the item just before the insert position (or the
		// start sentinel); origin_right the next item not in the
		// not-inserted-yet state (or the end sentinel).
		var originLeft LV
		var cursor itemCursor
		if op.Loc.Start == 0 {
			originLeft = LVMax
			cursor = t.tree.CursorAtStart()
		} else {
			cursor = t.cursorAtCurPos(op.Loc.Start-1, false)
			e := cursor.Entry()
			originLeft = e.ID.Start + LV(cursor.Offset())
			cursor.NextItem()
		}

		originRight := LVMax
		if cursor.RollToNextEntry() {
			scan := cursor
			for {
				e := scan.Entry()
				if e.State != NotInsertedYet {
					originRight = e.ID.Start + LV(scan.Offset())
					break
				}
				if !scan.NextEntry() {
					break
				}
			}
		}

		item := CRDTSpan{
			ID:          LVRange{Start: op.LV, End: op.LV + LV(n)},
			OriginLeft:  originLeft,
			OriginRight: originRight,
			State:       Inserted,
		}
		pos := t.Integrate(item, cursor)
		return n, BaseMoved(pos)

	default: // opDel
		var cursor itemCursor
		if op.Fwd {
			cursor = t.cursorAtCurPos(op.Loc.Start, false)
		} else {
			// Backspace run: target the run's last position and clamp the
			// edit to the containing entry, walking backwards.
			lastPos := op.Loc.End - 1
			cursor = t.cursorAtCurPos(lastPos, false)
			entryOriginStart := lastPos - cursor.Offset()
			editStart := op.Loc.End - n
			if entryOriginStart > editStart {
				editStart = entryOriginStart
			}
			n = op.Loc.End - editStart
			cursor.MoveBack(n - 1)
		}

		e := cursor.Entry()
		if e.State != Inserted {
			panic(errors.AssertionFailedf("merge: delete targets item %d in state %d", e.ID.Start, e.State))
		}
		everDeleted := e.EverDeleted
		delStartXf := t.upstreamPos(cursor)

		mutLen, mutated := t.tree.MutateEntry(&cursor, n, t.notify, func(e *CRDTSpan) {
			e.State = ItemState(int(e.State) + 1)
			e.EverDeleted = true
		})

		t.index.ReplaceRange(markerEntry{
			lv:     op.LV,
			len_:   mutLen,
			kind:   markerDel,
			target: mutated.ID,
			fwd:    op.Fwd,
		})

		if everDeleted {
			return mutLen, DeleteAlreadyHappened()
		}
		return mutLen, BaseMoved(delStartXf)
	}
}

// ApplyRange ingests every op in the LV range, splitting runs along agent
// assignment boundaries and applying each piece. When to
// is non-nil the transformed result is also written through to it.
func (t *Tracker) ApplyRange(r LVRange, to Rope) {
	if r.Len() <= 0 {
		return
	}
	it := t.log.IterMetricsRange(r)
	for {
		m, ok := it.Next()
		if !ok {
			return
		}
		for m.Len() > 0 {
			span, ok := t.cg.Assignment.LocalSpanToAgentSpan(LVRange{Start: m.LV, End: m.LV + LV(m.Len())})
			if !ok {
				panic(errors.AssertionFailedf("merge: LV %d has no agent assignment", m.LV))
			}
			maxLen := span.SeqRange.Len()

			nHere, xf := t.Apply(m, maxLen)
			applied, rest := m.SplitAt(nHere)
			if to != nil && xf.Moved {
				switch applied.Kind {
				case opIns:
					content, _ := t.log.Ctx.GetContent(applied)
					to.Insert(xf.Pos, content)
				default:
					to.Remove(xf.Pos, xf.Pos+applied.Len())
				}
			}
			m = rest
		}
	}
}

// AdvanceByRange re-applies the state effect of a previously retreated LV
// range: inserts become visible again, delete counters increment.
func (t *Tracker) AdvanceByRange(r LVRange) { t.walkRange(r, +1) }

// RetreatByRange reverses the state effect of previously applied LVs
// without removing their items: inserts return to not-inserted-yet,
// delete counters decrement.
func (t *Tracker) RetreatByRange(r LVRange) { t.walkRange(r, -1) }

func (t *Tracker) walkRange(r LVRange, dir int) {
	for _, m := range t.index.IterRangePacked(int(r.Start), int(r.End)) {
		switch m.kind {
		case markerIns:
			t.shiftInsertState(LVRange{Start: m.lv, End: m.lv + LV(m.len_)}, dir)
		default:
			t.shiftDeleteState(m.target, dir)
		}
	}
}

func (t *Tracker) shiftInsertState(span LVRange, dir int) {
	pos := span.Start
	for pos < span.End {
		cursor := t.cursorToItem(pos)
		remaining := int(span.End - pos)
		n, _ := t.tree.MutateEntry(&cursor, remaining, t.notify, func(e *CRDTSpan) {
			if dir > 0 {
				if e.State != NotInsertedYet {
					panic(errors.AssertionFailedf("merge: advancing insert %d in state %d", e.ID.Start, e.State))
				}
				e.State = Inserted
			} else {
				if e.State != Inserted {
					panic(errors.AssertionFailedf("merge: retreating insert %d in state %d", e.ID.Start, e.State))
				}
				e.State = NotInsertedYet
			}
		})
		pos += LV(n)
	}
}

func (t *Tracker) shiftDeleteState(span LVRange, dir int) {
	pos := span.Start
	for pos < span.End {
		cursor := t.cursorToItem(pos)
		remaining := int(span.End - pos)
		n, _ := t.tree.MutateEntry(&cursor, remaining, t.notify, func(e *CRDTSpan) {
			s := int(e.State) + dir
			if s < int(Inserted) {
				panic(errors.AssertionFailedf("merge: delete counter underflow on item %d", e.ID.Start))
			}
			e.State = ItemState(s)
		})
		pos += LV(n)
	}
}

// Items returns every span in the tracker's tree, in tree order,
// including the underwater sentinel pieces. Intended for inspection and
// tests.
func (t *Tracker) Items() []CRDTSpan {
	var out []CRDTSpan
	t.tree.Each(func(e CRDTSpan) { out = append(out, e) })
	return out
}

// CheckIndex verifies that every tree span can be found through its
// marker; expensive, for tests.
func (t *Tracker) CheckIndex() error {
	if err := t.tree.CheckInvariants(); err != nil {
		return err
	}
	var err error
	t.tree.Each(func(e CRDTSpan) {
		if err != nil {
			return
		}
		m, _, ok := t.index.FindWithOffset(int(e.ID.Start))
		if !ok || m.kind != markerIns {
			err = errors.Newf("merge: no marker for span starting at %d", e.ID.Start)
			return
		}
		if _, found := m.leaf.FindCursor(func(x CRDTSpan) (int, bool) {
			if x.ID.Start <= e.ID.Start && e.ID.Start < x.ID.End {
				return int(e.ID.Start - x.ID.Start), true
			}
			return 0, false
		}); !found {
			err = errors.Newf("merge: marker for %d points at a stale leaf", e.ID.Start)
		}
	})
	return err
}
