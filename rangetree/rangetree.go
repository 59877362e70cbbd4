// Package rangetree implements the order-statistic B-tree used by the
// merge tracker to hold CRDT item spans. The tree is generic over the
// stored entry type and over an index monoid, so the same container can
// be positioned by raw length, by visible content length, or by several
// counts at once. Nodes are ordinary heap objects, so their identity is
// stable for the tree's lifetime and an external marker table can hold
// *Leaf handles directly.
package rangetree

import (
	"github.com/egwalker/merge/rle"
)

const (
	maxLeafEntries  = 32
	maxNodeChildren = 16
)

// Indexer defines the monoidal width the tree is counted by. W is the
// width value; Width measures a whole entry and WidthAt its first off
// units.
type Indexer[E any, W comparable] interface {
	Zero() W
	Add(a, b W) W
	Width(e E) W
	WidthAt(e E, off int) W
}

// Notify is invoked with (entry, leaf) for every entry placed in or moved
// to a leaf, so callers can keep an external marker table pointing at the
// leaf currently holding each entry.
type Notify[E rle.Entry[E], W comparable, X Indexer[E, W]] func(e E, l *Leaf[E, W, X])

type node[E rle.Entry[E], W comparable, X Indexer[E, W]] interface {
	parentNode() *internal[E, W, X]
	setParent(p *internal[E, W, X])
}

// Leaf holds a run of entries. Exposed (with unexported fields) so marker
// tables can hold opaque leaf handles.
type Leaf[E rle.Entry[E], W comparable, X Indexer[E, W]] struct {
	parent  *internal[E, W, X]
	next    *Leaf[E, W, X]
	num     int
	entries [maxLeafEntries]E
}

func (l *Leaf[E, W, X]) parentNode() *internal[E, W, X]  { return l.parent }
func (l *Leaf[E, W, X]) setParent(p *internal[E, W, X])  { l.parent = p }

type internal[E rle.Entry[E], W comparable, X Indexer[E, W]] struct {
	parent      *internal[E, W, X]
	numChildren int
	children    [maxNodeChildren]node[E, W, X]
	widths      [maxNodeChildren]W
}

func (in *internal[E, W, X]) parentNode() *internal[E, W, X] { return in.parent }
func (in *internal[E, W, X]) setParent(p *internal[E, W, X]) { in.parent = p }

// Tree is the order-statistic container.
type Tree[E rle.Entry[E], W comparable, X Indexer[E, W]] struct {
	ix    X
	root  node[E, W, X]
	count W
}

// New returns an empty tree counted by ix.
func New[E rle.Entry[E], W comparable, X Indexer[E, W]](ix X) *Tree[E, W, X] {
	return &Tree[E, W, X]{
		ix:    ix,
		root:  &Leaf[E, W, X]{},
		count: ix.Zero(),
	}
}

// Count returns the total index width of the tree.
func (t *Tree[E, W, X]) Count() W { return t.count }

func (t *Tree[E, W, X]) leafWidth(l *Leaf[E, W, X]) W {
	w := t.ix.Zero()
	for i := 0; i < l.num; i++ {
		w = t.ix.Add(w, t.ix.Width(l.entries[i]))
	}
	return w
}

func (t *Tree[E, W, X]) nodeWidth(n node[E, W, X]) W {
	switch x := n.(type) {
	case *Leaf[E, W, X]:
		return t.leafWidth(x)
	case *internal[E, W, X]:
		w := t.ix.Zero()
		for i := 0; i < x.numChildren; i++ {
			w = t.ix.Add(w, x.widths[i])
		}
		return w
	}
	return t.ix.Zero()
}

func (in *internal[E, W, X]) slotOf(n node[E, W, X]) int {
	for i := 0; i < in.numChildren; i++ {
		if in.children[i] == n {
			return i
		}
	}
	return -1
}

// recalcUp recomputes index widths along the path from n to the root.
func (t *Tree[E, W, X]) recalcUp(n node[E, W, X]) {
	w := t.nodeWidth(n)
	p := n.parentNode()
	for p != nil {
		p.widths[p.slotOf(n)] = w
		n = p
		w = t.nodeWidth(p)
		p = p.parentNode()
	}
	t.count = w
}

func (t *Tree[E, W, X]) firstLeaf() *Leaf[E, W, X] {
	n := t.root
	for {
		in, ok := n.(*internal[E, W, X])
		if !ok {
			return n.(*Leaf[E, W, X])
		}
		n = in.children[0]
	}
}

func (t *Tree[E, W, X]) lastLeaf() *Leaf[E, W, X] {
	n := t.root
	for {
		in, ok := n.(*internal[E, W, X])
		if !ok {
			return n.(*Leaf[E, W, X])
		}
		n = in.children[in.numChildren-1]
	}
}

// Each visits every entry in tree order.
func (t *Tree[E, W, X]) Each(fn func(e E)) {
	for l := t.firstLeaf(); l != nil; l = l.next {
		for i := 0; i < l.num; i++ {
			fn(l.entries[i])
		}
	}
}

// CursorAtStart returns a cursor before the first entry.
func (t *Tree[E, W, X]) CursorAtStart() Cursor[E, W, X] {
	return Cursor[E, W, X]{leaf: t.firstLeaf()}
}

// CursorAtEnd returns a cursor after the last entry.
func (t *Tree[E, W, X]) CursorAtEnd() Cursor[E, W, X] {
	l := t.lastLeaf()
	if l.num == 0 {
		return Cursor[E, W, X]{leaf: l}
	}
	return Cursor[E, W, X]{leaf: l, idx: l.num - 1, offset: l.entries[l.num-1].Len()}
}

// CursorAtPos descends to the entry at index position pos. wProj and eProj
// project the index width of a subtree / entry down to the int count being
// navigated by. When pos lands exactly between two entries the cursor
// sticks to the end of the earlier entry iff stickEnd; otherwise it moves
// past zero-width entries to the start of the following one.
//
// Within the found entry the returned offset is in projected units; every
// index used here is all-or-nothing per entry (an entry's projected width
// is 0 or its full length), so the offset is also a valid raw offset.
func (t *Tree[E, W, X]) CursorAtPos(pos int, stickEnd bool, wProj func(W) int, eProj func(E) int) Cursor[E, W, X] {
	rem := pos
	n := t.root
	for {
		in, ok := n.(*internal[E, W, X])
		if !ok {
			break
		}
		next := in.children[in.numChildren-1]
		for i := 0; i < in.numChildren; i++ {
			cw := wProj(in.widths[i])
			if rem < cw || (stickEnd && rem == cw) {
				next = in.children[i]
				break
			}
			if i < in.numChildren-1 {
				rem -= cw
			}
		}
		n = next
	}
	l := n.(*Leaf[E, W, X])
	for i := 0; i < l.num; i++ {
		w := eProj(l.entries[i])
		if rem < w || (stickEnd && rem <= w) {
			return Cursor[E, W, X]{leaf: l, idx: i, offset: rem}
		}
		rem -= w
	}
	if l.num == 0 {
		return Cursor[E, W, X]{leaf: l}
	}
	return Cursor[E, W, X]{leaf: l, idx: l.num - 1, offset: l.entries[l.num-1].Len()}
}

// WidthTo returns the index width of everything before the cursor
// position.
func (t *Tree[E, W, X]) WidthTo(c *Cursor[E, W, X]) W {
	w := t.ix.Zero()
	l := c.leaf
	for i := 0; i < c.idx && i < l.num; i++ {
		w = t.ix.Add(w, t.ix.Width(l.entries[i]))
	}
	if c.idx < l.num && c.offset > 0 {
		w = t.ix.Add(w, t.ix.WidthAt(l.entries[c.idx], c.offset))
	}
	var n node[E, W, X] = l
	for p := n.parentNode(); p != nil; p = n.parentNode() {
		for i := 0; i < p.numChildren; i++ {
			if p.children[i] == n {
				break
			}
			w = t.ix.Add(w, p.widths[i])
		}
		n = p
	}
	return w
}

// FindCursor scans l's entries with locate, which reports the offset of
// the sought item within an entry. Returns a cursor at that item.
func (l *Leaf[E, W, X]) FindCursor(locate func(e E) (offset int, ok bool)) (Cursor[E, W, X], bool) {
	for i := 0; i < l.num; i++ {
		if off, ok := locate(l.entries[i]); ok {
			return Cursor[E, W, X]{leaf: l, idx: i, offset: off}, true
		}
	}
	return Cursor[E, W, X]{}, false
}

// Insert places item at the cursor position, splitting the entry under the
// cursor if it lands mid-entry and coalescing with the preceding entry
// when possible. notify is called for item and for any entries relocated
// by a leaf split. The cursor is left positioned at the end of item.
func (t *Tree[E, W, X]) Insert(c *Cursor[E, W, X], item E, notify Notify[E, W, X]) {
	l := c.leaf
	idx, off := c.idx, c.offset
	if idx < l.num && off == l.entries[idx].Len() {
		idx++
		off = 0
	}
	if idx > l.num {
		idx = l.num
	}

	if off == 0 {
		if idx > 0 && l.entries[idx-1].CanAppend(item) {
			l.entries[idx-1] = l.entries[idx-1].Append(item)
			notify(item, l)
			t.recalcUp(l)
			c.leaf, c.idx, c.offset = l, idx-1, l.entries[idx-1].Len()
			return
		}
		nl, nidx := t.splice(l, idx, 0, []E{item}, 0, notify)
		c.leaf, c.idx, c.offset = nl, nidx, item.Len()
		return
	}

	left, right := l.entries[idx].SplitAt(off)
	l.entries[idx] = left
	nl, nidx := t.splice(l, idx+1, 0, []E{item, right}, 0, notify)
	c.leaf, c.idx, c.offset = nl, nidx, item.Len()
}

// MutateEntry applies fn to up to maxLen units of the entry under the
// cursor, starting at the cursor offset, splitting the entry as needed.
// Returns the number of units mutated and the mutated sub-entry. The
// cursor is left at the end of the mutated piece.
func (t *Tree[E, W, X]) MutateEntry(c *Cursor[E, W, X], maxLen int, notify Notify[E, W, X], fn func(e *E)) (int, E) {
	l, idx, off := c.leaf, c.idx, c.offset
	e := l.entries[idx]
	n := e.Len() - off
	if maxLen < n {
		n = maxLen
	}

	if off == 0 && n == e.Len() {
		fn(&l.entries[idx])
		notify(l.entries[idx], l)
		t.recalcUp(l)
		c.offset = n
		return n, l.entries[idx]
	}

	var pieces []E
	track := 0
	rest := e
	if off > 0 {
		var pre E
		pre, rest = rest.SplitAt(off)
		pieces = append(pieces, pre)
		track = 1
	}
	mid := rest
	if n < rest.Len() {
		var post E
		mid, post = rest.SplitAt(n)
		fn(&mid)
		pieces = append(pieces, mid, post)
	} else {
		fn(&mid)
		pieces = append(pieces, mid)
	}
	nl, nidx := t.splice(l, idx, 1, pieces, track, notify)
	c.leaf, c.idx, c.offset = nl, nidx, n
	return n, mid
}

// MutateEntries applies fn across a run of length units starting at the
// cursor, advancing entry by entry.
func (t *Tree[E, W, X]) MutateEntries(c *Cursor[E, W, X], length int, notify Notify[E, W, X], fn func(e *E)) {
	remaining := length
	for remaining > 0 {
		if !c.RollToNextEntry() {
			panic("rangetree: mutate run past the end of the tree")
		}
		n, _ := t.MutateEntry(c, remaining, notify, fn)
		remaining -= n
	}
}

// splice replaces entries [idx, idx+removed) of l with items, splitting
// the leaf when it overflows. track indexes items; the leaf and entry
// index where items[track] landed are returned. Entries that move to a new
// leaf are notified, as are the inserted items.
func (t *Tree[E, W, X]) splice(l *Leaf[E, W, X], idx, removed int, items []E, track int, notify Notify[E, W, X]) (*Leaf[E, W, X], int) {
	newNum := l.num - removed + len(items)
	if newNum <= maxLeafEntries {
		tail := make([]E, l.num-idx-removed)
		copy(tail, l.entries[idx+removed:l.num])
		copy(l.entries[idx:], items)
		copy(l.entries[idx+len(items):], tail)
		var zero E
		for i := newNum; i < l.num; i++ {
			l.entries[i] = zero
		}
		l.num = newNum
		for _, it := range items {
			notify(it, l)
		}
		t.recalcUp(l)
		return l, idx + track
	}

	all := make([]E, 0, newNum)
	all = append(all, l.entries[:idx]...)
	all = append(all, items...)
	all = append(all, l.entries[idx+removed:l.num]...)

	keep := (newNum + 1) / 2
	nl := &Leaf[E, W, X]{next: l.next}
	copy(l.entries[:], all[:keep])
	var zero E
	for i := keep; i < l.num; i++ {
		l.entries[i] = zero
	}
	l.num = keep
	copy(nl.entries[:], all[keep:])
	nl.num = newNum - keep
	l.next = nl

	t.insertChildAfter(l, nl)

	for i := 0; i < l.num; i++ {
		notify(l.entries[i], l)
	}
	for i := 0; i < nl.num; i++ {
		notify(nl.entries[i], nl)
	}
	t.recalcUp(l)
	t.recalcUp(nl)

	trackPos := idx + track
	if trackPos < l.num {
		return l, trackPos
	}
	return nl, trackPos - l.num
}

// insertChildAfter links nn as existing's right sibling, growing the tree
// upward as internal nodes fill.
func (t *Tree[E, W, X]) insertChildAfter(existing, nn node[E, W, X]) {
	p := existing.parentNode()
	if p == nil {
		r := &internal[E, W, X]{numChildren: 2}
		r.children[0], r.children[1] = existing, nn
		existing.setParent(r)
		nn.setParent(r)
		r.widths[0] = t.nodeWidth(existing)
		r.widths[1] = t.nodeWidth(nn)
		t.root = r
		return
	}

	slot := p.slotOf(existing)
	if p.numChildren < maxNodeChildren {
		for i := p.numChildren; i > slot+1; i-- {
			p.children[i] = p.children[i-1]
			p.widths[i] = p.widths[i-1]
		}
		p.children[slot+1] = nn
		p.widths[slot+1] = t.nodeWidth(nn)
		p.numChildren++
		nn.setParent(p)
		return
	}

	all := make([]node[E, W, X], 0, maxNodeChildren+1)
	all = append(all, p.children[:slot+1]...)
	all = append(all, nn)
	all = append(all, p.children[slot+1:p.numChildren]...)

	keep := (len(all) + 1) / 2
	np := &internal[E, W, X]{}
	for i, ch := range all[:keep] {
		p.children[i] = ch
		ch.setParent(p)
		p.widths[i] = t.nodeWidth(ch)
	}
	for i := keep; i < p.numChildren; i++ {
		p.children[i] = nil
	}
	p.numChildren = keep
	for i, ch := range all[keep:] {
		np.children[i] = ch
		ch.setParent(np)
		np.widths[i] = t.nodeWidth(ch)
	}
	np.numChildren = len(all) - keep

	t.insertChildAfter(p, np)
	// p handed children to np, so its cached width in its parent is stale.
	if pp := p.parent; pp != nil {
		pp.widths[pp.slotOf(p)] = t.nodeWidth(p)
	}
}
