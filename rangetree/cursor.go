package rangetree

import "github.com/egwalker/merge/rle"

// Cursor addresses a position in the tree: a leaf, an entry index within
// it, and an offset within that entry. Cursors are plain values; copying
// one yields an independent cursor. A cursor stays valid for the duration
// of a single mutation; after the mutation it is updated
// in place to an equivalent position.
type Cursor[E rle.Entry[E], W comparable, X Indexer[E, W]] struct {
	leaf   *Leaf[E, W, X]
	idx    int
	offset int
}

// Offset returns the cursor's offset within its current entry.
func (c *Cursor[E, W, X]) Offset() int { return c.offset }

// HasEntry reports whether the cursor addresses a valid entry.
func (c *Cursor[E, W, X]) HasEntry() bool {
	return c.leaf != nil && c.idx < c.leaf.num
}

// Entry returns the entry under the cursor. The cursor must address one.
func (c *Cursor[E, W, X]) Entry() E { return c.leaf.entries[c.idx] }

// MoveBack moves the cursor n units toward the start within its current
// entry.
func (c *Cursor[E, W, X]) MoveBack(n int) { c.offset -= n }

// SeekToEntryEnd places the cursor at the end of its current entry.
func (c *Cursor[E, W, X]) SeekToEntryEnd() {
	if c.HasEntry() {
		c.offset = c.leaf.entries[c.idx].Len()
	}
}

// RollToNextEntry ensures the cursor addresses an entry it is strictly
// inside of (offset < len), stepping over entry and leaf boundaries as
// needed. Returns false at the end of the tree.
func (c *Cursor[E, W, X]) RollToNextEntry() bool {
	if c.leaf == nil {
		return false
	}
	if c.idx < c.leaf.num && c.offset < c.leaf.entries[c.idx].Len() {
		return true
	}
	idx := c.idx + 1
	l := c.leaf
	for {
		if idx < l.num {
			c.leaf, c.idx, c.offset = l, idx, 0
			return true
		}
		if l.next == nil {
			return false
		}
		l = l.next
		idx = 0
	}
}

// NextEntry moves the cursor to the start of the following entry.
func (c *Cursor[E, W, X]) NextEntry() bool {
	idx := c.idx + 1
	l := c.leaf
	for {
		if idx < l.num {
			c.leaf, c.idx, c.offset = l, idx, 0
			return true
		}
		if l.next == nil {
			return false
		}
		l = l.next
		idx = 0
	}
}

// NextItem advances the cursor by one unit, rolling over entry boundaries.
func (c *Cursor[E, W, X]) NextItem() bool {
	if !c.RollToNextEntry() {
		return false
	}
	c.offset++
	return true
}
