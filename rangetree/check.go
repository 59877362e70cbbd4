package rangetree

import "github.com/cockroachdb/errors"

// CheckInvariants walks the whole tree verifying its structural
// invariants: internal index widths equal the sum of their
// children's, leaves hold only valid entries, non-root leaves are
// non-empty, and the leaf chain covers every leaf in order. Expensive;
// for tests, not the hot path.
func (t *Tree[E, W, X]) CheckInvariants() error {
	var leaves []*Leaf[E, W, X]
	w, err := t.checkNode(t.root, nil, &leaves)
	if err != nil {
		return err
	}
	if w != t.count {
		return errors.Newf("rangetree: cached count %v != recomputed %v", t.count, w)
	}
	for i := 0; i+1 < len(leaves); i++ {
		if leaves[i].next != leaves[i+1] {
			return errors.Newf("rangetree: leaf chain broken at leaf %d", i)
		}
	}
	if n := len(leaves); n > 0 && leaves[n-1].next != nil {
		return errors.Newf("rangetree: last leaf has a dangling next pointer")
	}
	return nil
}

func (t *Tree[E, W, X]) checkNode(n node[E, W, X], parent *internal[E, W, X], leaves *[]*Leaf[E, W, X]) (W, error) {
	zero := t.ix.Zero()
	switch x := n.(type) {
	case *Leaf[E, W, X]:
		if x.parent != parent {
			return zero, errors.Newf("rangetree: leaf has wrong parent pointer")
		}
		if x.num == 0 && parent != nil {
			return zero, errors.Newf("rangetree: non-root leaf is empty")
		}
		for i := 0; i < x.num; i++ {
			if x.entries[i].Len() == 0 {
				return zero, errors.Newf("rangetree: zero-length entry at leaf slot %d", i)
			}
		}
		*leaves = append(*leaves, x)
		return t.leafWidth(x), nil
	case *internal[E, W, X]:
		if x.parent != parent {
			return zero, errors.Newf("rangetree: internal node has wrong parent pointer")
		}
		if x.numChildren == 0 {
			return zero, errors.Newf("rangetree: internal node with no children")
		}
		total := zero
		for i := 0; i < x.numChildren; i++ {
			cw, err := t.checkNode(x.children[i], x, leaves)
			if err != nil {
				return zero, err
			}
			if cw != x.widths[i] {
				return zero, errors.Newf("rangetree: child %d width %v != cached %v", i, cw, x.widths[i])
			}
			total = t.ix.Add(total, cw)
		}
		return total, nil
	}
	return zero, errors.Newf("rangetree: unknown node type")
}
