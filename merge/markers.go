package merge

// The space index (marker table): a keyed RLE vector from operation LV to
// either the tree leaf currently holding an inserted item (insert ops) or
// the LV range a delete op removed.

type markerKind uint8

const (
	markerIns markerKind = iota
	markerDel
)

type markerEntry struct {
	lv   LV
	len_ int
	kind markerKind

	// leaf is set for insert markers: the tree leaf holding items
	// [lv, lv+len).
	leaf *itemLeaf

	// target and fwd are set for delete markers: the item range deleted by
	// ops [lv, lv+len). When !fwd the k-th op targets target.End-1-k (a
	// backspace run); the range itself is stored in document order.
	target LVRange
	fwd    bool
}

func (m markerEntry) Len() int    { return m.len_ }
func (m markerEntry) RleKey() int { return int(m.lv) }

func (m markerEntry) CanAppend(o markerEntry) bool {
	if o.kind != m.kind || o.lv != m.lv+LV(m.len_) {
		return false
	}
	switch m.kind {
	case markerIns:
		return o.leaf == m.leaf
	default:
		if o.fwd != m.fwd {
			return false
		}
		if m.fwd {
			return o.target.Start == m.target.End
		}
		return o.target.End == m.target.Start
	}
}

func (m markerEntry) Append(o markerEntry) markerEntry {
	m.len_ += o.len_
	if m.kind == markerDel {
		if m.fwd {
			m.target.End = o.target.End
		} else {
			m.target.Start = o.target.Start
		}
	}
	return m
}

func (m markerEntry) SplitAt(at int) (left, right markerEntry) {
	left, right = m, m
	left.len_ = at
	right.lv = m.lv + LV(at)
	right.len_ = m.len_ - at
	if m.kind == markerDel {
		if m.fwd {
			mid := m.target.Start + LV(at)
			left.target.End = mid
			right.target.Start = mid
		} else {
			mid := m.target.End - LV(at)
			left.target.Start = mid
			right.target.End = mid
		}
	}
	return left, right
}
