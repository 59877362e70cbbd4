package oplog

import (
	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/rle"
)

// OpMetricsIter yields a ListOpLog's metrics entries clipped to a
// requested LV range [start, end), trimming the first entry on the left
// and the last on the right.
type OpMetricsIter struct {
	packed []ListOpMetrics
	rng    LVRange
	idx    int
}

// NewOpMetricsIter primes an iterator over entries, clipped to rng.
func NewOpMetricsIter(entries *rle.RleVec[ListOpMetrics], rng LVRange) *OpMetricsIter {
	it := &OpMetricsIter{}
	it.prime(entries, rng)
	return it
}

func (it *OpMetricsIter) prime(entries *rle.RleVec[ListOpMetrics], rng LVRange) {
	it.rng = rng
	it.idx = 0
	if rng.Len() <= 0 {
		it.packed = nil
		return
	}
	it.packed = entries.IterRangePacked(int(rng.Start), int(rng.End))
}

// Next returns the next clipped entry, or (zero, false) when exhausted.
func (it *OpMetricsIter) Next() (ListOpMetrics, bool) {
	if it.idx >= len(it.packed) {
		return ListOpMetrics{}, false
	}
	m := it.packed[it.idx]
	it.idx++
	return m, true
}

// IsEmpty reports whether the iterator has nothing left to yield.
func (it *OpMetricsIter) IsEmpty() bool { return it.idx >= len(it.packed) }

// OpMetricsWithContent wraps OpMetricsIter, additionally resolving each
// entry's content against an OperationCtx.
type OpMetricsWithContent struct {
	inner *OpMetricsIter
	ctx   *OperationCtx
}

// NewOpMetricsWithContent primes a with-content iterator.
func NewOpMetricsWithContent(entries *rle.RleVec[ListOpMetrics], ctx *OperationCtx, rng LVRange) *OpMetricsWithContent {
	return &OpMetricsWithContent{inner: NewOpMetricsIter(entries, rng), ctx: ctx}
}

func (it *OpMetricsWithContent) prime(entries *rle.RleVec[ListOpMetrics], rng LVRange) {
	it.inner.prime(entries, rng)
}

// Next returns the next entry paired with its resolved content (empty,
// false if this entry stored none).
func (it *OpMetricsWithContent) Next() (ListOpMetrics, string, bool, bool) {
	m, ok := it.inner.Next()
	if !ok {
		return ListOpMetrics{}, "", false, false
	}
	content, hasContent := it.ctx.GetContent(m)
	return m, content, hasContent, true
}

// OpIterRanges consumes a stack of non-overlapping LV ranges supplied in
// descending priority order, yielding (metrics, content) pairs from each
// range in turn.
type OpIterRanges struct {
	entries  *rle.RleVec[ListOpMetrics]
	ctx      *OperationCtx
	rangesRev []LVRange // descending order; consumed from the tail
	current  *OpMetricsWithContent
}

// NewOpIterRanges builds an iterator over rangesRev, which must be
// supplied already in descending (reverse-priority) order.
func NewOpIterRanges(entries *rle.RleVec[ListOpMetrics], ctx *OperationCtx, rangesRev []LVRange) *OpIterRanges {
	rr := append([]LVRange(nil), rangesRev...)
	var last LVRange
	if len(rr) > 0 {
		last = rr[len(rr)-1]
		rr = rr[:len(rr)-1]
	}
	return &OpIterRanges{
		entries:  entries,
		ctx:      ctx,
		rangesRev: rr,
		current:  NewOpMetricsWithContent(entries, ctx, last),
	}
}

// Next returns the next (metrics, content) pair across all ranges, or
// ok=false once every range is exhausted.
func (it *OpIterRanges) Next() (ListOpMetrics, string, bool, bool) {
	if m, c, has, ok := it.current.Next(); ok {
		return m, c, has, true
	}
	if len(it.rangesRev) == 0 {
		return ListOpMetrics{}, "", false, false
	}
	next := it.rangesRev[len(it.rangesRev)-1]
	it.rangesRev = it.rangesRev[:len(it.rangesRev)-1]
	it.current.prime(it.entries, next)
	return it.current.Next()
}

// IterMetricsRange returns an iterator over entries clipped to rng.
func (l *ListOpLog) IterMetricsRange(rng LVRange) *OpMetricsIter {
	return NewOpMetricsIter(l.Entries, rng)
}

// IterMetrics returns an iterator over the entire log.
func (l *ListOpLog) IterMetrics() *OpMetricsIter {
	return l.IterMetricsRange(LVRange{Start: 0, End: LV(l.Len())})
}

// IterRangeSimple returns a with-content iterator clipped to rng.
func (l *ListOpLog) IterRangeSimple(rng LVRange) *OpMetricsWithContent {
	return NewOpMetricsWithContent(l.Entries, &l.Ctx, rng)
}

// Iter returns a with-content iterator over the whole log, yielding
// TextOperation values in document-emission order.
func (l *ListOpLog) Iter() []TextOperation {
	it := l.IterRangeSimple(LVRange{Start: 0, End: LV(l.Len())})
	var out []TextOperation
	for {
		m, content, has, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, toTextOperation(m, content, has))
	}
	return out
}

// IterRangeSince returns the operations covering exactly the LV ranges in
// ranges (supplied in descending order, i.e. a causal-graph diff's
// ascending ranges reversed), resolved to TextOperation values.
func (l *ListOpLog) IterRangeSince(rangesRev []LVRange) []TextOperation {
	it := NewOpIterRanges(l.Entries, &l.Ctx, rangesRev)
	var out []TextOperation
	for {
		m, content, has, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, toTextOperation(m, content, has))
	}
	return out
}

func toTextOperation(m ListOpMetrics, content string, hasContent bool) TextOperation {
	return TextOperation{Pos: m.Loc.Start, Kind: m.Kind, Content: content, HasContent: hasContent}
}

// FullEntry groups a run of consecutive operations by one agent that share
// a causal-graph span: the LV span, its parents, the (agent, seq) identity
// and the reconstructed operations.
type FullEntry struct {
	Span      LVRange
	Parents   causalgraph.Frontier
	AgentSpan causalgraph.AgentSpan
	Ops       []TextOperation
}

// AsChunkedOperationVec splits the log along causal-graph entry and agent
// assignment boundaries, returning one FullEntry per (agent, causal span)
// chunk.
func (l *ListOpLog) AsChunkedOperationVec(cg *causalgraph.CausalGraph) []FullEntry {
	var out []FullEntry
	for _, e := range cg.Entries() {
		pos := e.Version
		for pos < e.VEnd {
			as, ok := cg.Assignment.LocalSpanToAgentSpan(LVRange{Start: pos, End: e.VEnd})
			if !ok {
				break
			}
			sub := LVRange{Start: pos, End: pos + LV(as.SeqRange.Len())}

			parents := causalgraph.Frontier{pos - 1}
			if pos == e.Version {
				parents = e.Parents
			}

			var ops []TextOperation
			it := l.IterRangeSimple(sub)
			for {
				m, content, has, more := it.Next()
				if !more {
					break
				}
				ops = append(ops, toTextOperation(m, content, has))
			}
			out = append(out, FullEntry{Span: sub, Parents: parents, AgentSpan: as, Ops: ops})
			pos = sub.End
		}
	}
	return out
}
