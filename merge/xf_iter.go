package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/oplog"
)

// TransformedOpIter walks a merge plan and yields, for every operation
// merged in, the original metrics paired with its transformed result
//. Retreat/Advance/Clear/BeginOutput actions update the
// tracker silently; Apply spans in the output phase and FF spans produce
// output.
type TransformedOpIter struct {
	cg      *causalgraph.CausalGraph
	log     *oplog.ListOpLog
	tracker *Tracker
	plan    *MergePlan

	planIdx   int
	applying  bool
	ffCurrent bool
	pending   []oplog.ListOpMetrics

	maxFrontier Frontier
}

// NewTransformedOpIter builds the conflict sub-graph and plan for merging
// mergeFrontier into from, and returns an iterator over the transformed
// operations.
func NewTransformedOpIter(cg *causalgraph.CausalGraph, log *oplog.ListOpLog, from, mergeFrontier Frontier, opts *MergeOptions) (*TransformedOpIter, error) {
	g, err := BuildConflictSubgraph(cg, from, mergeFrontier)
	if err != nil {
		return nil, err
	}
	plan, err := MakePlan(cg, g, from, opts)
	if err != nil {
		return nil, err
	}
	opts.logger().Debugf("merge: plan with %d actions over %d sub-graph entries", len(plan.Actions), len(g.Entries))
	return &TransformedOpIter{
		cg:          cg,
		log:         log,
		tracker:     NewTracker(cg, log),
		plan:        plan,
		maxFrontier: append(Frontier(nil), plan.BaseVersion...),
	}, nil
}

// MaxFrontier returns the furthest frontier reached by the traversal so
// far; after the iterator is drained this is the merged frontier.
func (it *TransformedOpIter) MaxFrontier() Frontier {
	return append(Frontier(nil), it.maxFrontier...)
}

func (it *TransformedOpIter) advanceMaxFrontier(span LVRange) error {
	f, err := causalgraph.FindDominators(it.cg, append(append(Frontier(nil), it.maxFrontier...), span.End-1))
	if err != nil {
		return err
	}
	it.maxFrontier = f
	return nil
}

func (it *TransformedOpIter) queueSpan(span LVRange) {
	iter := it.log.IterMetricsRange(span)
	for {
		m, ok := iter.Next()
		if !ok {
			return
		}
		it.pending = append(it.pending, m)
	}
}

// Next yields the next (original metrics, transformed result) pair. The
// metrics' LV field identifies the operation run. ok is false when the
// plan is exhausted.
func (it *TransformedOpIter) Next() (oplog.ListOpMetrics, TransformedResult, bool, error) {
	for {
		if len(it.pending) > 0 {
			m := it.pending[0]
			it.pending = it.pending[1:]

			if it.ffCurrent {
				// Identity transform: the operation applies where it was
				// authored.
				return m, BaseMoved(m.Loc.Start), true, nil
			}

			n, xf := it.tracker.Apply(m, m.Len())
			applied, rest := m.SplitAt(n)
			if rest.Len() > 0 {
				it.pending = append([]oplog.ListOpMetrics{rest}, it.pending...)
			}
			return applied, xf, true, nil
		}

		if it.planIdx >= len(it.plan.Actions) {
			return oplog.ListOpMetrics{}, TransformedResult{}, false, nil
		}
		act := it.plan.Actions[it.planIdx]
		it.planIdx++

		switch act.Kind {
		case ActRetreat:
			it.tracker.RetreatByRange(act.Span)
		case ActAdvance:
			it.tracker.AdvanceByRange(act.Span)
		case ActClear:
			it.tracker.Clear()
		case ActBeginOutput:
			it.applying = true
		case ActApply:
			if err := it.advanceMaxFrontier(act.Span); err != nil {
				return oplog.ListOpMetrics{}, TransformedResult{}, false, err
			}
			it.ffCurrent = false
			if !it.applying {
				it.tracker.ApplyRange(act.Span, nil)
			} else {
				it.queueSpan(act.Span)
			}
		case ActFF:
			if !it.applying {
				return oplog.ListOpMetrics{}, TransformedResult{}, false,
					errors.AssertionFailedf("merge: FF action before BeginOutput")
			}
			it.maxFrontier = Frontier{act.Span.End - 1}
			it.ffCurrent = true
			it.queueSpan(act.Span)
		}
	}
}

// reverseStr returns s with its characters in reverse order; used when
// emitting backspace-style reverse insert runs.
func reverseStr(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// MergeInto merges everything reachable from mergeFrontier (that is not
// already reachable from from) into the rope, which must hold the
// document at from. Returns the merged frontier.
func MergeInto(rope Rope, cg *causalgraph.CausalGraph, log *oplog.ListOpLog, from, mergeFrontier Frontier, opts *MergeOptions) (Frontier, error) {
	final, err := causalgraph.FindDominators(cg, append(append(Frontier(nil), from...), mergeFrontier...))
	if err != nil {
		return nil, err
	}

	it, err := NewTransformedOpIter(cg, log, from, mergeFrontier, opts)
	if err != nil {
		return nil, err
	}
	for {
		m, xf, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch {
		case !xf.Moved:
			// The deletion already happened on another branch.
		case m.Kind == opIns:
			content, has := log.Ctx.GetContent(m)
			if !has {
				return nil, errors.AssertionFailedf("merge: insert %d has no stored content", m.LV)
			}
			if xf.Pos > rope.LenChars() {
				panic(errors.AssertionFailedf("merge: insert position %d beyond document length %d", xf.Pos, rope.LenChars()))
			}
			if m.Fwd {
				rope.Insert(xf.Pos, content)
			} else {
				rope.Insert(xf.Pos, reverseStr(content))
			}
		default:
			delEnd := xf.Pos + m.Len()
			if delEnd > rope.LenChars() {
				panic(errors.AssertionFailedf("merge: delete end %d beyond document length %d", delEnd, rope.LenChars()))
			}
			rope.Remove(xf.Pos, delEnd)
		}
	}
	return final, nil
}
