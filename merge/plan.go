package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/causalgraph"
)

// PlanActionKind enumerates the merge plan's tracker actions.
type PlanActionKind uint8

const (
	// ActApply advances the tracker by ingesting the span's LVs,
	// contributing to output in the output phase.
	ActApply PlanActionKind = iota
	// ActRetreat reverses the state effect of previously applied LVs.
	ActRetreat
	// ActAdvance re-applies a previously retreated span.
	ActAdvance
	// ActFF fast-forwards a causally linear span, emitting
	// identity-transformed ops without touching the tracker.
	ActFF
	// ActClear discards tracker state.
	ActClear
	// ActBeginOutput switches from warm-up to the output phase.
	ActBeginOutput
)

func (k PlanActionKind) String() string {
	switch k {
	case ActApply:
		return "Apply"
	case ActRetreat:
		return "Retreat"
	case ActAdvance:
		return "Advance"
	case ActFF:
		return "FF"
	case ActClear:
		return "Clear"
	default:
		return "BeginOutput"
	}
}

// PlanAction is one step of a merge plan. Span is unused for Clear and
// BeginOutput.
type PlanAction struct {
	Kind PlanActionKind
	Span LVRange
}

// MergePlan is the linearisation of a conflict sub-graph: replaying its
// actions against a fresh tracker applies each conflict-zone LV exactly
// once, in causal order, and emits the transformed operations for
// everything merged in.
type MergePlan struct {
	Actions     []PlanAction
	BaseVersion Frontier
}

// MergeOptions carries the merge engine's tunables.
type MergeOptions struct {
	// AllowFF enables the fast-forward shortcut for causally linear
	// merges.
	AllowFF bool
	Logger  Logger
}

// DefaultMergeOptions mirror the engine's standard behaviour.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{AllowFF: true, Logger: DefaultLogger}
}

func (o *MergeOptions) logger() Logger {
	if o == nil || o.Logger == nil {
		return DefaultLogger
	}
	return o.Logger
}

// frontierDiff returns the spans reachable only from `from` and only from
// `to`, as sorted disjoint ranges. Moving a tracker from one frontier to
// the other retreats the former and advances the latter.
func frontierDiff(cg *causalgraph.CausalGraph, from, to Frontier) (onlyFrom, onlyTo []LVRange, err error) {
	sTo, err := causalgraph.SummarizeVersion(cg, to)
	if err != nil {
		return nil, nil, err
	}
	onlyFrom, err = causalgraph.Diff(cg, from, sTo)
	if err != nil {
		return nil, nil, err
	}
	sFrom, err := causalgraph.SummarizeVersion(cg, from)
	if err != nil {
		return nil, nil, err
	}
	onlyTo, err = causalgraph.Diff(cg, to, sFrom)
	if err != nil {
		return nil, nil, err
	}
	return onlyFrom, onlyTo, nil
}

// MakePlan linearises the sub-graph between frontiers a and b. All
// OnlyA and Shared spans are applied first (warm-up), repositioning the
// tracker between concurrent branches with retreat/advance pairs; the
// tracker is then moved to a's state, output begins, and the OnlyB spans
// are applied the same way. A merge whose conflict zone is a single
// linear OnlyB chain short-circuits to a fast-forward plan when allowed.
func MakePlan(cg *causalgraph.CausalGraph, g *ConflictSubgraph, a Frontier, opts *MergeOptions) (*MergePlan, error) {
	plan := &MergePlan{BaseVersion: append(Frontier(nil), g.BaseVersion...)}
	if len(g.Entries) == 0 {
		return plan, nil
	}

	allowFF := opts == nil || opts.AllowFF
	if allowFF && g.isLinearOnlyB() {
		plan.Actions = append(plan.Actions, PlanAction{Kind: ActClear}, PlanAction{Kind: ActBeginOutput})
		for i := len(g.Entries) - 1; i >= 0; i-- {
			if span := g.Entries[i].Span; span.Len() > 0 {
				plan.Actions = append(plan.Actions, PlanAction{Kind: ActFF, Span: span})
			}
		}
		return plan, nil
	}

	// frontierAfter[i] is the version frontier reached once entry i has
	// been processed.
	frontierAfter := make([]Frontier, len(g.Entries))
	cur := append(Frontier(nil), g.BaseVersion...)

	parentFrontier := func(idx int) (Frontier, error) {
		e := g.Entries[idx]
		if len(e.Parents) == 0 {
			return g.BaseVersion, nil
		}
		var union Frontier
		for _, p := range e.Parents {
			union = append(union, frontierAfter[p]...)
		}
		return causalgraph.FindDominators(cg, union)
	}

	moveTo := func(target Frontier) error {
		if frontiersEqual(cur, target) {
			cur = target
			return nil
		}
		retreats, advances, err := frontierDiff(cg, cur, target)
		if err != nil {
			return err
		}
		for i := len(retreats) - 1; i >= 0; i-- {
			plan.Actions = append(plan.Actions, PlanAction{Kind: ActRetreat, Span: retreats[i]})
		}
		for _, r := range advances {
			plan.Actions = append(plan.Actions, PlanAction{Kind: ActAdvance, Span: r})
		}
		cur = target
		return nil
	}

	pass := func(wantB bool) error {
		for i := len(g.Entries) - 1; i >= 1; i-- {
			e := g.Entries[i]
			if (e.Flag == OnlyB) != wantB {
				continue
			}
			target, err := parentFrontier(i)
			if err != nil {
				return err
			}
			if e.Span.Len() == 0 {
				frontierAfter[i] = target
				continue
			}
			if err := moveTo(target); err != nil {
				return err
			}
			plan.Actions = append(plan.Actions, PlanAction{Kind: ActApply, Span: e.Span})
			cur = Frontier{e.Span.End - 1}
			frontierAfter[i] = cur
		}
		return nil
	}

	if err := pass(false); err != nil {
		return nil, err
	}
	// Reposition to a's state before output begins: the output document is
	// the document at a.
	if err := moveTo(sortedFrontier(a)); err != nil {
		return nil, err
	}
	plan.Actions = append(plan.Actions, PlanAction{Kind: ActBeginOutput})
	if err := pass(true); err != nil {
		return nil, err
	}
	return plan, nil
}

// isLinearOnlyB reports whether the conflict zone is a single causally
// linear chain of OnlyB spans descending from the base: the pure
// fast-forward shape. The merger (entry 0) and the final root entry are
// exempt from the chain test; any other merge node, any non-OnlyB span,
// and any branching span entry disqualify the graph.
func (g *ConflictSubgraph) isLinearOnlyB() bool {
	last := len(g.Entries) - 1
	for i, e := range g.Entries {
		if i == 0 {
			continue
		}
		if e.Span.Len() > 0 {
			if e.Flag != OnlyB || len(e.Parents) > 1 || e.NumChildren > 1 {
				return false
			}
			continue
		}
		if i != last {
			return false
		}
	}
	return true
}

// Simulate replays the plan against bookkeeping state only, verifying
// its correctness requirements: every conflict-zone LV is applied
// exactly once and only after its parents, retreats and advances pair
// up, and BeginOutput appears exactly once. For tests.
func (p *MergePlan) Simulate(cg *causalgraph.CausalGraph, g *ConflictSubgraph) error {
	zone := make(map[LV]bool)
	for i, e := range g.Entries {
		if i == 0 {
			continue
		}
		for lv := e.Span.Start; lv < e.Span.End; lv++ {
			zone[lv] = true
		}
	}
	baseHist, err := causalgraph.SummarizeVersion(cg, p.BaseVersion)
	if err != nil {
		return err
	}
	inBase := func(lv LV) bool {
		raw, ok := causalgraph.LVToRaw(cg, lv)
		if !ok {
			return false
		}
		for _, r := range baseHist[raw.Agent] {
			if raw.Seq >= r[0] && raw.Seq < r[1] {
				return true
			}
		}
		return false
	}

	applied := make(map[LV]bool) // ever applied
	active := make(map[LV]bool)  // applied and not currently retreated
	sawBegin := false

	for _, act := range p.Actions {
		switch act.Kind {
		case ActBeginOutput:
			if sawBegin {
				return errors.Newf("merge: BeginOutput emitted twice")
			}
			sawBegin = true
		case ActClear:
			applied = make(map[LV]bool)
			active = make(map[LV]bool)
		case ActRetreat:
			for lv := act.Span.Start; lv < act.Span.End; lv++ {
				if !active[lv] {
					return errors.Newf("merge: retreat of inactive LV %d", lv)
				}
				active[lv] = false
			}
		case ActAdvance:
			for lv := act.Span.Start; lv < act.Span.End; lv++ {
				if !applied[lv] || active[lv] {
					return errors.Newf("merge: advance of LV %d which is not in the retreated state", lv)
				}
				active[lv] = true
			}
		case ActApply, ActFF:
			for lv := act.Span.Start; lv < act.Span.End; lv++ {
				if !zone[lv] {
					return errors.Newf("merge: apply of LV %d outside the conflict zone", lv)
				}
				if applied[lv] {
					return errors.Newf("merge: LV %d applied twice", lv)
				}
				if act.Kind == ActApply {
					_, _, parents, ok := causalgraph.LVToRawWithParents(cg, lv)
					if !ok {
						return errors.Newf("merge: apply of unknown LV %d", lv)
					}
					for _, par := range parents {
						if par < 0 || inBase(par) {
							continue
						}
						if !active[par] {
							return errors.Newf("merge: LV %d applied before its parent %d", lv, par)
						}
					}
				}
				applied[lv] = true
				active[lv] = true
			}
		}
	}

	if !sawBegin {
		return errors.Newf("merge: plan never emitted BeginOutput")
	}
	for lv := range zone {
		if !applied[lv] {
			return errors.Newf("merge: conflict-zone LV %d never applied", lv)
		}
	}
	return nil
}
