package causalgraph

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/rle"
)

// CreateCG creates and returns a new, empty CausalGraph.
func CreateCG() *CausalGraph {
	return &CausalGraph{
		entries:    rle.New[CGEntry](),
		Assignment: NewAgentAssignment(),
	}
}

// NextSeqForAgent returns the next sequence number for a given agent. If
// the agent is new, it returns 0.
func NextSeqForAgent(cg *CausalGraph, agent AgentID) int {
	id, ok := cg.Assignment.GetAgentID(agent)
	if !ok {
		return 0
	}
	return cg.Assignment.clients[id].nextSeq()
}

// findEntryContaining finds the CGEntry that contains the given LV, and
// the LV's offset within it.
func findEntryContaining(cg *CausalGraph, v LV) (CGEntry, int, bool) {
	e, offset, found := cg.entries.FindWithOffset(int(v))
	return e, offset, found
}

// LookupEntry exposes findEntryContaining to other packages (the merge
// package's conflict-subgraph builder walks containing entries the same
// way IterVersionsBetween does, one txn at a time).
func LookupEntry(cg *CausalGraph, v LV) (CGEntry, int, bool) {
	return findEntryContaining(cg, v)
}

// Entries exposes the packed causal-graph entries for read-only iteration.
func (cg *CausalGraph) Entries() []CGEntry {
	return cg.entries.Entries()
}

// LVToRaw converts an LV to its corresponding RawVersion (agent, seq) via
// the agent-assignment bijection.
func LVToRaw(cg *CausalGraph, v LV) (RawVersion, bool) {
	av, ok := cg.Assignment.LocalToAgentVersion(v)
	if !ok {
		return RawVersion{}, false
	}
	return RawVersion{Agent: av.Agent, Seq: av.Seq}, true
}

// LVToRawWithParents converts an LV to its RawVersion and also returns the
// parents of that specific LV (not just its containing entry's parents).
func LVToRawWithParents(cg *CausalGraph, v LV) (AgentID, int, Frontier, bool) {
	entry, offset, found := findEntryContaining(cg, v)
	if !found {
		return "", -1, nil, false
	}
	return entry.Agent, entry.Seq + offset, parentsAtOffset(entry, offset, v), true
}

func parentsAtOffset(entry CGEntry, offset int, v LV) Frontier {
	if offset == 0 {
		return entry.Parents
	}
	return Frontier{v - 1}
}

// RawToLV converts a RawVersion (agent, seq) to its corresponding LV.
func RawToLV(cg *CausalGraph, agent AgentID, seq int) (LV, error) {
	lv, ok := cg.Assignment.TryAgentVersionToLV(agent, seq)
	if !ok {
		return -1, errors.Newf("causalgraph: raw version %s:%d not found", agent, seq)
	}
	return lv, nil
}

// LVToRawList converts a list of LVs to a list of RawVersions.
func LVToRawList(cg *CausalGraph, lvs []LV) ([]RawVersion, error) {
	if len(lvs) == 0 {
		return nil, nil
	}
	raws := make([]RawVersion, len(lvs))
	for i, lv := range lvs {
		rv, found := LVToRaw(cg, lv)
		if !found {
			return nil, errors.Newf("causalgraph: LV %d not found", lv)
		}
		raws[i] = rv
	}
	return raws, nil
}

// AddRaw adds a new version span to the causal graph. Length unit
// operations are assigned contiguous LVs starting at cg.NextLV. Returns the
// assigned span's CGEntry, or (zero, nil) if this (agent, seq) was already
// known (idempotent re-application).
func AddRaw(cg *CausalGraph, id RawVersion, length int, rawParents []RawVersion) (CGEntry, error) {
	if length <= 0 {
		return CGEntry{}, errors.Newf("causalgraph: length must be positive, got %d", length)
	}
	if _, err := RawToLV(cg, id.Agent, id.Seq); err == nil {
		return CGEntry{}, nil // duplicate; already applied
	}

	var parentLVs Frontier
	if rawParents == nil {
		parentLVs = append(Frontier(nil), cg.Heads...)
	} else {
		parentLVs = make(Frontier, 0, len(rawParents))
		for _, rp := range rawParents {
			lv, err := RawToLV(cg, rp.Agent, rp.Seq)
			if err != nil {
				return CGEntry{}, errors.Wrapf(err, "causalgraph: parent %s:%d not found", rp.Agent, rp.Seq)
			}
			parentLVs = append(parentLVs, lv)
		}
	}
	parentLVs = sortLVsAndDedup(parentLVs)

	agentID, err := cg.Assignment.GetOrCreateAgentID(id.Agent)
	if err != nil {
		return CGEntry{}, err
	}

	startLV := cg.NextLV
	endLV := startLV + LV(length)

	newEntry := CGEntry{
		Agent:   id.Agent,
		Seq:     id.Seq,
		Version: startLV,
		VEnd:    endLV,
		Parents: parentLVs,
	}
	cg.entries.Push(newEntry)
	cg.NextLV = endLV

	if err := cg.Assignment.AssignLVToClientNextSeq(agentID, LVRange{startLV, endLV}); err != nil {
		return CGEntry{}, errors.Wrap(err, "causalgraph: inconsistent agent assignment")
	}

	// Later LVs in the span dominate earlier ones, so only the last joins
	// the frontier.
	newHeads := make(Frontier, 0, len(cg.Heads)+1)
	for _, h := range cg.Heads {
		if !containsLV(parentLVs, h) {
			newHeads = append(newHeads, h)
		}
	}
	newHeads = append(newHeads, endLV-1)
	cg.Heads = sortLVsAndDedup(newHeads)

	return newEntry, nil
}

func containsLV(lvs Frontier, v LV) bool {
	for _, p := range lvs {
		if p == v {
			return true
		}
	}
	return false
}

// sortLVsAndDedup sorts a slice of LVs ascending and removes duplicates.
func sortLVsAndDedup(lvs Frontier) Frontier {
	if len(lvs) <= 1 {
		return lvs
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i] < lvs[j] })
	j := 1
	for i := 1; i < len(lvs); i++ {
		if lvs[i] != lvs[i-1] {
			lvs[j] = lvs[i]
			j++
		}
	}
	return lvs[:j]
}

// VersionContainsLV checks if targetLV is an ancestor of (or equal to) any
// LV in frontier.
func VersionContainsLV(cg *CausalGraph, frontier Frontier, targetLV LV) (bool, error) {
	for _, fv := range frontier {
		if fv == targetLV {
			return true, nil
		}
	}
	if len(frontier) == 0 {
		return false, nil
	}

	queue := append(Frontier(nil), frontier...)
	visited := make(map[LV]struct{})

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if _, ok := visited[curr]; ok {
			continue
		}
		visited[curr] = struct{}{}
		if curr < 0 {
			continue
		}
		if curr == targetLV {
			return true, nil
		}

		entry, offset, found := findEntryContaining(cg, curr)
		if !found {
			return false, errors.Newf("causalgraph: LV %d not found while checking ancestry", curr)
		}
		for _, p := range parentsAtOffset(entry, offset, curr) {
			if p == targetLV {
				return true, nil
			}
			if _, seen := visited[p]; !seen && p >= 0 {
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// SummarizeVersion creates a VersionSummary covering the causal history of
// frontier: for every LV reachable from frontier, a [seq, seq+1) range.
func SummarizeVersion(cg *CausalGraph, frontier Frontier) (VersionSummary, error) {
	summary := make(VersionSummary)
	if len(frontier) == 0 {
		return summary, nil
	}

	history := make(map[LV]struct{})
	queue := append(Frontier(nil), frontier...)
	visited := make(map[LV]struct{})

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		if _, ok := visited[curr]; ok {
			continue
		}
		visited[curr] = struct{}{}
		if curr < 0 {
			continue
		}
		history[curr] = struct{}{}

		entry, offset, found := findEntryContaining(cg, curr)
		if !found {
			return nil, errors.Newf("causalgraph: LV %d not found while summarizing version", curr)
		}
		for _, p := range parentsAtOffset(entry, offset, curr) {
			if _, seen := visited[p]; !seen && p >= 0 {
				queue = append(queue, p)
			}
		}
	}

	agentSeqs := make(map[AgentID][]int)
	for lv := range history {
		raw, found := LVToRaw(cg, lv)
		if !found {
			return nil, errors.Newf("causalgraph: LV %d not found converting to raw", lv)
		}
		agentSeqs[raw.Agent] = append(agentSeqs[raw.Agent], raw.Seq)
	}
	for agent, seqs := range agentSeqs {
		sort.Ints(seqs)
		ranges := make([][2]int, 0, len(seqs))
		for _, s := range seqs {
			ranges = append(ranges, [2]int{s, s + 1})
		}
		summary[agent] = ranges
	}
	return summary, nil
}

// Diff calculates the LV ranges reachable from `from` that are not covered
// by the version summary `to`.
func Diff(cg *CausalGraph, from Frontier, to VersionSummary) ([]LVRange, error) {
	var result []LVRange

	queue := sortLVsAndDedup(append(Frontier(nil), from...))
	visitedEntries := make(map[LV]struct{})
	queuedParents := make(map[LV]struct{})

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if _, ok := visitedEntries[v]; ok {
			continue
		}

		entry, _, found := findEntryContaining(cg, v)
		if !found {
			return nil, errors.Newf("causalgraph: LV %d not found during diff", v)
		}
		for lv := entry.Version; lv < entry.VEnd; lv++ {
			visitedEntries[lv] = struct{}{}
		}

		fullyCovered := true
		runStart := LV(-1)
		for lv := entry.Version; lv < entry.VEnd; lv++ {
			seq := entry.Seq + int(lv-entry.Version)
			covered := seqCovered(to, entry.Agent, seq)
			if !covered {
				fullyCovered = false
				if runStart == -1 {
					runStart = lv
				}
			} else if runStart != -1 {
				result = append(result, LVRange{Start: runStart, End: lv})
				runStart = -1
			}
		}
		if runStart != -1 {
			result = append(result, LVRange{Start: runStart, End: entry.VEnd})
		}

		if !fullyCovered {
			for _, p := range entry.Parents {
				if p < 0 {
					continue
				}
				if _, queued := queuedParents[p]; queued {
					continue
				}
				pRaw, pFound := LVToRaw(cg, p)
				if pFound && seqCovered(to, pRaw.Agent, pRaw.Seq) {
					continue
				}
				queue = append(queue, p)
				queuedParents[p] = struct{}{}
			}
		}
	}

	if len(result) == 0 {
		return result, nil
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	merged := []LVRange{result[0]}
	for _, cur := range result[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
		} else {
			merged = append(merged, cur)
		}
	}
	return merged, nil
}

func seqCovered(summary VersionSummary, agent AgentID, seq int) bool {
	ranges, ok := summary[agent]
	if !ok {
		return false
	}
	for _, r := range ranges {
		if seq >= r[0] && seq < r[1] {
			return true
		}
	}
	return false
}

// FindDominators finds the dominator set (the heads) within the union of
// the causal history of the given versions.
func FindDominators(cg *CausalGraph, versions Frontier) (Frontier, error) {
	if len(versions) == 0 {
		return Frontier{}, nil
	}
	unique := sortLVsAndDedup(append(Frontier(nil), versions...))
	if len(unique) == 1 {
		return Frontier{unique[0]}, nil
	}

	dominators := make(Frontier, 0, len(unique))
	for _, candidate := range unique {
		isAncestor := false
		for _, other := range unique {
			if candidate == other {
				continue
			}
			ok, err := VersionContainsLV(cg, Frontier{other}, candidate)
			if err != nil {
				return nil, err
			}
			if ok {
				isAncestor = true
				break
			}
		}
		if !isAncestor {
			dominators = append(dominators, candidate)
		}
	}
	return sortLVsAndDedup(dominators), nil
}

// FindConflicting returns the LV ranges in `versions` not covered by the
// causal history of `commonAncestors`.
func FindConflicting(cg *CausalGraph, versions, commonAncestors Frontier) ([]LVRange, error) {
	summary, err := SummarizeVersion(cg, commonAncestors)
	if err != nil {
		return nil, errors.Wrap(err, "causalgraph: FindConflicting could not summarize common ancestors")
	}
	return Diff(cg, versions, summary)
}

// Relation describes the causal relationship between two versions.
type Relation string

const (
	RelationEqual      Relation = "eq"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
	RelationConcurrent Relation = "concurrent"
)

// CompareVersions determines the causal relationship between a and b.
func CompareVersions(cg *CausalGraph, a, b LV) (Relation, error) {
	if a == b {
		return RelationEqual, nil
	}
	aAncestor, err := VersionContainsLV(cg, Frontier{b}, a)
	if err != nil {
		return "", err
	}
	if aAncestor {
		return RelationAncestor, nil
	}
	bAncestor, err := VersionContainsLV(cg, Frontier{a}, b)
	if err != nil {
		return "", err
	}
	if bAncestor {
		return RelationDescendant, nil
	}
	return RelationConcurrent, nil
}

// IterVersionsBetween walks LVs in (from, to] in reverse-topological order,
// invoking fn(v, isParentOfPrev, isMerge) for each. Stops early if fn
// returns stop=true.
func IterVersionsBetween(cg *CausalGraph, from Frontier, to LV,
	fn func(v LV, isParentOfPrev bool, isMerge bool) (stop bool, err error)) error {
	for _, fv := range from {
		if fv == to {
			return nil
		}
		isAncestor, err := VersionContainsLV(cg, Frontier{fv}, to)
		if err != nil {
			return err
		}
		if isAncestor {
			return nil
		}
	}

	type item struct {
		v              LV
		isParentOfPrev bool
	}
	stack := []item{{v: to}}
	visited := make(map[LV]struct{})
	for _, fv := range from {
		visited[fv] = struct{}{}
	}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[it.v]; ok {
			continue
		}

		entry, offset, found := findEntryContaining(cg, it.v)
		if !found {
			return errors.Newf("causalgraph: LV %d not found iterating versions", it.v)
		}

		stop, err := fn(it.v, it.isParentOfPrev, offset == 0 && len(entry.Parents) > 1)
		if err != nil {
			return errors.Wrapf(err, "causalgraph: callback error at LV %d", it.v)
		}
		if stop {
			return nil
		}
		visited[it.v] = struct{}{}

		parents := parentsAtOffset(entry, offset, it.v)
		for i := len(parents) - 1; i >= 0; i-- {
			p := parents[i]
			if _, seen := visited[p]; !seen && p >= 0 {
				stack = append(stack, item{v: p, isParentOfPrev: i == 0})
			}
		}
	}
	return nil
}
