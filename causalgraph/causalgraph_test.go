package causalgraph

import (
	"reflect"
	"sort"
	"testing"
)

func compareLVSlices(a, b Frontier) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	acopy := append(Frontier(nil), a...)
	bcopy := append(Frontier(nil), b...)
	sort.Slice(acopy, func(i, j int) bool { return acopy[i] < acopy[j] })
	sort.Slice(bcopy, func(i, j int) bool { return bcopy[i] < bcopy[j] })
	return reflect.DeepEqual(acopy, bcopy)
}

func mustAdd(t *testing.T, cg *CausalGraph, agent AgentID, seq, length int, parents []RawVersion) CGEntry {
	t.Helper()
	e, err := AddRaw(cg, RawVersion{Agent: agent, Seq: seq}, length, parents)
	if err != nil {
		t.Fatalf("AddRaw(%s:%d, %d): %v", agent, seq, length, err)
	}
	return e
}

func TestAddRawAssignsSequentialLVs(t *testing.T) {
	cg := CreateCG()
	e1 := mustAdd(t, cg, "a", 0, 3, nil)
	if e1.Version != 0 || e1.VEnd != 3 {
		t.Fatalf("first entry: got %+v", e1)
	}
	e2 := mustAdd(t, cg, "b", 0, 2, []RawVersion{{Agent: "a", Seq: 2}})
	if e2.Version != 3 || e2.VEnd != 5 {
		t.Fatalf("second entry: got %+v", e2)
	}
	if cg.NextLV != 5 {
		t.Errorf("NextLV: got %d, want 5", cg.NextLV)
	}
	if !compareLVSlices(cg.Heads, Frontier{4}) {
		t.Errorf("Heads: got %v, want [4]", cg.Heads)
	}
}

func TestAddRawCoalescesContiguousRuns(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 3, nil)
	mustAdd(t, cg, "a", 3, 2, []RawVersion{{Agent: "a", Seq: 2}})

	if cg.entries.Len() != 1 {
		t.Fatalf("expected contiguous same-agent runs to coalesce into 1 entry, got %d: %+v",
			cg.entries.Len(), cg.entries.Entries())
	}
}

func TestLVToRawRoundTrips(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 3, nil)
	mustAdd(t, cg, "b", 0, 2, []RawVersion{{Agent: "a", Seq: 2}})

	for _, lv := range []LV{0, 1, 2, 3, 4} {
		raw, ok := LVToRaw(cg, lv)
		if !ok {
			t.Fatalf("LVToRaw(%d): not found", lv)
		}
		got, err := RawToLV(cg, raw.Agent, raw.Seq)
		if err != nil || got != lv {
			t.Errorf("round trip for LV %d via %+v: got %d, err %v", lv, raw, got, err)
		}
	}
}

func TestAddRawDuplicateIsIdempotent(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 3, nil)
	before := cg.NextLV
	e, err := AddRaw(cg, RawVersion{Agent: "a", Seq: 0}, 3, nil)
	if err != nil {
		t.Fatalf("duplicate AddRaw: %v", err)
	}
	if !reflect.DeepEqual(e, CGEntry{}) {
		t.Errorf("expected zero-value entry for duplicate add, got %+v", e)
	}
	if cg.NextLV != before {
		t.Errorf("NextLV changed on duplicate add: %d -> %d", before, cg.NextLV)
	}
}

func TestFindDominatorsOfConcurrentBranches(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 1, nil)            // LV 0
	mustAdd(t, cg, "b", 0, 1, []RawVersion{}) // LV 1, root parents: concurrent with LV 0

	dom, err := FindDominators(cg, Frontier{0, 1})
	if err != nil {
		t.Fatalf("FindDominators: %v", err)
	}
	if !compareLVSlices(dom, Frontier{0, 1}) {
		t.Errorf("FindDominators: got %v, want [0 1]", dom)
	}
}

func TestFindDominatorsCollapsesAncestor(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 1, nil)                                // LV 0
	mustAdd(t, cg, "a", 1, 1, []RawVersion{{Agent: "a", Seq: 0}}) // LV 1, descendant of LV 0

	dom, err := FindDominators(cg, Frontier{0, 1})
	if err != nil {
		t.Fatalf("FindDominators: %v", err)
	}
	if !compareLVSlices(dom, Frontier{1}) {
		t.Errorf("FindDominators: got %v, want [1] (LV 0 is an ancestor of LV 1)", dom)
	}
}

func TestCompareVersionsConcurrent(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 1, nil)
	mustAdd(t, cg, "b", 0, 1, []RawVersion{}) // root parents, not the current heads

	rel, err := CompareVersions(cg, 0, 1)
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if rel != RelationConcurrent {
		t.Errorf("CompareVersions(0,1): got %v, want concurrent", rel)
	}
}

func TestDiffFindsUnseenVersions(t *testing.T) {
	cg := CreateCG()
	mustAdd(t, cg, "a", 0, 3, nil) // LVs 0..3
	mustAdd(t, cg, "b", 0, 2, []RawVersion{{Agent: "a", Seq: 2}}) // LVs 3..5

	summary, err := SummarizeVersion(cg, Frontier{2})
	if err != nil {
		t.Fatalf("SummarizeVersion: %v", err)
	}
	diff, err := Diff(cg, Frontier{4}, summary)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff) != 1 || diff[0] != (LVRange{3, 5}) {
		t.Errorf("Diff: got %v, want [{3 5}]", diff)
	}
}

func TestAgentAssignmentTieBreakUsesNameNotLV(t *testing.T) {
	aa := NewAgentAssignment()
	idA, _ := aa.GetOrCreateAgentID("a")
	idB, _ := aa.GetOrCreateAgentID("b")

	// "b" is assigned LV 0 (seq 0), then "a" LV 1 (seq 0) — LV order and
	// name order disagree here by construction.
	if err := aa.AssignLVToClientNextSeq(idB, LVRange{0, 1}); err != nil {
		t.Fatalf("assign b: %v", err)
	}
	if err := aa.AssignLVToClientNextSeq(idA, LVRange{1, 2}); err != nil {
		t.Fatalf("assign a: %v", err)
	}

	if got := TieBreakAgentVersions(AgentVersion{"a", 0}, AgentVersion{"b", 0}); got >= 0 {
		t.Errorf("tie-break by name: \"a\" should sort before \"b\", got %d", got)
	}
	if got := aa.TieBreakVersions(1, 0); got >= 0 {
		t.Errorf("tie-break of LV 1 (\"a\") against LV 0 (\"b\"): want negative, got %d", got)
	}
}

func TestAgentAssignmentRejectsReservedAndOversizeNames(t *testing.T) {
	aa := NewAgentAssignment()
	if _, err := aa.GetOrCreateAgentID("ROOT"); err == nil {
		t.Error("expected error for reserved agent name ROOT")
	}
	longName := AgentID(make([]byte, MaxAgentNameLength+1))
	if _, err := aa.GetOrCreateAgentID(longName); err == nil {
		t.Error("expected error for oversize agent name")
	}
}
