// Package causalgraph implements the bidirectional mapping between compact
// local version integers (LV) and (agent, sequence) pairs, backed by a
// real RLE vector, plus the causal-graph diff/conflict
// queries used to build merge plans.
package causalgraph

import (
	"math"

	"github.com/egwalker/merge/rle"
)

// AgentID identifies a collaborating peer by name.
type AgentID string

// RawVersion identifies an operation by its globally stable identity: the
// agent that authored it, plus that agent's sequence number for it.
type RawVersion struct {
	Agent AgentID
	Seq   int
}

// LV (Local Version) is a local, monotonically-assigned, per-peer integer
// identifying a single unit-length operation. LVMax is the sentinel used
// for "before the start" / "after the end". It
// sits above the underwater region reserved by the merge tracker.
type LV int

const LVMax LV = math.MaxInt

// LVRange is a half-open local version range [Start, End).
type LVRange struct {
	Start LV
	End   LV
}

func (r LVRange) Len() int { return int(r.End - r.Start) }

// Frontier is a dominator set of LVs: no element is a causal ancestor of
// another. Order is not semantically meaningful except where noted (the
// merge package's conflict-subgraph queue keeps frontiers sorted ascending
// and compares them from the highest element down).
type Frontier []LV

// CGEntry is a keyed RLE span describing one contiguously-authored run of
// versions: [Version, VEnd) by the same agent, consecutive in both LV and
// sequence number, whose first LV's causal parents are Parents and whose
// later LVs each have their immediate predecessor as their sole parent.
type CGEntry struct {
	Version LV
	VEnd    LV
	Agent   AgentID
	Seq     int
	Parents Frontier
}

func (e CGEntry) Len() int    { return int(e.VEnd - e.Version) }
func (e CGEntry) RleKey() int { return int(e.Version) }

func (e CGEntry) CanAppend(other CGEntry) bool {
	return e.Agent == other.Agent &&
		other.Version == e.VEnd &&
		other.Seq == e.Seq+e.Len() &&
		len(other.Parents) == 1 && other.Parents[0] == e.VEnd-1
}

func (e CGEntry) Append(other CGEntry) CGEntry {
	e.VEnd = other.VEnd
	return e
}

func (e CGEntry) SplitAt(at int) (left, right CGEntry) {
	left = e
	left.VEnd = e.Version + LV(at)
	right = CGEntry{
		Version: e.Version + LV(at),
		VEnd:    e.VEnd,
		Agent:   e.Agent,
		Seq:     e.Seq + at,
		Parents: Frontier{e.Version + LV(at) - 1},
	}
	return left, right
}

// CausalGraph holds the entire causal graph structure: a DAG over LV
// ranges, plus the bidirectional agent-assignment mapping.
type CausalGraph struct {
	// Heads is the current global version frontier.
	Heads Frontier
	// entries maps local versions to their causal-graph metadata, packed.
	entries *rle.RleVec[CGEntry]
	// Assignment is the agent <-> LV bijection.
	Assignment *AgentAssignment
	// NextLV is the next available local version to assign.
	NextLV LV
}

// VersionSummary maps an agent to a list of [start_seq, end_seq) ranges
// known to be part of some version.
type VersionSummary map[AgentID][][2]int
