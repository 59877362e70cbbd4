package causalgraph

import (
	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/rle"
)

// MaxAgentNameLength is the maximum length, in UTF-8 bytes, of an agent
// name.
const MaxAgentNameLength = 50

// AgentVersion identifies an operation by (AgentId, seq).
type AgentVersion struct {
	Agent AgentID
	Seq   int
}

// AgentSpan identifies a contiguous run of operations by one agent:
// (AgentId, [seq_start, seq_end)).
type AgentSpan struct {
	Agent    AgentID
	SeqRange LVRange // reused as a generic [start,end) int pair
}

// clientLVSpan is a keyed RLE span mapping an agent's [seq, seq+len) to
// the LV range [Version, Version+len).
type clientLVSpan struct {
	Seq     int
	Len_    int
	Version LV
}

func (c clientLVSpan) Len() int    { return c.Len_ }
func (c clientLVSpan) RleKey() int { return c.Seq }
func (c clientLVSpan) CanAppend(o clientLVSpan) bool {
	return o.Seq == c.Seq+c.Len_ && o.Version == c.Version+LV(c.Len_)
}
func (c clientLVSpan) Append(o clientLVSpan) clientLVSpan {
	c.Len_ += o.Len_
	return c
}
func (c clientLVSpan) SplitAt(at int) (left, right clientLVSpan) {
	left = clientLVSpan{Seq: c.Seq, Len_: at, Version: c.Version}
	right = clientLVSpan{Seq: c.Seq + at, Len_: c.Len_ - at, Version: c.Version + LV(at)}
	return left, right
}

// clientData holds per-agent bookkeeping: its display name, and the keyed
// RLE mapping from its sequence numbers to LVs.
type clientData struct {
	name     AgentID
	lvForSeq *rle.RleVec[clientLVSpan]
}

func (c *clientData) nextSeq() int { return c.lvForSeq.End() }

func (c *clientData) trySeqToLV(seq int) (LV, bool) {
	e, offset, ok := c.lvForSeq.FindWithOffset(seq)
	if !ok {
		return 0, false
	}
	return e.Version + LV(offset), true
}

// agentLVSpan is a keyed RLE span mapping LV ranges back to (agent,
// seq-range): the inverse of clientLVSpan.
type agentLVSpan struct {
	LV       LV
	Len_     int
	Agent    AgentID
	SeqStart int
}

func (a agentLVSpan) Len() int    { return a.Len_ }
func (a agentLVSpan) RleKey() int { return int(a.LV) }
func (a agentLVSpan) CanAppend(o agentLVSpan) bool {
	return a.Agent == o.Agent && int(o.LV) == int(a.LV)+a.Len_ && o.SeqStart == a.SeqStart+a.Len_
}
func (a agentLVSpan) Append(o agentLVSpan) agentLVSpan {
	a.Len_ += o.Len_
	return a
}
func (a agentLVSpan) SplitAt(at int) (left, right agentLVSpan) {
	left = agentLVSpan{LV: a.LV, Len_: at, Agent: a.Agent, SeqStart: a.SeqStart}
	right = agentLVSpan{LV: a.LV + LV(at), Len_: a.Len_ - at, Agent: a.Agent, SeqStart: a.SeqStart + at}
	return left, right
}

// AgentAssignment holds the bijective mapping between LVs and (agent, seq)
// pairs.
type AgentAssignment struct {
	clientWithLocaltime *rle.RleVec[agentLVSpan]
	clients              []*clientData
	clientIndex          map[AgentID]int
}

// NewAgentAssignment returns an empty AgentAssignment.
func NewAgentAssignment() *AgentAssignment {
	return &AgentAssignment{
		clientWithLocaltime: rle.New[agentLVSpan](),
		clientIndex:         make(map[AgentID]int),
	}
}

// GetAgentID returns the existing numeric slot for name, if any.
func (aa *AgentAssignment) GetAgentID(name AgentID) (int, bool) {
	id, ok := aa.clientIndex[name]
	return id, ok
}

// GetOrCreateAgentID returns name's numeric slot, creating one if this is
// the agent's first appearance. Rejects the reserved name "ROOT" and names
// exceeding MaxAgentNameLength bytes.
func (aa *AgentAssignment) GetOrCreateAgentID(name AgentID) (int, error) {
	if name == "ROOT" {
		return -1, errors.Newf("causalgraph: agent name %q is reserved", "ROOT")
	}
	if len(name) > MaxAgentNameLength {
		return -1, errors.Newf("causalgraph: agent name %q exceeds %d UTF-8 bytes", name, MaxAgentNameLength)
	}
	if id, ok := aa.clientIndex[name]; ok {
		return id, nil
	}
	aa.clients = append(aa.clients, &clientData{name: name, lvForSeq: rle.New[clientLVSpan]()})
	id := len(aa.clients) - 1
	aa.clientIndex[name] = id
	return id, nil
}

// GetAgentName returns the agent name for a numeric slot. O(1).
func (aa *AgentAssignment) GetAgentName(id int) AgentID { return aa.clients[id].name }

// Len returns the total number of assigned LVs.
func (aa *AgentAssignment) Len() int { return aa.clientWithLocaltime.End() }

// LocalToAgentVersion maps an LV back to its (agent, seq) identity.
func (aa *AgentAssignment) LocalToAgentVersion(v LV) (AgentVersion, bool) {
	e, offset, ok := aa.clientWithLocaltime.FindWithOffset(int(v))
	if !ok {
		return AgentVersion{}, false
	}
	return AgentVersion{Agent: e.Agent, Seq: e.SeqStart + offset}, true
}

// TryAgentVersionToLV maps (agent, seq) to its LV, if assigned.
func (aa *AgentAssignment) TryAgentVersionToLV(agent AgentID, seq int) (LV, bool) {
	id, ok := aa.clientIndex[agent]
	if !ok {
		return 0, false
	}
	return aa.clients[id].trySeqToLV(seq)
}

// AssignLVToClientNextSeq assigns span (which must start at aa.Len()) to
// agent's next sequence numbers, updating both mappings atomically.
func (aa *AgentAssignment) AssignLVToClientNextSeq(agentID int, span LVRange) error {
	if int(span.Start) != aa.Len() {
		return errors.Newf("causalgraph: assigned span must start at %d, got %d", aa.Len(), span.Start)
	}
	client := aa.clients[agentID]
	nextSeq := client.nextSeq()
	length := span.Len()
	client.lvForSeq.Push(clientLVSpan{Seq: nextSeq, Len_: length, Version: span.Start})
	aa.clientWithLocaltime.Push(agentLVSpan{LV: span.Start, Len_: length, Agent: client.name, SeqStart: nextSeq})
	return nil
}

// LocalSpanToAgentSpan maps an LV range to the (agent, seq-range) of its
// first covered assignment entry, clipped to that entry: the returned span
// may be shorter than the input if the input crosses an agent boundary.
func (aa *AgentAssignment) LocalSpanToAgentSpan(span LVRange) (AgentSpan, bool) {
	e, offset, ok := aa.clientWithLocaltime.FindWithOffset(int(span.Start))
	if !ok {
		return AgentSpan{}, false
	}
	length := e.Len() - offset
	if l := span.Len(); l < length {
		length = l
	}
	seq := e.SeqStart + offset
	return AgentSpan{Agent: e.Agent, SeqRange: LVRange{LV(seq), LV(seq + length)}}, true
}

// TieBreakAgentVersions imposes the total order used to disambiguate
// concurrent operations at the same position: agent name lexicographically,
// then sequence number. LV ordering is never used.
func TieBreakAgentVersions(v1, v2 AgentVersion) int {
	if v1 == v2 {
		return 0
	}
	if v1.Agent != v2.Agent {
		if v1.Agent < v2.Agent {
			return -1
		}
		return 1
	}
	switch {
	case v1.Seq < v2.Seq:
		return -1
	case v1.Seq > v2.Seq:
		return 1
	default:
		return 0
	}
}

// TieBreakVersions breaks ties between two LVs by resolving them to
// AgentVersions first.
func (aa *AgentAssignment) TieBreakVersions(v1, v2 LV) int {
	if v1 == v2 {
		return 0
	}
	av1, _ := aa.LocalToAgentVersion(v1)
	av2, _ := aa.LocalToAgentVersion(v2)
	if av1.Agent != av2.Agent {
		if av1.Agent < av2.Agent {
			return -1
		}
		return 1
	}
	switch {
	case av1.Seq < av2.Seq:
		return -1
	case av1.Seq > av2.Seq:
		return 1
	default:
		return 0
	}
}
