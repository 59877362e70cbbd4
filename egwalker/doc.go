// Package egwalker is the top-level API of the collaborative text merge
// engine: an append-only operation log with a causal graph, plus checkout
// and merge entry points that replay history through the merge package's
// tracker.
package egwalker

import (
	"unicode/utf8"

	"github.com/brunoga/deep"
	"github.com/cockroachdb/errors"

	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/merge"
	"github.com/egwalker/merge/oplog"
)

type (
	LV       = causalgraph.LV
	Frontier = causalgraph.Frontier
)

// Rope is the host-supplied text buffer merges write into.
type Rope = merge.Rope

// Doc holds a document's full editing history: the operation log and the
// causal graph over it. The two assign local versions in lockstep, so an
// oplog run's key is its causal-graph span.
type Doc struct {
	CG   *causalgraph.CausalGraph
	Ops  *oplog.ListOpLog
	Opts merge.MergeOptions
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{
		CG:   causalgraph.CreateCG(),
		Ops:  oplog.New(),
		Opts: merge.DefaultMergeOptions(),
	}
}

// Len returns the number of unit operations recorded.
func (d *Doc) Len() int { return d.Ops.Len() }

// GetVersion returns the document's current frontier.
func (d *Doc) GetVersion() Frontier {
	return append(Frontier(nil), d.CG.Heads...)
}

func (d *Doc) addToGraph(agent string, parents Frontier, length int) error {
	id := causalgraph.AgentID(agent)
	seq := causalgraph.NextSeqForAgent(d.CG, id)
	var rawParents []causalgraph.RawVersion
	if parents != nil {
		var err error
		rawParents, err = causalgraph.LVToRawList(d.CG, parents)
		if err != nil {
			return errors.Wrap(err, "egwalker: unknown parent version")
		}
		if rawParents == nil {
			rawParents = []causalgraph.RawVersion{}
		}
	}
	_, err := causalgraph.AddRaw(d.CG, causalgraph.RawVersion{Agent: id, Seq: seq}, length, rawParents)
	return err
}

// AddInsertAt appends an insert of content at document position pos, with
// the given parent frontier (nil means the current heads). Returns the
// last LV of the new run.
func (d *Doc) AddInsertAt(agent string, parents Frontier, pos int, content string) (LV, error) {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return -1, errors.Newf("egwalker: empty insert content")
	}
	if err := d.addToGraph(agent, parents, n); err != nil {
		return -1, err
	}
	r, err := d.Ops.AddInsert(pos, content, true)
	if err != nil {
		return -1, err
	}
	return r.End - 1, nil
}

// AddInsert appends an insert parented on the current heads.
func (d *Doc) AddInsert(agent string, pos int, content string) (LV, error) {
	return d.AddInsertAt(agent, nil, pos, content)
}

// AddDeleteAt appends a delete of positions [start, end), with the given
// parent frontier (nil means the current heads). Returns the last LV of
// the new run.
func (d *Doc) AddDeleteAt(agent string, parents Frontier, start, end int) (LV, error) {
	if end <= start {
		return -1, errors.Newf("egwalker: empty delete range [%d, %d)", start, end)
	}
	if err := d.addToGraph(agent, parents, end-start); err != nil {
		return -1, err
	}
	r, err := d.Ops.AddDelete(start, end-start, "", true)
	if err != nil {
		return -1, err
	}
	return r.End - 1, nil
}

// AddDelete appends a delete parented on the current heads.
func (d *Doc) AddDelete(agent string, start, end int) (LV, error) {
	return d.AddDeleteAt(agent, nil, start, end)
}

// MergeInto merges everything reachable from mergeFrontier into rope,
// which must hold the document at from. Returns the merged frontier.
func (d *Doc) MergeInto(rope Rope, from, mergeFrontier Frontier) (Frontier, error) {
	return merge.MergeInto(rope, d.CG, d.Ops, from, mergeFrontier, &d.Opts)
}

// Branch is a checked-out snapshot of the document at a version.
type Branch struct {
	Content string
	Version Frontier
}

// Clone returns an independent deep copy of the branch.
func (b *Branch) Clone() *Branch {
	c := deep.MustCopy(*b)
	return &c
}

// Checkout reconstructs the document at version (nil means the current
// heads) by merging the full history into an empty buffer.
func (d *Doc) Checkout(version Frontier) (*Branch, error) {
	if version == nil {
		version = d.GetVersion()
	}
	buf := NewRuneBuffer("")
	final, err := d.MergeInto(buf, nil, version)
	if err != nil {
		return nil, err
	}
	return &Branch{Content: buf.String(), Version: final}, nil
}

// Content returns the document text at the current heads.
func (d *Doc) Content() (string, error) {
	b, err := d.Checkout(nil)
	if err != nil {
		return "", err
	}
	return b.Content, nil
}

// String renders the document at the current heads, panicking on a broken
// history. Use Content for the error-returning form.
func (d *Doc) String() string {
	s, err := d.Content()
	if err != nil {
		panic(err)
	}
	return s
}

// Fork returns an independent deep copy of the document, sharing no
// state; the copy may diverge freely.
func (d *Doc) Fork() *Doc {
	return deep.MustCopy(d)
}

// OpsSince returns the operations that happened after version, in
// causal-traversal order: what a host that last saw `version` needs to
// catch up.
func (d *Doc) OpsSince(version Frontier) ([]oplog.TextOperation, error) {
	summary, err := causalgraph.SummarizeVersion(d.CG, version)
	if err != nil {
		return nil, err
	}
	ranges, err := causalgraph.Diff(d.CG, d.CG.Heads, summary)
	if err != nil {
		return nil, err
	}
	rev := make([]oplog.LVRange, len(ranges))
	for i, r := range ranges {
		rev[len(ranges)-1-i] = r
	}
	return d.Ops.IterRangeSince(rev), nil
}

// ChunkedOps groups the log into per-(agent, causal span) batches.
func (d *Doc) ChunkedOps() []oplog.FullEntry {
	return d.Ops.AsChunkedOperationVec(d.CG)
}
