// Package oplog implements the text operation log: a keyed RLE vector of
// operation metrics, a content buffer split by kind, and the clipped/ranged
// iterators that feed the merge package's conflict sub-graph and merge
// plan.
package oplog

import (
	"github.com/cockroachdb/errors"
	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/rle"
)

// OpKind distinguishes an insert from a delete operation.
type OpKind int

const (
	Ins OpKind = iota
	Del
)

func (k OpKind) String() string {
	if k == Ins {
		return "Ins"
	}
	return "Del"
}

// ListOpMetrics is the keyed RLE span describing one contiguously-authored
// run of insert or delete operations, keyed by starting LV.
type ListOpMetrics struct {
	LV LV
	// Loc is the document-position range this run affects.
	Loc LocRange
	Kind OpKind
	// ContentPos points into the kind-separated content buffer, or nil if
	// no content was stored for this run (e.g. a delete without tombstone
	// retention).
	ContentPos *LocRange
	// Fwd is whether consecutive LVs correspond to increasing (true) or
	// decreasing (false, a backspace run) document positions.
	Fwd bool
}

// LV is a re-export alias of causalgraph.LV, kept local so this package's
// signatures read naturally.
type LV = causalgraph.LV

// LocRange is a half-open range of document positions or content-buffer
// offsets, depending on context.
type LocRange struct {
	Start, End int
}

func (r LocRange) Len() int { return r.End - r.Start }

func (m ListOpMetrics) Len() int    { return m.Loc.Len() }
func (m ListOpMetrics) RleKey() int { return int(m.LV) }

// Run positions are always expressed relative to the document at the
// run's own parents. For a forward insert, consecutive units occupy
// increasing positions; for a forward delete, the covered range names the
// characters removed, so each unit after the first lands back at the
// run's start position once its predecessors have shifted the text left.
// Backspace (fwd=false) runs cover decreasing positions for both kinds.
// The merge and split rules below preserve these frames.
func (m ListOpMetrics) CanAppend(o ListOpMetrics) bool {
	if m.Kind != o.Kind || m.Fwd != o.Fwd || int(o.LV) != int(m.LV)+m.Len() {
		return false
	}
	switch {
	case m.Kind == Ins && m.Fwd:
		if o.Loc.Start != m.Loc.End {
			return false
		}
	case m.Kind == Del && m.Fwd:
		if o.Loc.Start != m.Loc.Start {
			return false
		}
	default:
		if o.Loc.End != m.Loc.Start {
			return false
		}
	}
	if (m.ContentPos == nil) != (o.ContentPos == nil) {
		return false
	}
	if m.ContentPos != nil && o.ContentPos.Start != m.ContentPos.End {
		return false
	}
	return true
}

func (m ListOpMetrics) Append(o ListOpMetrics) ListOpMetrics {
	switch {
	case m.Kind == Ins && m.Fwd:
		m.Loc.End = o.Loc.End
	case m.Kind == Del && m.Fwd:
		m.Loc.End += o.Len()
	default:
		m.Loc.Start = o.Loc.Start
	}
	if m.ContentPos != nil {
		cp := *m.ContentPos
		cp.End = o.ContentPos.End
		m.ContentPos = &cp
	}
	return m
}

// SplitAt splits a run at offset `at` (in operation-count units),
// keeping each half's Loc valid in its own parent frame.
func (m ListOpMetrics) SplitAt(at int) (left, right ListOpMetrics) {
	left, right = m, m
	right.LV = m.LV + LV(at)

	switch {
	case m.Kind == Ins && m.Fwd:
		mid := m.Loc.Start + at
		left.Loc = LocRange{m.Loc.Start, mid}
		right.Loc = LocRange{mid, m.Loc.End}
	case m.Kind == Del && m.Fwd:
		left.Loc = LocRange{m.Loc.Start, m.Loc.Start + at}
		right.Loc = LocRange{m.Loc.Start, m.Loc.End - at}
	default:
		mid := m.Loc.End - at
		left.Loc = LocRange{mid, m.Loc.End}
		right.Loc = LocRange{m.Loc.Start, mid}
	}

	if m.ContentPos != nil {
		if m.Kind == Del && !m.Fwd {
			// Content is stored in document order; the first units of a
			// backspace run removed the last stored characters.
			lcp := LocRange{m.ContentPos.End - at, m.ContentPos.End}
			rcp := LocRange{m.ContentPos.Start, m.ContentPos.End - at}
			left.ContentPos, right.ContentPos = &lcp, &rcp
		} else {
			lcp := LocRange{m.ContentPos.Start, m.ContentPos.Start + at}
			rcp := LocRange{m.ContentPos.Start + at, m.ContentPos.End}
			left.ContentPos, right.ContentPos = &lcp, &rcp
		}
	}
	return left, right
}

// OperationCtx holds the raw content bytes for insert and delete
// operations, indexed by each ListOpMetrics.ContentPos.
type OperationCtx struct {
	InsContent []byte
	DelContent []byte
}

// GetContent resolves m's content_pos against ctx, returning ("", false) if
// m carries no stored content.
func (ctx *OperationCtx) GetContent(m ListOpMetrics) (string, bool) {
	if m.ContentPos == nil {
		return "", false
	}
	buf := ctx.InsContent
	if m.Kind == Del {
		buf = ctx.DelContent
	}
	if m.ContentPos.End > len(buf) {
		return "", false
	}
	return string(buf[m.ContentPos.Start:m.ContentPos.End]), true
}

// AppendIns records content for a new insert run and returns its
// ContentPos.
func (ctx *OperationCtx) AppendIns(content string) LocRange {
	start := len(ctx.InsContent)
	ctx.InsContent = append(ctx.InsContent, content...)
	return LocRange{start, len(ctx.InsContent)}
}

// AppendDel records content for a new delete run (if the caller retains
// tombstone text) and returns its ContentPos.
func (ctx *OperationCtx) AppendDel(content string) LocRange {
	start := len(ctx.DelContent)
	ctx.DelContent = append(ctx.DelContent, content...)
	return LocRange{start, len(ctx.DelContent)}
}

// TextOperation is the externally-visible form of one run: position,
// kind, and resolved content.
type TextOperation struct {
	Pos     int
	Kind    OpKind
	Content string
	HasContent bool
}

// ListOpLog is the append-only operation log: a keyed RLE vector of
// metrics plus the content buffers they reference.
type ListOpLog struct {
	Entries *rle.RleVec[ListOpMetrics]
	Ctx     OperationCtx
}

// New returns an empty ListOpLog.
func New() *ListOpLog {
	return &ListOpLog{Entries: rle.New[ListOpMetrics]()}
}

// Len returns the number of LVs recorded in the log.
func (l *ListOpLog) Len() int { return l.Entries.End() }

// AddInsert appends an insert run of content at document position pos,
// returning the LV range assigned to it. fwd=false is accepted only for a
// single character; the run is recorded as a forward run either way.
func (l *ListOpLog) AddInsert(pos int, content string, fwd bool) (LVRange, error) {
	n := len([]rune(content))
	if n == 0 {
		return LVRange{}, errors.Newf("oplog: empty insert content")
	}
	if !fwd && n > 1 {
		return LVRange{}, errors.Newf("oplog: reverse (fwd=false) insert with length %d > 1 is unsupported; semantics are undefined for backwards multi-char inserts", n)
	}
	cp := l.Ctx.AppendIns(content)
	start := LV(l.Len())
	l.Entries.Push(ListOpMetrics{
		LV:         start,
		Loc:        LocRange{pos, pos + n},
		Kind:       Ins,
		ContentPos: &cp,
		Fwd:        true,
	})
	return LVRange{Start: start, End: start + LV(n)}, nil
}

// AddDelete appends a delete run covering document positions [pos,
// pos+length), returning the assigned LV range. fwd=false records a
// backspace-style delete (decreasing positions); content, if retained, is
// stored in document (not traversal) order.
func (l *ListOpLog) AddDelete(pos, length int, content string, fwd bool) (LVRange, error) {
	if length <= 0 {
		return LVRange{}, errors.Newf("oplog: delete length must be positive, got %d", length)
	}
	var cpPtr *LocRange
	if content != "" {
		cp := l.Ctx.AppendDel(content)
		cpPtr = &cp
	}
	start := LV(l.Len())
	l.Entries.Push(ListOpMetrics{
		LV:         start,
		Loc:        LocRange{pos, pos + length},
		Kind:       Del,
		ContentPos: cpPtr,
		Fwd:        fwd,
	})
	return LVRange{Start: start, End: start + LV(length)}, nil
}

// LVRange is a half-open LV range, shared with the causal graph so the two
// packages' spans interoperate without conversion.
type LVRange = causalgraph.LVRange
