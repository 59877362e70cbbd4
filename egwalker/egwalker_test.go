package egwalker

import (
	"testing"

	"github.com/egwalker/merge/causalgraph"
	"github.com/egwalker/merge/oplog"
)

func mustInsert(t *testing.T, d *Doc, agent string, parents Frontier, pos int, content string) LV {
	t.Helper()
	lv, err := d.AddInsertAt(agent, parents, pos, content)
	if err != nil {
		t.Fatalf("AddInsertAt(%s, %v, %d, %q): %v", agent, parents, pos, content, err)
	}
	return lv
}

func TestNewDocIsEmpty(t *testing.T) {
	d := NewDoc()
	if d.Len() != 0 {
		t.Errorf("expected empty log, got %d ops", d.Len())
	}
	if len(d.GetVersion()) != 0 {
		t.Errorf("expected empty version, got %v", d.GetVersion())
	}
	if got := d.String(); got != "" {
		t.Errorf("empty doc content: got %q", got)
	}
}

func TestLocalEditsRoundTrip(t *testing.T) {
	d := NewDoc()
	lv := mustInsert(t, d, "alice", nil, 0, "hello world")
	if lv != 10 {
		t.Errorf("last LV of an 11-char insert: got %d, want 10", lv)
	}
	if _, err := d.AddDelete("alice", 5, 11); err != nil {
		t.Fatalf("AddDelete: %v", err)
	}
	if got := d.String(); got != "hello" {
		t.Errorf("content: got %q, want %q", got, "hello")
	}
	if _, err := d.AddInsert("alice", 5, "!"); err != nil {
		t.Fatalf("AddInsert: %v", err)
	}
	if got := d.String(); got != "hello!" {
		t.Errorf("content: got %q, want %q", got, "hello!")
	}
}

func TestCheckoutAtOldVersion(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", nil, 0, "abc") // LVs 0..3
	if _, err := d.AddDelete("a", 0, 2); err != nil {
		t.Fatalf("AddDelete: %v", err)
	}

	b, err := d.Checkout(Frontier{2})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if b.Content != "abc" {
		t.Errorf("checkout at [2]: got %q, want %q", b.Content, "abc")
	}

	head, err := d.Checkout(nil)
	if err != nil {
		t.Fatalf("Checkout(nil): %v", err)
	}
	if head.Content != "c" {
		t.Errorf("checkout at heads: got %q, want %q", head.Content, "c")
	}
}

func TestConcurrentEditsConverge(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", Frontier{}, 0, "aaa")
	mustInsert(t, d, "b", Frontier{}, 0, "bbb")
	if got := d.String(); got != "aaabbb" {
		t.Errorf("merged content: got %q, want %q", got, "aaabbb")
	}
}

func TestRejectsReservedAgentName(t *testing.T) {
	d := NewDoc()
	if _, err := d.AddInsert("ROOT", 0, "x"); err == nil {
		t.Error("expected reserved agent name to be rejected")
	}
}

func TestRejectsUnknownParent(t *testing.T) {
	d := NewDoc()
	if _, err := d.AddInsertAt("a", Frontier{42}, 0, "x"); err == nil {
		t.Error("expected unknown parent version to be rejected")
	}
}

func TestForkIsIndependent(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", nil, 0, "shared")

	f := d.Fork()
	mustInsert(t, f, "b", nil, 6, "!")

	if got := d.String(); got != "shared" {
		t.Errorf("original changed by fork edit: %q", got)
	}
	if got := f.String(); got != "shared!" {
		t.Errorf("fork content: got %q, want %q", got, "shared!")
	}
	if d.Len() == f.Len() {
		t.Errorf("fork should have diverged: both have %d ops", d.Len())
	}
}

func TestBranchClone(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", nil, 0, "abc")
	b, err := d.Checkout(nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	c := b.Clone()
	c.Version[0] = 99
	if b.Version[0] == 99 {
		t.Error("clone shares version storage with the original")
	}
}

func TestOpsSince(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", nil, 0, "abc") // 0..3
	mid := d.GetVersion()
	mustInsert(t, d, "a", nil, 3, "de") // 3..5
	if _, err := d.AddDelete("a", 0, 1); err != nil { // 5
		t.Fatalf("AddDelete: %v", err)
	}

	ops, err := d.OpsSince(mid)
	if err != nil {
		t.Fatalf("OpsSince: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("OpsSince: got %d ops, want 2: %+v", len(ops), ops)
	}
	if ops[0].Kind != oplog.Ins || ops[0].Pos != 3 || ops[0].Content != "de" {
		t.Errorf("op 0: got %+v", ops[0])
	}
	if ops[1].Kind != oplog.Del || ops[1].Pos != 0 {
		t.Errorf("op 1: got %+v", ops[1])
	}

	none, err := d.OpsSince(d.GetVersion())
	if err != nil {
		t.Fatalf("OpsSince(heads): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("OpsSince(heads): got %d ops, want 0", len(none))
	}
}

func TestChunkedOpsGroupByAgentAndSpan(t *testing.T) {
	d := NewDoc()
	mustInsert(t, d, "a", Frontier{}, 0, "aaa") // 0..3
	mustInsert(t, d, "b", Frontier{}, 0, "bb")  // 3..5

	chunks := d.ChunkedOps()
	if len(chunks) != 2 {
		t.Fatalf("ChunkedOps: got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].AgentSpan.Agent != causalgraph.AgentID("a") || chunks[0].Span.Len() != 3 {
		t.Errorf("chunk 0: got %+v", chunks[0])
	}
	if chunks[1].AgentSpan.Agent != causalgraph.AgentID("b") || chunks[1].Span.Len() != 2 {
		t.Errorf("chunk 1: got %+v", chunks[1])
	}
	if len(chunks[1].Parents) != 0 {
		t.Errorf("chunk 1 parents: got %v, want root", chunks[1].Parents)
	}
	if len(chunks[0].Ops) != 1 || chunks[0].Ops[0].Content != "aaa" {
		t.Errorf("chunk 0 ops: got %+v", chunks[0].Ops)
	}
}

func TestRuneBuffer(t *testing.T) {
	b := NewRuneBuffer("héllo")
	if b.LenChars() != 5 {
		t.Errorf("LenChars: got %d, want 5", b.LenChars())
	}
	b.Insert(1, "xy")
	if b.String() != "hxyéllo" {
		t.Errorf("after insert: %q", b.String())
	}
	b.Remove(0, 3)
	if b.String() != "éllo" {
		t.Errorf("after remove: %q", b.String())
	}
}
