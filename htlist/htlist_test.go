package htlist

import "testing"

func TestInsertOrdering(t *testing.T) {
	l := New()
	a := NewNode("a")
	a.Value = 30
	b := NewNode("b")
	b.Value = 10
	c := NewNode("c")
	c.Value = 20

	l.Insert(a)
	l.Insert(b)
	l.Insert(c)

	want := []string{"b", "c", "a"}
	got := make([]string, 0, 3)
	for n := l.end.next; n != &l.end; n = n.next {
		got = append(got, n.owner.(string))
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v, want %v", i, got, want)
		}
	}
}

func TestRemoveIdempotent(t *testing.T) {
	l := New()
	n := NewNode(1)
	l.InsertEnd(n)
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	Remove(n)
	if l.Len() != 0 {
		t.Fatalf("len = %d, want 0 after remove", l.Len())
	}
	if n.Linked() {
		t.Fatalf("node still reports linked after remove")
	}
	// Removing again must be a no-op, not a panic or double-decrement.
	Remove(n)
	if l.Len() != 0 {
		t.Fatalf("len = %d after double remove, want 0", l.Len())
	}
}

func TestAtMostOneList(t *testing.T) {
	l1 := New()
	l2 := New()
	n := NewNode(nil)
	l1.InsertEnd(n)
	if n.Container() != l1 {
		t.Fatalf("container = %v, want l1", n.Container())
	}
	Remove(n)
	l2.InsertEnd(n)
	if n.Container() != l2 {
		t.Fatalf("container = %v, want l2", n.Container())
	}
	if l1.Len() != 0 || l2.Len() != 1 {
		t.Fatalf("l1.Len=%d l2.Len=%d, want 0,1", l1.Len(), l2.Len())
	}
}

func TestRoundRobinAdvance(t *testing.T) {
	l := New()
	a, b, c := NewNode("a"), NewNode("b"), NewNode("c")
	l.InsertEnd(a)
	l.InsertEnd(b)
	l.InsertEnd(c)

	seen := []any{l.Advance(), l.Advance(), l.Advance(), l.Advance()}
	want := []any{"a", "b", "c", "a"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("advance %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestAdvanceSkipsRemovedCursorNode(t *testing.T) {
	l := New()
	a, b := NewNode("a"), NewNode("b")
	l.InsertEnd(a)
	l.InsertEnd(b)
	l.Advance() // cursor -> a
	Remove(a)
	if got := l.Advance(); got != "b" {
		t.Fatalf("advance after removing cursor node = %v, want b", got)
	}
}

func TestFrontValueOrdering(t *testing.T) {
	l := New()
	n1 := NewNode("late")
	n1.Value = 100
	n2 := NewNode("early")
	n2.Value = 5
	l.Insert(n1)
	l.Insert(n2)
	if got := l.Front(); got != "early" {
		t.Fatalf("front = %v, want early", got)
	}
	if l.FrontValue() != 5 {
		t.Fatalf("front value = %d, want 5", l.FrontValue())
	}
}
