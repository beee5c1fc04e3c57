// Package htlist implements the intrusive, value-ordered doubly-linked
// list used throughout the kernel to build ready queues, delay lists,
// and wait sets. A Node can belong to at most one List at a time; the
// List's own round-robin cursor doubles as the ready-queue iterator
// described in spec section 4.1, so there is no separate global
// round-robin pointer.
package htlist

// sentinelValue terminates an ordered insert scan without a nil check:
// the scan stops before the first node with a larger key, and a node
// whose key equals the sentinel's is linked last without scanning.
const sentinelValue = 0xFFFFFFFF

// Node is one link in a List. Owner is an opaque back-pointer to the
// entity the node is embedded in (a TCB, typically); htlist never
// dereferences it.
type Node struct {
	Value     uint32
	next      *Node
	prev      *Node
	owner     any
	container *List
}

// NewNode returns a Node owned by owner, not yet linked into any list.
func NewNode(owner any) *Node {
	return &Node{owner: owner}
}

// Owner returns the node's owner back-pointer.
func (n *Node) Owner() any { return n.owner }

// ItemValue returns the key under which this node is currently ordered.
func (n *Node) ItemValue() uint32 { return n.Value }

// Linked reports whether the node is currently a member of a list.
func (n *Node) Linked() bool { return n.container != nil }

// Container returns the list the node is linked into, or nil.
func (n *Node) Container() *List { return n.container }

// List is a circular, value-ordered doubly-linked list with a sentinel
// end node and a cursor used for round-robin iteration within a
// priority band.
type List struct {
	count  int
	cursor *Node
	end    Node
}

// New returns an empty, initialized List.
func New() *List {
	l := &List{}
	l.end.Value = sentinelValue
	l.end.next = &l.end
	l.end.prev = &l.end
	l.cursor = &l.end
	return l
}

// Len returns the number of nodes currently linked into the list.
func (l *List) Len() int { return l.count }

// Insert links n into the list in ascending Value order; ties are
// broken by insertion order (new node goes after existing equal
// values), which gives FIFO semantics to round-robin scans.
func (l *List) Insert(n *Node) {
	it := &l.end
	if n.Value == sentinelValue {
		it = l.end.prev
	} else {
		for it.next.Value <= n.Value {
			it = it.next
		}
	}
	n.next = it.next
	n.prev = it
	it.next.prev = n
	it.next = n
	n.container = l
	l.count++
}

// InsertEnd links n at the tail of the list regardless of Value,
// giving plain FIFO order. Used for ready lists, where every node in
// the same list shares a priority and round-robins in arrival order.
func (l *List) InsertEnd(n *Node) {
	last := l.end.prev
	n.next = &l.end
	n.prev = last
	last.next = n
	l.end.prev = n
	n.container = l
	l.count++
}

// Remove unlinks n from whatever list it belongs to. It is a no-op if
// n is not currently linked, making removal idempotent as required by
// the at-most-one-list invariant.
func Remove(n *Node) {
	if n.container == nil {
		return
	}
	l := n.container
	n.prev.next = n.next
	n.next.prev = n.prev
	if l.cursor == n {
		l.cursor = n.prev
	}
	n.container = nil
	n.next = nil
	n.prev = nil
	l.count--
}

// SetValue updates n's ordering key. If n is linked, it is removed and
// reinserted so the list stays ordered; callers needing FIFO-at-tail
// semantics after a value change should use InsertEnd directly instead.
func (n *Node) SetValue(v uint32) {
	n.Value = v
	if n.container != nil {
		l := n.container
		Remove(n)
		l.Insert(n)
	}
}

// Advance moves the round-robin cursor one step forward and returns
// the owner of the node it now points to, skipping the sentinel. It
// returns nil if the list is empty.
func (l *List) Advance() any {
	if l.count == 0 {
		return nil
	}
	l.cursor = l.cursor.next
	if l.cursor == &l.end {
		l.cursor = l.cursor.next
	}
	return l.cursor.owner
}

// Front returns the owner of the head (lowest-value) node, or nil if
// the list is empty.
func (l *List) Front() any {
	if l.count == 0 {
		return nil
	}
	return l.end.next.owner
}

// FrontNode returns the head node itself, or nil if the list is empty.
func (l *List) FrontNode() *Node {
	if l.count == 0 {
		return nil
	}
	return l.end.next
}

// FrontValue returns the head node's ordering key. Callers must check
// Len() > 0 first; an empty list reports the sentinel value.
func (l *List) FrontValue() uint32 {
	return l.end.next.Value
}

// Empty reports whether the list has no linked nodes.
func (l *List) Empty() bool { return l.count == 0 }
