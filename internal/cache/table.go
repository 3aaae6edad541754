package cache

// nilRef marks the absence of a neighbour or an empty list end.
const nilRef int32 = -1

// node is one slot of the table arena.
type node struct {
	entry
	prev, next int32
}

// table is an ordered map from key to entry, ordered by recency of use.
//
// Nodes live in a single slice and link to each other by index, so moving a
// node to the tail or dropping the head is O(1) and does not allocate once
// the arena has grown to the store's capacity. Freed slots are recycled
// through a free list.
//
// Head (front) is the least recently used entry and the next eviction
// candidate. Tail (back) is the most recently used one.
//
// A *node obtained from the table is only valid until the next insert, which
// may grow the arena.
type table struct {
	nodes []node
	free  []int32
	index map[string]int32
	head  int32
	tail  int32
}

func newTable(sizeHint int) *table {
	const maxPrealloc = 1024
	if sizeHint > maxPrealloc {
		sizeHint = maxPrealloc
	}
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &table{
		nodes: make([]node, 0, sizeHint),
		index: make(map[string]int32, sizeHint),
		head:  nilRef,
		tail:  nilRef,
	}
}

func (t *table) len() int {
	return len(t.index)
}

func (t *table) lookup(key string) (int32, bool) {
	ref, ok := t.index[key]
	return ref, ok
}

func (t *table) at(ref int32) *node {
	return &t.nodes[ref]
}

// front returns the least recently used node.
func (t *table) front() (int32, bool) {
	return t.head, t.head != nilRef
}

// pushBack inserts e as the most recently used entry.
//
// The caller must make sure e.key is not already present.
func (t *table) pushBack(e entry) int32 {
	var ref int32
	if n := len(t.free); n > 0 {
		ref = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.nodes = append(t.nodes, node{})
		ref = int32(len(t.nodes) - 1)
	}
	t.nodes[ref] = node{entry: e, prev: nilRef, next: nilRef}
	t.linkBack(ref)
	t.index[e.key] = ref
	return ref
}

// moveToBack marks ref as the most recently used entry.
func (t *table) moveToBack(ref int32) {
	if t.tail == ref {
		return
	}
	t.unlink(ref)
	t.linkBack(ref)
}

// remove drops ref from the table and returns its entry.
func (t *table) remove(ref int32) entry {
	n := &t.nodes[ref]
	e := n.entry
	t.unlink(ref)
	delete(t.index, e.key)
	// Drop references so the arena does not pin evicted payloads.
	t.nodes[ref] = node{prev: nilRef, next: nilRef}
	t.free = append(t.free, ref)
	return e
}

func (t *table) reset() {
	for i := range t.nodes {
		t.nodes[i] = node{}
	}
	t.nodes = t.nodes[:0]
	t.free = t.free[:0]
	clear(t.index)
	t.head, t.tail = nilRef, nilRef
}

// ascend calls fn for every entry from least to most recently used, stopping
// when fn returns false. fn may remove the node it is given.
func (t *table) ascend(fn func(ref int32, n *node) bool) {
	for ref := t.head; ref != nilRef; {
		next := t.nodes[ref].next
		if !fn(ref, &t.nodes[ref]) {
			return
		}
		ref = next
	}
}

// descend is ascend in reverse: most to least recently used.
func (t *table) descend(fn func(ref int32, n *node) bool) {
	for ref := t.tail; ref != nilRef; {
		prev := t.nodes[ref].prev
		if !fn(ref, &t.nodes[ref]) {
			return
		}
		ref = prev
	}
}

func (t *table) linkBack(ref int32) {
	n := &t.nodes[ref]
	n.prev, n.next = t.tail, nilRef
	if t.tail != nilRef {
		t.nodes[t.tail].next = ref
	} else {
		t.head = ref
	}
	t.tail = ref
}

func (t *table) unlink(ref int32) {
	n := &t.nodes[ref]
	if n.prev != nilRef {
		t.nodes[n.prev].next = n.next
	} else {
		t.head = n.next
	}
	if n.next != nilRef {
		t.nodes[n.next].prev = n.prev
	} else {
		t.tail = n.prev
	}
	n.prev, n.next = nilRef, nilRef
}
