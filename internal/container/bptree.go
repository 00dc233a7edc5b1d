package container

// BPlusTree is a B+ tree keyed by uint64 with fixed fanout K=8, leaves
// linked for in-order iteration; an overfull node splits at index len/2
// whatever position the new key went to, so splits are not biased toward
// the insertion side (spec §4.3, ground on ubtree.c's bplusnewnode/bpluscleave/
// bplusinsertleaf with UNC_BTREE_K=8). internal/quad.Function.Labels is one
// of these: label ids are assigned in monotonically increasing order as the
// compiler places them, and internal/bytecode's two-pass emitter walks the
// finished tree in order to turn each label id into a byte offset without
// rescanning the quad list.
const bpFanout = 8

type bpNode struct {
	leaf     bool
	keys     []uint64
	children []*bpNode // len(keys)+1 for internal nodes
	values   []interface{} // len(keys) for leaves
	next     *bpNode       // leaf linked list
}

type BPlusTree struct {
	root *bpNode
	size int
}

func NewBPlusTree() *BPlusTree {
	return &BPlusTree{root: &bpNode{leaf: true}}
}

func (t *BPlusTree) Len() int { return t.size }

func (t *BPlusTree) Get(key uint64) (interface{}, bool) {
	n := t.root
	for !n.leaf {
		i := upperBound(n.keys, key)
		n = n.children[i]
	}
	i := lowerBound(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return n.values[i], true
	}
	return nil, false
}

func (t *BPlusTree) Put(key uint64, val interface{}) {
	root, split := t.insert(t.root, key, val)
	if split != nil {
		newRoot := &bpNode{
			keys:     []uint64{split.key},
			children: []*bpNode{root, split.right},
		}
		t.root = newRoot
	}
}

type splitResult struct {
	key   uint64
	right *bpNode
}

func (t *BPlusTree) insert(n *bpNode, key uint64, val interface{}) (*bpNode, *splitResult) {
	if n.leaf {
		i := lowerBound(n.keys, key)
		if i < len(n.keys) && n.keys[i] == key {
			n.values[i] = val
			return n, nil
		}
		n.keys = insertAtU64(n.keys, i, key)
		n.values = insertAtAny(n.values, i, val)
		t.size++
		if len(n.keys) <= bpFanout {
			return n, nil
		}
		return n, t.splitLeaf(n)
	}

	i := upperBound(n.keys, key)
	child, split := t.insert(n.children[i], key, val)
	n.children[i] = child
	if split == nil {
		return n, nil
	}
	n.keys = insertAtU64(n.keys, i, split.key)
	n.children = insertAtNode(n.children, i+1, split.right)
	if len(n.keys) <= bpFanout {
		return n, nil
	}
	return n, t.splitInternal(n)
}

// splitLeaf splits an overfull leaf at index len/2, whatever position the
// new key was inserted at: the right half (including the midpoint) is
// moved into a new leaf node linked after n.
func (t *BPlusTree) splitLeaf(n *bpNode) *splitResult {
	mid := len(n.keys) / 2
	right := &bpNode{
		leaf:   true,
		keys:   append([]uint64(nil), n.keys[mid:]...),
		values: append([]interface{}(nil), n.values[mid:]...),
		next:   n.next,
	}
	n.keys = n.keys[:mid]
	n.values = n.values[:mid]
	n.next = right
	return &splitResult{key: right.keys[0], right: right}
}

func (t *BPlusTree) splitInternal(n *bpNode) *splitResult {
	mid := len(n.keys) / 2
	upKey := n.keys[mid]
	right := &bpNode{
		keys:     append([]uint64(nil), n.keys[mid+1:]...),
		children: append([]*bpNode(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	return &splitResult{key: upKey, right: right}
}

// Iterate walks every key in order via the leaf linked list.
func (t *BPlusTree) Iterate(fn func(key uint64, val interface{})) {
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	for n != nil {
		for i, k := range n.keys {
			fn(k, n.values[i])
		}
		n = n.next
	}
}

func lowerBound(keys []uint64, key uint64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func upperBound(keys []uint64, key uint64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertAtU64(s []uint64, i int, v uint64) []uint64 {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertAtAny(s []interface{}, i int, v interface{}) []interface{} {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertAtNode(s []*bpNode, i int, v *bpNode) []*bpNode {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
