// Package session implements the balanced binary search tree the transport
// and presentation layers key by port-id to find (or create) the session
// serving a given subject or service, per spec.md section 4.6. The tree is
// an intrusive AVL tree ported from soypat/go-canard's avl.go — itself a
// line-for-line Go port of libcanard's own AVL implementation — generalised
// from that package's hardcoded *Sub payload to an arbitrary generic value.
// No operation panics: removing a nil node is a no-op.
package session

import "github.com/OpenCyphal/libuavcan/types"

// Node is one entry in a Tree, keyed by PortID.
type Node[V any] struct {
	up *Node[V]
	lr [2]*Node[V]
	bf int8

	Key   types.PortID
	Value V
}

// Tree is a balanced BST mapping PortID to a session value; trees for
// message, request and response sessions are kept separate by the owner
// (spec.md section 4.6: "three separate trees").
type Tree[V any] struct {
	root *Node[V]
	size int
}

// Len returns the number of nodes currently in the tree.
func (t *Tree[V]) Len() int { return t.size }

// Find returns the node keyed by key, if any.
func (t *Tree[V]) Find(key types.PortID) (*Node[V], bool) {
	n := t.root
	for n != nil {
		switch {
		case key == n.Key:
			return n, true
		case key < n.Key:
			n = n.lr[0]
		default:
			n = n.lr[1]
		}
	}
	return nil, false
}

// EnsureNew returns the existing node for key, or creates one with value()
// and inserts it, rebalancing the tree. created reports which happened.
func (t *Tree[V]) EnsureNew(key types.PortID, value func() V) (node *Node[V], created bool) {
	if t.root == nil {
		n := &Node[V]{Key: key, Value: value()}
		t.root = n
		t.size++
		return n, true
	}

	n := t.root
	var up *Node[V]
	dir := 0
	for n != nil {
		if key == n.Key {
			return n, false
		}
		up = n
		if key < n.Key {
			dir = 0
		} else {
			dir = 1
		}
		n = n.lr[dir]
	}

	out := &Node[V]{Key: key, Value: value(), up: up}
	up.lr[dir] = out
	t.size++

	if rt := retraceOnGrowth(out); rt != nil {
		t.root = rt
	}
	return out, true
}

// Remove deletes n from the tree, rebalancing afterward. n must belong to
// this tree (the caller always holds it from a prior Find/EnsureNew call).
func (t *Tree[V]) Remove(n *Node[V]) {
	if n == nil {
		return
	}
	t.size--
	removeNode(&t.root, n)
}

// ForEach visits every node in ascending key order.
func (t *Tree[V]) ForEach(fn func(*Node[V])) {
	inorder(t.root, fn)
}

func inorder[V any](n *Node[V], fn func(*Node[V])) {
	if n == nil {
		return
	}
	inorder(n.lr[0], fn)
	fn(n)
	inorder(n.lr[1], fn)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func bsign(b bool) int8 {
	if b {
		return 1
	}
	return -1
}

// retraceOnGrowth walks up from a freshly inserted leaf, rebalancing, and
// returns the new subtree root if the overall root changed.
func retraceOnGrowth[V any](added *Node[V]) *Node[V] {
	c := added
	p := added.up
	for p != nil {
		r := p.lr[1] == c
		c = adjustBalance(p, r)
		p = c.up
		if c.bf == 0 {
			break
		}
	}
	if p != nil {
		return nil
	}
	return c
}

// adjustBalance updates x's balance factor for a child height change on the
// right (increment) or left side, rotating if the factor goes out of
// [-1, 1]. Returns the node that took x's place in the tree, if rotated.
func adjustBalance[V any](x *Node[V], increment bool) *Node[V] {
	out := x
	newBf := x.bf + 1
	if !increment {
		newBf -= 2
	}
	if newBf >= -1 && newBf <= 1 {
		x.bf = newBf
		return out
	}

	r := newBf < 0 // left-heavy: rotate right
	sign := bsign(r)
	z := x.lr[b2i(!r)]

	if z.bf*sign <= 0 {
		out = z
		rotate(x, r)
		if z.bf == 0 {
			x.bf = -sign
			z.bf = sign
		} else {
			x.bf = 0
			z.bf = 0
		}
	} else {
		y := z.lr[b2i(r)]
		out = y
		rotate(z, !r)
		rotate(x, r)
		switch {
		case y.bf*sign < 0:
			x.bf = sign
			y.bf = 0
			z.bf = 0
		case y.bf*sign > 0:
			x.bf = 0
			y.bf = 0
			z.bf = -sign
		default:
			x.bf = 0
			z.bf = 0
		}
	}
	return out
}

func rotate[V any](x *Node[V], r bool) {
	z := x.lr[b2i(!r)]
	if x.up != nil {
		x.up.lr[b2i(x.up.lr[1] == x)] = z
	}
	z.up = x.up
	x.up = z
	x.lr[b2i(!r)] = z.lr[b2i(r)]
	if x.lr[b2i(!r)] != nil {
		x.lr[b2i(!r)].up = x
	}
	z.lr[b2i(r)] = x
}

func findExtremum[V any](root *Node[V], max bool) *Node[V] {
	var result *Node[V]
	side := b2i(max)
	c := root
	for c != nil {
		result = c
		c = c.lr[side]
	}
	return result
}

func removeNode[V any](root **Node[V], node *Node[V]) {
	var p *Node[V]
	r := 0
	if node.lr[0] != nil && node.lr[1] != nil {
		re := findExtremum(node.lr[1], false)
		re.bf = node.bf
		re.lr[0] = node.lr[0]
		re.lr[0].up = re
		if re.up != node {
			p = re.up
			p.lr[0] = re.lr[1]
			if p.lr[0] != nil {
				p.lr[0].up = p
			}
			re.lr[1] = node.lr[1]
			re.lr[1].up = re
			r = 0
		} else {
			p = re
			r = 1
		}
		re.up = node.up
		if re.up != nil {
			re.up.lr[b2i(re.up.lr[1] == node)] = re
		} else {
			*root = re
		}
	} else {
		p = node.up
		rr := b2i(node.lr[1] != nil)
		if node.lr[rr] != nil {
			node.lr[rr].up = p
		}
		if p != nil {
			r = b2i(p.lr[1] == node)
			p.lr[r] = node.lr[rr]
			if p.lr[r] != nil {
				p.lr[r].up = p
			}
		} else {
			*root = node.lr[rr]
		}
	}
	if p == nil {
		return
	}

	var c *Node[V]
	for {
		c = adjustBalance(p, r != 1)
		p = c.up
		if c.bf != 0 || p == nil {
			break
		}
		r = b2i(p.lr[1] == c)
	}
	if p == nil {
		*root = c
	}
}
