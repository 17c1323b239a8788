// Package graph implements the root's authoritative network graph: a
// tree of known participants, each marked alive or dead, with
// BFS-based neighbor selection and subtree takedown.
//
// This plays the role the teacher's KademliaTable plays for routing —
// a self-contained in-memory table keyed by an identifier, touched via
// Update-style calls as peers are seen — generalized from "XOR-nearest
// peer for a destination ID" to "shallowest open slot for a newcomer".
package graph

import (
	"fmt"
	"sync"

	"canopy/internal/addr"
)

// maxChildren bounds the tree's branching factor at 2, which together
// with BFS insertion keeps depth at ceil(log2(N)).
const maxChildren = 2

// node is one participant record in the tree.
type node struct {
	addr     addr.Address
	alive    bool
	parent   *node
	children []*node
}

// Graph is the root's tree of participants, rooted at the address
// passed to New. A Graph is safe for concurrent use.
type Graph struct {
	mu     sync.Mutex
	root   *node
	byAddr map[addr.Address]*node
}

// New creates a Graph containing only the root, marked alive.
func New(root addr.Address) *Graph {
	r := &node{addr: root, alive: true}
	return &Graph{
		root:   r,
		byAddr: map[addr.Address]*node{root: r},
	}
}

// Contains reports whether a is a known participant (alive or dead).
func (g *Graph) Contains(a addr.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byAddr[a]
	return ok
}

// FindLiveNode returns the best neighbor for a newcomer at requester:
// a BFS from the root, returning the first node visited with fewer
// than two children. If requester is already present in the tree, it
// and its entire subtree are excluded from consideration. Reports
// false if no eligible node exists (every visited node is either
// requester's subtree or already has two children).
func (g *Graph) FindLiveNode(requester addr.Address) (addr.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	excluded := g.subtreeSet(requester)

	queue := []*node{g.root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if excluded[n.addr] {
			continue
		}
		if len(n.children) < maxChildren {
			return n.addr, true
		}
		queue = append(queue, n.children...)
	}
	return addr.Zero, false
}

// subtreeSet returns the set of addresses comprising requester and
// every descendant of requester, or an empty set if requester is not
// in the tree.
func (g *Graph) subtreeSet(requester addr.Address) map[addr.Address]bool {
	start, ok := g.byAddr[requester]
	if !ok {
		return nil
	}
	out := make(map[addr.Address]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out[n.addr] = true
		stack = append(stack, n.children...)
	}
	return out
}

// AddChild inserts child as a new, alive child of parent. Returns an
// error if parent is not a known node or parent already has two
// children.
//
// If child is already present in the graph (the re-advertise-after-
// reunion-failure case, §4.4), the old record is left exactly where
// it is — still referenced by its old parent's children slice — and a
// second record for the same address is linked under the new parent.
// find_live_node's subtree exclusion means this can only happen when
// the root chooses to re-place an address it still otherwise
// considers live; source and spec both leave the stale reference
// undetached rather than prescribing a takedown.
func (g *Graph) AddChild(parent, child addr.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.byAddr[parent]
	if !ok {
		return fmt.Errorf("graph: unknown parent %s", parent)
	}
	if len(p.children) >= maxChildren {
		return fmt.Errorf("graph: parent %s already has %d children", parent, maxChildren)
	}

	c := &node{addr: child, alive: true, parent: p}
	p.children = append(p.children, c)
	g.byAddr[child] = c
	return nil
}

// MarkAlive marks a known node alive. A no-op if a is unknown.
func (g *Graph) MarkAlive(a addr.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.byAddr[a]; ok {
		n.alive = true
	}
}

// MarkDead marks a known node dead. A no-op if a is unknown.
func (g *Graph) MarkDead(a addr.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.byAddr[a]; ok {
		n.alive = false
	}
}

// IsAlive reports a's liveness. Reports false for an unknown address.
func (g *Graph) IsAlive(a addr.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byAddr[a]
	return ok && n.alive
}

// RemoveSubtree marks a and every descendant of a dead, in BFS order,
// then deletes them from the graph entirely so that a subsequent
// FindLiveNode never reconsiders them. Returns the removed addresses
// in the order they were marked dead. A no-op (returns nil) if a is
// unknown or a is the root.
func (g *Graph) RemoveSubtree(a addr.Address) []addr.Address {
	g.mu.Lock()
	defer g.mu.Unlock()

	start, ok := g.byAddr[a]
	if !ok || start == g.root {
		return nil
	}

	var removed []addr.Address
	queue := []*node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		n.alive = false
		removed = append(removed, n.addr)
		queue = append(queue, n.children...)
	}

	if start.parent != nil {
		siblings := start.parent.children[:0]
		for _, c := range start.parent.children {
			if c != start {
				siblings = append(siblings, c)
			}
		}
		start.parent.children = siblings
	}
	for _, a := range removed {
		delete(g.byAddr, a)
	}

	return removed
}
