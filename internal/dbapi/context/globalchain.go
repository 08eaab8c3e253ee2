package context

import "sync"

// globalNode is one entry of the Global Context Chain (§3, §4.D): modules
// loaded with the same physical name under a GlobContext capability share a
// single backing object, refcounted across loads.
type globalNode struct {
	name     string
	refcount int
	backref  interface{}
	next     *globalNode
}

// GlobalChain is the process-wide, singly-linked list of global-context
// nodes. Every operation (Adopt, Release, Sweep, Len) runs under one
// mutex: insertion is at the head and deletion walks the list, both inside
// that critical section. There is no lock-free read path.
type GlobalChain struct {
	mu   sync.Mutex
	head *globalNode
}

// NewGlobalChain returns an empty chain.
func NewGlobalChain() *GlobalChain { return &GlobalChain{} }

// Adopt finds or creates the node named name, increments its refcount, and
// returns it. Node creation is atomic with respect to other Adopt/Release
// calls (§3 "node creation is atomic").
func (g *GlobalChain) Adopt(name string, backref interface{}) *globalNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	for n := g.head; n != nil; n = n.next {
		if n.name == name {
			n.refcount++
			if n.backref == nil {
				n.backref = backref
			}
			return n
		}
	}

	n := &globalNode{name: name, refcount: 1, backref: backref, next: g.head}
	g.head = n
	return n
}

// Release decrements the refcount of the node named name. When the
// refcount reaches zero the backing structure is considered destroyed
// (backref cleared); the node itself is only unlinked by Sweep, per §4.D
// "Empty-text nodes with no backref are garbage-collected during session
// end" — i.e. collection is a separate, deferred step from refcount
// reaching zero.
func (g *GlobalChain) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for n := g.head; n != nil; n = n.next {
		if n.name == name {
			if n.refcount > 0 {
				n.refcount--
			}
			if n.refcount == 0 {
				n.backref = nil
			}
			return
		}
	}
}

// Sweep removes every node with a zero refcount and no backref, per §4.D.
// Called at session end.
func (g *GlobalChain) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	var prev *globalNode
	for n := g.head; n != nil; {
		next := n.next
		if n.refcount == 0 && n.backref == nil {
			if prev == nil {
				g.head = next
			} else {
				prev.next = next
			}
		} else {
			prev = n
		}
		n = next
	}
}

// Len reports the number of live nodes, for diagnostics and tests.
func (g *GlobalChain) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for c := g.head; c != nil; c = c.next {
		n++
	}
	return n
}
