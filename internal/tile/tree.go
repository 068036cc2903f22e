package tile

import (
	"time"

	"cogentcore.org/core/math32"
)

// Handle is a stable reference to a node slot. It stays valid until the
// node is destroyed; a destroyed slot bumps its generation so old handles
// are detected instead of aliasing a new node.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) IsZero() bool {
	return h.generation == 0
}

type slot struct {
	node       *Node
	generation uint32
}

type detachedChildren struct {
	children []Handle
	at       time.Time
}

// Tree is an arena of quadtree nodes for one dataset. It is not safe for
// concurrent use: only the update loop touches it.
type Tree struct {
	slots        []slot
	free         []uint32
	roots        []Handle
	detached     map[Handle]*detachedChildren
	cleanupDelay time.Duration
	newObject    func() SceneObject
	index        *Index
	live         int
	// gridX and gridY span the roots in level 0 tiles.
	gridX uint32
	gridY uint32
}

type Option func(*Tree)

// WithCleanupDelay sets how long merged children are kept around before
// being destroyed. A subdivision within that window re-attaches them.
func WithCleanupDelay(d time.Duration) Option {
	return func(t *Tree) {
		t.cleanupDelay = d
	}
}

func WithObjectFactory(fn func() SceneObject) Option {
	return func(t *Tree) {
		t.newObject = fn
	}
}

func NewTree(opts ...Option) *Tree {
	t := &Tree{
		detached: make(map[Handle]*detachedChildren),
		newObject: func() SceneObject {
			return NewObject()
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.index = newIndex(t)
	return t
}

func (t *Tree) Index() *Index {
	return t.index
}

// Len returns the number of live nodes, detached ones included.
func (t *Tree) Len() int {
	return t.live
}

func (t *Tree) Roots() []Handle {
	out := make([]Handle, len(t.roots))
	copy(out, t.roots)
	return out
}

func (t *Tree) Get(h Handle) (*Node, bool) {
	if h.IsZero() || int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := t.slots[h.index]
	if s.node == nil || s.generation != h.generation {
		return nil, false
	}
	return s.node, true
}

func (t *Tree) Valid(h Handle) bool {
	_, ok := t.Get(h)
	return ok
}

func (t *Tree) Parent(h Handle) (Handle, bool) {
	n, ok := t.Get(h)
	if !ok {
		return Handle{}, false
	}
	return n.Parent()
}

func (t *Tree) Children(h Handle) []Handle {
	n, ok := t.Get(h)
	if !ok {
		return nil
	}
	return n.Children()
}

// Attached reports whether h is reachable from a root, i.e. neither
// destroyed nor part of a merged subtree waiting for cleanup.
func (t *Tree) Attached(h Handle) bool {
	for {
		n, ok := t.Get(h)
		if !ok {
			return false
		}
		p, hasParent := n.Parent()
		if !hasParent {
			return true
		}
		parent, ok := t.Get(p)
		if !ok || !containsHandle(parent.children, h) {
			return false
		}
		h = p
	}
}

func (t *Tree) AddRoot(coord Coordinate, extent Extent, box math32.Box3, geometricError float32) Handle {
	h := t.alloc(&Node{
		Coord:          coord,
		Extent:         extent,
		Box:            box,
		GeometricError: geometricError,
		Object:         t.newObject(),
	})
	t.roots = append(t.roots, h)
	spanX := coord.X>>coord.Level + 1
	spanY := coord.Y>>coord.Level + 1
	t.gridX = max(t.gridX, spanX)
	t.gridY = max(t.gridY, spanY)
	return h
}

// Subdivide gives h its four children. It is idempotent: on a node that
// already has children it returns them with created == false.
func (t *Tree) Subdivide(h Handle, now time.Time) (children []Handle, created bool) {
	n, ok := t.Get(h)
	if !ok {
		return nil, false
	}
	if n.HasChildren() {
		return n.Children(), false
	}

	if d, ok := t.detached[h]; ok {
		delete(t.detached, h)
		if t.allValid(d.children) {
			n.children = d.children
			return n.Children(), true
		}
		t.destroyAll(d.children)
	}

	extents := n.Extent.Quarter()
	coords := n.Coord.Children()
	n.children = make([]Handle, 0, 4)
	for i := range extents {
		e := extents[i]
		child := &Node{
			Coord:          coords[i],
			Extent:         e,
			Box:            math32.B3(float32(e.MinX()), float32(e.MinY()), n.Box.Min.Z, float32(e.MaxX()), float32(e.MaxY()), n.Box.Max.Z),
			World:          n.World,
			GeometricError: n.GeometricError / 2,
			StateSince:     now,
			Object:         t.newObject(),
			parent:         h,
		}
		n.children = append(n.children, t.alloc(child))
	}
	return n.Children(), true
}

// Merge detaches the children of h. They are hidden immediately and
// destroyed by Collect once the cleanup delay elapsed. Merging a leaf is a
// no-op.
func (t *Tree) Merge(h Handle, now time.Time) bool {
	n, ok := t.Get(h)
	if !ok || !n.HasChildren() {
		return false
	}
	children := n.children
	n.children = nil

	for _, c := range children {
		t.Walk(c, func(_ Handle, d *Node) bool {
			d.SetVisible(false)
			d.SetDisplayed(false)
			return true
		})
	}

	if old, ok := t.detached[h]; ok {
		t.destroyAll(old.children)
	}
	t.detached[h] = &detachedChildren{children: children, at: now}
	return true
}

// Collect destroys merged subtrees whose grace period is over, and those
// whose parent no longer exists. It returns the number of destroyed nodes.
func (t *Tree) Collect(now time.Time) int {
	destroyed := 0
	for parent, d := range t.detached {
		if t.Valid(parent) && now.Sub(d.at) < t.cleanupDelay {
			continue
		}
		delete(t.detached, parent)
		destroyed += t.destroyAll(d.children)
	}
	return destroyed
}

// Walk visits the subtree rooted at h depth first, children in order.
// Returning false from fn skips the children of the visited node.
func (t *Tree) Walk(h Handle, fn func(Handle, *Node) bool) {
	stack := []Handle{h}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := t.Get(cur)
		if !ok {
			continue
		}
		if !fn(cur, n) {
			continue
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

// Displayed returns the handles of every attached node currently drawn.
func (t *Tree) Displayed() []Handle {
	var out []Handle
	for _, r := range t.roots {
		t.Walk(r, func(h Handle, n *Node) bool {
			if n.Displayed {
				out = append(out, h)
			}
			return true
		})
	}
	return out
}

func (t *Tree) alloc(n *Node) Handle {
	var idx uint32
	if len(t.free) > 0 {
		idx = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}

	s := &t.slots[idx]
	s.generation++
	s.node = n
	n.handle = Handle{index: idx, generation: s.generation}
	t.live++
	t.index.register(n.Coord, n.handle)
	return n.handle
}

func (t *Tree) destroyAll(handles []Handle) int {
	destroyed := 0
	for _, h := range handles {
		var subtree []Handle
		t.Walk(h, func(c Handle, _ *Node) bool {
			subtree = append(subtree, c)
			return true
		})
		for _, c := range subtree {
			if d, ok := t.detached[c]; ok {
				delete(t.detached, c)
				destroyed += t.destroyAll(d.children)
			}
			destroyed += t.release(c)
		}
	}
	return destroyed
}

func (t *Tree) release(h Handle) int {
	n, ok := t.Get(h)
	if !ok {
		return 0
	}
	if n.Object != nil {
		n.Object.Traverse(func(o SceneObject) {
			o.Dispose()
		})
	}
	n.children = nil
	n.Attachments = nil

	s := &t.slots[h.index]
	s.node = nil
	s.generation++
	t.free = append(t.free, h.index)
	t.live--
	return 1
}

func (t *Tree) allValid(handles []Handle) bool {
	for _, h := range handles {
		if !t.Valid(h) {
			return false
		}
	}
	return true
}

func containsHandle(hs []Handle, h Handle) bool {
	for _, c := range hs {
		if c == h {
			return true
		}
	}
	return false
}
