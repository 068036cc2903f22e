package lod

import (
	"errors"
	"fmt"
	"time"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

var ErrInvalidThresholds = errors.New("invalid refinement thresholds")

// Layer is the refinement view of a geometry layer.
type Layer interface {
	ID() string
	Tree() *tile.Tree
	// Ready reports whether n can be drawn: its geometry and the data of
	// every attached layer are resolved, inherited or definitively failed.
	Ready(n *tile.Node) bool
	// CanSubdivide lets the layer veto a subdivision, e.g. outside the
	// provider's coverage.
	CanSubdivide(n *tile.Node) bool
}

type Result struct {
	// Updated lists the nodes that need data, depth first, without
	// duplicates.
	Updated []tile.Handle
	// DistanceMin and DistanceMax bound the camera distance of the drawn
	// nodes. DistanceMin is +Inf when nothing is drawn.
	DistanceMin float32
	DistanceMax float32
	Displayed   int
	Subdivided  int
	Merged      int
	Collected   int
	// Changed is set when the drawn set changed.
	Changed bool
}

// Span bounds the camera distances of the nodes a layer draws.
type Span struct {
	Displayed   int
	DistanceMin float32
	DistanceMax float32
}

// DisplayedSpan aggregates every displayed node of tree, including the ones
// a scoped pass did not visit, from the distances stored when each node was
// last measured. DistanceMin is +Inf when nothing is displayed.
func DisplayedSpan(tree *tile.Tree) Span {
	s := Span{DistanceMin: math32.Inf(1)}
	for _, r := range tree.Roots() {
		tree.Walk(r, func(_ tile.Handle, n *tile.Node) bool {
			if n.Displayed {
				s.Displayed++
				s.DistanceMin = math32.Min(s.DistanceMin, n.DistanceMin)
				s.DistanceMax = math32.Max(s.DistanceMax, n.DistanceMax)
			}
			return true
		})
	}
	return s
}

type Engine struct {
	threshold  float32
	mergeRatio float32
	minDwell   time.Duration
	maxLevel   uint32
	metric     ErrorMetric
	logger     logger.Logger
}

func NewEngine(cfg config.LOD, metric ErrorMetric, l logger.Logger) (*Engine, error) {
	if cfg.SubdivideThreshold <= 0 {
		return nil, fmt.Errorf("%w: subdivide threshold %v", ErrInvalidThresholds, cfg.SubdivideThreshold)
	}
	if cfg.MergeRatio <= 0 || cfg.MergeRatio >= 1 {
		return nil, fmt.Errorf("%w: merge ratio %v not in (0, 1)", ErrInvalidThresholds, cfg.MergeRatio)
	}
	return &Engine{
		threshold:  cfg.SubdivideThreshold,
		mergeRatio: cfg.MergeRatio,
		minDwell:   cfg.MinDwell,
		maxLevel:   cfg.MaxLevel,
		metric:     metric,
		logger:     l,
	}, nil
}

type visit struct {
	h tile.Handle
	// covered is set below a node that is still drawn while its children
	// load. Such nodes fetch data but are neither drawn nor refined.
	covered bool
}

type pass struct {
	tree      *tile.Tree
	layer     Layer
	cam       Camera
	now       time.Time
	res       Result
	visited   map[tile.Handle]struct{}
	displayed []tile.Handle
	stack     []visit
}

// Update runs one refinement pass over layer. A nil scope walks every
// root, otherwise only the subtrees of the scoped nodes are visited.
func (e *Engine) Update(layer Layer, cam Camera, scope []tile.Handle, now time.Time) Result {
	tree := layer.Tree()
	p := &pass{
		tree:    tree,
		layer:   layer,
		cam:     cam,
		now:     now,
		res:     Result{DistanceMin: infiniteSSE},
		visited: make(map[tile.Handle]struct{}),
	}

	starts := tree.Roots()
	if scope != nil {
		starts = outermost(tree, scope)
	}
	for i := len(starts) - 1; i >= 0; i-- {
		if tree.Attached(starts[i]) {
			p.stack = append(p.stack, visit{h: starts[i], covered: coveredAbove(tree, starts[i])})
		}
	}

	for len(p.stack) > 0 {
		v := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		if _, ok := p.visited[v.h]; ok {
			continue
		}
		p.visited[v.h] = struct{}{}

		n, ok := tree.Get(v.h)
		if !ok {
			continue
		}
		e.refine(p, v, n)
	}

	for _, h := range p.displayed {
		resolveNeighbors(tree, h)
	}
	p.res.Displayed = len(p.displayed)
	p.res.Collected = tree.Collect(now)

	if p.res.Subdivided > 0 || p.res.Merged > 0 {
		e.logger.Debug("refinement pass",
			"layer", layer.ID(),
			"subdivided", p.res.Subdivided,
			"merged", p.res.Merged,
			"collected", p.res.Collected,
			"displayed", p.res.Displayed)
	}
	return p.res
}

// outermost drops the scoped nodes that lie inside another scoped subtree.
func outermost(tree *tile.Tree, scope []tile.Handle) []tile.Handle {
	in := make(map[tile.Handle]struct{}, len(scope))
	for _, h := range scope {
		in[h] = struct{}{}
	}
	out := make([]tile.Handle, 0, len(scope))
	for _, h := range scope {
		nested := false
		for a, ok := tree.Parent(h); ok; a, ok = tree.Parent(a) {
			if _, dup := in[a]; dup {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, h)
		}
	}
	return out
}

// coveredAbove reports whether an ancestor of h is drawn in its place.
func coveredAbove(tree *tile.Tree, h tile.Handle) bool {
	for a, ok := tree.Parent(h); ok; a, ok = tree.Parent(a) {
		if n, live := tree.Get(a); live && n.Displayed {
			return true
		}
	}
	return false
}

func (e *Engine) refine(p *pass, v visit, n *tile.Node) {
	visible, area := frustum(p.cam, worldBox(n))
	if !visible {
		e.cull(p, v.h, n)
		return
	}

	n.SetVisible(true)
	n.ScreenArea = area
	e.measure(p.cam, n)
	n.SSE = e.metric.ScreenSpaceError(p.cam, n)

	if v.covered {
		p.setDisplayed(n, false)
		p.mark(v.h)
		p.pushChildren(n, true)
		return
	}

	if !n.HasChildren() {
		if !e.wantsSubdivide(p, n) {
			p.showLeaf(v.h, n)
			return
		}
		if _, created := p.tree.Subdivide(v.h, p.now); created {
			p.res.Subdivided++
			n.SetState(tile.StateSubdividing, p.now)
		}
	}

	if n.SSE < e.threshold*e.mergeRatio && e.dwelt(n, p.now) {
		if p.layer.Ready(n) {
			p.tree.Merge(v.h, p.now)
			p.res.Merged++
			p.res.Changed = true
			p.showLeaf(v.h, n)
			return
		}
		// children stay drawn until the node has its own data
		n.SetState(tile.StateMerging, p.now)
		p.setDisplayed(n, false)
		p.mark(v.h)
		p.pushChildren(n, false)
		return
	}

	if n.State == tile.StateMerging {
		n.SetState(tile.StateIdle, p.now)
	}

	if n.State == tile.StateSubdividing && !p.childrenReady(n) {
		ready := p.layer.Ready(n)
		p.setDisplayed(n, ready)
		p.mark(v.h)
		if ready {
			p.draw(v.h, n)
		}
		p.pushChildren(n, true)
		return
	}

	n.SetState(tile.StateIdle, p.now)
	p.setDisplayed(n, false)
	p.pushChildren(n, false)
}

func (e *Engine) wantsSubdivide(p *pass, n *tile.Node) bool {
	return n.SSE > e.threshold &&
		n.Coord.Level < e.maxLevel &&
		e.dwelt(n, p.now) &&
		p.layer.CanSubdivide(n)
}

func (e *Engine) dwelt(n *tile.Node, now time.Time) bool {
	return e.minDwell <= 0 || now.Sub(n.StateSince) >= e.minDwell
}

// cull hides a node outside the frustum with its whole subtree. Children
// are released so memory follows the view.
func (e *Engine) cull(p *pass, h tile.Handle, n *tile.Node) {
	p.tree.Walk(h, func(_ tile.Handle, d *tile.Node) bool {
		if d.Displayed {
			p.res.Changed = true
		}
		d.SetVisible(false)
		d.SetDisplayed(false)
		return true
	})
	if n.HasChildren() && e.dwelt(n, p.now) {
		p.tree.Merge(h, p.now)
		p.res.Merged++
	}
	n.SetState(tile.StateIdle, p.now)
}

func (e *Engine) measure(cam Camera, n *tile.Node) {
	local := toLocal(n.World, cam.Position())
	n.DistanceMin = n.Box.DistanceToPoint(local)
	var far float32
	for _, c := range corners(n.Box) {
		far = math32.Max(far, c.Sub(local).Length())
	}
	n.DistanceMax = far
}

func (p *pass) showLeaf(h tile.Handle, n *tile.Node) {
	ready := p.layer.Ready(n)
	p.setDisplayed(n, ready)
	p.mark(h)
	if ready {
		n.SetState(tile.StateDisplayed, p.now)
		p.draw(h, n)
		return
	}
	n.SetState(tile.StateIdle, p.now)
}

func (p *pass) draw(h tile.Handle, n *tile.Node) {
	p.displayed = append(p.displayed, h)
	p.res.DistanceMin = math32.Min(p.res.DistanceMin, n.DistanceMin)
	p.res.DistanceMax = math32.Max(p.res.DistanceMax, n.DistanceMax)
}

func (p *pass) setDisplayed(n *tile.Node, v bool) {
	if n.Displayed != v {
		p.res.Changed = true
	}
	n.SetDisplayed(v)
}

func (p *pass) childrenReady(n *tile.Node) bool {
	for _, c := range n.Children() {
		cn, ok := p.tree.Get(c)
		if !ok || !p.layer.Ready(cn) {
			return false
		}
	}
	return true
}

func (p *pass) pushChildren(n *tile.Node, covered bool) {
	children := n.Children()
	for i := len(children) - 1; i >= 0; i-- {
		p.stack = append(p.stack, visit{h: children[i], covered: covered})
	}
}

// mark queues h for a data update. Every node is refined at most once per
// pass, so the list never holds duplicates.
func (p *pass) mark(h tile.Handle) {
	p.res.Updated = append(p.res.Updated, h)
}
