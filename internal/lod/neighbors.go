package lod

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// probeMargin is how far outside an edge the neighbor probe is placed,
// relative to the node size.
const probeMargin = 1e-3

func probe(e tile.Extent, d tile.Direction) orb.Point {
	c := e.Center()
	w, h := e.Dimensions()
	switch d {
	case tile.North:
		return orb.Point{c.X(), e.MaxY() + h*probeMargin}
	case tile.South:
		return orb.Point{c.X(), e.MinY() - h*probeMargin}
	case tile.East:
		return orb.Point{e.MaxX() + w*probeMargin, c.Y()}
	default:
		return orb.Point{e.MinX() - w*probeMargin, c.Y()}
	}
}

// FindNeighbor returns the displayed tile across edge d of h. It walks up
// to the first ancestor containing a point just outside the edge, then down
// to the smallest displayed tile covering that point.
func FindNeighbor(tree *tile.Tree, h tile.Handle, d tile.Direction) tile.Neighbor {
	n, ok := tree.Get(h)
	if !ok {
		return tile.NoNeighbor
	}
	p := probe(n.Extent, d)

	anchor, found := tile.Handle{}, false
	for cur, ok := n.Parent(); ok; {
		c, live := tree.Get(cur)
		if !live {
			break
		}
		if c.Extent.Contains(p) {
			anchor, found = cur, true
			break
		}
		cur, ok = c.Parent()
	}
	if !found {
		for _, r := range tree.Roots() {
			rn, ok := tree.Get(r)
			if ok && rn.Extent.CRS == n.Extent.CRS && rn.Extent.Contains(p) {
				anchor, found = r, true
				break
			}
		}
	}
	if !found {
		return tile.NoNeighbor
	}

	for {
		a, ok := tree.Get(anchor)
		if !ok {
			return tile.NoNeighbor
		}
		if a.Displayed {
			return tile.Neighbor{
				Handle:    anchor,
				LevelDiff: levelDiff(n.Extent, a.Extent, d),
				Found:     true,
			}
		}
		next, ok := childContaining(tree, a, p)
		if !ok {
			return tile.NoNeighbor
		}
		anchor = next
	}
}

func childContaining(tree *tile.Tree, n *tile.Node, p orb.Point) (tile.Handle, bool) {
	for _, c := range n.Children() {
		cn, ok := tree.Get(c)
		if ok && cn.Extent.Contains(p) {
			return c, true
		}
	}
	return tile.Handle{}, false
}

// levelDiff compares sizes along the shared edge rather than levels, the
// tree is not guaranteed to be regular.
func levelDiff(self, other tile.Extent, d tile.Direction) float64 {
	sw, sh := self.Dimensions()
	ow, oh := other.Dimensions()
	if d == tile.East || d == tile.West {
		sw, ow = sh, oh
	}
	if sw <= 0 || ow <= 0 {
		return 0
	}
	return math.Log2(ow / sw)
}

func resolveNeighbors(tree *tile.Tree, h tile.Handle) {
	n, ok := tree.Get(h)
	if !ok {
		return
	}
	for _, d := range tile.Directions {
		n.Neighbors[d] = FindNeighbor(tree, h, d)
	}
}
