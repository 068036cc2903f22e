package layer

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// ElevationLayer displaces the tiles of a geometry layer with height
// grids. Loaded heights tighten the node bounding boxes, which the
// refinement uses for culling and error estimation.
type ElevationLayer struct {
	base
}

var _ DataLayer = (*ElevationLayer)(nil)

func NewElevationLayer(opts Options) *ElevationLayer {
	return &ElevationLayer{base: newBase(opts)}
}

func (l *ElevationLayer) Kind() Kind {
	return KindElevation
}

func (l *ElevationLayer) AttachedTo() string {
	return l.opts.AttachTo
}

func (l *ElevationLayer) Validate(v *validator.Validate) error {
	if err := l.validate(v); err != nil {
		return err
	}
	if l.opts.AttachTo == "" {
		return fmt.Errorf("%w: elevation layer %s is not attached to a geometry layer", ErrInvalidLayer, l.opts.ID)
	}
	return nil
}

func (l *ElevationLayer) Refresh(tree *tile.Tree) int {
	return l.refresh(tree)
}

func (l *ElevationLayer) Ready(tree *tile.Tree, n *tile.Node) bool {
	if !l.visible {
		return true
	}
	a, ok := n.Attachments[l.opts.ID]
	if !ok {
		return false
	}
	return a.HasData() || a.State.Definitive() || a.State.Status == tile.UpdateFinished
}

func (l *ElevationLayer) Update(uc *UpdateContext, h tile.Handle, n *tile.Node) {
	if !l.visible {
		return
	}
	a := n.Attachment(l.opts.ID, uc.MaxRetries)
	src := l.Source()
	p := uc.provider(src.Protocol)
	if p == nil {
		return
	}

	if inherit(uc.Tree, l.opts.ID, h, n, a) {
		uc.changed(h, true)
	}

	if _, ok := a.Payload.(*provider.Elevation); ok {
		if n.Displayed && l.stitch(uc.Tree, n, a) {
			uc.changed(h, true)
		}
		return
	}

	if !covers(p, src, n) {
		if a.State.Status == tile.UpdateIdle {
			a.State.Success()
			uc.changed(h, true)
		}
		return
	}

	request(uc, l.opts.ID, h, a, requestFor(src, n), func(n *tile.Node, payload any) {
		elev, ok := payload.(*provider.Elevation)
		if !ok {
			return
		}
		attachElevation(h, n, n.Attachment(l.opts.ID, uc.MaxRetries), elev)
	})
}

// attachElevation gives n a private copy of elev. The delivered grid stays
// as it is, since the request cache shares it with every later reader.
func attachElevation(h tile.Handle, n *tile.Node, a *tile.Attachment, elev *provider.Elevation) {
	own(h, a, elev.Clone())
	a.Raw = elev
	n.Box.Min.Z = elev.Min
	n.Box.Max.Z = elev.Max
}

// stitch blends the borders of n's grid with the delivered grids of its
// same level displayed neighbours so adjacent meshes meet: edge samples are
// averaged with the neighbour across the edge, corner samples with every
// tile sharing the corner. Only n's own copy is written. It is rebuilt from
// the delivered grid when the neighbours changed since the last stitch, and
// stitch reports whether that happened.
func (l *ElevationLayer) stitch(tree *tile.Tree, n *tile.Node, a *tile.Attachment) bool {
	elev, ok := a.Payload.(*provider.Elevation)
	if !ok {
		return false
	}
	raw, ok := a.Raw.(*provider.Elevation)
	if !ok {
		return false
	}

	var seams [3][3]tile.Handle
	var grids [3][3]*provider.Elevation
	grids[1][1] = raw
	for _, d := range tile.Directions {
		nb := n.Neighbors[d]
		if !nb.Found || nb.LevelDiff != 0 {
			continue
		}
		if other, ok := l.matching(tree, nb.Handle, raw); ok {
			dx, dy := d.Offset()
			grids[dy+1][dx+1] = other
			seams[dy+1][dx+1] = nb.Handle
		}
	}
	for _, adj := range tree.Index().Neighbors8(n.Coord) {
		if adj.DX == 0 || adj.DY == 0 {
			continue
		}
		if nn, live := tree.Get(adj.Handle); !live || !nn.Displayed {
			continue
		}
		if other, ok := l.matching(tree, adj.Handle, raw); ok {
			grids[adj.DY+1][adj.DX+1] = other
			seams[adj.DY+1][adj.DX+1] = adj.Handle
		}
	}
	if seams == a.Seams {
		return false
	}
	a.Seams = seams

	copy(elev.Heights, raw.Heights)
	elev.Min, elev.Max = raw.Min, raw.Max
	w, h := raw.Width, raw.Height
	// row 0 is the northern edge of a grid
	if o := grids[2][1]; o != nil {
		for col := 1; col < w-1; col++ {
			elev.Set(col, 0, (raw.At(col, 0)+o.At(col, h-1))/2)
		}
	}
	if o := grids[0][1]; o != nil {
		for col := 1; col < w-1; col++ {
			elev.Set(col, h-1, (raw.At(col, h-1)+o.At(col, 0))/2)
		}
	}
	if o := grids[1][2]; o != nil {
		for row := 1; row < h-1; row++ {
			elev.Set(w-1, row, (raw.At(w-1, row)+o.At(0, row))/2)
		}
	}
	if o := grids[1][0]; o != nil {
		for row := 1; row < h-1; row++ {
			elev.Set(0, row, (raw.At(0, row)+o.At(w-1, row))/2)
		}
	}

	for _, sy := range []int{1, -1} {
		for _, sx := range []int{-1, 1} {
			col, row := 0, h-1
			if sx > 0 {
				col = w - 1
			}
			if sy > 0 {
				row = 0
			}
			var sum float32
			count := 0
			for _, oy := range []int{0, sy} {
				for _, ox := range []int{0, sx} {
					g := grids[oy+1][ox+1]
					if g == nil {
						continue
					}
					// the shared corner mirrors along every axis crossed
					c, r := col, row
					if ox != 0 {
						c = w - 1 - col
					}
					if oy != 0 {
						r = h - 1 - row
					}
					sum += g.At(c, r)
					count++
				}
			}
			if count > 1 {
				elev.Set(col, row, sum/float32(count))
			}
		}
	}
	return true
}

// matching returns the delivered grid of the node at h when it has the
// same dimensions as raw.
func (l *ElevationLayer) matching(tree *tile.Tree, h tile.Handle, raw *provider.Elevation) (*provider.Elevation, bool) {
	other, ok := l.elevationOf(tree, h)
	if !ok || other.Width != raw.Width || other.Height != raw.Height {
		return nil, false
	}
	return other, true
}

// elevationOf returns the grid delivered for the node at h, ignoring any
// adjustment made to its own copy.
func (l *ElevationLayer) elevationOf(tree *tile.Tree, h tile.Handle) (*provider.Elevation, bool) {
	n, ok := tree.Get(h)
	if !ok {
		return nil, false
	}
	a, ok := n.Attachments[l.opts.ID]
	if !ok {
		return nil, false
	}
	elev, ok := a.Raw.(*provider.Elevation)
	return elev, ok
}
