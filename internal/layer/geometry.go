package layer

import (
	"fmt"
	"time"

	"cogentcore.org/core/math32"
	"github.com/go-playground/validator/v10"

	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

type GeometryOptions struct {
	Options

	// RootsX and RootsY split the source extent into level 0 tiles.
	RootsX         int     `validate:"gte=1"`
	RootsY         int     `validate:"gte=1"`
	GeometricError float32 `validate:"gt=0"`
	MinHeight      float32
	MaxHeight      float32 `validate:"gtefield=MinHeight"`

	CleanupDelay time.Duration
}

// GeometryLayer owns a quadtree of tiles and the meshes drawn for them.
// Color and elevation layers attach to it and share its tiles.
type GeometryLayer struct {
	base
	geo      GeometryOptions
	tree     *tile.Tree
	attached []DataLayer
}

var (
	_ Layer     = (*GeometryLayer)(nil)
	_ lod.Layer = (*GeometryLayer)(nil)
)

// NewGeometryLayer builds the layer and its root tiles. Extra tree options
// such as an object factory are passed through to the tree.
func NewGeometryLayer(opts GeometryOptions, treeOpts ...tile.Option) *GeometryLayer {
	if opts.RootsX == 0 {
		opts.RootsX = 1
	}
	if opts.RootsY == 0 {
		opts.RootsY = 1
	}
	treeOpts = append([]tile.Option{tile.WithCleanupDelay(opts.CleanupDelay)}, treeOpts...)
	l := &GeometryLayer{
		base: newBase(opts.Options),
		geo:  opts,
		tree: tile.NewTree(treeOpts...),
	}
	l.addRoots()
	return l
}

func (l *GeometryLayer) addRoots() {
	e := l.opts.Source.Extent
	w, h := e.Dimensions()
	if e.CRS == "" || w <= 0 || h <= 0 {
		return
	}
	cw, ch := w/float64(l.geo.RootsX), h/float64(l.geo.RootsY)
	for y := 0; y < l.geo.RootsY; y++ {
		for x := 0; x < l.geo.RootsX; x++ {
			minX, minY := e.MinX()+float64(x)*cw, e.MinY()+float64(y)*ch
			ext := tile.NewExtent(e.CRS, minX, minY, minX+cw, minY+ch)
			box := math32.B3(
				float32(ext.MinX()), float32(ext.MinY()), l.geo.MinHeight,
				float32(ext.MaxX()), float32(ext.MaxY()), l.geo.MaxHeight,
			)
			l.tree.AddRoot(tile.Coordinate{Level: 0, X: uint32(x), Y: uint32(y)}, ext, box, l.geo.GeometricError)
		}
	}
}

func (l *GeometryLayer) Kind() Kind {
	return KindGeometry
}

func (l *GeometryLayer) Tree() *tile.Tree {
	return l.tree
}

func (l *GeometryLayer) Validate(v *validator.Validate) error {
	if err := v.Struct(l.geo); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidLayer, l.opts.ID, err)
	}
	if l.opts.AttachTo != "" {
		return fmt.Errorf("%w: geometry layer %s cannot attach to %s", ErrInvalidLayer, l.opts.ID, l.opts.AttachTo)
	}
	if len(l.tree.Roots()) == 0 {
		return fmt.Errorf("%w: geometry layer %s has an empty extent", ErrInvalidLayer, l.opts.ID)
	}
	return nil
}

// Attach adds a data layer drawn on this layer's tiles. Updates run in
// attachment order.
func (l *GeometryLayer) Attach(d DataLayer) error {
	if d.ID() == l.opts.ID {
		return fmt.Errorf("%w: %s attached to itself", ErrInvalidLayer, d.ID())
	}
	for _, a := range l.attached {
		if a.ID() == d.ID() {
			return fmt.Errorf("%w: %s already attached to %s", ErrInvalidLayer, d.ID(), l.opts.ID)
		}
	}
	l.attached = append(l.attached, d)
	return nil
}

func (l *GeometryLayer) Attached() []DataLayer {
	out := make([]DataLayer, len(l.attached))
	copy(out, l.attached)
	return out
}

// Ready requires the node's own mesh and every attached layer to be ready.
func (l *GeometryLayer) Ready(n *tile.Node) bool {
	a, ok := n.Attachments[l.opts.ID]
	if !ok || (a.Payload == nil && !a.State.Definitive()) {
		return false
	}
	for _, d := range l.attached {
		if !d.Ready(l.tree, n) {
			return false
		}
	}
	return true
}

func (l *GeometryLayer) CanSubdivide(n *tile.Node) bool {
	src := l.opts.Source
	return src.MaxZoom == 0 || n.Coord.Level < src.MaxZoom
}

func (l *GeometryLayer) Refresh(tree *tile.Tree) int {
	return l.refresh(tree)
}

// Update loads the mesh of n and runs the attached layers' updates.
func (l *GeometryLayer) Update(uc *UpdateContext, h tile.Handle, n *tile.Node) {
	a := n.Attachment(l.opts.ID, uc.MaxRetries)
	if a.Payload == nil && uc.provider(l.opts.Source.Protocol) != nil {
		request(uc, l.opts.ID, h, a, requestFor(l.Source(), n), func(n *tile.Node, payload any) {
			g, ok := payload.(*provider.Geometry)
			if !ok {
				return
			}
			own(h, n.Attachment(l.opts.ID, uc.MaxRetries), g)
		})
	}

	for _, d := range l.attached {
		d.Update(uc, h, n)
	}
}
