package provider

import (
	"context"
	"fmt"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

const defaultSegments = 16

// Procedural builds flat grid meshes covering each tile extent. It does no
// I/O and is the geometry provider of tiled layers without a terrain mesh.
type Procedural struct {
	segments int
	logger   logger.Logger
}

var (
	_ Provider      = (*Procedural)(nil)
	_ InsideLimiter = (*Procedural)(nil)
)

func NewProcedural(segments int, l logger.Logger) *Procedural {
	if segments <= 0 {
		segments = defaultSegments
	}
	return &Procedural{segments: segments, logger: l}
}

func (p *Procedural) Preprocess(_ context.Context, src *Source) error {
	if src.Extent.CRS == "" {
		return fmt.Errorf("%w: procedural source %s needs an extent", ErrBadRequest, src.ID)
	}
	return nil
}

func (p *Procedural) TileInsideLimit(n *tile.Node, src *Source) bool {
	return levelRange(n, src)
}

func (p *Procedural) ExecuteCommand(ctx context.Context, cmd *scheduler.Command) (any, error) {
	req, err := requestOf(cmd)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Grid(req.Extent, p.segments), nil
}

// Grid returns a (segments+1)^2 vertex mesh over e at height zero, two
// triangles per cell, counter clockwise seen from +Z.
func Grid(e tile.Extent, segments int) *Geometry {
	stride := segments + 1
	g := &Geometry{
		Segments:  segments,
		Positions: make([]math32.Vector3, 0, stride*stride),
		Indices:   make([]uint32, 0, segments*segments*6),
		Box:       math32.B3Empty(),
	}

	w, h := e.Dimensions()
	for row := 0; row < stride; row++ {
		y := e.MinY() + h*float64(row)/float64(segments)
		for col := 0; col < stride; col++ {
			x := e.MinX() + w*float64(col)/float64(segments)
			v := math32.Vec3(float32(x), float32(y), 0)
			g.Positions = append(g.Positions, v)
			g.Box.ExpandByPoint(v)
		}
	}

	for row := 0; row < segments; row++ {
		for col := 0; col < segments; col++ {
			a := uint32(row*stride + col)
			b := a + 1
			c := a + uint32(stride)
			d := c + 1
			g.Indices = append(g.Indices, a, b, d, a, d, c)
		}
	}
	return g
}
