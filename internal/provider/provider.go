package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

var (
	ErrBadRequest     = errors.New("bad provider request")
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

const (
	ProtocolXYZ        = "xyz"
	ProtocolTerrarium  = "terrarium"
	ProtocolProcedural = "procedural"
)

// Source describes the dataset a layer reads through a provider.
type Source struct {
	ID       string `validate:"required"`
	Protocol string `validate:"required"`
	URL      string `validate:"required_unless=Protocol procedural"`
	Format   string
	// Extent is the coverage. A zero extent covers everything.
	Extent  tile.Extent
	MinZoom uint32
	// MaxZoom of 0 means no limit.
	MaxZoom uint32
}

// Provider turns tile requests of one protocol into decoded payloads.
// ExecuteCommand runs on its own goroutine and receives a Request.
type Provider interface {
	scheduler.Executor
	// Preprocess runs once when a layer using src is added.
	Preprocess(ctx context.Context, src *Source) error
}

// InsideLimiter is implemented by providers with a limited coverage.
type InsideLimiter interface {
	TileInsideLimit(n *tile.Node, src *Source) bool
}

// TextureImprover is implemented by providers able to tell whether a finer
// texture than current exists for n.
type TextureImprover interface {
	PossibleImprovement(src *Source, n *tile.Node, current *Texture) (Request, bool)
}

// Request is the payload descriptor carried by a scheduler command.
type Request struct {
	Source *Source
	Coord  tile.Coordinate
	Extent tile.Extent
	Format string
	// Key is the request cache key of the result.
	Key string
}

func requestOf(cmd *scheduler.Command) (Request, error) {
	req, ok := cmd.Request.(Request)
	if !ok || req.Source == nil {
		return Request{}, fmt.Errorf("%w: %T", ErrBadRequest, cmd.Request)
	}
	return req, nil
}

// levelRange is the InsideLimiter shared by the reference providers: a
// node is served when its level is within the source zoom range and its
// extent overlaps the source coverage.
func levelRange(n *tile.Node, src *Source) bool {
	if n.Coord.Level < src.MinZoom || (src.MaxZoom > 0 && n.Coord.Level > src.MaxZoom) {
		return false
	}
	if src.Extent.CRS == "" {
		return true
	}
	return src.Extent.Intersects(n.Extent)
}
