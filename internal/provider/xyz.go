package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

// XYZ serves raster imagery from {z}/{x}/{y} tile servers such as
// OpenStreetMap. PNG, JPEG and WebP tiles are decoded.
type XYZ struct {
	fetcher *fetcher
	logger  logger.Logger
}

var (
	_ Provider        = (*XYZ)(nil)
	_ InsideLimiter   = (*XYZ)(nil)
	_ TextureImprover = (*XYZ)(nil)
)

func NewXYZ(cfg config.Upstream, store cache.TileStore, l logger.Logger) *XYZ {
	return &XYZ{
		fetcher: newFetcher(ProtocolXYZ, cfg, store, l),
		logger:  l,
	}
}

func (p *XYZ) Preprocess(_ context.Context, src *Source) error {
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(src.URL, placeholder) {
			return fmt.Errorf("%w: url template %q lacks %s", ErrBadRequest, src.URL, placeholder)
		}
	}
	if src.Format == "" {
		src.Format = "png"
	}
	p.logger.Info("xyz source ready", "source", src.ID, "url", src.URL)
	return nil
}

func (p *XYZ) TileInsideLimit(n *tile.Node, src *Source) bool {
	return levelRange(n, src)
}

// PossibleImprovement asks for the node's own tile while the current
// texture belongs to an ancestor.
func (p *XYZ) PossibleImprovement(src *Source, n *tile.Node, current *Texture) (Request, bool) {
	if !levelRange(n, src) {
		return Request{}, false
	}
	if current != nil && current.Coord == n.Coord {
		return Request{}, false
	}
	return Request{
		Source: src,
		Coord:  n.Coord,
		Extent: n.Extent,
		Format: src.Format,
		Key:    cache.Key(src.ID, n.Coord, src.Format),
	}, true
}

func (p *XYZ) ExecuteCommand(ctx context.Context, cmd *scheduler.Command) (any, error) {
	req, err := requestOf(cmd)
	if err != nil {
		return nil, err
	}

	data, err := p.fetcher.fetch(ctx, req.Source, req.Coord)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", req.Coord, err)
	}
	p.logger.Debug("decoded tile", "tile", req.Coord.String(), "format", format, "size", len(data))

	return &Texture{
		Image:  img,
		Coord:  req.Coord,
		Extent: req.Extent,
	}, nil
}
