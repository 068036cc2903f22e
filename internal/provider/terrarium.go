package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

// Terrarium serves elevation encoded in PNG tiles with the Terrarium
// scheme: height = R*256 + G + B/256 - 32768 meters.
type Terrarium struct {
	fetcher *fetcher
	logger  logger.Logger
}

var (
	_ Provider      = (*Terrarium)(nil)
	_ InsideLimiter = (*Terrarium)(nil)
)

func NewTerrarium(cfg config.Upstream, store cache.TileStore, l logger.Logger) *Terrarium {
	return &Terrarium{
		fetcher: newFetcher(ProtocolTerrarium, cfg, store, l),
		logger:  l,
	}
}

func (p *Terrarium) Preprocess(_ context.Context, src *Source) error {
	for _, placeholder := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(src.URL, placeholder) {
			return fmt.Errorf("%w: url template %q lacks %s", ErrBadRequest, src.URL, placeholder)
		}
	}
	src.Format = "png"
	p.logger.Info("terrarium source ready", "source", src.ID, "url", src.URL)
	return nil
}

func (p *Terrarium) TileInsideLimit(n *tile.Node, src *Source) bool {
	return levelRange(n, src)
}

func (p *Terrarium) ExecuteCommand(ctx context.Context, cmd *scheduler.Command) (any, error) {
	req, err := requestOf(cmd)
	if err != nil {
		return nil, err
	}

	data, err := p.fetcher.fetch(ctx, req.Source, req.Coord)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode elevation tile %s: %w", req.Coord, err)
	}

	elev := DecodeTerrarium(img)
	elev.Coord = req.Coord
	elev.Extent = req.Extent
	return elev, nil
}

// DecodeTerrarium converts a Terrarium encoded image to a height grid.
func DecodeTerrarium(img image.Image) *Elevation {
	b := img.Bounds()
	elev := &Elevation{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Heights: make([]float32, b.Dx()*b.Dy()),
		Min:     math32.Inf(1),
		Max:     math32.Inf(-1),
	}
	for row := 0; row < elev.Height; row++ {
		for col := 0; col < elev.Width; col++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.NRGBA)
			h := float32(c.R)*256 + float32(c.G) + float32(c.B)/256 - 32768
			elev.Set(col, row, h)
		}
	}
	return elev
}
