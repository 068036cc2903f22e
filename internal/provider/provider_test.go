package provider

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func upstreamConfig() config.Upstream {
	return config.Upstream{
		UserAgent: "tilestream-test",
		Referer:   "http://localhost",
		Timeout:   5 * time.Second,
	}
}

func commandFor(src *Source, c tile.Coordinate) *scheduler.Command {
	e := tile.NewExtent(tile.CRSLocal, 0, 0, 100, 100)
	return &scheduler.Command{
		Protocol: src.Protocol,
		Request: Request{
			Source: src,
			Coord:  c,
			Extent: e,
			Format: src.Format,
		},
	}
}

func TestExpandURLFlipsRows(t *testing.T) {
	url := expandURL("https://tiles.test/{z}/{x}/{y}.png", tile.Coordinate{Level: 1, X: 0, Y: 0})
	assert.Equal(t, "https://tiles.test/1/0/1.png", url)

	url = expandURL("https://tiles.test/{z}/{x}/{y}.png", tile.Coordinate{Level: 3, X: 5, Y: 7})
	assert.Equal(t, "https://tiles.test/3/5/0.png", url)
}

func TestXYZFetchDecodesAndStores(t *testing.T) {
	body := solidPNG(t, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	var hits atomic.Int32
	seen := make(chan [2]string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		seen <- [2]string{r.Header.Get("User-Agent"), r.URL.Path}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	store := cache.NewMapStore()
	p := NewXYZ(upstreamConfig(), store, logger.Nop())
	src := &Source{ID: "osm", Protocol: ProtocolXYZ, URL: srv.URL + "/{z}/{x}/{y}.png"}
	require.NoError(t, p.Preprocess(context.Background(), src))
	assert.Equal(t, "png", src.Format)

	coord := tile.Coordinate{Level: 2, X: 1, Y: 3}
	out, err := p.ExecuteCommand(context.Background(), commandFor(src, coord))
	require.NoError(t, err)

	tex, ok := out.(*Texture)
	require.True(t, ok)
	assert.Equal(t, coord, tex.Coord)
	assert.Equal(t, 4, tex.Image.Bounds().Dx())
	assert.Equal(t, int64(64), tex.SizeEstimate())
	req := <-seen
	assert.Equal(t, "tilestream-test", req[0])
	assert.Equal(t, "/2/1/0.png", req[1])

	// second request is served by the store
	_, err = p.ExecuteCommand(context.Background(), commandFor(src, coord))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	data, ok, err := store.Get(context.Background(), cache.TileKey{Dataset: "osm", Z: 2, X: 1, Y: 0})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, body, data)
}

func TestXYZUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewXYZ(upstreamConfig(), nil, logger.Nop())
	src := &Source{ID: "osm", Protocol: ProtocolXYZ, URL: srv.URL + "/{z}/{x}/{y}.png"}

	_, err := p.ExecuteCommand(context.Background(), commandFor(src, tile.Coordinate{}))
	require.ErrorIs(t, err, ErrUpstreamStatus)
}

func TestXYZUndecodableTile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	p := NewXYZ(upstreamConfig(), nil, logger.Nop())
	src := &Source{ID: "osm", Protocol: ProtocolXYZ, URL: srv.URL + "/{z}/{x}/{y}"}

	_, err := p.ExecuteCommand(context.Background(), commandFor(src, tile.Coordinate{}))
	require.Error(t, err)
}

func TestBadRequest(t *testing.T) {
	p := NewXYZ(upstreamConfig(), nil, logger.Nop())

	_, err := p.ExecuteCommand(context.Background(), &scheduler.Command{Request: "nope"})
	require.ErrorIs(t, err, ErrBadRequest)

	err = p.Preprocess(context.Background(), &Source{ID: "a", URL: "https://tiles.test/{z}/{x}.png"})
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestPossibleImprovement(t *testing.T) {
	p := NewXYZ(upstreamConfig(), nil, logger.Nop())
	src := &Source{ID: "osm", Protocol: ProtocolXYZ, Format: "png", MaxZoom: 3}
	n := &tile.Node{Coord: tile.Coordinate{Level: 2, X: 1, Y: 1}}

	req, ok := p.PossibleImprovement(src, n, &Texture{Coord: tile.Coordinate{Level: 1}})
	require.True(t, ok)
	assert.Equal(t, n.Coord, req.Coord)
	assert.Equal(t, cache.Key("osm", n.Coord, "png"), req.Key)

	_, ok = p.PossibleImprovement(src, n, &Texture{Coord: n.Coord})
	assert.False(t, ok)

	deep := &tile.Node{Coord: tile.Coordinate{Level: 4}}
	_, ok = p.PossibleImprovement(src, deep, nil)
	assert.False(t, ok)
}

func TestLevelRange(t *testing.T) {
	src := &Source{
		MinZoom: 1,
		MaxZoom: 5,
		Extent:  tile.NewExtent(tile.CRSLocal, 0, 0, 50, 50),
	}
	inside := &tile.Node{
		Coord:  tile.Coordinate{Level: 2},
		Extent: tile.NewExtent(tile.CRSLocal, 0, 0, 25, 25),
	}
	outside := &tile.Node{
		Coord:  tile.Coordinate{Level: 2},
		Extent: tile.NewExtent(tile.CRSLocal, 60, 60, 80, 80),
	}
	tooCoarse := &tile.Node{Coord: tile.Coordinate{Level: 0}, Extent: inside.Extent}
	tooFine := &tile.Node{Coord: tile.Coordinate{Level: 6}, Extent: inside.Extent}

	assert.True(t, levelRange(inside, src))
	assert.False(t, levelRange(outside, src))
	assert.False(t, levelRange(tooCoarse, src))
	assert.False(t, levelRange(tooFine, src))
}

func TestDecodeTerrarium(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 128, G: 0, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 128, G: 10, B: 128, A: 255})

	elev := DecodeTerrarium(img)
	assert.Equal(t, 2, elev.Width)
	assert.Equal(t, 1, elev.Height)
	assert.InDelta(t, 0, elev.At(0, 0), 1e-6)
	assert.InDelta(t, 10.5, elev.At(1, 0), 1e-6)
	assert.InDelta(t, 0, elev.Min, 1e-6)
	assert.InDelta(t, 10.5, elev.Max, 1e-6)
}

func TestTerrariumFetch(t *testing.T) {
	body := solidPNG(t, color.NRGBA{R: 129, G: 0, B: 0, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	p := NewTerrarium(upstreamConfig(), cache.NewMapStore(), logger.Nop())
	src := &Source{ID: "dem", Protocol: ProtocolTerrarium, URL: srv.URL + "/{z}/{x}/{y}.png"}
	require.NoError(t, p.Preprocess(context.Background(), src))

	out, err := p.ExecuteCommand(context.Background(), commandFor(src, tile.Coordinate{}))
	require.NoError(t, err)

	elev, ok := out.(*Elevation)
	require.True(t, ok)
	assert.Equal(t, 16, len(elev.Heights))
	assert.InDelta(t, 256, elev.Min, 1e-6)
	assert.InDelta(t, 256, elev.Max, 1e-6)
}

func TestProceduralGrid(t *testing.T) {
	p := NewProcedural(2, logger.Nop())
	src := &Source{ID: "grid", Protocol: ProtocolProcedural}
	require.ErrorIs(t, p.Preprocess(context.Background(), src), ErrBadRequest)

	src.Extent = tile.NewExtent(tile.CRSLocal, 0, 0, 100, 100)
	require.NoError(t, p.Preprocess(context.Background(), src))

	out, err := p.ExecuteCommand(context.Background(), commandFor(src, tile.Coordinate{}))
	require.NoError(t, err)

	g, ok := out.(*Geometry)
	require.True(t, ok)
	assert.Len(t, g.Positions, 9)
	assert.Len(t, g.Indices, 24)
	assert.InDelta(t, 0, g.Box.Min.X, 1e-6)
	assert.InDelta(t, 100, g.Box.Max.X, 1e-6)
	assert.InDelta(t, 100, g.Box.Max.Y, 1e-6)
	for _, i := range g.Indices {
		assert.Less(t, i, uint32(len(g.Positions)))
	}
}

func TestProceduralHonoursCancellation(t *testing.T) {
	p := NewProcedural(0, logger.Nop())
	src := &Source{ID: "grid", Protocol: ProtocolProcedural, Extent: tile.NewExtent(tile.CRSLocal, 0, 0, 1, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ExecuteCommand(ctx, commandFor(src, tile.Coordinate{}))
	require.ErrorIs(t, err, context.Canceled)
}
