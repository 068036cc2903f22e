package layer

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/config"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

type fakeProvider struct {
	calls atomic.Int32
	fn    func(req provider.Request) (any, error)
}

func (p *fakeProvider) Preprocess(context.Context, *provider.Source) error {
	return nil
}

func (p *fakeProvider) ExecuteCommand(_ context.Context, cmd *scheduler.Command) (any, error) {
	p.calls.Add(1)
	return p.fn(cmd.Request.(provider.Request))
}

func textures() *fakeProvider {
	return &fakeProvider{fn: func(req provider.Request) (any, error) {
		return &provider.Texture{
			Image:  image.NewNRGBA(image.Rect(0, 0, 2, 2)),
			Coord:  req.Coord,
			Extent: req.Extent,
		}, nil
	}}
}

type fixture struct {
	geometry *GeometryLayer
	uc       *UpdateContext
	notified []lod.Source
}

func newFixture(t *testing.T, data *fakeProvider) *fixture {
	t.Helper()
	g := NewGeometryLayer(GeometryOptions{
		Options: Options{
			ID: "terrain",
			Source: provider.Source{
				ID:       "grid",
				Protocol: provider.ProtocolProcedural,
				Extent:   tile.NewExtent(tile.CRSLocal, 0, 0, 100, 100),
			},
		},
		GeometricError: 10,
	})

	procedural := provider.NewProcedural(2, logger.Nop())
	s := scheduler.New(config.Scheduler{MaxConcurrency: 4}, logger.Nop())
	require.NoError(t, s.Register(provider.ProtocolProcedural, procedural))
	require.NoError(t, s.Register("fake", data))

	f := &fixture{geometry: g}
	f.uc = &UpdateContext{
		Geometry:  g.ID(),
		Tree:      g.Tree(),
		Scheduler: s,
		Cache:     cache.New(config.Cache{Capacity: 64, MaxSize: 1 << 20}),
		Providers: map[string]provider.Provider{
			provider.ProtocolProcedural: procedural,
			"fake":                      data,
		},
		TTL:        time.Minute,
		MaxRetries: 2,
		Notify: func(src lod.Source, _ bool) {
			f.notified = append(f.notified, src)
		},
		Logger: logger.Nop(),
	}
	return f
}

func (f *fixture) root(t *testing.T) (tile.Handle, *tile.Node) {
	t.Helper()
	roots := f.geometry.Tree().Roots()
	require.Len(t, roots, 1)
	n, ok := f.geometry.Tree().Get(roots[0])
	require.True(t, ok)
	n.SetVisible(true)
	return roots[0], n
}

func settle(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.Poll()
		s.Dispatch(context.Background())
		if s.PendingCount() == 0 && s.RunningCount() == 0 {
			return
		}
		select {
		case <-s.Completions():
		case <-deadline:
			t.Fatal("scheduler did not settle")
		}
	}
}

func colorOptions() Options {
	return Options{
		ID:       "osm",
		Source:   provider.Source{ID: "osm", Protocol: "fake", URL: "https://tiles.test/{z}/{x}/{y}.png"},
		AttachTo: "terrain",
	}
}

func TestValidate(t *testing.T) {
	v := validator.New()

	empty := NewGeometryLayer(GeometryOptions{
		Options:        Options{ID: "g", Source: provider.Source{ID: "grid", Protocol: provider.ProtocolProcedural}},
		GeometricError: 1,
	})
	assert.ErrorIs(t, empty.Validate(v), ErrInvalidLayer)

	noID := NewColorLayer(Options{Source: provider.Source{ID: "osm", Protocol: "xyz", URL: "u"}, AttachTo: "g"})
	assert.ErrorIs(t, noID.Validate(v), ErrInvalidLayer)

	detached := NewColorLayer(Options{ID: "c", Source: provider.Source{ID: "osm", Protocol: "xyz", URL: "u"}})
	assert.ErrorIs(t, detached.Validate(v), ErrInvalidLayer)

	noURL := NewElevationLayer(Options{ID: "e", Source: provider.Source{ID: "dem", Protocol: "terrarium"}, AttachTo: "g"})
	assert.ErrorIs(t, noURL.Validate(v), ErrInvalidLayer)

	f := newFixture(t, textures())
	require.NoError(t, f.geometry.Validate(v))
	require.NoError(t, NewColorLayer(colorOptions()).Validate(v))
}

func TestAttach(t *testing.T) {
	f := newFixture(t, textures())
	require.NoError(t, f.geometry.Attach(NewColorLayer(colorOptions())))
	assert.ErrorIs(t, f.geometry.Attach(NewColorLayer(colorOptions())), ErrInvalidLayer)
	assert.Len(t, f.geometry.Attached(), 1)

	opts := colorOptions()
	opts.ID = "terrain"
	assert.ErrorIs(t, f.geometry.Attach(NewColorLayer(opts)), ErrInvalidLayer)
}

func TestUpdateLoadsMeshAndTexture(t *testing.T) {
	data := textures()
	f := newFixture(t, data)
	color := NewColorLayer(colorOptions())
	require.NoError(t, f.geometry.Attach(color))
	h, n := f.root(t)

	f.geometry.Update(f.uc, h, n)
	assert.Equal(t, 2, f.uc.Scheduler.PendingCount())
	assert.False(t, f.geometry.Ready(n))

	settle(t, f.uc.Scheduler)

	assert.True(t, f.geometry.Ready(n))
	_, ok := n.Attachments["terrain"].Payload.(*provider.Geometry)
	assert.True(t, ok)
	_, ok = n.Attachments["osm"].Payload.(*provider.Texture)
	assert.True(t, ok)
	assert.Equal(t, 2, f.uc.Cache.Count())
	assert.NotEmpty(t, f.notified)

	// nothing left to improve
	f.geometry.Update(f.uc, h, n)
	assert.Equal(t, 0, f.uc.Scheduler.PendingCount())
}

func TestChildInheritsAncestorTexture(t *testing.T) {
	f := newFixture(t, textures())
	color := NewColorLayer(colorOptions())
	require.NoError(t, f.geometry.Attach(color))
	h, n := f.root(t)
	f.geometry.Update(f.uc, h, n)
	settle(t, f.uc.Scheduler)

	tree := f.geometry.Tree()
	children, created := tree.Subdivide(h, time.Now())
	require.True(t, created)
	ch := children[3]
	cn, _ := tree.Get(ch)
	cn.SetVisible(true)

	f.notified = nil
	f.geometry.Update(f.uc, ch, cn)

	a := cn.Attachments["osm"]
	assert.True(t, a.Inherited)
	assert.Equal(t, h, a.Source)
	assert.Equal(t, tile.OffsetScale{OffsetX: 0.5, OffsetY: 0.5, ScaleX: 0.5, ScaleY: 0.5}, a.Transform)
	assert.True(t, color.Ready(tree, cn))
	assert.False(t, f.geometry.Ready(cn))
	assert.Contains(t, f.notified, lod.Source(lod.NodeChanged{Layer: "terrain", Node: h}))

	settle(t, f.uc.Scheduler)
	assert.False(t, a.Inherited)
	tex, ok := a.Payload.(*provider.Texture)
	require.True(t, ok)
	assert.Equal(t, cn.Coord, tex.Coord)
	assert.True(t, f.geometry.Ready(cn))
}

func TestRequestCacheHit(t *testing.T) {
	data := textures()
	f := newFixture(t, data)
	color := NewColorLayer(colorOptions())
	h, n := f.root(t)

	cached := &provider.Texture{Coord: n.Coord}
	f.uc.Cache.Set(cache.Key("osm", n.Coord, ""), cached, 0)

	color.Update(f.uc, h, n)
	assert.Equal(t, 0, f.uc.Scheduler.PendingCount())
	assert.Same(t, cached, n.Attachments["osm"].Payload)
	assert.Equal(t, tile.UpdateFinished, n.Attachments["osm"].State.Status)
	assert.Equal(t, int32(0), data.calls.Load())
}

func TestDefinitiveErrorThenRefresh(t *testing.T) {
	failing := &fakeProvider{fn: func(provider.Request) (any, error) {
		return nil, errors.New("boom")
	}}
	f := newFixture(t, failing)
	color := NewColorLayer(colorOptions())
	h, n := f.root(t)

	for i := 0; i < 3; i++ {
		color.Update(f.uc, h, n)
		settle(t, f.uc.Scheduler)
	}

	a := n.Attachments["osm"]
	assert.Equal(t, int32(2), failing.calls.Load())
	assert.Equal(t, tile.UpdateDefinitiveError, a.State.Status)
	assert.True(t, color.Ready(f.geometry.Tree(), n))

	assert.Equal(t, 1, color.Refresh(f.geometry.Tree()))
	assert.Equal(t, tile.UpdateIdle, a.State.Status)

	color.Update(f.uc, h, n)
	assert.Equal(t, 1, f.uc.Scheduler.PendingCount())
}

func TestInvisibleNodeCommandIsDropped(t *testing.T) {
	data := textures()
	f := newFixture(t, data)
	color := NewColorLayer(colorOptions())
	h, n := f.root(t)

	color.Update(f.uc, h, n)
	n.SetVisible(false)
	settle(t, f.uc.Scheduler)

	assert.Equal(t, int32(0), data.calls.Load())
	assert.Equal(t, tile.UpdateIdle, n.Attachments["osm"].State.Status)
}

func TestElevationTightensBox(t *testing.T) {
	dem := &fakeProvider{fn: func(req provider.Request) (any, error) {
		return &provider.Elevation{Width: 1, Height: 1, Heights: []float32{7}, Min: -5, Max: 42, Coord: req.Coord}, nil
	}}
	f := newFixture(t, dem)
	opts := colorOptions()
	opts.ID = "dem"
	elevation := NewElevationLayer(opts)
	h, n := f.root(t)

	elevation.Update(f.uc, h, n)
	settle(t, f.uc.Scheduler)

	assert.Equal(t, float32(-5), n.Box.Min.Z)
	assert.Equal(t, float32(42), n.Box.Max.Z)
	assert.True(t, elevation.Ready(f.geometry.Tree(), n))
}

func flatDEM() *fakeProvider {
	return &fakeProvider{fn: func(req provider.Request) (any, error) {
		h := float32(10 + 10*req.Coord.X)
		return &provider.Elevation{Width: 2, Height: 2, Heights: []float32{h, h, h, h}, Min: h, Max: h, Coord: req.Coord}, nil
	}}
}

// twoRoots loads a flat grid of height 10 on the west root and 20 on the
// east root and marks them as displayed neighbours.
func twoRoots(t *testing.T) (*fixture, *ElevationLayer, [2]tile.Handle, [2]*tile.Node) {
	t.Helper()
	f := newFixture(t, flatDEM())
	g := NewGeometryLayer(GeometryOptions{
		Options: Options{
			ID: "terrain",
			Source: provider.Source{
				ID:       "grid",
				Protocol: provider.ProtocolProcedural,
				Extent:   tile.NewExtent(tile.CRSLocal, 0, 0, 200, 100),
			},
		},
		RootsX:         2,
		GeometricError: 10,
	})
	f.uc.Tree = g.Tree()

	opts := colorOptions()
	opts.ID = "dem"
	elevation := NewElevationLayer(opts)

	roots := g.Tree().Roots()
	require.Len(t, roots, 2)
	west, _ := g.Tree().Get(roots[0])
	east, _ := g.Tree().Get(roots[1])
	require.Equal(t, tile.Coordinate{X: 1}, east.Coord)

	for i, n := range []*tile.Node{west, east} {
		n.SetVisible(true)
		elevation.Update(f.uc, roots[i], n)
	}
	settle(t, f.uc.Scheduler)

	west.SetDisplayed(true)
	east.SetDisplayed(true)
	west.Neighbors[tile.East] = tile.Neighbor{Handle: roots[1], Found: true}
	east.Neighbors[tile.West] = tile.Neighbor{Handle: roots[0], Found: true}
	return f, elevation, [2]tile.Handle{roots[0], roots[1]}, [2]*tile.Node{west, east}
}

func gridOf(t *testing.T, n *tile.Node) *provider.Elevation {
	t.Helper()
	elev, ok := n.Attachments["dem"].Payload.(*provider.Elevation)
	require.True(t, ok)
	return elev
}

func TestElevationStitchesSameLevelEdges(t *testing.T) {
	f, elevation, roots, nodes := twoRoots(t)
	west, east := nodes[0], nodes[1]

	elevation.Update(f.uc, roots[0], west)
	elevation.Update(f.uc, roots[1], east)

	westElev, eastElev := gridOf(t, west), gridOf(t, east)
	assert.Equal(t, float32(10), westElev.At(0, 0))
	assert.Equal(t, float32(15), westElev.At(1, 0))
	assert.Equal(t, float32(15), westElev.At(1, 1))
	assert.Equal(t, float32(15), eastElev.At(0, 1))
	assert.Equal(t, float32(20), eastElev.At(1, 1))

	// a second pass leaves the stitched edges as they are
	elevation.Update(f.uc, roots[0], west)
	assert.Equal(t, float32(15), westElev.At(1, 0))
}

func TestElevationStitchingLeavesCachedGridsAlone(t *testing.T) {
	f, elevation, roots, nodes := twoRoots(t)

	elevation.Update(f.uc, roots[0], nodes[0])
	elevation.Update(f.uc, roots[1], nodes[1])
	require.Equal(t, float32(15), gridOf(t, nodes[1]).At(0, 0))

	entries := f.uc.Cache.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		elev, ok := e.Value.(*provider.Elevation)
		require.True(t, ok)
		want := float32(10 + 10*elev.Coord.X)
		assert.Equal(t, []float32{want, want, want, want}, elev.Heights)
		assert.Equal(t, want, elev.Max)
	}
}

func TestElevationRestoresEdgeWhenNeighbourLeaves(t *testing.T) {
	f, elevation, roots, nodes := twoRoots(t)
	east := nodes[1]

	elevation.Update(f.uc, roots[1], east)
	require.Equal(t, float32(15), gridOf(t, east).At(0, 0))

	east.Neighbors[tile.West] = tile.Neighbor{Handle: roots[0], LevelDiff: 1, Found: true}
	elevation.Update(f.uc, roots[1], east)

	assert.Equal(t, []float32{20, 20, 20, 20}, gridOf(t, east).Heights)
}

func TestElevationCornersBlendWithDiagonalNeighbour(t *testing.T) {
	f := newFixture(t, &fakeProvider{fn: func(req provider.Request) (any, error) {
		h := float32(10 + 10*req.Coord.X + 20*req.Coord.Y)
		return &provider.Elevation{Width: 2, Height: 2, Heights: []float32{h, h, h, h}, Min: h, Max: h, Coord: req.Coord}, nil
	}})
	g := NewGeometryLayer(GeometryOptions{
		Options: Options{
			ID: "terrain",
			Source: provider.Source{
				ID:       "grid",
				Protocol: provider.ProtocolProcedural,
				Extent:   tile.NewExtent(tile.CRSLocal, 0, 0, 200, 200),
			},
		},
		RootsX:         2,
		RootsY:         2,
		GeometricError: 10,
	})
	tree := g.Tree()
	f.uc.Tree = tree

	opts := colorOptions()
	opts.ID = "dem"
	elevation := NewElevationLayer(opts)

	at := func(x, y uint32) (tile.Handle, *tile.Node) {
		h, ok := tree.Index().Lookup(tile.Coordinate{X: x, Y: y})
		require.True(t, ok)
		n, _ := tree.Get(h)
		return h, n
	}
	for _, h := range tree.Roots() {
		n, _ := tree.Get(h)
		n.SetVisible(true)
		elevation.Update(f.uc, h, n)
	}
	settle(t, f.uc.Scheduler)
	for _, h := range tree.Roots() {
		n, _ := tree.Get(h)
		n.SetDisplayed(true)
	}

	sw, swNode := at(0, 0)
	north, _ := at(0, 1)
	east, _ := at(1, 0)
	swNode.Neighbors[tile.North] = tile.Neighbor{Handle: north, Found: true}
	swNode.Neighbors[tile.East] = tile.Neighbor{Handle: east, Found: true}

	elevation.Update(f.uc, sw, swNode)

	grid := gridOf(t, swNode)
	// north east corner is shared by all four roots
	assert.Equal(t, float32(25), grid.At(1, 0))
	assert.Equal(t, float32(20), grid.At(0, 0))
	assert.Equal(t, float32(15), grid.At(1, 1))
	assert.Equal(t, float32(10), grid.At(0, 1))
}
