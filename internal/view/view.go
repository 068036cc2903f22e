package view

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jaennil/guide_helper/tilestream/internal/layer"
	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

var (
	ErrDuplicateLayer  = errors.New("duplicate layer id")
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrUnknownParent   = errors.New("unknown parent layer")
	ErrUnknownLayer    = errors.New("unknown layer")
	ErrInvalidLayer    = layer.ErrInvalidLayer
)

// Renderer draws the displayed tiles of a view.
type Renderer interface {
	Render(v *View)
}

// View is a camera plus the layers drawn through it. It is owned by the
// loop goroutine once the loop runs.
type View struct {
	camera    lod.Camera
	layers    []layer.Layer
	byID      map[string]layer.Layer
	geometry  []*layer.GeometryLayer
	providers map[string]provider.Provider
	scheduler *scheduler.Scheduler
	validate  *validator.Validate
	logger    logger.Logger
}

func New(cam lod.Camera, s *scheduler.Scheduler, v *validator.Validate, l logger.Logger) *View {
	return &View{
		camera:    cam,
		byID:      make(map[string]layer.Layer),
		providers: make(map[string]provider.Provider),
		scheduler: s,
		validate:  v,
		logger:    l,
	}
}

// RegisterProvider makes protocol available to layers and to the
// scheduler.
func (v *View) RegisterProvider(protocol string, p provider.Provider) error {
	if err := v.scheduler.Register(protocol, p); err != nil {
		return err
	}
	v.providers[protocol] = p
	return nil
}

// AddLayer validates l, prepares its source and registers it. Data layers
// must name an already added geometry layer.
func (v *View) AddLayer(ctx context.Context, l layer.Layer) error {
	if _, ok := v.byID[l.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, l.ID())
	}
	if err := l.Validate(v.validate); err != nil {
		return err
	}

	src := l.Source()
	p, ok := v.providers[src.Protocol]
	if !ok {
		return fmt.Errorf("%w: %q for layer %s", ErrUnknownProtocol, src.Protocol, l.ID())
	}

	var parent *layer.GeometryLayer
	if d, ok := l.(layer.DataLayer); ok {
		g, ok := v.byID[d.AttachedTo()].(*layer.GeometryLayer)
		if !ok {
			return fmt.Errorf("%w: %q for layer %s", ErrUnknownParent, d.AttachedTo(), l.ID())
		}
		parent = g
	}

	if err := p.Preprocess(ctx, src); err != nil {
		return fmt.Errorf("failed to prepare layer %s: %w", l.ID(), err)
	}

	switch t := l.(type) {
	case *layer.GeometryLayer:
		v.geometry = append(v.geometry, t)
	case layer.DataLayer:
		if err := parent.Attach(t); err != nil {
			return err
		}
	}
	v.layers = append(v.layers, l)
	v.byID[l.ID()] = l

	v.logger.Info("layer added", "layer", l.ID(), "kind", l.Kind().String(), "protocol", src.Protocol)
	return nil
}

func (v *View) Camera() lod.Camera {
	return v.camera
}

func (v *View) Layer(id string) (layer.Layer, bool) {
	l, ok := v.byID[id]
	return l, ok
}

// Layers returns every layer in registration order.
func (v *View) Layers() []layer.Layer {
	out := make([]layer.Layer, len(v.layers))
	copy(out, v.layers)
	return out
}

func (v *View) GeometryLayers() []*layer.GeometryLayer {
	out := make([]*layer.GeometryLayer, len(v.geometry))
	copy(out, v.geometry)
	return out
}

func (v *View) Providers() map[string]provider.Provider {
	return v.providers
}

// geometryOf returns the geometry layer whose tiles carry l's data.
func (v *View) geometryOf(l layer.Layer) *layer.GeometryLayer {
	switch t := l.(type) {
	case *layer.GeometryLayer:
		return t
	case layer.DataLayer:
		g, _ := v.byID[t.AttachedTo()].(*layer.GeometryLayer)
		return g
	}
	return nil
}

// Displayed returns the drawn tiles of every geometry layer.
func (v *View) Displayed() map[string][]*tile.Node {
	out := make(map[string][]*tile.Node, len(v.geometry))
	for _, g := range v.geometry {
		tree := g.Tree()
		for _, h := range tree.Displayed() {
			if n, ok := tree.Get(h); ok {
				out[g.ID()] = append(out[g.ID()], n)
			}
		}
	}
	return out
}
