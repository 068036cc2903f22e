package layer

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jaennil/guide_helper/tilestream/internal/lod"
	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/repository/cache"
	"github.com/jaennil/guide_helper/tilestream/internal/scheduler"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

var ErrInvalidLayer = errors.New("invalid layer")

type Kind int

const (
	KindGeometry Kind = iota
	KindColor
	KindElevation
)

func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindColor:
		return "color"
	case KindElevation:
		return "elevation"
	default:
		return "unknown"
	}
}

// Layer is implemented by GeometryLayer, ColorLayer and ElevationLayer
// only.
type Layer interface {
	ID() string
	Kind() Kind
	Source() *provider.Source
	Visible() bool
	SetVisible(v bool)
	Validate(v *validator.Validate) error
	// Refresh clears the definitive errors of the layer on every node of
	// tree so the data is requested again. It returns the number of slots
	// reset.
	Refresh(tree *tile.Tree) int
	sealed()
}

// DataLayer is a layer drawn on top of a geometry layer's tiles.
type DataLayer interface {
	Layer
	AttachedTo() string
	// Update brings the layer's data for n up to date: inherit from an
	// ancestor, read the request cache or submit a command.
	Update(uc *UpdateContext, h tile.Handle, n *tile.Node)
	// Ready reports whether n can be drawn as far as this layer goes.
	Ready(tree *tile.Tree, n *tile.Node) bool
}

// Options are shared by every layer kind.
type Options struct {
	ID     string `validate:"required"`
	Source provider.Source
	// AttachTo is the geometry layer a data layer draws on.
	AttachTo string
	Hidden   bool
	Opacity  float64 `validate:"gte=0,lte=1"`
}

// UpdateContext carries the collaborators of one data update pass. It is
// built by the frame driver and only used from the loop goroutine.
type UpdateContext struct {
	Geometry   string
	Tree       *tile.Tree
	Scheduler  *scheduler.Scheduler
	Cache      *cache.Cache
	Providers  map[string]provider.Provider
	TTL        time.Duration
	MaxRetries int
	Notify     func(src lod.Source, redraw bool)
	Logger     logger.Logger
}

func (uc *UpdateContext) provider(protocol string) provider.Provider {
	return uc.Providers[protocol]
}

// changed asks for a pass over the part of the tree h's result may affect.
// The parent is included since it may be waiting for its children.
func (uc *UpdateContext) changed(h tile.Handle, redraw bool) {
	if uc.Notify == nil {
		return
	}
	scope := h
	if p, ok := uc.Tree.Parent(h); ok {
		scope = p
	}
	uc.Notify(lod.NodeChanged{Layer: uc.Geometry, Node: scope}, redraw)
}

type base struct {
	opts    Options
	visible bool
}

func newBase(opts Options) base {
	if opts.Opacity == 0 {
		opts.Opacity = 1
	}
	return base{opts: opts, visible: !opts.Hidden}
}

func (b *base) ID() string {
	return b.opts.ID
}

func (b *base) Source() *provider.Source {
	return &b.opts.Source
}

func (b *base) Visible() bool {
	return b.visible
}

func (b *base) SetVisible(v bool) {
	b.visible = v
}

func (b *base) Opacity() float64 {
	return b.opts.Opacity
}

func (b *base) sealed() {}

func (b *base) validate(v *validator.Validate) error {
	if err := v.Struct(b.opts); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidLayer, b.opts.ID, err)
	}
	return nil
}

func (b *base) refresh(tree *tile.Tree) int {
	count := 0
	for _, root := range tree.Roots() {
		tree.Walk(root, func(_ tile.Handle, n *tile.Node) bool {
			a, ok := n.Attachments[b.opts.ID]
			if ok && a.State.Definitive() {
				a.State.Reset()
				count++
			}
			return true
		})
	}
	return count
}

// covers reports whether the layer's provider serves n. Providers without
// a limit serve every tile.
func covers(p provider.Provider, src *provider.Source, n *tile.Node) bool {
	if limiter, ok := p.(provider.InsideLimiter); ok {
		return limiter.TileInsideLimit(n, src)
	}
	return true
}

// inherit points a at the payload of the closest ancestor that has its
// own data for the layer. It reports whether the shown data changed.
func inherit(tree *tile.Tree, layerID string, h tile.Handle, n *tile.Node, a *tile.Attachment) bool {
	if a.Payload != nil {
		return false
	}
	for p, ok := tree.Parent(h); ok; p, ok = tree.Parent(p) {
		pn, live := tree.Get(p)
		if !live {
			break
		}
		pa, has := pn.Attachments[layerID]
		if !has || pa.Payload == nil {
			continue
		}
		changed := !a.Inherited || a.Source != p
		a.Inherited = true
		a.Source = p
		a.Transform = pn.Extent.OffsetScale(n.Extent)
		return changed
	}
	return false
}

// own stores payload as the node's own data.
func own(h tile.Handle, a *tile.Attachment, payload any) {
	a.Payload = payload
	a.Raw = nil
	a.Seams = [3][3]tile.Handle{}
	a.Inherited = false
	a.Source = h
	a.Transform = tile.IdentityOffsetScale
}

// request resolves req for node h from the request cache, or submits a
// command whose result is applied once it arrives, if h is still live.
func request(uc *UpdateContext, layerID string, h tile.Handle, a *tile.Attachment, req provider.Request, apply func(n *tile.Node, payload any)) {
	if !a.State.CanRetry() {
		return
	}

	if v, ok := uc.Cache.Get(req.Key); ok {
		if n, live := uc.Tree.Get(h); live {
			apply(n, v)
			a.State.Success()
			uc.changed(h, true)
		}
		return
	}

	tree := uc.Tree
	cmd := &scheduler.Command{
		Protocol: req.Source.Protocol,
		Layer:    layerID,
		Key:      req.Key,
		Request:  req,
		PriorityFunc: func() float64 {
			if n, ok := tree.Get(h); ok {
				return float64(n.ScreenArea)
			}
			return 0
		},
		Cancelled: func() bool {
			n, ok := tree.Get(h)
			return !ok || !n.Visible || !tree.Attached(h)
		},
		Tracker: a.State,
		OnResult: func(v any) {
			uc.Cache.Set(req.Key, v, uc.TTL)
			n, ok := tree.Get(h)
			if !ok {
				return
			}
			apply(n, v)
			uc.changed(h, true)
		},
		OnError: func(err error) {
			uc.changed(h, false)
		},
	}

	if _, err := uc.Scheduler.Submit(cmd); err != nil && !errors.Is(err, scheduler.ErrDefinitiveError) {
		uc.Logger.Warn("failed to submit tile command", "layer", layerID, "key", req.Key, "error", err)
	}
}

// requestFor builds the request of n's own data.
func requestFor(src *provider.Source, n *tile.Node) provider.Request {
	return provider.Request{
		Source: src,
		Coord:  n.Coord,
		Extent: n.Extent,
		Format: src.Format,
		Key:    cache.Key(src.ID, n.Coord, src.Format),
	}
}
