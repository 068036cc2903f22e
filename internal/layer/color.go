package layer

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jaennil/guide_helper/tilestream/internal/provider"
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// ColorLayer drapes raster imagery over the tiles of a geometry layer.
// Tiles without their own texture show their closest ancestor's texture
// through an offset/scale transform.
type ColorLayer struct {
	base
}

var _ DataLayer = (*ColorLayer)(nil)

func NewColorLayer(opts Options) *ColorLayer {
	return &ColorLayer{base: newBase(opts)}
}

func (l *ColorLayer) Kind() Kind {
	return KindColor
}

func (l *ColorLayer) AttachedTo() string {
	return l.opts.AttachTo
}

func (l *ColorLayer) Validate(v *validator.Validate) error {
	if err := l.validate(v); err != nil {
		return err
	}
	if l.opts.AttachTo == "" {
		return fmt.Errorf("%w: color layer %s is not attached to a geometry layer", ErrInvalidLayer, l.opts.ID)
	}
	return nil
}

func (l *ColorLayer) Refresh(tree *tile.Tree) int {
	return l.refresh(tree)
}

// Ready holds a tile back until it has a texture, inherited or not. Tiles
// outside the source coverage or in definitive error are drawn empty.
func (l *ColorLayer) Ready(tree *tile.Tree, n *tile.Node) bool {
	if !l.visible {
		return true
	}
	a, ok := n.Attachments[l.opts.ID]
	if !ok {
		return false
	}
	return a.HasData() || a.State.Definitive() || a.State.Status == tile.UpdateFinished
}

func (l *ColorLayer) Update(uc *UpdateContext, h tile.Handle, n *tile.Node) {
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
	if !covers(p, src, n) {
		// nothing finer exists, keep drawing whatever the ancestors have
		if a.State.Status == tile.UpdateIdle {
			a.State.Success()
			uc.changed(h, true)
		}
		return
	}

	req, ok := l.improvement(p, uc.Tree, src, n, a)
	if !ok {
		return
	}
	request(uc, l.opts.ID, h, a, req, func(n *tile.Node, payload any) {
		tex, ok := payload.(*provider.Texture)
		if !ok {
			return
		}
		own(h, n.Attachment(l.opts.ID, uc.MaxRetries), tex)
	})
}

// improvement returns the request for a finer texture than the one n shows.
func (l *ColorLayer) improvement(p provider.Provider, tree *tile.Tree, src *provider.Source, n *tile.Node, a *tile.Attachment) (provider.Request, bool) {
	current := l.texture(tree, a)
	if improver, ok := p.(provider.TextureImprover); ok {
		return improver.PossibleImprovement(src, n, current)
	}
	if current != nil && current.Coord == n.Coord {
		return provider.Request{}, false
	}
	return requestFor(src, n), true
}

// texture returns the texture a currently shows, own or inherited.
func (l *ColorLayer) texture(tree *tile.Tree, a *tile.Attachment) *provider.Texture {
	if tex, ok := a.Payload.(*provider.Texture); ok {
		return tex
	}
	if !a.Inherited {
		return nil
	}
	sn, ok := tree.Get(a.Source)
	if !ok {
		return nil
	}
	sa, ok := sn.Attachments[l.opts.ID]
	if !ok {
		return nil
	}
	tex, _ := sa.Payload.(*provider.Texture)
	return tex
}
