package lod

import (
	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// Source is something that changed since the last pass.
type Source interface {
	changeSource()
}

// CameraChanged requests a full update of every layer.
type CameraChanged struct{}

// LayerChanged requests a full update of one layer.
type LayerChanged struct {
	Layer string
}

// NodeChanged narrows the update of a layer to the subtree of Node.
type NodeChanged struct {
	Layer string
	Node  tile.Handle
}

func (CameraChanged) changeSource() {}
func (LayerChanged) changeSource()  {}
func (NodeChanged) changeSource()   {}

// ChangeSources collects the sources notified between two passes.
type ChangeSources struct {
	camera bool
	layers map[string]struct{}
	nodes  map[string][]tile.Handle
}

func NewChangeSources() *ChangeSources {
	return &ChangeSources{
		layers: make(map[string]struct{}),
		nodes:  make(map[string][]tile.Handle),
	}
}

func (c *ChangeSources) Add(s Source) {
	switch s := s.(type) {
	case CameraChanged:
		c.camera = true
	case LayerChanged:
		c.layers[s.Layer] = struct{}{}
	case NodeChanged:
		for _, h := range c.nodes[s.Layer] {
			if h == s.Node {
				return
			}
		}
		c.nodes[s.Layer] = append(c.nodes[s.Layer], s.Node)
	}
}

func (c *ChangeSources) Empty() bool {
	return !c.camera && len(c.layers) == 0 && len(c.nodes) == 0
}

// Scope tells how layerID must be updated: not at all, fully (nil scope)
// or only below the returned nodes.
func (c *ChangeSources) Scope(layerID string) (scope []tile.Handle, update bool) {
	if c.camera {
		return nil, true
	}
	if _, ok := c.layers[layerID]; ok {
		return nil, true
	}
	nodes, ok := c.nodes[layerID]
	if !ok {
		return nil, false
	}
	out := make([]tile.Handle, len(nodes))
	copy(out, nodes)
	return out, true
}

func (c *ChangeSources) Reset() {
	c.camera = false
	clear(c.layers)
	clear(c.nodes)
}
