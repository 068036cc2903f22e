package tile

import (
	"time"

	"cogentcore.org/core/math32"
)

// State is the refinement state of a node.
type State int

const (
	// StateIdle: the node is not drawn itself, either because its
	// descendants cover it or because it is waiting for its data.
	StateIdle State = iota
	// StateSubdividing: children exist but are not all displayable yet,
	// the node keeps being drawn meanwhile.
	StateSubdividing
	// StateMerging: a merge was requested and the node waits for its own
	// data before its children are released.
	StateMerging
	StateDisplayed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubdividing:
		return "subdividing"
	case StateMerging:
		return "merging"
	case StateDisplayed:
		return "displayed"
	default:
		return "unknown"
	}
}

type Direction int

const (
	North Direction = iota
	East
	South
	West
)

var Directions = [4]Direction{North, East, South, West}

// Offset returns the column and row step towards d. Rows grow northwards.
func (d Direction) Offset() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case East:
		return 1, 0
	case South:
		return 0, -1
	default:
		return -1, 0
	}
}

func (d Direction) String() string {
	return [...]string{"north", "east", "south", "west"}[d]
}

// Neighbor is the displayed tile across one edge of a node. LevelDiff is
// log2(neighborWidth/selfWidth): positive when the neighbor is coarser.
type Neighbor struct {
	Handle    Handle
	LevelDiff float64
	Found     bool
}

// NoNeighbor flags an edge without a displayed neighbor.
var NoNeighbor = Neighbor{}

// Attachment is the per layer data slot of a node. Payload is the node's
// own data; Source points at the node whose payload is shown, which is an
// ancestor while the node inherits.
type Attachment struct {
	State     *LayerUpdateState
	Payload   any
	Source    Handle
	Inherited bool
	Transform OffsetScale

	// Raw is the payload as delivered while Payload holds a copy adjusted
	// to the neighbours. Seams are the neighbours that copy was adjusted
	// to, indexed by [dy+1][dx+1].
	Raw   any
	Seams [3][3]Handle
}

// HasData reports whether something, own or inherited, can be shown.
func (a *Attachment) HasData() bool {
	return a.Payload != nil || a.Inherited
}

type Node struct {
	Coord          Coordinate
	Extent         Extent
	Box            math32.Box3
	World          *math32.Matrix4
	GeometricError float32

	State      State
	StateSince time.Time
	Visible    bool
	Displayed  bool

	DistanceMin float32
	DistanceMax float32
	ScreenArea  float32
	SSE         float32
	Neighbors   [4]Neighbor

	Object      SceneObject
	Attachments map[string]*Attachment

	handle   Handle
	parent   Handle
	children []Handle
}

func (n *Node) Handle() Handle {
	return n.handle
}

func (n *Node) Parent() (Handle, bool) {
	return n.parent, !n.parent.IsZero()
}

func (n *Node) HasChildren() bool {
	return len(n.children) > 0
}

func (n *Node) Children() []Handle {
	out := make([]Handle, len(n.children))
	copy(out, n.children)
	return out
}

// Attachment returns the slot for layerID, creating it on first use.
func (n *Node) Attachment(layerID string, maxRetries int) *Attachment {
	if n.Attachments == nil {
		n.Attachments = make(map[string]*Attachment)
	}
	a, ok := n.Attachments[layerID]
	if !ok {
		a = &Attachment{
			State:     NewLayerUpdateState(maxRetries),
			Transform: IdentityOffsetScale,
		}
		n.Attachments[layerID] = a
	}
	return a
}

func (n *Node) SetVisible(v bool) {
	n.Visible = v
	if n.Object != nil {
		n.Object.SetVisible(v)
	}
}

func (n *Node) SetDisplayed(v bool) {
	n.Displayed = v
	if n.Object != nil {
		n.Object.SetMaterialVisible(v)
	}
}

func (n *Node) SetState(s State, now time.Time) {
	if n.State == s {
		return
	}
	n.State = s
	n.StateSince = now
}
