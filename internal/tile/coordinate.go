package tile

import "fmt"

// Coordinate identifies a node of the implicit quadtree of one dataset.
// Y grows northwards: child 0 and 1 share the southern half of their parent.
type Coordinate struct {
	Level uint32
	X     uint32
	Y     uint32
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Level, c.X, c.Y)
}

// Children returns the four child coordinates in south-west, south-east,
// north-west, north-east order, matching Extent.Quarter.
func (c Coordinate) Children() [4]Coordinate {
	l := c.Level + 1
	x, y := c.X*2, c.Y*2
	return [4]Coordinate{
		{Level: l, X: x, Y: y},
		{Level: l, X: x + 1, Y: y},
		{Level: l, X: x, Y: y + 1},
		{Level: l, X: x + 1, Y: y + 1},
	}
}

func (c Coordinate) Parent() (Coordinate, bool) {
	if c.Level == 0 {
		return Coordinate{}, false
	}
	return Coordinate{Level: c.Level - 1, X: c.X / 2, Y: c.Y / 2}, true
}

// FlipY converts between the y-up scheme used by the tree and the y-down
// scheme of XYZ tile servers.
func (c Coordinate) FlipY() Coordinate {
	n := uint32(1) << c.Level
	return Coordinate{Level: c.Level, X: c.X, Y: n - 1 - c.Y}
}
