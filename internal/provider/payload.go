package provider

import (
	"image"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

// Texture is a decoded raster tile.
type Texture struct {
	Image  image.Image
	Coord  tile.Coordinate
	Extent tile.Extent
}

func (t *Texture) SizeEstimate() int64 {
	if t == nil || t.Image == nil {
		return 0
	}
	b := t.Image.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// Elevation is a row major height grid, first row to the north.
type Elevation struct {
	Width   int
	Height  int
	Heights []float32
	Min     float32
	Max     float32
	Coord   tile.Coordinate
	Extent  tile.Extent
}

func (e *Elevation) SizeEstimate() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Heights)) * 4
}

// Clone returns a deep copy whose samples can be edited freely.
func (e *Elevation) Clone() *Elevation {
	c := *e
	c.Heights = append([]float32(nil), e.Heights...)
	return &c
}

// At returns the height at grid position (col, row).
func (e *Elevation) At(col, row int) float32 {
	return e.Heights[row*e.Width+col]
}

// Set overwrites a sample and widens Min/Max when needed.
func (e *Elevation) Set(col, row int, h float32) {
	e.Heights[row*e.Width+col] = h
	e.Min = math32.Min(e.Min, h)
	e.Max = math32.Max(e.Max, h)
}

// Geometry is the CPU side mesh of a tile.
type Geometry struct {
	Segments  int
	Positions []math32.Vector3
	Indices   []uint32
	Box       math32.Box3
}

func (g *Geometry) SizeEstimate() int64 {
	if g == nil {
		return 0
	}
	return int64(len(g.Positions))*12 + int64(len(g.Indices))*4
}
