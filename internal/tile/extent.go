package tile

import (
	"github.com/paulmach/orb"
)

const (
	CRSWebMercator = "EPSG:3857"
	CRSWGS84       = "EPSG:4326"
	CRSLocal       = "local"
)

// Extent is an axis aligned rectangle in a named CRS.
type Extent struct {
	CRS   string
	Bound orb.Bound
}

func NewExtent(crs string, minX, minY, maxX, maxY float64) Extent {
	return Extent{
		CRS: crs,
		Bound: orb.Bound{
			Min: orb.Point{minX, minY},
			Max: orb.Point{maxX, maxY},
		},
	}
}

func (e Extent) MinX() float64 { return e.Bound.Min.X() }
func (e Extent) MinY() float64 { return e.Bound.Min.Y() }
func (e Extent) MaxX() float64 { return e.Bound.Max.X() }
func (e Extent) MaxY() float64 { return e.Bound.Max.Y() }

func (e Extent) Dimensions() (width, height float64) {
	return e.MaxX() - e.MinX(), e.MaxY() - e.MinY()
}

func (e Extent) Center() orb.Point {
	return e.Bound.Center()
}

func (e Extent) Contains(p orb.Point) bool {
	return e.Bound.Contains(p)
}

func (e Extent) Intersects(o Extent) bool {
	return e.CRS == o.CRS && e.Bound.Intersects(o.Bound)
}

// Pad grows the extent by margin on every side.
func (e Extent) Pad(margin float64) Extent {
	return Extent{CRS: e.CRS, Bound: e.Bound.Pad(margin)}
}

// Quarter splits the extent at its center. The four parts share edges
// exactly, so they partition the parent without gaps.
func (e Extent) Quarter() [4]Extent {
	c := e.Center()
	minX, minY, maxX, maxY := e.MinX(), e.MinY(), e.MaxX(), e.MaxY()
	return [4]Extent{
		NewExtent(e.CRS, minX, minY, c.X(), c.Y()),
		NewExtent(e.CRS, c.X(), minY, maxX, c.Y()),
		NewExtent(e.CRS, minX, c.Y(), c.X(), maxY),
		NewExtent(e.CRS, c.X(), c.Y(), maxX, maxY),
	}
}

// OffsetScale locates child inside e in normalized units. It is the
// transform used to sample an ancestor's texture for a descendant tile.
type OffsetScale struct {
	OffsetX, OffsetY float64
	ScaleX, ScaleY   float64
}

var IdentityOffsetScale = OffsetScale{ScaleX: 1, ScaleY: 1}

func (e Extent) OffsetScale(child Extent) OffsetScale {
	w, h := e.Dimensions()
	if w == 0 || h == 0 {
		return IdentityOffsetScale
	}
	cw, ch := child.Dimensions()
	return OffsetScale{
		OffsetX: (child.MinX() - e.MinX()) / w,
		OffsetY: (child.MinY() - e.MinY()) / h,
		ScaleX:  cw / w,
		ScaleY:  ch / h,
	}
}
