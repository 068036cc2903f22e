package lod

import (
	"fmt"

	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

var infiniteSSE = math32.Inf(1)

// ErrorMetric turns a node's geometric error into a screen space error
// in pixels for the given camera.
type ErrorMetric interface {
	ScreenSpaceError(cam Camera, n *tile.Node) float32
}

func NewMetric(name string) (ErrorMetric, error) {
	switch name {
	case "box", "":
		return BoxMetric{}, nil
	case "sphere":
		return SphereMetric{}, nil
	default:
		return nil, fmt.Errorf("unknown error metric %q", name)
	}
}

// BoxMetric projects the node box scaled down to the geometric error.
type BoxMetric struct{}

func (m BoxMetric) ScreenSpaceError(cam Camera, n *tile.Node) float32 {
	v := m.Vector(cam, n)
	return math32.Max(v.X, math32.Max(v.Y, v.Z))
}

// Vector returns the projected length in pixels of each box edge after
// scaling. All three components are +Inf when the camera is within the
// geometric error of the box.
func (BoxMetric) Vector(cam Camera, n *tile.Node) math32.Vector3 {
	eps := n.GeometricError
	camLocal := toLocal(n.World, cam.Position())
	if n.Box.DistanceToPoint(camLocal) <= eps {
		return math32.Vec3(infiniteSSE, infiniteSSE, infiniteSSE)
	}

	size := n.Box.Size()
	largest := math32.Max(size.X, math32.Max(size.Y, size.Z))
	var scaled math32.Vector3
	if largest <= 0 {
		scaled = math32.Vec3(eps, eps, eps)
	} else {
		scaled = size.MulScalar(eps / largest)
	}

	anchor := n.Box.ClampPoint(camLocal)
	edges := [3]math32.Vector3{
		math32.Vec3(scaled.X, 0, 0),
		math32.Vec3(0, scaled.Y, 0),
		math32.Vec3(0, 0, scaled.Z),
	}

	vp := cam.ViewProjection()
	width, height := cam.Viewport()
	origin, ok := toPixels(vp, width, height, toWorld(n.World, anchor))
	if !ok {
		return math32.Vec3(infiniteSSE, infiniteSSE, infiniteSSE)
	}

	var out [3]float32
	for i, e := range edges {
		if e.X == 0 && e.Y == 0 && e.Z == 0 {
			continue
		}
		p, ok := toPixels(vp, width, height, toWorld(n.World, anchor.Add(e)))
		if !ok {
			out[i] = infiniteSSE
			continue
		}
		out[i] = p.Sub(origin).Length()
	}
	return math32.Vec3(out[0], out[1], out[2])
}

// SphereMetric projects the geometric error at the point of the bounding
// sphere closest to the camera, perpendicular to the view direction.
type SphereMetric struct{}

func (SphereMetric) ScreenSpaceError(cam Camera, n *tile.Node) float32 {
	sphere := n.Box.GetBoundingSphere()
	center := toWorld(n.World, sphere.Center)
	eye := cam.Position()

	toEye := eye.Sub(center)
	dist := toEye.Length()
	if dist <= sphere.Radius || dist == 0 {
		return infiniteSSE
	}
	dir := toEye.MulScalar(1 / dist)
	surface := center.Add(dir.MulScalar(sphere.Radius))

	// any axis not parallel to the view direction gives a perpendicular
	axis := math32.Vec3(0, 0, 1)
	if math32.Abs(dir.Z) > 0.9 {
		axis = math32.Vec3(1, 0, 0)
	}
	perp := dir.Cross(axis).Normal()
	offset := surface.Add(perp.MulScalar(n.GeometricError))

	vp := cam.ViewProjection()
	width, height := cam.Viewport()
	a, ok := toPixels(vp, width, height, surface)
	if !ok {
		return infiniteSSE
	}
	b, ok := toPixels(vp, width, height, offset)
	if !ok {
		return infiniteSSE
	}
	return b.Sub(a).Length()
}
