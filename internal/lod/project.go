package lod

import (
	"cogentcore.org/core/math32"

	"github.com/jaennil/guide_helper/tilestream/internal/tile"
)

const minClipW = 1e-6

// toWorld applies an optional world transform to a local point.
func toWorld(world *math32.Matrix4, p math32.Vector3) math32.Vector3 {
	if world == nil {
		return p
	}
	return math32.Vector4FromVector3(p, 1).MulMatrix4(world).PerspDiv()
}

// toLocal brings a world point into the local frame of a node.
func toLocal(world *math32.Matrix4, p math32.Vector3) math32.Vector3 {
	if world == nil {
		return p
	}
	inv, err := world.Inverse()
	if err != nil {
		return p
	}
	return math32.Vector4FromVector3(p, 1).MulMatrix4(inv).PerspDiv()
}

// toPixels projects a world point to pixel offsets from the viewport
// center. Points behind the eye are mirrored so lengths stay finite.
func toPixels(viewProj *math32.Matrix4, width, height float32, p math32.Vector3) (math32.Vector2, bool) {
	clip := math32.Vector4FromVector3(p, 1).MulMatrix4(viewProj)
	w := clip.W
	if w < 0 {
		w = -w
	}
	if w < minClipW {
		return math32.Vector2{}, false
	}
	return math32.Vec2(clip.X/w*width/2, clip.Y/w*height/2), true
}

func worldBox(n *tile.Node) math32.Box3 {
	if n.World == nil {
		return n.Box
	}
	return n.Box.MulMatrix4(n.World)
}

func corners(b math32.Box3) [8]math32.Vector3 {
	return [8]math32.Vector3{
		math32.Vec3(b.Min.X, b.Min.Y, b.Min.Z),
		math32.Vec3(b.Min.X, b.Min.Y, b.Max.Z),
		math32.Vec3(b.Min.X, b.Max.Y, b.Min.Z),
		math32.Vec3(b.Max.X, b.Min.Y, b.Min.Z),
		math32.Vec3(b.Max.X, b.Max.Y, b.Max.Z),
		math32.Vec3(b.Max.X, b.Max.Y, b.Min.Z),
		math32.Vec3(b.Max.X, b.Min.Y, b.Max.Z),
		math32.Vec3(b.Min.X, b.Max.Y, b.Max.Z),
	}
}

// frustum classifies a world box against the view frustum in clip space
// and returns its projected screen area in pixels. A box straddling the eye
// plane is reported visible with the full viewport as area.
func frustum(cam Camera, b math32.Box3) (visible bool, area float32) {
	vp := cam.ViewProjection()
	width, height := cam.Viewport()

	var outside [6]int
	behind := 0
	ndc := math32.B3Empty()
	for _, c := range corners(b) {
		clip := math32.Vector4FromVector3(c, 1).MulMatrix4(vp)
		if clip.X < -clip.W {
			outside[0]++
		}
		if clip.X > clip.W {
			outside[1]++
		}
		if clip.Y < -clip.W {
			outside[2]++
		}
		if clip.Y > clip.W {
			outside[3]++
		}
		if clip.Z < -clip.W {
			outside[4]++
		}
		if clip.Z > clip.W {
			outside[5]++
		}
		if clip.W <= minClipW {
			behind++
			continue
		}
		ndc.ExpandByPoint(clip.PerspDiv())
	}
	if behind == 8 {
		return false, 0
	}
	for _, o := range outside {
		if o == 8 {
			return false, 0
		}
	}
	if behind > 0 {
		return true, width * height
	}

	minX := math32.Max(ndc.Min.X, -1)
	maxX := math32.Min(ndc.Max.X, 1)
	minY := math32.Max(ndc.Min.Y, -1)
	maxY := math32.Min(ndc.Max.Y, 1)
	if maxX <= minX || maxY <= minY {
		return true, 0
	}
	return true, (maxX - minX) * width / 2 * (maxY - minY) * height / 2
}
