package lod

import (
	"cogentcore.org/core/math32"
)

// Camera is what refinement needs to know about the point of view.
// Near/far are written back by the frame driver every pass.
type Camera interface {
	Position() math32.Vector3
	ViewProjection() *math32.Matrix4
	Viewport() (width, height float32)
	NearFar() (near, far float32)
	SetNearFar(near, far float32)
}

// PerspectiveCamera is a look-at camera with a symmetric perspective
// projection. FOV is vertical, in degrees.
type PerspectiveCamera struct {
	position math32.Vector3
	target   math32.Vector3
	up       math32.Vector3

	fov    float32
	width  float32
	height float32
	near   float32
	far    float32

	viewProj math32.Matrix4
	dirty    bool
}

var _ Camera = (*PerspectiveCamera)(nil)

func NewPerspectiveCamera(width, height, fov float32) *PerspectiveCamera {
	return &PerspectiveCamera{
		position: math32.Vec3(0, 0, 1),
		up:       math32.Vec3(0, 1, 0),
		fov:      fov,
		width:    width,
		height:   height,
		near:     0.1,
		far:      1000,
		dirty:    true,
	}
}

func (c *PerspectiveCamera) LookAt(position, target, up math32.Vector3) {
	c.position = position
	c.target = target
	c.up = up
	c.dirty = true
}

func (c *PerspectiveCamera) SetViewport(width, height float32) {
	c.width = width
	c.height = height
	c.dirty = true
}

func (c *PerspectiveCamera) Position() math32.Vector3 {
	return c.position
}

func (c *PerspectiveCamera) Target() math32.Vector3 {
	return c.target
}

func (c *PerspectiveCamera) Viewport() (float32, float32) {
	return c.width, c.height
}

func (c *PerspectiveCamera) NearFar() (float32, float32) {
	return c.near, c.far
}

func (c *PerspectiveCamera) SetNearFar(near, far float32) {
	if near == c.near && far == c.far {
		return
	}
	c.near = near
	c.far = far
	c.dirty = true
}

func (c *PerspectiveCamera) ViewProjection() *math32.Matrix4 {
	if c.dirty {
		c.update()
	}
	return &c.viewProj
}

func (c *PerspectiveCamera) update() {
	var look math32.Quat
	look.SetFromRotationMatrix(math32.NewLookAt(c.position, c.target, c.up))

	var world math32.Matrix4
	world.SetTransform(c.position, look, math32.Vec3(1, 1, 1))
	view, err := world.Inverse()
	if err != nil {
		view = math32.Identity4()
	}

	aspect := float32(1)
	if c.height > 0 {
		aspect = c.width / c.height
	}
	var proj math32.Matrix4
	proj.SetPerspective(c.fov, aspect, c.near, c.far)

	c.viewProj.MulMatrices(&proj, view)
	c.dirty = false
}
