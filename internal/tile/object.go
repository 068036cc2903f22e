package tile

// SceneObject is the capability set the engine needs from the scene graph
// to manage a tile's lifetime. Geometry and shaders stay opaque.
type SceneObject interface {
	Visible() bool
	SetVisible(bool)
	MaterialVisible() bool
	SetMaterialVisible(bool)
	Dispose()
	Traverse(fn func(SceneObject))
}

// Object is a minimal SceneObject used when no scene graph is attached.
type Object struct {
	visible         bool
	materialVisible bool
	disposed        bool
	children        []SceneObject
}

var _ SceneObject = (*Object)(nil)

func NewObject() *Object {
	return &Object{}
}

func (o *Object) Visible() bool {
	return o.visible
}

func (o *Object) SetVisible(v bool) {
	o.visible = v
}

func (o *Object) MaterialVisible() bool {
	return o.materialVisible
}

func (o *Object) SetMaterialVisible(v bool) {
	o.materialVisible = v
}

func (o *Object) Disposed() bool {
	return o.disposed
}

func (o *Object) Add(child SceneObject) {
	o.children = append(o.children, child)
}

func (o *Object) Dispose() {
	o.disposed = true
	o.visible = false
	o.materialVisible = false
}

func (o *Object) Traverse(fn func(SceneObject)) {
	fn(o)
	for _, c := range o.children {
		c.Traverse(fn)
	}
}
