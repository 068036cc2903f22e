package dto

type CameraRequest struct {
	Position []float32 `json:"position" validate:"required,len=3"`
	Target   []float32 `json:"target" validate:"required,len=3"`
}

type RefreshResponse struct {
	Layer string `json:"layer"`
	Reset int    `json:"reset"`
}

type LayerResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Protocol string `json:"protocol"`
	Source   string `json:"source"`
	Visible  bool   `json:"visible"`
	// AttachTo is empty for geometry layers.
	AttachTo string `json:"attach_to,omitempty"`
}
