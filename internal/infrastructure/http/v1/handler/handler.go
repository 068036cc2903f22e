package handler

import (
	"context"
	"net/http"

	"cogentcore.org/core/math32"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/jaennil/guide_helper/tilestream/internal/view"
	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

// Loop is the part of the main loop the HTTP surface drives. Every method
// is safe to call from handler goroutines.
type Loop interface {
	Diagnostics() view.Diagnostics
	MoveCamera(ctx context.Context, position, target math32.Vector3) error
	RefreshLayer(ctx context.Context, id string) (int, error)
	Call(ctx context.Context, fn func() error) error
	View() *view.View
	Bus() *view.Bus
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	validate *validator.Validate
	loop     Loop
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewHandler(v *validator.Validate, loop Loop, l logger.Logger) *Handler {
	return &Handler{
		validate: v,
		loop:     loop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: l,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}
