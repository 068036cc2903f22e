package handler

import (
	"errors"
	"fmt"
	"net/http"

	"cogentcore.org/core/math32"
	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/tilestream/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/tilestream/internal/view"
)

func (h *Handler) MoveCamera(c *gin.Context) {
	var req dto.CameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, ErrFailedToDecodeRequestBody.Error(), nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.RespondWithJSON(c, http.StatusBadRequest, fmt.Sprintf("%s: %v", ErrInvalidRequest, err), nil)
		return
	}

	position := math32.Vec3(req.Position[0], req.Position[1], req.Position[2])
	target := math32.Vec3(req.Target[0], req.Target[1], req.Target[2])
	if err := h.loop.MoveCamera(c.Request.Context(), position, target); err != nil {
		if errors.Is(err, view.ErrFixedCamera) {
			h.RespondWithJSON(c, http.StatusConflict, err.Error(), nil)
			return
		}
		h.logger.Error("failed to move camera", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "camera moved", nil)
}
