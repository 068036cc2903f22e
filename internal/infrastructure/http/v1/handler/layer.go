package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/tilestream/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/tilestream/internal/layer"
	"github.com/jaennil/guide_helper/tilestream/internal/view"
)

func (h *Handler) Layers(c *gin.Context) {
	var out []dto.LayerResponse
	err := h.loop.Call(c.Request.Context(), func() error {
		for _, l := range h.loop.View().Layers() {
			resp := dto.LayerResponse{
				ID:       l.ID(),
				Kind:     l.Kind().String(),
				Protocol: l.Source().Protocol,
				Source:   l.Source().ID,
				Visible:  l.Visible(),
			}
			if d, ok := l.(layer.DataLayer); ok {
				resp.AttachTo = d.AttachedTo()
			}
			out = append(out, resp)
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to list layers", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "layers", out)
}

// RefreshLayer clears the definitive errors of a layer so the tiles that
// failed are requested again.
func (h *Handler) RefreshLayer(c *gin.Context) {
	id := c.Param("id")

	reset, err := h.loop.RefreshLayer(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, view.ErrUnknownLayer) {
			h.RespondWithJSON(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		h.logger.Error("failed to refresh layer", "layer", id, "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "layer refreshed", dto.RefreshResponse{Layer: id, Reset: reset})
}
