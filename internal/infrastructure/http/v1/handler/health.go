package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, "OK")
}

func (h *Handler) Diagnostics(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusOK, "diagnostics", h.loop.Diagnostics())
}
