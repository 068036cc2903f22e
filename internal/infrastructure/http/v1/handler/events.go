package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/guide_helper/tilestream/internal/view"
)

const (
	eventBuffer = 64
	writeWait   = 5 * time.Second
)

var streamedPhases = []view.Phase{view.PhaseAfterRender, view.PhaseUpdateEnd, view.PhaseIdle}

// Events streams frame lifecycle events over a websocket. Events are
// dropped when the client does not keep up, the loop never waits for it.
func (h *Handler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade events connection", "error", err)
		return
	}
	defer conn.Close()

	events := make(chan view.Event, eventBuffer)
	bus := h.loop.Bus()
	subs := make([]view.Subscription, 0, len(streamedPhases))
	for _, p := range streamedPhases {
		subs = append(subs, bus.Subscribe(p, func(e view.Event) {
			select {
			case events <- e:
			default:
			}
		}))
	}
	defer func() {
		for _, s := range subs {
			bus.Unsubscribe(s)
		}
	}()

	// reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("events client connected", "ip", c.ClientIP())
	for {
		select {
		case <-closed:
			h.logger.Debug("events client disconnected", "ip", c.ClientIP())
			return
		case <-c.Request.Context().Done():
			return
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("failed to write event", "error", err)
				return
			}
		}
	}
}
