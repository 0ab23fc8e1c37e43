package admin

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterDebugStream mounts a key-gated websocket endpoint that pushes
// the live online-user count every second, for an ops dashboard to
// watch outside of scraping /stats on a poll loop. Grounded on the
// teacher's notification Hub's connection-accept shape
// (internal/notifications/hub.go), trimmed from its per-user fan-out
// down to a single broadcaster since this is an operations dev harness,
// not the bancho wire protocol itself.
func (h *Handler) RegisterDebugStream(router fiber.Router) {
	router.Get("/api/v2/bancho/debug/ws", websocket.New(func(c *websocket.Conn) {
		if c.Query("key") != h.Key || h.Key == "" {
			c.Close()
			return
		}

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			if err := c.WriteJSON(fiber.Map{"online_users": h.Registry.Count()}); err != nil {
				return
			}
		}
	}))
}
