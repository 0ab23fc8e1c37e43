// Package admin implements the internal admin channel (C12): the
// session gateway's own HTTP endpoints for cross-process notification
// and stats-refresh signals, authenticated by a shared HMAC secret
// rather than a user session. Grounded on the teacher's handler-per-
// concern Fiber route style (internal/server/*_handlers.go) and its
// JSON {error, hint, message} response shape.
package admin

import (
	"context"
	"time"

	"dubserver/internal/channels"
	"dubserver/internal/models"
	"dubserver/internal/presence"
	"dubserver/internal/protocol"

	"github.com/gofiber/fiber/v2"
)

// StatsRefresher recomputes a user's cached stats for a mode, the same
// seam the gateway's StatsProvider uses.
type StatsRefresher interface {
	Refresh(ctx context.Context, userID uint, mode models.Mode) (presence.StatsSnapshot, error)
}

// Handler serves the internal admin endpoints.
type Handler struct {
	Registry        *presence.Registry
	Channels        *channels.Manager
	Stats           StatsRefresher
	Key             string
	PresenceTimeout time.Duration
}

func NewHandler(registry *presence.Registry, chanMgr *channels.Manager, stats StatsRefresher, key string, presenceTimeout time.Duration) *Handler {
	return &Handler{Registry: registry, Channels: chanMgr, Stats: stats, Key: key, PresenceTimeout: presenceTimeout}
}

// Register mounts the /api/v2/bancho/* routes (§6).
func (h *Handler) Register(router fiber.Router) {
	router.Get("/api/v2/bancho/stats", h.handleStats)
	router.Get("/api/v2/bancho/user/:id", h.handleUser)
	router.Post("/api/v2/bancho/notification", h.handleNotification)
	router.Post("/api/v2/bancho/update", h.handleUpdate)
}

func (h *Handler) handleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"online_users": h.Registry.Count(),
	})
}

func (h *Handler) handleUser(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "invalid id", ""))
	}
	p, ok := h.Registry.ByUserID(uint(id))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(errorBody("not_found", "user not online", ""))
	}
	status := p.Status()
	return c.JSON(fiber.Map{
		"user_id":    p.UserID,
		"username":   p.Username,
		"restricted": p.Restricted,
		"action":     status.ActionID,
	})
}

type notificationRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Target      string `json:"target"`
	Key         string `json:"key"`
}

func errorBody(kind, message, hint string) fiber.Map {
	return fiber.Map{"error": kind, "message": message, "hint": hint}
}

func (h *Handler) authorize(c *fiber.Ctx, key string) bool {
	return h.Key != "" && key == h.Key
}

// handleNotification implements §4.12's POST /notification: relay a PM,
// public chat line, or raw Notification packet from the bot's identity.
func (h *Handler) handleNotification(c *fiber.Ctx) error {
	var req notificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "malformed body", ""))
	}
	if !h.authorize(c, req.Key) {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	bot := h.Registry.Bot()
	ctx := c.UserContext()

	switch req.MessageType {
	case "pm":
		if bot == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody("no_bot", "bot is not online", ""))
		}
		if err := h.Channels.SendPrivate(bot, models.NormalizeUsername(req.Target), req.Message, h.Registry); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody("send_failed", err.Error(), ""))
		}
	case "chat":
		if bot == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody("no_bot", "bot is not online", ""))
		}
		if len(req.Target) == 0 || req.Target[0] != '#' {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "chat target must start with #", ""))
		}
		if err := h.Channels.SendPublic(bot, req.Target, req.Message); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody("send_failed", err.Error(), ""))
		}
	case "notification":
		target, ok := h.Registry.ByUsername(models.NormalizeUsername(req.Target))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(errorBody("not_found", "target not online", ""))
		}
		target.Enqueue(protocol.BuildNotification(req.Message))
	default:
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "unknown message_type", ""))
	}

	_ = ctx
	return c.SendStatus(fiber.StatusNoContent)
}

type updateRequest struct {
	Method string         `json:"method"`
	UserID uint           `json:"user_id"`
	Key    string         `json:"key"`
	Args   map[string]any `json:"args"`
}

// handleUpdate implements §4.12's POST /update: user:refresh and
// user:restricted, the two out-of-band state signals the score engine
// and moderation tooling raise against a live gateway.
func (h *Handler) handleUpdate(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "malformed body", ""))
	}
	if !h.authorize(c, req.Key) {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	ctx := c.UserContext()
	switch req.Method {
	case "user:refresh":
		h.refreshUser(ctx, req.UserID)
	case "user:restricted":
		restricted, _ := req.Args["restricted"].(bool)
		h.applyRestriction(ctx, req.UserID, restricted)
	case "presence:sweep":
		h.sweepStale()
	default:
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "unknown method", ""))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// sweepStale is the remote-triggerable twin of the gateway's own lazy
// sweep (§4.10 step 1, §9 Open Question 2): cmd/cleanup's cron backstop
// calls this via presence:sweep so presences still expire during a
// traffic lull, without the cleanup process holding its own reference
// to the live in-process registry.
func (h *Handler) sweepStale() {
	bot := h.Registry.Bot()
	for _, p := range h.Registry.Sweep(h.PresenceTimeout) {
		if bot != nil && p == bot {
			continue
		}
		h.disposePresence(p)
	}
}

func (h *Handler) disposePresence(p *presence.Presence) {
	h.Channels.PartAll(p)
	if host, spectators := p.ClearSpectatorLinks(); host != nil || len(spectators) > 0 {
		if host != nil {
			host.Enqueue(protocol.BuildSpectatorLeft(int32(p.UserID)))
		}
		for _, s := range spectators {
			s.Enqueue(protocol.BuildUserLogout(int32(p.UserID)))
		}
	}
	h.Registry.Remove(p.Token)
	h.Registry.Broadcast(protocol.BuildUserLogout(int32(p.UserID)), nil)
}

func (h *Handler) refreshUser(ctx context.Context, userID uint) {
	p, ok := h.Registry.ByUserID(userID)
	if !ok || h.Stats == nil {
		return
	}
	snapshot, err := h.Stats.Refresh(ctx, userID, p.Status().Mode)
	if err != nil {
		return
	}
	p.SetStats(snapshot)
	h.Registry.Broadcast(buildUserStatsPacket(p), nil)
}

func (h *Handler) applyRestriction(ctx context.Context, userID uint, restricted bool) {
	p, ok := h.Registry.ByUserID(userID)
	if !ok {
		return
	}
	bot := h.Registry.Bot()

	if restricted {
		p.Restricted = true
		if bot != nil {
			_ = h.Channels.SendPrivate(bot, p.UsernameSafe,
				"Your account has been restricted. Please relog to apply changes.", h.Registry)
		}
		h.Registry.Broadcast(protocol.BuildUserLogout(int32(userID)), nil)
		if host, spectators := p.ClearSpectatorLinks(); host != nil || len(spectators) > 0 {
			if host != nil {
				host.Enqueue(protocol.BuildSpectatorLeft(int32(p.UserID)))
			}
			for _, s := range spectators {
				s.Enqueue(protocol.BuildUserLogout(int32(p.UserID)))
			}
		}
		return
	}

	p.Restricted = false
	if h.Stats != nil {
		if snapshot, err := h.Stats.Refresh(ctx, userID, p.Status().Mode); err == nil {
			p.SetStats(snapshot)
		}
	}
	h.Registry.Broadcast(buildUserStatsPacket(p), nil)
	if bot != nil {
		_ = h.Channels.SendPrivate(bot, p.UsernameSafe,
			"Your account has been unrestricted. Welcome back!", h.Registry)
	}
}

func buildUserStatsPacket(p *presence.Presence) []byte {
	status := p.Status()
	stats := p.Stats()
	return protocol.BuildUserStats(protocol.UserStatsPayload{
		UserID: int32(p.UserID), Action: status.ActionID, InfoText: status.Description,
		BeatmapMD5: status.BeatmapMD5, Mods: status.Mods, Mode: uint8(status.Mode),
		BeatmapID: status.BeatmapID, RankedScore: stats.RankedScore, Accuracy: float32(stats.AvgAccuracy),
		Playcount: int32(stats.Playcount), TotalScore: stats.TotalScore, Rank: stats.Rank, PP: int32(stats.Performance),
	})
}
