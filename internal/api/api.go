// Package api implements the public HTTP API role: the oauth token
// endpoint (C1) and the read-only JSON surfaces (C6 leaderboard, the
// mutual-friendship query, avatar upload) that sit outside the game
// client's own web/ surface. Grounded on the teacher's handler-per-
// concern Fiber route style (internal/server/*_handlers.go) and its
// JSON {error, hint, message} response shape, reused here via
// internal/admin's errorBody convention.
package api

import (
	"dubserver/internal/auth"
	"dubserver/internal/avatar"
	"dubserver/internal/leaderboard"
	"dubserver/internal/models"
	"dubserver/internal/social"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the public API endpoints.
type Handler struct {
	Auth        *auth.Service
	Leaderboard *leaderboard.Service
	Social      *social.Service
	Avatars     *avatar.Store
}

func NewHandler(authSvc *auth.Service, lb *leaderboard.Service, socialSvc *social.Service, avatars *avatar.Store) *Handler {
	return &Handler{Auth: authSvc, Leaderboard: lb, Social: socialSvc, Avatars: avatars}
}

// Register mounts the public API routes.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/oauth/token", h.handleToken)
	router.Get("/api/v2/leaderboard/:checksum", h.handleBeatmapLeaderboard)
	router.Get("/api/v2/users/:id/friends", h.handleFriends)
	router.Post("/api/v2/users/:id/avatar", h.handleAvatarUpload)
}

func errorBody(kind, message, hint string) fiber.Map {
	return fiber.Map{"error": kind, "message": message, "hint": hint}
}

// handleToken implements POST /oauth/token (C1's login operation),
// the client-credentials/password/refresh_token grant dispatcher.
func (h *Handler) handleToken(c *fiber.Ctx) error {
	var req auth.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("invalid_request", "malformed body", ""))
	}

	resp, err := h.Auth.Login(c.UserContext(), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}
	if resp.Error != "" {
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
	return c.JSON(resp)
}

// handleBeatmapLeaderboard implements the C6 per-beatmap ranked query,
// mode/mods-partitioned (§5), for clients that want a JSON leaderboard
// outside the game client's own binary osu-osz2-getscores.php surface.
func (h *Handler) handleBeatmapLeaderboard(c *fiber.Ctx) error {
	checksum := c.Params("checksum")
	mode := models.Mode(c.QueryInt("mode", int(models.ModeStd)))
	country := c.Query("country")
	limit := c.QueryInt("limit", 50)

	rows, err := h.Leaderboard.BeatmapLeaderboard(c.UserContext(), checksum, mode, country, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}
	return c.JSON(fiber.Map{"scores": rows})
}

// handleFriends implements the Relationship model's mutual-friendship
// query (SUPPLEMENTED FEATURES), not a full social-profile surface.
func (h *Handler) handleFriends(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "invalid id", ""))
	}

	friends, err := h.Social.Friends(c.UserContext(), uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}
	mutual, err := h.Social.MutualFriends(c.UserContext(), uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}
	return c.JSON(fiber.Map{"friends": friends, "mutual": mutual})
}

// handleAvatarUpload resizes and persists an uploaded avatar, returning
// the persisted-state layout's relative avatar path (§6).
func (h *Handler) handleAvatarUpload(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "invalid id", ""))
	}

	fh, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("bad_request", "missing avatar file", ""))
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}
	defer f.Close()

	raw := make([]byte, fh.Size)
	if _, err := f.Read(raw); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody("server_error", err.Error(), ""))
	}

	path, err := h.Avatars.Save(uint(id), raw)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody("decode_failed", err.Error(), ""))
	}
	return c.JSON(fiber.Map{"path": path})
}
