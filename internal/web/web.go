// Package web implements the client-facing HTTP surface (ComponentWeb,
// §6): leaderboard fetch, score submission, replay download, beatmap
// file proxying, beatmap search, screenshot upload, and the direct-
// download redirect. Grounded on the teacher's Fiber handler-per-
// concern file layout (internal/server's now-retired *_handlers.go),
// rebuilt against this repo's score/leaderboard/beatmap packages
// instead of the social-platform repository/service layers.
package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dubserver/internal/beatmaps"
	"dubserver/internal/leaderboard"
	"dubserver/internal/models"
	"dubserver/internal/scores"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Handler wires the score engine, leaderboard service, and beatmap
// resolver into the osu!-web-compatible HTTP surface.
type Handler struct {
	DB         *gorm.DB
	Scores     *scores.Engine
	Leaderboard *leaderboard.Service
	Beatmaps   *beatmaps.Resolver
	DataDir    string
	MirrorURL  string
	HTTPClient *http.Client
}

func NewHandler(db *gorm.DB, engine *scores.Engine, lb *leaderboard.Service, resolver *beatmaps.Resolver, dataDir, mirrorURL string) *Handler {
	return &Handler{
		DB: db, Scores: engine, Leaderboard: lb, Beatmaps: resolver,
		DataDir: dataDir, MirrorURL: mirrorURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Register mounts every osu!-web endpoint §6 requires.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/web/osu-osz2-getscores.php", h.handleGetScores)
	router.Post("/web/osu-submit-modular-selector.php", h.handleSubmit)
	router.Get("/web/osu-getreplay.php", h.handleGetReplay)
	router.Get("/web/maps/:file", h.handleMapFile)
	router.Get("/web/osu-search.php", h.handleSearch)
	router.Get("/web/osu-search-set.php", h.handleSearch)
	router.Post("/web/osu-screenshot.php", h.handleScreenshot)
	router.Get("/d/:id", h.handleDirectDownload)
}

// handleGetScores implements GET /web/osu-osz2-getscores.php (§6): the
// leaderboard fetch a client issues after loading a beatmap.
func (h *Handler) handleGetScores(c *fiber.Ctx) error {
	checksum := c.Query("c")
	filename := c.Query("f")
	username := c.Query("us")
	modsParam := c.Query("mods")
	modeParam := c.Query("m")

	mods := parseUint32(modsParam)
	mode := models.Mode(parseInt(modeParam))
	effective := models.EffectivePlayMode(mode, mods)

	bm, err := h.Beatmaps.ByChecksum(c.UserContext(), checksum)
	if err != nil || bm == nil {
		// §4.3's last resort: missing from both storage and the mirror,
		// fall back to the official update endpoint's own MD5 check.
		result, ferr := h.Beatmaps.OfficialUpdateFallback(c.UserContext(), filename, checksum)
		if ferr == nil && result.NeedsUpdate {
			return c.SendString("1|false")
		}
		return c.SendString("-1|false")
	}

	rows, err := h.Leaderboard.BeatmapLeaderboard(c.UserContext(), checksum, effective, "", 50)
	if err != nil {
		return c.SendString(fmt.Sprintf("%d|false|%d|%d|0\n0\n%s - %s\n0\n\n0",
			int(bm.Status), bm.BeatmapID, bm.ParentID, bm.Artist, bm.Title))
	}

	var personalBest string
	var user models.User
	if err := h.DB.Where("username_safe = ?", models.NormalizeUsername(username)).First(&user).Error; err == nil {
		if best, err := h.Leaderboard.UserBestOnBeatmap(c.UserContext(), user.ID, checksum, effective); err == nil && best != nil {
			rank, _ := h.Leaderboard.GlobalRank(c.UserContext(), user.ID, effective)
			personalBest = scoreLine(*best, int32(user.ID), rank)
		}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%d|false|%d|%d|0", int(bm.Status), bm.BeatmapID, bm.ParentID))
	lines = append(lines, "0")
	lines = append(lines, fmt.Sprintf("%s - %s", bm.Artist, bm.Title))
	lines = append(lines, strconv.Itoa(len(rows)))
	lines = append(lines, personalBest)
	for i, row := range rows {
		lines = append(lines, scoreLine(row, int32(row.UserID), int32(i+1)))
	}
	return c.SendString(strings.Join(lines, "\n"))
}

// scoreLine renders one of the 16 pipe-separated leaderboard fields a
// client expects (§6); display_score is the rounded pp when the Relax
// bit is set, otherwise total_score.
func scoreLine(row leaderboard.Row, userID, rank int32) string {
	displayScore := row.TotalScore
	if row.Mods&models.ModsRelaxBit != 0 {
		displayScore = int64(row.Performance + 0.5)
	}
	perfect := "0"
	if row.Perfect {
		perfect = "1"
	}
	return fmt.Sprintf("%d|%s|%d|%d|%d|%d|%d|%d|%d|%d|%s|%d|%d|%d|%d|1",
		row.ScoreID, row.Username, displayScore, row.MaxCombo,
		row.Count50, row.Count100, row.Count300, row.CountMiss, row.CountKatu, row.CountGeki,
		perfect, row.Mods, userID, rank, row.SubmittedAt.Unix())
}

// handleSubmit implements POST /web/osu-submit-modular-selector.php
// (§6, §4.5): a multipart form carrying the encrypted score record,
// optional replay file, and the submitting client's version/password.
func (h *Handler) handleSubmit(c *fiber.Ctx) error {
	var replay []byte
	if fh, err := c.FormFile("score"); err == nil {
		f, err := fh.Open()
		if err == nil {
			defer f.Close()
			replay, _ = io.ReadAll(f)
		}
	}

	input := scores.Input{
		ScoreB64:      c.FormValue("score"),
		IVB64:         c.FormValue("iv"),
		ClientVersion: c.FormValue("osuver"),
		Password:      c.FormValue("pass"),
		Quit:          c.FormValue("x") == "1",
		ReplayBytes:   replay,
	}

	result, err := h.Scores.Submit(c.UserContext(), input)
	if err != nil {
		var subErr *scores.SubmissionError
		if errors.As(err, &subErr) {
			return c.SendString("error: " + subErr.Kind)
		}
		return c.SendString("error: no")
	}
	return c.Send(result.Chart)
}

// handleGetReplay implements GET /web/osu-getreplay.php (§6): the raw
// replay frame bytes for a score, or an error token matching the
// client's expected vocabulary.
func (h *Handler) handleGetReplay(c *fiber.Ctx) error {
	scoreID := c.Query("c")
	if scoreID == "" {
		return c.SendString("error: no")
	}
	path := filepath.Join(h.DataDir, "replays", scoreID+".osr_frames")
	body, err := os.ReadFile(path)
	if err != nil {
		return c.SendString("error: no")
	}
	return c.Send(body)
}

// handleMapFile implements GET /web/maps/:file (§6): an unconditional
// raw-bytes proxy to the official beatmap-update endpoint, no checksum
// comparison (that lives in handleGetScores's own fallback branch).
func (h *Handler) handleMapFile(c *fiber.Ctx) error {
	body, err := h.Beatmaps.ProxyOfficialFile(c.UserContext(), c.Params("file"))
	if err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.Send(body)
}

// handleSearch implements GET /web/osu-search.php and osu-search-set.php
// (§6): a thin proxy to the configured beatmap mirror's own search
// endpoint, since beatmap discovery is not this server's concern.
func (h *Handler) handleSearch(c *fiber.Ctx) error {
	if h.MirrorURL == "" {
		return c.SendString("-1")
	}
	url := h.MirrorURL + c.OriginalURL()
	req, err := http.NewRequestWithContext(c.UserContext(), http.MethodGet, url, nil)
	if err != nil {
		return c.SendString("-1")
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return c.SendString("-1")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.SendString("-1")
	}
	return c.Send(body)
}

// handleScreenshot implements POST /web/osu-screenshot.php (§6):
// persists the uploaded jpg and returns its public URL.
func (h *Handler) handleScreenshot(c *fiber.Ctx) error {
	fh, err := c.FormFile("ss")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("")
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("")
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("")
	}

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	dir := filepath.Join(h.DataDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("")
	}
	if err := os.WriteFile(filepath.Join(dir, id+".jpg"), body, 0o644); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("")
	}
	return c.SendString(id + ".jpg")
}

// handleDirectDownload implements GET /d/:id (§6): a redirect to the
// mirror's download URL for a beatmap set.
func (h *Handler) handleDirectDownload(c *fiber.Ctx) error {
	return c.Redirect(fmt.Sprintf("%s/d/%s", h.MirrorURL, c.Params("id")), fiber.StatusMovedPermanently)
}

func parseUint32(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
