package web

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dubserver/internal/beatmaps"
	"dubserver/internal/leaderboard"
	"dubserver/internal/models"
	"dubserver/internal/performance"
	"dubserver/internal/scores"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeRanking struct{}

func (fakeRanking) UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error {
	return nil
}
func (fakeRanking) GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error) {
	return 1, nil
}

type fakeNotifier struct{}

func (fakeNotifier) NotifyUserRefresh(ctx context.Context, userID uint)                   {}
func (fakeNotifier) AnnounceRank1(ctx context.Context, username string, beatmapID uint32) {}

func newTestHandler(t *testing.T) (*Handler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}, &models.Beatmap{}, &models.Punishment{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	resolver := beatmaps.New(db, t.TempDir(), "", "")
	lb := leaderboard.New(db, rdb)
	engine := scores.New(db, resolver, performance.New(), fakeRanking{}, fakeNotifier{}, t.TempDir(), true)

	h := NewHandler(db, engine, lb, resolver, t.TempDir(), "")
	return h, db
}

func newApp(h *Handler) *fiber.App {
	app := fiber.New()
	h.Register(app)
	return app
}

// newTestHandlerWithOfficial wires a resolver pointed at officialURL, for
// covering the GET /web/maps/:file and osu-osz2-getscores.php fallback
// paths that call out to the official update endpoint.
func newTestHandlerWithOfficial(t *testing.T, officialURL string) *Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}, &models.Beatmap{}, &models.Punishment{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	resolver := beatmaps.New(db, t.TempDir(), "", officialURL)
	lb := leaderboard.New(db, rdb)
	engine := scores.New(db, resolver, performance.New(), fakeRanking{}, fakeNotifier{}, t.TempDir(), true)

	return NewHandler(db, engine, lb, resolver, t.TempDir(), "")
}

func TestGetScoresReturnsNotSubmittedForUnknownBeatmap(t *testing.T) {
	h, _ := newTestHandler(t)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/osu-osz2-getscores.php?c=missing&us=alice&mods=0&m=0", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGetScoresReturnsEmptyLeaderboardForRankedBeatmap(t *testing.T) {
	h, db := newTestHandler(t)
	require.NoError(t, db.Create(&models.Beatmap{BeatmapID: 1, ParentID: 1, Checksum: "abc", Artist: "A", Title: "T", Status: models.BeatmapRanked}).Error)

	app := newApp(h)
	req := httptest.NewRequest("GET", "/web/osu-osz2-getscores.php?c=abc&us=alice&mods=0&m=0", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGetReplayReturnsNoErrorWhenMissing(t *testing.T) {
	h, _ := newTestHandler(t)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/osu-getreplay.php?c=123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	body := readAll(t, resp)
	require.Equal(t, "error: no", body)
}

func TestDirectDownloadRedirects(t *testing.T) {
	h, _ := newTestHandler(t)
	h.MirrorURL = "https://mirror.example"
	app := newApp(h)

	req := httptest.NewRequest("GET", "/d/123", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusMovedPermanently, resp.StatusCode)
	require.Equal(t, "https://mirror.example/d/123", resp.Header.Get("Location"))
}

func TestScreenshotPersistsUpload(t *testing.T) {
	h, _ := newTestHandler(t)
	app := newApp(h)

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("ss", "shot.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/web/osu-screenshot.php", strings.NewReader(body.String()))
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	result := readAll(t, resp)
	require.True(t, strings.HasSuffix(result, ".jpg"))
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandleMapFileProxiesOfficialEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("osu file bytes"))
	}))
	defer srv.Close()

	h := newTestHandlerWithOfficial(t, srv.URL)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/maps/123.osu", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "osu file bytes", readAll(t, resp))
}

func TestHandleMapFileReturnsNotFoundWhenOfficialEndpointFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := newTestHandlerWithOfficial(t, srv.URL)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/maps/missing.osu", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetScoresFallsBackToOfficialUpdateCheckOnMissingBeatmap(t *testing.T) {
	fileBody := []byte("osu file bytes for md5 check")
	sum := md5.Sum(fileBody)
	checksum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(fileBody)
	}))
	defer srv.Close()

	h := newTestHandlerWithOfficial(t, srv.URL)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/osu-osz2-getscores.php?c="+checksum+"&f=diff.osu&us=alice&mods=0&m=0", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "1|false", readAll(t, resp))
}

func TestGetScoresReportsUnsubmittedWhenOfficialChecksumMismatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("different bytes entirely"))
	}))
	defer srv.Close()

	h := newTestHandlerWithOfficial(t, srv.URL)
	app := newApp(h)

	req := httptest.NewRequest("GET", "/web/osu-osz2-getscores.php?c=deadbeef&f=diff.osu&us=alice&mods=0&m=0", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "-1|false", readAll(t, resp))
}
