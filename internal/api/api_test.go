package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"dubserver/internal/auth"
	"dubserver/internal/avatar"
	"dubserver/internal/leaderboard"
	"dubserver/internal/models"
	"dubserver/internal/social"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T) (*Handler, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{},
		&models.Relationship{}, &auth.OAuthApplication{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	authSvc := auth.NewService(db, "test-secret", false)
	lb := leaderboard.New(db, rdb)
	socialSvc := social.New(db)
	avatars := avatar.New(t.TempDir())

	return NewHandler(authSvc, lb, socialSvc, avatars), db
}

func TestHandleTokenRejectsUnknownClient(t *testing.T) {
	h, _ := newTestHandler(t)
	app := fiber.New()
	h.Register(app)

	req := httptest.NewRequest("POST", "/oauth/token", strings.NewReader(
		`{"client_id":"nope","client_secret":"x","grant_type":"password"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleFriendsReturnsMutualSet(t *testing.T) {
	h, db := newTestHandler(t)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 2}).Error)
	require.NoError(t, db.Create(&models.Relationship{UserID: 2, FriendID: 1}).Error)

	app := fiber.New()
	h.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v2/users/1/friends", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandleBeatmapLeaderboardReturnsEmptySet(t *testing.T) {
	h, _ := newTestHandler(t)
	app := fiber.New()
	h.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v2/leaderboard/abc123", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
