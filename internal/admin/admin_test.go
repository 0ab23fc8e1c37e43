package admin

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dubserver/internal/channels"
	"dubserver/internal/models"
	"dubserver/internal/presence"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func strReader(s string) *strings.Reader { return strings.NewReader(s) }

type fakeStats struct{ snapshot presence.StatsSnapshot }

func (f fakeStats) Refresh(ctx context.Context, userID uint, mode models.Mode) (presence.StatsSnapshot, error) {
	return f.snapshot, nil
}

func newTestHandler(t *testing.T) (*Handler, *presence.Registry, *channels.Manager) {
	t.Helper()
	registry := presence.NewRegistry()
	chanMgr := channels.NewManager(nil)
	h := NewHandler(registry, chanMgr, fakeStats{snapshot: presence.StatsSnapshot{TotalScore: 42}}, "secret", 30*time.Second)
	return h, registry, chanMgr
}

func addPresence(registry *presence.Registry, id uint, username string) *presence.Presence {
	u := &models.User{ID: id, Username: username, Permissions: 1}
	p := presence.New("token-"+username, u, presence.ClientData{}, presence.Geo{})
	registry.Add(p)
	return p
}

func newApp(h *Handler) *fiber.App {
	app := fiber.New()
	h.Register(app)
	return app
}

func TestNotificationRejectsBadKey(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	addPresence(registry, 1, "Mio")
	registry.SetBot(mustGet(registry, 1))
	addPresence(registry, 2, "alice")

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/notification",
		strReader(`{"message":"hi","message_type":"pm","target":"alice","key":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationDeliversPM(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	bot := addPresence(registry, 1, "Mio")
	registry.SetBot(bot)
	alice := addPresence(registry, 2, "alice")

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/notification",
		strReader(`{"message":"hello","message_type":"pm","target":"alice","key":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.NotEmpty(t, alice.Dequeue())
}

func TestNotificationChatRequiresHashTarget(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	bot := addPresence(registry, 1, "Mio")
	registry.SetBot(bot)

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/notification",
		strReader(`{"message":"hi","message_type":"chat","target":"general","key":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUpdateUserRefreshBroadcastsStats(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	addPresence(registry, 5, "bob")

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/update",
		strReader(`{"method":"user:refresh","user_id":5,"key":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	p, _ := registry.ByUserID(5)
	require.Equal(t, int64(42), p.Stats().TotalScore)
}

func TestUpdateUserRestrictedClearsSpectators(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	host := addPresence(registry, 10, "host")
	spectator := addPresence(registry, 11, "watcher")
	spectator.StartSpectating(host)

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/update",
		strReader(`{"method":"user:restricted","user_id":10,"key":"secret","args":{"restricted":true}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.True(t, host.Restricted)
	require.Empty(t, host.Spectators())
}

func TestUpdatePresenceSweepEvictsExpired(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	h.PresenceTimeout = -1 * time.Second
	addPresence(registry, 20, "stale")

	app := newApp(h)
	req := httptest.NewRequest("POST", "/api/v2/bancho/update",
		strReader(`{"method":"presence:sweep","key":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	_, ok := registry.ByUserID(20)
	require.False(t, ok)
}

func mustGet(registry *presence.Registry, id uint) *presence.Presence {
	p, _ := registry.ByUserID(id)
	return p
}
