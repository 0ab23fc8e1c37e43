package gateway

import (
	"context"
	"testing"
	"time"

	"dubserver/internal/channels"
	"dubserver/internal/geo"
	"dubserver/internal/models"
	"dubserver/internal/presence"
	"dubserver/internal/protocol"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeStats struct{}

func (fakeStats) Refresh(ctx context.Context, userID uint, mode models.Mode) (presence.StatsSnapshot, error) {
	return presence.StatsSnapshot{Rank: 1}, nil
}

type fakeAlerts struct {
	collisions [][]uint
}

func (f *fakeAlerts) PostHWIDCollision(ctx context.Context, userID uint, others []uint) {
	f.collisions = append(f.collisions, others)
}

func newTestGateway(t *testing.T) (*Gateway, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.HWID{}))

	registry := presence.NewRegistry()
	chanMgr := channels.NewManager(nil)
	chanMgr.LoadStatic([]models.ChannelRecord{
		{ID: 1, Name: "#osu", ChannelType: models.ChannelPublic},
		{ID: 2, Name: "#announce", ChannelType: models.ChannelPublic},
	})
	geoSvc := geo.NewService(true, nil)

	g := New(db, registry, chanMgr, geoSvc, fakeStats{}, &fakeAlerts{}, true, time.Minute)
	return g, db
}

func newApp(g *Gateway) *fiber.App {
	app := fiber.New()
	app.Post("/bancho", g.HandleRequest)
	return app
}

func TestHandleLoginSucceedsAndInitializesPresence(t *testing.T) {
	g, db := newTestGateway(t)
	user := models.User{Username: "alice", UsernameSafe: models.NormalizeUsername("alice"), PasswordHash: "whatever", Permissions: 1}
	require.NoError(t, db.Create(&user).Error)

	app := newApp(g)
	body := "alice\nlegacyhash\n1.0.0|0|_|plain:mac:uid:disk\n"
	req := newLoginRequest(t, body)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "nicht", resp.Header.Get("cho-token"))

	p, ok := g.Registry.ByToken(resp.Header.Get("cho-token"))
	require.True(t, ok)
	assert.Equal(t, user.ID, p.UserID)
}

func TestHandleLoginFailsOnUnknownUser(t *testing.T) {
	g, _ := newTestGateway(t)
	app := newApp(g)
	body := "ghost\nlegacyhash\n1.0.0|0|_|plain:mac:uid:disk\n"
	req := newLoginRequest(t, body)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "nicht", resp.Header.Get("cho-token"))
}

func TestFrameBatchRestartsOnUnknownToken(t *testing.T) {
	g, _ := newTestGateway(t)
	app := newApp(g)

	req := newFrameRequest(t, "bogus-token", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	out := readBody(t, resp)
	frames, _, err := protocol.DecodeFrames(out)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.BanchoRestart, frames[0].ID)
}

func TestFrameBatchChangeActionBroadcastsStats(t *testing.T) {
	g, _ := newTestGateway(t)
	alice := newLoggedInPresence(g, 1, "alice")
	bob := newLoggedInPresence(g, 2, "bob")
	alice.Dequeue()
	bob.Dequeue()

	w := protocol.NewWriter()
	protocol.WriteClientChangeAction(w, protocol.ClientChangeAction{OnlineStatus: 1, Description: "playing"})
	payload := protocol.EncodeFrame(protocol.OsuUserChangeAction, w.Bytes())

	app := newApp(g)
	req := newFrameRequest(t, alice.Token, payload)
	resp, err := app.Test(req)
	require.NoError(t, err)
	_ = readBody(t, resp)

	frames, _, err := protocol.DecodeFrames(bob.Dequeue())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.UserStats, frames[0].ID)
}

func TestFrameBatchSpectateStartAndStopEmitSymmetricPackets(t *testing.T) {
	g, _ := newTestGateway(t)
	host := newLoggedInPresence(g, 1, "host")
	viewer := newLoggedInPresence(g, 2, "viewer")
	host.Dequeue()
	viewer.Dequeue()

	w := protocol.NewWriter()
	w.WriteI32(int32(host.UserID))
	startPayload := protocol.EncodeFrame(protocol.OsuSpectateStart, w.Bytes())

	app := newApp(g)
	resp, err := app.Test(newFrameRequest(t, viewer.Token, startPayload))
	require.NoError(t, err)
	_ = readBody(t, resp)

	frames, _, err := protocol.DecodeFrames(host.Dequeue())
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.Equal(t, protocol.SpectatorJoined, frames[0].ID)
	assert.Same(t, host, viewer.Spectating())

	stopPayload := protocol.EncodeFrame(protocol.OsuSpectateStop, nil)
	resp, err = app.Test(newFrameRequest(t, viewer.Token, stopPayload))
	require.NoError(t, err)
	_ = readBody(t, resp)

	frames, _, err = protocol.DecodeFrames(host.Dequeue())
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.Equal(t, protocol.SpectatorLeft, frames[0].ID)
	assert.Nil(t, viewer.Spectating())
}

func TestFrameBatchLogoutDisposesPresence(t *testing.T) {
	g, _ := newTestGateway(t)
	alice := newLoggedInPresence(g, 1, "alice")
	alice.Dequeue()

	logoutPayload := protocol.EncodeFrame(protocol.OsuUserLogout, nil)
	app := newApp(g)
	resp, err := app.Test(newFrameRequest(t, alice.Token, logoutPayload))
	require.NoError(t, err)
	_ = readBody(t, resp)

	_, ok := g.Registry.ByToken(alice.Token)
	assert.False(t, ok)
}

func TestFrameBatchSilenceHitBroadcastsToEveryoneNotJustOffender(t *testing.T) {
	g, _ := newTestGateway(t)
	alice := newLoggedInPresence(g, 1, "alice")
	bob := newLoggedInPresence(g, 2, "bob")
	alice.Dequeue()
	bob.Dequeue()

	var batch []byte
	for i := 0; i < 6; i++ {
		w := protocol.NewWriter()
		protocol.WriteBanchoMessage(w, protocol.BanchoMessage{Sender: "alice", Content: "spam", Target: "#osu", SenderID: int32(alice.UserID)})
		batch = append(batch, protocol.EncodeFrame(protocol.OsuSendPublicMessage, w.Bytes())...)
	}

	app := newApp(g)
	resp, err := app.Test(newFrameRequest(t, alice.Token, batch))
	require.NoError(t, err)
	_ = readBody(t, resp)

	bobFrames, _, err := protocol.DecodeFrames(bob.Dequeue())
	require.NoError(t, err)
	require.NotEmpty(t, bobFrames)
	assert.Equal(t, protocol.UserSilenced, bobFrames[0].ID)

	aliceFrames, _, err := protocol.DecodeFrames(alice.Dequeue())
	require.NoError(t, err)
	require.NotEmpty(t, aliceFrames)
	assert.Equal(t, protocol.SilenceEnd, aliceFrames[0].ID)
}

func newLoggedInPresence(g *Gateway, id uint, username string) *presence.Presence {
	u := &models.User{ID: id, Username: username, UsernameSafe: models.NormalizeUsername(username), Permissions: 1}
	p := presence.New("tok-"+username, u, presence.ClientData{}, presence.Geo{})
	g.initUser(p)
	return p
}
