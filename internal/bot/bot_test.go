package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dubserver/internal/beatmaps"
	"dubserver/internal/channels"
	"dubserver/internal/models"
	"dubserver/internal/performance"
	"dubserver/internal/presence"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestBot(t *testing.T) (*Bot, *gorm.DB, *presence.Registry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Beatmap{}, &models.Score{}))

	dataDir := t.TempDir()
	resolver := beatmaps.New(db, dataDir, "", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "beatmaps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "beatmaps", "1.osu"), []byte("osu file format v14"), 0o644))

	registry := presence.NewRegistry()
	chanMgr := channels.NewManager(nil)
	chanMgr.LoadStatic([]models.ChannelRecord{{Name: "#announce", ChannelType: models.ChannelPublic, Description: "announcements"}})

	b := New(db, chanMgr, registry, resolver, performance.New(), "")
	return b, db, registry
}

func addBotPresence(registry *presence.Registry) *presence.Presence {
	u := &models.User{ID: 1, Username: BotUsername, Permissions: 0}
	p := presence.New("bot-token", u, presence.ClientData{}, presence.Geo{})
	registry.Add(p)
	registry.SetBot(p)
	return p
}

func addUserPresence(registry *presence.Registry, id uint, username string, perms uint32) *presence.Presence {
	u := &models.User{ID: id, Username: username, Permissions: perms}
	p := presence.New("token-"+username, u, presence.ClientData{}, presence.Geo{})
	registry.Add(p)
	return p
}

func TestHandlePublicIgnoresNonCommand(t *testing.T) {
	b, _, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "alice", 0)
	require.False(t, b.HandlePublic(context.Background(), sender, "hello there"))
}

func TestHandlePublicRollRepliesViaDM(t *testing.T) {
	b, _, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "alice", 0)

	consumed := b.HandlePublic(context.Background(), sender, "!roll 10")
	require.True(t, consumed)
	require.NotEmpty(t, sender.Dequeue())
}

func TestHandlePrivateNowPlayingRemembersBeatmap(t *testing.T) {
	b, db, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "alice", 0)

	require.NoError(t, db.Create(&models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Artist: "A", Title: "T", Version: "V", GameMode: models.ModeStd}).Error)

	b.HandlePrivateToBot(context.Background(), sender, "is listening to [https://osu.ppy.sh/b/1 A - T] /1 now")
	require.NotNil(t, b.currentBeatmap(sender.UserID))
	require.NotEmpty(t, sender.Dequeue())
}

func TestCmdAccRequiresPriorNowPlaying(t *testing.T) {
	b, _, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "alice", 0)

	b.HandlePrivateToBot(context.Background(), sender, "!acc 99")
	reply := sender.Dequeue()
	require.NotEmpty(t, reply)
}

func TestCmdMapRequiresModeratorPermission(t *testing.T) {
	b, _, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "alice", 0)

	reply := b.dispatch(context.Background(), sender, "!map ranked map")
	require.Contains(t, reply, "permission")
}

func TestCmdMapUpdatesStatusAndDowngradesBestScores(t *testing.T) {
	b, db, registry := newTestBot(t)
	addBotPresence(registry)
	sender := addUserPresence(registry, 2, "mod", models.PermBeatmapModerator)

	bm := models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Status: models.BeatmapRanked, Title: "T"}
	require.NoError(t, db.Create(&bm).Error)
	require.NoError(t, db.Create(&models.Score{UserID: 5, BeatmapChecksum: "abc", Status: models.ScoreBest}).Error)
	b.setCurrentBeatmap(sender.UserID, &bm)

	reply := b.dispatch(context.Background(), sender, "!map unranked map")
	require.Contains(t, reply, "updated")

	var reloaded models.Beatmap
	require.NoError(t, db.First(&reloaded, bm.BeatmapID).Error)
	require.Equal(t, models.BeatmapPending, reloaded.Status)

	var score models.Score
	require.NoError(t, db.Where("beatmap_checksum = ?", "abc").First(&score).Error)
	require.Equal(t, models.ScoreUnranked, score.Status)
}

func TestParseModsCombinesBits(t *testing.T) {
	require.Equal(t, models.ModsHidden|uint32(1<<4), parseMods("HDHR"))
}
