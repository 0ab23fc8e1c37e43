package leaderboard

import (
	"context"
	"testing"
	"time"

	"dubserver/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(db, rdb), db
}

func seedUser(t *testing.T, db *gorm.DB, id uint, username string, restricted bool) {
	t.Helper()
	var perms uint32
	if restricted {
		perms = models.PermRestricted
	}
	require.NoError(t, db.Create(&models.User{
		ID: id, Username: username, UsernameSafe: models.NormalizeUsername(username),
		PasswordHash: "x", Permissions: perms, Flags: models.FlagVerified,
	}).Error)
}

func TestRefreshReportsZeroSnapshotForNewUser(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, 1, "alice", false)

	snap, err := svc.Refresh(context.Background(), 1, models.ModeStd)
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.TotalScore)
}

func TestUpdateRankingAndGlobalRank(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, 1, "alice", false)
	seedUser(t, db, 2, "bob", false)
	ctx := context.Background()

	require.NoError(t, svc.UpdateRanking(ctx, 1, models.ModeStd, 500, "US", false))
	require.NoError(t, svc.UpdateRanking(ctx, 2, models.ModeStd, 900, "US", false))

	rank, err := svc.GlobalRank(ctx, 2, models.ModeStd)
	require.NoError(t, err)
	require.Equal(t, int32(1), rank)

	rank, err = svc.GlobalRank(ctx, 1, models.ModeStd)
	require.NoError(t, err)
	require.Equal(t, int32(2), rank)
}

func TestUpdateRankingRemovesRestrictedUsers(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, 1, "alice", false)
	ctx := context.Background()

	require.NoError(t, svc.UpdateRanking(ctx, 1, models.ModeStd, 500, "US", false))
	require.NoError(t, svc.UpdateRanking(ctx, 1, models.ModeStd, 500, "US", true))

	_, err := svc.GlobalRank(ctx, 1, models.ModeStd)
	require.ErrorIs(t, err, redis.Nil)
}

func TestBeatmapLeaderboardExcludesRestrictedAndOrdersByTotalScore(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, 1, "alice", false)
	seedUser(t, db, 2, "cheater", true)
	seedUser(t, db, 3, "bob", false)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&models.Score{
		ID: 1, UserID: 1, BeatmapChecksum: "abc", PlayMode: models.ModeStd,
		TotalScore: 500000, Status: models.ScoreBest, SubmittedAt: base,
	}).Error)
	require.NoError(t, db.Create(&models.Score{
		ID: 2, UserID: 2, BeatmapChecksum: "abc", PlayMode: models.ModeStd,
		TotalScore: 999999, Status: models.ScoreBest, SubmittedAt: base,
	}).Error)
	require.NoError(t, db.Create(&models.Score{
		ID: 3, UserID: 3, BeatmapChecksum: "abc", PlayMode: models.ModeStd,
		TotalScore: 800000, Status: models.ScoreBest, SubmittedAt: base,
	}).Error)

	rows, err := svc.BeatmapLeaderboard(context.Background(), "abc", models.ModeStd, "", 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint(3), rows[0].UserID)
	require.Equal(t, uint(1), rows[1].UserID)
}

func TestGradeCountsTalliesBestScores(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, 1, "alice", false)

	require.NoError(t, db.Create(&models.Score{
		ID: 1, UserID: 1, BeatmapChecksum: "abc", PlayMode: models.ModeStd,
		Count300: 100, Status: models.ScoreBest, SubmittedAt: time.Now(),
	}).Error)

	counts, err := svc.GradeCounts(context.Background(), 1, models.ModeStd)
	require.NoError(t, err)
	require.Equal(t, 1, counts["X"])
}
