package recalc

import (
	"context"
	"testing"

	"dubserver/internal/beatmaps"
	"dubserver/internal/models"
	"dubserver/internal/performance"
	"dubserver/internal/scores"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeRanking struct{ calls int }

func (f *fakeRanking) UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error {
	f.calls++
	return nil
}
func (f *fakeRanking) GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error) {
	return 1, nil
}

type fakeNotifier struct{}

func (fakeNotifier) NotifyUserRefresh(ctx context.Context, userID uint)                   {}
func (fakeNotifier) AnnounceRank1(ctx context.Context, username string, beatmapID uint32) {}

func TestRunAllRecomputesEveryUserModePartition(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}, &models.Beatmap{}))

	user := models.User{Username: gofakeit.Username(), UsernameSafe: "player1", Country: "US"}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&models.UserStats{UserID: user.ID, Mode: models.ModeStd}).Error)

	bm := models.Beatmap{BeatmapID: 1, ParentID: 1, Checksum: "abc", Status: models.BeatmapRanked}
	require.NoError(t, db.Create(&bm).Error)
	score := models.Score{UserID: user.ID, BeatmapChecksum: "abc", PlayMode: models.ModeStd, Status: models.ScoreBest, Performance: 250, TotalScore: 1000000}
	require.NoError(t, db.Create(&score).Error)

	resolver := beatmaps.New(db, t.TempDir(), "", "")
	ranking := &fakeRanking{}
	engine := scores.New(db, resolver, performance.New(), ranking, fakeNotifier{}, t.TempDir(), true)

	runner := New(db, engine)
	result := runner.RunAll(context.Background())

	require.Equal(t, 1, result.UsersVisited)
	require.Equal(t, 1, result.Recomputed)
	require.Equal(t, 0, result.Failed)
	require.Equal(t, 1, ranking.calls)

	var stats models.UserStats
	require.NoError(t, db.Where("user_id = ? AND mode = ?", user.ID, models.ModeStd).First(&stats).Error)
	require.Equal(t, int64(250), stats.Performance)
}
