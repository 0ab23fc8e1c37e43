package scores

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"dubserver/internal/models"
	"dubserver/internal/performance"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func encryptPlaintext(t *testing.T, plaintext, clientVersion string) (string, string) {
	t.Helper()
	key := deriveKey(clientVersion)
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	padded := []byte(plaintext)
	for len(padded)%aes.BlockSize != 0 {
		padded = append(padded, 0)
	}
	iv := make([]byte, aes.BlockSize)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(iv)
}

type fakeBeatmaps struct{ bm models.Beatmap }

func (f fakeBeatmaps) ByChecksum(ctx context.Context, checksum string) (*models.Beatmap, error) {
	if checksum != f.bm.Checksum {
		return nil, fmt.Errorf("not found")
	}
	bm := f.bm
	return &bm, nil
}
func (f fakeBeatmaps) File(ctx context.Context, id uint32) ([]byte, error) {
	return []byte("osu file format v14"), nil
}

type fakeCalc struct{ pp float64 }

func (f fakeCalc) PP(in performance.Input) float64 { return f.pp }

type fakeRanking struct{ rank int32 }

func (f *fakeRanking) UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error {
	return nil
}
func (f *fakeRanking) GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error) {
	return f.rank, nil
}

// recordingRanking captures the restricted flag passed to each
// UpdateRanking call, so a test can assert the ranking cache is told
// about a restriction in the same submission that triggers it.
type recordingRanking struct {
	restrictedCalls []bool
}

func (f *recordingRanking) UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error {
	f.restrictedCalls = append(f.restrictedCalls, restricted)
	return nil
}
func (f *recordingRanking) GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error) {
	return 1, nil
}

type fakeNotifier struct {
	refreshed []uint
	announced []string
}

func (f *fakeNotifier) NotifyUserRefresh(ctx context.Context, userID uint) { f.refreshed = append(f.refreshed, userID) }
func (f *fakeNotifier) AnnounceRank1(ctx context.Context, username string, beatmapID uint32) {
	f.announced = append(f.announced, username)
}

func newTestEngine(t *testing.T, bm models.Beatmap, pp float64, rank int32) (*Engine, *gorm.DB, *fakeNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}, &models.Punishment{}))

	notifier := &fakeNotifier{}
	eng := New(db, fakeBeatmaps{bm: bm}, fakeCalc{pp: pp}, &fakeRanking{rank: rank}, notifier, t.TempDir(), true)
	return eng, db, notifier
}

func seedUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	u := models.User{Username: "alice", UsernameSafe: "alice", PasswordHash: "x", Flags: models.FlagVerified}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func plaintextFor(checksum, username string, c300 int, totalScore int64, maxCombo int, mods uint32, failed, quit bool, mode int) string {
	f := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return fmt.Sprintf("%s:%s:somehash:%d:0:0:0:0:0:%d:%d:%s:X:%d:%s:%d",
		checksum, username, c300, totalScore, maxCombo, f(true), mods, f(failed), mode)
}

func TestSubmitNewBestOnRankedMap(t *testing.T) {
	bm := models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Status: models.BeatmapRanked}
	eng, db, notifier := newTestEngine(t, bm, 250, 1)
	user := seedUser(t, db)

	pt := plaintextFor("abc", "alice", 1000, 800000, 1500, 0, false, false, 0)
	cipherB64, ivB64 := encryptPlaintext(t, pt, "20230930")

	result, err := eng.Submit(context.Background(), Input{
		ScoreB64: cipherB64, IVB64: ivB64, ClientVersion: "20230930", Password: "whatever",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Contains(t, string(result.Chart), "beatmapId:1")

	var stored models.Score
	require.NoError(t, db.First(&stored, result.ScoreID).Error)
	require.Equal(t, models.ScoreBest, stored.Status)

	var stats models.UserStats
	require.NoError(t, db.Where("user_id = ? AND mode = ?", user.ID, models.ModeStd).First(&stats).Error)
	require.Equal(t, int64(800000), stats.TotalScore)
	require.Equal(t, int64(1), stats.Playcount)
	require.Contains(t, notifier.refreshed, user.ID)
}

func TestSubmitReplacesOldBestWhenPPIsHigher(t *testing.T) {
	bm := models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Status: models.BeatmapRanked}
	eng, db, _ := newTestEngine(t, bm, 200, 1)
	user := seedUser(t, db)

	pt1 := plaintextFor("abc", "alice", 900, 700000, 1000, 0, false, false, 0)
	c1, iv1 := encryptPlaintext(t, pt1, "20230930")
	first, err := eng.Submit(context.Background(), Input{ScoreB64: c1, IVB64: iv1, ClientVersion: "20230930", Password: "x"})
	require.NoError(t, err)

	eng.calc = fakeCalc{pp: 250}
	pt2 := plaintextFor("abc", "alice", 1000, 800000, 1500, 0, false, false, 0)
	c2, iv2 := encryptPlaintext(t, pt2, "20230930")
	second, err := eng.Submit(context.Background(), Input{ScoreB64: c2, IVB64: iv2, ClientVersion: "20230930", Password: "x"})
	require.NoError(t, err)

	var oldScore, newScore models.Score
	require.NoError(t, db.First(&oldScore, first.ScoreID).Error)
	require.NoError(t, db.First(&newScore, second.ScoreID).Error)
	require.Equal(t, models.ScoreRanked, oldScore.Status)
	require.Equal(t, models.ScoreBest, newScore.Status)

	var count int64
	db.Model(&models.Score{}).Where("user_id = ? AND status IN ?", user.ID, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).Count(&count)
	require.Equal(t, int64(1), count)
}

func TestSubmitRestrictsUserWhenReplayMissing(t *testing.T) {
	bm := models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Status: models.BeatmapRanked}
	eng, db, _ := newTestEngine(t, bm, 100, 5)
	user := seedUser(t, db)

	pt := plaintextFor("abc", "alice", 1000, 500000, 1000, 0, false, false, 0)
	c, iv := encryptPlaintext(t, pt, "20230930")
	_, err := eng.Submit(context.Background(), Input{ScoreB64: c, IVB64: iv, ClientVersion: "20230930", Password: "x"})
	require.NoError(t, err)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	require.True(t, reloaded.IsRestricted())

	var punishments []models.Punishment
	require.NoError(t, db.Find(&punishments).Error)
	require.Len(t, punishments, 1)
	require.Contains(t, punishments[0].Note, "replay")
}

func TestSubmitRestrictsUnverifiedUserOverPPCapAndUpdatesRankingAsRestricted(t *testing.T) {
	bm := models.Beatmap{BeatmapID: 1, ParentID: 9, Checksum: "abc", Status: models.BeatmapRanked}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserStats{}, &models.Score{}, &models.Punishment{}))

	ranking := &recordingRanking{}
	eng := New(db, fakeBeatmaps{bm: bm}, fakeCalc{pp: 1000}, ranking, &fakeNotifier{}, t.TempDir(), true)
	user := models.User{Username: "alice", UsernameSafe: "alice", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	pt := plaintextFor("abc", "alice", 1000, 800000, 1500, 0, false, false, 0)
	c, iv := encryptPlaintext(t, pt, "20230930")
	_, err = eng.Submit(context.Background(), Input{
		ScoreB64: c, IVB64: iv, ClientVersion: "20230930", Password: "x",
		ReplayBytes: []byte("frames"),
	})
	require.NoError(t, err)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, user.ID).Error)
	require.True(t, reloaded.IsRestricted())

	require.NotEmpty(t, ranking.restrictedCalls)
	require.True(t, ranking.restrictedCalls[len(ranking.restrictedCalls)-1],
		"the leaderboard update following a pp-cap restriction must report the user as restricted")
}

func TestSubmitRejectsUnknownBeatmap(t *testing.T) {
	bm := models.Beatmap{BeatmapID: 1, Checksum: "abc", Status: models.BeatmapRanked}
	eng, db, _ := newTestEngine(t, bm, 100, 1)
	seedUser(t, db)

	pt := plaintextFor("not-the-checksum", "alice", 1000, 500000, 1000, 0, false, false, 0)
	c, iv := encryptPlaintext(t, pt, "20230930")
	_, err := eng.Submit(context.Background(), Input{ScoreB64: c, IVB64: iv, ClientVersion: "20230930", Password: "x"})
	require.ErrorIs(t, err, errNo)
}
