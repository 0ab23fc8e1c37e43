package cleanup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dubserver/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Score{}, &models.HWID{}))
	return db
}

func TestPruneFailedReplaysRemovesOnlyFailedScores(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Score{ID: 1, Status: models.ScoreFailed}).Error)
	require.NoError(t, db.Create(&models.Score{ID: 2, Status: models.ScoreBest}).Error)

	dir := t.TempDir()
	replayDir := filepath.Join(dir, "replays")
	require.NoError(t, os.MkdirAll(replayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(replayDir, "1.osr_frames"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(replayDir, "2.osr_frames"), []byte("x"), 0o644))

	j := New(db, dir, "", "secret")
	pruned, err := j.PruneFailedReplays()
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, err = os.Stat(filepath.Join(replayDir, "1.osr_frames"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(replayDir, "2.osr_frames"))
	require.NoError(t, err)
}

func TestPruneStaleHWIDsDeletesOldRows(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.HWID{UserID: 1, Plain: "a"}).Error)
	require.NoError(t, db.Model(&models.HWID{}).Where("user_id = ?", 1).
		Update("updated_at", time.Now().Add(-200*24*time.Hour)).Error)
	require.NoError(t, db.Create(&models.HWID{UserID: 2, Plain: "b"}).Error)

	j := New(db, t.TempDir(), "", "secret")
	n, err := j.PruneStaleHWIDs()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var remaining models.HWID
	require.NoError(t, db.First(&remaining).Error)
	require.Equal(t, uint(2), remaining.UserID)
}

func TestTriggerPresenceSweepPostsToBanchoHost(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		require.Equal(t, "/api/v2/bancho/update", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	j := New(newTestDB(t), t.TempDir(), server.URL, "secret")
	j.triggerPresenceSweep(context.Background())
	require.True(t, called)
}
