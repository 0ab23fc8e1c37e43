package beatmaps

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"dubserver/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestResolver(t *testing.T, mirror *httptest.Server) *Resolver {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Beatmap{}))

	dir := t.TempDir()
	mirrorURL := ""
	if mirror != nil {
		mirrorURL = mirror.URL
	}
	return New(db, dir, mirrorURL, mirrorURL)
}

func TestByChecksumReturnsStoredRowWithoutHittingMirror(t *testing.T) {
	r := newTestResolver(t, nil)
	require.NoError(t, r.db.Create(&models.Beatmap{BeatmapID: 1, Checksum: "abc", Status: models.BeatmapRanked}).Error)

	bm, err := r.ByChecksum(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, uint32(1), bm.BeatmapID)
}

func TestByChecksumFetchesFromMirrorOnMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Artist":"A","Title":"T","Creator":"C","ChildrenBeatmaps":[
			{"BeatmapID":5,"ParentSetID":9,"DiffName":"Hard","Mode":0,"Ranked":1,"FileMD5":"xyz"}
		]}`))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv)
	bm, err := r.ByChecksum(context.Background(), "xyz")
	require.NoError(t, err)
	require.Equal(t, uint32(5), bm.BeatmapID)
	require.Equal(t, models.BeatmapRanked, bm.Status)

	var count int64
	r.db.Model(&models.Beatmap{}).Count(&count)
	require.Equal(t, int64(1), count)
}

func TestUpsertPreservesFrozenRow(t *testing.T) {
	r := newTestResolver(t, nil)
	require.NoError(t, r.db.Create(&models.Beatmap{BeatmapID: 1, Checksum: "abc", Status: models.BeatmapRanked, Frozen: true}).Error)

	incoming := models.Beatmap{BeatmapID: 1, Checksum: "abc", Status: models.BeatmapPending}
	require.NoError(t, r.upsert(context.Background(), &incoming))
	require.Equal(t, models.BeatmapRanked, incoming.Status)
}

func TestFileCachesToDisk(t *testing.T) {
	called := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called++
		w.Write([]byte("osu file format v14"))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv)
	b, err := r.File(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "osu file format v14", string(b))
	require.Equal(t, 1, called)

	b2, err := r.File(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, b, b2)
	require.Equal(t, 1, called, "second call should hit the disk cache, not the mirror")
}

func TestOfficialUpdateFallbackMatchesChecksum(t *testing.T) {
	content := []byte("osu file format v14\ncontent")
	sum := md5.Sum(content)
	checksum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv)
	result, err := r.OfficialUpdateFallback(context.Background(), "map.osu", checksum)
	require.NoError(t, err)
	require.True(t, result.NeedsUpdate)
}

func TestOfficialUpdateFallbackReportsUnsubmittedOnMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("different content"))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv)
	result, err := r.OfficialUpdateFallback(context.Background(), "map.osu", "deadbeef")
	require.NoError(t, err)
	require.False(t, result.NeedsUpdate)
}
