// Package cleanup implements the janitor (ComponentCleanup): a
// robfig/cron-driven backstop that (1) remote-triggers the session
// gateway's presence sweep so idle presences still expire with zero
// traffic (§9 Open Question 2), and (2) prunes on-disk replay frames
// for scores that ended up Failed and stale HWID fingerprints, per
// original_source's src/clean/mod.rs. Grounded on the teacher's own
// outbound-HTTP style (internal/alerts, internal/notify) for the
// cross-process call, since the in-memory presence registry only
// exists inside the bancho process.
package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dubserver/internal/models"

	"gorm.io/gorm"
)

// Janitor owns one sweep cycle's dependencies: the database for
// replay/HWID pruning, and an HTTP client pointed at the bancho host's
// internal admin channel for the remote presence sweep.
type Janitor struct {
	DB            *gorm.DB
	DataDir       string
	BanchoBaseURL string
	Key           string
	HWIDRetention time.Duration
	HTTPClient    *http.Client
}

func New(db *gorm.DB, dataDir, banchoBaseURL, key string) *Janitor {
	return &Janitor{
		DB: db, DataDir: dataDir, BanchoBaseURL: banchoBaseURL, Key: key,
		HWIDRetention: 90 * 24 * time.Hour,
		HTTPClient:    &http.Client{Timeout: 5 * time.Second},
	}
}

// RunOnce performs one full sweep cycle: remote presence sweep, replay
// pruning, HWID pruning. Errors from any step are logged and do not
// abort the others — a janitor cycle must never wedge on one failure.
func (j *Janitor) RunOnce(ctx context.Context) {
	j.triggerPresenceSweep(ctx)
	if n, err := j.PruneFailedReplays(); err != nil {
		log.Printf("cleanup: replay prune failed: %v", err)
	} else if n > 0 {
		log.Printf("cleanup: pruned %d failed-score replay files", n)
	}
	if n, err := j.PruneStaleHWIDs(); err != nil {
		log.Printf("cleanup: hwid prune failed: %v", err)
	} else if n > 0 {
		log.Printf("cleanup: pruned %d stale hwid fingerprints", n)
	}
}

// triggerPresenceSweep calls the bancho host's presence:sweep admin
// method — the same HMAC-keyed call shape internal/notify uses for
// user:refresh/user:restricted.
func (j *Janitor) triggerPresenceSweep(ctx context.Context) {
	if j.BanchoBaseURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{"method": "presence:sweep", "key": j.Key})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.BanchoBaseURL+"/api/v2/bancho/update", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := j.HTTPClient.Do(req)
	if err != nil {
		log.Printf("cleanup: presence sweep request failed: %v", err)
		return
	}
	resp.Body.Close()
}

// PruneFailedReplays removes data/replays/<id>.osr_frames for every
// score whose status is Failed — a replay nobody will ever download.
func (j *Janitor) PruneFailedReplays() (int, error) {
	var ids []uint64
	if err := j.DB.Model(&models.Score{}).Where("status = ?", models.ScoreFailed).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	dir := filepath.Join(j.DataDir, "replays")
	pruned := 0
	for _, id := range ids {
		path := filepath.Join(dir, strconv.FormatUint(id, 10)+".osr_frames")
		if err := os.Remove(path); err == nil {
			pruned++
		}
	}
	return pruned, nil
}

// PruneStaleHWIDs deletes fingerprint rows nobody has refreshed within
// the retention window, so the login-time collision check only weighs
// recent hardware.
func (j *Janitor) PruneStaleHWIDs() (int64, error) {
	cutoff := time.Now().Add(-j.HWIDRetention)
	result := j.DB.Where("updated_at < ?", cutoff).Delete(&models.HWID{})
	return result.RowsAffected, result.Error
}
