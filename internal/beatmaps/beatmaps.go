// Package beatmaps implements the beatmap resolver (C3): storage-first
// lookups of beatmap metadata and .osu files, falling back to the
// configured mirror and, for the raw file, the official update
// endpoint. Grounded on the teacher's cmd/chattest plain *http.Client
// outbound-call style (no retry/circuit-breaker wrapper) and on
// config.Config's DataDir/BeatmapMirrorURL/OfficialUpdateURL fields.
package beatmaps

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dubserver/internal/models"

	"gorm.io/gorm"
)

// ErrBeatmapProcessingFailed is returned on any resolver/IO failure path
// per §4.3/§7's BeatmapProcessing error category.
var ErrBeatmapProcessingFailed = errors.New("beatmap processing failed")

// Resolver resolves beatmap metadata and file bytes, caching both to
// storage/disk.
type Resolver struct {
	db                *gorm.DB
	httpClient        *http.Client
	dataDir           string
	mirrorURL         string
	officialUpdateURL string
}

// New constructs a Resolver. dataDir is the root of the persisted state
// layout (§6); <dataDir>/beatmaps/<id>.osu holds cached files.
func New(db *gorm.DB, dataDir, mirrorURL, officialUpdateURL string) *Resolver {
	return &Resolver{
		db:                db,
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		dataDir:           dataDir,
		mirrorURL:         mirrorURL,
		officialUpdateURL: officialUpdateURL,
	}
}

type mirrorBeatmapSet struct {
	Artist   string `json:"Artist"`
	Title    string `json:"Title"`
	Creator  string `json:"Creator"`
	Beatmaps []struct {
		BeatmapID     uint32  `json:"BeatmapID"`
		ParentSetID   uint32  `json:"ParentSetID"`
		DiffName      string  `json:"DiffName"`
		Mode          uint8   `json:"Mode"`
		Ranked        int     `json:"Ranked"`
		AR            float32 `json:"AR"`
		OD            float32 `json:"OD"`
		CS            float32 `json:"CS"`
		HP            float32 `json:"HP"`
		BPM           float32 `json:"BPM"`
		MaxCombo      int32   `json:"MaxCombo"`
		HitLength     int32   `json:"HitLength"`
		TotalLength   int32   `json:"TotalLength"`
		DifficultyRating float64 `json:"DifficultyRating"`
		FileMD5       string  `json:"FileMD5"`
	} `json:"ChildrenBeatmaps"`
}

// ByChecksum implements C3's by_checksum: storage first, then the
// mirror on miss, persisting and returning the resolved row.
func (r *Resolver) ByChecksum(ctx context.Context, checksum string) (*models.Beatmap, error) {
	var bm models.Beatmap
	err := r.db.WithContext(ctx).Where("checksum = ?", checksum).First(&bm).Error
	if err == nil {
		return &bm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	return r.fetchFromMirrorByChecksum(ctx, checksum)
}

// ByID implements C3's by_id, following the same storage-then-mirror
// path keyed by beatmap id instead of checksum.
func (r *Resolver) ByID(ctx context.Context, id uint32) (*models.Beatmap, error) {
	var bm models.Beatmap
	err := r.db.WithContext(ctx).First(&bm, id).Error
	if err == nil {
		return &bm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	return r.fetchFromMirrorByID(ctx, id)
}

func (r *Resolver) fetchFromMirrorByChecksum(ctx context.Context, checksum string) (*models.Beatmap, error) {
	url := fmt.Sprintf("%s/api/md5/%s", r.mirrorURL, checksum)
	return r.fetchAndPersist(ctx, url, checksum)
}

func (r *Resolver) fetchFromMirrorByID(ctx context.Context, id uint32) (*models.Beatmap, error) {
	url := fmt.Sprintf("%s/api/b/%d", r.mirrorURL, id)
	return r.fetchAndPersist(ctx, url, "")
}

func (r *Resolver) fetchAndPersist(ctx context.Context, url, expectChecksum string) (*models.Beatmap, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mirror status %d", ErrBeatmapProcessingFailed, resp.StatusCode)
	}

	var set mirrorBeatmapSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}

	var last *models.Beatmap
	for _, diff := range set.Beatmaps {
		if expectChecksum != "" && diff.FileMD5 != expectChecksum && len(set.Beatmaps) > 1 {
			continue
		}
		bm := models.Beatmap{
			BeatmapID: diff.BeatmapID, ParentID: diff.ParentSetID, Checksum: diff.FileMD5,
			Artist: set.Artist, Title: set.Title, Version: diff.DiffName, Creator: set.Creator,
			AR: diff.AR, OD: diff.OD, CS: diff.CS, HP: diff.HP, Stars: diff.DifficultyRating,
			BPM: diff.BPM, MaxCombo: diff.MaxCombo, HitLength: diff.HitLength, TotalLength: diff.TotalLength,
			GameMode: models.Mode(diff.Mode), Status: models.BeatmapStatusFromMirror(diff.Ranked),
		}
		if err := r.upsert(ctx, &bm); err != nil {
			return nil, err
		}
		last = &bm
		if bm.Checksum == expectChecksum {
			return &bm, nil
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: empty mirror response", ErrBeatmapProcessingFailed)
	}
	return last, nil
}

// upsert writes bm to storage unless an existing row with the same id
// is frozen, per §4.3's frozen-row protection.
func (r *Resolver) upsert(ctx context.Context, bm *models.Beatmap) error {
	var existing models.Beatmap
	err := r.db.WithContext(ctx).First(&existing, bm.BeatmapID).Error
	if err == nil && existing.Frozen {
		*bm = existing
		return nil
	}
	if err := r.db.WithContext(ctx).Save(bm).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	return nil
}

// File implements C3's file(id): the cached .osu blob, downloading and
// caching to disk on miss.
func (r *Resolver) File(ctx context.Context, id uint32) ([]byte, error) {
	path := filepath.Join(r.dataDir, "beatmaps", fmt.Sprintf("%d.osu", id))
	if b, err := os.ReadFile(path); err == nil {
		return b, nil
	}

	url := fmt.Sprintf("%s/osu/%d", r.mirrorURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mirror status %d", ErrBeatmapProcessingFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		_ = os.WriteFile(path, body, 0o644)
	}
	return body, nil
}

// ProxyOfficialFile is a bare unconditional proxy to the official
// update endpoint, used by GET /web/maps/:file (§6): no checksum
// comparison, just the raw bytes or an error on any failure.
func (r *Resolver) ProxyOfficialFile(ctx context.Context, filename string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", r.officialUpdateURL, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: official endpoint status %d", ErrBeatmapProcessingFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	return body, nil
}

// UpdateFallbackResult is the client-facing outcome of the official
// update-endpoint fallback (§4.3's last resort, used from
// handleGetScores's not-found branch).
type UpdateFallbackResult struct {
	// NeedsUpdate is true when the official file's MD5 matches the
	// presented checksum ("1|false"); false signals "unsubmitted"
	// ("-1|false").
	NeedsUpdate bool
	Body        []byte
}

// OfficialUpdateFallback fetches filename from the official update
// endpoint and compares its MD5 against presentedChecksum, per §4.3's
// final fallback when a beatmap is missing from both storage and the
// mirror.
func (r *Resolver) OfficialUpdateFallback(ctx context.Context, filename, presentedChecksum string) (UpdateFallbackResult, error) {
	url := fmt.Sprintf("%s/%s", r.officialUpdateURL, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return UpdateFallbackResult{}, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return UpdateFallbackResult{}, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UpdateFallbackResult{NeedsUpdate: false}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return UpdateFallbackResult{}, fmt.Errorf("%w: %v", ErrBeatmapProcessingFailed, err)
	}

	sum := md5.Sum(body)
	if hex.EncodeToString(sum[:]) == presentedChecksum {
		return UpdateFallbackResult{NeedsUpdate: true, Body: body}, nil
	}
	return UpdateFallbackResult{NeedsUpdate: false}, nil
}
