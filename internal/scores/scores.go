// Package scores implements the score engine (C5): decrypting and
// parsing a submission, classifying its best-score status, persisting
// it transactionally alongside the user's aggregate stats, and driving
// the PP-cap restriction and rank-1 announcement side effects. No
// teacher file covers this domain; the transactional best-score swap
// is grounded on gorm's documented db.Transaction idiom, which the
// teacher itself uses for its own multi-statement writes (bootstrap/
// runtime.go's Create-then-verify sequence is the closest analogue in
// spirit, if not in shape).
package scores

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dubserver/internal/cache"
	"dubserver/internal/models"
	"dubserver/internal/performance"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubmissionError carries the "error: <kind>" response the HTTP layer
// writes back verbatim on any rejected submission (§6, §7).
type SubmissionError struct{ Kind string }

func (e *SubmissionError) Error() string { return "error: " + e.Kind }

var (
	errPass = &SubmissionError{Kind: "pass"}
	errNo   = &SubmissionError{Kind: "no"}
)

// PP caps by mode (§4.5); verified accounts bypass the cap entirely.
var ppCaps = map[models.Mode]float64{
	models.ModeStd:   727,
	models.ModeTaiko: 800,
	models.ModeCtb:   2300,
	models.ModeMania: 1200,
	models.ModeRelax: 1800,
}

// BeatmapResolver is the C3 seam the engine needs: metadata and file
// bytes by checksum.
type BeatmapResolver interface {
	ByChecksum(ctx context.Context, checksum string) (*models.Beatmap, error)
	File(ctx context.Context, beatmapID uint32) ([]byte, error)
}

// PerformanceCalculator is the C4 seam.
type PerformanceCalculator interface {
	PP(in performance.Input) float64
}

// RankingUpdater is the C6 seam needed for the post-submission ranking
// refresh and rank-1 check.
type RankingUpdater interface {
	UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error
	GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error)
}

// GatewayNotifier fans the submission's side effects out to the
// session gateway (§4.5 step 11): an internal HTTP call per the
// design, kept behind an interface so tests can substitute a no-op.
type GatewayNotifier interface {
	NotifyUserRefresh(ctx context.Context, userID uint)
	AnnounceRank1(ctx context.Context, username string, beatmapID uint32)
}

// Engine is the score submission pipeline (§4.5).
type Engine struct {
	db        *gorm.DB
	beatmaps  BeatmapResolver
	calc      PerformanceCalculator
	ranking   RankingUpdater
	notifier  GatewayNotifier
	dataDir   string
	debugAuth bool
}

func New(db *gorm.DB, beatmaps BeatmapResolver, calc PerformanceCalculator, ranking RankingUpdater, notifier GatewayNotifier, dataDir string, debugAuth bool) *Engine {
	return &Engine{db: db, beatmaps: beatmaps, calc: calc, ranking: ranking, notifier: notifier, dataDir: dataDir, debugAuth: debugAuth}
}

// RecomputeUser re-runs §4.5 step 10's weighted-PP recompute and its
// UserStats/leaderboard update for a single (user, mode) pair, outside
// of any live submission. The recalculation terminal (cmd/recalculate)
// drives this over every user after a beatmap status or PP formula
// change makes prior submissions' cached stats stale.
func (e *Engine) RecomputeUser(ctx context.Context, userID uint, mode models.Mode) error {
	var user models.User
	if err := e.db.First(&user, userID).Error; err != nil {
		return err
	}

	var perf int64
	var avgAcc float64
	txErr := e.db.Transaction(func(tx *gorm.DB) error {
		p, a, err := recomputeWeightedPP(tx, userID, mode)
		if err != nil {
			return err
		}
		perf, avgAcc = p, a
		return tx.Model(&models.UserStats{}).Where("user_id = ? AND mode = ?", userID, mode).
			Updates(map[string]any{"performance": perf, "avg_accuracy": avgAcc}).Error
	})
	if txErr != nil {
		return txErr
	}

	if e.ranking != nil {
		return e.ranking.UpdateRanking(ctx, userID, mode, perf, user.Country, user.IsRestricted())
	}
	return nil
}

// Input bundles the multipart fields of /web/osu-submit-modular-selector.php.
type Input struct {
	ScoreB64      string
	IVB64         string
	ClientVersion string
	Password      string
	Quit          bool
	ReplayBytes   []byte
}

// Result is a successful submission's chart payload plus the persisted
// score id, for callers (the /web HTTP handler) that need both.
type Result struct {
	ScoreID uint64
	Chart   []byte
}

type plaintext struct {
	Checksum    string
	Username    string
	Count300    int32
	Count100    int32
	Count50     int32
	CountGeki   int32
	CountKatu   int32
	CountMiss   int32
	TotalScore  int64
	MaxCombo    int32
	Perfect     bool
	RankLetter  string
	Mods        uint32
	Failed      bool
	PlayMode    models.Mode
}

func parsePlaintext(s string) (plaintext, error) {
	fields := strings.Split(s, ":")
	if len(fields) < 16 {
		return plaintext{}, fmt.Errorf("expected 16 fields, got %d", len(fields))
	}
	atoi := func(s string) int32 {
		v, _ := strconv.Atoi(strings.TrimSpace(s))
		return int32(v)
	}
	atoi64 := func(s string) int64 {
		v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return v
	}
	atou32 := func(s string) uint32 {
		v, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		return uint32(v)
	}
	return plaintext{
		Checksum:   fields[0],
		Username:   strings.TrimSpace(fields[1]),
		Count300:   atoi(fields[3]),
		Count100:   atoi(fields[4]),
		Count50:    atoi(fields[5]),
		CountGeki:  atoi(fields[6]),
		CountKatu:  atoi(fields[7]),
		CountMiss:  atoi(fields[8]),
		TotalScore: atoi64(fields[9]),
		MaxCombo:   atoi(fields[10]),
		Perfect:    strings.TrimSpace(fields[11]) == "1" || strings.EqualFold(strings.TrimSpace(fields[11]), "true"),
		RankLetter: fields[12],
		Mods:       atou32(fields[13]),
		Failed:     strings.TrimSpace(fields[14]) == "1" || strings.EqualFold(strings.TrimSpace(fields[14]), "true"),
		PlayMode:   models.Mode(atou32(fields[15])),
	}, nil
}

// Submit runs the full §4.5 pipeline.
func (e *Engine) Submit(ctx context.Context, in Input) (*Result, error) {
	cipherBytes, err := base64.StdEncoding.DecodeString(in.ScoreB64)
	if err != nil {
		return nil, errNo
	}
	ivBytes, err := base64.StdEncoding.DecodeString(in.IVB64)
	if err != nil {
		return nil, errNo
	}
	raw, err := decryptSubmission(cipherBytes, ivBytes, in.ClientVersion)
	if err != nil {
		return nil, errNo
	}
	pt, err := parsePlaintext(raw)
	if err != nil {
		return nil, errNo
	}

	// Step 1: validate credentials.
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, "username_safe = ?", models.NormalizeUsername(pt.Username)).Error; err != nil {
		return nil, errPass
	}
	if !cache.ValidateCredentials(ctx, pt.Username, in.Password, user.PasswordHash, e.debugAuth) {
		return nil, errPass
	}

	// Step 2: beatmap lookup.
	beatmap, err := e.beatmaps.ByChecksum(ctx, pt.Checksum)
	if err != nil {
		return nil, errNo
	}

	// Step 3: effective playmode.
	effectiveMode := models.EffectivePlayMode(pt.PlayMode, pt.Mods)
	modsPartition := models.ModsPartition(pt.Mods)

	// Step 4: pp.
	bmFile, _ := e.beatmaps.File(ctx, beatmap.BeatmapID)
	pp := e.calc.PP(performance.Input{
		BeatmapFile: bmFile,
		Mods:        pt.Mods,
		MaxCombo:    pt.MaxCombo,
		Mode:        effectiveMode,
		Hits: performance.Hits{
			Count300: pt.Count300, Count100: pt.Count100, Count50: pt.Count50,
			CountGeki: pt.CountGeki, CountKatu: pt.CountKatu, CountMiss: pt.CountMiss,
		},
	})

	// Step 5: prior best lookup.
	var priorBest models.Score
	hasPriorBest := false
	err = e.db.WithContext(ctx).Where(
		"user_id = ? AND beatmap_checksum = ? AND play_mode = ? AND mods & 128 = ? AND status IN ?",
		user.ID, pt.Checksum, effectiveMode, modsPartition*128, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest},
	).Order("performance DESC").First(&priorBest).Error
	if err == nil {
		hasPriorBest = true
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNo
	}

	// Step 6: classify candidate status.
	var candidateStatus models.ScoreStatus
	downgradePriorBest := false
	switch {
	case in.Quit || pt.Failed:
		candidateStatus = models.ScoreFailed
	case !hasPriorBest:
		candidateStatus = models.BestStatusFor(beatmap.Status)
	case pp > priorBest.Performance:
		downgradePriorBest = true
		candidateStatus = models.BestStatusFor(beatmap.Status)
	default:
		candidateStatus = models.ScoreUnranked
	}

	score := models.Score{
		UserID: user.ID, BeatmapChecksum: pt.Checksum, PlayMode: effectiveMode,
		TotalScore: pt.TotalScore, MaxCombo: pt.MaxCombo,
		Count300: pt.Count300, Count100: pt.Count100, Count50: pt.Count50,
		CountGeki: pt.CountGeki, CountKatu: pt.CountKatu, CountMiss: pt.CountMiss,
		Mods: pt.Mods, IsPerfect: pt.Perfect, Status: candidateStatus,
		SubmittedAt: time.Now(), Performance: pp,
	}

	// Steps 7-10: insert + downgrade + aggregate update, atomically.
	var newPerformance int64
	var newAvgAccuracy float64
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if downgradePriorBest {
			if err := tx.Model(&models.Score{}).Where("id = ?", priorBest.ID).
				Update("status", models.NonBestStatusFor(beatmap.Status)).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&score).Error; err != nil {
			return err
		}

		if candidateStatus == models.ScoreFailed {
			return nil
		}

		var stats models.UserStats
		err := tx.Where("user_id = ? AND mode = ?", user.ID, effectiveMode).First(&stats).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stats = models.UserStats{UserID: user.ID, Mode: effectiveMode}
		} else if err != nil {
			return err
		}
		stats.TotalScore += pt.TotalScore
		stats.Playcount++
		if pt.MaxCombo > stats.MaxCombo {
			stats.MaxCombo = pt.MaxCombo
		}
		if err := tx.Save(&stats).Error; err != nil {
			return err
		}

		perf, avgAcc, err := recomputeWeightedPP(tx, user.ID, effectiveMode)
		if err != nil {
			return err
		}
		newPerformance, newAvgAccuracy = perf, avgAcc
		return tx.Model(&models.UserStats{}).Where("user_id = ? AND mode = ?", user.ID, effectiveMode).
			Updates(map[string]any{"performance": perf, "avg_accuracy": avgAcc, "ranked_score": gorm.Expr("ranked_score + ?", pt.TotalScore)}).Error
	})
	if txErr != nil {
		return nil, errNo
	}

	// Step 8 (file IO): persist replay; auto-restrict on missing replay.
	if candidateStatus != models.ScoreFailed && !in.Quit {
		if len(in.ReplayBytes) > 0 {
			e.persistReplay(score.ID, in.ReplayBytes)
		} else {
			e.restrictForMissingReplay(ctx, &user, score.ID)
		}
	}

	// Auto-restrict on an unverified account exceeding the mode's pp cap
	// runs before the leaderboard refresh below, so a newly-restricted
	// user's IsRestricted() already reflects it and they're pulled from
	// the ranking sorted sets in the same update rather than lingering
	// until some later score submission happens to run UpdateRanking again.
	if cap, ok := ppCaps[effectiveMode]; ok && pp > cap && !user.IsVerified() {
		e.restrictForPPCap(ctx, &user, score.ID)
	}

	// Step 11: leaderboard refresh and notifications.
	restricted := user.IsRestricted()
	if e.ranking != nil {
		_ = e.ranking.UpdateRanking(ctx, user.ID, effectiveMode, newPerformance, user.Country, restricted)
	}

	if candidateStatus.IsBest() && (beatmap.Status == models.BeatmapRanked || beatmap.Status == models.BeatmapApproved || beatmap.Status == models.BeatmapLoved) && e.ranking != nil {
		if rank, err := e.ranking.GlobalRank(ctx, user.ID, effectiveMode); err == nil && rank == 1 && e.notifier != nil {
			e.notifier.AnnounceRank1(ctx, user.Username, beatmap.BeatmapID)
		}
	}

	if e.notifier != nil {
		e.notifier.NotifyUserRefresh(ctx, user.ID)
	}

	chart := buildChart(chartInput{
		BeatmapID: beatmap.BeatmapID, ParentID: beatmap.ParentID,
		RankedScore: newPerformance, Accuracy: newAvgAccuracy, PP: pp,
		Score: score, PriorBest: priorBest, HasPriorBest: hasPriorBest,
	})

	return &Result{ScoreID: score.ID, Chart: chart}, nil
}

// recomputeWeightedPP implements §4.5 step 10: the Σ performance ×
// 0.95^(i-1) weighted sum over the user's Best scores in mode,
// deduplicated by beatmap (highest-performance entry wins), plus the
// mean accuracy over that same deduplicated set.
func recomputeWeightedPP(tx *gorm.DB, userID uint, mode models.Mode) (int64, float64, error) {
	var bests []models.Score
	if err := tx.Where("user_id = ? AND play_mode = ? AND status IN ?",
		userID, mode, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).
		Order("performance DESC").Find(&bests).Error; err != nil {
		return 0, 0, err
	}

	seen := make(map[string]bool, len(bests))
	deduped := make([]models.Score, 0, len(bests))
	for _, s := range bests {
		if seen[s.BeatmapChecksum] {
			continue
		}
		seen[s.BeatmapChecksum] = true
		deduped = append(deduped, s)
	}
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Performance > deduped[j].Performance })

	var weighted float64
	var accSum float64
	for i, s := range deduped {
		weighted += s.Performance * math.Pow(0.95, float64(i))
		accSum += models.Accuracy(s.PlayMode, s.Count300, s.Count100, s.Count50, s.CountGeki, s.CountKatu, s.CountMiss)
	}
	avgAcc := 0.0
	if len(deduped) > 0 {
		avgAcc = accSum / float64(len(deduped))
	}
	return int64(math.Round(weighted)), avgAcc, nil
}

func (e *Engine) persistReplay(scoreID uint64, replay []byte) {
	path := filepath.Join(e.dataDir, "replays", fmt.Sprintf("%d.osr_frames", scoreID))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, replay, 0o644)
}

func (e *Engine) restrictForMissingReplay(ctx context.Context, user *models.User, scoreID uint64) {
	e.restrict(ctx, user, models.PunishmentCritical, "Hasn't sent a replay file")
}

func (e *Engine) restrictForPPCap(ctx context.Context, user *models.User, scoreID uint64) {
	e.restrict(ctx, user, models.PunishmentCritical, fmt.Sprintf("pp cap exceeded on score_id %d", scoreID))
}

func (e *Engine) restrict(ctx context.Context, user *models.User, level models.PunishmentLevel, note string) {
	user.Permissions |= models.PermRestricted
	_ = e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Update("permissions", user.Permissions).Error
	punishment := models.Punishment{
		ID: uuid.NewString(), AppliedBy: 1, AppliedTo: user.ID,
		PunishmentType: models.PunishmentRestriction, Level: level, Note: note, Date: time.Now(),
	}
	_ = e.db.WithContext(ctx).Create(&punishment).Error
	if e.notifier != nil {
		e.notifier.NotifyUserRefresh(ctx, user.ID)
	}
}
