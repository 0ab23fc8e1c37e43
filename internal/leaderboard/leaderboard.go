// Package leaderboard implements the leaderboard service (C6): the
// storage-backed ranking queries plus the Redis sorted-set cache that
// backs global/country rank lookups, grounded on the pack's sorted-set
// leaderboard patterns (redisboard.go, the Haleralex and mehmetimga
// leaderboard repos under other_examples/) rather than any single
// teacher file, since the teacher carries no ranking concern of its
// own.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dubserver/internal/models"
	"dubserver/internal/presence"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Service answers ranking and per-beatmap leaderboard queries. It reads
// the row-of-record from storage and keeps a Redis sorted set per mode
// (and per mode+country) as the rank index, per §4.6.
type Service struct {
	db    *gorm.DB
	redis *redis.Client
}

// New constructs a Service. redis may be nil; rank lookups then always
// report ErrNoRankingCache rather than blocking gateway flows.
func New(db *gorm.DB, redisClient *redis.Client) *Service {
	return &Service{db: db, redis: redisClient}
}

// ErrNoRankingCache is returned by rank lookups when no Redis client is
// configured; callers (the gateway, the web API) treat an unresolved
// rank as zero rather than failing the request.
var ErrNoRankingCache = errors.New("leaderboard: no ranking cache configured")

func performanceKey(mode models.Mode) string {
	return fmt.Sprintf("leaderboard:%d:performance", mode)
}

func performanceCountryKey(mode models.Mode, country string) string {
	return fmt.Sprintf("leaderboard:%d:performance:%s", mode, country)
}

func member(userID uint) string {
	return fmt.Sprintf("%d", userID)
}

// UpdateRanking pushes a user's current performance into the global and
// country sorted sets, or removes them from both when restricted — the
// invariant in §8 that restricted users never appear in leaderboard:*
// sets. Redis failures here are logged by the caller and swallowed per
// §7's policy; they never abort a submission.
func (s *Service) UpdateRanking(ctx context.Context, userID uint, mode models.Mode, performance int64, country string, restricted bool) error {
	if s.redis == nil {
		return nil
	}

	if restricted {
		pipe := s.redis.Pipeline()
		pipe.ZRem(ctx, performanceKey(mode), member(userID))
		if country != "" {
			pipe.ZRem(ctx, performanceCountryKey(mode, country), member(userID))
		}
		_, err := pipe.Exec(ctx)
		return err
	}

	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, performanceKey(mode), redis.Z{Score: float64(performance), Member: member(userID)})
	if country != "" {
		pipe.ZAdd(ctx, performanceCountryKey(mode, country), redis.Z{Score: float64(performance), Member: member(userID)})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GlobalRank returns the 1-based dense rank of userID in mode's
// performance set, or ErrNoRankingCache if no Redis client is wired, or
// redis.Nil if the user has no entry.
func (s *Service) GlobalRank(ctx context.Context, userID uint, mode models.Mode) (int32, error) {
	if s.redis == nil {
		return 0, ErrNoRankingCache
	}
	rank, err := s.redis.ZRevRank(ctx, performanceKey(mode), member(userID)).Result()
	if err != nil {
		return 0, err
	}
	return int32(rank) + 1, nil
}

// CountryRank mirrors GlobalRank scoped to country's sorted set.
func (s *Service) CountryRank(ctx context.Context, userID uint, mode models.Mode, country string) (int32, error) {
	if s.redis == nil || country == "" {
		return 0, ErrNoRankingCache
	}
	rank, err := s.redis.ZRevRank(ctx, performanceCountryKey(mode, country), member(userID)).Result()
	if err != nil {
		return 0, err
	}
	return int32(rank) + 1, nil
}

// Refresh implements gateway.StatsProvider: it reloads the user's
// (user, mode) aggregate row, resolves their current global rank, and
// returns the cached-snapshot shape a presence carries. A missing
// UserStats row is treated as an all-zero snapshot rather than an
// error, since a freshly-created account has not played yet.
func (s *Service) Refresh(ctx context.Context, userID uint, mode models.Mode) (presence.StatsSnapshot, error) {
	var row models.UserStats
	err := s.db.WithContext(ctx).Where("user_id = ? AND mode = ?", userID, mode).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return presence.StatsSnapshot{}, fmt.Errorf("load user stats: %w", err)
	}

	rank, rankErr := s.GlobalRank(ctx, userID, mode)
	if rankErr != nil {
		rank = 0
	}

	return presence.StatsSnapshot{
		RankedScore: row.RankedScore,
		TotalScore:  row.TotalScore,
		AvgAccuracy: row.AvgAccuracy,
		Playcount:   row.Playcount,
		Performance: row.Performance,
		MaxCombo:    row.MaxCombo,
		Rank:        rank,
	}, nil
}

// Row is one entry in a beatmap leaderboard response (§4.6, §6).
type Row struct {
	ScoreID     uint64
	UserID      uint
	Username    string
	TotalScore  int64
	MaxCombo    int32
	Count300    int32
	Count100    int32
	Count50     int32
	CountGeki   int32
	CountKatu   int32
	CountMiss   int32
	Perfect     bool
	Mods        uint32
	Grade       string
	SubmittedAt time.Time
	Performance float64
}

func toRow(s models.Score, username string) Row {
	acc := models.Accuracy(s.PlayMode, s.Count300, s.Count100, s.Count50, s.CountGeki, s.CountKatu, s.CountMiss)
	total := models.TotalHits(s.PlayMode, s.Count300, s.Count100, s.Count50, s.CountGeki, s.CountKatu, s.CountMiss)
	hdFl := s.Mods&models.ModsHidden != 0 || s.Mods&models.ModsFlashlight != 0
	return Row{
		ScoreID: s.ID, UserID: s.UserID, Username: username,
		TotalScore: s.TotalScore, MaxCombo: s.MaxCombo,
		Count300: s.Count300, Count100: s.Count100, Count50: s.Count50,
		CountGeki: s.CountGeki, CountKatu: s.CountKatu, CountMiss: s.CountMiss,
		Perfect: s.IsPerfect, Mods: s.Mods,
		Grade:       models.Grade(s.PlayMode, acc, s.Count300, s.Count50, total, s.CountMiss, hdFl),
		SubmittedAt: s.SubmittedAt, Performance: s.Performance,
	}
}

// orderClause picks the tie-break ordering §8 requires: Relax sorts by
// performance, every other mode sorts by total_score, both breaking
// ties by earliest submission.
func orderClause(mode models.Mode) string {
	if mode == models.ModeRelax {
		return "performance DESC, submitted_at ASC"
	}
	return "total_score DESC, submitted_at ASC"
}

// BeatmapLeaderboard returns the ranked Best/LovedBest scores on a
// beatmap for the given mode, excluding restricted players, optionally
// scoped to one country.
func (s *Service) BeatmapLeaderboard(ctx context.Context, checksum string, mode models.Mode, country string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}

	type joined struct {
		models.Score
		Username string
	}
	var rows []joined

	q := s.db.WithContext(ctx).Table("scores").
		Select("scores.*, users.username as username").
		Joins("JOIN users ON users.id = scores.user_id").
		Where("scores.beatmap_checksum = ? AND scores.play_mode = ?", checksum, mode).
		Where("scores.status IN ?", []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).
		Where("users.permissions & ? = 0 OR users.flags & ? != 0", models.PermRestricted, models.FlagPendingVerification).
		Order(orderClause(mode)).
		Limit(limit)

	if country != "" {
		q = q.Where("users.country = ?", country)
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query beatmap leaderboard: %w", err)
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRow(r.Score, r.Username))
	}
	return out, nil
}

// UserBestOnBeatmap returns the caller's own Best/LovedBest row on a
// beatmap, or nil if they have none.
func (s *Service) UserBestOnBeatmap(ctx context.Context, userID uint, checksum string, mode models.Mode) (*Row, error) {
	var sc models.Score
	var username string
	err := s.db.WithContext(ctx).Where("user_id = ? AND beatmap_checksum = ? AND play_mode = ? AND status IN ?",
		userID, checksum, mode, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user best: %w", err)
	}
	s.db.WithContext(ctx).Model(&models.User{}).Select("username").Where("id = ?", userID).Scan(&username)
	row := toRow(sc, username)
	return &row, nil
}

// UserScoresOnBeatmap returns every non-failed play the user has
// submitted on a beatmap/mode, newest first.
func (s *Service) UserScoresOnBeatmap(ctx context.Context, userID uint, checksum string, mode models.Mode) ([]Row, error) {
	var scores []models.Score
	err := s.db.WithContext(ctx).Where("user_id = ? AND beatmap_checksum = ? AND play_mode = ? AND status <> ?",
		userID, checksum, mode, models.ScoreFailed).Order("submitted_at DESC").Find(&scores).Error
	if err != nil {
		return nil, fmt.Errorf("query user scores: %w", err)
	}

	var username string
	s.db.WithContext(ctx).Model(&models.User{}).Select("username").Where("id = ?", userID).Scan(&username)

	out := make([]Row, 0, len(scores))
	for _, sc := range scores {
		out = append(out, toRow(sc, username))
	}
	return out, nil
}

// GradeCounts tallies how many Best/LovedBest scores a user holds per
// rank letter in a mode, used by profile pages.
func (s *Service) GradeCounts(ctx context.Context, userID uint, mode models.Mode) (map[string]int, error) {
	var scores []models.Score
	err := s.db.WithContext(ctx).Where("user_id = ? AND play_mode = ? AND status IN ?",
		userID, mode, []models.ScoreStatus{models.ScoreBest, models.ScoreLovedBest}).Find(&scores).Error
	if err != nil {
		return nil, fmt.Errorf("query grade counts: %w", err)
	}

	counts := map[string]int{"XH": 0, "X": 0, "SH": 0, "S": 0, "A": 0, "B": 0, "C": 0, "D": 0}
	for _, sc := range scores {
		acc := models.Accuracy(sc.PlayMode, sc.Count300, sc.Count100, sc.Count50, sc.CountGeki, sc.CountKatu, sc.CountMiss)
		total := models.TotalHits(sc.PlayMode, sc.Count300, sc.Count100, sc.Count50, sc.CountGeki, sc.CountKatu, sc.CountMiss)
		hdFl := sc.Mods&models.ModsHidden != 0 || sc.Mods&models.ModsFlashlight != 0
		grade := models.Grade(sc.PlayMode, acc, sc.Count300, sc.Count50, total, sc.CountMiss, hdFl)
		counts[grade]++
	}
	return counts, nil
}
