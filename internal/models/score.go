package models

import "time"

// ScoreStatus preserves the numeric encoding that leaks into storage and
// into the leaderboard query's status filter.
type ScoreStatus int8

const (
	ScoreFailed    ScoreStatus = -1
	ScoreUnranked  ScoreStatus = 0
	ScoreRanked    ScoreStatus = 1
	ScoreBest      ScoreStatus = 2
	ScoreLoved     ScoreStatus = 3
	ScoreLovedBest ScoreStatus = 4
)

// IsBest reports whether a status counts toward the "one Best per
// partition" invariant (§3, §8).
func (s ScoreStatus) IsBest() bool {
	return s == ScoreBest || s == ScoreLovedBest
}

// Score is one submitted play. Mode 4 (Relax) is a parallel ranking for
// std play submitted with the Relax mod bit set; PlayMode 0..=3 are the
// ordinary modes.
type Score struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"index:idx_score_partition" json:"user_id"`
	BeatmapChecksum string    `gorm:"size:32;index:idx_score_partition" json:"beatmap_checksum"`
	PlayMode        Mode      `gorm:"index:idx_score_partition" json:"playmode"`

	TotalScore int64 `json:"total_score"`
	MaxCombo   int32 `json:"max_combo"`

	Count300  int32 `json:"count_300"`
	Count100  int32 `json:"count_100"`
	Count50   int32 `json:"count_50"`
	CountGeki int32 `json:"count_geki"`
	CountKatu int32 `json:"count_katu"`
	CountMiss int32 `json:"count_miss"`

	Mods       uint32      `gorm:"index:idx_score_partition" json:"mods"`
	IsPerfect  bool        `json:"is_perfect"`
	Status     ScoreStatus `gorm:"index" json:"status"`
	SubmittedAt time.Time  `gorm:"index" json:"submitted_at"`
	Performance float64    `json:"performance"`
}

// ModsRelaxBit is the Relax play-modifier bit (§4.5, §GLOSSARY).
const ModsRelaxBit uint32 = 1 << 7

// ModsHidden and ModsFlashlight gate the XH/SH grade variants (§4.5).
const (
	ModsHidden     uint32 = 1 << 3
	ModsFlashlight uint32 = 1 << 10
)

// ModsPartition returns the value the unique-best-per-partition index is
// keyed on: whether the Relax bit is set, collapsed to 0/1.
func ModsPartition(mods uint32) uint32 {
	if mods&ModsRelaxBit != 0 {
		return 1
	}
	return 0
}

// EffectivePlayMode classifies the playmode a submission is scored
// under: declared std play with the Relax mod bit set scores as mode 4.
func EffectivePlayMode(declared Mode, mods uint32) Mode {
	if mods&ModsRelaxBit != 0 && declared == ModeStd {
		return ModeRelax
	}
	return declared
}

// TotalHits returns the hit-count denominator for accuracy, which is
// mode-dependent (§4.5).
func TotalHits(mode Mode, c300, c100, c50, geki, katu, miss int32) int32 {
	switch mode {
	case ModeTaiko:
		return c300 + c100 + miss
	case ModeCtb:
		return c300 + c100 + c50 + katu + miss
	case ModeMania:
		return c300 + c100 + c50 + geki + katu + miss
	default: // std, relax
		return c300 + c100 + c50 + miss
	}
}

// Accuracy computes the [0,1] accuracy fraction for a score, per the
// per-mode formulas in §4.5. Returns 0 (never NaN) when there are no
// hits to divide by.
func Accuracy(mode Mode, c300, c100, c50, geki, katu, miss int32) float64 {
	total := TotalHits(mode, c300, c100, c50, geki, katu, miss)
	if total <= 0 {
		return 0
	}
	f := func(v int32) float64 { return float64(v) }
	switch mode {
	case ModeTaiko:
		return (150*f(c300) + 300*f(c100)) / (300 * f(total))
	case ModeCtb:
		return (f(c50) + f(c100) + f(c300)) / f(total)
	case ModeMania:
		return (300*(f(c300)+f(geki)) + 200*f(katu) + 100*f(c100) + 50*f(c50)) / (300 * f(total))
	default: // std, relax
		return (300*f(c300) + 100*f(c100) + 50*f(c50)) / (300 * f(total))
	}
}

// Grade derives the rank letter for a score, per §4.5. hdFl reports
// whether the Hidden/Flashlight mods are set, which gate the XH/SH
// variants of a perfect/S-tier play.
func Grade(mode Mode, acc float64, c300, c50, total, miss int32, hdFl bool) string {
	switch mode {
	case ModeCtb:
		switch {
		case acc >= 1.0:
			if hdFl {
				return "XH"
			}
			return "X"
		case acc >= 0.98:
			if hdFl {
				return "SH"
			}
			return "S"
		case acc >= 0.94:
			return "A"
		case acc >= 0.90:
			return "B"
		case acc >= 0.85:
			return "C"
		default:
			return "D"
		}
	case ModeMania:
		switch {
		case acc >= 1.0:
			if hdFl {
				return "XH"
			}
			return "X"
		case acc >= 0.95:
			if hdFl {
				return "SH"
			}
			return "S"
		case acc >= 0.90:
			return "A"
		case acc >= 0.80:
			return "B"
		case acc >= 0.70:
			return "C"
		default:
			return "D"
		}
	default: // std, taiko, relax
		if total <= 0 {
			return "D"
		}
		ratio300 := float64(c300) / float64(total)
		ratio50 := float64(c50) / float64(total)
		switch {
		case ratio300 == 1.0:
			if hdFl {
				return "XH"
			}
			return "X"
		case ratio300 >= 0.9 && ratio50 <= 0.01 && miss == 0:
			if hdFl {
				return "SH"
			}
			return "S"
		case (ratio300 >= 0.8 && miss == 0) || ratio300 >= 0.9:
			return "A"
		case ratio300 >= 0.7:
			return "B"
		case ratio300 >= 0.6:
			return "C"
		default:
			return "D"
		}
	}
}
