package models

// BeatmapStatus mirrors the ranked-status integers that leak onto the
// mirror API, the wire protocol and the leaderboard query directly —
// preserved exactly rather than remapped to a dense enum.
type BeatmapStatus int8

const (
	BeatmapUnknown      BeatmapStatus = -2
	BeatmapNotSubmitted BeatmapStatus = -1
	BeatmapPending      BeatmapStatus = 0
	BeatmapNeedUpdate   BeatmapStatus = 1
	BeatmapRanked       BeatmapStatus = 2
	BeatmapApproved     BeatmapStatus = 3
	BeatmapQualified    BeatmapStatus = 4
	BeatmapLoved        BeatmapStatus = 5
)

// BeatmapStatusFromMirror coerces a mirror API "ranked" field into our
// BeatmapStatus space, per §4.3: {-2,-1,0 -> Pending; 1 -> Ranked;
// 2 -> Approved; 3 -> Qualified; 4 -> Loved}.
func BeatmapStatusFromMirror(ranked int) BeatmapStatus {
	switch {
	case ranked <= 0:
		return BeatmapPending
	case ranked == 1:
		return BeatmapRanked
	case ranked == 2:
		return BeatmapApproved
	case ranked == 3:
		return BeatmapQualified
	case ranked == 4:
		return BeatmapLoved
	default:
		return BeatmapPending
	}
}

// BestStatusFor returns the Score status a new top play on a beatmap of
// the given status should take, per §4.5 step 6.
func BestStatusFor(status BeatmapStatus) ScoreStatus {
	switch status {
	case BeatmapRanked, BeatmapApproved:
		return ScoreBest
	case BeatmapQualified, BeatmapLoved:
		return ScoreLovedBest
	default:
		return ScoreUnranked
	}
}

// NonBestStatusFor returns the status a downgraded former-best score
// takes once it is no longer the top play.
func NonBestStatusFor(status BeatmapStatus) ScoreStatus {
	switch status {
	case BeatmapQualified, BeatmapLoved:
		return ScoreLoved
	default:
		return ScoreRanked
	}
}

// Beatmap is the per-difficulty metadata row.
type Beatmap struct {
	BeatmapID uint32 `gorm:"primaryKey" json:"beatmap_id"`
	ParentID  uint32 `gorm:"index" json:"parent_id"`
	Checksum  string `gorm:"size:32;uniqueIndex" json:"checksum"`

	Artist  string `gorm:"size:255" json:"artist"`
	Title   string `gorm:"size:255" json:"title"`
	Version string `gorm:"size:255" json:"version"`
	Creator string `gorm:"size:255" json:"creator"`

	AR         float32 `json:"ar"`
	OD         float32 `json:"od"`
	CS         float32 `json:"cs"`
	HP         float32 `json:"hp"`
	Stars      float64 `json:"stars"`
	BPM        float32 `json:"bpm"`
	MaxCombo   int32   `json:"max_combo"`
	HitLength  int32   `json:"hit_length"`
	TotalLength int32  `json:"total_length"`

	GameMode Mode          `json:"game_mode"`
	Status   BeatmapStatus `json:"status"`
	Frozen   bool          `json:"frozen"`
}
