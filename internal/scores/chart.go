package scores

import (
	"fmt"
	"strings"

	"dubserver/internal/models"
)

// chartInput bundles the before/after figures the chart payload
// reports (§6).
type chartInput struct {
	BeatmapID    uint32
	ParentID     uint32
	RankedScore  int64
	Accuracy     float64
	PP           float64
	Score        models.Score
	PriorBest    models.Score
	HasPriorBest bool
}

// buildChart renders the two-line post-submission chart payload (§6):
// a header line followed by two `|`-separated key:value records, one
// scoped to the beatmap and one to the player's overall stats.
func buildChart(in chartInput) []byte {
	header := fmt.Sprintf("beatmapId:%d|beatmapSetId:%d|beatmapPlaycount:0|beatmapPasscount:0|approvedDate:\n\n",
		in.BeatmapID, in.ParentID)

	rankBefore, rankAfter := "", scoreStatusLabel(in.Score.Status)
	comboBefore, comboAfter := int32(0), in.Score.MaxCombo
	accBefore, accAfter := 0.0, in.Accuracy
	scoreBefore, scoreAfter := int64(0), in.Score.TotalScore
	if in.HasPriorBest {
		rankBefore = scoreStatusLabel(in.PriorBest.Status)
		comboBefore = in.PriorBest.MaxCombo
		scoreBefore = in.PriorBest.TotalScore
	}

	beatmapRecord := chartRecord(map[string]string{
		"chartId":            "beatmap",
		"chartUrl":           "",
		"chartName":          "Beatmap Ranking",
		"rankBefore":         rankBefore,
		"rankAfter":          rankAfter,
		"maxComboBefore":     fmt.Sprintf("%d", comboBefore),
		"maxComboAfter":      fmt.Sprintf("%d", comboAfter),
		"accuracyBefore":     fmt.Sprintf("%.2f", accBefore*100),
		"accuracyAfter":      fmt.Sprintf("%.2f", accAfter*100),
		"rankedScoreBefore":  fmt.Sprintf("%d", scoreBefore),
		"rankedScoreAfter":   fmt.Sprintf("%d", scoreAfter),
		"totalScoreBefore":   fmt.Sprintf("%d", scoreBefore),
		"totalScoreAfter":    fmt.Sprintf("%d", scoreAfter),
		"ppBefore":           fmt.Sprintf("%.0f", 0.0),
		"ppAfter":            fmt.Sprintf("%.0f", in.PP),
		"achievements-new":   "",
		"onlineScoreId":      fmt.Sprintf("%d", in.Score.ID),
	})

	overallRecord := chartRecord(map[string]string{
		"chartId":           "overall",
		"chartUrl":          "",
		"chartName":         "Overall Ranking",
		"rankBefore":        "",
		"rankAfter":         "",
		"maxComboBefore":    fmt.Sprintf("%d", comboBefore),
		"maxComboAfter":     fmt.Sprintf("%d", comboAfter),
		"accuracyBefore":    fmt.Sprintf("%.2f", accBefore*100),
		"accuracyAfter":     fmt.Sprintf("%.2f", accAfter*100),
		"rankedScoreBefore": fmt.Sprintf("%d", in.RankedScore),
		"rankedScoreAfter":  fmt.Sprintf("%d", in.RankedScore),
		"totalScoreBefore":  fmt.Sprintf("%d", scoreBefore),
		"totalScoreAfter":   fmt.Sprintf("%d", scoreAfter),
		"ppBefore":          fmt.Sprintf("%.0f", 0.0),
		"ppAfter":           fmt.Sprintf("%.0f", in.PP),
		"achievements-new":  "",
		"onlineScoreId":     fmt.Sprintf("%d", in.Score.ID),
	})

	return []byte(header + beatmapRecord + "\n" + overallRecord)
}

// chartKeyOrder fixes the field order §6 specifies; map iteration order
// in Go is randomized, so the record is built from this explicit order
// rather than ranging over the map.
var chartKeyOrder = []string{
	"chartId", "chartUrl", "chartName", "rankBefore", "rankAfter",
	"maxComboBefore", "maxComboAfter", "accuracyBefore", "accuracyAfter",
	"rankedScoreBefore", "rankedScoreAfter", "totalScoreBefore", "totalScoreAfter",
	"ppBefore", "ppAfter", "achievements-new", "onlineScoreId",
}

func chartRecord(fields map[string]string) string {
	parts := make([]string, 0, len(chartKeyOrder))
	for _, k := range chartKeyOrder {
		parts = append(parts, fmt.Sprintf("%s:%s", k, fields[k]))
	}
	return strings.Join(parts, "|")
}

// scoreStatusLabel names a score status for the chart's rankBefore/
// rankAfter fields.
func scoreStatusLabel(s models.ScoreStatus) string {
	switch s {
	case models.ScoreFailed:
		return "Failed"
	case models.ScoreUnranked:
		return "Unranked"
	case models.ScoreRanked:
		return "Ranked"
	case models.ScoreBest:
		return "Best"
	case models.ScoreLoved:
		return "Loved"
	case models.ScoreLovedBest:
		return "LovedBest"
	default:
		return "Unknown"
	}
}
