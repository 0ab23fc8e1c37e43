// Package recalc implements the recalculation terminal's batch driver:
// re-running the score engine's weighted-PP recompute (§4.5 step 10)
// and leaderboard upsert over every user and mode. The CORE spec treats
// this role as an external collaborator (out of scope for the session
// gateway / submission pipeline proper), but original_source's
// recalculate/mod.rs drives exactly this loop over the same engine, so
// it costs little beyond what C5 already exposes via Engine.RecomputeUser.
package recalc

import (
	"context"
	"log"

	"dubserver/internal/models"
	"dubserver/internal/scores"

	"gorm.io/gorm"
)

// allModes lists every UserStats partition the recalculation terminal
// sweeps, including the Relax parallel ranking.
var allModes = []models.Mode{models.ModeStd, models.ModeTaiko, models.ModeCtb, models.ModeMania, models.ModeRelax}

// Runner drives Engine.RecomputeUser over every user that has at least
// one UserStats row, one (user, mode) pair at a time.
type Runner struct {
	DB     *gorm.DB
	Engine *scores.Engine
}

func New(db *gorm.DB, engine *scores.Engine) *Runner {
	return &Runner{DB: db, Engine: engine}
}

// Result summarizes one full sweep for the caller to log/report.
type Result struct {
	UsersVisited int
	Recomputed   int
	Failed       int
}

// RunAll recomputes every (user, mode) partition that has a UserStats
// row. It is intentionally sequential — the recalculation terminal is
// an offline batch job, not a latency-sensitive path, and sequential
// recompute avoids contending with the live submission pipeline's own
// transactions over the same UserStats rows.
func (r *Runner) RunAll(ctx context.Context) Result {
	var userIDs []uint
	if err := r.DB.Model(&models.UserStats{}).Distinct().Pluck("user_id", &userIDs).Error; err != nil {
		log.Printf("recalc: failed to list users: %v", err)
		return Result{}
	}

	var result Result
	for _, userID := range userIDs {
		result.UsersVisited++
		for _, mode := range allModes {
			var count int64
			r.DB.Model(&models.UserStats{}).Where("user_id = ? AND mode = ?", userID, mode).Count(&count)
			if count == 0 {
				continue
			}
			if err := r.Engine.RecomputeUser(ctx, userID, mode); err != nil {
				log.Printf("recalc: user %d mode %s: %v", userID, mode, err)
				result.Failed++
				continue
			}
			result.Recomputed++
		}
	}
	return result
}
