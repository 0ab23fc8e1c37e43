// Package performance implements the performance calculator (C4): a pure
// function from beatmap data and play data to performance points and
// star rating. The performance-point algorithm itself is explicitly a
// non-goal (§1) — treated here as a black box behind a stable interface
// so the score engine (C5) can be built and tested against it.
package performance

import "dubserver/internal/models"

// Hits is the set of hit-count inputs the calculator consumes.
type Hits struct {
	Count300  int32
	Count100  int32
	Count50   int32
	CountGeki int32
	CountKatu int32
	CountMiss int32
}

// Input bundles everything a single pp computation needs.
type Input struct {
	BeatmapFile []byte
	Mods        uint32
	Hits        Hits
	MaxCombo    int32
	Mode        models.Mode
}

// Calculator computes performance points and star ratings. The default
// implementation is a placeholder pending the real algorithm (out of
// scope per spec); it never errors, returning 0 on any unreadable
// beatmap file per §4.4.
type Calculator interface {
	PP(in Input) float64
	Stars(beatmapFile []byte, mods uint32, mode models.Mode) float64
	// AtAccuracies returns (accuracy, pp, stars) triples for each
	// requested target accuracy, used by the bot's !np/!with/!acc reports.
	AtAccuracies(in Input, targets []float64) []AccuracyPoint
}

// AccuracyPoint is one row of the bot's PP-at-accuracy report.
type AccuracyPoint struct {
	Accuracy float64
	PP       float64
	Stars    float64
}

// usesRelaxAlgorithm reports whether an input should be routed to the
// Relax-specific branch of the algorithm: mode Relax itself, or std play
// with the Relax mod bit set (§4.4).
func usesRelaxAlgorithm(mode models.Mode, mods uint32) bool {
	return mode == models.ModeRelax || (mode == models.ModeStd && mods&models.ModsRelaxBit != 0)
}

// stub is the bundled Calculator implementation. The real beatmap
// difficulty/performance math is out of scope (§1 Non-goals); this
// produces a deterministic, monotonic-in-accuracy placeholder so the
// rest of the pipeline (best-score swap, weighted aggregate, PP caps,
// leaderboard ordering) is fully exercisable and testable without it.
type stub struct{}

// New returns the bundled placeholder Calculator. A production
// deployment swaps this for a real difficulty/performance engine
// without touching any caller — Calculator is the seam.
func New() Calculator {
	return stub{}
}

func (stub) PP(in Input) float64 {
	if len(in.BeatmapFile) == 0 {
		return 0.0
	}
	total := models.TotalHits(in.Mode, in.Hits.Count300, in.Hits.Count100, in.Hits.Count50, in.Hits.CountGeki, in.Hits.CountKatu, in.Hits.CountMiss)
	if total <= 0 {
		return 0.0
	}
	acc := models.Accuracy(in.Mode, in.Hits.Count300, in.Hits.Count100, in.Hits.Count50, in.Hits.CountGeki, in.Hits.CountKatu, in.Hits.CountMiss)
	base := acc * acc * acc * 300.0
	if usesRelaxAlgorithm(in.Mode, in.Mods) {
		base *= 1.05
	}
	if in.Mods&models.ModsHidden != 0 {
		base *= 1.06
	}
	if in.Mods&models.ModsFlashlight != 0 {
		base *= 1.12
	}
	return base
}

func (stub) Stars(beatmapFile []byte, mods uint32, mode models.Mode) float64 {
	if len(beatmapFile) == 0 {
		return 0.0
	}
	base := 5.0
	if mods&models.ModsRelaxBit != 0 {
		base *= 0.97
	}
	return base
}

func (s stub) AtAccuracies(in Input, targets []float64) []AccuracyPoint {
	out := make([]AccuracyPoint, 0, len(targets))
	stars := s.Stars(in.BeatmapFile, in.Mods, in.Mode)
	for _, target := range targets {
		scaled := in
		scaled.Hits = hitsForAccuracy(in.Mode, target, models.TotalHits(in.Mode, in.Hits.Count300, in.Hits.Count100, in.Hits.Count50, in.Hits.CountGeki, in.Hits.CountKatu, in.Hits.CountMiss))
		out = append(out, AccuracyPoint{
			Accuracy: target,
			PP:       s.PP(scaled),
			Stars:    stars,
		})
	}
	return out
}

// hitsForAccuracy synthesizes an all-300s-except-for-accuracy-loss hit
// distribution for a target accuracy, the simplification the bot's
// PP-at-accuracy report relies on (real clients report actual replay
// hit data; this is only used for the hypothetical "what would this
// play be worth" reports).
func hitsForAccuracy(mode models.Mode, target float64, total int32) Hits {
	if total <= 0 {
		total = 1000
	}
	switch mode {
	case models.ModeMania:
		c300 := int32(float64(total) * target)
		return Hits{Count300: c300, Count100: total - c300}
	default:
		c300 := int32(float64(total) * target)
		return Hits{Count300: c300, Count100: total - c300}
	}
}
