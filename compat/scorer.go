// Package compat implements the Compatibility Scorer (spec §4.2): a pure
// function over two ticket snapshots and their elapsed waits that produces
// a score in [0,10], 10 being ideal.
package compat

import (
	"errors"

	"github.com/ranked1v1/matchcore/models"
)

// Weights sum to 1, per spec §4.2.
const (
	weightSkill = 0.5
	weightPrefs = 0.3
	weightWait  = 0.2
)

// ErrDifferentArea is returned when the two tickets are not co-locatable;
// the pair must never be offered to the engine in this case (spec §4.2,
// §8 invariant 7).
var ErrDifferentArea = errors.New("compat: tickets are in different areas")

// Config holds the tunable constants of the skill-proximity subscore.
type Config struct {
	BaseTolerance  float64 // rating points, default 50
	SkillRelaxRate float64 // points/second, default 5
	PrefK          float64 // preference-axis penalty slope, default 1
}

// DefaultConfig mirrors spec §6's defaults.
func DefaultConfig() Config {
	return Config{BaseTolerance: 50, SkillRelaxRate: 5, PrefK: 1}
}

// Score computes the compatibility score between tickets a and b, given
// their individual elapsed waits in seconds. Returns ErrDifferentArea if
// the tickets' areas differ.
func Score(cfg Config, a, b *models.Ticket, waitA, waitB float64) (float64, error) {
	if a.Area != b.Area {
		return 0, ErrDifferentArea
	}

	skill := skillProximity(cfg, a.RatingAtQueue, b.RatingAtQueue, waitA, waitB)
	prefs := preferenceAffinity(cfg, a.Preferences, b.Preferences)
	wait := waitBalance(waitA, waitB)

	return weightSkill*skill + weightPrefs*prefs + weightWait*wait, nil
}

func skillProximity(cfg Config, ra, rb int, waitA, waitB float64) float64 {
	minWait := waitA
	if waitB < minWait {
		minWait = waitB
	}
	tolerance := cfg.BaseTolerance + cfg.SkillRelaxRate*minWait
	diff := float64(ra - rb)
	if diff < 0 {
		diff = -diff
	}
	return clamp10(10 - diff/tolerance)
}

func preferenceAffinity(cfg Config, p, q models.Preferences) float64 {
	diffs := p.Distance(q)
	if len(diffs) == 0 {
		return 10
	}
	var sum float64
	for _, d := range diffs {
		sum += clamp10(10 - cfg.PrefK*d)
	}
	return sum / float64(len(diffs))
}

func waitBalance(waitA, waitB float64) float64 {
	diff := waitA - waitB
	if diff < 0 {
		diff = -diff
	}
	penalty := diff / 2
	if penalty > 10 {
		penalty = 10
	}
	return 10 - penalty
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
