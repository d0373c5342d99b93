// Package trust maintains a bounded reputation score per agent and derives an
// autonomy tier from it. Scores move on decision outcomes; tiers move on
// scores, with a dead-band so a single noisy outcome cannot flip an agent back
// and forth across a boundary.
package trust

import (
	"time"
)

// Tier is a coarse autonomy band derived from the score.
type Tier string

const (
	TierSupervised Tier = "supervised"
	TierGuided     Tier = "guided"
	TierStandard   Tier = "standard"
	TierAdvanced   Tier = "advanced"
)

// Score bounds and tier thresholds.
const (
	MinScore = 0
	MaxScore = 100

	guidedFloor   = 26
	standardFloor = 51
	advancedFloor = 76

	// hysteresis is the dead-band applied on each boundary: an agent must
	// clear the threshold by this margin before moving up, and fall below
	// it by the same margin before moving down.
	hysteresis = 3

	// InitialScore is where a freshly provisioned agent starts.
	InitialScore = 10
)

// Deltas applied on decision outcomes.
const (
	DeltaSuccess             = 2
	DeltaConstraintViolation = -25
	DeltaMinorError          = -5
	DeltaSuspicious          = -10
	DeltaAnomaly             = -8
)

// Score is the live reputation record for one agent. One record per agent,
// updated atomically; transition history lives in the audit ledger.
type Score struct {
	AgentID     string    `json:"agent_id"`
	Value       int       `json:"value"`
	Tier        Tier      `json:"tier"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewScore returns the initial record for a freshly provisioned agent.
func NewScore(agentID string, now time.Time) Score {
	return Score{
		AgentID:     agentID,
		Value:       InitialScore,
		Tier:        TierSupervised,
		LastUpdated: now.UTC(),
	}
}

// Clamp bounds a raw score value to [MinScore, MaxScore].
func Clamp(value int) int {
	if value < MinScore {
		return MinScore
	}
	if value > MaxScore {
		return MaxScore
	}
	return value
}

// TierForScore maps a score to its tier with no hysteresis. Used for initial
// placement and forced transitions.
func TierForScore(value int) Tier {
	switch {
	case value >= advancedFloor:
		return TierAdvanced
	case value >= standardFloor:
		return TierStandard
	case value >= guidedFloor:
		return TierGuided
	default:
		return TierSupervised
	}
}

// tierFloor returns the lowest score inside the tier.
func tierFloor(t Tier) int {
	switch t {
	case TierAdvanced:
		return advancedFloor
	case TierStandard:
		return standardFloor
	case TierGuided:
		return guidedFloor
	default:
		return MinScore
	}
}

// tierCeil returns the highest score inside the tier.
func tierCeil(t Tier) int {
	switch t {
	case TierSupervised:
		return guidedFloor - 1
	case TierGuided:
		return standardFloor - 1
	case TierStandard:
		return advancedFloor - 1
	default:
		return MaxScore
	}
}

// NextTier applies hysteresis: from the current tier, the score must exceed
// the upper boundary by the dead-band to promote, or undershoot the lower
// boundary by the dead-band to demote. Within the band the tier holds.
func NextTier(current Tier, value int) Tier {
	target := TierForScore(value)
	if target == current {
		return current
	}

	if tierFloor(target) > tierFloor(current) {
		// Promotion: must clear the current tier's ceiling by the band.
		if value >= tierCeil(current)+1+hysteresis {
			return TierForScore(value)
		}
		return current
	}

	// Demotion: must fall below the current tier's floor by the band.
	if value <= tierFloor(current)-1-hysteresis {
		return TierForScore(value)
	}
	return current
}
