package trust

import (
	"context"
	"math"
	"time"
)

// Scorer applies decision outcomes to agent scores and derives tiers.
type Scorer struct {
	store       Store
	decayPerDay float64
	metrics     *Metrics
	now         func() time.Time
}

// NewScorer creates a Scorer. decayPerDay points of score drain off per idle
// day; zero disables decay. metrics may be nil.
func NewScorer(store Store, decayPerDay float64, metrics *Metrics) *Scorer {
	return &Scorer{
		store:       store,
		decayPerDay: decayPerDay,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Current returns the agent's score record, creating the initial record on
// first sight and applying any pending idle decay.
func (s *Scorer) Current(ctx context.Context, agentID string) (Score, error) {
	return s.apply(ctx, agentID, 0, "read", false)
}

// RecordSuccess applies the small positive delta for an unescalated,
// successfully completed action.
func (s *Scorer) RecordSuccess(ctx context.Context, agentID string) (Score, error) {
	return s.apply(ctx, agentID, DeltaSuccess, "success", false)
}

// RecordConstraintViolation applies the large negative delta and forces the
// agent to Supervised regardless of remaining score.
func (s *Scorer) RecordConstraintViolation(ctx context.Context, agentID string) (Score, error) {
	return s.apply(ctx, agentID, DeltaConstraintViolation, "constraint_violation", true)
}

// RecordMinorError applies the small negative delta for a reported execution
// error.
func (s *Scorer) RecordMinorError(ctx context.Context, agentID string) (Score, error) {
	return s.apply(ctx, agentID, DeltaMinorError, "minor_error", false)
}

// RecordSuspicious applies the moderate negative delta for a suspicious
// sanitizer verdict. Applied even when the underlying action was denied.
func (s *Scorer) RecordSuspicious(ctx context.Context, agentID string) (Score, error) {
	return s.apply(ctx, agentID, DeltaSuspicious, "suspicious_payload", false)
}

// RecordAnomaly applies the anomaly delta scaled by signal severity in
// (0, 1]. A nonzero severity always costs at least one point.
func (s *Scorer) RecordAnomaly(ctx context.Context, agentID string, severity float64) (Score, error) {
	if severity <= 0 {
		return s.Current(ctx, agentID)
	}
	if severity > 1 {
		severity = 1
	}
	delta := int(math.Round(float64(DeltaAnomaly) * severity))
	if delta == 0 {
		delta = -1
	}
	return s.apply(ctx, agentID, delta, "anomaly", false)
}

func (s *Scorer) apply(ctx context.Context, agentID string, delta int, reason string, forceSupervised bool) (Score, error) {
	now := s.now().UTC()

	var prevTier Tier
	next, err := s.store.Update(ctx, agentID, func(current Score) Score {
		if current.Tier == "" {
			current = NewScore(agentID, now)
		}
		prevTier = current.Tier

		value := s.decayed(current.Value, current.LastUpdated, now)
		value = Clamp(value + delta)

		tier := NextTier(current.Tier, value)
		if forceSupervised {
			tier = TierSupervised
		}

		return Score{
			AgentID:     agentID,
			Value:       value,
			Tier:        tier,
			LastUpdated: now,
		}
	})
	if err != nil {
		return Score{}, err
	}

	if s.metrics != nil {
		if delta != 0 || forceSupervised {
			s.metrics.deltasApplied.WithLabelValues(reason).Inc()
		}
		if prevTier != "" && prevTier != next.Tier {
			s.metrics.tierTransitions.WithLabelValues(string(prevTier), string(next.Tier)).Inc()
		}
	}
	return next, nil
}

// decayed drains score for idle time since the last update. Lazy: computed
// on the next touch rather than by a background job.
func (s *Scorer) decayed(value int, lastUpdated, now time.Time) int {
	if s.decayPerDay <= 0 || lastUpdated.IsZero() || !now.After(lastUpdated) {
		return value
	}
	days := now.Sub(lastUpdated).Hours() / 24
	return value - int(math.Floor(days*s.decayPerDay))
}
