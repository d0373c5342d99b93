package capability

import (
	"context"
	"time"
)

// CheckResult is the sandbox's answer for one (resource, action) pair.
type CheckResult struct {
	InScope bool

	// Grant is the winning grant when InScope is true.
	Grant *Grant

	// Reason explains an out-of-scope result for audit evidence.
	Reason string
}

// Sandbox evaluates whether requested actions fall within an agent's granted
// capability set.
type Sandbox struct {
	repo Repository
	now  func() time.Time
}

// NewSandbox creates a Sandbox over the given grant repository.
func NewSandbox(repo Repository) *Sandbox {
	return &Sandbox{
		repo: repo,
		now:  time.Now,
	}
}

// Check determines whether any live, unexpired grant for the agent covers
// (resource, action) under its constraints. Matching is
// most-specific-pattern-wins; ties are impossible with conflicting
// constraints because such grants are rejected at creation. When equally
// specific grants with identical patterns but different ceilings slipped in
// under distinct action sets, the tighter ceiling wins.
func (s *Sandbox) Check(ctx context.Context, agentID, resource, action string, amount float64) (CheckResult, error) {
	grants, err := s.repo.ListByAgent(ctx, agentID)
	if err != nil {
		return CheckResult{}, err
	}

	now := s.now()

	var best *Grant
	bestSpec := -1
	for i := range grants {
		g := &grants[i]
		if !g.Live(now) {
			continue
		}
		if !g.AllowsAction(action) {
			continue
		}
		if !MatchResource(g.ResourcePattern, resource) {
			continue
		}

		spec := Specificity(g.ResourcePattern)
		if spec > bestSpec {
			best, bestSpec = g, spec
			continue
		}
		if spec == bestSpec && best != nil {
			// Equal specificity: prefer the more restrictive ceiling.
			if g.Constraints.MaxAmount != 0 &&
				(best.Constraints.MaxAmount == 0 || g.Constraints.MaxAmount < best.Constraints.MaxAmount) {
				best = g
			}
		}
	}

	if best == nil {
		return CheckResult{InScope: false, Reason: "no live grant covers resource and action"}, nil
	}

	if !best.Constraints.allowsTime(now) {
		return CheckResult{InScope: false, Reason: "grant time window excludes current time"}, nil
	}
	if !best.Constraints.allowsAmount(amount) {
		return CheckResult{InScope: false, Reason: "amount exceeds grant ceiling"}, nil
	}

	return CheckResult{InScope: true, Grant: best}, nil
}

// PreAuthorized reports whether the agent holds a live, exact-pattern
// high-risk pre-authorization for (resource, action). Used by the policy tier
// gate; a wildcard grant never qualifies.
func (s *Sandbox) PreAuthorized(ctx context.Context, agentID, resource, action string) (bool, error) {
	grants, err := s.repo.ListByAgent(ctx, agentID)
	if err != nil {
		return false, err
	}

	now := s.now()
	for i := range grants {
		g := &grants[i]
		if g.PreAuthorizedHighRisk && g.Live(now) &&
			g.ResourcePattern == resource && g.AllowsAction(action) {
			return true, nil
		}
	}
	return false, nil
}
