// Package capability manages scoped permission grants for agents and answers
// whether a requested (resource, action) pair falls within an agent's granted
// scope. It holds no policy logic beyond scope membership: it answers "is
// this permitted in principle", not "should this happen now".
package capability

import (
	"errors"
	"strings"
	"time"
)

// Grant is one scoped permission for an agent. Grants are immutable once
// created; changes are expressed as revoke-and-recreate, never in-place
// mutation.
type Grant struct {
	ID              string      `json:"id"`
	AgentID         string      `json:"agent_id"`
	ResourcePattern string      `json:"resource_pattern"`
	Actions         []string    `json:"actions"`
	Constraints     Constraints `json:"constraints"`
	ExpiresAt       time.Time   `json:"expires_at"`
	CreatedAt       time.Time   `json:"created_at"`
	RevokedAt       time.Time   `json:"revoked_at,omitempty"`

	// PreAuthorizedHighRisk marks a narrowly-scoped pre-authorization that
	// lets the policy tier gate auto-approve an otherwise-escalated
	// high-risk action. It requires an exact resource pattern (no wildcard).
	PreAuthorizedHighRisk bool `json:"pre_authorized_high_risk,omitempty"`
}

// Constraints bound how a grant may be exercised.
type Constraints struct {
	// MaxAmount is a numeric ceiling for actions that carry an amount.
	// Zero means no ceiling.
	MaxAmount float64 `json:"max_amount,omitempty"`

	// StartHour and EndHour bound the UTC hours within which the grant is
	// exercisable, inclusive start, exclusive end. Both zero means always.
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`
}

// Equal reports whether two constraint sets are identical.
func (c Constraints) Equal(other Constraints) bool {
	return c == other
}

// hasTimeWindow reports whether the constraints carry an hour window.
func (c Constraints) hasTimeWindow() bool {
	return !(c.StartHour == 0 && c.EndHour == 0)
}

// allowsTime reports whether the given instant falls inside the hour window.
func (c Constraints) allowsTime(at time.Time) bool {
	if !c.hasTimeWindow() {
		return true
	}
	hour := at.UTC().Hour()
	if c.StartHour <= c.EndHour {
		return hour >= c.StartHour && hour < c.EndHour
	}
	// Window wraps midnight, e.g. 22-6.
	return hour >= c.StartHour || hour < c.EndHour
}

// allowsAmount reports whether the amount is within the ceiling.
func (c Constraints) allowsAmount(amount float64) bool {
	return c.MaxAmount == 0 || amount <= c.MaxAmount
}

// Grant validation errors.
var (
	ErrEmptyAgentID       = errors.New("agent_id is required")
	ErrEmptyPattern       = errors.New("resource_pattern is required")
	ErrNoActions          = errors.New("at least one action is required")
	ErrInvalidPattern     = errors.New("resource_pattern: wildcard only allowed as trailing segment")
	ErrInvalidHourWindow  = errors.New("constraint hours must be within 0-23")
	ErrWildcardPreAuth    = errors.New("high-risk pre-authorization requires an exact resource pattern")
	ErrConflictingGrants  = errors.New("grant overlaps an existing grant with conflicting constraints")
	ErrExpiryInPast       = errors.New("expires_at must be in the future")
)

// Validate checks the structural fields of a grant.
func (g *Grant) Validate(now time.Time) error {
	if g.AgentID == "" {
		return ErrEmptyAgentID
	}
	if g.ResourcePattern == "" {
		return ErrEmptyPattern
	}
	if len(g.Actions) == 0 {
		return ErrNoActions
	}
	if !validPattern(g.ResourcePattern) {
		return ErrInvalidPattern
	}
	if g.Constraints.StartHour < 0 || g.Constraints.StartHour > 23 ||
		g.Constraints.EndHour < 0 || g.Constraints.EndHour > 23 {
		return ErrInvalidHourWindow
	}
	if g.PreAuthorizedHighRisk && strings.HasSuffix(g.ResourcePattern, "*") {
		return ErrWildcardPreAuth
	}
	if !g.ExpiresAt.IsZero() && !g.ExpiresAt.After(now) {
		return ErrExpiryInPast
	}
	return nil
}

// Live reports whether the grant is unexpired and unrevoked at the instant.
func (g *Grant) Live(at time.Time) bool {
	if !g.RevokedAt.IsZero() && !at.Before(g.RevokedAt) {
		return false
	}
	if !g.ExpiresAt.IsZero() && !at.Before(g.ExpiresAt) {
		return false
	}
	return true
}

// AllowsAction reports whether the grant's action set covers the action.
func (g *Grant) AllowsAction(action string) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// validPattern accepts literal resource paths with an optional trailing "*"
// segment wildcard, e.g. "db/orders/*". A bare "*" matches everything.
func validPattern(pattern string) bool {
	if pattern == "*" {
		return true
	}
	if idx := strings.Index(pattern, "*"); idx != -1 {
		// Wildcard must be the final character and follow a separator.
		if idx != len(pattern)-1 {
			return false
		}
		return strings.HasSuffix(pattern, "/*")
	}
	return true
}

// MatchResource reports whether the pattern covers the resource.
func MatchResource(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(resource, prefix)
	}
	return pattern == resource
}

// Specificity ranks patterns: longer literal prefixes win, and an exact
// pattern always outranks a wildcard of the same length.
func Specificity(pattern string) int {
	if pattern == "*" {
		return 0
	}
	if strings.HasSuffix(pattern, "/*") {
		return 2 * len(strings.TrimSuffix(pattern, "/*"))
	}
	return 2*len(pattern) + 1
}

// Overlaps reports whether two patterns can both match some resource.
// For trailing-wildcard patterns this reduces to a prefix relationship.
func Overlaps(a, b string) bool {
	if a == "*" || b == "*" {
		return true
	}
	aPrefix, aWild := strings.CutSuffix(a, "*")
	bPrefix, bWild := strings.CutSuffix(b, "*")
	switch {
	case aWild && bWild:
		return strings.HasPrefix(aPrefix, bPrefix) || strings.HasPrefix(bPrefix, aPrefix)
	case aWild:
		return strings.HasPrefix(b, aPrefix)
	case bWild:
		return strings.HasPrefix(a, bPrefix)
	default:
		return a == b
	}
}

// actionsIntersect reports whether two action sets share any action.
func actionsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
