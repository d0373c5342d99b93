package capability

import (
	"context"
	"testing"
	"time"
)

func newTestSandbox(t *testing.T) (*Sandbox, *InMemoryRepository) {
	t.Helper()
	repo := NewInMemoryRepository()
	sandbox := NewSandbox(repo)
	// Repository and sandbox share one clock so creation-time validation and
	// decision-time liveness agree on what "now" means.
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	sandbox.now = func() time.Time { return fixed }
	return sandbox, repo
}

func mustCreate(t *testing.T, repo *InMemoryRepository, g Grant) *Grant {
	t.Helper()
	created, err := repo.Create(context.Background(), &g)
	if err != nil {
		t.Fatalf("Create(%+v): %v", g, err)
	}
	return created
}

func TestSandbox_Check_DenyByDefault(t *testing.T) {
	sandbox, _ := newTestSandbox(t)

	result, err := sandbox.Check(context.Background(), "agent-1", "files/reports", "read", 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.InScope {
		t.Error("agent with no grants must be out of scope")
	}
	if result.Reason == "" {
		t.Error("out-of-scope result should carry a reason")
	}
}

func TestSandbox_Check_MatchingGrant(t *testing.T) {
	sandbox, repo := newTestSandbox(t)
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "files/reports/*",
		Actions:         []string{"read", "write"},
	})

	tests := []struct {
		name     string
		resource string
		action   string
		want     bool
	}{
		{name: "covered resource and action", resource: "files/reports/q2", action: "read", want: true},
		{name: "covered write", resource: "files/reports/q2", action: "write", want: true},
		{name: "action not granted", resource: "files/reports/q2", action: "delete", want: false},
		{name: "resource outside pattern", resource: "files/secrets", action: "read", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sandbox.Check(context.Background(), "agent-1", tt.resource, tt.action, 0)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if result.InScope != tt.want {
				t.Errorf("InScope = %v, want %v (reason %q)", result.InScope, tt.want, result.Reason)
			}
		})
	}
}

func TestSandbox_Check_MostSpecificWins(t *testing.T) {
	sandbox, repo := newTestSandbox(t)

	// Identical constraints so creation accepts the overlap; the narrow
	// pattern must still be the one that decides.
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "accounts/*",
		Actions:         []string{"transfer"},
	})
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "accounts/ops/*",
		Actions:         []string{"transfer"},
	})

	result, err := sandbox.Check(context.Background(), "agent-1", "accounts/ops/petty-cash", "transfer", 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.InScope {
		t.Fatalf("request should be in scope (reason %q)", result.Reason)
	}
	if result.Grant.ResourcePattern != "accounts/ops/*" {
		t.Errorf("winning pattern = %q, want accounts/ops/*", result.Grant.ResourcePattern)
	}
}

// stubRepo returns a fixed grant slice, bypassing creation-time conflict
// checks, so Check's defensive tie-breaking is reachable.
type stubRepo struct {
	grants []Grant
}

func (s *stubRepo) Create(ctx context.Context, grant *Grant) (*Grant, error) { return grant, nil }
func (s *stubRepo) Revoke(ctx context.Context, grantID string) error         { return nil }
func (s *stubRepo) ListByAgent(ctx context.Context, agentID string) ([]Grant, error) {
	return s.grants, nil
}

func TestSandbox_Check_EqualSpecificityTighterCeilingWins(t *testing.T) {
	repo := &stubRepo{grants: []Grant{
		{
			AgentID:         "agent-1",
			ResourcePattern: "accounts/ops",
			Actions:         []string{"transfer"},
			Constraints:     Constraints{MaxAmount: 1000},
		},
		{
			AgentID:         "agent-1",
			ResourcePattern: "accounts/ops",
			Actions:         []string{"transfer"},
			Constraints:     Constraints{MaxAmount: 100},
		},
	}}
	sandbox := NewSandbox(repo)

	result, err := sandbox.Check(context.Background(), "agent-1", "accounts/ops", "transfer", 500)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.InScope {
		t.Error("tighter ceiling should govern, 500 > 100")
	}
}

func TestSandbox_Check_AmountCeiling(t *testing.T) {
	sandbox, repo := newTestSandbox(t)
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "accounts/ops",
		Actions:         []string{"transfer"},
		Constraints:     Constraints{MaxAmount: 250},
	})

	tests := []struct {
		amount float64
		want   bool
	}{
		{100, true},
		{250, true},
		{250.01, false},
	}

	for _, tt := range tests {
		result, err := sandbox.Check(context.Background(), "agent-1", "accounts/ops", "transfer", tt.amount)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.InScope != tt.want {
			t.Errorf("amount %v: InScope = %v, want %v", tt.amount, result.InScope, tt.want)
		}
	}
}

func TestSandbox_Check_TimeWindow(t *testing.T) {
	sandbox, repo := newTestSandbox(t)
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "jobs/batch",
		Actions:         []string{"execute"},
		Constraints:     Constraints{StartHour: 22, EndHour: 6},
	})

	// Injected clock sits at 12:00 UTC, outside the overnight window.
	result, err := sandbox.Check(context.Background(), "agent-1", "jobs/batch", "execute", 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.InScope {
		t.Error("midday request should fall outside the 22-6 window")
	}

	sandbox.now = func() time.Time {
		return time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	}
	result, err = sandbox.Check(context.Background(), "agent-1", "jobs/batch", "execute", 0)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.InScope {
		t.Errorf("23:00 is inside the window (reason %q)", result.Reason)
	}
}

func TestSandbox_Check_ExpiredAndRevokedGrants(t *testing.T) {
	sandbox, repo := newTestSandbox(t)

	// The grant is created while its expiry is still in the future, then the
	// sandbox evaluates it an hour later.
	repo.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	}
	expired := mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "files/a",
		Actions:         []string{"read"},
		ExpiresAt:       time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	})
	_ = expired
	repo.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	revoked := mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "files/b",
		Actions:         []string{"read"},
	})
	if err := repo.Revoke(context.Background(), revoked.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	for _, resource := range []string{"files/a", "files/b"} {
		result, err := sandbox.Check(context.Background(), "agent-1", resource, "read", 0)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if result.InScope {
			t.Errorf("dead grant for %s still in scope", resource)
		}
	}
}

func TestSandbox_PreAuthorized(t *testing.T) {
	sandbox, repo := newTestSandbox(t)

	mustCreate(t, repo, Grant{
		AgentID:               "agent-1",
		ResourcePattern:       "files/tmp/cache",
		Actions:               []string{"delete"},
		PreAuthorizedHighRisk: true,
	})
	mustCreate(t, repo, Grant{
		AgentID:         "agent-1",
		ResourcePattern: "files/logs/*",
		Actions:         []string{"delete"},
	})

	tests := []struct {
		name     string
		resource string
		action   string
		want     bool
	}{
		{name: "exact pre-authorized pair", resource: "files/tmp/cache", action: "delete", want: true},
		{name: "different resource", resource: "files/tmp/other", action: "delete", want: false},
		{name: "different action", resource: "files/tmp/cache", action: "read", want: false},
		{name: "ordinary grant never pre-authorizes", resource: "files/logs/app", action: "delete", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sandbox.PreAuthorized(context.Background(), "agent-1", tt.resource, tt.action)
			if err != nil {
				t.Fatalf("PreAuthorized: %v", err)
			}
			if got != tt.want {
				t.Errorf("PreAuthorized = %v, want %v", got, tt.want)
			}
		})
	}
}
