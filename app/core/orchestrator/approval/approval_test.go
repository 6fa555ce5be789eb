package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(ttl time.Duration, onExpiry string) Policy {
	return Policy{
		Rules: map[string]RiskLevel{
			"execute_agent": RiskMedium,
			"delete_data":   RiskHigh,
		},
		AgentRisk: map[string]RiskLevel{
			"scraper": RiskHigh,
		},
		TTL:      ttl,
		OnExpiry: onExpiry,
	}
}

func TestClassifyRiskUsesRuleTable(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))

	if got := gate.ClassifyRisk("execute_agent", nil); got != RiskMedium {
		t.Fatalf("unexpected risk: %s", got)
	}
	if got := gate.ClassifyRisk("delete_data", nil); got != RiskHigh {
		t.Fatalf("unexpected risk: %s", got)
	}
	if got := gate.ClassifyRisk("unknown_action", nil); got != RiskLow {
		t.Fatalf("unknown action should default low, got %s", got)
	}
}

func TestClassifyRiskAgentOverrideOnlyRaises(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))

	raised := gate.ClassifyRisk("execute_agent", map[string]string{"agent": "scraper"})
	if raised != RiskHigh {
		t.Fatalf("expected agent override to raise risk, got %s", raised)
	}
	kept := gate.ClassifyRisk("delete_data", map[string]string{"agent": "claude"})
	if kept != RiskHigh {
		t.Fatalf("expected base risk kept, got %s", kept)
	}
}

func TestClassifyRiskDeterministic(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))
	meta := map[string]string{"agent": "scraper"}

	first := gate.ClassifyRisk("execute_agent", meta)
	for i := 0; i < 10; i++ {
		if got := gate.ClassifyRisk("execute_agent", meta); got != first {
			t.Fatalf("classification changed between runs: %s vs %s", first, got)
		}
	}
}

func TestRequiresApprovalModeSemantics(t *testing.T) {
	cases := []struct {
		mode string
		risk RiskLevel
		want bool
	}{
		{ModeAuto, RiskHigh, false},
		{ModeApproveAll, RiskLow, true},
		{ModeApproveHighRisk, RiskHigh, true},
		{ModeApproveHighRisk, RiskMedium, false},
		{ModeApproveHighRisk, RiskLow, false},
	}
	for _, tc := range cases {
		if got := RequiresApproval("execute_agent", tc.risk, tc.mode); got != tc.want {
			t.Fatalf("mode=%s risk=%s: got %v want %v", tc.mode, tc.risk, got, tc.want)
		}
	}
}

func TestDecideSecondResponseRejected(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))
	req, err := gate.CreateRequest("task-1", "execute_agent", RiskMedium)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	resp, err := gate.Decide(req.ID, true, "alice")
	if err != nil {
		t.Fatalf("first decide failed: %v", err)
	}
	if !resp.Approved || resp.DecidedBy != "alice" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := gate.Decide(req.ID, false, "bob"); !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDecideAfterExpiryFailsClosed(t *testing.T) {
	gate := NewGate(testPolicy(10*time.Millisecond, OnExpiryReject))
	req, err := gate.CreateRequest("task-1", "execute_agent", RiskMedium)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := gate.Decide(req.ID, true, "late"); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}

	// the committed outcome is the fail-closed rejection
	resp, err := gate.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if resp.Approved {
		t.Fatalf("expired request must resolve rejected")
	}
	if resp.DecidedBy != ExpiryDecider {
		t.Fatalf("unexpected decider: %s", resp.DecidedBy)
	}
}

func TestAwaitResolvesOnDecide(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))
	req, err := gate.CreateRequest("task-1", "execute_agent", RiskHigh)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = gate.Decide(req.ID, true, "operator")
	}()

	resp, err := gate.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if !resp.Approved || resp.DecidedBy != "operator" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAwaitExpiryHonorsApprovePolicy(t *testing.T) {
	gate := NewGate(testPolicy(10*time.Millisecond, OnExpiryApprove))
	req, err := gate.CreateRequest("task-1", "execute_agent", RiskLow)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	resp, err := gate.Await(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if !resp.Approved {
		t.Fatalf("expected approve-on-expiry policy to approve")
	}
}

func TestAwaitCancellation(t *testing.T) {
	gate := NewGate(testPolicy(time.Minute, OnExpiryReject))
	req, err := gate.CreateRequest("task-1", "execute_agent", RiskLow)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := gate.Await(ctx, req.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSweepExpiredResolvesPending(t *testing.T) {
	gate := NewGate(testPolicy(10*time.Millisecond, OnExpiryReject))
	if _, err := gate.CreateRequest("task-1", "execute_agent", RiskLow); err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if _, err := gate.CreateRequest("task-2", "execute_agent", RiskLow); err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	if got := len(gate.Pending()); got != 2 {
		t.Fatalf("expected 2 pending, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if swept := gate.SweepExpired(time.Now()); swept != 2 {
		t.Fatalf("expected 2 swept, got %d", swept)
	}
	if got := len(gate.Pending()); got != 0 {
		t.Fatalf("expected no pending after sweep, got %d", got)
	}
}

func TestParseRisk(t *testing.T) {
	if risk, err := ParseRisk("HIGH"); err != nil || risk != RiskHigh {
		t.Fatalf("parse high failed: %v %v", risk, err)
	}
	if risk, err := ParseRisk(""); err != nil || risk != RiskLow {
		t.Fatalf("parse empty failed: %v %v", risk, err)
	}
	if _, err := ParseRisk("extreme"); err == nil {
		t.Fatalf("expected error for unknown label")
	}
}
