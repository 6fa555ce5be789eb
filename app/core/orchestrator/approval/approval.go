package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateResponse = errors.New("approval: request already decided")
	ErrRequestExpired    = errors.New("approval: request expired")
	ErrRequestNotFound   = errors.New("approval: request not found")
)

// RiskLevel orders action sensitivity: low < medium < high.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParseRisk(raw string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level %q", raw)
	}
}

const (
	ModeAuto            = "auto"
	ModeApproveAll      = "approve_all"
	ModeApproveHighRisk = "approve_high_risk"

	OnExpiryReject  = "reject"
	OnExpiryApprove = "approve"

	// ExpiryDecider marks responses committed by the expiry policy rather
	// than a human or caller.
	ExpiryDecider = "policy:on_expiry"
)

// Request is one pending approval, valid until ExpiresAt.
type Request struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	ActionType string    `json:"action_type"`
	Risk       RiskLevel `json:"-"`
	RiskLabel  string    `json:"risk_level"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Response is the single outcome a request can ever have.
type Response struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// Policy is the configured rule table driving classification and expiry.
type Policy struct {
	Rules     map[string]RiskLevel // action type -> base risk
	AgentRisk map[string]RiskLevel // per-agent override, raises only
	TTL       time.Duration
	OnExpiry  string // reject | approve
}

type pendingRequest struct {
	req     Request
	resp    *Response
	expired bool
	done    chan struct{}
}

// Gate decides whether execution may proceed. Expiry firing and an explicit
// Decide racing on one request commit exactly one outcome under the gate
// mutex; the loser gets ErrRequestExpired or ErrDuplicateResponse.
type Gate struct {
	policy Policy

	mu       sync.Mutex
	requests map[string]*pendingRequest
}

func NewGate(policy Policy) *Gate {
	if policy.TTL <= 0 {
		policy.TTL = 5 * time.Minute
	}
	if policy.OnExpiry != OnExpiryApprove {
		policy.OnExpiry = OnExpiryReject
	}
	return &Gate{
		policy:   policy,
		requests: make(map[string]*pendingRequest),
	}
}

// ClassifyRisk is a pure function over the rule table: base level for the
// action type, raised by a per-agent override when that is higher.
func (g *Gate) ClassifyRisk(actionType string, meta map[string]string) RiskLevel {
	risk := RiskLow
	if level, ok := g.policy.Rules[strings.ToLower(strings.TrimSpace(actionType))]; ok {
		risk = level
	}
	if agent, ok := meta["agent"]; ok {
		if level, ok := g.policy.AgentRisk[strings.TrimSpace(agent)]; ok && level > risk {
			risk = level
		}
	}
	return risk
}

func RequiresApproval(actionType string, risk RiskLevel, mode string) bool {
	_ = actionType
	switch mode {
	case ModeApproveAll:
		return true
	case ModeApproveHighRisk:
		return risk == RiskHigh
	default:
		return false
	}
}

func (g *Gate) CreateRequest(taskID, actionType string, risk RiskLevel) (*Request, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	now := time.Now()
	req := Request{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		ActionType: strings.TrimSpace(actionType),
		Risk:       risk,
		RiskLabel:  risk.String(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.policy.TTL),
	}

	g.mu.Lock()
	g.requests[req.ID] = &pendingRequest{req: req, done: make(chan struct{})}
	g.mu.Unlock()
	return &req, nil
}

// Decide commits the one response a request may have.
func (g *Gate) Decide(requestID string, approved bool, decidedBy string) (*Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if p.resp != nil {
		if p.expired {
			return nil, fmt.Errorf("%w: %s", ErrRequestExpired, requestID)
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateResponse, requestID)
	}
	if time.Now().After(p.req.ExpiresAt) {
		g.resolveExpiredLocked(p)
		return nil, fmt.Errorf("%w: %s", ErrRequestExpired, requestID)
	}

	resp := &Response{
		RequestID: requestID,
		Approved:  approved,
		DecidedBy: strings.TrimSpace(decidedBy),
		DecidedAt: time.Now(),
	}
	p.resp = resp
	close(p.done)
	return resp, nil
}

// Await blocks until the request is decided, its expiry passes, or ctx is
// cancelled. Expired requests resolve per the configured OnExpiry policy.
func (g *Gate) Await(ctx context.Context, requestID string) (*Response, error) {
	g.mu.Lock()
	p, ok := g.requests[requestID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	timer := time.NewTimer(time.Until(p.req.ExpiresAt))
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		g.mu.Lock()
		if p.resp == nil {
			g.resolveExpiredLocked(p)
		}
		g.mu.Unlock()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.mu.Lock()
	resp := p.resp
	g.mu.Unlock()
	return resp, nil
}

// Pending lists undecided requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Request
	for _, p := range g.requests {
		if p.resp == nil {
			out = append(out, p.req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SweepExpired resolves every expired undecided request per policy and
// returns how many were swept. Run periodically so abandoned requests cannot
// linger.
func (g *Gate) SweepExpired(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	swept := 0
	for _, p := range g.requests {
		if p.resp == nil && now.After(p.req.ExpiresAt) {
			g.resolveExpiredLocked(p)
			swept++
		}
	}
	return swept
}

func (g *Gate) resolveExpiredLocked(p *pendingRequest) {
	p.resp = &Response{
		RequestID: p.req.ID,
		Approved:  g.policy.OnExpiry == OnExpiryApprove,
		DecidedBy: ExpiryDecider,
		DecidedAt: time.Now(),
	}
	p.expired = true
	close(p.done)
}
