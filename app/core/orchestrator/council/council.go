package council

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"lastagent/app/core/observability"
)

// ErrQuorumNotReached means too few voters responded for a valid selection.
var ErrQuorumNotReached = errors.New("council: quorum not reached")

// Request is one selection round sent to every voter.
type Request struct {
	TaskID           string
	SystemPrompt     string
	UserPrompt       string
	WorkingDirectory string
	Candidates       []string
}

// Ballot is a single voter's answer: a primary pick, a full preference order
// used for tie-breaks, and a short rationale.
type Ballot struct {
	VoterID   string
	Agent     string
	Ranking   []string
	Rationale string
}

// Voter is an advisory model consulted during selection. It never executes
// the task itself and may be slow or unavailable.
type Voter interface {
	ID() string
	Vote(ctx context.Context, req Request) (Ballot, error)
}

// AgentSelection is the immutable result of one council round.
type AgentSelection struct {
	SelectedAgent string              `json:"selected_agent"`
	Confidence    float64             `json:"confidence"`
	Reasoning     string              `json:"reasoning"`
	Votes         map[string]string   `json:"votes"`
	Rankings      map[string][]string `json:"rankings"`
}

type Selector struct {
	voters            []Voter
	quorum            int
	voterTimeout      time.Duration
	reasoningMaxRunes int
	sink              observability.Sink
}

func NewSelector(voters []Voter, quorum int, voterTimeout time.Duration, reasoningMaxRunes int, sink observability.Sink) *Selector {
	if quorum <= 0 || quorum > len(voters) {
		quorum = len(voters)/2 + 1
	}
	if voterTimeout <= 0 {
		voterTimeout = 30 * time.Second
	}
	if reasoningMaxRunes <= 0 {
		reasoningMaxRunes = 500
	}
	if sink == nil {
		sink = observability.NopSink{}
	}
	return &Selector{
		voters:            voters,
		quorum:            quorum,
		voterTimeout:      voterTimeout,
		reasoningMaxRunes: reasoningMaxRunes,
		sink:              sink,
	}
}

type voterResult struct {
	voterID string
	ballot  Ballot
	err     error
}

// Select fans the request out to every voter concurrently, each bounded by
// its own timeout, and aggregates the settled ballots. It fails fast with
// ErrQuorumNotReached the moment quorum becomes unreachable.
func (s *Selector) Select(ctx context.Context, req Request) (*AgentSelection, error) {
	if len(s.voters) == 0 {
		return nil, fmt.Errorf("%w: no voters configured", ErrQuorumNotReached)
	}
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("no candidate agents")
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan voterResult, len(s.voters))
	for _, voter := range s.voters {
		go func(v Voter) {
			voteCtx, voteCancel := context.WithTimeout(fanCtx, s.voterTimeout)
			defer voteCancel()

			start := time.Now()
			observability.Start(s.sink, req.TaskID, "voter:"+v.ID())
			ballot, err := v.Vote(voteCtx, req)
			if err == nil {
				err = validateBallot(&ballot, req.Candidates)
			}
			if err != nil {
				observability.Error(s.sink, req.TaskID, "voter:"+v.ID(), err)
			} else {
				observability.End(s.sink, req.TaskID, "voter:"+v.ID(), time.Since(start), "agent="+ballot.Agent)
			}
			ballot.VoterID = v.ID()
			results <- voterResult{voterID: v.ID(), ballot: ballot, err: err}
		}(voter)
	}

	var ballots []Ballot
	failed := 0
	for settled := 0; settled < len(s.voters); settled++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			if res.err != nil {
				failed++
				if len(s.voters)-failed < s.quorum {
					return nil, fmt.Errorf("%w: %d of %d voters failed, quorum %d", ErrQuorumNotReached, failed, len(s.voters), s.quorum)
				}
				continue
			}
			ballots = append(ballots, res.ballot)
		}
	}

	if len(ballots) < s.quorum {
		return nil, fmt.Errorf("%w: %d of %d voters responded, quorum %d", ErrQuorumNotReached, len(ballots), len(s.voters), s.quorum)
	}
	return s.aggregate(req.Candidates, ballots), nil
}

// validateBallot discards ballots naming a non-candidate agent and filters
// rankings down to candidate names.
func validateBallot(ballot *Ballot, candidates []string) error {
	ballot.Agent = strings.TrimSpace(ballot.Agent)
	if !containsString(candidates, ballot.Agent) {
		return fmt.Errorf("ballot names unknown agent %q", ballot.Agent)
	}
	var filtered []string
	for _, name := range ballot.Ranking {
		name = strings.TrimSpace(name)
		if containsString(candidates, name) && !containsString(filtered, name) {
			filtered = append(filtered, name)
		}
	}
	ballot.Ranking = filtered
	return nil
}

// aggregate is deterministic for a fixed ballot set: most votes wins, ties
// break on lowest rank sum, then ascending agent name.
func (s *Selector) aggregate(candidates []string, ballots []Ballot) *AgentSelection {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	votes := make(map[string]int, len(sorted))
	rankSums := make(map[string]int, len(sorted))
	for _, ballot := range ballots {
		votes[ballot.Agent]++
		for _, cand := range sorted {
			rankSums[cand] += rankPosition(ballot.Ranking, cand)
		}
	}

	winner := ""
	for _, cand := range sorted {
		if winner == "" {
			winner = cand
			continue
		}
		if votes[cand] > votes[winner] {
			winner = cand
			continue
		}
		if votes[cand] == votes[winner] && rankSums[cand] < rankSums[winner] {
			winner = cand
		}
	}

	selection := &AgentSelection{
		SelectedAgent: winner,
		Confidence:    float64(votes[winner]) / float64(len(ballots)),
		Votes:         make(map[string]string, len(ballots)),
		Rankings:      make(map[string][]string, len(ballots)),
	}

	sort.Slice(ballots, func(i, j int) bool {
		return ballots[i].VoterID < ballots[j].VoterID
	})
	var rationales []string
	for _, ballot := range ballots {
		selection.Votes[ballot.VoterID] = ballot.Agent
		if len(ballot.Ranking) > 0 {
			selection.Rankings[ballot.VoterID] = ballot.Ranking
		}
		if ballot.Agent == winner && strings.TrimSpace(ballot.Rationale) != "" {
			rationales = append(rationales, strings.TrimSpace(ballot.Rationale))
		}
	}
	selection.Reasoning = truncateRunes(strings.Join(rationales, "; "), s.reasoningMaxRunes)
	return selection
}

// rankPosition is the zero-based position of cand in ranking; agents a voter
// left unranked count one past the last place so sums stay finite.
func rankPosition(ranking []string, cand string) int {
	for i, name := range ranking {
		if name == cand {
			return i
		}
	}
	return len(ranking)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
