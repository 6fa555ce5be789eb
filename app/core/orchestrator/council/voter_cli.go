package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"lastagent/app/pkg/cmdutil"
)

// CLIVoter consults a local model CLI. The prompt demands a strict JSON
// ballot; anything else is a voter error and the selection proceeds without
// this vote.
type CLIVoter struct {
	id      string
	command string
	args    []string
	timeout time.Duration
}

func NewCLIVoter(id, command string, args []string, timeout time.Duration) *CLIVoter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIVoter{id: id, command: command, args: args, timeout: timeout}
}

func (v *CLIVoter) ID() string {
	return v.id
}

func (v *CLIVoter) Vote(ctx context.Context, req Request) (Ballot, error) {
	if err := cmdutil.RequireExecutable(v.command); err != nil {
		return Ballot{}, err
	}
	cmdCtx := cmdutil.WithCommandLogContext(ctx, cmdutil.CommandLogContext{
		TaskID: req.TaskID,
		Stage:  "vote",
	})
	out, err := cmdutil.RunWithInput(cmdCtx, v.command, v.args, BuildBallotPrompt(req), "", v.timeout)
	if err != nil {
		return Ballot{}, err
	}
	return ParseBallot(v.id, out)
}

// BuildBallotPrompt asks a voter for a strict JSON ballot over the candidate
// agents.
func BuildBallotPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are one voter on an agent-selection council.\n")
	b.WriteString("Pick the single best agent for the task below and rank all candidates.\n")
	b.WriteString("Return JSON only.\n\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"agent":"name","ranking":["best","...","worst"],"rationale":"short"}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- agent must be one of the candidates.\n")
	b.WriteString("- ranking must list every candidate exactly once.\n")
	b.WriteString("- rationale is one or two sentences.\n\n")
	b.WriteString("candidates:\n")
	for _, name := range req.Candidates {
		b.WriteString("- " + name + "\n")
	}
	b.WriteString("\nsystem_prompt: " + req.SystemPrompt + "\n")
	b.WriteString("user_prompt: " + req.UserPrompt + "\n")
	if strings.TrimSpace(req.WorkingDirectory) != "" {
		b.WriteString("working_directory: " + req.WorkingDirectory + "\n")
	}
	return b.String()
}

// ParseBallot extracts the JSON ballot from raw voter output, tolerating
// leading or trailing prose around the object.
func ParseBallot(voterID, text string) (Ballot, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return Ballot{}, fmt.Errorf("ballot json not found")
	}
	payload := text[start : end+1]
	if !gjson.Valid(payload) {
		return Ballot{}, fmt.Errorf("invalid ballot json")
	}

	parsed := gjson.Parse(payload)
	ballot := Ballot{
		VoterID:   voterID,
		Agent:     strings.TrimSpace(parsed.Get("agent").String()),
		Rationale: strings.TrimSpace(parsed.Get("rationale").String()),
	}
	if ballot.Agent == "" {
		return Ballot{}, fmt.Errorf("ballot missing agent")
	}
	for _, item := range parsed.Get("ranking").Array() {
		name := strings.TrimSpace(item.String())
		if name != "" {
			ballot.Ranking = append(ballot.Ranking, name)
		}
	}
	return ballot, nil
}
