package council

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// APIVoter consults an OpenAI-compatible chat-completions endpoint. It uses
// the same ballot JSON contract as CLIVoter.
type APIVoter struct {
	id     string
	client openai.Client
	model  string
}

// NewAPIVoter builds a voter from config. apiKeyEnv names the environment
// variable holding the key so the config file never carries secrets.
func NewAPIVoter(id, model, baseURL, apiKeyEnv string) (*APIVoter, error) {
	var opts []option.RequestOption
	if strings.TrimSpace(apiKeyEnv) != "" {
		key := strings.TrimSpace(os.Getenv(apiKeyEnv))
		if key == "" {
			return nil, fmt.Errorf("api voter %s: %s is not set", id, apiKeyEnv)
		}
		opts = append(opts, option.WithAPIKey(key))
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &APIVoter{
		id:     id,
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (v *APIVoter) ID() string {
	return v.id
}

func (v *APIVoter) Vote(ctx context.Context, req Request) (Ballot, error) {
	completion, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(v.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You answer with a single JSON object and nothing else."),
			openai.UserMessage(BuildBallotPrompt(req)),
		},
	})
	if err != nil {
		return Ballot{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Ballot{}, fmt.Errorf("empty completion")
	}
	return ParseBallot(v.id, completion.Choices[0].Message.Content)
}
