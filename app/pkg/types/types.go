package types

import "context"

// TaskRequest is a task submission as it arrives from a channel.
type TaskRequest struct {
	SystemPrompt     string
	UserPrompt       string
	WorkingDirectory string
	ApprovalMode     string            // optional override of the configured approval mode
	Meta             map[string]string // channel-specific context (user id, request id)
}

// Channel is an inbound transport surface (HTTP API, interactive CLI).
type Channel interface {
	Start(ctx context.Context) error
	ID() string
}
