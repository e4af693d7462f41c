package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes one callable tool. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
	Duration  time.Duration
}

// Client is a tool-calling chat model.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// RateLimitError is returned when the provider throttled the request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var rlp *RateLimitError
	return errors.As(err, &rlp)
}
