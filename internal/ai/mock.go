package ai

import (
	"context"
	"errors"
	"sync"
)

// ScriptedClient replays canned responses in order. It records every
// request it receives.
type ScriptedClient struct {
	Label string

	mu       sync.Mutex
	steps    []ScriptStep
	requests []Request
}

type ScriptStep struct {
	Response Response
	Err      error
}

func NewScriptedClient(label string, steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{Label: label, steps: steps}
}

func Reply(text string) ScriptStep {
	return ScriptStep{Response: Response{Content: text}}
}

func CallTools(calls ...ToolCall) ScriptStep {
	return ScriptStep{Response: Response{ToolCalls: calls}}
}

func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

func (s *ScriptedClient) Name() string { return s.Label }

func (s *ScriptedClient) Complete(ctx context.Context, r Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Request{Messages: append([]Message(nil), r.Messages...), Tools: r.Tools}
	s.requests = append(s.requests, cp)
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if len(s.steps) == 0 {
		return Response{}, errors.New("scripted client: script exhausted")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Response, step.Err
}

func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
