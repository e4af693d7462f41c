package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient adapts any langchaingo model to Client. It serves as the
// fallback provider.
type LangChainClient struct {
	Model       llms.Model
	Label       string
	MaxTokens   int
	Temperature float64
}

// NewLangChainClient builds the fallback model for provider "anthropic" or
// "openai".
func NewLangChainClient(provider, model, apiKey, baseURL string, maxTokens int, temperature float64) (*LangChainClient, error) {
	var (
		m   llms.Model
		err error
	)
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		m, err = anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		m, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported fallback provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return &LangChainClient{Model: m, Label: provider + ":" + model, MaxTokens: maxTokens, Temperature: temperature}, nil
}

func (l *LangChainClient) Name() string { return l.Label }

func (l *LangChainClient) Complete(ctx context.Context, r Request) (Response, error) {
	opts := []llms.CallOption{llms.WithTemperature(l.Temperature)}
	if l.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.MaxTokens))
	}
	if len(r.Tools) > 0 {
		opts = append(opts, llms.WithTools(toLangChainTools(r.Tools)))
	}

	start := time.Now()
	resp, err := l.Model.GenerateContent(ctx, toLangChainMessages(r.Messages), opts...)
	if err != nil {
		if looksRateLimited(err) {
			return Response{}, RateLimitError{}
		}
		return Response{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, errors.New("empty model response")
	}

	out := Response{Duration: time.Since(start)}
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += choice.Content
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			args := json.RawMessage(tc.FunctionCall.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
		}
	}
	return out, nil
}

func toLangChainTools(specs []ToolSpec) []llms.Tool {
	out := make([]llms.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

func toLangChainMessages(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, mc)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}

func looksRateLimited(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit") || strings.Contains(s, "rate_limit")
}
