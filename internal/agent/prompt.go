package agent

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/servicedesk_bot/backend/internal/ai"
	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/models"
)

//go:embed prompts/system.tmpl
var systemPromptSource string

var systemPrompt = template.Must(template.New("system").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(systemPromptSource))

type draftLine struct {
	Field string
	Value string
}

type promptData struct {
	Today        string
	Directions   []string
	SupportPhone string
	Draft        []draftLine
	Tickets      []string
	Notes        []string
}

func renderSystemPrompt(catalog config.Catalog, in TurnInput, now time.Time) (string, error) {
	data := promptData{
		Today:        now.Format("2006-01-02, Monday"),
		Directions:   catalog.Directions,
		SupportPhone: catalog.SupportPhone,
		Notes:        in.Notes,
	}
	for _, f := range models.Fields {
		if v := in.Draft.Get(f); v != "" {
			data.Draft = append(data.Draft, draftLine{Field: string(f), Value: v})
		}
	}
	for _, t := range in.Tickets {
		if t.Number != "" {
			data.Tickets = append(data.Tickets, t.Number)
		}
	}
	var buf bytes.Buffer
	if err := systemPrompt.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// buildMessages assembles the model input: instructions, prior
// conversation, then the new user message.
func buildMessages(system string, in TurnInput) []ai.Message {
	msgs := make([]ai.Message, 0, len(in.History)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: system})
	for _, h := range in.History {
		role := ai.RoleUser
		if h.Role == string(ai.RoleAssistant) {
			role = ai.RoleAssistant
		}
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		msgs = append(msgs, ai.Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: in.Message})
	return msgs
}
