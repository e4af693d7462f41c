// Package integrity compares what a reply says was done with what the
// tool trace of the same turn shows was done.
package integrity

import (
	"regexp"
	"strings"

	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/tools"
)

type Claim string

const (
	ClaimNone    Claim = ""
	ClaimAddress Claim = "address_saved"
	ClaimCreated Claim = "ticket_created"
	ClaimUpdated Claim = "ticket_updated"
)

// Verdict is the outcome of one check. Expected names the tools any of
// which would have backed the claim.
type Verdict struct {
	Consistent bool
	Claim      Claim
	Sentence   string
	Expected   []string
	LastTool   string
}

type Checker interface {
	Check(reply string, trace models.ToolTrace) Verdict
}

// TraceConsistencyChecker flags replies that claim an address was
// processed, a ticket was created or a ticket was updated while the last
// tool call of the turn says otherwise.
type TraceConsistencyChecker struct{}

var (
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
	wordRe     = regexp.MustCompile(`[а-яёa-z]+`)
)

var (
	addressVerbs = []string{"сохран", "обработ", "автоматическ", "принят", "записал", "зафиксир"}
	createVerbs  = []string{"создан", "сформирован", "оформлен"}

	// Short past participles only; nouns such as "изменения" share the stem.
	updateWords = map[string]bool{
		"обновлен": true, "обновлена": true, "обновлено": true, "обновлены": true,
		"изменен": true, "изменена": true, "изменено": true, "изменены": true,
		"внесен": true, "внесена": true, "внесено": true, "внесены": true,
		"обновлён": true, "изменён": true, "внесён": true,
	}

	// Words that turn a claim sentence into a plan, a condition or a denial.
	qualifiers = map[string]bool{"не": true, "будет": true, "будут": true, "ли": true, "можно": true, "нужно": true, "после": true, "когда": true}
)

type rule struct {
	claim    Claim
	expected []string
	match    func(sentence string, words []string, question bool) bool
}

var rules = []rule{
	{
		claim:    ClaimCreated,
		expected: []string{tools.CreateRequest},
		match: func(s string, words []string, question bool) bool {
			if question || !strings.Contains(s, "заявк") || !containsAny(s, createVerbs) {
				return false
			}
			return !qualified(words)
		},
	},
	{
		claim:    ClaimUpdated,
		expected: []string{tools.ModifyRequest},
		match: func(_ string, words []string, question bool) bool {
			if question || qualified(words) {
				return false
			}
			for _, w := range words {
				if updateWords[w] {
					return true
				}
			}
			return false
		},
	},
	{
		claim:    ClaimAddress,
		expected: []string{tools.CreateRequest, tools.SaveAddress, tools.SaveGPS},
		match: func(s string, _ []string, _ bool) bool {
			return strings.Contains(s, "адрес") && containsAny(s, addressVerbs)
		},
	},
}

func (TraceConsistencyChecker) Check(reply string, trace models.ToolTrace) Verdict {
	last, hasLast := trace.Last()
	lastName := ""
	if hasLast && !last.Failed {
		lastName = last.Name
	}
	for _, sentence := range sentenceRe.FindAllString(strings.ToLower(reply), -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		question := strings.HasSuffix(sentence, "?")
		words := wordRe.FindAllString(sentence, -1)
		for _, r := range rules {
			if !r.match(sentence, words, question) || contains(r.expected, lastName) {
				continue
			}
			return Verdict{Claim: r.claim, Sentence: sentence, Expected: r.expected, LastTool: last.Name}
		}
	}
	return Verdict{Consistent: true}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func qualified(words []string) bool {
	for _, w := range words {
		if qualifiers[w] {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
