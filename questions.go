package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed questions/default_questions.json
var defaultQuestions []byte

// A prompt is either a plain question shown identically to everyone, or a
// "tag" prompt that gets personalized per player: the subject line names one
// player of the room and everyone picks the choice fitting them best.
type prompt struct {
	Type    string      `json:"type"` // "question" or "tag"
	Text    string      `json:"text"`
	Choices []tagChoice `json:"choices,omitempty"`
}

type tagChoice struct {
	Label  string `json:"label"`
	Image  string `json:"image,omitempty"`
	Credit string `json:"credit,omitempty"`
}

func (p *prompt) isTag() bool {
	return p.Type == "tag"
}

// clientPrompt is the per-recipient wire form of a prompt. Plain questions
// serialize as {"tag":"Question","prompt":"…"}; tag prompts as
// {"tag":"Tag","prompt":[text, subject, [[label, image, credit], …]]} with
// the subject chosen per recipient.
type clientPrompt struct {
	prompt  *prompt
	subject string
}

func (p clientPrompt) MarshalJSON() ([]byte, error) {
	if !p.prompt.isTag() {
		return json.Marshal(struct {
			Tag    string `json:"tag"`
			Prompt string `json:"prompt"`
		}{
			Tag:    "Question",
			Prompt: p.prompt.Text,
		})
	}

	choices := make([][3]string, 0, len(p.prompt.Choices))
	for _, c := range p.prompt.Choices {
		choices = append(choices, [3]string{c.Label, c.Image, c.Credit})
	}

	return json.Marshal(struct {
		Tag    string `json:"tag"`
		Prompt [3]any `json:"prompt"`
	}{
		Tag:    "Tag",
		Prompt: [3]any{p.prompt.Text, p.subject, choices},
	})
}

// loadQuestions reads the question corpus from path, or from the embedded
// default list when path is empty. The corpus is validated once here and
// never mutated afterwards.
func loadQuestions(path string) ([]prompt, error) {
	data := defaultQuestions

	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = contents
	}

	var questions []prompt
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parsing question list: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		switch q.Type {
		case "question":
			if len(q.Choices) != 0 {
				return nil, fmt.Errorf("question %d: plain questions take no choices", i)
			}
		case "tag":
			if len(q.Choices) < 2 {
				return nil, fmt.Errorf("question %d: tag prompts need at least two choices", i)
			}
		default:
			return nil, fmt.Errorf("question %d: unknown type %q", i, q.Type)
		}
		if q.Text == "" {
			return nil, fmt.Errorf("question %d: empty text", i)
		}
	}

	if len(questions) < questionCount {
		return nil, fmt.Errorf("question list has %d entries, need at least %d", len(questions), questionCount)
	}

	return questions, nil
}
