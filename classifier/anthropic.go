// Package classifier decides which scan candidates are suggestions of things
// to do, using Anthropic's Messages API.
//
// Example usage:
//
//	c, err := classifier.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = steps.Register(r, steps.Deps{Classifier: c})
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/chatpipe/steps"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// DefaultMaxTokens bounds the response for one batch.
const DefaultMaxTokens = 2048

// MessagesClient is the part of the Anthropic SDK the classifier calls.
// *anthropic.MessageService satisfies it; tests pass a stub.
type MessagesClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Anthropic implements steps.Classifier. It is safe for concurrent use when
// the underlying client is.
type Anthropic struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// Option configures an Anthropic classifier.
type Option func(*Anthropic)

// WithModel selects the Claude model. Empty keeps the default.
func WithModel(model string) Option {
	return func(a *Anthropic) {
		if model != "" {
			a.model = model
		}
	}
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int64) Option {
	return func(a *Anthropic) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// New builds a classifier on an existing messages client.
func New(msg MessagesClient, opts ...Option) *Anthropic {
	a := &Anthropic{msg: msg, model: DefaultModel, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromAPIKey builds a classifier backed by the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts ...Option) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts...), nil
}

// Model returns the configured model name.
func (a *Anthropic) Model() string { return a.model }

// Classify sends the batch in one request and returns one Classification per
// input, in input order. Candidates the model does not mention are returned
// as non-activities.
func (a *Anthropic) Classify(ctx context.Context, batch []steps.ClassifyInput) ([]steps.Classification, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	msg, err := a.msg.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(batch))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	verdicts, err := parseVerdicts(text.String())
	if err != nil {
		return nil, err
	}
	return merge(batch, verdicts), nil
}

// verdict is one element of the JSON array the model is asked for.
type verdict struct {
	MessageID    int     `json:"message_id"`
	IsSuggestion bool    `json:"is_suggestion"`
	Activity     string  `json:"activity"`
	Location     string  `json:"location"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
}

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// parseVerdicts extracts the JSON array from the reply, which may be fenced
// or surrounded by prose.
func parseVerdicts(text string) ([]verdict, error) {
	raw := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	} else if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		raw = raw[start : end+1]
	} else {
		return nil, fmt.Errorf("no JSON array in classifier reply %q", truncate(text, 200))
	}

	var out []verdict
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode classifier reply: %w", err)
	}
	return out, nil
}

func merge(batch []steps.ClassifyInput, verdicts []verdict) []steps.Classification {
	byID := make(map[int]verdict, len(verdicts))
	for _, v := range verdicts {
		if _, dup := byID[v.MessageID]; !dup {
			byID[v.MessageID] = v
		}
	}

	out := make([]steps.Classification, len(batch))
	for i, in := range batch {
		id := in.Candidate.MessageID
		out[i] = steps.Classification{MessageID: id}
		v, ok := byID[id]
		if !ok || !v.IsSuggestion {
			continue
		}
		out[i].IsActivity = true
		out[i].Activity = strings.TrimSpace(v.Activity)
		out[i].Location = strings.TrimSpace(v.Location)
		out[i].Category = strings.ToLower(strings.TrimSpace(v.Category))
		out[i].Confidence = min(max(v.Confidence, 0), 1)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
