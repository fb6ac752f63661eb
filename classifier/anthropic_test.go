package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/steps"
)

type stubMessages struct {
	calls      int
	lastParams anthropic.MessageNewParams
	reply      string
	err        error
}

func (s *stubMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.calls++
	s.lastParams = body
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: s.reply}},
	}, nil
}

func (s *stubMessages) prompt(t *testing.T) string {
	t.Helper()
	if len(s.lastParams.Messages) != 1 || len(s.lastParams.Messages[0].Content) != 1 {
		t.Fatalf("unexpected request shape %+v", s.lastParams.Messages)
	}
	block := s.lastParams.Messages[0].Content[0].OfText
	if block == nil {
		t.Fatal("expected a text block")
	}
	return block.Text
}

func batch() []steps.ClassifyInput {
	return []steps.ClassifyInput{
		{
			Candidate: steps.Candidate{MessageID: 4, Sender: "Alice", Content: "we should go to Piha beach"},
			Context: []chat.Message{
				{ID: 3, Sender: "Bob", Content: "free this weekend?"},
				{ID: 4, Sender: "Alice", Content: "we should go to Piha beach"},
				{ID: 5, Sender: "Bob", Content: "yes!\nlet's"},
			},
		},
		{Candidate: steps.Candidate{MessageID: 9, Sender: "Bob", Content: "we should do the dishes"}},
	}
}

func TestClassify(t *testing.T) {
	stub := &stubMessages{reply: "Here you go:\n```json\n" +
		`[{"message_id": 4, "is_suggestion": true, "activity": "Beach day at Piha", "location": "Piha", "category": "Outdoors", "confidence": 1.4},` +
		`{"message_id": 77, "is_suggestion": true, "activity": "not in batch"}]` +
		"\n```"}
	c := New(stub, WithModel("claude-test"), WithMaxTokens(512))

	got, err := c.Classify(context.Background(), batch())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	t.Run("one result per input in order", func(t *testing.T) {
		if len(got) != 2 || got[0].MessageID != 4 || got[1].MessageID != 9 {
			t.Fatalf("results = %+v", got)
		}
	})

	t.Run("suggestion fields", func(t *testing.T) {
		want := steps.Classification{
			MessageID: 4, IsActivity: true, Activity: "Beach day at Piha",
			Location: "Piha", Category: "outdoors", Confidence: 1,
		}
		if got[0] != want {
			t.Errorf("got %+v, want %+v", got[0], want)
		}
	})

	t.Run("unmentioned candidate is not an activity", func(t *testing.T) {
		if got[1].IsActivity || got[1].Activity != "" {
			t.Errorf("got %+v", got[1])
		}
	})

	t.Run("request", func(t *testing.T) {
		if stub.lastParams.Model != "claude-test" || stub.lastParams.MaxTokens != 512 {
			t.Errorf("model/max tokens = %q/%d", stub.lastParams.Model, stub.lastParams.MaxTokens)
		}
		prompt := stub.prompt(t)
		for _, want := range []string{
			">>> Alice: we should go to Piha beach",
			"    Bob: free this weekend?",
			"    Bob: yes! let's",
			"(id 9)",
			">>> Bob: we should do the dishes",
		} {
			if !strings.Contains(prompt, want) {
				t.Errorf("prompt missing %q:\n%s", want, prompt)
			}
		}
	})
}

func TestClassify_BareArrayReply(t *testing.T) {
	stub := &stubMessages{reply: `Result: [{"message_id": 9, "is_suggestion": false, "activity": null}]`}
	got, err := New(stub).Classify(context.Background(), batch())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(got) != 2 || got[0].IsActivity || got[1].IsActivity {
		t.Errorf("results = %+v", got)
	}
	if stub.lastParams.Model != DefaultModel {
		t.Errorf("model = %q, want default", stub.lastParams.Model)
	}
}

func TestClassify_Errors(t *testing.T) {
	boom := errors.New("overloaded_error")

	tests := []struct {
		name  string
		stub  *stubMessages
		match func(error) bool
	}{
		{"api error wrapped", &stubMessages{err: boom}, func(err error) bool { return errors.Is(err, boom) }},
		{"no json", &stubMessages{reply: "I cannot help with that."}, func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "no JSON array")
		}},
		{"malformed json", &stubMessages{reply: `[{"message_id": "four"}]`}, func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "decode")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stub).Classify(context.Background(), batch())
			if !tt.match(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestClassify_EmptyBatch(t *testing.T) {
	stub := &stubMessages{}
	got, err := New(stub).Classify(context.Background(), nil)
	if err != nil || got != nil || stub.calls != 0 {
		t.Errorf("Classify(nil) = %v, %v after %d calls", got, err, stub.calls)
	}
}

func TestNewFromAPIKey(t *testing.T) {
	if _, err := NewFromAPIKey(""); err == nil {
		t.Error("expected error for empty key")
	}
	c, err := NewFromAPIKey("sk-ant-test", WithModel("claude-x"))
	if err != nil || c.Model() != "claude-x" {
		t.Errorf("NewFromAPIKey = %+v, %v", c, err)
	}
}
