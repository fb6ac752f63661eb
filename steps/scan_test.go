package steps

import (
	"testing"

	"github.com/dshills/chatpipe/chat"
)

func msg(id int, content string) chat.Message {
	return chat.Message{ID: id, Sender: "Alice", Content: content, URLs: chat.ExtractURLs(content)}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name    string
		content string
		source  string // empty means no candidate
	}{
		{"we should", "We should do the Tongariro crossing", "regex:we_should"},
		{"we should not", "we should not go there again", ""},
		{"lets go home", "let's go home now", ""},
		{"lets go", "lets go to the night market", "regex:lets_go"},
		{"bucket list", "adding this to the bucketlist", "regex:bucket_list"},
		{"chores excluded", "we should do the laundry", ""},
		{"maps link", "https://maps.app.goo.gl/abc", "url:google_maps"},
		{"event link beats tiktok", "tickets! https://www.eventfinda.co.nz/x https://vt.tiktok.com/y", "url:event"},
		{"bare tiktok", "https://vt.tiktok.com/y", ""},
		{"plain website", "https://example.com/recipe", ""},
		{"small talk", "how was your day", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, stats := Scan([]chat.Message{msg(7, tt.content)})
			if tt.source == "" {
				if len(cands) != 0 {
					t.Errorf("Scan(%q) = %+v, want no candidate", tt.content, cands)
				}
				return
			}
			if len(cands) != 1 {
				t.Fatalf("Scan(%q) returned %d candidates, want 1", tt.content, len(cands))
			}
			if cands[0].Source != tt.source || cands[0].MessageID != 7 {
				t.Errorf("candidate = %+v, want source %s", cands[0], tt.source)
			}
			if stats.Candidates != 1 || stats.Messages != 1 {
				t.Errorf("stats = %+v", stats)
			}
		})
	}
}

func TestScan_Confidence(t *testing.T) {
	cands, _ := Scan([]chat.Message{
		msg(0, "we should go to the beach"),
		msg(1, "we should catch up"),
		msg(2, "we should check this out https://airbnb.com/rooms/1"),
	})
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	if cands[0].Confidence <= cands[1].Confidence {
		t.Errorf("activity keyword should boost confidence: %.2f <= %.2f", cands[0].Confidence, cands[1].Confidence)
	}
	for _, c := range cands {
		if c.Confidence > 1 {
			t.Errorf("confidence %.2f exceeds 1", c.Confidence)
		}
	}
}

func TestScan_SkipsMediaAndCountsExclusions(t *testing.T) {
	messages := []chat.Message{
		{ID: 0, Content: "image omitted", HasMedia: true, MediaType: "image"},
		msg(1, "pay the power bill"),
		msg(2, "we could try the new cafe"),
	}
	cands, stats := Scan(messages)
	if len(cands) != 1 || cands[0].MessageID != 2 {
		t.Fatalf("unexpected candidates %+v", cands)
	}
	want := ScanStats{Messages: 3, Candidates: 1, Regex: 1, Excluded: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestBatchInputs(t *testing.T) {
	messages := make([]chat.Message, 10)
	for i := range messages {
		messages[i] = chat.Message{ID: i}
	}
	cands := []Candidate{{MessageID: 0}, {MessageID: 5}, {MessageID: 9}}

	batches := batchInputs(messages, cands, 2, 2)
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("unexpected batch shape %v", batches)
	}
	if n := len(batches[0][0].Context); n != 3 {
		t.Errorf("context at start = %d messages, want 3", n)
	}
	if n := len(batches[0][1].Context); n != 5 {
		t.Errorf("context in middle = %d messages, want 5", n)
	}
	if ctx := batches[1][0].Context; len(ctx) != 3 || ctx[2].ID != 9 {
		t.Errorf("context at end = %+v", ctx)
	}
}
