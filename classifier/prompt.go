package classifier

import (
	"fmt"
	"strings"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/steps"
)

// Categories the model may assign to an activity.
var Categories = []string{"food", "outdoors", "travel", "event", "entertainment", "culture", "shopping", "other"}

const instructions = `The messages below come from a WhatsApp conversation between two people.
Decide for each message marked >>> whether it proposes something to do together:
a place to visit, an activity to try, a trip, or an event to attend.

Not suggestions: chores and errands, work, things that already happened,
vague remarks, and links shared without any intent to go or do.`

const replyFormat = `Reply with a JSON array only, one object per marked message:
[{"message_id": <id>, "is_suggestion": true|false, "activity": "<short description or null>",
  "location": "<specific place name or null>", "category": "<one of: %s>", "confidence": <0.0-1.0>}]
Keep activity under 100 characters.`

// buildPrompt renders every candidate with its surrounding messages, the
// candidate itself prefixed with ">>>".
func buildPrompt(batch []steps.ClassifyInput) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n")

	for i, in := range batch {
		fmt.Fprintf(&sb, "\n--- message %d (id %d)\n", i+1, in.Candidate.MessageID)
		context := in.Context
		if len(context) == 0 {
			context = []chat.Message{{ID: in.Candidate.MessageID, Sender: in.Candidate.Sender, Content: in.Candidate.Content}}
		}
		for _, m := range context {
			marker := "   "
			if m.ID == in.Candidate.MessageID {
				marker = ">>>"
			}
			fmt.Fprintf(&sb, "%s %s: %s\n", marker, m.Sender, oneLine(m.Content))
		}
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, replyFormat, strings.Join(Categories, ", "))
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
