package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/lojasmm/shipbot/internal/quote"
)

const openingMessage = "Hi, I'd like a shipping estimate."

// BuildSystemPrompt returns the policy brief sent with every quote request.
func BuildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are a shipping concierge for parcels and mail sent within Japan.
Today is %s.

RULES:
1. Use the customer's answers to recommend the cheapest option and the fastest option.
2. Estimate arrival dates from the origin, destination, dispatch day and whether express was requested.
3. Standard mail is not delivered on weekends or public holidays; take that into account.
4. Items posted in the evening or after the counter closes are accepted the next day.
5. Keep the explanation short and friendly, suitable for a chat message.

FORMAT:
Write one or two sentences of explanation, then a fenced block exactly like:
`+"```json"+`
{"cheapest":{"name":"...","price":"¥...","date":"Jan 2 (Mon)"},"fastest":{"name":"...","price":"¥...","date":"Jan 2 (Mon)"},"advice":"..."}
`+"```", now.Format("Monday, January 2, 2006"))
}

// BuildPrompt turns a finished questionnaire into a completion request.
// Questions become assistant turns and answers user turns; the final answer
// is sent as the user typed it.
func BuildPrompt(req quote.Request, loc *time.Location) Prompt {
	if loc == nil {
		loc = time.Local
	}

	messages := make([]Message, 0, 2*len(req.Transcript)+1)
	messages = append(messages, Message{Role: RoleUser, Content: openingMessage})
	for i, turn := range req.Transcript {
		answer := turn.Answer
		if i == len(req.Transcript)-1 && strings.TrimSpace(req.Latest) != "" {
			answer = req.Latest
		}
		messages = append(messages,
			Message{Role: RoleAssistant, Content: turn.Question},
			Message{Role: RoleUser, Content: answer},
		)
	}

	return Prompt{
		System:   BuildSystemPrompt(req.Now.In(loc)),
		Messages: messages,
	}
}
