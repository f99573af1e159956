// ABOUTME: Chatbot adapter interface and the default scripted concierge bot
// ABOUTME: The bot is just another writer until a conversation escalates

package chat

import (
	"context"
	"strings"
)

// BotSender is the sender name the bot writes under.
const BotSender = "concierge-bot"

// Bot produces automated replies to visitor messages. Implementations live
// outside this service (an NLU pipeline, an LLM relay); the chat service
// only cares that a reply comes back or an error does.
type Bot interface {
	Reply(ctx context.Context, conversationID, text string) (string, error)
}

// ScriptedBot is the built-in fallback: keyword-matched canned answers for
// the travel-agency FAQ, and a nudge toward a human for anything it cannot
// handle. Also used throughout the tests.
type ScriptedBot struct{}

// Reply matches the visitor's message against a small set of topics.
func (ScriptedBot) Reply(_ context.Context, _ string, text string) (string, error) {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "human", "agent", "person", "someone real"):
		return "I can connect you with one of our travel specialists. Just say the word and I'll escalate this conversation.", nil
	case containsAny(lower, "cancel", "refund"):
		return "Cancellations and refunds depend on the fare rules of your booking. If you share your booking reference, a specialist can review it for you.", nil
	case containsAny(lower, "booking", "reservation", "book"):
		return "I can help with bookings! You can browse offers on our site, or tell me your destination and travel dates.", nil
	case containsAny(lower, "hello", "hi", "hey", "good morning", "good afternoon"):
		return "Hello! Welcome to Tripline. How can I help you plan your next trip?", nil
	default:
		return "I'm not sure I can help with that one. Would you like me to bring in a travel specialist?", nil
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
