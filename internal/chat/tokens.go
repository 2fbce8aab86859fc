package chat

import (
	"slices"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// defaultHistoryTokenBudget caps replayed history, leaving room in the
// context window for the system prompt, the new user message, and the
// response.
const defaultHistoryTokenBudget = 8000

// estimateTokens provides a rough token count: rune count divided by 2, a
// conservative estimate that holds for both English (~4 chars/token) and
// CJK (~1.5 chars/token) text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			total += estimateTokens(part.Text)
		}
	}
	return total
}

// truncateHistory drops the oldest non-system messages until the history
// fits the budget. The system seed always survives; recent messages win
// over old ones.
func (o *Orchestrator) truncateHistory(msgs []*ai.Message, budget int) []*ai.Message {
	if len(msgs) == 0 {
		return msgs
	}
	currentTokens := estimateMessagesTokens(msgs)
	if currentTokens <= budget {
		return msgs
	}

	result := make([]*ai.Message, 0, len(msgs))
	startIdx := 0
	if msgs[0].Role == ai.RoleSystem {
		result = append(result, msgs[0])
		startIdx = 1
	}

	remaining := budget - estimateMessagesTokens(result)
	kept := make([]*ai.Message, 0)
	for i := len(msgs) - 1; i >= startIdx; i-- {
		msgTokens := estimateMessagesTokens([]*ai.Message{msgs[i]})
		if remaining < msgTokens {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= msgTokens
	}
	slices.Reverse(kept)
	result = append(result, kept...)

	o.logger.Debug("history truncated",
		"original_count", len(msgs),
		"new_count", len(result),
		"estimated_tokens", currentTokens,
		"budget", budget)
	return result
}
