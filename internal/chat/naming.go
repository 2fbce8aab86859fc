package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/parleyhq/parley/internal/conversation"
)

const (
	// nameGenerationTimeout bounds the synchronous naming call so a slow
	// provider cannot stall the first stream.
	nameGenerationTimeout = 5 * time.Second

	// nameInputMaxRunes truncates long first messages before sending them
	// to the model.
	nameInputMaxRunes = 500
)

var namePrompt = fmt.Sprintf(
	"Generate a concise title (max %d characters) for a conversation based on this first message.",
	conversation.NameMaxLength) + `
Requirements:
- Capture the main topic or intent
- Use the same language as the message
- No quotes, no trailing punctuation
- Return ONLY the title text

Message: %s`

// generateName asks the model for a short display name based on the first
// user message. Runs once per conversation, synchronously, before the first
// real stream so the name is consistent with the first exchange. Any
// failure returns "" and the conversation keeps its default name.
func (o *Orchestrator) generateName(ctx context.Context, modelName, userMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, nameGenerationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > nameInputMaxRunes {
		userMessage = string(inputRunes[:nameInputMaxRunes]) + "..."
	}

	if err := o.limiter.Wait(ctx); err != nil {
		o.logger.Debug("name generation skipped", "error", err)
		return ""
	}

	response, err := genkit.Generate(ctx, o.g,
		ai.WithPrompt(namePrompt, userMessage),
		ai.WithModelName(modelName))
	if err != nil {
		o.logger.Debug("name generation failed", "error", err)
		return ""
	}

	name := strings.TrimSpace(response.Text())
	if name == "" {
		return ""
	}

	nameRunes := []rune(name)
	if len(nameRunes) > conversation.NameMaxLength {
		name = string(nameRunes[:conversation.NameMaxLength-3]) + "..."
	}
	return name
}
