package tools

import (
	"context"

	"github.com/google/uuid"
)

// conversationIDKey is an unexported context key for zero-allocation type
// safety.
type conversationIDKey struct{}

// ContextWithConversationID stores the conversation scope in context. The
// orchestrator injects it before invoking the provider so local tools can
// restrict themselves to the conversation's documents.
func ContextWithConversationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, id)
}

// ConversationIDFromContext retrieves the conversation scope. The second
// return is false when no scope was injected, which local tools treat as
// an empty document set rather than an error.
func ConversationIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(conversationIDKey{}).(uuid.UUID)
	return id, ok
}
