package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for conversation operations. Check with errors.Is().
var (
	// ErrNotFound indicates the conversation does not exist, is deactivated,
	// or is not visible to the requesting owner.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict indicates an optimistic-concurrency version mismatch on
	// the relational aggregate.
	ErrConflict = errors.New("conversation version conflict")

	// ErrStoreDrift indicates the transcript write failed after the
	// relational counters were already committed. The two stores now
	// disagree; this is accepted eventual-consistency drift, logged by the
	// caller and never surfaced to the end user.
	ErrStoreDrift = errors.New("transcript write failed after counter commit")
)

// Role values for transcript turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// NameMaxLength bounds conversation display names.
const NameMaxLength = 80

// DefaultName is the display name a conversation carries until the first
// user turn triggers automatic naming.
const DefaultName = "New conversation"

// Usage holds input/output token counts reported by the LLM provider for a
// single completion.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Add returns the element-wise sum of two usage reports.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Conversation is the relational aggregate: ownership, display name, and
// cumulative token counters. The transcript lives separately in the
// document store under the same identity.
//
// Counters are mutated only by the streaming orchestrator (via
// Adapter.CommitTurn); Version implements optimistic concurrency on the
// relational row.
type Conversation struct {
	ID            uuid.UUID
	OwnerID       string
	Name          string
	InputTokens   int64
	OutputTokens  int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time // soft deactivation; never resurrected
	Version       int64
}

// Active reports whether the conversation has not been deactivated.
func (c *Conversation) Active() bool {
	return c.DeactivatedAt == nil
}

// Turn is one message in a transcript, tagged with a role.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"dateCreated"`
	Tokens    int64     `json:"tokens"`
	Model     string    `json:"model,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// NewTurn creates a turn with a fresh identity and the current time.
func NewTurn(role, content string) Turn {
	return Turn{
		ID:        uuid.New(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Transcript is the ordered list of turns for one conversation, stored as a
// single document in the transcript store. Turn order is append-only and
// reflects wall-clock generation order; the first turn is always the
// system-role seed.
type Transcript struct {
	ConversationID uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Turns          []Turn    `json:"turns"`
}

// SeedOnly reports whether the transcript holds nothing but its system seed
// turn, i.e. the next user prompt is the first real exchange.
func (t *Transcript) SeedOnly() bool {
	return len(t.Turns) == 1 && t.Turns[0].Role == RoleSystem
}

// Append adds turns to the end of the transcript.
func (t *Transcript) Append(turns ...Turn) {
	t.Turns = append(t.Turns, turns...)
}
