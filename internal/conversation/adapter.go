package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RelationalStore is the aggregate side: authoritative ownership and
// cumulative token counters, cheap to filter and paginate.
// Interfaces are defined by the consumer; the pgx implementation lives in
// this package, mocks live in tests.
type RelationalStore interface {
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*Conversation, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	// AddUsage atomically increments both counters and bumps the version.
	// Returns ErrConflict when version does not match the current row.
	AddUsage(ctx context.Context, id uuid.UUID, version int64, delta Usage) error
	Deactivate(ctx context.Context, ownerID string, id uuid.UUID) error
	DeactivateAll(ctx context.Context, ownerID string) (int64, error)
	List(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error)
}

// TranscriptStore is the document side: the full transcript as one blob,
// point read/write by conversation identity.
type TranscriptStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Transcript, error)
	Put(ctx context.Context, transcript *Transcript) error
}

// Adapter reconciles reads and writes across the relational aggregate store
// and the document transcript store. The two are not transactionally
// linked: counters are written first (smaller, billing-relevant write), the
// transcript second. A transcript failure after the counters committed is
// surfaced as ErrStoreDrift, which callers log but do not raise to the
// user. Exact token precision is secondary to conversational continuity.
type Adapter struct {
	rel    RelationalStore
	docs   TranscriptStore
	logger *slog.Logger
}

// NewAdapter creates an Adapter over the two stores.
func NewAdapter(rel RelationalStore, docs TranscriptStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{rel: rel, docs: docs, logger: logger}
}

// Create creates a new conversation for ownerID and seeds its transcript
// with the system prompt. The relational row is written first so a failed
// transcript seed never leaves an orphan document.
func (a *Adapter) Create(ctx context.Context, ownerID, systemPrompt string) (*Conversation, error) {
	conv := &Conversation{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Name:    DefaultName,
	}
	if err := a.rel.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	transcript := &Transcript{
		ConversationID: conv.ID,
		Name:           conv.Name,
		Turns:          []Turn{NewTurn(RoleSystem, systemPrompt)},
	}
	if err := a.docs.Put(ctx, transcript); err != nil {
		return nil, fmt.Errorf("seeding transcript: %w", err)
	}

	a.logger.Debug("created conversation", "id", conv.ID, "owner", ownerID)
	return conv, nil
}

// Load fetches the aggregate and its transcript, scoped to the requesting
// owner. Missing or deactivated conversations yield ErrNotFound, as does a
// missing transcript document (the identities are 1:1).
func (a *Adapter) Load(ctx context.Context, ownerID string, id uuid.UUID) (*Conversation, *Transcript, error) {
	conv, err := a.rel.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	transcript, err := a.docs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, transcript, nil
}

// CommitTurn persists one completed exchange: the relational counters first,
// then the user and assistant turns appended to the transcript.
//
// If the transcript write fails after the counters committed, the counters
// overcount relative to the transcript. That drift is returned as
// ErrStoreDrift so the orchestrator can log it; it is never retried here.
func (a *Adapter) CommitTurn(ctx context.Context, conv *Conversation, userTurn, assistantTurn Turn, delta Usage) error {
	if err := a.rel.AddUsage(ctx, conv.ID, conv.Version, delta); err != nil {
		return fmt.Errorf("committing usage counters: %w", err)
	}

	transcript, err := a.docs.Get(ctx, conv.ID)
	if err == nil {
		transcript.Append(userTurn, assistantTurn)
		err = a.docs.Put(ctx, transcript)
	}
	if err != nil {
		a.logger.Error("transcript append failed after counters committed",
			"conversation_id", conv.ID,
			"input_tokens", delta.InputTokens,
			"output_tokens", delta.OutputTokens,
			"error", err)
		return fmt.Errorf("%w: %w", ErrStoreDrift, err)
	}

	a.logger.Debug("committed turn",
		"conversation_id", conv.ID,
		"input_tokens", delta.InputTokens,
		"output_tokens", delta.OutputTokens)
	return nil
}

// Rename updates the display name in both stores, relational first. The
// document-side name is a denormalized mirror for self-contained history
// reads; a failure there is drift of the same accepted kind as CommitTurn.
func (a *Adapter) Rename(ctx context.Context, id uuid.UUID, name string) error {
	if len([]rune(name)) > NameMaxLength {
		name = string([]rune(name)[:NameMaxLength])
	}
	if err := a.rel.Rename(ctx, id, name); err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}

	transcript, err := a.docs.Get(ctx, id)
	if err == nil {
		transcript.Name = name
		err = a.docs.Put(ctx, transcript)
	}
	if err != nil {
		a.logger.Error("transcript rename failed after relational rename",
			"conversation_id", id, "error", err)
		return fmt.Errorf("%w: %w", ErrStoreDrift, err)
	}
	return nil
}

// History returns the transcript for history-retrieval consumers, after an
// owner-scoped existence check against the relational store.
func (a *Adapter) History(ctx context.Context, ownerID string, id uuid.UUID) (*Transcript, error) {
	if _, err := a.rel.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return a.docs.Get(ctx, id)
}

// List returns the owner's active conversations, newest first.
func (a *Adapter) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error) {
	return a.rel.List(ctx, ownerID, limit, offset)
}

// Deactivate soft-deletes one conversation. Deactivated conversations are
// never resurrected and disappear from Load and List.
func (a *Adapter) Deactivate(ctx context.Context, ownerID string, id uuid.UUID) error {
	return a.rel.Deactivate(ctx, ownerID, id)
}

// DeactivateAll soft-deletes every active conversation the owner has and
// returns how many were affected.
func (a *Adapter) DeactivateAll(ctx context.Context, ownerID string) (int64, error) {
	return a.rel.DeactivateAll(ctx, ownerID)
}
