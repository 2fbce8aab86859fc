// Package chat implements the streaming conversation orchestrator. One
// request walks lock acquisition, context loading, optional first-turn
// naming, tool resolution, provider streaming, and the dual-store commit,
// releasing the conversation lock on every exit path.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/locker"
	"github.com/parleyhq/parley/internal/tools"
)

// fallbackResponse is returned when the model produces an empty response.
const fallbackResponse = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

// Sentinel errors for orchestrator operations. Check with errors.Is().
var (
	// ErrBusy indicates another stream currently holds the conversation.
	// Recoverable by caller retry; never retried internally.
	ErrBusy = errors.New("conversation busy")

	// ErrValidation indicates a malformed request, rejected before any
	// lock is taken.
	ErrValidation = errors.New("invalid request")

	// ErrUnknownModel indicates the requested model is not registered.
	ErrUnknownModel = errors.New("unknown model")

	// ErrGenerationFailed indicates the provider call failed or was
	// canceled. Nothing was persisted.
	ErrGenerationFailed = errors.New("generation failed")
)

// ModelRegistry resolves a model name to its capabilities. *config.Config
// satisfies it.
type ModelRegistry interface {
	ModelByName(name string) (config.Model, bool)
}

// StreamRequest is one streaming completion request.
type StreamRequest struct {
	ConversationID uuid.UUID
	OwnerID        string
	Prompt         string
	ModelName      string   // empty selects the configured default
	ToolServers    []string // remote tool servers to consult
}

func (r StreamRequest) validate() error {
	if r.ConversationID == uuid.Nil {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrValidation)
	}
	return nil
}

// EmitFunc receives each text fragment as the provider produces it.
// Returning an error aborts the stream.
type EmitFunc func(ctx context.Context, text string) error

// Config contains the orchestrator's dependencies.
type Config struct {
	Genkit       *genkit.Genkit
	Locks        *locker.Keyring
	Store        *conversation.Adapter
	Tools        *tools.Resolver
	Registry     ModelRegistry
	DefaultModel string
	SystemPrompt string
	MaxTurns     int           // agentic tool-loop bound per request
	RateLimiter  *rate.Limiter // nil gets a default
	Logger       *slog.Logger
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Locks == nil {
		return errors.New("lock keyring is required")
	}
	if cfg.Store == nil {
		return errors.New("conversation store is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool resolver is required")
	}
	if cfg.Registry == nil {
		return errors.New("model registry is required")
	}
	if cfg.DefaultModel == "" {
		return errors.New("default model is required")
	}
	return nil
}

// Orchestrator coordinates one conversation turn end to end. It is
// stateless across requests; all configuration is captured immutably at
// construction so concurrent streams are safe.
type Orchestrator struct {
	g            *genkit.Genkit
	locks        *locker.Keyring
	store        *conversation.Adapter
	tools        *tools.Resolver
	registry     ModelRegistry
	defaultModel string
	systemPrompt string
	maxTurns     int
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = config.DefaultSystemPrompt
	}

	return &Orchestrator{
		g:            cfg.Genkit,
		locks:        cfg.Locks,
		store:        cfg.Store,
		tools:        cfg.Tools,
		registry:     cfg.Registry,
		defaultModel: cfg.DefaultModel,
		systemPrompt: systemPrompt,
		maxTurns:     maxTurns,
		limiter:      limiter,
		logger:       logger,
	}, nil
}

// Stream runs one conversation turn and returns the final assistant text.
//
// The request is validated and its model resolved before the lock is
// taken. A conversation already streaming yields ErrBusy immediately; there
// is no queuing, so a client retrying while a stream is in flight gets an
// explicit rejection instead of a stale queued execution. Cancellation
// aborts the provider stream and persists nothing; text already emitted to
// the caller is not recorded.
func (o *Orchestrator) Stream(ctx context.Context, req StreamRequest, emit EmitFunc) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	modelName := req.ModelName
	if modelName == "" {
		modelName = o.defaultModel
	}
	model, ok := o.registry.ModelByName(modelName)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, modelName)
	}

	handle, err := o.locks.TryAcquire(req.ConversationID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBusy, req.ConversationID)
	}
	defer handle.Release()

	conv, transcript, err := o.store.Load(ctx, req.OwnerID, req.ConversationID)
	if err != nil {
		return "", err
	}

	if transcript.SeedOnly() {
		if name := o.generateName(ctx, model.Name, req.Prompt); name != "" {
			if err := o.store.Rename(ctx, conv.ID, name); err != nil {
				// Naming is cosmetic; the turn proceeds under the default name.
				o.logger.Warn("naming failed", "conversation_id", conv.ID, "error", err)
			} else {
				transcript.Name = name
			}
		}
	}

	// The conversation scope rides the context so local document tools
	// cannot reach across conversations.
	genCtx := tools.ContextWithConversationID(ctx, conv.ID)
	resolved := o.tools.Resolve(genCtx, model.Tools, req.ToolServers)

	messages := o.truncateHistory(toMessages(transcript), defaultHistoryTokenBudget)
	messages = append(messages, &ai.Message{
		Role:    ai.RoleUser,
		Content: []*ai.Part{ai.NewTextPart(req.Prompt)},
	})

	var buf strings.Builder
	streamCb := func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
		for _, part := range chunk.Content {
			if part.Text == "" {
				continue
			}
			if err := emit(cbCtx, part.Text); err != nil {
				return err
			}
			buf.WriteString(part.Text)
		}
		return nil
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(model.Name),
		ai.WithMessages(messages...),
		ai.WithMaxTurns(o.maxTurns),
	}
	if len(resolved) > 0 {
		refs := make([]ai.ToolRef, len(resolved))
		for i, t := range resolved {
			refs[i] = t
		}
		opts = append(opts, ai.WithTools(refs...))
	}
	if emit != nil {
		opts = append(opts, ai.WithStreaming(streamCb))
	}

	resp, err := genkit.Generate(genCtx, o.g, opts...)
	if err != nil {
		// Covers provider failures and cancellation alike: the buffered
		// text is discarded and both stores keep their pre-request state.
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	responseText := resp.Text()
	if strings.TrimSpace(responseText) == "" {
		// Some providers return a bare final message after streaming
		// everything; the accumulated chunks are authoritative then.
		responseText = buf.String()
	}
	if strings.TrimSpace(responseText) == "" {
		o.logger.Warn("model returned empty response", "conversation_id", conv.ID)
		responseText = fallbackResponse
	}

	var delta conversation.Usage
	if resp.Usage != nil {
		delta = conversation.Usage{
			InputTokens:  int64(resp.Usage.InputTokens),
			OutputTokens: int64(resp.Usage.OutputTokens),
		}
	}

	userTurn := conversation.NewTurn(conversation.RoleUser, req.Prompt)
	userTurn.Tokens = delta.InputTokens
	assistantTurn := conversation.NewTurn(conversation.RoleAssistant, responseText)
	assistantTurn.Tokens = delta.OutputTokens
	assistantTurn.Model = model.Name
	assistantTurn.Usage = &delta

	if err := o.store.CommitTurn(ctx, conv, userTurn, assistantTurn, delta); err != nil {
		if errors.Is(err, conversation.ErrStoreDrift) {
			// The generation already succeeded for the caller; the drift is
			// logged inside the adapter and not raised.
			return responseText, nil
		}
		return "", fmt.Errorf("committing turn: %w", err)
	}

	o.logger.Info("stream completed",
		"conversation_id", conv.ID,
		"model", model.Name,
		"input_tokens", delta.InputTokens,
		"output_tokens", delta.OutputTokens)
	return responseText, nil
}

// Busy reports whether a stream currently holds the conversation.
func (o *Orchestrator) Busy(id uuid.UUID) bool {
	return o.locks.IsBusy(id)
}

// Create starts a new conversation for the owner, seeded with the
// configured system prompt.
func (o *Orchestrator) Create(ctx context.Context, ownerID string) (*conversation.Conversation, error) {
	return o.store.Create(ctx, ownerID, o.systemPrompt)
}

// History returns the conversation's transcript.
func (o *Orchestrator) History(ctx context.Context, ownerID string, id uuid.UUID) (*conversation.Transcript, error) {
	return o.store.History(ctx, ownerID, id)
}

// List returns the owner's active conversations, newest first.
func (o *Orchestrator) List(ctx context.Context, ownerID string, limit, offset int32) ([]*conversation.Conversation, error) {
	return o.store.List(ctx, ownerID, limit, offset)
}

// Deactivate soft-deletes one conversation.
func (o *Orchestrator) Deactivate(ctx context.Context, ownerID string, id uuid.UUID) error {
	return o.store.Deactivate(ctx, ownerID, id)
}

// DeactivateAll soft-deletes every active conversation the owner has.
func (o *Orchestrator) DeactivateAll(ctx context.Context, ownerID string) (int64, error) {
	return o.store.DeactivateAll(ctx, ownerID)
}

// toMessages converts transcript turns to provider messages.
func toMessages(t *conversation.Transcript) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(t.Turns))
	for _, turn := range t.Turns {
		var role ai.Role
		switch turn.Role {
		case conversation.RoleSystem:
			role = ai.RoleSystem
		case conversation.RoleAssistant:
			role = ai.RoleModel
		case conversation.RoleTool:
			role = ai.RoleTool
		default:
			role = ai.RoleUser
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(turn.Content)},
		})
	}
	return msgs
}
