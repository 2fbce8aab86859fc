package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
)

// Input is the request payload for the streaming conversation flow. The
// web layer fills OwnerID from the authenticated principal; it is never
// client-supplied.
type Input struct {
	ConversationID string   `json:"conversationId"`
	OwnerID        string   `json:"ownerId"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model,omitempty"`
	ToolServers    []string `json:"toolServers,omitempty"`
}

// Output is the final flow response after the stream completes.
type Output struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
}

// StreamChunk is one streamed text fragment.
type StreamChunk struct {
	Text string `json:"text"`
}

// FlowName is the registered name of the conversation flow.
const FlowName = "parley/chat"

// Flow is the streaming flow type, exported for use with genkit.Handler().
type Flow = core.Flow[Input, Output, StreamChunk]

// The flow registry is global, so the flow is a package singleton;
// defining it twice panics.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the conversation flow singleton, defining it on first
// call. Later calls return the existing flow and ignore the arguments.
func NewFlow(g *genkit.Genkit, o *Orchestrator) *Flow {
	flowOnce.Do(func() {
		flow = o.DefineFlow(g)
	})
	return flow
}

// ResetFlowForTesting clears the singleton so tests can define the flow
// with different dependencies. Not safe for concurrent use.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

// DefineFlow registers the streaming flow. The flow is a thin wrapper: it
// parses identities, adapts the stream callback, and delegates to
// Orchestrator.Stream, which owns locking, persistence, and cancellation
// semantics. Use NewFlow rather than calling this twice.
func (o *Orchestrator) DefineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, StreamChunk) error) (Output, error) {
			conversationID, err := uuid.Parse(input.ConversationID)
			if err != nil {
				return Output{ConversationID: input.ConversationID},
					fmt.Errorf("%w: conversation id %q: %w", ErrValidation, input.ConversationID, err)
			}

			var emit EmitFunc
			if streamCb != nil {
				emit = func(ctx context.Context, text string) error {
					return streamCb(ctx, StreamChunk{Text: text})
				}
			}

			text, err := o.Stream(ctx, StreamRequest{
				ConversationID: conversationID,
				OwnerID:        input.OwnerID,
				Prompt:         input.Prompt,
				ModelName:      input.Model,
				ToolServers:    input.ToolServers,
			}, emit)
			if err != nil {
				return Output{ConversationID: input.ConversationID}, err
			}

			return Output{
				Response:       text,
				ConversationID: input.ConversationID,
			}, nil
		},
	)
}
