// Package tools assembles the callable tool set for a streaming request:
// three fixed local document tools plus tools discovered from remote tool
// servers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/document"
)

// Local tool names as the model sees them.
const (
	ListDocumentsName    = "list_documents"
	DocumentOverviewName = "document_overview"
	SearchDocumentsName  = "search_documents"
)

// DocumentLister reads the documents of one conversation scope.
type DocumentLister interface {
	List(ctx context.Context, conversationID uuid.UUID) ([]*document.Document, error)
	Overview(ctx context.Context, conversationID, documentID uuid.UUID) (string, error)
}

// DocumentSearcher runs semantic search scoped to a conversation.
type DocumentSearcher interface {
	Search(ctx context.Context, scopeID, query string) ([]document.Match, error)
}

// Kit holds the three fixed local document tools. The conversation scope is
// read from the request context, never from tool input, so the model cannot
// reach across conversations.
type Kit struct {
	store    DocumentLister
	searcher DocumentSearcher
	logger   *slog.Logger
}

// NewKit creates a Kit.
func NewKit(store DocumentLister, searcher DocumentSearcher, logger *slog.Logger) *Kit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kit{store: store, searcher: searcher, logger: logger}
}

// DocumentSummary is the list_documents output row.
type DocumentSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PageCount int    `json:"pageCount"`
}

// OverviewInput selects the document to summarize.
type OverviewInput struct {
	DocumentID string `json:"documentId" jsonschema_description:"Identifier of a document previously returned by list_documents"`
}

// SearchInput carries the semantic search query.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"Natural-language description of the content to find"`
}

// Register defines the local tools on g and returns them.
func (k *Kit) Register(g *genkit.Genkit) []ai.Tool {
	return []ai.Tool{
		genkit.DefineTool(g, ListDocumentsName,
			"List the documents attached to this conversation. "+
				"Returns: document identifiers, names, and page counts. "+
				"Use this before document_overview or when the user refers to an uploaded file.",
			k.listDocuments),
		genkit.DefineTool(g, DocumentOverviewName,
			"Read a document's full text, page by page, for summarization. "+
				"Input: a document identifier from list_documents. "+
				"Use this when the user asks about a document as a whole.",
			k.overview),
		genkit.DefineTool(g, SearchDocumentsName,
			"Search this conversation's documents by meaning, not keywords. "+
				"Returns: matching pages grouped by document, closest first. "+
				"An empty result means nothing relevant was found, not an error.",
			k.search),
	}
}

func (k *Kit) listDocuments(ctx *ai.ToolContext, _ struct{}) ([]DocumentSummary, error) {
	scope, ok := ConversationIDFromContext(ctx.Context)
	if !ok {
		return []DocumentSummary{}, nil
	}

	docs, err := k.store.List(ctx.Context, scope)
	if err != nil {
		k.logger.Warn("list_documents failed", "conversation_id", scope, "error", err)
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	out := make([]DocumentSummary, len(docs))
	for i, d := range docs {
		out[i] = DocumentSummary{ID: d.ID.String(), Name: d.Name, PageCount: d.PageCount}
	}
	return out, nil
}

func (k *Kit) overview(ctx *ai.ToolContext, input OverviewInput) (string, error) {
	scope, ok := ConversationIDFromContext(ctx.Context)
	if !ok {
		return "", errors.New("no documents in this conversation")
	}
	documentID, err := uuid.Parse(input.DocumentID)
	if err != nil {
		return "", fmt.Errorf("unknown document %q, call list_documents first", input.DocumentID)
	}

	text, err := k.store.Overview(ctx.Context, scope, documentID)
	if errors.Is(err, document.ErrNotFound) {
		return "", fmt.Errorf("unknown document %q, call list_documents first", input.DocumentID)
	}
	if err != nil {
		k.logger.Warn("document_overview failed", "document_id", documentID, "error", err)
		return "", fmt.Errorf("reading document: %w", err)
	}
	return text, nil
}

func (k *Kit) search(ctx *ai.ToolContext, input SearchInput) ([]document.Match, error) {
	scope, ok := ConversationIDFromContext(ctx.Context)
	if !ok {
		return []document.Match{}, nil
	}

	matches, err := k.searcher.Search(ctx.Context, scope.String(), input.Query)
	if err != nil {
		k.logger.Warn("search_documents failed", "conversation_id", scope, "error", err)
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	return matches, nil
}
