package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/document"
)

// mockStore implements DocumentLister.
type mockStore struct {
	docs        []*document.Document
	overview    string
	listErr     error
	overviewErr error

	lastScope    uuid.UUID
	lastDocument uuid.UUID
}

func (m *mockStore) List(_ context.Context, conversationID uuid.UUID) ([]*document.Document, error) {
	m.lastScope = conversationID
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.docs, nil
}

func (m *mockStore) Overview(_ context.Context, conversationID, documentID uuid.UUID) (string, error) {
	m.lastScope = conversationID
	m.lastDocument = documentID
	if m.overviewErr != nil {
		return "", m.overviewErr
	}
	return m.overview, nil
}

// mockSearcher implements DocumentSearcher.
type mockSearcher struct {
	matches   []document.Match
	searchErr error
	lastScope string
	lastQuery string
}

func (m *mockSearcher) Search(_ context.Context, scopeID, query string) ([]document.Match, error) {
	m.lastScope = scopeID
	m.lastQuery = query
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.matches, nil
}

func toolCtx(scope uuid.UUID) *ai.ToolContext {
	return &ai.ToolContext{Context: ContextWithConversationID(context.Background(), scope)}
}

func TestListDocuments(t *testing.T) {
	scope := uuid.New()

	t.Run("returns summaries scoped to the conversation", func(t *testing.T) {
		store := &mockStore{docs: []*document.Document{
			{ID: uuid.New(), Name: "report.pdf", PageCount: 12},
			{ID: uuid.New(), Name: "notes.md", PageCount: 1},
		}}
		kit := NewKit(store, &mockSearcher{}, nil)

		out, err := kit.listDocuments(toolCtx(scope), struct{}{})
		if err != nil {
			t.Fatalf("listDocuments: %v", err)
		}
		if store.lastScope != scope {
			t.Errorf("queried scope %s, want %s", store.lastScope, scope)
		}
		if len(out) != 2 || out[0].Name != "report.pdf" || out[1].PageCount != 1 {
			t.Errorf("summaries = %+v", out)
		}
	})

	t.Run("missing scope yields empty list", func(t *testing.T) {
		store := &mockStore{docs: []*document.Document{{ID: uuid.New()}}}
		kit := NewKit(store, &mockSearcher{}, nil)

		out, err := kit.listDocuments(&ai.ToolContext{Context: context.Background()}, struct{}{})
		if err != nil || len(out) != 0 {
			t.Fatalf("got (%v, %v), want empty list", out, err)
		}
	})
}

func TestOverview(t *testing.T) {
	scope := uuid.New()
	docID := uuid.New()

	t.Run("returns document text", func(t *testing.T) {
		store := &mockStore{overview: "report.pdf\n[page 1]\nrevenue grew"}
		kit := NewKit(store, &mockSearcher{}, nil)

		text, err := kit.overview(toolCtx(scope), OverviewInput{DocumentID: docID.String()})
		if err != nil {
			t.Fatalf("overview: %v", err)
		}
		if store.lastDocument != docID {
			t.Errorf("read document %s, want %s", store.lastDocument, docID)
		}
		if !strings.Contains(text, "revenue grew") {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("malformed id tells the model to list first", func(t *testing.T) {
		kit := NewKit(&mockStore{}, &mockSearcher{}, nil)

		_, err := kit.overview(toolCtx(scope), OverviewInput{DocumentID: "report.pdf"})
		if err == nil || !strings.Contains(err.Error(), "list_documents") {
			t.Fatalf("got %v, want hint to call list_documents", err)
		}
	})

	t.Run("unknown document maps the same way", func(t *testing.T) {
		store := &mockStore{overviewErr: document.ErrNotFound}
		kit := NewKit(store, &mockSearcher{}, nil)

		_, err := kit.overview(toolCtx(scope), OverviewInput{DocumentID: docID.String()})
		if err == nil || !strings.Contains(err.Error(), "list_documents") {
			t.Fatalf("got %v, want hint to call list_documents", err)
		}
	})
}

func TestSearchTool(t *testing.T) {
	scope := uuid.New()

	t.Run("delegates with the conversation scope", func(t *testing.T) {
		searcher := &mockSearcher{matches: []document.Match{{DocumentName: "report.pdf"}}}
		kit := NewKit(&mockStore{}, searcher, nil)

		matches, err := kit.search(toolCtx(scope), SearchInput{Query: "revenue"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if searcher.lastScope != scope.String() || searcher.lastQuery != "revenue" {
			t.Errorf("searched (%q, %q)", searcher.lastScope, searcher.lastQuery)
		}
		if len(matches) != 1 {
			t.Errorf("matches = %+v", matches)
		}
	})

	t.Run("missing scope yields empty result", func(t *testing.T) {
		searcher := &mockSearcher{matches: []document.Match{{DocumentName: "x"}}}
		kit := NewKit(&mockStore{}, searcher, nil)

		matches, err := kit.search(&ai.ToolContext{Context: context.Background()}, SearchInput{Query: "q"})
		if err != nil || len(matches) != 0 {
			t.Fatalf("got (%v, %v), want empty result", matches, err)
		}
	})

	t.Run("searcher failure propagates", func(t *testing.T) {
		searcher := &mockSearcher{searchErr: errors.New("db down")}
		kit := NewKit(&mockStore{}, searcher, nil)

		if _, err := kit.search(toolCtx(scope), SearchInput{Query: "q"}); err == nil {
			t.Fatal("expected error")
		}
	})
}
