package document

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"
)

// mockEmbedder implements ai.Embedder with a fixed vector and error
// injection.
type mockEmbedder struct {
	vector    []float32
	embedErr  error
	callCount int
	lastText  string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastText = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range embeddings {
		embeddings[i] = &ai.Embedding{Embedding: m.vector}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// mockPages implements PageQuerier.
type mockPages struct {
	hits       []PageHit
	nearestErr error
	callCount  int
	lastScope  uuid.UUID
}

func (m *mockPages) Nearest(_ context.Context, conversationID uuid.UUID, _ []float32) ([]PageHit, error) {
	m.callCount++
	m.lastScope = conversationID
	if m.nearestErr != nil {
		return nil, m.nearestErr
	}
	return m.hits, nil
}

func newTestSearcher(hits []PageHit) (*Searcher, *mockEmbedder, *mockPages) {
	embedder := &mockEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	pages := &mockPages{hits: hits}
	return NewSearcher(embedder, pages, nil), embedder, pages
}

func hit(doc uuid.UUID, name string, page int, distance float64) PageHit {
	return PageHit{DocumentID: doc, DocumentName: name, Number: page, Distance: distance}
}

func TestSearch(t *testing.T) {
	scope := uuid.New()

	t.Run("groups pages by document ordered by distance", func(t *testing.T) {
		docA, docB := uuid.New(), uuid.New()
		searcher, embedder, pages := newTestSearcher([]PageHit{
			hit(docA, "report.pdf", 3, 0.12),
			hit(docB, "notes.md", 1, 0.20),
			hit(docA, "report.pdf", 7, 0.31),
		})

		matches, err := searcher.Search(context.Background(), scope.String(), "quarterly revenue")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}

		if embedder.lastText != "quarterly revenue" {
			t.Errorf("embedded %q", embedder.lastText)
		}
		if pages.lastScope != scope {
			t.Errorf("queried scope %s, want %s", pages.lastScope, scope)
		}

		if len(matches) != 2 {
			t.Fatalf("got %d matches, want 2", len(matches))
		}
		// docA carries the globally closest page, so its group comes first.
		if matches[0].DocumentID != docA || matches[1].DocumentID != docB {
			t.Errorf("group order = %s, %s", matches[0].DocumentName, matches[1].DocumentName)
		}
		if len(matches[0].Pages) != 2 {
			t.Fatalf("docA has %d pages, want 2", len(matches[0].Pages))
		}
		if matches[0].Pages[0].Number != 3 || matches[0].Pages[1].Number != 7 {
			t.Errorf("docA pages = %d, %d; want 3, 7", matches[0].Pages[0].Number, matches[0].Pages[1].Number)
		}
		for _, m := range matches {
			for i := 1; i < len(m.Pages); i++ {
				if m.Pages[i].Distance < m.Pages[i-1].Distance {
					t.Errorf("pages of %s not ascending by distance", m.DocumentName)
				}
			}
		}
	})

	t.Run("drops pages beyond the distance threshold", func(t *testing.T) {
		doc := uuid.New()
		searcher, _, _ := newTestSearcher([]PageHit{
			hit(doc, "a.pdf", 1, 0.49),
			hit(doc, "a.pdf", 2, 0.50),
			hit(doc, "a.pdf", 3, 0.51),
			hit(doc, "a.pdf", 4, 0.95),
		})

		matches, err := searcher.Search(context.Background(), scope.String(), "q")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(matches) != 1 || len(matches[0].Pages) != 2 {
			t.Fatalf("matches = %+v, want the two pages at distance <= 0.5", matches)
		}
	})

	t.Run("caps results at ten pages globally", func(t *testing.T) {
		var hits []PageHit
		for i := 0; i < 25; i++ {
			hits = append(hits, hit(uuid.New(), "doc", 1, float64(i)*0.01))
		}
		searcher, _, _ := newTestSearcher(hits)

		matches, err := searcher.Search(context.Background(), scope.String(), "q")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		total := 0
		for _, m := range matches {
			total += len(m.Pages)
		}
		if total != MaxPages {
			t.Errorf("returned %d pages, want %d", total, MaxPages)
		}
	})

	t.Run("malformed scope returns empty, not error", func(t *testing.T) {
		searcher, embedder, _ := newTestSearcher([]PageHit{hit(uuid.New(), "a", 1, 0.1)})

		for _, scopeID := range []string{"", "not-a-uuid", "123"} {
			matches, err := searcher.Search(context.Background(), scopeID, "q")
			if err != nil {
				t.Errorf("scope %q: unexpected error %v", scopeID, err)
			}
			if len(matches) != 0 {
				t.Errorf("scope %q: got %d matches, want 0", scopeID, len(matches))
			}
		}
		if embedder.callCount != 0 {
			t.Errorf("embedder called %d times for unusable scopes", embedder.callCount)
		}
	})

	t.Run("empty query returns empty without embedding", func(t *testing.T) {
		searcher, embedder, _ := newTestSearcher(nil)

		matches, err := searcher.Search(context.Background(), scope.String(), "")
		if err != nil || len(matches) != 0 {
			t.Fatalf("got (%v, %v), want empty result", matches, err)
		}
		if embedder.callCount != 0 {
			t.Error("embedder called for empty query")
		}
	})

	t.Run("no matching pages returns empty", func(t *testing.T) {
		searcher, _, _ := newTestSearcher(nil)

		matches, err := searcher.Search(context.Background(), scope.String(), "q")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(matches) != 0 {
			t.Errorf("got %d matches, want 0", len(matches))
		}
	})

	t.Run("embedder failure is an error", func(t *testing.T) {
		searcher, embedder, pages := newTestSearcher(nil)
		embedder.embedErr = errors.New("provider down")

		if _, err := searcher.Search(context.Background(), scope.String(), "q"); err == nil {
			t.Fatal("expected error")
		}
		if pages.callCount != 0 {
			t.Error("page query ran despite embed failure")
		}
	})

	t.Run("page query failure is an error", func(t *testing.T) {
		searcher, _, pages := newTestSearcher(nil)
		pages.nearestErr = errors.New("db down")

		if _, err := searcher.Search(context.Background(), scope.String(), "q"); err == nil {
			t.Fatal("expected error")
		}
	})
}
