package document

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// Fixed search semantics. Both values are contract, not tuning knobs:
// pages further than DistanceThreshold from the query are never relevant
// enough to ground a response, and MaxPages bounds the context handed to
// the model.
const (
	// DistanceThreshold is the maximum cosine distance for a page to count
	// as a match. Lower distance means more similar.
	DistanceThreshold = 0.5

	// MaxPages caps the number of pages returned across all documents.
	MaxPages = 10
)

// PageQuerier runs the nearest-neighbor page query for one conversation
// scope. Implementations return hits ordered ascending by distance; the
// Searcher enforces the threshold and cap regardless.
type PageQuerier interface {
	Nearest(ctx context.Context, conversationID uuid.UUID, embedding []float32) ([]PageHit, error)
}

// Searcher performs embedding-based semantic search over the pages of a
// conversation's documents.
type Searcher struct {
	embedder ai.Embedder
	pages    PageQuerier
	logger   *slog.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder ai.Embedder, pages PageQuerier, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{embedder: embedder, pages: pages, logger: logger}
}

// Search embeds the query once, ranks the scope's pages by cosine distance,
// keeps pages within DistanceThreshold, takes the MaxPages closest across
// all documents, and groups the survivors by parent document with each
// group's pages ordered ascending by distance.
//
// A missing or malformed scope identifier yields an empty result, never an
// error: the caller is the model, which must read "nothing relevant found"
// rather than a failure.
func (s *Searcher) Search(ctx context.Context, scopeID, query string) ([]Match, error) {
	conversationID, err := uuid.Parse(scopeID)
	if err != nil {
		s.logger.Debug("search skipped, unusable scope", "scope", scopeID)
		return []Match{}, nil
	}
	if query == "" {
		return []Match{}, nil
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}

	hits, err := s.pages.Nearest(ctx, conversationID, resp.Embeddings[0].Embedding)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}

	return rank(hits), nil
}

// rank applies the threshold and global cap, then groups by document.
// Group order follows each document's best page; page order within a group
// is ascending by distance.
func rank(hits []PageHit) []Match {
	kept := make([]PageHit, 0, len(hits))
	for _, h := range hits {
		if h.Distance <= DistanceThreshold {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Distance < kept[j].Distance })
	if len(kept) > MaxPages {
		kept = kept[:MaxPages]
	}

	matches := []Match{}
	index := make(map[uuid.UUID]int)
	for _, h := range kept {
		i, ok := index[h.DocumentID]
		if !ok {
			i = len(matches)
			index[h.DocumentID] = i
			matches = append(matches, Match{
				DocumentID:   h.DocumentID,
				DocumentName: h.DocumentName,
			})
		}
		matches[i].Pages = append(matches[i].Pages, PageMatch{
			Number:   h.Number,
			Content:  h.Content,
			Distance: h.Distance,
		})
	}
	return matches
}
