package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// overviewRuneLimit bounds how much page text Overview hands back to the
// model in one call.
const overviewRuneLimit = 8000

// PostgresStore persists documents and their embedded pages, and implements
// PageQuerier with a pgvector nearest-neighbor query.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, embedder: embedder, logger: logger}
}

// Ingest stores a document and its pages, embedding every page in a single
// batch request. Pages are numbered 1..n in the order given and their
// embeddings are never recomputed afterwards.
func (s *PostgresStore) Ingest(ctx context.Context, conversationID uuid.UUID, name string, pages []string) (*Document, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("document %q has no pages", name)
	}

	input := make([]*ai.Document, len(pages))
	for i, content := range pages {
		input[i] = ai.DocumentFromText(content, nil)
	}
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embedding pages of %q: %w", name, err)
	}
	if len(resp.Embeddings) != len(pages) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d pages", len(resp.Embeddings), len(pages))
	}

	doc := &Document{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Name:           name,
		PageCount:      len(pages),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning ingest: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO documents (id, conversation_id, name, page_count)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		doc.ID, doc.ConversationID, doc.Name, doc.PageCount)
	if err := row.Scan(&doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	for i, content := range pages {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_pages (id, document_id, page_number, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), doc.ID, i+1, content,
			pgvector.NewVector(resp.Embeddings[i].Embedding))
		if err != nil {
			return nil, fmt.Errorf("inserting page %d of %q: %w", i+1, name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing ingest: %w", err)
	}

	s.logger.Info("ingested document",
		"document_id", doc.ID,
		"conversation_id", conversationID,
		"pages", len(pages))
	return doc, nil
}

// Nearest returns the pages of the conversation's documents closest to the
// query vector. The threshold and cap are applied in SQL so large corpora
// never cross the wire; the Searcher re-checks them anyway.
func (s *PostgresStore) Nearest(ctx context.Context, conversationID uuid.UUID, embedding []float32) ([]PageHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.document_id, d.name, p.page_number, p.content,
		       p.embedding <=> $2 AS distance
		FROM document_pages p
		JOIN documents d ON d.id = p.document_id
		WHERE d.conversation_id = $1
		  AND p.embedding <=> $2 <= $3
		ORDER BY distance
		LIMIT $4`,
		conversationID, pgvector.NewVector(embedding), DistanceThreshold, MaxPages)
	if err != nil {
		return nil, fmt.Errorf("querying nearest pages: %w", err)
	}
	defer rows.Close()

	var hits []PageHit
	for rows.Next() {
		var h PageHit
		if err := rows.Scan(&h.DocumentID, &h.DocumentName, &h.Number, &h.Content, &h.Distance); err != nil {
			return nil, fmt.Errorf("scanning page hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating page hits: %w", err)
	}
	return hits, nil
}

// List returns the documents attached to a conversation, newest first.
func (s *PostgresStore) List(ctx context.Context, conversationID uuid.UUID) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, name, page_count, created_at
		FROM documents
		WHERE conversation_id = $1
		ORDER BY created_at DESC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &doc.ConversationID, &doc.Name, &doc.PageCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// Overview returns the document's page text in page order, truncated to a
// size the model can summarize in one pass. The document must belong to the
// conversation scope.
func (s *PostgresStore) Overview(ctx context.Context, conversationID, documentID uuid.UUID) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT name FROM documents
		WHERE id = $1 AND conversation_id = $2`,
		documentID, conversationID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("selecting document %s: %w", documentID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT page_number, content
		FROM document_pages
		WHERE document_id = $1
		ORDER BY page_number`,
		documentID)
	if err != nil {
		return "", fmt.Errorf("reading pages of %s: %w", documentID, err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("\n")
	total := len([]rune(name)) + 1
	for rows.Next() {
		var number int
		var content string
		if err := rows.Scan(&number, &content); err != nil {
			return "", fmt.Errorf("scanning page: %w", err)
		}
		fragment := fmt.Sprintf("\n[page %d]\n%s\n", number, content)
		runes := []rune(fragment)
		if total+len(runes) > overviewRuneLimit {
			b.WriteString(string(runes[:overviewRuneLimit-total]))
			break
		}
		b.WriteString(fragment)
		total += len(runes)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating pages: %w", err)
	}
	return b.String(), nil
}
